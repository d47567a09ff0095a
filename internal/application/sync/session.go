// Package sync bridges the ledger and the UI: optimistic snapshots,
// debounced reconciliation against the authoritative total, and per-session
// celebration de-duplication.
package sync

import (
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// Session holds per-UI-session state. It is created when a client surface
// attaches and discarded when it goes away; nothing in it is persisted, so a
// level-up celebration can legitimately replay in a later session.
type Session struct {
	userID shared.UserID

	// version tags every published snapshot. Monotonically increasing, so
	// subscribers and the coordinator itself can discard stale deliveries.
	version uint64

	// displayedLevel is the highest level the UI has already rendered.
	displayedLevel shared.Level

	// shownLevelUps records levels already celebrated in this session.
	shownLevelUps map[shared.Level]struct{}

	// shownLevelDowns records drops already notified in this session, keyed
	// by the level that was lost.
	shownLevelDowns map[shared.Level]struct{}
}

// NewSession creates a session starting from the level the UI currently
// shows. Pass shared.MinLevel for a fresh surface.
func NewSession(userID shared.UserID, displayedLevel shared.Level) *Session {
	if displayedLevel < shared.MinLevel {
		displayedLevel = shared.MinLevel
	}
	return &Session{
		userID:          userID,
		displayedLevel:  displayedLevel,
		shownLevelUps:   make(map[shared.Level]struct{}),
		shownLevelDowns: make(map[shared.Level]struct{}),
	}
}

// UserID returns the session owner.
func (s *Session) UserID() shared.UserID {
	return s.userID
}

// nextVersion hands out the next snapshot version. Caller holds the
// coordinator lock.
func (s *Session) nextVersion() uint64 {
	s.version++
	return s.version
}

// currentVersion returns the latest issued version. Caller holds the
// coordinator lock.
func (s *Session) currentVersion() uint64 {
	return s.version
}

// shouldCelebrate applies the celebration gate: the transition must be an
// actual level-up, the level must not have been celebrated this session, and
// it must exceed what the UI already displays. All three, or nothing fires.
func (s *Session) shouldCelebrate(leveledUp bool, newLevel shared.Level) bool {
	if !leveledUp {
		return false
	}
	if _, seen := s.shownLevelUps[newLevel]; seen {
		return false
	}
	return newLevel > s.displayedLevel
}

// markCelebrated records that the celebration for newLevel fired and that
// the UI now displays it.
func (s *Session) markCelebrated(newLevel shared.Level) {
	s.shownLevelUps[newLevel] = struct{}{}
	if newLevel > s.displayedLevel {
		s.displayedLevel = newLevel
	}
}

// shouldNotifyLevelDown mirrors shouldCelebrate for drops: the transition
// must be an actual level-down, the lost level must not have been notified
// this session, and the new level must undercut what the UI displays.
func (s *Session) shouldNotifyLevelDown(leveledDown bool, fromLevel, newLevel shared.Level) bool {
	if !leveledDown {
		return false
	}
	if _, seen := s.shownLevelDowns[fromLevel]; seen {
		return false
	}
	return newLevel < s.displayedLevel
}

// markLevelDown records that the drop from fromLevel was notified and that
// the UI now displays newLevel.
func (s *Session) markLevelDown(fromLevel, newLevel shared.Level) {
	s.shownLevelDowns[fromLevel] = struct{}{}
	s.displayedLevel = newLevel
}

// observeLevel moves displayedLevel without celebrating, for reconciliations
// and unnotified level-downs.
func (s *Session) observeLevel(l shared.Level) {
	s.displayedLevel = l
}
