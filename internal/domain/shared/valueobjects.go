// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents a cumulative experience-point total. 64-bit so that years of
// multiplied awards cannot overflow.
type XP int64

// MinXP is the floor for a total: subtraction never takes a user below zero.
const MinXP XP = 0

// IsValid checks if the XP total is within valid range.
func (x XP) IsValid() bool {
	return x >= MinXP
}

// Int64 returns the underlying int64 value.
func (x XP) Int64() int64 {
	return int64(x)
}

// Add applies a signed delta and returns the result, floored at MinXP.
func (x XP) Add(delta int64) XP {
	result := XP(int64(x) + delta)
	if result < MinXP {
		return MinXP
	}
	return result
}

// ClampedDelta returns the delta that Add would actually apply, after
// flooring. For awards this equals delta; for subtractions that would cross
// zero it is -x.
func (x XP) ClampedDelta(delta int64) int64 {
	return int64(x.Add(delta)) - int64(x)
}

// NewXP creates a new XP total with validation.
func NewXP(total int64) (XP, error) {
	if total < int64(MinXP) {
		return 0, NewDomainError("shared", "NewXP", ErrNegativeValue, "XP total cannot be negative")
	}
	return XP(total), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Level represents a derived level. The mapping from XP to Level lives in
// the level package; this type only carries the number around.
type Level int

// MinLevel is the floor level: zero XP is already level 1.
const MinLevel Level = 1

// IsValid checks if the level is within valid range.
func (l Level) IsValid() bool {
	return l >= MinLevel
}

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// ═══════════════════════════════════════════════════════════════════════════
// Source Value Object (XP source tags)
// ═══════════════════════════════════════════════════════════════════════════

// Source identifies the feature that originated an XP transaction. Used for
// auditing and reporting only; it never alters ledger semantics.
type Source string

const (
	SourceHabitCompletion   Source = "habit_completion"
	SourceHabitBonus        Source = "habit_bonus"
	SourceJournalEntry      Source = "journal_entry"
	SourceJournalBonus      Source = "journal_bonus"
	SourceGoalProgress      Source = "goal_progress"
	SourceGoalCompletion    Source = "goal_completion"
	SourceStreakMilestone   Source = "streak_milestone"
	SourceAchievementUnlock Source = "achievement_unlock"
	SourceMultiplierBonus   Source = "multiplier_bonus"
	SourcePenalty           Source = "penalty"
	SourceCorrection        Source = "correction"
)

// knownSources is the closed enumeration of valid source tags.
var knownSources = map[Source]struct{}{
	SourceHabitCompletion:   {},
	SourceHabitBonus:        {},
	SourceJournalEntry:      {},
	SourceJournalBonus:      {},
	SourceGoalProgress:      {},
	SourceGoalCompletion:    {},
	SourceStreakMilestone:   {},
	SourceAchievementUnlock: {},
	SourceMultiplierBonus:   {},
	SourcePenalty:           {},
	SourceCorrection:        {},
}

// IsValid checks if the source tag belongs to the known enumeration.
func (s Source) IsValid() bool {
	_, ok := knownSources[s]
	return ok
}

// String returns the string representation.
func (s Source) String() string {
	return string(s)
}

// NewSource creates a Source with validation.
func NewSource(tag string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(tag)))
	if !s.IsValid() {
		return "", ErrInvalidSource
	}
	return s, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// OperationID Value Object (idempotency key)
// ═══════════════════════════════════════════════════════════════════════════

// OperationID is the caller-supplied idempotency key for a ledger operation.
// Retrying with the same ID applies the operation at most once.
type OperationID string

// IsValid checks the operation ID format. Empty is allowed (the ledger
// generates one), anything else must be a reasonable opaque token.
func (o OperationID) IsValid() bool {
	if o == "" {
		return true
	}
	return len(o) >= 8 && len(o) <= 128
}

// IsEmpty checks if the caller omitted the key.
func (o OperationID) IsEmpty() bool {
	return o == ""
}

// String returns the string representation.
func (o OperationID) String() string {
	return string(o)
}

// NewOperationID generates a fresh operation ID.
func NewOperationID() OperationID {
	return OperationID(uuid.NewString())
}

// ParseOperationID validates a caller-supplied operation ID.
func ParseOperationID(id string) (OperationID, error) {
	o := OperationID(strings.TrimSpace(id))
	if !o.IsValid() {
		return "", ErrInvalidOperationID
	}
	return o, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// UserID Value Object
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies the owner of a stats row. Single-device scope means one
// user per process, but the schema keys everything by user anyway.
type UserID string

// IsValid checks if the user ID is non-empty.
func (u UserID) IsValid() bool {
	return strings.TrimSpace(string(u)) != ""
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a UserID with validation.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrEmptyValue, "user ID cannot be empty")
	}
	return u, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// GamificationStats (derived aggregate)
// ═══════════════════════════════════════════════════════════════════════════

// GamificationStats is the single derived aggregate the UI consumes. Only
// TotalXP is authoritative; every other field is a pure function of TotalXP
// and the multiplier state.
type GamificationStats struct {
	UserID              UserID
	TotalXP             XP
	CurrentLevel        Level
	LevelTitle          string
	XPToNextLevel       int64
	XPProgressPercent   int
	IsMilestoneLevel    bool
	MultiplierActive    bool
	MultiplierFactor    float64
	MultiplierExpiresAt time.Time
	UpdatedAt           time.Time
}
