// Package level implements the pure XP-to-level mapping: a fixed threshold
// table, level titles, the milestone predicate, and progress math. No state,
// no I/O; every function here is deterministic.
package level

import (
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// MaxLevel caps the table. XP beyond the top threshold stays at MaxLevel
// with 100% progress.
const MaxLevel shared.Level = 100

// stepXP is the per-level requirement growth: reaching level n+1 from level n
// costs stepXP*n. Level 2 therefore sits at 75 XP.
const stepXP int64 = 75

// Entry is one row of the level table.
type Entry struct {
	Level       shared.Level
	Threshold   int64 // cumulative XP at which this level begins
	Title       string
	IsMilestone bool
}

// table holds the full level table, built once at package init.
// Thresholds are strictly increasing by construction.
var table = buildTable()

func buildTable() []Entry {
	entries := make([]Entry, 0, int(MaxLevel))
	var threshold int64
	for l := shared.MinLevel; l <= MaxLevel; l++ {
		entries = append(entries, Entry{
			Level:       l,
			Threshold:   threshold,
			Title:       titleFor(l),
			IsMilestone: IsMilestone(l),
		})
		threshold += stepXP * int64(l)
	}
	return entries
}

// specialMilestones are named levels celebrated beyond the every-ten rule.
var specialMilestones = map[shared.Level]struct{}{
	5:  {},
	25: {},
	42: {},
}

// IsMilestone is the single milestone predicate. Every component that cares
// about milestones goes through here so the rule is never duplicated.
func IsMilestone(l shared.Level) bool {
	if l%10 == 0 && l >= 10 {
		return true
	}
	_, ok := specialMilestones[l]
	return ok
}

func titleFor(l shared.Level) string {
	switch {
	case l < 5:
		return "Beginner"
	case l < 10:
		return "Apprentice"
	case l < 20:
		return "Explorer"
	case l < 30:
		return "Practitioner"
	case l < 50:
		return "Specialist"
	case l < 75:
		return "Expert"
	case l < 100:
		return "Master"
	default:
		return "Grandmaster"
	}
}

// Table returns a copy of the level table, mostly for diagnostics and tests.
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Info describes the level derived from a cumulative XP total.
type Info struct {
	Level       shared.Level
	Title       string
	IsMilestone bool
}

// Progress describes distance to the next level.
type Progress struct {
	XPToNextLevel     int64
	XPProgressPercent int // clamped to [0,100]
}

// LevelFor maps a cumulative XP total to its level info. The level is the
// greatest table entry whose threshold is <= totalXP; negative totals are
// treated as zero.
func LevelFor(totalXP shared.XP) Info {
	e := entryFor(totalXP)
	return Info{Level: e.Level, Title: e.Title, IsMilestone: e.IsMilestone}
}

// ProgressFor computes progress from the current level's threshold toward
// the next one. At MaxLevel progress is pinned at 100% with zero remaining.
func ProgressFor(totalXP shared.XP) Progress {
	total := int64(totalXP)
	if total < 0 {
		total = 0
	}

	e := entryFor(totalXP)
	if e.Level >= MaxLevel {
		return Progress{XPToNextLevel: 0, XPProgressPercent: 100}
	}

	next := table[int(e.Level)] // table is 0-indexed by level-1
	span := next.Threshold - e.Threshold
	into := total - e.Threshold

	percent := int(into * 100 / span)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return Progress{
		XPToNextLevel:     next.Threshold - total,
		XPProgressPercent: percent,
	}
}

// entryFor finds the greatest entry with Threshold <= totalXP via binary
// search.
func entryFor(totalXP shared.XP) Entry {
	total := int64(totalXP)
	if total < 0 {
		total = 0
	}

	lo, hi := 0, len(table)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if table[mid].Threshold <= total {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return table[lo]
}

// ThresholdFor returns the cumulative XP at which the given level begins.
// Levels outside the table clamp to the nearest edge.
func ThresholdFor(l shared.Level) int64 {
	if l < shared.MinLevel {
		l = shared.MinLevel
	}
	if l > MaxLevel {
		l = MaxLevel
	}
	return table[int(l-1)].Threshold
}
