package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

func TestTableIsStrictlyIncreasing(t *testing.T) {
	entries := Table()
	require.Len(t, entries, int(MaxLevel))

	assert.Equal(t, shared.MinLevel, entries[0].Level)
	assert.Equal(t, int64(0), entries[0].Threshold)

	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Threshold, entries[i-1].Threshold,
			"threshold for level %d must exceed level %d", entries[i].Level, entries[i-1].Level)
		assert.Equal(t, entries[i-1].Level+1, entries[i].Level)
	}
}

func TestLevelForZeroXP(t *testing.T) {
	info := LevelFor(0)

	assert.Equal(t, shared.MinLevel, info.Level)
	assert.Equal(t, "Beginner", info.Title)
	assert.False(t, info.IsMilestone)
}

func TestLevelForNegativeTreatedAsZero(t *testing.T) {
	info := LevelFor(shared.XP(-500))
	assert.Equal(t, shared.MinLevel, info.Level)
}

func TestLevelForBoundaries(t *testing.T) {
	// Level 2 begins at 75; one XP under stays at level 1 and the exact
	// threshold crosses over.
	assert.Equal(t, shared.Level(1), LevelFor(74).Level)
	assert.Equal(t, shared.Level(2), LevelFor(75).Level)
	assert.Equal(t, shared.Level(2), LevelFor(80).Level)
	assert.Equal(t, shared.Level(3), LevelFor(225).Level)
}

func TestLevelForIsMonotonic(t *testing.T) {
	prev := LevelFor(0).Level
	for xp := int64(0); xp <= 500_000; xp += 137 {
		cur := LevelFor(shared.XP(xp)).Level
		require.GreaterOrEqual(t, cur, prev, "level must never decrease as XP grows (xp=%d)", xp)
		prev = cur
	}
}

func TestLevelForBeyondTable(t *testing.T) {
	top := ThresholdFor(MaxLevel)

	info := LevelFor(shared.XP(top))
	assert.Equal(t, MaxLevel, info.Level)
	assert.Equal(t, "Grandmaster", info.Title)

	// Way past the table the level is pinned at the cap.
	info = LevelFor(shared.XP(top * 100))
	assert.Equal(t, MaxLevel, info.Level)
}

func TestProgressForBounds(t *testing.T) {
	for xp := int64(0); xp <= 300_000; xp += 211 {
		p := ProgressFor(shared.XP(xp))
		require.GreaterOrEqual(t, p.XPProgressPercent, 0, "xp=%d", xp)
		require.LessOrEqual(t, p.XPProgressPercent, 100, "xp=%d", xp)
		require.GreaterOrEqual(t, p.XPToNextLevel, int64(0), "xp=%d", xp)
	}
}

func TestProgressForFreshTotal(t *testing.T) {
	p := ProgressFor(0)

	assert.Equal(t, 0, p.XPProgressPercent)
	assert.Equal(t, int64(75), p.XPToNextLevel)
}

func TestProgressForMidLevel(t *testing.T) {
	// Level 2 spans [75, 225): at 150 we are 75/150 of the way through.
	p := ProgressFor(150)

	assert.Equal(t, 50, p.XPProgressPercent)
	assert.Equal(t, int64(75), p.XPToNextLevel)
}

func TestProgressForAtCap(t *testing.T) {
	top := ThresholdFor(MaxLevel)

	p := ProgressFor(shared.XP(top + 12345))
	assert.Equal(t, 100, p.XPProgressPercent)
	assert.Equal(t, int64(0), p.XPToNextLevel)
}

func TestIsMilestone(t *testing.T) {
	milestones := []shared.Level{5, 10, 20, 25, 30, 40, 42, 50, 100}
	for _, l := range milestones {
		assert.True(t, IsMilestone(l), "level %d should be a milestone", l)
	}

	ordinary := []shared.Level{1, 2, 3, 4, 6, 9, 11, 24, 41, 43, 99}
	for _, l := range ordinary {
		assert.False(t, IsMilestone(l), "level %d should not be a milestone", l)
	}
}

func TestTitleBands(t *testing.T) {
	cases := []struct {
		level shared.Level
		title string
	}{
		{1, "Beginner"},
		{4, "Beginner"},
		{5, "Apprentice"},
		{10, "Explorer"},
		{25, "Practitioner"},
		{42, "Specialist"},
		{75, "Master"},
		{100, "Grandmaster"},
	}

	for _, tc := range cases {
		info := LevelFor(shared.XP(ThresholdFor(tc.level)))
		require.Equal(t, tc.level, info.Level)
		assert.Equal(t, tc.title, info.Title, "level %d", tc.level)
	}
}
