package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLegacy serves canned records with per-category failure injection.
// allowReads lets a category serve a number of successful reads before the
// injected failure kicks in, to fail the verification pass but not the copy.
type fakeLegacy struct {
	challenges   []Challenge
	transactions []Transaction
	snapshots    []DailySnapshot
	breakdowns   []WeeklyBreakdown
	ratings      []Rating

	failReads  map[Category]error
	allowReads map[Category]int
}

func (f *fakeLegacy) readErr(cat Category) error {
	if n, ok := f.allowReads[cat]; ok && n > 0 {
		f.allowReads[cat] = n - 1
		return nil
	}
	return f.failReads[cat]
}

func (f *fakeLegacy) ReadChallenges(context.Context) ([]Challenge, error) {
	if err := f.readErr(CategoryChallenges); err != nil {
		return nil, err
	}
	return f.challenges, nil
}

func (f *fakeLegacy) ReadTransactions(context.Context) ([]Transaction, error) {
	if err := f.readErr(CategoryTransactions); err != nil {
		return nil, err
	}
	return f.transactions, nil
}

func (f *fakeLegacy) ReadSnapshots(context.Context) ([]DailySnapshot, error) {
	if err := f.readErr(CategorySnapshots); err != nil {
		return nil, err
	}
	return f.snapshots, nil
}

func (f *fakeLegacy) ReadBreakdowns(context.Context) ([]WeeklyBreakdown, error) {
	if err := f.readErr(CategoryBreakdowns); err != nil {
		return nil, err
	}
	return f.breakdowns, nil
}

func (f *fakeLegacy) ReadRatings(context.Context) ([]Rating, error) {
	if err := f.readErr(CategoryRatings); err != nil {
		return nil, err
	}
	return f.ratings, nil
}

// fakeTarget stores imports in memory with the same all-or-nothing category
// semantics the real repository provides.
type fakeTarget struct {
	challenges   []Challenge
	transactions []Transaction
	snapshots    []DailySnapshot
	breakdowns   []WeeklyBreakdown
	ratings      []Rating

	failImports map[Category]error
	failCounts  error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{failImports: make(map[Category]error)}
}

func (f *fakeTarget) ImportChallenges(_ context.Context, records []Challenge) error {
	if err := f.failImports[CategoryChallenges]; err != nil {
		return err
	}
	f.challenges = append(f.challenges, records...)
	return nil
}

func (f *fakeTarget) ImportTransactions(_ context.Context, records []Transaction) error {
	if err := f.failImports[CategoryTransactions]; err != nil {
		return err
	}
	f.transactions = append(f.transactions, records...)
	return nil
}

func (f *fakeTarget) ImportSnapshots(_ context.Context, records []DailySnapshot) error {
	if err := f.failImports[CategorySnapshots]; err != nil {
		return err
	}
	f.snapshots = append(f.snapshots, records...)
	return nil
}

func (f *fakeTarget) ImportBreakdowns(_ context.Context, records []WeeklyBreakdown) error {
	if err := f.failImports[CategoryBreakdowns]; err != nil {
		return err
	}
	f.breakdowns = append(f.breakdowns, records...)
	return nil
}

func (f *fakeTarget) ImportRatings(_ context.Context, records []Rating) error {
	if err := f.failImports[CategoryRatings]; err != nil {
		return err
	}
	f.ratings = append(f.ratings, records...)
	return nil
}

func (f *fakeTarget) Counts(context.Context) (Counts, error) {
	if f.failCounts != nil {
		return Counts{}, f.failCounts
	}
	return Counts{
		Challenges:   len(f.challenges),
		Transactions: len(f.transactions),
		Snapshots:    len(f.snapshots),
		Breakdowns:   len(f.breakdowns),
		Ratings:      len(f.ratings),
	}, nil
}

func (f *fakeTarget) knownChallenges() map[string]bool {
	known := make(map[string]bool)
	for _, c := range f.challenges {
		known[c.ID] = true
	}
	return known
}

func (f *fakeTarget) OrphanSnapshots(context.Context) (int, error) {
	known := f.knownChallenges()
	orphans := 0
	for _, s := range f.snapshots {
		if !known[s.ChallengeID] {
			orphans++
		}
	}
	return orphans, nil
}

func (f *fakeTarget) OrphanBreakdowns(context.Context) (int, error) {
	known := f.knownChallenges()
	orphans := 0
	for _, b := range f.breakdowns {
		if !known[b.ChallengeID] {
			orphans++
		}
	}
	return orphans, nil
}

func seededLegacy() *fakeLegacy {
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeLegacy{
		challenges: []Challenge{
			{ID: "ch-001", UserID: "user-1", Title: "Morning pages", Status: "active", Target: 30, StartedAt: started},
			{ID: "ch-002", UserID: "user-1", Title: "Daily walk", Status: "completed", Target: 60, Progress: 60, StartedAt: started},
		},
		transactions: []Transaction{
			{UserID: "user-1", OperationID: "legacy-op-0001", Amount: 50, Source: "habit_completion", ResultingTotal: 50, CreatedAt: started},
			{UserID: "user-1", OperationID: "legacy-op-0002", Amount: 30, Source: "journal_entry", ResultingTotal: 80, CreatedAt: started.Add(time.Hour)},
		},
		snapshots: []DailySnapshot{
			{ChallengeID: "ch-001", UserID: "user-1", Day: started, XPGained: 80, EntriesCount: 2, HabitsCompleted: 1},
		},
		breakdowns: []WeeklyBreakdown{
			{ChallengeID: "ch-001", Week: 1, XPGained: 70, Completions: 7},
			{ChallengeID: "ch-002", Week: 1, XPGained: 40, Completions: 4},
		},
		ratings: []Rating{
			{UserID: "user-1", Category: "mood", Rating: 4, RatedAt: started},
		},
		failReads:  make(map[Category]error),
		allowReads: make(map[Category]int),
	}
}

func TestPipelineHappyPath(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()

	report, err := NewPipeline(legacy, target).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded)
	require.Len(t, report.Categories, 5)
	for _, res := range report.Categories {
		assert.True(t, res.Succeeded, "category %s", res.Category)
		assert.False(t, res.Skipped)
	}

	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.Passed)
	assert.Empty(t, report.Verification.Failures)
	assert.Zero(t, report.Verification.OrphanSnapshots)
	assert.Zero(t, report.Verification.OrphanBreakdowns)

	assert.Len(t, target.transactions, 2)
	assert.Len(t, target.breakdowns, 2)
}

func TestPipelineOneCategoryFailureDoesNotStopOthers(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()
	target.failImports[CategorySnapshots] = errors.New("disk full")

	report, err := NewPipeline(legacy, target).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Succeeded)

	snapRes, ok := report.CategoryResultFor(CategorySnapshots)
	require.True(t, ok)
	assert.False(t, snapRes.Succeeded)
	assert.Error(t, snapRes.Err)

	// The siblings still landed in full.
	for _, cat := range []Category{CategoryChallenges, CategoryTransactions, CategoryBreakdowns, CategoryRatings} {
		res, ok := report.CategoryResultFor(cat)
		require.True(t, ok)
		assert.True(t, res.Succeeded, "category %s", cat)
	}

	// Verification pins the failure to the one mismatched category.
	require.NotNil(t, report.Verification)
	assert.False(t, report.Verification.Passed)
	require.Len(t, report.Verification.Failures, 1)
	assert.Contains(t, report.Verification.Failures[0], "snapshots")
}

func TestPipelineSkipsChildCategoriesWhenChallengesFail(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()
	target.failImports[CategoryChallenges] = errors.New("constraint violation")

	report, err := NewPipeline(legacy, target).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Succeeded)

	for _, cat := range []Category{CategorySnapshots, CategoryBreakdowns} {
		res, ok := report.CategoryResultFor(cat)
		require.True(t, ok)
		assert.True(t, res.Skipped, "category %s", cat)
		assert.False(t, res.Succeeded, "category %s", cat)
	}

	assert.Empty(t, target.snapshots, "no snapshot may land without its parent challenges")
	assert.Empty(t, target.breakdowns, "no breakdown may land without its parent challenges")
}

func TestPipelineLegacyReadFailureFailsCategory(t *testing.T) {
	legacy := seededLegacy()
	legacy.failReads[CategoryRatings] = errors.New("connection refused")
	target := newFakeTarget()

	report, err := NewPipeline(legacy, target).Run(context.Background())
	require.NoError(t, err, "a category failure belongs in the report, not in the run error")

	assert.False(t, report.Succeeded)

	res, ok := report.CategoryResultFor(CategoryRatings)
	require.True(t, ok)
	assert.False(t, res.Succeeded)
	assert.Empty(t, target.ratings)

	// The verification pass hits the same failing reads and pins them to
	// their category instead of aborting.
	require.NotNil(t, report.Verification)
	assert.False(t, report.Verification.Passed)
	require.NotEmpty(t, report.Verification.Failures)
	assert.Contains(t, report.Verification.Failures[0], "ratings")
	assert.Contains(t, report.Verification.Failures[0], "legacy read failed")

	// The siblings still landed and verified clean.
	for _, check := range report.Verification.Checks {
		if check.Category != CategoryRatings {
			assert.True(t, check.Match, "category %s", check.Category)
		}
	}
}

func TestPipelineVerificationReadFailureStillReports(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()

	// The copy-phase read succeeds; every later read fails, so only the
	// verification pass sees the outage.
	legacy.failReads[CategoryRatings] = errors.New("connection refused")
	legacy.allowReads[CategoryRatings] = 1

	report, err := NewPipeline(legacy, target).Run(context.Background())
	require.NoError(t, err)

	res, ok := report.CategoryResultFor(CategoryRatings)
	require.True(t, ok)
	assert.True(t, res.Succeeded, "the copy itself went through")
	assert.Len(t, target.ratings, 1)

	require.NotNil(t, report.Verification)
	assert.False(t, report.Verification.Passed)
	require.Len(t, report.Verification.Failures, 1)
	assert.Contains(t, report.Verification.Failures[0], "ratings: legacy read failed")

	assert.False(t, report.Succeeded, "an unverifiable category fails the run")
}

func TestVerifierReportsTargetCountFailure(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()
	target.failCounts = errors.New("relation does not exist")

	report, err := NewVerifier(legacy, target).Verify(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed)
	require.NotEmpty(t, report.Failures)
	assert.Contains(t, report.Failures[0], "target counts unavailable")
	for _, check := range report.Checks {
		assert.False(t, check.Match, "category %s cannot verify without target counts", check.Category)
	}
}

func TestVerifierDetectsOrphans(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()

	require.NoError(t, target.ImportChallenges(context.Background(), legacy.challenges))
	require.NoError(t, target.ImportTransactions(context.Background(), legacy.transactions))
	require.NoError(t, target.ImportSnapshots(context.Background(), legacy.snapshots))
	require.NoError(t, target.ImportRatings(context.Background(), legacy.ratings))

	// Child rows that reference a challenge that never migrated.
	require.NoError(t, target.ImportBreakdowns(context.Background(), []WeeklyBreakdown{
		{ChallengeID: "ch-001", Week: 1},
		{ChallengeID: "ch-ghost", Week: 1},
	}))
	require.NoError(t, target.ImportSnapshots(context.Background(), []DailySnapshot{
		{ChallengeID: "ch-phantom", UserID: "user-2", Day: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}))

	report, err := NewVerifier(legacy, target).Verify(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.OrphanSnapshots)
	assert.Equal(t, 1, report.OrphanBreakdowns)
}

func TestVerifierStandaloneAgainstCleanTarget(t *testing.T) {
	legacy := seededLegacy()
	target := newFakeTarget()

	ctx := context.Background()
	require.NoError(t, target.ImportChallenges(ctx, legacy.challenges))
	require.NoError(t, target.ImportTransactions(ctx, legacy.transactions))
	require.NoError(t, target.ImportSnapshots(ctx, legacy.snapshots))
	require.NoError(t, target.ImportBreakdowns(ctx, legacy.breakdowns))
	require.NoError(t, target.ImportRatings(ctx, legacy.ratings))

	report, err := NewVerifier(legacy, target).Verify(ctx)
	require.NoError(t, err)

	assert.True(t, report.Passed)
	require.Len(t, report.Checks, 5)
	for _, check := range report.Checks {
		assert.True(t, check.Match, "category %s", check.Category)
	}
}
