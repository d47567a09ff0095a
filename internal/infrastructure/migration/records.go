// Package migration implements the one-shot copy of gamification history
// from the legacy key-value store into the relational schema, plus the
// independent verification pass that decides whether the cutover is safe.
package migration

import (
	"context"
	"time"
)

// Category identifies one independently migrated slice of legacy data.
type Category string

const (
	CategoryChallenges   Category = "challenges"
	CategoryTransactions Category = "transactions"
	CategorySnapshots    Category = "snapshots"
	CategoryBreakdowns   Category = "breakdowns"
	CategoryRatings      Category = "ratings"
)

// Categories returns all categories in migration order. Breakdowns come
// after challenges because they reference them.
func Categories() []Category {
	return []Category{
		CategoryChallenges,
		CategoryTransactions,
		CategorySnapshots,
		CategoryBreakdowns,
		CategoryRatings,
	}
}

// Challenge is a legacy challenge record.
type Challenge struct {
	ID          string
	UserID      string
	Title       string
	Status      string
	Target      int
	Progress    int
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Transaction is a legacy XP transaction. It lands in the same ledger table
// new writes use, with its original operation ID preserved so pre-migration
// idempotency keys keep working.
type Transaction struct {
	UserID         string
	OperationID    string
	Amount         int64
	Source         string
	ResultingTotal int64
	CreatedAt      time.Time
}

// DailySnapshot is a legacy per-day activity rollup. ChallengeID references
// a Challenge record.
type DailySnapshot struct {
	ChallengeID     string
	UserID          string
	Day             time.Time
	XPGained        int64
	EntriesCount    int
	HabitsCompleted int
}

// WeeklyBreakdown is a legacy per-challenge weekly rollup. ChallengeID
// references a Challenge record.
type WeeklyBreakdown struct {
	ChallengeID string
	Week        int
	XPGained    int64
	Completions int
}

// Rating is a legacy self-assessment rating.
type Rating struct {
	UserID   string
	Category string
	Rating   int
	RatedAt  time.Time
}

// LegacyStore reads the old key-value data. Implementations must be
// read-only; the legacy store is never modified, so a failed migration can
// simply run again.
type LegacyStore interface {
	ReadChallenges(ctx context.Context) ([]Challenge, error)
	ReadTransactions(ctx context.Context) ([]Transaction, error)
	ReadSnapshots(ctx context.Context) ([]DailySnapshot, error)
	ReadBreakdowns(ctx context.Context) ([]WeeklyBreakdown, error)
	ReadRatings(ctx context.Context) ([]Rating, error)
}

// TargetStore writes migrated records into the relational schema. Each
// Import call covers one whole category and must be atomic: all rows land
// or none do.
type TargetStore interface {
	ImportChallenges(ctx context.Context, records []Challenge) error
	ImportTransactions(ctx context.Context, records []Transaction) error
	ImportSnapshots(ctx context.Context, records []DailySnapshot) error
	ImportBreakdowns(ctx context.Context, records []WeeklyBreakdown) error
	ImportRatings(ctx context.Context, records []Rating) error

	// Counts returns per-category row counts for verification.
	Counts(ctx context.Context) (Counts, error)

	// OrphanSnapshots returns snapshot rows whose challenge is missing.
	OrphanSnapshots(ctx context.Context) (int, error)

	// OrphanBreakdowns returns breakdown rows whose challenge is missing.
	OrphanBreakdowns(ctx context.Context) (int, error)
}

// Counts holds per-category row counts on one side of the verification.
type Counts struct {
	Challenges   int
	Transactions int
	Snapshots    int
	Breakdowns   int
	Ratings      int
}

// Of returns the count for a category.
func (c Counts) Of(cat Category) int {
	switch cat {
	case CategoryChallenges:
		return c.Challenges
	case CategoryTransactions:
		return c.Transactions
	case CategorySnapshots:
		return c.Snapshots
	case CategoryBreakdowns:
		return c.Breakdowns
	case CategoryRatings:
		return c.Ratings
	default:
		return 0
	}
}
