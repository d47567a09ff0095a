package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harmony-app/gamification-core/internal/infrastructure/migration"
)

// HistoryRepository is the PostgreSQL implementation of
// migration.TargetStore. Every Import method runs its whole category in one
// transaction, so a failure rolls the category back to empty and the run can
// be repeated.
type HistoryRepository struct {
	conn *Connection
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(conn *Connection) *HistoryRepository {
	return &HistoryRepository{conn: conn}
}

var _ migration.TargetStore = (*HistoryRepository)(nil)

// ImportChallenges implements migration.TargetStore.
func (r *HistoryRepository) ImportChallenges(ctx context.Context, records []migration.Challenge) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, rec := range records {
			if _, err := tx.Exec(ctx, `
				INSERT INTO challenges (id, user_id, title, status, target, progress, started_at, completed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, rec.ID, rec.UserID, rec.Title, rec.Status, rec.Target, rec.Progress, rec.StartedAt, rec.CompletedAt); err != nil {
				return fmt.Errorf("insert challenge %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// ImportTransactions implements migration.TargetStore. Legacy entries land
// in the live ledger table with their original operation IDs, and the stats
// row is set to the final resulting total in the same transaction.
func (r *HistoryRepository) ImportTransactions(ctx context.Context, records []migration.Transaction) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		finals := make(map[string]int64)

		for _, rec := range records {
			if _, err := tx.Exec(ctx, `
				INSERT INTO xp_transactions
					(id, user_id, operation_id, amount, raw_amount, source, multiplier_applied, resulting_total, created_at)
				VALUES ($1, $2, $3, $4, $4, $5, 1.0, $6, $7)
			`, uuid.NewString(), rec.UserID, rec.OperationID, rec.Amount, rec.Source, rec.ResultingTotal, rec.CreatedAt); err != nil {
				return fmt.Errorf("insert transaction %s: %w", rec.OperationID, err)
			}
			finals[rec.UserID] = rec.ResultingTotal
		}

		for userID, total := range finals {
			if _, err := tx.Exec(ctx, `
				INSERT INTO gamification_stats (user_id, total_xp)
				VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE SET total_xp = $2, updated_at = NOW()
			`, userID, total); err != nil {
				return fmt.Errorf("set total for %s: %w", userID, err)
			}
		}
		return nil
	})
}

// ImportSnapshots implements migration.TargetStore.
func (r *HistoryRepository) ImportSnapshots(ctx context.Context, records []migration.DailySnapshot) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, rec := range records {
			if _, err := tx.Exec(ctx, `
				INSERT INTO daily_snapshots (challenge_id, user_id, day, xp_gained, entries_count, habits_completed)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, rec.ChallengeID, rec.UserID, rec.Day, rec.XPGained, rec.EntriesCount, rec.HabitsCompleted); err != nil {
				return fmt.Errorf("insert snapshot %s/%s: %w", rec.UserID, rec.Day.Format("2006-01-02"), err)
			}
		}
		return nil
	})
}

// ImportBreakdowns implements migration.TargetStore.
func (r *HistoryRepository) ImportBreakdowns(ctx context.Context, records []migration.WeeklyBreakdown) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, rec := range records {
			if _, err := tx.Exec(ctx, `
				INSERT INTO weekly_breakdowns (challenge_id, week, xp_gained, completions)
				VALUES ($1, $2, $3, $4)
			`, rec.ChallengeID, rec.Week, rec.XPGained, rec.Completions); err != nil {
				return fmt.Errorf("insert breakdown %s/week %d: %w", rec.ChallengeID, rec.Week, err)
			}
		}
		return nil
	})
}

// ImportRatings implements migration.TargetStore.
func (r *HistoryRepository) ImportRatings(ctx context.Context, records []migration.Rating) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, rec := range records {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_ratings (user_id, category, rating, rated_at)
				VALUES ($1, $2, $3, $4)
			`, rec.UserID, rec.Category, rec.Rating, rec.RatedAt); err != nil {
				return fmt.Errorf("insert rating %s/%s: %w", rec.UserID, rec.Category, err)
			}
		}
		return nil
	})
}

// Counts implements migration.TargetStore.
func (r *HistoryRepository) Counts(ctx context.Context) (migration.Counts, error) {
	var counts migration.Counts

	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM challenges`, &counts.Challenges},
		{`SELECT COUNT(*) FROM xp_transactions`, &counts.Transactions},
		{`SELECT COUNT(*) FROM daily_snapshots`, &counts.Snapshots},
		{`SELECT COUNT(*) FROM weekly_breakdowns`, &counts.Breakdowns},
		{`SELECT COUNT(*) FROM user_ratings`, &counts.Ratings},
	}

	for _, q := range queries {
		if err := r.conn.QueryRow(ctx, q.sql).Scan(q.dest); err != nil {
			return migration.Counts{}, fmt.Errorf("count query failed: %w", err)
		}
	}

	return counts, nil
}

// OrphanSnapshots implements migration.TargetStore. The foreign key makes
// orphans impossible through this repository, but the verifier checks
// anyway; the cutover decision must not rest on schema trust alone.
func (r *HistoryRepository) OrphanSnapshots(ctx context.Context) (int, error) {
	var orphans int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM daily_snapshots s
		LEFT JOIN challenges c ON c.id = s.challenge_id
		WHERE c.id IS NULL
	`).Scan(&orphans)
	if err != nil {
		return 0, fmt.Errorf("orphan query failed: %w", err)
	}
	return orphans, nil
}

// OrphanBreakdowns implements migration.TargetStore, with the same caveat as
// OrphanSnapshots.
func (r *HistoryRepository) OrphanBreakdowns(ctx context.Context) (int, error) {
	var orphans int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM weekly_breakdowns b
		LEFT JOIN challenges c ON c.id = b.challenge_id
		WHERE c.id IS NULL
	`).Scan(&orphans)
	if err != nil {
		return 0, fmt.Errorf("orphan query failed: %w", err)
	}
	return orphans, nil
}
