package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// LedgerRepository is the PostgreSQL implementation of ledger.Store.
//
// ApplyTransaction runs the whole read-check-write inside one transaction:
// the stats row is locked with SELECT ... FOR UPDATE, the clamp is computed
// against the locked total, and the ledger insert and total update commit
// together. The UNIQUE(user_id, operation_id) constraint backs the
// idempotency check, so even a concurrent retry from another process applies
// at most once.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

var _ ledger.Store = (*LedgerRepository)(nil)

// ApplyTransaction implements ledger.Store.
func (r *LedgerRepository) ApplyTransaction(ctx context.Context, req ledger.ApplyRequest) (ledger.ApplyOutcome, error) {
	var outcome ledger.ApplyOutcome

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// Replay check first: a known operation ID short-circuits before
		// any lock is taken.
		existing, err := findByOperationID(ctx, tx, req.UserID, req.OperationID)
		if err == nil {
			outcome = replayOutcome(existing)
			return nil
		}
		if !shared.IsNotFound(err) {
			return err
		}

		// Ensure the stats row exists, then lock it for the rest of the
		// transaction.
		if _, err := tx.Exec(ctx, `
			INSERT INTO gamification_stats (user_id, total_xp)
			VALUES ($1, 0)
			ON CONFLICT (user_id) DO NOTHING
		`, req.UserID.String()); err != nil {
			return fmt.Errorf("ensure stats row: %w", err)
		}

		var currentTotal int64
		if err := tx.QueryRow(ctx, `
			SELECT total_xp FROM gamification_stats
			WHERE user_id = $1
			FOR UPDATE
		`, req.UserID.String()).Scan(&currentTotal); err != nil {
			return fmt.Errorf("lock stats row: %w", err)
		}

		previous := shared.XP(currentTotal)
		applied := previous.ClampedDelta(req.Amount)
		newTotal := previous.Add(req.Amount)

		tx2 := ledger.NewTransaction(req.UserID, req.OperationID, applied, req.RawAmount, req.Source, req.MultiplierApplied, newTotal)

		if err := tx.QueryRow(ctx, `
			INSERT INTO xp_transactions
				(id, user_id, operation_id, amount, raw_amount, source, multiplier_applied, resulting_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING seq, created_at
		`,
			tx2.ID,
			tx2.UserID.String(),
			tx2.OperationID.String(),
			tx2.Amount,
			tx2.RawAmount,
			tx2.Source.String(),
			tx2.MultiplierApplied,
			tx2.ResultingTotal.Int64(),
		).Scan(&tx2.Seq, &tx2.CreatedAt); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE gamification_stats
			SET total_xp = $2, updated_at = NOW()
			WHERE user_id = $1
		`, req.UserID.String(), newTotal.Int64()); err != nil {
			return fmt.Errorf("update total: %w", err)
		}

		outcome = ledger.ApplyOutcome{
			Transaction:   tx2,
			PreviousTotal: previous,
			NewTotal:      newTotal,
		}
		return nil
	})
	if err != nil {
		// A retry that raced us past the replay check hits the unique
		// constraint; the original outcome is what the caller gets.
		if IsUniqueViolation(err) {
			existing, findErr := r.FindByOperationID(ctx, req.UserID, req.OperationID)
			if findErr == nil {
				return replayOutcome(existing), nil
			}
		}
		return ledger.ApplyOutcome{}, shared.WrapError("ledger", "Apply", shared.ErrStorage, "apply transaction failed", err)
	}

	return outcome, nil
}

func replayOutcome(tx ledger.Transaction) ledger.ApplyOutcome {
	return ledger.ApplyOutcome{
		Transaction:   tx,
		PreviousTotal: tx.ResultingTotal,
		NewTotal:      tx.ResultingTotal,
		Replayed:      true,
	}
}

// FindByOperationID implements ledger.Store.
func (r *LedgerRepository) FindByOperationID(ctx context.Context, userID shared.UserID, operationID shared.OperationID) (ledger.Transaction, error) {
	return findByOperationID(ctx, r.conn.Pool(), userID, operationID)
}

func findByOperationID(ctx context.Context, q Querier, userID shared.UserID, operationID shared.OperationID) (ledger.Transaction, error) {
	row := q.QueryRow(ctx, `
		SELECT id, user_id, operation_id, amount, raw_amount, source, multiplier_applied, resulting_total, seq, created_at
		FROM xp_transactions
		WHERE user_id = $1 AND operation_id = $2
	`, userID.String(), operationID.String())

	tx, err := scanTransaction(row)
	if err != nil {
		if IsNoRows(err) {
			return ledger.Transaction{}, shared.ErrTransactionNotFound
		}
		return ledger.Transaction{}, shared.WrapError("ledger", "Find", shared.ErrStorage, "find by operation ID failed", err)
	}
	return tx, nil
}

// GetTotal implements ledger.Store. A missing stats row means zero XP.
func (r *LedgerRepository) GetTotal(ctx context.Context, userID shared.UserID) (shared.XP, error) {
	var total int64
	err := r.conn.QueryRow(ctx, `
		SELECT total_xp FROM gamification_stats WHERE user_id = $1
	`, userID.String()).Scan(&total)
	if err != nil {
		if IsNoRows(err) {
			return 0, nil
		}
		return 0, shared.WrapError("ledger", "GetTotal", shared.ErrStorage, "total read failed", err)
	}
	return shared.XP(total), nil
}

// ListTransactions implements ledger.Store. Entries come back in apply
// order, newest first, using seq as the tiebreak within equal timestamps.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID shared.UserID, limit, offset int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, operation_id, amount, raw_amount, source, multiplier_applied, resulting_total, seq, created_at
		FROM xp_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, userID.String(), limit, offset)
	if err != nil {
		return nil, shared.WrapError("ledger", "List", shared.ErrStorage, "history read failed", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, shared.WrapError("ledger", "List", shared.ErrStorage, "scan failed", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("ledger", "List", shared.ErrStorage, "history read failed", err)
	}

	return out, nil
}

// Reset implements ledger.Store. Both tables are wiped in one transaction.
func (r *LedgerRepository) Reset(ctx context.Context, userID shared.UserID) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM xp_transactions WHERE user_id = $1`, userID.String()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM gamification_stats WHERE user_id = $1`, userID.String())
		return err
	})
	if err != nil {
		return shared.WrapError("ledger", "Reset", shared.ErrStorage, "reset failed", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		userID         string
		operationID    string
		source         string
		resultingTotal int64
		createdAt      time.Time
	)

	if err := row.Scan(
		&tx.ID,
		&userID,
		&operationID,
		&tx.Amount,
		&tx.RawAmount,
		&source,
		&tx.MultiplierApplied,
		&resultingTotal,
		&tx.Seq,
		&createdAt,
	); err != nil {
		return ledger.Transaction{}, err
	}

	tx.UserID = shared.UserID(userID)
	tx.OperationID = shared.OperationID(operationID)
	tx.Source = shared.Source(source)
	tx.ResultingTotal = shared.XP(resultingTotal)
	tx.CreatedAt = createdAt
	return tx, nil
}
