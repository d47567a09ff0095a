package ledger

import (
	"context"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// ApplyRequest describes one write against the ledger. Amount is the signed
// delta after multiplier scaling; the store is still responsible for the
// zero floor because only it sees the authoritative current total.
type ApplyRequest struct {
	UserID            shared.UserID
	OperationID       shared.OperationID
	Amount            int64
	RawAmount         int64
	Source            shared.Source
	MultiplierApplied float64
}

// ApplyOutcome reports what the store actually did. When Replayed is true the
// operation ID had already been applied and Transaction is the original
// entry; PreviousTotal and NewTotal then both carry the total as of that
// original application.
type ApplyOutcome struct {
	Transaction   Transaction
	PreviousTotal shared.XP
	NewTotal      shared.XP
	Replayed      bool
}

// Store is the persistence contract for the ledger. Implementations must
// make ApplyTransaction atomic: the transaction row and the stats total
// change together or not at all, and a duplicate operation ID is applied
// at most once even under concurrent retries.
type Store interface {
	// ApplyTransaction atomically inserts a ledger entry and moves the
	// running total, clamping at zero. A request whose operation ID was
	// already applied returns the original outcome with Replayed set.
	ApplyTransaction(ctx context.Context, req ApplyRequest) (ApplyOutcome, error)

	// FindByOperationID returns the ledger entry for an idempotency key,
	// or shared.ErrNotFound.
	FindByOperationID(ctx context.Context, userID shared.UserID, operationID shared.OperationID) (Transaction, error)

	// GetTotal returns the current running total. A user with no ledger
	// history has a total of zero, not an error.
	GetTotal(ctx context.Context, userID shared.UserID) (shared.XP, error)

	// ListTransactions returns ledger entries in application order,
	// newest first.
	ListTransactions(ctx context.Context, userID shared.UserID, limit, offset int) ([]Transaction, error)

	// Reset wipes the user's ledger and total. Used by the full-reset
	// developer operation only.
	Reset(ctx context.Context, userID shared.UserID) error
}
