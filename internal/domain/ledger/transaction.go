// Package ledger defines the append-only XP transaction log and the store
// contract the application layer writes through. The ledger is the only
// authoritative record of XP; every displayed total is derived from it.
package ledger

import (
	"time"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// Transaction is one immutable ledger entry. Amount carries the signed delta
// that was actually applied after multiplier scaling and zero-floor clamping;
// RawAmount preserves what the caller requested.
type Transaction struct {
	ID                string
	UserID            shared.UserID
	OperationID       shared.OperationID
	Amount            int64
	RawAmount         int64
	Source            shared.Source
	MultiplierApplied float64
	ResultingTotal    shared.XP
	Seq               int64
	CreatedAt         time.Time
}

// Result is returned to the caller after a ledger operation, including an
// idempotent replay. It carries everything the sync layer needs to reconcile
// and to decide on celebrations.
type Result struct {
	OperationID       shared.OperationID
	XPGained          int64
	TotalXP           shared.XP
	PreviousLevel     shared.Level
	NewLevel          shared.Level
	LevelTitle        string
	LeveledUp         bool
	LeveledDown       bool
	MilestoneReached  bool
	MultiplierApplied float64
	Replayed          bool
}

// NewTransaction builds a ledger entry from an applied operation. Seq and
// CreatedAt are assigned by the store on insert.
func NewTransaction(userID shared.UserID, operationID shared.OperationID, applied, raw int64, source shared.Source, factor float64, resultingTotal shared.XP) Transaction {
	return Transaction{
		ID:                shared.NewOperationID().String(),
		UserID:            userID,
		OperationID:       operationID,
		Amount:            applied,
		RawAmount:         raw,
		Source:            source,
		MultiplierApplied: factor,
		ResultingTotal:    resultingTotal,
	}
}
