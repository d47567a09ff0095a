// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/level"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD / SUBTRACT XP COMMANDS
// The single write path into the ledger. All XP mutations from every feature
// funnel through here so ordering, idempotency, and the zero floor are
// enforced in exactly one place.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand credits XP to a user. Amount is the raw, pre-multiplier
// value and must be positive.
type AwardXPCommand struct {
	// UserID is the owner of the stats row.
	UserID string

	// Amount is the raw XP to credit, before multiplier scaling.
	Amount int64

	// Source tags the originating feature for auditing.
	Source string

	// OperationID is the caller's idempotency key. Empty means the ledger
	// generates one, which forfeits retry safety for this operation.
	OperationID string
}

// Validate validates the command.
func (c AwardXPCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Amount <= 0 {
		return shared.ErrInvalidAmount
	}
	if _, err := shared.NewSource(c.Source); err != nil {
		return err
	}
	if _, err := shared.ParseOperationID(c.OperationID); err != nil {
		return err
	}
	return nil
}

// SubtractXPCommand debits XP from a user. Amount is positive; the ledger
// applies it as a negative delta, floored so the total never goes below zero.
// Subtractions are never multiplier-scaled.
type SubtractXPCommand struct {
	UserID      string
	Amount      int64
	Source      string
	OperationID string
}

// Validate validates the command.
func (c SubtractXPCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Amount <= 0 {
		return shared.ErrInvalidAmount
	}
	if _, err := shared.NewSource(c.Source); err != nil {
		return err
	}
	if _, err := shared.ParseOperationID(c.OperationID); err != nil {
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPHandler serializes all ledger writes for the process. The mutex
// guarantees accept order equals apply order: once an operation enters
// Handle, everything it observes and persists happens before the next
// operation starts.
type AwardXPHandler struct {
	mu          sync.Mutex
	store       ledger.Store
	multipliers *multiplier.Service
	publisher   shared.EventPublisher
}

// NewAwardXPHandler creates a new AwardXPHandler.
func NewAwardXPHandler(store ledger.Store, multipliers *multiplier.Service, publisher shared.EventPublisher) *AwardXPHandler {
	return &AwardXPHandler{
		store:       store,
		multipliers: multipliers,
		publisher:   publisher,
	}
}

// Handle executes an award command.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*ledger.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_xp: validation failed: %w", err)
	}
	return h.apply(ctx, cmd.UserID, cmd.Amount, cmd.Source, cmd.OperationID)
}

// HandleSubtract executes a subtract command.
func (h *AwardXPHandler) HandleSubtract(ctx context.Context, cmd SubtractXPCommand) (*ledger.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("subtract_xp: validation failed: %w", err)
	}
	return h.apply(ctx, cmd.UserID, -cmd.Amount, cmd.Source, cmd.OperationID)
}

func (h *AwardXPHandler) apply(ctx context.Context, rawUserID string, rawAmount int64, rawSource, rawOperationID string) (*ledger.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID, _ := shared.NewUserID(rawUserID)
	source, _ := shared.NewSource(rawSource)

	operationID := shared.OperationID(rawOperationID)
	if operationID.IsEmpty() {
		operationID = shared.NewOperationID()
	}

	// Multiplier scaling happens before persistence so the ledger entry
	// records both the raw and the applied amount.
	applied, factor := h.multipliers.Apply(rawAmount)

	outcome, err := h.store.ApplyTransaction(ctx, ledger.ApplyRequest{
		UserID:            userID,
		OperationID:       operationID,
		Amount:            applied,
		RawAmount:         rawAmount,
		Source:            source,
		MultiplierApplied: factor,
	})
	if err != nil {
		return nil, shared.WrapError("ledger", "Apply", shared.ErrStorage, "transaction failed", err)
	}

	result := buildResult(outcome)

	if !outcome.Replayed {
		h.publishEvents(userID, source, outcome, result)
	}

	return result, nil
}

// buildResult derives the level transition from the before/after totals. For
// a replayed operation both totals are equal, so no transition is reported.
func buildResult(outcome ledger.ApplyOutcome) *ledger.Result {
	before := level.LevelFor(outcome.PreviousTotal)
	after := level.LevelFor(outcome.NewTotal)

	return &ledger.Result{
		OperationID:       outcome.Transaction.OperationID,
		XPGained:          outcome.Transaction.Amount,
		TotalXP:           outcome.NewTotal,
		PreviousLevel:     before.Level,
		NewLevel:          after.Level,
		LevelTitle:        after.Title,
		LeveledUp:         after.Level > before.Level,
		LeveledDown:       after.Level < before.Level,
		MilestoneReached:  after.Level > before.Level && after.IsMilestone,
		MultiplierApplied: outcome.Transaction.MultiplierApplied,
		Replayed:          outcome.Replayed,
	}
}

func (h *AwardXPHandler) publishEvents(userID shared.UserID, source shared.Source, outcome ledger.ApplyOutcome, result *ledger.Result) {
	if h.publisher == nil {
		return
	}

	_ = h.publisher.Publish(shared.NewXPGainedEvent(
		userID.String(),
		outcome.Transaction.Amount,
		outcome.NewTotal.Int64(),
		source.String(),
		outcome.Transaction.OperationID.String(),
	))

	if result.LeveledUp {
		_ = h.publisher.Publish(shared.NewLevelUpEvent(
			userID.String(),
			result.PreviousLevel.Int(),
			result.NewLevel.Int(),
			result.LevelTitle,
			result.MilestoneReached,
		))
	}
	if result.LeveledDown {
		_ = h.publisher.Publish(shared.NewLevelDownEvent(
			userID.String(),
			result.PreviousLevel.Int(),
			result.NewLevel.Int(),
			result.LevelTitle,
		))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS ASSEMBLY
// Shared by the query layer and the sync coordinator: the authoritative
// total plus the current multiplier state, rendered as one aggregate.
// ══════════════════════════════════════════════════════════════════════════════

// AssembleStats derives the full stats aggregate from a running total and
// the multiplier service. Everything besides TotalXP is computed here.
func AssembleStats(userID shared.UserID, total shared.XP, multipliers *multiplier.Service, now time.Time) shared.GamificationStats {
	info := level.LevelFor(total)
	progress := level.ProgressFor(total)

	stats := shared.GamificationStats{
		UserID:            userID,
		TotalXP:           total,
		CurrentLevel:      info.Level,
		LevelTitle:        info.Title,
		XPToNextLevel:     progress.XPToNextLevel,
		XPProgressPercent: progress.XPProgressPercent,
		IsMilestoneLevel:  info.IsMilestone,
		MultiplierFactor:  1.0,
		UpdatedAt:         now,
	}

	if multipliers != nil {
		if state, ok := multipliers.GetActive(); ok {
			stats.MultiplierActive = true
			stats.MultiplierFactor = state.Factor
			stats.MultiplierExpiresAt = state.ExpiresAt
		}
	}

	return stats
}
