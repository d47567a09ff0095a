package command

import (
	"context"
	"fmt"

	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET PROGRESS COMMAND
// Developer and support tooling only. Wipes the ledger, the derived total,
// and any active multiplier in one shot.
// ══════════════════════════════════════════════════════════════════════════════

// ResetProgressCommand wipes all gamification state for a user.
type ResetProgressCommand struct {
	UserID string

	// Confirm must be set; a zero-value command must never wipe anything.
	Confirm bool
}

// Validate validates the command.
func (c ResetProgressCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if !c.Confirm {
		return shared.NewDomainError("ledger", "Reset", shared.ErrInvalidInput, "reset requires explicit confirmation")
	}
	return nil
}

// ResetProgressHandler handles the ResetProgressCommand.
type ResetProgressHandler struct {
	store       ledger.Store
	multipliers *multiplier.Service
}

// NewResetProgressHandler creates a new ResetProgressHandler.
func NewResetProgressHandler(store ledger.Store, multipliers *multiplier.Service) *ResetProgressHandler {
	return &ResetProgressHandler{
		store:       store,
		multipliers: multipliers,
	}
}

// Handle executes the reset command.
func (h *ResetProgressHandler) Handle(ctx context.Context, cmd ResetProgressCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("reset_progress: validation failed: %w", err)
	}

	userID, _ := shared.NewUserID(cmd.UserID)

	if err := h.store.Reset(ctx, userID); err != nil {
		return shared.WrapError("ledger", "Reset", shared.ErrStorage, "reset failed", err)
	}

	// A dangling multiplier after a reset would scale the first award of the
	// fresh ledger, so it goes too. Not having one is fine.
	if h.multipliers != nil {
		_, _ = h.multipliers.Deactivate()
	}

	return nil
}
