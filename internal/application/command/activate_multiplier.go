package command

import (
	"context"
	"fmt"

	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVATE / DEACTIVATE MULTIPLIER COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// ActivateMultiplierCommand starts a multiplier window for a qualifying
// streak.
type ActivateMultiplierCommand struct {
	UserID       string
	StreakLength int
	Source       string
}

// Validate validates the command.
func (c ActivateMultiplierCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.StreakLength < 0 {
		return shared.NewDomainError("multiplier", "Validate", shared.ErrNegativeValue, "streak length cannot be negative")
	}
	if _, err := shared.NewSource(c.Source); err != nil {
		return err
	}
	return nil
}

// ActivateMultiplierResult reports the activated window.
type ActivateMultiplierResult struct {
	State multiplier.State
}

// ActivateMultiplierHandler handles multiplier lifecycle commands.
type ActivateMultiplierHandler struct {
	multipliers *multiplier.Service
	publisher   shared.EventPublisher
}

// NewActivateMultiplierHandler creates a new ActivateMultiplierHandler.
func NewActivateMultiplierHandler(multipliers *multiplier.Service, publisher shared.EventPublisher) *ActivateMultiplierHandler {
	return &ActivateMultiplierHandler{
		multipliers: multipliers,
		publisher:   publisher,
	}
}

// Handle executes the activate command. Rejections are final: the caller
// must not retry an ineligible or already-active activation.
func (h *ActivateMultiplierHandler) Handle(ctx context.Context, cmd ActivateMultiplierCommand) (*ActivateMultiplierResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("activate_multiplier: validation failed: %w", err)
	}

	source, _ := shared.NewSource(cmd.Source)

	state, err := h.multipliers.Activate(cmd.StreakLength, source)
	if err != nil {
		return nil, err
	}

	if h.publisher != nil {
		_ = h.publisher.Publish(shared.NewMultiplierEvent(
			shared.EventMultiplierActivated,
			cmd.UserID,
			state.Factor,
			state.Source.String(),
			state.ExpiresAt,
		))
	}

	return &ActivateMultiplierResult{State: state}, nil
}

// HandleDeactivate clears the active window early.
func (h *ActivateMultiplierHandler) HandleDeactivate(ctx context.Context, userID string) (*ActivateMultiplierResult, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, fmt.Errorf("deactivate_multiplier: validation failed: %w", err)
	}

	state, err := h.multipliers.Deactivate()
	if err != nil {
		return nil, err
	}

	if h.publisher != nil {
		_ = h.publisher.Publish(shared.NewMultiplierEvent(
			shared.EventMultiplierDeactivated,
			userID,
			state.Factor,
			state.Source.String(),
			state.ExpiresAt,
		))
	}

	return &ActivateMultiplierResult{State: state}, nil
}
