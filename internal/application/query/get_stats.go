// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/harmony-app/gamification-core/internal/application/command"
	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// StatsCache is an optional read-through cache for the stats aggregate.
// A miss is (zero, false, nil); cache errors are swallowed by the handler
// because the ledger is always able to answer.
type StatsCache interface {
	Get(ctx context.Context, userID shared.UserID) (shared.GamificationStats, bool, error)
	Set(ctx context.Context, stats shared.GamificationStats) error
	Invalidate(ctx context.Context, userID shared.UserID) error
}

// GetStatsQuery requests the derived stats aggregate for a user.
type GetStatsQuery struct {
	UserID string

	// BypassCache forces a ledger read, used right after writes.
	BypassCache bool
}

// GetStatsHandler assembles GamificationStats from the authoritative total
// and the multiplier state.
type GetStatsHandler struct {
	store       ledger.Store
	multipliers *multiplier.Service
	cache       StatsCache
	now         func() time.Time
}

// NewGetStatsHandler creates a new GetStatsHandler. cache may be nil.
func NewGetStatsHandler(store ledger.Store, multipliers *multiplier.Service, cache StatsCache) *GetStatsHandler {
	return &GetStatsHandler{
		store:       store,
		multipliers: multipliers,
		cache:       cache,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the query.
func (h *GetStatsHandler) Handle(ctx context.Context, q GetStatsQuery) (shared.GamificationStats, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return shared.GamificationStats{}, fmt.Errorf("get_stats: validation failed: %w", err)
	}

	if h.cache != nil && !q.BypassCache {
		if stats, ok, err := h.cache.Get(ctx, userID); err == nil && ok {
			return stats, nil
		}
	}

	total, err := h.store.GetTotal(ctx, userID)
	if err != nil {
		return shared.GamificationStats{}, shared.WrapError("ledger", "GetStats", shared.ErrStorage, "total read failed", err)
	}

	stats := command.AssembleStats(userID, total, h.multipliers, h.now())

	if h.cache != nil {
		_ = h.cache.Set(ctx, stats)
	}

	return stats, nil
}
