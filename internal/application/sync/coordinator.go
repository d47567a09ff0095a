package sync

import (
	"context"
	"sync"
	"time"

	"github.com/harmony-app/gamification-core/internal/application/command"
	"github.com/harmony-app/gamification-core/internal/application/query"
	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// DefaultDebounce is the reconciliation delay. A burst of awards inside this
// window collapses into a single authoritative read.
const DefaultDebounce = 50 * time.Millisecond

// Coordinator drives one session's view of the stats aggregate. Writes go
// optimistic-first: the UI sees the estimated result immediately, the ledger
// write follows, and a debounced reconciliation replaces the estimate with
// the authoritative state. On write failure the view reverts to the last
// authoritative snapshot.
type Coordinator struct {
	mu      sync.Mutex
	session *Session

	awards      *command.AwardXPHandler
	statsQuery  *query.GetStatsHandler
	multipliers *multiplier.Service
	bus         shared.EventPublisher

	debounce    time.Duration
	now         func() time.Time
	onCelebrate func(shared.LevelUpEvent)
	onLevelDown func(shared.LevelDownEvent)

	timer      *time.Timer
	pendingGen uint64
	lastStats  shared.GamificationStats
	hasStats   bool
	closed     bool
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDebounce overrides the reconciliation delay.
func WithDebounce(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.debounce = d }
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithCelebrationHook registers the callback the UI layer uses to fire
// level-up celebrations. Called outside the coordinator lock.
func WithCelebrationHook(fn func(shared.LevelUpEvent)) CoordinatorOption {
	return func(c *Coordinator) { c.onCelebrate = fn }
}

// WithLevelDownHook registers the callback for de-level notifications. The
// same per-session dedup that gates celebrations applies, mirrored. Called
// outside the coordinator lock.
func WithLevelDownHook(fn func(shared.LevelDownEvent)) CoordinatorOption {
	return func(c *Coordinator) { c.onLevelDown = fn }
}

// NewCoordinator creates a coordinator for one session.
func NewCoordinator(
	session *Session,
	awards *command.AwardXPHandler,
	statsQuery *query.GetStatsHandler,
	multipliers *multiplier.Service,
	bus shared.EventPublisher,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		session:     session,
		awards:      awards,
		statsQuery:  statsQuery,
		multipliers: multipliers,
		bus:         bus,
		debounce:    DefaultDebounce,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads the authoritative state and publishes the session's first
// snapshot, so the UI never renders from a guess.
func (c *Coordinator) Start(ctx context.Context) error {
	stats, err := c.statsQuery.Handle(ctx, query.GetStatsQuery{
		UserID:      c.session.UserID().String(),
		BypassCache: true,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.lastStats = stats
	c.hasStats = true
	c.session.observeLevel(stats.CurrentLevel)
	event := shared.NewStatsSnapshotEvent(shared.EventStatsReconciled, stats, c.session.nextVersion(), false)
	c.mu.Unlock()

	c.publish(event)
	return nil
}

// Award credits XP through the optimistic path.
func (c *Coordinator) Award(ctx context.Context, cmd command.AwardXPCommand) (*ledger.Result, error) {
	c.publishOptimistic(cmd.Amount)

	res, err := c.awards.Handle(ctx, cmd)
	if err != nil {
		c.publishRevert()
		return nil, err
	}

	c.afterApply(res)
	return res, nil
}

// Subtract debits XP through the optimistic path.
func (c *Coordinator) Subtract(ctx context.Context, cmd command.SubtractXPCommand) (*ledger.Result, error) {
	c.publishOptimistic(-cmd.Amount)

	res, err := c.awards.HandleSubtract(ctx, cmd)
	if err != nil {
		c.publishRevert()
		return nil, err
	}

	c.afterApply(res)
	return res, nil
}

// Flush runs a pending reconciliation immediately. Used on shutdown and by
// tests; a no-op when nothing is scheduled.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer.Stop()
	c.timer = nil
	gen := c.pendingGen
	c.mu.Unlock()

	c.reconcile(ctx, gen)
}

// Close cancels any scheduled reconciliation without running it.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// publishOptimistic estimates the post-write aggregate from the last known
// total and pushes it to the UI before the ledger is touched. The estimate
// applies the same scaling and clamping rules the ledger will, so in the
// common case reconciliation changes nothing visible.
func (c *Coordinator) publishOptimistic(delta int64) {
	scaled, _ := c.multipliers.Apply(delta)

	c.mu.Lock()
	base := c.lastStats.TotalXP
	estimated := base.Add(scaled)
	stats := command.AssembleStats(c.session.UserID(), estimated, c.multipliers, c.now())
	event := shared.NewStatsSnapshotEvent(shared.EventStatsPublished, stats, c.session.nextVersion(), true)
	c.mu.Unlock()

	c.publish(event)
}

// publishRevert restores the last authoritative snapshot after a failed
// write.
func (c *Coordinator) publishRevert() {
	c.mu.Lock()
	stats := c.lastStats
	if !c.hasStats {
		stats = command.AssembleStats(c.session.UserID(), 0, c.multipliers, c.now())
	}
	event := shared.NewStatsSnapshotEvent(shared.EventStatsReverted, stats, c.session.nextVersion(), false)
	c.mu.Unlock()

	c.publish(event)
}

// afterApply handles celebrations, de-level notifications, and schedules
// reconciliation once the ledger write has succeeded.
func (c *Coordinator) afterApply(res *ledger.Result) {
	var (
		celebration *shared.LevelUpEvent
		demotion    *shared.LevelDownEvent
	)

	c.mu.Lock()
	if !res.Replayed && c.session.shouldCelebrate(res.LeveledUp, res.NewLevel) {
		c.session.markCelebrated(res.NewLevel)
		ev := shared.NewLevelUpEvent(
			c.session.UserID().String(),
			res.PreviousLevel.Int(),
			res.NewLevel.Int(),
			res.LevelTitle,
			res.MilestoneReached,
		)
		celebration = &ev
	}
	switch {
	case !res.Replayed && c.session.shouldNotifyLevelDown(res.LeveledDown, res.PreviousLevel, res.NewLevel):
		c.session.markLevelDown(res.PreviousLevel, res.NewLevel)
		ev := shared.NewLevelDownEvent(
			c.session.UserID().String(),
			res.PreviousLevel.Int(),
			res.NewLevel.Int(),
			res.LevelTitle,
		)
		demotion = &ev
	case res.LeveledDown:
		c.session.observeLevel(res.NewLevel)
	}
	c.scheduleReconcileLocked()
	c.mu.Unlock()

	if celebration != nil && c.onCelebrate != nil {
		c.onCelebrate(*celebration)
	}
	if demotion != nil && c.onLevelDown != nil {
		c.onLevelDown(*demotion)
	}
}

// scheduleReconcileLocked (re)arms the debounce timer. Each call invalidates
// any in-flight reconciliation by advancing the generation. Caller holds
// c.mu.
func (c *Coordinator) scheduleReconcileLocked() {
	if c.closed {
		return
	}

	c.pendingGen++
	gen := c.pendingGen

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.reconcile(context.Background(), gen)
	})
}

// reconcile reads the authoritative aggregate and publishes it, unless a
// newer write has superseded this generation while the read was in flight.
func (c *Coordinator) reconcile(ctx context.Context, gen uint64) {
	stats, err := c.statsQuery.Handle(ctx, query.GetStatsQuery{
		UserID:      c.session.UserID().String(),
		BypassCache: true,
	})
	if err != nil {
		// The optimistic snapshot stays on screen; the next write or the
		// next Start reconciles it.
		return
	}

	c.mu.Lock()
	if gen != c.pendingGen || c.closed {
		c.mu.Unlock()
		return
	}
	c.pendingGen = gen + 1 // consume, so a duplicate firing is dropped
	c.timer = nil
	c.lastStats = stats
	c.hasStats = true
	c.session.observeLevel(stats.CurrentLevel)
	event := shared.NewStatsSnapshotEvent(shared.EventStatsReconciled, stats, c.session.nextVersion(), false)
	c.mu.Unlock()

	c.publish(event)
}

func (c *Coordinator) publish(event shared.Event) {
	if c.bus != nil {
		_ = c.bus.Publish(event)
	}
}
