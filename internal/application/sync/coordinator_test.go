package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmony-app/gamification-core/internal/application/command"
	"github.com/harmony-app/gamification-core/internal/application/query"
	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// memStore mirrors the real store's atomicity and idempotency guarantees.
type memStore struct {
	mu     gosync.Mutex
	totals map[shared.UserID]shared.XP
	byOp   map[string]ledger.Transaction
	seq    int64
}

func newMemStore() *memStore {
	return &memStore{
		totals: make(map[shared.UserID]shared.XP),
		byOp:   make(map[string]ledger.Transaction),
	}
}

func (s *memStore) ApplyTransaction(_ context.Context, req ledger.ApplyRequest) (ledger.ApplyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.UserID.String() + "/" + req.OperationID.String()
	if tx, ok := s.byOp[key]; ok {
		return ledger.ApplyOutcome{
			Transaction:   tx,
			PreviousTotal: tx.ResultingTotal,
			NewTotal:      tx.ResultingTotal,
			Replayed:      true,
		}, nil
	}

	previous := s.totals[req.UserID]
	newTotal := previous.Add(req.Amount)

	s.seq++
	tx := ledger.NewTransaction(req.UserID, req.OperationID, previous.ClampedDelta(req.Amount), req.RawAmount, req.Source, req.MultiplierApplied, newTotal)
	tx.Seq = s.seq

	s.totals[req.UserID] = newTotal
	s.byOp[key] = tx

	return ledger.ApplyOutcome{Transaction: tx, PreviousTotal: previous, NewTotal: newTotal}, nil
}

func (s *memStore) FindByOperationID(_ context.Context, userID shared.UserID, operationID shared.OperationID) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byOp[userID.String()+"/"+operationID.String()]
	if !ok {
		return ledger.Transaction{}, shared.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *memStore) GetTotal(_ context.Context, userID shared.UserID) (shared.XP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[userID], nil
}

func (s *memStore) ListTransactions(_ context.Context, _ shared.UserID, _, _ int) ([]ledger.Transaction, error) {
	return nil, nil
}

func (s *memStore) Reset(_ context.Context, userID shared.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.totals, userID)
	return nil
}

// capturingBus records snapshot events for assertions.
type capturingBus struct {
	mu     gosync.Mutex
	events []shared.Event
}

func (b *capturingBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *capturingBus) snapshots(t shared.EventType) []shared.StatsSnapshotEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.StatsSnapshotEvent
	for _, e := range b.events {
		if snap, ok := e.(shared.StatsSnapshotEvent); ok && snap.EventType() == t {
			out = append(out, snap)
		}
	}
	return out
}

func (b *capturingBus) versions() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint64
	for _, e := range b.events {
		if snap, ok := e.(shared.StatsSnapshotEvent); ok {
			out = append(out, snap.SyncVersion)
		}
	}
	return out
}

type fixture struct {
	coordinator  *Coordinator
	store        *memStore
	multipliers  *multiplier.Service
	bus          *capturingBus
	celebrations []shared.LevelUpEvent
	levelDowns   []shared.LevelDownEvent
	mu           gosync.Mutex
}

func (f *fixture) celebrated() []shared.LevelUpEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shared.LevelUpEvent(nil), f.celebrations...)
}

func (f *fixture) demoted() []shared.LevelDownEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shared.LevelDownEvent(nil), f.levelDowns...)
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *fixture {
	t.Helper()

	f := &fixture{
		store:       newMemStore(),
		multipliers: multiplier.NewService(),
		bus:         &capturingBus{},
	}

	awards := command.NewAwardXPHandler(f.store, f.multipliers, nil)
	statsQuery := query.NewGetStatsHandler(f.store, f.multipliers, nil)
	session := NewSession(shared.UserID("user-1"), shared.MinLevel)

	opts = append([]CoordinatorOption{
		// A long debounce keeps the timer from firing on its own; tests
		// drive reconciliation through Flush.
		WithDebounce(time.Hour),
		WithCelebrationHook(func(e shared.LevelUpEvent) {
			f.mu.Lock()
			f.celebrations = append(f.celebrations, e)
			f.mu.Unlock()
		}),
		WithLevelDownHook(func(e shared.LevelDownEvent) {
			f.mu.Lock()
			f.levelDowns = append(f.levelDowns, e)
			f.mu.Unlock()
		}),
	}, opts...)

	f.coordinator = NewCoordinator(session, awards, statsQuery, f.multipliers, f.bus, opts...)
	t.Cleanup(f.coordinator.Close)

	require.NoError(t, f.coordinator.Start(context.Background()))
	return f
}

func TestStartPublishesAuthoritativeSnapshot(t *testing.T) {
	f := newFixture(t)

	snaps := f.bus.snapshots(shared.EventStatsReconciled)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(1), snaps[0].SyncVersion)
	assert.Equal(t, shared.XP(0), snaps[0].Stats.TotalXP)
	assert.False(t, snaps[0].Optimistic)
}

func TestAwardPublishesOptimisticThenReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID:      "user-1",
		Amount:      50,
		Source:      "habit_completion",
		OperationID: "op-sync-0001",
	})
	require.NoError(t, err)
	assert.Equal(t, shared.XP(50), res.TotalXP)

	optimistic := f.bus.snapshots(shared.EventStatsPublished)
	require.Len(t, optimistic, 1)
	assert.True(t, optimistic[0].Optimistic)
	assert.Equal(t, shared.XP(50), optimistic[0].Stats.TotalXP,
		"the estimate matches what the ledger will apply")

	f.coordinator.Flush(ctx)

	reconciled := f.bus.snapshots(shared.EventStatsReconciled)
	require.Len(t, reconciled, 2) // Start plus this write
	final := reconciled[len(reconciled)-1]
	assert.Equal(t, shared.XP(50), final.Stats.TotalXP)
	assert.False(t, final.Optimistic)
}

func TestSnapshotVersionsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.coordinator.Award(ctx, command.AwardXPCommand{
			UserID:      "user-1",
			Amount:      10,
			Source:      "habit_completion",
			OperationID: shared.NewOperationID().String(),
		})
		require.NoError(t, err)
	}
	f.coordinator.Flush(ctx)

	versions := f.bus.versions()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestBurstCollapsesToOneReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.coordinator.Award(ctx, command.AwardXPCommand{
			UserID:      "user-1",
			Amount:      5,
			Source:      "habit_completion",
			OperationID: shared.NewOperationID().String(),
		})
		require.NoError(t, err)
	}
	f.coordinator.Flush(ctx)
	f.coordinator.Flush(ctx) // second flush has nothing pending

	reconciled := f.bus.snapshots(shared.EventStatsReconciled)
	require.Len(t, reconciled, 2, "Start plus exactly one for the whole burst")
	assert.Equal(t, shared.XP(20), reconciled[1].Stats.TotalXP)
}

func TestCelebrationFiresOncePerLevelPerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Cross into level 2 (threshold 75).
	_, err := f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 80, Source: "habit_completion", OperationID: "op-cel-0001",
	})
	require.NoError(t, err)

	celebrated := f.celebrated()
	require.Len(t, celebrated, 1)
	assert.Equal(t, 2, celebrated[0].NewLevel)

	// Drop below the threshold, then cross it again: same level, same
	// session, no second celebration.
	_, err = f.coordinator.Subtract(ctx, command.SubtractXPCommand{
		UserID: "user-1", Amount: 50, Source: "correction", OperationID: "op-cel-0002",
	})
	require.NoError(t, err)

	_, err = f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 60, Source: "habit_completion", OperationID: "op-cel-0003",
	})
	require.NoError(t, err)

	assert.Len(t, f.celebrated(), 1, "a level is celebrated at most once per session")
}

func TestLevelDownNotifiedOncePerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Cross into level 2 (threshold 75), then drop back below it.
	_, err := f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 80, Source: "habit_completion", OperationID: "op-down-0001",
	})
	require.NoError(t, err)

	_, err = f.coordinator.Subtract(ctx, command.SubtractXPCommand{
		UserID: "user-1", Amount: 50, Source: "penalty", OperationID: "op-down-0002",
	})
	require.NoError(t, err)

	demoted := f.demoted()
	require.Len(t, demoted, 1)
	assert.Equal(t, 2, demoted[0].PreviousLevel)
	assert.Equal(t, 1, demoted[0].NewLevel)

	// Climb back over the threshold and drop again: losing level 2 was
	// already notified this session.
	_, err = f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 60, Source: "habit_completion", OperationID: "op-down-0003",
	})
	require.NoError(t, err)
	f.coordinator.Flush(ctx)

	_, err = f.coordinator.Subtract(ctx, command.SubtractXPCommand{
		UserID: "user-1", Amount: 60, Source: "penalty", OperationID: "op-down-0004",
	})
	require.NoError(t, err)

	assert.Len(t, f.demoted(), 1, "a drop from the same level is notified at most once per session")
}

func TestReplayDoesNotCelebrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := command.AwardXPCommand{
		UserID: "user-1", Amount: 80, Source: "habit_completion", OperationID: "op-replay-0001",
	}

	_, err := f.coordinator.Award(ctx, cmd)
	require.NoError(t, err)
	require.Len(t, f.celebrated(), 1)

	// A fresh session would normally celebrate again, but the replayed
	// operation reports no transition at all.
	res, err := f.coordinator.Award(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Len(t, f.celebrated(), 1)
}

func TestFailedWriteRevertsToAuthoritative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 40, Source: "habit_completion", OperationID: "op-rev-0001",
	})
	require.NoError(t, err)
	f.coordinator.Flush(ctx)

	// An unknown source fails validation after the optimistic snapshot has
	// already gone out.
	_, err = f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 25, Source: "mystery", OperationID: "op-rev-0002",
	})
	require.Error(t, err)

	reverts := f.bus.snapshots(shared.EventStatsReverted)
	require.Len(t, reverts, 1)
	assert.Equal(t, shared.XP(40), reverts[0].Stats.TotalXP,
		"the view falls back to the last authoritative total")

	optimistic := f.bus.snapshots(shared.EventStatsPublished)
	last := optimistic[len(optimistic)-1]
	assert.Equal(t, shared.XP(65), last.Stats.TotalXP, "the optimistic estimate had applied the failed award")

	// Versions still advance across the revert.
	versions := f.bus.versions()
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestDebouncedReconciliationFiresOnItsOwn(t *testing.T) {
	f := newFixture(t, WithDebounce(10*time.Millisecond))
	ctx := context.Background()

	_, err := f.coordinator.Award(ctx, command.AwardXPCommand{
		UserID: "user-1", Amount: 30, Source: "habit_completion", OperationID: "op-deb-0001",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reconciled := f.bus.snapshots(shared.EventStatsReconciled)
		return len(reconciled) == 2 && reconciled[1].Stats.TotalXP == shared.XP(30)
	}, time.Second, 5*time.Millisecond)
}
