package command

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

// memStore is an in-memory ledger.Store with the same atomicity and
// idempotency guarantees the real one provides.
type memStore struct {
	mu      sync.Mutex
	totals  map[shared.UserID]shared.XP
	byOp    map[string]ledger.Transaction
	entries []ledger.Transaction
	seq     int64
}

func newMemStore() *memStore {
	return &memStore{
		totals: make(map[shared.UserID]shared.XP),
		byOp:   make(map[string]ledger.Transaction),
	}
}

func opKey(userID shared.UserID, operationID shared.OperationID) string {
	return userID.String() + "/" + operationID.String()
}

func (s *memStore) ApplyTransaction(_ context.Context, req ledger.ApplyRequest) (ledger.ApplyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.byOp[opKey(req.UserID, req.OperationID)]; ok {
		return ledger.ApplyOutcome{
			Transaction:   tx,
			PreviousTotal: tx.ResultingTotal,
			NewTotal:      tx.ResultingTotal,
			Replayed:      true,
		}, nil
	}

	previous := s.totals[req.UserID]
	applied := previous.ClampedDelta(req.Amount)
	newTotal := previous.Add(req.Amount)

	s.seq++
	tx := ledger.NewTransaction(req.UserID, req.OperationID, applied, req.RawAmount, req.Source, req.MultiplierApplied, newTotal)
	tx.Seq = s.seq

	s.totals[req.UserID] = newTotal
	s.byOp[opKey(req.UserID, req.OperationID)] = tx
	s.entries = append(s.entries, tx)

	return ledger.ApplyOutcome{
		Transaction:   tx,
		PreviousTotal: previous,
		NewTotal:      newTotal,
	}, nil
}

func (s *memStore) FindByOperationID(_ context.Context, userID shared.UserID, operationID shared.OperationID) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byOp[opKey(userID, operationID)]
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

func (s *memStore) ListTransactions(_ context.Context, userID shared.UserID, limit, offset int) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Transaction
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Reset(_ context.Context, userID shared.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.totals, userID)
	kept := s.entries[:0]
	for _, tx := range s.entries {
		if tx.UserID == userID {
			delete(s.byOp, opKey(tx.UserID, tx.OperationID))
			continue
		}
		kept = append(kept, tx)
	}
	s.entries = kept
	return nil
}

// capturingBus records published events for assertions.
type capturingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *capturingBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *capturingBus) byType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.Event
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestHandler() (*AwardXPHandler, *memStore, *multiplier.Service, *capturingBus) {
	store := newMemStore()
	multipliers := multiplier.NewService()
	bus := &capturingBus{}
	return NewAwardXPHandler(store, multipliers, bus), store, multipliers, bus
}

func TestAwardXPBasic(t *testing.T) {
	h, _, _, bus := newTestHandler()

	res, err := h.Handle(context.Background(), AwardXPCommand{
		UserID:      "user-1",
		Amount:      50,
		Source:      "habit_completion",
		OperationID: "op-basic-0001",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(50), res.XPGained)
	assert.Equal(t, shared.XP(50), res.TotalXP)
	assert.Equal(t, shared.Level(1), res.NewLevel)
	assert.False(t, res.LeveledUp)
	assert.False(t, res.Replayed)
	assert.Len(t, bus.byType(shared.EventXPGained), 1)
}

func TestAwardXPCrossesLevelThreshold(t *testing.T) {
	h, _, _, bus := newTestHandler()
	ctx := context.Background()

	// 50 then 30: the second award crosses the 75 XP threshold into level 2.
	_, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 50, Source: "habit_completion", OperationID: "op-cross-0001"})
	require.NoError(t, err)

	res, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 30, Source: "journal_entry", OperationID: "op-cross-0002"})
	require.NoError(t, err)

	assert.Equal(t, shared.XP(80), res.TotalXP)
	assert.Equal(t, shared.Level(1), res.PreviousLevel)
	assert.Equal(t, shared.Level(2), res.NewLevel)
	assert.True(t, res.LeveledUp)
	assert.Len(t, bus.byType(shared.EventLevelUp), 1)
}

func TestAwardXPIdempotentReplay(t *testing.T) {
	h, store, _, bus := newTestHandler()
	ctx := context.Background()

	cmd := AwardXPCommand{UserID: "user-1", Amount: 40, Source: "goal_progress", OperationID: "op-replay-0001"}

	first, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TotalXP, second.TotalXP)
	assert.Equal(t, first.OperationID, second.OperationID)
	assert.False(t, second.LeveledUp, "a replay reports no level transition")

	total, err := store.GetTotal(ctx, shared.UserID("user-1"))
	require.NoError(t, err)
	assert.Equal(t, shared.XP(40), total, "the duplicate must not be applied twice")

	assert.Len(t, bus.byType(shared.EventXPGained), 1, "replays publish no events")
}

func TestSubtractXPFloorsAtZero(t *testing.T) {
	h, _, _, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 30, Source: "habit_completion", OperationID: "op-floor-0001"})
	require.NoError(t, err)

	res, err := h.HandleSubtract(ctx, SubtractXPCommand{UserID: "user-1", Amount: 100, Source: "penalty", OperationID: "op-floor-0002"})
	require.NoError(t, err)

	assert.Equal(t, shared.XP(0), res.TotalXP)
	assert.Equal(t, int64(-30), res.XPGained, "the recorded delta is the clamped one")
}

func TestSubtractXPEmitsLevelDown(t *testing.T) {
	h, _, _, bus := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 80, Source: "habit_completion", OperationID: "op-down-0001"})
	require.NoError(t, err)

	res, err := h.HandleSubtract(ctx, SubtractXPCommand{UserID: "user-1", Amount: 20, Source: "correction", OperationID: "op-down-0002"})
	require.NoError(t, err)

	assert.Equal(t, shared.XP(60), res.TotalXP)
	assert.True(t, res.LeveledDown)
	assert.Equal(t, shared.Level(1), res.NewLevel)
	assert.Len(t, bus.byType(shared.EventLevelDown), 1)
}

func TestAwardXPWithActiveMultiplier(t *testing.T) {
	h, _, multipliers, _ := newTestHandler()
	ctx := context.Background()

	_, err := multipliers.Activate(7, shared.SourceStreakMilestone)
	require.NoError(t, err)

	res, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 50, Source: "habit_completion", OperationID: "op-mult-0001"})
	require.NoError(t, err)

	assert.Equal(t, int64(100), res.XPGained)
	assert.Equal(t, shared.XP(100), res.TotalXP)
	assert.Equal(t, 2.0, res.MultiplierApplied)

	// Subtractions pass through unscaled even while the window is open.
	res, err = h.HandleSubtract(ctx, SubtractXPCommand{UserID: "user-1", Amount: 10, Source: "penalty", OperationID: "op-mult-0002"})
	require.NoError(t, err)
	assert.Equal(t, shared.XP(90), res.TotalXP)
	assert.Equal(t, 1.0, res.MultiplierApplied)
}

func TestAwardXPValidation(t *testing.T) {
	h, _, _, _ := newTestHandler()
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  AwardXPCommand
	}{
		{"empty user", AwardXPCommand{Amount: 10, Source: "habit_completion", OperationID: "op-valid-0001"}},
		{"zero amount", AwardXPCommand{UserID: "u", Amount: 0, Source: "habit_completion", OperationID: "op-valid-0002"}},
		{"negative amount", AwardXPCommand{UserID: "u", Amount: -5, Source: "habit_completion", OperationID: "op-valid-0003"}},
		{"unknown source", AwardXPCommand{UserID: "u", Amount: 10, Source: "mystery", OperationID: "op-valid-0004"}},
		{"short operation id", AwardXPCommand{UserID: "u", Amount: 10, Source: "habit_completion", OperationID: "abc"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Handle(ctx, tc.cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "expected a validation error, got %v", err)
			assert.False(t, shared.IsRetryable(err), "validation failures are final")
		})
	}
}

func TestConcurrentAwardsAllApply(t *testing.T) {
	h, store, _, _ := newTestHandler()
	ctx := context.Background()

	const workers = 32
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := h.Handle(ctx, AwardXPCommand{
					UserID:      "user-1",
					Amount:      5,
					Source:      "habit_completion",
					OperationID: shared.NewOperationID().String(),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	total, err := store.GetTotal(ctx, shared.UserID("user-1"))
	require.NoError(t, err)
	assert.Equal(t, shared.XP(workers*perWorker*5), total,
		"every concurrent award must be applied exactly once")

	// Resulting totals in seq order must be consistent: each entry's total
	// equals the previous total plus its applied amount.
	entries, err := store.ListTransactions(ctx, shared.UserID("user-1"), 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, workers*perWorker)

	running := shared.XP(0)
	for i := len(entries) - 1; i >= 0; i-- { // list is newest first
		running = running.Add(entries[i].Amount)
		require.Equal(t, running, entries[i].ResultingTotal)
	}
}

func TestResetProgress(t *testing.T) {
	h, store, multipliers, _ := newTestHandler()
	ctx := context.Background()

	_, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 200, Source: "habit_completion", OperationID: "op-reset-0001"})
	require.NoError(t, err)
	_, err = multipliers.Activate(9, shared.SourceStreakMilestone)
	require.NoError(t, err)

	reset := NewResetProgressHandler(store, multipliers)

	err = reset.Handle(ctx, ResetProgressCommand{UserID: "user-1"})
	require.Error(t, err, "reset without confirmation must be refused")

	err = reset.Handle(ctx, ResetProgressCommand{UserID: "user-1", Confirm: true})
	require.NoError(t, err)

	total, err := store.GetTotal(ctx, shared.UserID("user-1"))
	require.NoError(t, err)
	assert.Equal(t, shared.XP(0), total)

	_, ok := multipliers.GetActive()
	assert.False(t, ok, "reset clears the multiplier window")

	// The old idempotency key is forgotten, so the operation can apply again.
	res, err := h.Handle(ctx, AwardXPCommand{UserID: "user-1", Amount: 10, Source: "habit_completion", OperationID: "op-reset-0001"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, shared.XP(10), res.TotalXP)
}
