package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestReadChallenges(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "legacy:challenge:ch-001",
		`{"id":"ch-001","user_id":"user-1","title":"Morning pages","status":"completed","target":30,"progress":30,"started_at":"2025-01-01T00:00:00Z","completed_at":"2025-02-01T00:00:00Z"}`, 0).Err())
	require.NoError(t, client.Set(ctx, "legacy:challenge:ch-002",
		`{"user_id":"user-1","title":"Cold showers","status":"active","target":60,"progress":12,"started_at":"2025-03-01T00:00:00Z"}`, 0).Err())

	challenges, err := store.ReadChallenges(ctx)
	require.NoError(t, err)
	require.Len(t, challenges, 2)

	assert.Equal(t, "ch-001", challenges[0].ID)
	assert.Equal(t, "completed", challenges[0].Status)
	require.NotNil(t, challenges[0].CompletedAt)

	// A record without an embedded ID falls back to the key.
	assert.Equal(t, "ch-002", challenges[1].ID)
	assert.Nil(t, challenges[1].CompletedAt)
}

func TestReadTransactionsPreservesListOrder(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, "legacy:transactions:user-1",
		`{"operation_id":"legacy-op-0001","amount":50,"source":"habit_completion","resulting_total":50,"created_at":"2025-01-01T10:00:00Z"}`,
		`{"operation_id":"legacy-op-0002","amount":-20,"source":"correction","resulting_total":30,"created_at":"2025-01-02T10:00:00Z"}`,
		`{"operation_id":"legacy-op-0003","amount":25,"source":"journal_entry","resulting_total":55,"created_at":"2025-01-03T10:00:00Z"}`,
	).Err())

	txs, err := store.ReadTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, "legacy-op-0001", txs[0].OperationID)
	assert.Equal(t, "legacy-op-0003", txs[2].OperationID)
	assert.Equal(t, int64(55), txs[2].ResultingTotal)
	for _, tx := range txs {
		assert.Equal(t, "user-1", tx.UserID)
	}
}

func TestReadSnapshots(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "legacy:snapshot:user-1:2025-04-15",
		`{"challenge_id":"ch-001","xp_gained":120,"entries_count":3,"habits_completed":5}`, 0).Err())

	snaps, err := store.ReadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	assert.Equal(t, "ch-001", snaps[0].ChallengeID)
	assert.Equal(t, "user-1", snaps[0].UserID)
	assert.Equal(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), snaps[0].Day)
	assert.Equal(t, int64(120), snaps[0].XPGained)
}

func TestReadSnapshotsRequiresChallengeReference(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "legacy:snapshot:user-1:2025-04-16",
		`{"xp_gained":40,"entries_count":1,"habits_completed":2}`, 0).Err())

	_, err := store.ReadSnapshots(ctx)
	require.Error(t, err, "a snapshot without its parent challenge must fail the category")
	assert.Contains(t, err.Error(), "challenge_id")
}

func TestParseBreakdownKey(t *testing.T) {
	challengeID, week, err := parseBreakdownKey("legacy:breakdown:challenge_ch-001_week_3")
	require.NoError(t, err)
	assert.Equal(t, "ch-001", challengeID)
	assert.Equal(t, 3, week)

	// Challenge IDs can contain underscores; the split anchors on the last
	// _week_ marker.
	challengeID, week, err = parseBreakdownKey("legacy:breakdown:challenge_deep_work_week_12")
	require.NoError(t, err)
	assert.Equal(t, "deep_work", challengeID)
	assert.Equal(t, 12, week)

	_, _, err = parseBreakdownKey("legacy:breakdown:challenge_ch-001")
	assert.Error(t, err)

	_, _, err = parseBreakdownKey("legacy:breakdown:challenge_ch-001_week_zero")
	assert.Error(t, err)
}

func TestReadBreakdowns(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "legacy:breakdown:challenge_ch-001_week_1",
		`{"xp_gained":70,"completions":7}`, 0).Err())
	require.NoError(t, client.Set(ctx, "legacy:breakdown:challenge_ch-001_week_2",
		`{"xp_gained":50,"completions":5}`, 0).Err())

	breakdowns, err := store.ReadBreakdowns(ctx)
	require.NoError(t, err)
	require.Len(t, breakdowns, 2)

	assert.Equal(t, "ch-001", breakdowns[0].ChallengeID)
	assert.Equal(t, 1, breakdowns[0].Week)
	assert.Equal(t, int64(70), breakdowns[0].XPGained)
	assert.Equal(t, 2, breakdowns[1].Week)
}

func TestReadRatings(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "legacy:rating:user-1:mood:1714557600",
		`{"rating":4}`, 0).Err())

	ratings, err := store.ReadRatings(ctx)
	require.NoError(t, err)
	require.Len(t, ratings, 1)

	assert.Equal(t, "user-1", ratings[0].UserID)
	assert.Equal(t, "mood", ratings[0].Category)
	assert.Equal(t, 4, ratings[0].Rating)
	assert.Equal(t, time.Unix(1714557600, 0).UTC(), ratings[0].RatedAt, "timestamp falls back to the key")
}

func TestMalformedRecordFailsTheRead(t *testing.T) {
	client := newTestClient(t)
	store := NewLegacyStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "legacy:challenge:ch-bad", `{not json`, 0).Err())

	_, err := store.ReadChallenges(ctx)
	require.Error(t, err, "a malformed record must fail the category, not be skipped")
}

func TestStatsCacheRoundTrip(t *testing.T) {
	client := newTestClient(t)
	cache := NewStatsCache(client, time.Minute)
	ctx := context.Background()

	userID := shared.UserID("user-1")

	_, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := shared.GamificationStats{
		UserID:            userID,
		TotalXP:           shared.XP(150),
		CurrentLevel:      shared.Level(2),
		LevelTitle:        "Beginner",
		XPToNextLevel:     75,
		XPProgressPercent: 50,
		MultiplierFactor:  1.0,
		UpdatedAt:         time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Set(ctx, stats))

	got, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stats.TotalXP, got.TotalXP)
	assert.Equal(t, stats.CurrentLevel, got.CurrentLevel)

	require.NoError(t, cache.Invalidate(ctx, userID))

	_, ok, err = cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}
