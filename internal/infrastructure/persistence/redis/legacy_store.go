// Package redis holds the Redis-backed pieces: the read-only view of the
// legacy key-value store the migration drains, and the short-TTL stats
// cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
	"github.com/harmony-app/gamification-core/internal/infrastructure/migration"
	"github.com/harmony-app/gamification-core/pkg/timeutil"
)

// Legacy key layout. The old client wrote one JSON blob per record, keyed by
// prefix plus identifying fields; transactions are the exception, stored as
// a per-user list in application order.
const (
	legacyChallengePrefix   = "legacy:challenge:"
	legacyTransactionPrefix = "legacy:transactions:"
	legacySnapshotPrefix    = "legacy:snapshot:"
	legacyBreakdownPrefix   = "legacy:breakdown:"
	legacyRatingPrefix      = "legacy:rating:"

	scanBatchSize = 200
)

// LegacyStore reads the legacy gamification data out of Redis. It never
// writes: a failed migration leaves the legacy data untouched and the run is
// simply repeated.
type LegacyStore struct {
	client *redis.Client
}

// NewLegacyStore creates a legacy store reader.
func NewLegacyStore(client *redis.Client) *LegacyStore {
	return &LegacyStore{client: client}
}

var _ migration.LegacyStore = (*LegacyStore)(nil)

// Ping verifies the legacy store is reachable before a run starts.
func (s *LegacyStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return shared.WrapError("migration", "Ping", shared.ErrStorage, "legacy store unreachable", err)
	}
	return nil
}

// scanKeys walks all keys under a prefix. Results are sorted so repeated
// runs read categories in a stable order.
func (s *LegacyStore) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
		if err != nil {
			return nil, shared.WrapError("migration", "Scan", shared.ErrStorage, "legacy key scan failed", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// legacyChallenge mirrors the JSON the old client wrote.
type legacyChallenge struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Target      int        `json:"target"`
	Progress    int        `json:"progress"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReadChallenges implements migration.LegacyStore.
func (s *LegacyStore) ReadChallenges(ctx context.Context) ([]migration.Challenge, error) {
	keys, err := s.scanKeys(ctx, legacyChallengePrefix)
	if err != nil {
		return nil, err
	}

	out := make([]migration.Challenge, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return nil, shared.WrapError("migration", "ReadChallenges", shared.ErrStorage, "legacy read failed", err)
		}

		var rec legacyChallenge
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("challenge %s: malformed legacy record: %w", key, err)
		}
		if rec.ID == "" {
			rec.ID = strings.TrimPrefix(key, legacyChallengePrefix)
		}

		out = append(out, migration.Challenge{
			ID:          rec.ID,
			UserID:      rec.UserID,
			Title:       rec.Title,
			Status:      rec.Status,
			Target:      rec.Target,
			Progress:    rec.Progress,
			StartedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
		})
	}
	return out, nil
}

type legacyTransaction struct {
	OperationID    string    `json:"operation_id"`
	Amount         int64     `json:"amount"`
	Source         string    `json:"source"`
	ResultingTotal int64     `json:"resulting_total"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadTransactions implements migration.LegacyStore. Each user's entries
// come from a Redis list in application order; that order is preserved so
// resulting totals stay consistent after the copy.
func (s *LegacyStore) ReadTransactions(ctx context.Context) ([]migration.Transaction, error) {
	keys, err := s.scanKeys(ctx, legacyTransactionPrefix)
	if err != nil {
		return nil, err
	}

	var out []migration.Transaction
	for _, key := range keys {
		userID := strings.TrimPrefix(key, legacyTransactionPrefix)

		items, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, shared.WrapError("migration", "ReadTransactions", shared.ErrStorage, "legacy read failed", err)
		}

		for i, item := range items {
			var rec legacyTransaction
			if err := json.Unmarshal([]byte(item), &rec); err != nil {
				return nil, fmt.Errorf("transaction %s[%d]: malformed legacy record: %w", key, i, err)
			}
			out = append(out, migration.Transaction{
				UserID:         userID,
				OperationID:    rec.OperationID,
				Amount:         rec.Amount,
				Source:         rec.Source,
				ResultingTotal: rec.ResultingTotal,
				CreatedAt:      rec.CreatedAt,
			})
		}
	}
	return out, nil
}

type legacySnapshot struct {
	ChallengeID     string `json:"challenge_id"`
	XPGained        int64  `json:"xp_gained"`
	EntriesCount    int    `json:"entries_count"`
	HabitsCompleted int    `json:"habits_completed"`
}

// ReadSnapshots implements migration.LegacyStore. Keys look like
// legacy:snapshot:<user>:<YYYY-MM-DD>.
func (s *LegacyStore) ReadSnapshots(ctx context.Context) ([]migration.DailySnapshot, error) {
	keys, err := s.scanKeys(ctx, legacySnapshotPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]migration.DailySnapshot, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, legacySnapshotPrefix)
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("snapshot key %q: cannot split user and date", key)
		}
		userID, dateStr := rest[:idx], rest[idx+1:]

		day, err := timeutil.ParseDay(dateStr)
		if err != nil {
			return nil, fmt.Errorf("snapshot key %q: bad date: %w", key, err)
		}

		raw, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return nil, shared.WrapError("migration", "ReadSnapshots", shared.ErrStorage, "legacy read failed", err)
		}

		var rec legacySnapshot
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("snapshot %s: malformed legacy record: %w", key, err)
		}
		if rec.ChallengeID == "" {
			return nil, fmt.Errorf("snapshot %s: malformed legacy record: missing challenge_id", key)
		}

		out = append(out, migration.DailySnapshot{
			ChallengeID:     rec.ChallengeID,
			UserID:          userID,
			Day:             day,
			XPGained:        rec.XPGained,
			EntriesCount:    rec.EntriesCount,
			HabitsCompleted: rec.HabitsCompleted,
		})
	}
	return out, nil
}

type legacyBreakdown struct {
	XPGained    int64 `json:"xp_gained"`
	Completions int   `json:"completions"`
}

// parseBreakdownKey extracts the challenge ID and week number from a key of
// the form legacy:breakdown:challenge_<id>_week_<n>. Challenge IDs may
// themselves contain underscores, so the split anchors on the trailing
// "_week_" marker.
func parseBreakdownKey(key string) (challengeID string, week int, err error) {
	rest := strings.TrimPrefix(key, legacyBreakdownPrefix)
	if !strings.HasPrefix(rest, "challenge_") {
		return "", 0, fmt.Errorf("breakdown key %q: missing challenge_ prefix", key)
	}
	rest = strings.TrimPrefix(rest, "challenge_")

	idx := strings.LastIndex(rest, "_week_")
	if idx <= 0 {
		return "", 0, fmt.Errorf("breakdown key %q: missing _week_ marker", key)
	}

	challengeID = rest[:idx]
	week, err = strconv.Atoi(rest[idx+len("_week_"):])
	if err != nil || week < 1 {
		return "", 0, fmt.Errorf("breakdown key %q: bad week number", key)
	}
	return challengeID, week, nil
}

// ReadBreakdowns implements migration.LegacyStore.
func (s *LegacyStore) ReadBreakdowns(ctx context.Context) ([]migration.WeeklyBreakdown, error) {
	keys, err := s.scanKeys(ctx, legacyBreakdownPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]migration.WeeklyBreakdown, 0, len(keys))
	for _, key := range keys {
		challengeID, week, err := parseBreakdownKey(key)
		if err != nil {
			return nil, err
		}

		raw, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return nil, shared.WrapError("migration", "ReadBreakdowns", shared.ErrStorage, "legacy read failed", err)
		}

		var rec legacyBreakdown
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("breakdown %s: malformed legacy record: %w", key, err)
		}

		out = append(out, migration.WeeklyBreakdown{
			ChallengeID: challengeID,
			Week:        week,
			XPGained:    rec.XPGained,
			Completions: rec.Completions,
		})
	}
	return out, nil
}

type legacyRating struct {
	Rating  int       `json:"rating"`
	RatedAt time.Time `json:"rated_at"`
}

// ReadRatings implements migration.LegacyStore. Keys look like
// legacy:rating:<user>:<category>:<unix-timestamp>.
func (s *LegacyStore) ReadRatings(ctx context.Context) ([]migration.Rating, error) {
	keys, err := s.scanKeys(ctx, legacyRatingPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]migration.Rating, 0, len(keys))
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, legacyRatingPrefix), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("rating key %q: want user:category:timestamp", key)
		}

		raw, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return nil, shared.WrapError("migration", "ReadRatings", shared.ErrStorage, "legacy read failed", err)
		}

		var rec legacyRating
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("rating %s: malformed legacy record: %w", key, err)
		}
		if rec.RatedAt.IsZero() {
			if unix, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
				rec.RatedAt = time.Unix(unix, 0).UTC()
			}
		}

		out = append(out, migration.Rating{
			UserID:   parts[0],
			Category: parts[1],
			Rating:   rec.Rating,
			RatedAt:  rec.RatedAt,
		})
	}
	return out, nil
}
