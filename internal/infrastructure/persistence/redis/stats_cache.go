package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harmony-app/gamification-core/internal/application/query"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
)

const (
	statsCacheKeyPrefix = "harmony:stats:"

	// DefaultStatsTTL keeps cached aggregates short-lived. Writes invalidate
	// explicitly; the TTL only covers crashes between write and invalidate.
	DefaultStatsTTL = 30 * time.Second
)

// StatsCache is a read-through Redis cache for the stats aggregate.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache creates a stats cache. ttl <= 0 uses DefaultStatsTTL.
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	return &StatsCache{client: client, ttl: ttl}
}

var _ query.StatsCache = (*StatsCache)(nil)

// cachedStats is the wire form; the domain aggregate stays JSON-free.
type cachedStats struct {
	UserID              string    `json:"user_id"`
	TotalXP             int64     `json:"total_xp"`
	CurrentLevel        int       `json:"current_level"`
	LevelTitle          string    `json:"level_title"`
	XPToNextLevel       int64     `json:"xp_to_next_level"`
	XPProgressPercent   int       `json:"xp_progress_percent"`
	IsMilestoneLevel    bool      `json:"is_milestone_level"`
	MultiplierActive    bool      `json:"multiplier_active"`
	MultiplierFactor    float64   `json:"multiplier_factor"`
	MultiplierExpiresAt time.Time `json:"multiplier_expires_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func cacheKey(userID shared.UserID) string {
	return statsCacheKeyPrefix + userID.String()
}

// Get implements query.StatsCache.
func (c *StatsCache) Get(ctx context.Context, userID shared.UserID) (shared.GamificationStats, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(userID)).Result()
	if err == redis.Nil {
		return shared.GamificationStats{}, false, nil
	}
	if err != nil {
		return shared.GamificationStats{}, false, err
	}

	var rec cachedStats
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it.
		return shared.GamificationStats{}, false, nil
	}

	return shared.GamificationStats{
		UserID:              shared.UserID(rec.UserID),
		TotalXP:             shared.XP(rec.TotalXP),
		CurrentLevel:        shared.Level(rec.CurrentLevel),
		LevelTitle:          rec.LevelTitle,
		XPToNextLevel:       rec.XPToNextLevel,
		XPProgressPercent:   rec.XPProgressPercent,
		IsMilestoneLevel:    rec.IsMilestoneLevel,
		MultiplierActive:    rec.MultiplierActive,
		MultiplierFactor:    rec.MultiplierFactor,
		MultiplierExpiresAt: rec.MultiplierExpiresAt,
		UpdatedAt:           rec.UpdatedAt,
	}, true, nil
}

// Set implements query.StatsCache.
func (c *StatsCache) Set(ctx context.Context, stats shared.GamificationStats) error {
	rec := cachedStats{
		UserID:              stats.UserID.String(),
		TotalXP:             stats.TotalXP.Int64(),
		CurrentLevel:        stats.CurrentLevel.Int(),
		LevelTitle:          stats.LevelTitle,
		XPToNextLevel:       stats.XPToNextLevel,
		XPProgressPercent:   stats.XPProgressPercent,
		IsMilestoneLevel:    stats.IsMilestoneLevel,
		MultiplierActive:    stats.MultiplierActive,
		MultiplierFactor:    stats.MultiplierFactor,
		MultiplierExpiresAt: stats.MultiplierExpiresAt,
		UpdatedAt:           stats.UpdatedAt,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, cacheKey(stats.UserID), data, c.ttl).Err()
}

// Invalidate implements query.StatsCache.
func (c *StatsCache) Invalidate(ctx context.Context, userID shared.UserID) error {
	return c.client.Del(ctx, cacheKey(userID)).Err()
}
