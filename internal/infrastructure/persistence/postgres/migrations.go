// Package postgres implements the relational persistence layer.
package postgres

// GetMigrations returns all embedded schema migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_ledger",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_history",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create the XP ledger and derived stats
-- Version: 001

-- Derived running total, one row per user. total_xp is maintained in the
-- same transaction as every ledger insert and never goes negative.
CREATE TABLE IF NOT EXISTS gamification_stats (
    user_id VARCHAR(64) PRIMARY KEY,
    total_xp BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT non_negative_total CHECK (total_xp >= 0)
);

-- Append-only transaction log. amount is the applied (scaled, clamped)
-- delta; raw_amount is what the caller requested. seq gives a total order
-- for entries that share a created_at timestamp.
CREATE TABLE IF NOT EXISTS xp_transactions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    operation_id VARCHAR(128) NOT NULL,
    amount BIGINT NOT NULL,
    raw_amount BIGINT NOT NULL,
    source VARCHAR(50) NOT NULL,
    multiplier_applied DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    resulting_total BIGINT NOT NULL,
    seq BIGSERIAL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT non_negative_resulting_total CHECK (resulting_total >= 0),
    UNIQUE(user_id, operation_id)
);

CREATE INDEX IF NOT EXISTS idx_xp_transactions_user_seq ON xp_transactions(user_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_created ON xp_transactions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_source ON xp_transactions(source);
`

const migration001Down = `
DROP TABLE IF EXISTS xp_transactions;
DROP TABLE IF EXISTS gamification_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE HISTORY
// Target tables for the one-shot legacy key-value store migration.
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create historical tables filled from the legacy store
-- Version: 002

CREATE TABLE IF NOT EXISTS challenges (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    title VARCHAR(255) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    target INTEGER NOT NULL DEFAULT 0,
    progress INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_challenge_status CHECK (status IN ('active', 'completed', 'abandoned'))
);

CREATE INDEX IF NOT EXISTS idx_challenges_user ON challenges(user_id);
CREATE INDEX IF NOT EXISTS idx_challenges_status ON challenges(status);

-- Per-day activity snapshots. Child rows of challenges, like the weekly
-- breakdowns below.
CREATE TABLE IF NOT EXISTS daily_snapshots (
    id SERIAL PRIMARY KEY,
    challenge_id VARCHAR(64) NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    day DATE NOT NULL,
    xp_gained BIGINT NOT NULL DEFAULT 0,
    entries_count INTEGER NOT NULL DEFAULT 0,
    habits_completed INTEGER NOT NULL DEFAULT 0,

    UNIQUE(user_id, day)
);

CREATE INDEX IF NOT EXISTS idx_daily_snapshots_user_day ON daily_snapshots(user_id, day DESC);
CREATE INDEX IF NOT EXISTS idx_daily_snapshots_challenge ON daily_snapshots(challenge_id);

-- Weekly per-challenge breakdowns. Child rows of challenges; the verifier
-- checks that no breakdown references a challenge that was not migrated.
CREATE TABLE IF NOT EXISTS weekly_breakdowns (
    id SERIAL PRIMARY KEY,
    challenge_id VARCHAR(64) NOT NULL REFERENCES challenges(id) ON DELETE CASCADE,
    week INTEGER NOT NULL,
    xp_gained BIGINT NOT NULL DEFAULT 0,
    completions INTEGER NOT NULL DEFAULT 0,

    UNIQUE(challenge_id, week),
    CONSTRAINT valid_week CHECK (week >= 1)
);

CREATE INDEX IF NOT EXISTS idx_weekly_breakdowns_challenge ON weekly_breakdowns(challenge_id);

-- User self-assessment ratings.
CREATE TABLE IF NOT EXISTS user_ratings (
    id SERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    category VARCHAR(50) NOT NULL,
    rating INTEGER NOT NULL,
    rated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    UNIQUE(user_id, category, rated_at),
    CONSTRAINT valid_rating CHECK (rating >= 1 AND rating <= 5)
);

CREATE INDEX IF NOT EXISTS idx_user_ratings_user ON user_ratings(user_id);
`

const migration002Down = `
DROP TABLE IF EXISTS user_ratings;
DROP TABLE IF EXISTS weekly_breakdowns;
DROP TABLE IF EXISTS daily_snapshots;
DROP TABLE IF EXISTS challenges;
`
