// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Progress events
	EventXPGained        EventType = "progress.xp_gained"
	EventLevelUp         EventType = "progress.level_up"
	EventLevelDown       EventType = "progress.level_down"
	EventStatsPublished  EventType = "progress.stats_published"
	EventStatsReconciled EventType = "progress.stats_reconciled"
	EventStatsReverted   EventType = "progress.stats_reverted"

	// Multiplier events
	EventMultiplierActivated   EventType = "multiplier.activated"
	EventMultiplierDeactivated EventType = "multiplier.deactivated"
	EventMultiplierExpired     EventType = "multiplier.expired"

	// Migration events
	EventMigrationCategoryDone EventType = "migration.category_done"
	EventMigrationCompleted    EventType = "migration.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventBus combines publishing and subscription.
type EventBus interface {
	EventPublisher
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted after the ledger durably applies a transaction.
// Amount is the signed, multiplier-scaled delta that was actually applied.
type XPGainedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	NewTotal    int64  `json:"new_total"`
	Source      string `json:"source"`
	OperationID string `json:"operation_id"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"amount":       e.Amount,
		"new_total":    e.NewTotal,
		"source":       e.Source,
		"operation_id": e.OperationID,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount, newTotal int64, source, operationID string) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent:   NewBaseEvent(EventXPGained, userID),
		UserID:      userID,
		Amount:      amount,
		NewTotal:    newTotal,
		Source:      source,
		OperationID: operationID,
	}
}

// LevelUpEvent is emitted at most once per level per session, carrying
// everything the celebration surface needs.
type LevelUpEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	PreviousLevel int    `json:"previous_level"`
	NewLevel      int    `json:"new_level"`
	Title         string `json:"title"`
	IsMilestone   bool   `json:"is_milestone"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"previous_level": e.PreviousLevel,
		"new_level":      e.NewLevel,
		"title":          e.Title,
		"is_milestone":   e.IsMilestone,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, previousLevel, newLevel int, title string, isMilestone bool) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:     NewBaseEvent(EventLevelUp, userID),
		UserID:        userID,
		PreviousLevel: previousLevel,
		NewLevel:      newLevel,
		Title:         title,
		IsMilestone:   isMilestone,
	}
}

// LevelDownEvent mirrors LevelUpEvent for subtractions that cross a
// threshold downward. Same de-duplication rules apply.
type LevelDownEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	PreviousLevel int    `json:"previous_level"`
	NewLevel      int    `json:"new_level"`
	Title         string `json:"title"`
}

// Payload implements Event interface.
func (e LevelDownEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"previous_level": e.PreviousLevel,
		"new_level":      e.NewLevel,
		"title":          e.Title,
	}
}

// NewLevelDownEvent creates a new LevelDownEvent.
func NewLevelDownEvent(userID string, previousLevel, newLevel int, title string) LevelDownEvent {
	return LevelDownEvent{
		BaseEvent:     NewBaseEvent(EventLevelDown, userID),
		UserID:        userID,
		PreviousLevel: previousLevel,
		NewLevel:      newLevel,
		Title:         title,
	}
}

// StatsSnapshotEvent publishes a GamificationStats snapshot to UI
// subscribers. SyncVersion increases monotonically per session so listeners
// can discard out-of-order deliveries.
type StatsSnapshotEvent struct {
	BaseEvent
	Stats       GamificationStats `json:"stats"`
	SyncVersion uint64            `json:"sync_version"`
	Optimistic  bool              `json:"optimistic"`
}

// Payload implements Event interface.
func (e StatsSnapshotEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.Stats.UserID.String(),
		"total_xp":     e.Stats.TotalXP.Int64(),
		"level":        e.Stats.CurrentLevel.Int(),
		"sync_version": e.SyncVersion,
		"optimistic":   e.Optimistic,
	}
}

// NewStatsSnapshotEvent creates a snapshot event of the given kind.
func NewStatsSnapshotEvent(eventType EventType, stats GamificationStats, version uint64, optimistic bool) StatsSnapshotEvent {
	return StatsSnapshotEvent{
		BaseEvent:   NewBaseEvent(eventType, stats.UserID.String()),
		Stats:       stats,
		SyncVersion: version,
		Optimistic:  optimistic,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Multiplier Events
// ═══════════════════════════════════════════════════════════════════════════

// MultiplierEvent covers activation, deactivation, and lazy expiry.
type MultiplierEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	Factor    float64   `json:"factor"`
	Source    string    `json:"source"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payload implements Event interface.
func (e MultiplierEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"factor":     e.Factor,
		"source":     e.Source,
		"expires_at": e.ExpiresAt.Format(time.RFC3339),
	}
}

// NewMultiplierEvent creates a multiplier lifecycle event.
func NewMultiplierEvent(eventType EventType, userID string, factor float64, source string, expiresAt time.Time) MultiplierEvent {
	return MultiplierEvent{
		BaseEvent: NewBaseEvent(eventType, userID),
		UserID:    userID,
		Factor:    factor,
		Source:    source,
		ExpiresAt: expiresAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Migration Events
// ═══════════════════════════════════════════════════════════════════════════

// MigrationCategoryEvent reports one category's outcome during a run.
type MigrationCategoryEvent struct {
	BaseEvent
	Category    string `json:"category"`
	LegacyCount int    `json:"legacy_count"`
	TargetCount int    `json:"target_count"`
	Succeeded   bool   `json:"succeeded"`
}

// Payload implements Event interface.
func (e MigrationCategoryEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"category":     e.Category,
		"legacy_count": e.LegacyCount,
		"target_count": e.TargetCount,
		"succeeded":    e.Succeeded,
	}
}

// NewMigrationCategoryEvent creates a per-category migration event.
func NewMigrationCategoryEvent(category string, legacyCount, targetCount int, succeeded bool) MigrationCategoryEvent {
	return MigrationCategoryEvent{
		BaseEvent:   NewBaseEvent(EventMigrationCategoryDone, category),
		Category:    category,
		LegacyCount: legacyCount,
		TargetCount: targetCount,
		Succeeded:   succeeded,
	}
}
