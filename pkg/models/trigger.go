package models

import "time"

// TriggerType identifies what kind of real-world occurrence starts a journey.
type TriggerType string

const (
	TriggerSegmentJoined TriggerType = "segment_joined"
	TriggerSegmentExited TriggerType = "segment_exited"
	TriggerShopifyEvent  TriggerType = "shopify_event"
	TriggerSchedule      TriggerType = "schedule"
	TriggerManual        TriggerType = "manual"
)

// EntryFrequency controls whether and how often a customer may re-enter
// a journey.
type EntryFrequency struct {
	AllowReentry bool          `json:"allow_reentry"`
	Cooldown     time.Duration `json:"cooldown,omitempty"` // Minimum gap between entries when re-entry is allowed
	EntryLimit   int           `json:"entry_limit,omitempty"`
}

// EntryWindow bounds when a trigger accepts events. Zero times are open.
type EntryWindow struct {
	StartsAt time.Time `json:"starts_at,omitempty"`
	EndsAt   time.Time `json:"ends_at,omitempty"`
}

// TriggerConfig is the config blob of a journey's trigger node.
type TriggerConfig struct {
	TriggerType TriggerType `json:"trigger_type" validate:"required"`

	// Segment triggers.
	SegmentID string `json:"segment_id,omitempty"`

	// Commerce event triggers.
	EventName   string     `json:"event_name,omitempty"`
	EventFilter *RuleGroup `json:"event_filter,omitempty"`

	// Schedule triggers (standard cron syntax).
	Cron string `json:"cron,omitempty"`

	EntryFrequency EntryFrequency `json:"entry_frequency"`
	EntryWindow    EntryWindow    `json:"entry_window"`
}

// EventType classifies a normalized inbound event.
type EventType string

const (
	EventSegmentJoined EventType = "segment_joined"
	EventSegmentExited EventType = "segment_exited"
	EventShopify       EventType = "shopify_event"
	EventScheduleTick  EventType = "schedule_tick"
	EventManual        EventType = "manual"
)

// Event is a normalized inbound event as delivered by the ingestion layer.
// IdempotencyKey de-duplicates redeliveries: the same key never produces a
// second enrollment.
type Event struct {
	Type           EventType      `json:"type"            validate:"required"`
	CustomerID     string         `json:"customer_id"`
	Name           string         `json:"name,omitempty"` // Event name for shopify events, segment id for segment events
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
}
