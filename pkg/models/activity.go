package models

import "time"

// ActivityEventType classifies an activity log record.
type ActivityEventType string

const (
	ActivityEntered        ActivityEventType = "entered"
	ActivityNodeEntered    ActivityEventType = "node_entered"
	ActivityNodeCompleted  ActivityEventType = "node_completed"
	ActivityConditionEval  ActivityEventType = "condition_evaluated"
	ActivityDelayScheduled ActivityEventType = "delay_scheduled"
	ActivityDelayResumed   ActivityEventType = "delay_resumed"
	ActivityDelayTimeout   ActivityEventType = "delay_timeout"
	ActivityMessageSent    ActivityEventType = "message_sent"
	ActivityMessageOutcome ActivityEventType = "message_outcome"
	ActivitySendDeferred   ActivityEventType = "send_deferred"
	ActivityRetryScheduled ActivityEventType = "retry_scheduled"
	ActivityDataError      ActivityEventType = "data_error"
	ActivityNodeFailed     ActivityEventType = "node_failed"
	ActivityCompleted      ActivityEventType = "completed"
	ActivityFailed         ActivityEventType = "failed"
	ActivityExited         ActivityEventType = "exited"
	ActivityManualSkip     ActivityEventType = "manual_skip"
	ActivityManualCancel   ActivityEventType = "manual_cancel"
)

// ActivityRecord is one append-only entry in an enrollment's history.
// Records are never mutated or deleted; the full history of an enrollment
// is reconstructable from its records alone.
type ActivityRecord struct {
	ID           string            `json:"id"`
	EnrollmentID string            `json:"enrollment_id"`
	JourneyID    string            `json:"journey_id"`
	NodeID       string            `json:"node_id,omitempty"`
	EventType    ActivityEventType `json:"event_type"`
	Timestamp    time.Time         `json:"timestamp"`
	Data         map[string]any    `json:"data,omitempty"`
}
