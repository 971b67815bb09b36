// Package events defines the lifecycle notifications published as
// enrollments move through journeys.
package events

import (
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "voyager.enrollments"          // Enrollment lifecycle events
const CustomerEventsTopic = "voyager.events" // Inbound customer events for the trigger evaluator

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EnrollmentEnteredEvent   EventType = "enrollment.entered"
	EnrollmentAdvancedEvent  EventType = "enrollment.advanced"
	EnrollmentWaitingEvent   EventType = "enrollment.waiting"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
	EnrollmentExitedEvent    EventType = "enrollment.exited"

	MessageSentEvent    EventType = "message.sent"
	MessageOutcomeEvent EventType = "message.outcome"

	CustomerEventReceived EventType = "customer.event"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	JourneyID    string         `json:"journey_id"`
	EnrollmentID string         `json:"enrollment_id,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type EnrollmentEntered struct {
	BaseEvent

	CustomerID  string `json:"customer_id"`
	TriggerType string `json:"trigger_type"`
}

func (e EnrollmentEntered) GetType() EventType {
	return EnrollmentEnteredEvent
}

type EnrollmentAdvanced struct {
	BaseEvent

	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Handle     string `json:"handle"`
}

func (e EnrollmentAdvanced) GetType() EventType {
	return EnrollmentAdvancedEvent
}

type EnrollmentWaiting struct {
	BaseEvent

	NodeID string     `json:"node_id"`
	WakeAt *time.Time `json:"wake_at,omitempty"`
	Reason string     `json:"reason"`
}

func (e EnrollmentWaiting) GetType() EventType {
	return EnrollmentWaitingEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	GoalNodeID string        `json:"goal_node_id,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type EnrollmentExited struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Reason string `json:"reason"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedEvent
}

type MessageSent struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	CustomerID string `json:"customer_id"`
	MessageID  string `json:"message_id"`
	TemplateID string `json:"template_id,omitempty"`
}

func (e MessageSent) GetType() EventType {
	return MessageSentEvent
}

type MessageOutcome struct {
	BaseEvent

	NodeID    string         `json:"node_id"`
	MessageID string         `json:"message_id"`
	Outcome   models.Outcome `json:"outcome"`
	ButtonID  string         `json:"button_id,omitempty"`
}

func (e MessageOutcome) GetType() EventType {
	return MessageOutcomeEvent
}

// CustomerEvent is the inbound shape on the customer events topic. The
// trigger evaluator consumes it for journey entry and delay resume.
type CustomerEvent struct {
	BaseEvent

	Event *models.Event `json:"event"`
}

func (e CustomerEvent) GetType() EventType {
	return CustomerEventReceived
}
