package models

import "time"

// EnrollmentStatus is the lifecycle state of one customer's progress
// through one journey.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentWaiting   EnrollmentStatus = "waiting"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentFailed    EnrollmentStatus = "failed"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// Terminal reports whether the status admits no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentFailed || s == EnrollmentExited
}

// FailureEntry tracks retry state for one node of one enrollment. It is
// reset when the node is successfully left and never decremented otherwise.
type FailureEntry struct {
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// EnrollmentMetadata is the engine-owned mutable state that rides along
// with an enrollment between ticks. It is persisted as a whole so a
// crash-and-restart resumes exactly where it left off.
type EnrollmentMetadata struct {
	Failures map[string]*FailureEntry `json:"failures,omitempty"` // Keyed by node id

	// Set while an action node awaits its delivery webhook.
	PendingMessageID string  `json:"pending_message_id,omitempty"`
	ReceivedOutcome  Outcome `json:"received_outcome,omitempty"`
	ReceivedButtonID string  `json:"received_button_id,omitempty"`

	// Set while a delay node waits on an external occurrence, so the
	// ingest path can find and resume matching enrollments.
	WaitingEvent     string `json:"waiting_event,omitempty"`
	WaitingAttribute string `json:"waiting_attribute,omitempty"`

	// Matched event payload captured on resume, for condition filters.
	ResumePayload map[string]any `json:"resume_payload,omitempty"`
}

// Enrollment is one customer's progress instance through one journey.
// At most one node is ever current; branches always resolve to a single
// next node.
type Enrollment struct {
	ID             string             `json:"id"`
	JourneyID      string             `json:"journey_id"`
	CustomerID     string             `json:"customer_id"`
	Status         EnrollmentStatus   `json:"status"`
	CurrentNodeID  string             `json:"current_node_id"`
	EnteredAt      time.Time          `json:"entered_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	NodeEnteredAt  time.Time          `json:"node_entered_at"`
	WakeAt         *time.Time         `json:"wake_at,omitempty"` // Required whenever Status is waiting
	Metadata       EnrollmentMetadata `json:"metadata"`

	// Version is the optimistic concurrency counter: every persisted
	// mutation increments it, and writers must present the version they
	// read or the write is rejected.
	Version int64 `json:"version"`
}

// Failure returns the failure entry for a node, allocating it on first use.
func (e *Enrollment) Failure(nodeID string) *FailureEntry {
	if e.Metadata.Failures == nil {
		e.Metadata.Failures = make(map[string]*FailureEntry)
	}

	entry, ok := e.Metadata.Failures[nodeID]
	if !ok {
		entry = &FailureEntry{}
		e.Metadata.Failures[nodeID] = entry
	}

	return entry
}

// ClearFailure resets the retry counter for a node after it is
// successfully left.
func (e *Enrollment) ClearFailure(nodeID string) {
	delete(e.Metadata.Failures, nodeID)
}

// ClearWaitState drops webhook/event wait markers when leaving a node.
func (e *Enrollment) ClearWaitState() {
	e.Metadata.PendingMessageID = ""
	e.Metadata.ReceivedOutcome = ""
	e.Metadata.ReceivedButtonID = ""
	e.Metadata.WaitingEvent = ""
	e.Metadata.WaitingAttribute = ""
}
