package web

import "github.com/voyagerhq/voyager/pkg/models"

// PublishJourneyRequest carries the full graph from the builder UI.
type PublishJourneyRequest struct {
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Nodes       []*models.Node `json:"nodes"       validate:"required,min=1"`
	Edges       []*models.Edge `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"`
}

// SkipNodeRequest identifies who performed the manual intervention.
type SkipNodeRequest struct {
	Operator string `json:"operator" validate:"required"`
}

// CancelEnrollmentRequest identifies who cancelled and why.
type CancelEnrollmentRequest struct {
	Operator string `json:"operator" validate:"required"`
	Reason   string `json:"reason"`
}

// MessagingWebhookRequest is the normalized delivery callback shape.
type MessagingWebhookRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	Outcome   string `json:"outcome"    validate:"required"`
	ButtonID  string `json:"button_id,omitempty"`
}
