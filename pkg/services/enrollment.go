package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

const outcomeApplyRetries = 3

type Enrollment struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewEnrollment(p persistence.Persistence, logger *slog.Logger) *Enrollment {
	return &Enrollment{persistence: p, logger: logger.With("module", "services")}
}

// HealthCheck reports the persistence layer's health.
func (s *Enrollment) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListEnrollmentsRequest filters and paginates a journey's enrollments.
type ListEnrollmentsRequest struct {
	JourneyID string `validate:"required"`
	Status    *models.EnrollmentStatus
	Limit     int `validate:"min=0,max=100"`
	Offset    int `validate:"min=0"`
}

type ListEnrollmentsResponse struct {
	Enrollments []*models.Enrollment `json:"enrollments"`
	TotalCount  int64                `json:"total_count"`
	HasNextPage bool                 `json:"has_next_page"`
}

func (s *Enrollment) ListEnrollments(ctx context.Context, req ListEnrollmentsRequest) (*ListEnrollmentsResponse, error) {
	if req.JourneyID == "" {
		return nil, fmt.Errorf("%w: journey id is required", ErrInvalidRequest)
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	page, err := s.persistence.Enrollments().List(ctx, persistence.ListEnrollmentsOptions{
		JourneyID: req.JourneyID,
		Status:    req.Status,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	return &ListEnrollmentsResponse{
		Enrollments: page.Enrollments,
		TotalCount:  page.TotalCount,
		HasNextPage: page.HasNextPage,
	}, nil
}

// ActivityFeed returns an enrollment's history, newest first.
func (s *Enrollment) ActivityFeed(
	ctx context.Context,
	enrollmentID string,
	opts persistence.ActivityListOptions,
) ([]*models.ActivityRecord, error) {
	if _, err := s.persistence.Enrollments().GetByID(ctx, enrollmentID); err != nil {
		return nil, err
	}

	records, err := s.persistence.Activity().ListByEnrollment(ctx, enrollmentID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}

	return records, nil
}

// SkipNode manually advances an enrollment past its current node,
// following the first wired forward handle.
func (s *Enrollment) SkipNode(ctx context.Context, enrollmentID, operator string) (*models.Enrollment, error) {
	enrollment, err := s.persistence.Enrollments().GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if enrollment.Status.Terminal() {
		return nil, ErrEnrollmentTerminal
	}

	journey, err := s.persistence.Journeys().GetByID(ctx, enrollment.JourneyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journey: %w", err)
	}

	node, ok := journey.NodeByID(enrollment.CurrentNodeID)
	if !ok {
		return nil, fmt.Errorf("%w: current node missing from journey", ErrInvalidRequest)
	}

	next, handle, ok := firstWiredHandle(journey, node)
	if !ok {
		return nil, fmt.Errorf("%w: current node has no outgoing edge to skip to", ErrInvalidRequest)
	}

	now := time.Now().UTC()

	enrollment.ClearWaitState()
	enrollment.ClearFailure(node.ID)
	enrollment.Status = models.EnrollmentActive
	enrollment.CurrentNodeID = next
	enrollment.NodeEnteredAt = now
	enrollment.LastActivityAt = now
	enrollment.WakeAt = nil

	record := &models.ActivityRecord{
		EnrollmentID: enrollment.ID,
		JourneyID:    enrollment.JourneyID,
		NodeID:       node.ID,
		EventType:    models.ActivityManualSkip,
		Timestamp:    now,
		Data: map[string]any{
			"operator": operator,
			"handle":   handle,
			"to_node":  next,
		},
	}

	err = s.persistence.ApplyTransition(ctx, enrollment, enrollment.Version, []*models.ActivityRecord{record})
	if err != nil {
		if persistence.IsVersionConflict(err) {
			return nil, fmt.Errorf("%w: enrollment changed concurrently, retry", ErrInvalidRequest)
		}

		return nil, fmt.Errorf("failed to skip node: %w", err)
	}

	s.logger.InfoContext(ctx, "node skipped manually",
		"enrollment_id", enrollment.ID, "node_id", node.ID, "operator", operator)

	return enrollment, nil
}

// firstWiredHandle picks the skip target in declaration order of the
// node's handle set.
func firstWiredHandle(journey *models.Journey, node *models.Node) (string, string, bool) {
	for _, handle := range node.Handles() {
		if next, ok := journey.Next(node.ID, handle); ok {
			return next, handle, true
		}
	}

	return "", "", false
}

// Cancel terminates an enrollment as exited. Cancelling an already
// terminal enrollment is a no-op, not an error.
func (s *Enrollment) Cancel(ctx context.Context, enrollmentID, operator, reason string) (*models.Enrollment, error) {
	enrollment, err := s.persistence.Enrollments().GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if enrollment.Status.Terminal() {
		return enrollment, nil
	}

	now := time.Now().UTC()

	enrollment.ClearWaitState()
	enrollment.Status = models.EnrollmentExited
	enrollment.WakeAt = nil
	enrollment.LastActivityAt = now

	record := &models.ActivityRecord{
		EnrollmentID: enrollment.ID,
		JourneyID:    enrollment.JourneyID,
		NodeID:       enrollment.CurrentNodeID,
		EventType:    models.ActivityManualCancel,
		Timestamp:    now,
		Data: map[string]any{
			"operator": operator,
			"reason":   reason,
		},
	}

	err = s.persistence.ApplyTransition(ctx, enrollment, enrollment.Version, []*models.ActivityRecord{record})
	if err != nil {
		// The engine may have finished the enrollment in the meantime;
		// re-read and treat terminal as already cancelled.
		if persistence.IsVersionConflict(err) {
			current, getErr := s.persistence.Enrollments().GetByID(ctx, enrollmentID)
			if getErr == nil && current.Status.Terminal() {
				return current, nil
			}

			return nil, fmt.Errorf("%w: enrollment changed concurrently, retry", ErrInvalidRequest)
		}

		return nil, fmt.Errorf("failed to cancel enrollment: %w", err)
	}

	s.logger.InfoContext(ctx, "enrollment cancelled",
		"enrollment_id", enrollment.ID, "operator", operator)

	return enrollment, nil
}

// ApplyOutcome records a delivery webhook's outcome on the enrollment
// awaiting that message and wakes it for the next engine tick.
func (s *Enrollment) ApplyOutcome(
	ctx context.Context,
	messageID string,
	outcome models.Outcome,
	buttonID string,
) error {
	if !validOutcome(outcome) {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	for attempt := 0; attempt < outcomeApplyRetries; attempt++ {
		enrollment, err := s.persistence.Enrollments().FindByMessageID(ctx, messageID)
		if err != nil {
			if persistence.IsEnrollmentNotFound(err) {
				return ErrUnknownMessage
			}

			return fmt.Errorf("failed to find enrollment by message: %w", err)
		}

		if enrollment.Status.Terminal() {
			return nil
		}

		now := time.Now().UTC()

		enrollment.Metadata.ReceivedOutcome = outcome
		enrollment.Metadata.ReceivedButtonID = buttonID
		enrollment.WakeAt = &now
		enrollment.LastActivityAt = now

		err = s.persistence.ApplyTransition(ctx, enrollment, enrollment.Version, nil)
		if err == nil {
			return nil
		}

		if !persistence.IsVersionConflict(err) {
			return fmt.Errorf("failed to apply outcome: %w", err)
		}
	}

	return fmt.Errorf("failed to apply outcome for message %s: version conflicts persisted", messageID)
}

func validOutcome(outcome models.Outcome) bool {
	switch outcome {
	case models.OutcomeDelivered, models.OutcomeRead, models.OutcomeReplied,
		models.OutcomeFailed, models.OutcomeUnreachable, models.OutcomeButtonClicked:
		return true
	}

	return false
}
