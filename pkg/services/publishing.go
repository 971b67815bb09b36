package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

// Publishing validates journey graphs and moves them through their
// lifecycle. Publishing is the gate: the engine only ever executes
// published definitions, so everything structural is checked here.
type Publishing struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewPublishing(p persistence.Persistence, logger *slog.Logger) *Publishing {
	return &Publishing{persistence: p, logger: logger.With("module", "publishing")}
}

// SaveDraft stores a journey without validation beyond basic shape. Drafts
// are editable and never executed.
func (s *Publishing) SaveDraft(ctx context.Context, journey *models.Journey) (*models.Journey, error) {
	if journey == nil {
		return nil, fmt.Errorf("%w: journey is required", ErrInvalidRequest)
	}

	journey.Status = models.JourneyStatusDraft

	if err := s.persistence.Journeys().Save(ctx, journey); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	return journey, nil
}

// Publish validates the full graph and marks the journey executable.
func (s *Publishing) Publish(ctx context.Context, journey *models.Journey) (*models.Journey, error) {
	if journey == nil {
		return nil, fmt.Errorf("%w: journey is required", ErrInvalidRequest)
	}

	if journey.Status == models.JourneyStatusArchived {
		return nil, ErrNotPublishable
	}

	// Compile first: journeys arrive with raw config blobs, and validation
	// inspects the decoded configs.
	if err := journey.Compile(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJourney, err)
	}

	if err := models.ValidateJourney(journey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJourney, err)
	}

	now := time.Now().UTC()
	journey.Status = models.JourneyStatusPublished
	journey.PublishedAt = &now

	if err := s.persistence.Journeys().Save(ctx, journey); err != nil {
		return nil, fmt.Errorf("failed to publish journey: %w", err)
	}

	s.logger.InfoContext(ctx, "journey published",
		"journey_id", journey.ID, "name", journey.Name)

	return journey, nil
}

// Pause stops new enrollments while existing ones keep advancing.
func (s *Publishing) Pause(ctx context.Context, journeyID string) (*models.Journey, error) {
	journey, err := s.persistence.Journeys().GetByID(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if journey.Status != models.JourneyStatusPublished {
		return nil, ErrNotPublishable
	}

	journey.Status = models.JourneyStatusPaused

	if err := s.persistence.Journeys().Save(ctx, journey); err != nil {
		return nil, fmt.Errorf("failed to pause journey: %w", err)
	}

	return journey, nil
}
