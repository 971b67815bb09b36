package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

// ScheduleRunner fires schedule triggers. Each tick it finds published
// journeys whose cron expression came due since the previous tick and
// enrolls the configured segment's members through the evaluator.
type ScheduleRunner struct {
	persistence persistence.Persistence
	segments    SegmentMembers
	evaluator   *Evaluator
	interval    time.Duration
	logger      *slog.Logger

	lastTick time.Time
}

func NewScheduleRunner(
	p persistence.Persistence,
	segments SegmentMembers,
	evaluator *Evaluator,
	interval time.Duration,
	logger *slog.Logger,
) *ScheduleRunner {
	if interval <= 0 {
		interval = time.Minute
	}

	return &ScheduleRunner{
		persistence: p,
		segments:    segments,
		evaluator:   evaluator,
		interval:    interval,
		logger:      logger.With("module", "schedule"),
	}
}

// Start blocks until the context is cancelled.
func (r *ScheduleRunner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.lastTick = time.Now().UTC()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.tick(ctx, now.UTC())
		}
	}
}

func (r *ScheduleRunner) tick(ctx context.Context, now time.Time) {
	since := r.lastTick
	r.lastTick = now

	journeys, err := r.persistence.Journeys().ListPublished(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list published journeys", "error", err)

		return
	}

	for _, journey := range journeys {
		due, err := scheduleDue(journey, since, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "invalid cron expression",
				"journey_id", journey.ID, "error", err)

			continue
		}

		if !due {
			continue
		}

		if err := r.fire(ctx, journey, now); err != nil {
			r.logger.ErrorContext(ctx, "schedule fire failed",
				"journey_id", journey.ID, "error", err)
		}
	}
}

// scheduleDue reports whether the journey's cron expression has a firing
// time inside (since, now].
func scheduleDue(journey *models.Journey, since, now time.Time) (bool, error) {
	trigger, ok := journey.TriggerNode()
	if !ok || trigger.Trigger == nil || trigger.Trigger.TriggerType != models.TriggerSchedule {
		return false, nil
	}

	schedule, err := cron.ParseStandard(trigger.Trigger.Cron)
	if err != nil {
		return false, fmt.Errorf("failed to parse cron %q: %w", trigger.Trigger.Cron, err)
	}

	next := schedule.Next(since)

	return !next.After(now), nil
}

func (r *ScheduleRunner) fire(ctx context.Context, journey *models.Journey, now time.Time) error {
	trigger, _ := journey.TriggerNode()

	members, err := r.segments.Members(ctx, trigger.Trigger.SegmentID)
	if err != nil {
		return fmt.Errorf("failed to list segment members: %w", err)
	}

	r.logger.InfoContext(ctx, "schedule trigger fired",
		"journey_id", journey.ID, "members", len(members))

	for _, customerID := range members {
		event := &models.Event{
			Type:           models.EventScheduleTick,
			CustomerID:     customerID,
			Name:           journey.ID,
			OccurredAt:     now,
			IdempotencyKey: fmt.Sprintf("schedule:%s:%s:%d", journey.ID, customerID, now.Truncate(r.interval).Unix()),
		}

		if err := r.evaluator.tryEnter(ctx, journey, event); err != nil {
			r.logger.ErrorContext(ctx, "schedule enrollment failed",
				"journey_id", journey.ID, "customer_id", customerID, "error", err)
		}
	}

	return nil
}
