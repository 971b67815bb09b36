// Package triggers decides which inbound events start journeys and which
// resume waiting enrollments.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voyagerhq/voyager/pkg/conditions"
	"github.com/voyagerhq/voyager/pkg/eventbus"
	"github.com/voyagerhq/voyager/pkg/events"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

const resumeBatchSize = 200

// CustomerSource resolves a customer's current data snapshot.
type CustomerSource interface {
	Snapshot(ctx context.Context, customerID string) (*models.CustomerSnapshot, error)
}

// SegmentMembers lists current members of a segment, for schedule triggers.
type SegmentMembers interface {
	Members(ctx context.Context, segmentID string) ([]string, error)
}

type Evaluator struct {
	persistence persistence.Persistence
	customers   CustomerSource
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewEvaluator(
	p persistence.Persistence,
	customers CustomerSource,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		persistence: p,
		customers:   customers,
		publisher:   publisher,
		logger:      logger.With("module", "triggers"),
	}
}

// HandleEvent runs one normalized inbound event through every published
// journey's trigger and through the waiting-enrollment resume path.
// A journey that fails to enroll never blocks the others.
func (e *Evaluator) HandleEvent(ctx context.Context, event *models.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	journeys, err := e.persistence.Journeys().ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("failed to list published journeys: %w", err)
	}

	for _, journey := range journeys {
		if err := e.tryEnter(ctx, journey, event); err != nil {
			e.logger.ErrorContext(ctx, "trigger evaluation failed",
				"journey_id", journey.ID, "event_type", event.Type, "error", err)
		}
	}

	if event.Type == models.EventShopify && event.CustomerID != "" {
		if err := e.resumeWaiting(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "waiting resume failed",
				"event_name", event.Name, "error", err)
		}
	}

	return nil
}

func (e *Evaluator) tryEnter(ctx context.Context, journey *models.Journey, event *models.Event) error {
	trigger, ok := journey.TriggerNode()
	if !ok || trigger.Trigger == nil {
		return nil
	}

	config := trigger.Trigger

	if !matches(journey, config, event) {
		return nil
	}

	snapshot, err := e.customers.Snapshot(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to load customer snapshot: %w", err)
	}

	if config.EventFilter != nil && !config.EventFilter.Empty() {
		passed, issues := conditions.EvaluateRules(config.EventFilter, withPayload(snapshot, event.Payload))
		if !passed {
			if len(issues) > 0 {
				e.logger.WarnContext(ctx, "event filter had data issues",
					"journey_id", journey.ID, "customer_id", event.CustomerID, "issues", issues)
			}

			return nil
		}
	}

	allowed, err := e.allowEntry(ctx, journey.ID, event.CustomerID, config, event.OccurredAt)
	if err != nil {
		return err
	}

	if !allowed {
		return nil
	}

	return e.Enroll(ctx, journey, event)
}

// matches checks the trigger's type-level match; filters and entry rules
// come after.
func matches(journey *models.Journey, config *models.TriggerConfig, event *models.Event) bool {
	switch config.TriggerType {
	case models.TriggerSegmentJoined:
		return event.Type == models.EventSegmentJoined && event.Name == config.SegmentID
	case models.TriggerSegmentExited:
		return event.Type == models.EventSegmentExited && event.Name == config.SegmentID
	case models.TriggerShopifyEvent:
		return event.Type == models.EventShopify && event.Name == config.EventName
	case models.TriggerSchedule:
		return event.Type == models.EventScheduleTick && event.Name == journey.ID
	case models.TriggerManual:
		return event.Type == models.EventManual && event.Name == journey.ID
	}

	return false
}

func (e *Evaluator) allowEntry(
	ctx context.Context,
	journeyID, customerID string,
	config *models.TriggerConfig,
	occurredAt time.Time,
) (bool, error) {
	window := config.EntryWindow
	if !window.StartsAt.IsZero() && occurredAt.Before(window.StartsAt) {
		return false, nil
	}

	if !window.EndsAt.IsZero() && occurredAt.After(window.EndsAt) {
		return false, nil
	}

	stats, err := e.persistence.Enrollments().EntryStatsFor(ctx, journeyID, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to load entry stats: %w", err)
	}

	if stats.Total == 0 {
		return true, nil
	}

	frequency := config.EntryFrequency
	if !frequency.AllowReentry {
		return false, nil
	}

	if frequency.EntryLimit > 0 && stats.Total >= frequency.EntryLimit {
		return false, nil
	}

	if frequency.Cooldown > 0 && stats.LastEnteredAt != nil &&
		occurredAt.Before(stats.LastEnteredAt.Add(frequency.Cooldown)) {
		return false, nil
	}

	return true, nil
}

// Enroll creates the enrollment at the trigger's next node. The
// idempotency key is registered first so redelivered events never
// produce a second enrollment.
func (e *Evaluator) Enroll(ctx context.Context, journey *models.Journey, event *models.Event) error {
	trigger, ok := journey.TriggerNode()
	if !ok {
		return fmt.Errorf("journey %s has no trigger node", journey.ID)
	}

	firstNodeID, ok := journey.Next(trigger.ID, models.HandleNext)
	if !ok {
		return fmt.Errorf("journey %s trigger has no outgoing edge", journey.ID)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate enrollment ID: %w", err)
	}

	claimed, err := e.persistence.Enrollments().RegisterEntry(ctx, entryKey(journey.ID, event), id.String())
	if err != nil {
		return fmt.Errorf("failed to register entry key: %w", err)
	}

	if !claimed {
		e.logger.DebugContext(ctx, "duplicate entry event ignored",
			"journey_id", journey.ID, "customer_id", event.CustomerID)

		return nil
	}

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		ID:             id.String(),
		JourneyID:      journey.ID,
		CustomerID:     event.CustomerID,
		Status:         models.EnrollmentActive,
		CurrentNodeID:  firstNodeID,
		EnteredAt:      now,
		LastActivityAt: now,
		NodeEnteredAt:  now,
		Version:        1,
	}

	if err := e.persistence.Enrollments().Create(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	record := &models.ActivityRecord{
		EnrollmentID: enrollment.ID,
		JourneyID:    journey.ID,
		NodeID:       trigger.ID,
		EventType:    models.ActivityEntered,
		Timestamp:    now,
		Data: map[string]any{
			"trigger_type": string(trigger.Trigger.TriggerType),
			"event_type":   string(event.Type),
		},
	}
	if err := e.persistence.Activity().Append(ctx, record); err != nil {
		return fmt.Errorf("failed to append entry record: %w", err)
	}

	e.logger.InfoContext(ctx, "enrollment created",
		"journey_id", journey.ID, "customer_id", event.CustomerID, "enrollment_id", enrollment.ID)

	if e.publisher != nil {
		entered := events.EnrollmentEntered{
			BaseEvent: events.BaseEvent{
				Type:         events.EnrollmentEnteredEvent,
				Timestamp:    now,
				JourneyID:    journey.ID,
				EnrollmentID: enrollment.ID,
			},
			CustomerID:  event.CustomerID,
			TriggerType: string(trigger.Trigger.TriggerType),
		}
		if err := e.publisher.Publish(ctx, enrollment.ID, entered); err != nil {
			e.logger.ErrorContext(ctx, "failed to publish entered event", "error", err)
		}
	}

	return nil
}

func entryKey(journeyID string, event *models.Event) string {
	if event.IdempotencyKey != "" {
		return journeyID + ":" + event.IdempotencyKey
	}

	return fmt.Sprintf("%s:%s:%s:%d", journeyID, event.CustomerID, event.Type, event.OccurredAt.Unix())
}

// resumeWaiting wakes enrollments parked on a wait_for_event delay whose
// awaited event name and filter match the inbound event. The wake itself
// just moves WakeAt to now; the worker engine routes the resumed handle.
func (e *Evaluator) resumeWaiting(ctx context.Context, event *models.Event) error {
	waiting, err := e.persistence.Enrollments().WaitingForEvent(ctx, event.Name, resumeBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list waiting enrollments: %w", err)
	}

	for _, enrollment := range waiting {
		if enrollment.CustomerID != event.CustomerID {
			continue
		}

		passed, err := e.eventFilterPasses(ctx, enrollment, event)
		if err != nil {
			e.logger.ErrorContext(ctx, "resume filter check failed",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		if !passed {
			continue
		}

		if err := e.wake(ctx, enrollment, event.Payload); err != nil {
			e.logger.ErrorContext(ctx, "failed to wake enrollment",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}

	return nil
}

func (e *Evaluator) eventFilterPasses(
	ctx context.Context,
	enrollment *models.Enrollment,
	event *models.Event,
) (bool, error) {
	journey, err := e.persistence.Journeys().GetByID(ctx, enrollment.JourneyID)
	if err != nil {
		return false, fmt.Errorf("failed to load journey: %w", err)
	}

	node, ok := journey.NodeByID(enrollment.CurrentNodeID)
	if !ok || node.Delay == nil {
		return false, nil
	}

	filter := node.Delay.EventFilter
	if filter == nil || filter.Empty() {
		return true, nil
	}

	snapshot, err := e.customers.Snapshot(ctx, enrollment.CustomerID)
	if err != nil {
		return false, fmt.Errorf("failed to load customer snapshot: %w", err)
	}

	passed, _ := conditions.EvaluateRules(filter, withPayload(snapshot, event.Payload))

	return passed, nil
}

// ResumeForAttribute wakes enrollments parked on a wait_for_attribute
// delay once the customer's attribute reaches its target value.
func (e *Evaluator) ResumeForAttribute(ctx context.Context, snapshot *models.CustomerSnapshot, attributePath string) error {
	waiting, err := e.persistence.Enrollments().WaitingForAttribute(ctx, attributePath, resumeBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list waiting enrollments: %w", err)
	}

	for _, enrollment := range waiting {
		if enrollment.CustomerID != snapshot.CustomerID {
			continue
		}

		journey, err := e.persistence.Journeys().GetByID(ctx, enrollment.JourneyID)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to load journey for resume",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		node, ok := journey.NodeByID(enrollment.CurrentNodeID)
		if !ok || node.Delay == nil {
			continue
		}

		rule := &models.RuleGroup{Conditions: []*models.RuleCondition{{
			Property: node.Delay.AttributePath,
			Operator: models.OpEquals,
			Value:    node.Delay.TargetValue,
		}}}

		passed, _ := conditions.EvaluateRules(rule, snapshot)
		if !passed {
			continue
		}

		if err := e.wake(ctx, enrollment, nil); err != nil {
			e.logger.ErrorContext(ctx, "failed to wake enrollment",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}

	return nil
}

func (e *Evaluator) wake(ctx context.Context, enrollment *models.Enrollment, payload map[string]any) error {
	now := time.Now().UTC()

	enrollment.WakeAt = &now
	enrollment.LastActivityAt = now
	enrollment.Metadata.ResumePayload = payload
	if enrollment.Metadata.ResumePayload == nil {
		enrollment.Metadata.ResumePayload = map[string]any{}
	}

	err := e.persistence.ApplyTransition(ctx, enrollment, enrollment.Version, nil)
	if err != nil {
		// A concurrent write (timeout tick, cancel) superseded the wake.
		if persistence.IsVersionConflict(err) {
			return nil
		}

		return err
	}

	return nil
}

// withPayload overlays the event payload under "event" so filters can
// address both customer attributes and event fields.
func withPayload(snapshot *models.CustomerSnapshot, payload map[string]any) *models.CustomerSnapshot {
	if len(payload) == 0 {
		return snapshot
	}

	merged := &models.CustomerSnapshot{
		CustomerID: snapshot.CustomerID,
		Phone:      snapshot.Phone,
		Timezone:   snapshot.Timezone,
		Attributes: make(map[string]any, len(snapshot.Attributes)+1),
	}

	for key, value := range snapshot.Attributes {
		merged.Attributes[key] = value
	}

	merged.Attributes["event"] = payload

	return merged
}
