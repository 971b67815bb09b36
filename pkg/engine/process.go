package engine

import (
	"context"
	"time"

	"github.com/voyagerhq/voyager/pkg/delay"
	"github.com/voyagerhq/voyager/pkg/dispatch"
	"github.com/voyagerhq/voyager/pkg/eventbus"
	"github.com/voyagerhq/voyager/pkg/events"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/otelhelper"
	"github.com/voyagerhq/voyager/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// step carries the mutable state of one enrollment's processing pass.
type step struct {
	enrollment *models.Enrollment
	journey    *models.Journey
	snapshot   *models.CustomerSnapshot
	now        time.Time
	records    []*models.ActivityRecord
	published  []eventbus.Event
}

// Process advances one claimed enrollment until it waits, terminates, or
// exhausts the per-tick hop budget. All mutations land in a single
// optimistic write; losing the version race is silent and safe because
// the winner already advanced the enrollment.
func (e *Engine) Process(ctx context.Context, enrollment *models.Enrollment, now time.Time) {
	if enrollment.Status.Terminal() {
		return
	}

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "engine.process",
			attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
			attribute.String(otelhelper.JourneyIDKey, enrollment.JourneyID),
			attribute.String(otelhelper.CustomerIDKey, enrollment.CustomerID),
		)
		defer span.End()
	}

	expected := enrollment.Version

	journey, err := e.persistence.Journeys().GetByID(ctx, enrollment.JourneyID)
	if err != nil {
		if persistence.IsJourneyNotFound(err) {
			e.failNow(ctx, enrollment, expected, "journey definition missing", now)

			return
		}

		e.logger.ErrorContext(ctx, "failed to load journey",
			"enrollment_id", enrollment.ID, "error", err)

		return
	}

	snapshot, err := e.customers.Snapshot(ctx, enrollment.CustomerID)
	if err != nil {
		// Transient; the lease expires and another tick retries.
		e.logger.ErrorContext(ctx, "failed to load customer snapshot",
			"enrollment_id", enrollment.ID, "error", err)

		return
	}

	s := &step{
		enrollment: enrollment,
		journey:    journey,
		snapshot:   snapshot,
		now:        now,
	}

	for range e.config.MaxHopsPerTick {
		if enrollment.Status != models.EnrollmentActive && !e.dueWhileWaiting(enrollment, now) {
			break
		}

		node, ok := journey.NodeByID(enrollment.CurrentNodeID)
		if !ok {
			e.configError(s, "current node missing from journey graph")

			break
		}

		var proceed bool

		switch node.Type {
		case models.NodeTypeCondition:
			proceed = e.handleCondition(ctx, s, node)
		case models.NodeTypeDelay:
			proceed = e.handleDelay(ctx, s, node)
		case models.NodeTypeAction:
			proceed = e.handleAction(ctx, s, node)
		case models.NodeTypeGoal:
			proceed = e.handleGoal(s, node)
		default:
			e.configError(s, "node type cannot be executed")

			proceed = false
		}

		if !proceed {
			break
		}
	}

	err = e.persistence.ApplyTransition(ctx, enrollment, expected, s.records)
	if err != nil {
		if persistence.IsVersionConflict(err) {
			e.logger.DebugContext(ctx, "transition lost version race",
				"enrollment_id", enrollment.ID)

			return
		}

		e.logger.ErrorContext(ctx, "failed to persist transition",
			"enrollment_id", enrollment.ID, "error", err)

		return
	}

	e.publish(ctx, s)
}

// dueWhileWaiting reports whether a waiting enrollment's wake time has
// arrived, which is the only reason a waiting enrollment gets claimed.
func (e *Engine) dueWhileWaiting(enrollment *models.Enrollment, now time.Time) bool {
	return enrollment.Status == models.EnrollmentWaiting &&
		enrollment.WakeAt != nil && !enrollment.WakeAt.After(now)
}

func (e *Engine) handleCondition(ctx context.Context, s *step, node *models.Node) bool {
	enrollment := s.enrollment
	enrollment.Status = models.EnrollmentActive
	enrollment.WakeAt = nil

	result, issues, err := e.conditions.Evaluate(ctx, node.Condition, s.snapshot, s.now)
	if err != nil {
		return e.transientFailure(s, node, err.Error(), models.FailureHandling{})
	}

	for _, issue := range issues {
		s.record(node.ID, models.ActivityDataError, map[string]any{
			"property": issue.Property,
			"reason":   issue.Reason,
		})
	}

	handle := models.HandleFalse
	if result {
		handle = models.HandleTrue
	} else if len(issues) > 0 && node.Condition.AddElseBranch {
		handle = models.HandleElse
	}

	s.record(node.ID, models.ActivityConditionEval, map[string]any{
		"result": result,
		"handle": handle,
	})

	return e.advance(s, node, handle)
}

func (e *Engine) handleDelay(ctx context.Context, s *step, node *models.Node) bool {
	enrollment := s.enrollment

	entering := enrollment.Status == models.EnrollmentActive ||
		enrollment.Metadata.Failures[node.ID] != nil

	if entering {
		return e.enterDelay(ctx, s, node)
	}

	// Claimed while waiting: either an external resume moved the wake
	// time up, or the stored wake time arrived on its own.
	if enrollment.Metadata.ResumePayload != nil {
		s.record(node.ID, models.ActivityDelayResumed, map[string]any{
			"payload": enrollment.Metadata.ResumePayload,
		})

		enrollment.Metadata.ResumePayload = nil

		return e.advance(s, node, models.HandleResumed)
	}

	if node.Delay.DelayType == models.DelayWaitForEvent ||
		node.Delay.DelayType == models.DelayWaitForAttribute {
		return e.delayTimeout(s, node)
	}

	s.record(node.ID, models.ActivityDelayResumed, nil)

	return e.advance(s, node, models.HandleResumed)
}

func (e *Engine) enterDelay(ctx context.Context, s *step, node *models.Node) bool {
	enrollment := s.enrollment

	decision, err := e.delays.Enter(ctx, node.Delay, enrollment.NodeEnteredAt, s.now, s.snapshot)
	if err != nil {
		return e.transientFailure(s, node, err.Error(), models.FailureHandling{})
	}

	enrollment.ClearFailure(node.ID)

	if decision.Resume {
		data := map[string]any{}
		if decision.Warning != "" {
			data["warning"] = decision.Warning
		}

		s.record(node.ID, models.ActivityDelayResumed, data)

		return e.advance(s, node, models.HandleResumed)
	}

	enrollment.Status = models.EnrollmentWaiting
	enrollment.WakeAt = decision.WakeAt
	enrollment.LastActivityAt = s.now

	switch node.Delay.DelayType {
	case models.DelayWaitForEvent:
		enrollment.Metadata.WaitingEvent = node.Delay.EventName
	case models.DelayWaitForAttribute:
		enrollment.Metadata.WaitingAttribute = node.Delay.AttributePath
	}

	s.record(node.ID, models.ActivityDelayScheduled, map[string]any{
		"delay_type": string(node.Delay.DelayType),
		"wake_at":    decision.WakeAt,
	})
	s.publishLater(events.EnrollmentWaiting{
		BaseEvent: e.baseEvent(events.EnrollmentWaitingEvent, s),
		NodeID:    node.ID,
		WakeAt:    decision.WakeAt,
		Reason:    string(node.Delay.DelayType),
	})

	return false
}

func (e *Engine) delayTimeout(s *step, node *models.Node) bool {
	s.record(node.ID, models.ActivityDelayTimeout, map[string]any{
		"behavior": string(delay.OnTimeout(node.Delay)),
	})

	switch delay.OnTimeout(node.Delay) {
	case models.TimeoutExit:
		e.exitNow(s, node, "wait timed out")

		return false
	case models.TimeoutBranch:
		return e.advance(s, node, models.HandleTimeout)
	default:
		return e.advance(s, node, models.HandleResumed)
	}
}

func (e *Engine) handleAction(ctx context.Context, s *step, node *models.Node) bool {
	enrollment := s.enrollment

	if enrollment.Metadata.PendingMessageID != "" {
		return e.resolvePendingOutcome(s, node)
	}

	result, err := e.dispatcher.Send(ctx, s.journey.ID, node.Action, s.snapshot, s.now)
	if err != nil {
		if dispatch.IsPermanent(err) {
			s.record(node.ID, models.ActivityNodeFailed, map[string]any{"error": err.Error()})

			return e.routeFailure(s, node)
		}

		return e.transientFailure(s, node, err.Error(), node.Action.FailureHandling)
	}

	for _, issue := range result.Issues {
		s.record(node.ID, models.ActivityDataError, map[string]any{
			"variable": issue.Variable,
			"reason":   issue.Reason,
		})
	}

	if result.Deferred {
		enrollment.Status = models.EnrollmentWaiting
		retryAt := result.RetryAt
		enrollment.WakeAt = &retryAt
		enrollment.LastActivityAt = s.now

		s.record(node.ID, models.ActivitySendDeferred, map[string]any{
			"reason":   result.DeferReason,
			"retry_at": result.RetryAt,
		})

		return false
	}

	enrollment.ClearFailure(node.ID)
	enrollment.Status = models.EnrollmentWaiting
	enrollment.Metadata.PendingMessageID = result.MessageID

	timeout := node.Action.OutcomeTimeout
	if timeout <= 0 {
		timeout = e.config.DefaultOutcomeTimeout
	}

	wake := s.now.Add(timeout)
	enrollment.WakeAt = &wake
	enrollment.LastActivityAt = s.now

	s.record(node.ID, models.ActivityMessageSent, map[string]any{
		"message_id":  result.MessageID,
		"template_id": node.Action.TemplateID,
	})
	s.publishLater(events.MessageSent{
		BaseEvent:  e.baseEvent(events.MessageSentEvent, s),
		NodeID:     node.ID,
		CustomerID: enrollment.CustomerID,
		MessageID:  result.MessageID,
		TemplateID: node.Action.TemplateID,
	})

	return false
}

// resolvePendingOutcome routes an action node once its delivery webhook
// arrived, or after the outcome timeout when it never did.
func (e *Engine) resolvePendingOutcome(s *step, node *models.Node) bool {
	enrollment := s.enrollment

	outcome := enrollment.Metadata.ReceivedOutcome
	if outcome == "" {
		// No webhook before the deadline. Continue down the main path;
		// the message may still be delivered later.
		s.record(node.ID, models.ActivityMessageOutcome, map[string]any{
			"message_id": enrollment.Metadata.PendingMessageID,
			"outcome":    "none",
		})

		return e.advanceOutcome(s, node, dispatch.Route{Handle: models.HandleNext})
	}

	route := dispatch.ResolveOutcome(node.Action, outcome, enrollment.Metadata.ReceivedButtonID)

	s.record(node.ID, models.ActivityMessageOutcome, map[string]any{
		"message_id": enrollment.Metadata.PendingMessageID,
		"outcome":    string(outcome),
		"button_id":  enrollment.Metadata.ReceivedButtonID,
	})
	s.publishLater(events.MessageOutcome{
		BaseEvent: e.baseEvent(events.MessageOutcomeEvent, s),
		NodeID:    node.ID,
		MessageID: enrollment.Metadata.PendingMessageID,
		Outcome:   outcome,
		ButtonID:  enrollment.Metadata.ReceivedButtonID,
	})

	return e.advanceOutcome(s, node, route)
}

func (e *Engine) advanceOutcome(s *step, node *models.Node, route dispatch.Route) bool {
	if route.Exit {
		e.exitNow(s, node, "outcome exit path")

		return false
	}

	// Outcome handles are optional wiring; anything unwired falls back
	// to the main path.
	if _, ok := s.journey.Next(node.ID, route.Handle); !ok && route.Handle != models.HandleNext {
		route.Handle = models.HandleNext
	}

	return e.advance(s, node, route.Handle)
}

func (e *Engine) handleGoal(s *step, node *models.Node) bool {
	enrollment := s.enrollment

	enrollment.Status = models.EnrollmentCompleted
	enrollment.WakeAt = nil
	enrollment.LastActivityAt = s.now
	enrollment.ClearWaitState()

	s.record(node.ID, models.ActivityCompleted, nil)
	s.publishLater(events.EnrollmentCompleted{
		BaseEvent:  e.baseEvent(events.EnrollmentCompletedEvent, s),
		GoalNodeID: node.ID,
		Duration:   s.now.Sub(enrollment.EnteredAt),
	})

	return false
}

// advance moves the enrollment across the edge named by handle. A missing
// edge is a journey configuration error and fails the enrollment.
func (e *Engine) advance(s *step, node *models.Node, handle string) bool {
	enrollment := s.enrollment

	next, ok := s.journey.Next(node.ID, handle)
	if !ok {
		e.configError(s, "no edge for handle "+handle)

		return false
	}

	s.record(node.ID, models.ActivityNodeCompleted, map[string]any{"handle": handle})

	enrollment.ClearWaitState()
	enrollment.ClearFailure(node.ID)
	enrollment.Status = models.EnrollmentActive
	enrollment.CurrentNodeID = next
	enrollment.NodeEnteredAt = s.now
	enrollment.LastActivityAt = s.now
	enrollment.WakeAt = nil

	s.record(next, models.ActivityNodeEntered, nil)
	s.publishLater(events.EnrollmentAdvanced{
		BaseEvent:  e.baseEvent(events.EnrollmentAdvancedEvent, s),
		FromNodeID: node.ID,
		ToNodeID:   next,
		Handle:     handle,
	})

	return true
}

// transientFailure schedules a retry with exponential backoff, or applies
// the node's fallback once attempts are exhausted.
func (e *Engine) transientFailure(s *step, node *models.Node, reason string, policy models.FailureHandling) bool {
	enrollment := s.enrollment

	retryCount := policy.RetryCount
	if retryCount <= 0 {
		retryCount = e.config.RetryCount
	}

	retryDelay := policy.RetryDelay
	if retryDelay <= 0 {
		retryDelay = e.config.RetryBase
	}

	entry := enrollment.Failure(node.ID)
	entry.Attempts++
	entry.LastError = reason
	entry.LastFailedAt = s.now

	if entry.Attempts <= retryCount {
		backoff := retryDelay << (entry.Attempts - 1)
		wake := s.now.Add(backoff)

		enrollment.Status = models.EnrollmentWaiting
		enrollment.WakeAt = &wake
		enrollment.LastActivityAt = s.now

		s.record(node.ID, models.ActivityRetryScheduled, map[string]any{
			"attempt":  entry.Attempts,
			"retry_at": wake,
			"error":    reason,
		})

		return false
	}

	s.record(node.ID, models.ActivityNodeFailed, map[string]any{
		"attempts": entry.Attempts,
		"error":    reason,
	})

	switch policy.FallbackAction {
	case models.FallbackContinue:
		return e.advance(s, node, models.HandleNext)
	case models.FallbackBranch:
		if policy.BranchID != "" {
			return e.advance(s, node, policy.BranchID)
		}
	case models.FallbackExit:
		e.exitNow(s, node, "retries exhausted")

		return false
	}

	e.failEnrollment(s, node.ID, reason)

	return false
}

// routeFailure follows the failed handle when wired, otherwise applies
// the node's fallback action.
func (e *Engine) routeFailure(s *step, node *models.Node) bool {
	if _, ok := s.journey.Next(node.ID, models.HandleFailed); ok {
		return e.advance(s, node, models.HandleFailed)
	}

	switch node.Action.FailureHandling.FallbackAction {
	case models.FallbackContinue:
		return e.advance(s, node, models.HandleNext)
	case models.FallbackBranch:
		if branch := node.Action.FailureHandling.BranchID; branch != "" {
			return e.advance(s, node, branch)
		}
	case models.FallbackExit:
		e.exitNow(s, node, "permanent send failure")

		return false
	}

	e.failEnrollment(s, node.ID, "permanent send failure")

	return false
}

func (e *Engine) configError(s *step, reason string) {
	e.failEnrollment(s, s.enrollment.CurrentNodeID, "configuration error: "+reason)
}

func (e *Engine) failEnrollment(s *step, nodeID, reason string) {
	enrollment := s.enrollment

	enrollment.Status = models.EnrollmentFailed
	enrollment.WakeAt = nil
	enrollment.LastActivityAt = s.now
	enrollment.ClearWaitState()

	s.record(nodeID, models.ActivityFailed, map[string]any{"error": reason})
	s.publishLater(events.EnrollmentFailed{
		BaseEvent: e.baseEvent(events.EnrollmentFailedEvent, s),
		NodeID:    nodeID,
		Error:     reason,
	})

	e.logger.Warn("enrollment failed",
		"enrollment_id", enrollment.ID, "node_id", nodeID, "reason", reason)
}

func (e *Engine) exitNow(s *step, node *models.Node, reason string) {
	enrollment := s.enrollment

	enrollment.Status = models.EnrollmentExited
	enrollment.WakeAt = nil
	enrollment.LastActivityAt = s.now
	enrollment.ClearWaitState()

	s.record(node.ID, models.ActivityExited, map[string]any{"reason": reason})
	s.publishLater(events.EnrollmentExited{
		BaseEvent: e.baseEvent(events.EnrollmentExitedEvent, s),
		NodeID:    node.ID,
		Reason:    reason,
	})
}

// failNow persists a terminal failure outside the normal step flow, used
// when the journey itself cannot be loaded.
func (e *Engine) failNow(ctx context.Context, enrollment *models.Enrollment, expected int64, reason string, now time.Time) {
	enrollment.Status = models.EnrollmentFailed
	enrollment.WakeAt = nil
	enrollment.LastActivityAt = now
	enrollment.ClearWaitState()

	record := &models.ActivityRecord{
		EnrollmentID: enrollment.ID,
		JourneyID:    enrollment.JourneyID,
		NodeID:       enrollment.CurrentNodeID,
		EventType:    models.ActivityFailed,
		Timestamp:    now,
		Data:         map[string]any{"error": reason},
	}

	err := e.persistence.ApplyTransition(ctx, enrollment, expected, []*models.ActivityRecord{record})
	if err != nil && !persistence.IsVersionConflict(err) {
		e.logger.ErrorContext(ctx, "failed to persist enrollment failure",
			"enrollment_id", enrollment.ID, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, s *step) events.BaseEvent {
	return events.BaseEvent{
		Type:         eventType,
		Timestamp:    s.now,
		JourneyID:    s.enrollment.JourneyID,
		EnrollmentID: s.enrollment.ID,
		WorkerID:     e.workerID,
	}
}

func (e *Engine) publish(ctx context.Context, s *step) {
	if e.publisher == nil {
		return
	}

	for _, event := range s.published {
		if err := e.publisher.Publish(ctx, s.enrollment.ID, event); err != nil {
			e.logger.ErrorContext(ctx, "failed to publish lifecycle event",
				"enrollment_id", s.enrollment.ID, "event_type", event.GetType(), "error", err)
		}
	}
}

func (s *step) record(nodeID string, eventType models.ActivityEventType, data map[string]any) {
	s.records = append(s.records, &models.ActivityRecord{
		EnrollmentID: s.enrollment.ID,
		JourneyID:    s.enrollment.JourneyID,
		NodeID:       nodeID,
		EventType:    eventType,
		Timestamp:    s.now,
		Data:         data,
	})
}

func (s *step) publishLater(event eventbus.Event) {
	s.published = append(s.published, event)
}
