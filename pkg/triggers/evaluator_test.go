package triggers

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagerhq/voyager/pkg/customers"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
	"github.com/voyagerhq/voyager/pkg/persistence/memory"
	"github.com/voyagerhq/voyager/pkg/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func setup(t *testing.T) (*memory.Persistence, *customers.Static, *Evaluator) {
	t.Helper()

	p := memory.NewPersistence()
	source := customers.NewStatic()
	source.SetSnapshot(testutil.CreateTestSnapshot("c1", map[string]any{"tier": "gold"}))

	return p, source, NewEvaluator(p, source, nil, testLogger())
}

func segmentEvent(segmentID, customerID, key string) *models.Event {
	return &models.Event{
		Type:           models.EventSegmentJoined,
		CustomerID:     customerID,
		Name:           segmentID,
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: key,
	}
}

func activeEnrollments(t *testing.T, p *memory.Persistence, journeyID string) []*models.Enrollment {
	t.Helper()

	page, err := p.Enrollments().List(context.Background(), persistence.ListEnrollmentsOptions{
		JourneyID: journeyID,
		Limit:     100,
	})
	require.NoError(t, err)

	return page.Enrollments
}

func TestHandleEvent_EnrollsMatchingJourney(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := testutil.LinearJourney("vip")
	require.NoError(t, p.Journeys().Save(ctx, journey))

	err := evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-1"))
	require.NoError(t, err)

	enrollments := activeEnrollments(t, p, journey.ID)
	require.Len(t, enrollments, 1)

	enrollment := enrollments[0]
	assert.Equal(t, "c1", enrollment.CustomerID)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)

	// Positioned at the trigger's next node, not the trigger itself.
	assert.Equal(t, "action-1", enrollment.CurrentNodeID)
	assert.Equal(t, int64(1), enrollment.Version)
}

func TestHandleEvent_IgnoresNonMatchingSegment(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := testutil.LinearJourney("vip")
	require.NoError(t, p.Journeys().Save(ctx, journey))

	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("casual", "c1", "evt-1")))

	assert.Empty(t, activeEnrollments(t, p, journey.ID))
}

func TestHandleEvent_IdempotencyKeyDeduplicates(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := testutil.LinearJourney("vip")
	require.NoError(t, p.Journeys().Save(ctx, journey))

	// Same delivery replayed three times.
	for range 3 {
		require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-1")))
	}

	assert.Len(t, activeEnrollments(t, p, journey.ID), 1)
}

func TestHandleEvent_ReentryDeniedByDefault(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := testutil.LinearJourney("vip")
	require.NoError(t, p.Journeys().Save(ctx, journey))

	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-1")))
	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-2")))

	assert.Len(t, activeEnrollments(t, p, journey.ID), 1)
}

func reentryJourney(t *testing.T, frequency map[string]any) *models.Journey {
	t.Helper()

	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type":    "segment_joined",
		"segment_id":      "vip",
		"entry_frequency": frequency,
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))

	return testutil.CreateTestJourney(
		[]*models.Node{trigger, goal},
		[]*models.Edge{testutil.Edge("trigger-1", models.HandleNext, "goal-1")},
	)
}

func TestHandleEvent_ReentryAllowed(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := reentryJourney(t, map[string]any{"allow_reentry": true})
	require.NoError(t, p.Journeys().Save(ctx, journey))

	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-1")))
	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-2")))

	assert.Len(t, activeEnrollments(t, p, journey.ID), 2)
}

func TestHandleEvent_EntryLimit(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := reentryJourney(t, map[string]any{"allow_reentry": true, "entry_limit": 2})
	require.NoError(t, p.Journeys().Save(ctx, journey))

	for i := range 4 {
		require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-"+string(rune('a'+i)))))
	}

	assert.Len(t, activeEnrollments(t, p, journey.ID), 2)
}

func TestHandleEvent_Cooldown(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := reentryJourney(t, map[string]any{
		"allow_reentry": true,
		"cooldown":      int64(24 * time.Hour),
	})
	require.NoError(t, p.Journeys().Save(ctx, journey))

	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-1")))

	// A second event inside the cooldown is ignored.
	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-2")))
	assert.Len(t, activeEnrollments(t, p, journey.ID), 1)

	// One after the cooldown enters.
	late := segmentEvent("vip", "c1", "evt-3")
	late.OccurredAt = time.Now().UTC().Add(25 * time.Hour)
	require.NoError(t, evaluator.HandleEvent(ctx, late))
	assert.Len(t, activeEnrollments(t, p, journey.ID), 2)
}

func TestHandleEvent_EntryWindow(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type": "segment_joined",
		"segment_id":   "vip",
		"entry_window": map[string]any{
			"ends_at": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
		},
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))
	journey := testutil.CreateTestJourney(
		[]*models.Node{trigger, goal},
		[]*models.Edge{testutil.Edge("trigger-1", models.HandleNext, "goal-1")},
	)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	require.NoError(t, evaluator.HandleEvent(ctx, segmentEvent("vip", "c1", "evt-1")))

	assert.Empty(t, activeEnrollments(t, p, journey.ID))
}

func TestHandleEvent_EventFilter(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type": "shopify_event",
		"event_name":   "order_placed",
		"event_filter": map[string]any{
			"conditions": []map[string]any{{
				"property":   "event.total",
				"operator":   "greater_than",
				"value":      100,
				"value_type": "number",
			}},
		},
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))
	journey := testutil.CreateTestJourney(
		[]*models.Node{trigger, goal},
		[]*models.Edge{testutil.Edge("trigger-1", models.HandleNext, "goal-1")},
	)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	small := &models.Event{
		Type: models.EventShopify, CustomerID: "c1", Name: "order_placed",
		Payload:        map[string]any{"total": 50.0},
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: "evt-small",
	}
	require.NoError(t, evaluator.HandleEvent(ctx, small))
	assert.Empty(t, activeEnrollments(t, p, journey.ID))

	large := &models.Event{
		Type: models.EventShopify, CustomerID: "c1", Name: "order_placed",
		Payload:        map[string]any{"total": 250.0},
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: "evt-large",
	}
	require.NoError(t, evaluator.HandleEvent(ctx, large))
	assert.Len(t, activeEnrollments(t, p, journey.ID), 1)
}

func waitingOnEvent(t *testing.T, p *memory.Persistence, journey *models.Journey, customerID, eventName string) *models.Enrollment {
	t.Helper()

	wake := time.Now().UTC().Add(48 * time.Hour)
	enrollment := testutil.CreateTestEnrollment(journey.ID, customerID, "delay-1",
		testutil.WithStatus(models.EnrollmentWaiting), testutil.WithWakeAt(wake))
	enrollment.Metadata.WaitingEvent = eventName
	require.NoError(t, p.Enrollments().Create(context.Background(), enrollment))

	return enrollment
}

func waitJourney(t *testing.T) *models.Journey {
	t.Helper()

	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type": "manual",
	}))
	delayNode := testutil.CreateTestNode(models.NodeTypeDelay, testutil.WithID("delay-1"), testutil.WithConfig(map[string]any{
		"delay_type":    "wait_for_event",
		"event_name":    "order_placed",
		"max_wait_time": int64(48 * time.Hour),
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))

	return testutil.CreateTestJourney(
		[]*models.Node{trigger, delayNode, goal},
		[]*models.Edge{
			testutil.Edge("trigger-1", models.HandleNext, "delay-1"),
			testutil.Edge("delay-1", models.HandleResumed, "goal-1"),
		},
	)
}

func TestHandleEvent_ResumesWaitingEnrollment(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := waitJourney(t)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	enrollment := waitingOnEvent(t, p, journey, "c1", "order_placed")

	event := &models.Event{
		Type: models.EventShopify, CustomerID: "c1", Name: "order_placed",
		Payload:        map[string]any{"order_id": "o-1"},
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: "evt-1",
	}
	require.NoError(t, evaluator.HandleEvent(ctx, event))

	woken, err := p.Enrollments().GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	require.NotNil(t, woken.WakeAt)
	assert.False(t, woken.WakeAt.After(time.Now().UTC()))
	require.NotNil(t, woken.Metadata.ResumePayload)
	assert.Equal(t, "o-1", woken.Metadata.ResumePayload["order_id"])
	assert.Equal(t, int64(2), woken.Version)
}

func TestHandleEvent_ResumeSkipsOtherCustomers(t *testing.T) {
	ctx := context.Background()
	p, _, evaluator := setup(t)

	journey := waitJourney(t)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	other := waitingOnEvent(t, p, journey, "c2", "order_placed")

	event := &models.Event{
		Type: models.EventShopify, CustomerID: "c1", Name: "order_placed",
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: "evt-1",
	}
	require.NoError(t, evaluator.HandleEvent(ctx, event))

	untouched, err := p.Enrollments().GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), untouched.Version)
	assert.Nil(t, untouched.Metadata.ResumePayload)
}

func TestResumeForAttribute(t *testing.T) {
	ctx := context.Background()
	p, source, evaluator := setup(t)

	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type": "manual",
	}))
	delayNode := testutil.CreateTestNode(models.NodeTypeDelay, testutil.WithID("delay-1"), testutil.WithConfig(map[string]any{
		"delay_type":     "wait_for_attribute",
		"attribute_path": "attributes.plan",
		"target_value":   "premium",
		"max_wait_time":  int64(48 * time.Hour),
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))
	journey := testutil.CreateTestJourney(
		[]*models.Node{trigger, delayNode, goal},
		[]*models.Edge{
			testutil.Edge("trigger-1", models.HandleNext, "delay-1"),
			testutil.Edge("delay-1", models.HandleResumed, "goal-1"),
		},
	)
	require.NoError(t, p.Journeys().Save(ctx, journey))

	wake := time.Now().UTC().Add(48 * time.Hour)
	enrollment := testutil.CreateTestEnrollment(journey.ID, "c1", "delay-1",
		testutil.WithStatus(models.EnrollmentWaiting), testutil.WithWakeAt(wake))
	enrollment.Metadata.WaitingAttribute = "attributes.plan"
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	// Attribute still short of the target: nothing wakes.
	source.SetSnapshot(testutil.CreateTestSnapshot("c1", map[string]any{"plan": "basic"}))
	snapshot, err := source.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, evaluator.ResumeForAttribute(ctx, snapshot, "attributes.plan"))

	current, err := p.Enrollments().GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)

	// Target reached: the enrollment wakes.
	source.SetSnapshot(testutil.CreateTestSnapshot("c1", map[string]any{"plan": "premium"}))
	snapshot, err = source.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, evaluator.ResumeForAttribute(ctx, snapshot, "attributes.plan"))

	woken, err := p.Enrollments().GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), woken.Version)
	require.NotNil(t, woken.WakeAt)
	assert.False(t, woken.WakeAt.After(time.Now().UTC()))
}
