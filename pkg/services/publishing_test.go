package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence/memory"
	"github.com/voyagerhq/voyager/pkg/testutil"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	service := NewPublishing(p, testLogger())

	journey := testutil.LinearJourney("vip")
	journey.Status = models.JourneyStatusDraft
	journey.PublishedAt = nil

	published, err := service.Publish(ctx, journey)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	stored, err := p.Journeys().GetByID(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusPublished, stored.Status)
}

func TestPublish_RawConfigGraph(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	service := NewPublishing(p, testLogger())

	// Journeys arriving over the API carry only raw config blobs; the
	// typed configs are decoded during publish, not before it.
	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type": "segment_joined",
		"segment_id":   "vip",
	}))
	action := testutil.CreateTestNode(models.NodeTypeAction, testutil.WithID("action-1"), testutil.WithConfig(map[string]any{
		"template_id": "tmpl-welcome",
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))

	journey := &models.Journey{
		ID:     "j-raw",
		Name:   "Welcome Series",
		Status: models.JourneyStatusDraft,
		Nodes:  []*models.Node{trigger, action, goal},
		Edges: []*models.Edge{
			testutil.Edge("trigger-1", models.HandleNext, "action-1"),
			testutil.Edge("action-1", models.HandleDelivered, "goal-1"),
			testutil.Edge("action-1", models.HandleNext, "goal-1"),
		},
	}

	published, err := service.Publish(ctx, journey)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusPublished, published.Status)
}

func TestPublish_InvalidGraph(t *testing.T) {
	ctx := context.Background()
	service := NewPublishing(memory.NewPersistence(), testLogger())

	// No trigger node.
	action := testutil.CreateTestNode(models.NodeTypeAction, testutil.WithID("action-1"), testutil.WithConfig(map[string]any{
		"template_id": "tmpl-1",
	}))
	goal := testutil.CreateTestNode(models.NodeTypeGoal, testutil.WithID("goal-1"))

	journey := testutil.CreateTestJourney(
		[]*models.Node{action, goal},
		[]*models.Edge{testutil.Edge("action-1", models.HandleNext, "goal-1")},
	)

	_, err := service.Publish(ctx, journey)
	assert.ErrorIs(t, err, ErrInvalidJourney)
	assert.True(t, IsValidationError(err))
}

func TestPublish_ArchivedJourney(t *testing.T) {
	ctx := context.Background()
	service := NewPublishing(memory.NewPersistence(), testLogger())

	journey := testutil.LinearJourney("vip")
	journey.Status = models.JourneyStatusArchived

	_, err := service.Publish(ctx, journey)
	assert.ErrorIs(t, err, ErrNotPublishable)
	assert.True(t, IsConflictError(err))
}

func TestPublish_NilJourney(t *testing.T) {
	service := NewPublishing(memory.NewPersistence(), testLogger())

	_, err := service.Publish(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSaveDraft(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	service := NewPublishing(p, testLogger())

	// Drafts are stored without graph validation; a dangling edge is fine
	// until publish.
	trigger := testutil.CreateTestNode(models.NodeTypeTrigger, testutil.WithID("trigger-1"), testutil.WithConfig(map[string]any{
		"trigger_type": "manual",
	}))
	journey := testutil.CreateTestJourney(
		[]*models.Node{trigger},
		[]*models.Edge{testutil.Edge("trigger-1", models.HandleNext, "missing")},
	)

	draft, err := service.SaveDraft(ctx, journey)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusDraft, draft.Status)

	stored, err := p.Journeys().GetByID(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusDraft, stored.Status)
}

func TestPause(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	service := NewPublishing(p, testLogger())

	journey := testutil.LinearJourney("vip")
	require.NoError(t, p.Journeys().Save(ctx, journey))

	paused, err := service.Pause(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusPaused, paused.Status)
}

func TestPause_DraftJourney(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	service := NewPublishing(p, testLogger())

	journey := testutil.LinearJourney("vip")
	journey.Status = models.JourneyStatusDraft
	require.NoError(t, p.Journeys().Save(ctx, journey))

	_, err := service.Pause(ctx, journey.ID)
	assert.ErrorIs(t, err, ErrNotPublishable)
}
