package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJourney_Compile_DecodesConfigs(t *testing.T) {
	journey := &Journey{
		ID:   "j1",
		Name: "Welcome Flow",
		Nodes: []*Node{
			{ID: "t1", Type: NodeTypeTrigger, Config: json.RawMessage(`{"trigger_type":"segment_joined","segment_id":"vip"}`)},
			{ID: "d1", Type: NodeTypeDelay, Config: json.RawMessage(`{"delay_type":"fixed_time","duration":3600000000000}`)},
			{ID: "a1", Type: NodeTypeAction, Config: json.RawMessage(`{"template_id":"tmpl-1"}`)},
			{ID: "g1", Type: NodeTypeGoal},
		},
		Edges: []*Edge{
			{ID: "e1", SourceNodeID: "t1", SourceHandle: HandleNext, TargetNodeID: "d1"},
			{ID: "e2", SourceNodeID: "d1", SourceHandle: HandleResumed, TargetNodeID: "a1"},
			{ID: "e3", SourceNodeID: "a1", SourceHandle: HandleDelivered, TargetNodeID: "g1"},
		},
	}

	err := journey.Compile()
	require.NoError(t, err)

	trigger, ok := journey.NodeByID("t1")
	require.True(t, ok)
	require.NotNil(t, trigger.Trigger)
	assert.Equal(t, TriggerSegmentJoined, trigger.Trigger.TriggerType)
	assert.Equal(t, "vip", trigger.Trigger.SegmentID)

	delayNode, ok := journey.NodeByID("d1")
	require.True(t, ok)
	require.NotNil(t, delayNode.Delay)
	assert.Equal(t, DelayFixedTime, delayNode.Delay.DelayType)

	action, ok := journey.NodeByID("a1")
	require.True(t, ok)
	require.NotNil(t, action.Action)
	assert.Equal(t, "tmpl-1", action.Action.TemplateID)
}

func TestJourney_Compile_BadConfig(t *testing.T) {
	journey := &Journey{
		Nodes: []*Node{
			{ID: "d1", Type: NodeTypeDelay, Config: json.RawMessage(`{"delay_type":`)},
		},
	}

	err := journey.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node d1")
}

func TestJourney_Next(t *testing.T) {
	journey := &Journey{
		Nodes: []*Node{
			{ID: "c1", Type: NodeTypeCondition},
			{ID: "a1", Type: NodeTypeAction},
			{ID: "g1", Type: NodeTypeGoal},
		},
		Edges: []*Edge{
			{SourceNodeID: "c1", SourceHandle: HandleTrue, TargetNodeID: "a1"},
			{SourceNodeID: "c1", SourceHandle: HandleFalse, TargetNodeID: "g1"},
		},
	}

	require.NoError(t, journey.Compile())

	target, ok := journey.Next("c1", HandleTrue)
	require.True(t, ok)
	assert.Equal(t, "a1", target)

	target, ok = journey.Next("c1", HandleFalse)
	require.True(t, ok)
	assert.Equal(t, "g1", target)

	_, ok = journey.Next("c1", HandleElse)
	assert.False(t, ok)

	_, ok = journey.Next("a1", HandleNext)
	assert.False(t, ok)
}

func TestJourney_TriggerNode(t *testing.T) {
	journey := &Journey{
		Nodes: []*Node{
			{ID: "a1", Type: NodeTypeAction},
			{ID: "t1", Type: NodeTypeTrigger},
		},
	}

	trigger, ok := journey.TriggerNode()
	require.True(t, ok)
	assert.Equal(t, "t1", trigger.ID)

	empty := &Journey{}
	_, ok = empty.TriggerNode()
	assert.False(t, ok)
}

func TestNode_Handles_ActionButtons(t *testing.T) {
	node := &Node{
		ID:   "a1",
		Type: NodeTypeAction,
		Action: &ActionConfig{
			TemplateID: "tmpl-1",
			Buttons: []Button{
				{ID: "yes", Label: "Yes"},
				{ID: "no", Label: "No"},
			},
		},
	}

	handles := node.Handles()

	assert.Contains(t, handles, HandleDelivered)
	assert.Contains(t, handles, HandleNext)
	assert.Contains(t, handles, "button:yes")
	assert.Contains(t, handles, "button:no")
}

func TestEnrollmentStatus_Terminal(t *testing.T) {
	assert.False(t, EnrollmentActive.Terminal())
	assert.False(t, EnrollmentWaiting.Terminal())
	assert.True(t, EnrollmentCompleted.Terminal())
	assert.True(t, EnrollmentFailed.Terminal())
	assert.True(t, EnrollmentExited.Terminal())
}

func TestEnrollment_FailureTracking(t *testing.T) {
	enrollment := &Enrollment{}

	entry := enrollment.Failure("n1")
	entry.Attempts = 2

	assert.Equal(t, 2, enrollment.Failure("n1").Attempts)

	enrollment.ClearFailure("n1")
	assert.Equal(t, 0, enrollment.Failure("n1").Attempts)
}
