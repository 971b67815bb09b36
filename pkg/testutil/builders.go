// Package testutil provides test data builders for journeys and
// enrollments.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/voyagerhq/voyager/pkg/models"
)

// CreateTestNode creates a node with default values that overrides can
// adjust. Config overrides take any JSON-marshalable value.
func CreateTestNode(nodeType models.NodeType, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:     uuid.New().String(),
		Type:   nodeType,
		Name:   "Test Node",
		Config: json.RawMessage("{}"),
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithConfig marshals config into the node's config blob.
func WithConfig(config any) func(*models.Node) {
	return func(n *models.Node) {
		raw, err := json.Marshal(config)
		if err != nil {
			panic(err)
		}

		n.Config = raw
	}
}

// Edge wires source:handle to target.
func Edge(source, handle, target string) *models.Edge {
	return &models.Edge{
		ID:           uuid.New().String(),
		SourceNodeID: source,
		SourceHandle: handle,
		TargetNodeID: target,
	}
}

// CreateTestJourney creates a compiled published journey from the given
// nodes and edges.
func CreateTestJourney(nodes []*models.Node, edges []*models.Edge) *models.Journey {
	journey := &models.Journey{
		ID:        uuid.New().String(),
		Name:      "Test Journey",
		Status:    models.JourneyStatusPublished,
		Nodes:     nodes,
		Edges:     edges,
		Owner:     "test-user",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := journey.Compile(); err != nil {
		panic(err)
	}

	return journey
}

// LinearJourney builds trigger -> action -> goal with a segment_joined
// trigger, the most common shape in tests.
func LinearJourney(segmentID string) *models.Journey {
	trigger := CreateTestNode(models.NodeTypeTrigger, WithID("trigger-1"), WithConfig(map[string]any{
		"trigger_type": "segment_joined",
		"segment_id":   segmentID,
	}))
	action := CreateTestNode(models.NodeTypeAction, WithID("action-1"), WithConfig(map[string]any{
		"template_id": "tmpl-welcome",
	}))
	goal := CreateTestNode(models.NodeTypeGoal, WithID("goal-1"))

	return CreateTestJourney(
		[]*models.Node{trigger, action, goal},
		[]*models.Edge{
			Edge("trigger-1", models.HandleNext, "action-1"),
			Edge("action-1", models.HandleDelivered, "goal-1"),
			Edge("action-1", models.HandleNext, "goal-1"),
		},
	)
}

// CreateTestEnrollment creates an active enrollment positioned at nodeID.
func CreateTestEnrollment(journeyID, customerID, nodeID string, overrides ...func(*models.Enrollment)) *models.Enrollment {
	now := time.Now().UTC()

	enrollment := &models.Enrollment{
		ID:             uuid.New().String(),
		JourneyID:      journeyID,
		CustomerID:     customerID,
		Status:         models.EnrollmentActive,
		CurrentNodeID:  nodeID,
		EnteredAt:      now,
		LastActivityAt: now,
		NodeEnteredAt:  now,
		Version:        1,
	}

	for _, override := range overrides {
		override(enrollment)
	}

	return enrollment
}

// WithStatus sets the enrollment status.
func WithStatus(status models.EnrollmentStatus) func(*models.Enrollment) {
	return func(e *models.Enrollment) {
		e.Status = status
	}
}

// WithWakeAt sets the wake time.
func WithWakeAt(wakeAt time.Time) func(*models.Enrollment) {
	return func(e *models.Enrollment) {
		e.WakeAt = &wakeAt
	}
}

// CreateTestSnapshot creates a customer snapshot with the given attributes.
func CreateTestSnapshot(customerID string, attributes map[string]any) *models.CustomerSnapshot {
	return &models.CustomerSnapshot{
		CustomerID: customerID,
		Phone:      "+15550001111",
		Timezone:   "UTC",
		Attributes: attributes,
	}
}
