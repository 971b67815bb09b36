// Package models defines the core domain models for journey execution.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JourneyStatus represents the lifecycle state of a journey definition.
type JourneyStatus string

const (
	JourneyStatusDraft     JourneyStatus = "draft"     // Editable, not executable
	JourneyStatusPublished JourneyStatus = "published" // Active, enrollments may be created and advanced
	JourneyStatusPaused    JourneyStatus = "paused"    // No new enrollments; existing ones keep advancing
	JourneyStatusArchived  JourneyStatus = "archived"  // Historical, not executable
)

// NodeType is the structural kind of a journey node.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeAction    NodeType = "action"
	NodeTypeGoal      NodeType = "goal"
)

// Journey represents a published journey graph. Nodes and edges are
// authored by the builder UI and are read-only at runtime: the engine
// only ever mutates enrollment state, never the definition.
type Journey struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      JourneyStatus  `json:"status"      validate:"required"`
	Nodes       []*Node        `json:"nodes"       validate:"required,min=1"`
	Edges       []*Edge        `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`

	// routes is the compiled (nodeID, handle) -> targetNodeID map.
	// Built once by Compile; nil on an uncompiled journey.
	routes map[string]map[string]string
}

// Edge is a directed connection from a node's named handle to a target node.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	SourceHandle string `json:"source_handle"  validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
}

// Node is a vertex of the journey graph. Exactly one of the typed config
// pointers is set after Compile, matching Type.
type Node struct {
	ID      string          `json:"id"      validate:"required"`
	Type    NodeType        `json:"type"    validate:"required"`
	Subtype string          `json:"subtype"`
	Name    string          `json:"name"`
	Config  json.RawMessage `json:"config,omitempty"`

	Trigger   *TriggerConfig   `json:"-"`
	Condition *ConditionConfig `json:"-"`
	Delay     *DelayConfig     `json:"-"`
	Action    *ActionConfig    `json:"-"`
}

// Compile decodes every node's config blob into its typed form and builds
// the handle routing table. It must be called once when a journey is
// loaded or published; the engine never re-parses config blobs per tick.
func (j *Journey) Compile() error {
	j.routes = make(map[string]map[string]string, len(j.Nodes))

	for _, node := range j.Nodes {
		if err := node.decodeConfig(); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
	}

	for _, edge := range j.Edges {
		handles, ok := j.routes[edge.SourceNodeID]
		if !ok {
			handles = make(map[string]string)
			j.routes[edge.SourceNodeID] = handles
		}

		handles[edge.SourceHandle] = edge.TargetNodeID
	}

	return nil
}

// Next resolves the outgoing edge for a node handle. The second return is
// false when no edge is wired for that handle, which the engine treats as
// a configuration error rather than a silent terminal.
func (j *Journey) Next(nodeID, handle string) (string, bool) {
	handles, ok := j.routes[nodeID]
	if !ok {
		return "", false
	}

	target, ok := handles[handle]

	return target, ok
}

// NodeByID returns the node with the given id.
func (j *Journey) NodeByID(id string) (*Node, bool) {
	for _, node := range j.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// TriggerNode returns the journey's single trigger node.
func (j *Journey) TriggerNode() (*Node, bool) {
	for _, node := range j.Nodes {
		if node.Type == NodeTypeTrigger {
			return node, true
		}
	}

	return nil, false
}

func (n *Node) decodeConfig() error {
	raw := n.Config
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	switch n.Type {
	case NodeTypeTrigger:
		n.Trigger = &TriggerConfig{}

		return unmarshalConfig(raw, n.Trigger)
	case NodeTypeCondition:
		n.Condition = &ConditionConfig{}

		return unmarshalConfig(raw, n.Condition)
	case NodeTypeDelay:
		n.Delay = &DelayConfig{}

		return unmarshalConfig(raw, n.Delay)
	case NodeTypeAction:
		n.Action = &ActionConfig{}

		return unmarshalConfig(raw, n.Action)
	case NodeTypeGoal:
		return nil
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
}

func unmarshalConfig(raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	return nil
}

// Handles returns the outgoing handle names a node type may declare.
// A journey's edges must only use handles from this set.
func (n *Node) Handles() []string {
	switch n.Type {
	case NodeTypeTrigger:
		return []string{HandleNext}
	case NodeTypeCondition:
		return []string{HandleTrue, HandleFalse, HandleElse}
	case NodeTypeDelay:
		return []string{HandleResumed, HandleTimeout}
	case NodeTypeAction:
		handles := []string{
			HandleDelivered, HandleRead, HandleReplied,
			HandleFailed, HandleUnreachable, HandleNext,
		}
		if n.Action != nil {
			for _, button := range n.Action.Buttons {
				handles = append(handles, ButtonHandle(button.ID))
			}
		}

		return handles
	case NodeTypeGoal:
		return nil
	default:
		return nil
	}
}

// Handle names. Button handles are derived per action config.
const (
	HandleNext        = "next"
	HandleTrue        = "true"
	HandleFalse       = "false"
	HandleElse        = "else"
	HandleResumed     = "resumed"
	HandleTimeout     = "timeout"
	HandleDelivered   = "delivered"
	HandleRead        = "read"
	HandleReplied     = "replied"
	HandleFailed      = "failed"
	HandleUnreachable = "unreachable"
)

// ButtonHandle returns the handle name for a quick-reply button exit.
func ButtonHandle(buttonID string) string {
	return "button:" + buttonID
}
