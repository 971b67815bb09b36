package models

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateJourney runs the full publish-time validation pass: struct tags,
// graph structure, and per-node config completeness. A journey that passes
// is safe to execute without defensive re-parsing on every tick.
func ValidateJourney(journey *Journey) error {
	if err := validate.Struct(journey); err != nil {
		return fmt.Errorf("journey %s: %w", journey.ID, err)
	}

	var errs []error

	nodeIDs := make(map[string]*Node, len(journey.Nodes))

	triggers := 0

	for _, node := range journey.Nodes {
		if _, dup := nodeIDs[node.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate node id %q", node.ID))
		}

		nodeIDs[node.ID] = node

		if node.Type == NodeTypeTrigger {
			triggers++
		}

		if err := validateNodeConfig(node); err != nil {
			errs = append(errs, err)
		}
	}

	if triggers != 1 {
		errs = append(errs, fmt.Errorf("journey must have exactly one trigger node, found %d", triggers))
	}

	errs = append(errs, validateEdges(journey, nodeIDs)...)
	errs = append(errs, validateReachability(journey)...)

	return errors.Join(errs...)
}

func validateEdges(journey *Journey, nodeIDs map[string]*Node) []error {
	var errs []error

	for _, edge := range journey.Edges {
		source, ok := nodeIDs[edge.SourceNodeID]
		if !ok {
			errs = append(errs, fmt.Errorf("edge %s references unknown source node %q", edge.ID, edge.SourceNodeID))

			continue
		}

		if _, ok := nodeIDs[edge.TargetNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %s references unknown target node %q", edge.ID, edge.TargetNodeID))
		}

		if !slices.Contains(source.Handles(), edge.SourceHandle) {
			errs = append(errs, fmt.Errorf(
				"edge %s uses handle %q not declared by %s node %q",
				edge.ID, edge.SourceHandle, source.Type, source.ID,
			))
		}
	}

	return errs
}

// validateReachability walks the graph from the trigger and flags any
// non-trigger node that cannot be reached.
func validateReachability(journey *Journey) []error {
	trigger, ok := journey.TriggerNode()
	if !ok {
		return nil // Already reported by the trigger-count check.
	}

	adjacent := make(map[string][]string)
	for _, edge := range journey.Edges {
		adjacent[edge.SourceNodeID] = append(adjacent[edge.SourceNodeID], edge.TargetNodeID)
	}

	visited := map[string]bool{trigger.ID: true}
	queue := []string{trigger.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range adjacent[current] {
			if !visited[next] {
				visited[next] = true

				queue = append(queue, next)
			}
		}
	}

	var errs []error

	for _, node := range journey.Nodes {
		if !visited[node.ID] {
			errs = append(errs, fmt.Errorf("node %q is not reachable from the trigger", node.ID))
		}
	}

	return errs
}

func validateNodeConfig(node *Node) error {
	switch node.Type {
	case NodeTypeTrigger:
		if node.Trigger == nil {
			return fmt.Errorf("trigger node %q has no decoded config (journey not compiled?)", node.ID)
		}

		return validateTriggerConfig(node.ID, node.Trigger)
	case NodeTypeCondition:
		if node.Condition == nil {
			return fmt.Errorf("condition node %q has no decoded config", node.ID)
		}

		return validateConditionConfig(node.ID, node.Condition)
	case NodeTypeDelay:
		if node.Delay == nil {
			return fmt.Errorf("delay node %q has no decoded config", node.ID)
		}

		return validateDelayConfig(node.ID, node.Delay)
	case NodeTypeAction:
		if node.Action == nil {
			return fmt.Errorf("action node %q has no decoded config", node.ID)
		}

		if err := validate.Struct(node.Action); err != nil {
			return fmt.Errorf("action node %q: %w", node.ID, err)
		}

		return nil
	case NodeTypeGoal:
		return nil
	default:
		return fmt.Errorf("node %q has unknown type %q", node.ID, node.Type)
	}
}

func validateTriggerConfig(nodeID string, config *TriggerConfig) error {
	switch config.TriggerType {
	case TriggerSegmentJoined, TriggerSegmentExited:
		if config.SegmentID == "" {
			return fmt.Errorf("trigger node %q: segment trigger requires segment_id", nodeID)
		}
	case TriggerShopifyEvent:
		if config.EventName == "" {
			return fmt.Errorf("trigger node %q: event trigger requires event_name", nodeID)
		}
	case TriggerSchedule:
		if config.Cron == "" {
			return fmt.Errorf("trigger node %q: schedule trigger requires cron expression", nodeID)
		}
	case TriggerManual:
	default:
		return fmt.Errorf("trigger node %q: unknown trigger type %q", nodeID, config.TriggerType)
	}

	return nil
}

func validateConditionConfig(nodeID string, config *ConditionConfig) error {
	switch config.EffectiveMode() {
	case ConditionModeRules:
		if config.Rules.Empty() {
			return fmt.Errorf("condition node %q: rules mode requires a non-empty rule group", nodeID)
		}

		if incomplete := incompleteConditions(config.Rules); len(incomplete) > 0 {
			return fmt.Errorf("condition node %q: incomplete conditions: %v", nodeID, incomplete)
		}
	case ConditionModeSegment:
		if config.SegmentID == "" || config.SegmentOperator == "" {
			return fmt.Errorf("condition node %q: segment mode requires segment_id and segment_operator", nodeID)
		}
	case ConditionModeEventCount:
		if config.EventName == "" || config.CountOperator == "" {
			return fmt.Errorf("condition node %q: event_count mode requires event_name and count_operator", nodeID)
		}
	case ConditionModeFormula:
		if len(config.Formula) == 0 {
			return fmt.Errorf("condition node %q: formula mode requires an expression", nodeID)
		}
	default:
		return fmt.Errorf("condition node %q: unknown mode %q", nodeID, config.Mode)
	}

	return nil
}

func incompleteConditions(group *RuleGroup) []string {
	var ids []string

	for _, condition := range group.Conditions {
		if !condition.Complete() {
			id := condition.ID
			if id == "" {
				id = condition.Property
			}

			ids = append(ids, id)
		}
	}

	for _, nested := range group.Groups {
		ids = append(ids, incompleteConditions(nested)...)
	}

	return ids
}

func validateDelayConfig(nodeID string, config *DelayConfig) error {
	switch config.DelayType {
	case DelayFixedTime:
		if config.Duration <= 0 {
			return fmt.Errorf("delay node %q: fixed_time requires a positive duration", nodeID)
		}
	case DelayWaitUntilTime:
		if config.TargetTime == "" {
			return fmt.Errorf("delay node %q: wait_until_time requires target_time", nodeID)
		}
	case DelayWaitForEvent:
		if config.EventName == "" {
			return fmt.Errorf("delay node %q: wait_for_event requires event_name", nodeID)
		}

		if config.MaxWaitTime <= 0 {
			return fmt.Errorf("delay node %q: wait_for_event requires max_wait_time", nodeID)
		}
	case DelayOptimalSendTime:
		if config.FallbackTime == "" {
			return fmt.Errorf("delay node %q: optimal_send_time requires fallback_time", nodeID)
		}
	case DelayWaitForAttribute:
		if config.AttributePath == "" {
			return fmt.Errorf("delay node %q: wait_for_attribute requires attribute_path", nodeID)
		}

		if config.MaxWaitTime <= 0 {
			return fmt.Errorf("delay node %q: wait_for_attribute requires max_wait_time", nodeID)
		}
	default:
		return fmt.Errorf("delay node %q: unknown delay type %q", nodeID, config.DelayType)
	}

	return nil
}
