// Package conditions evaluates condition node rule trees against customer
// snapshots. Evaluation is pure and deterministic: identical inputs always
// yield identical outputs and no side effects.
package conditions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diegoholiveira/jsonlogic/v3"
	"github.com/voyagerhq/voyager/pkg/models"
)

// DataIssue records a coercion or lookup problem encountered during
// evaluation. Issues never abort the traversal; the affected condition
// evaluates false and the issue is surfaced for activity logging.
type DataIssue struct {
	Property string `json:"property"`
	Reason   string `json:"reason"`
}

// SegmentSource answers segment membership questions for the segment
// condition mode. Implementations live outside the engine.
type SegmentSource interface {
	IsMember(ctx context.Context, segmentID, customerID string) (bool, error)
}

// EventCounter answers event-occurrence counting for the event_count mode.
type EventCounter interface {
	Count(ctx context.Context, customerID, eventName string, since time.Time) (int, error)
}

// EvaluateRules walks a rule group against a snapshot. AND short-circuits
// on the first false member, OR on the first true one; nested groups
// evaluate recursively before combining.
func EvaluateRules(group *models.RuleGroup, snapshot *models.CustomerSnapshot) (bool, []DataIssue) {
	if group.Empty() {
		return true, nil
	}

	var issues []DataIssue

	operator := group.LogicalOperator
	if operator == "" {
		operator = models.LogicalAnd
	}

	evaluate := func(result bool) (bool, bool) {
		// Returns (final, done) to implement short-circuiting.
		if operator == models.LogicalAnd && !result {
			return false, true
		}

		if operator == models.LogicalOr && result {
			return true, true
		}

		return result, false
	}

	for _, condition := range group.Conditions {
		actual, present := snapshot.Lookup(condition.Property)

		result, err := compare(condition, actual, present)
		if err != nil {
			// Fail closed: data problems evaluate false, never throw.
			result = false

			issues = append(issues, DataIssue{Property: condition.Property, Reason: err.Error()})
		}

		if final, done := evaluate(result); done {
			return final, issues
		}
	}

	for _, nested := range group.Groups {
		result, nestedIssues := EvaluateRules(nested, snapshot)
		issues = append(issues, nestedIssues...)

		if final, done := evaluate(result); done {
			return final, issues
		}
	}

	// No member short-circuited: AND means all were true, OR means none were.
	return operator == models.LogicalAnd, issues
}

// CountAudience evaluates a rule group against many snapshots and returns
// how many match. Used by the builder's audience preview.
func CountAudience(group *models.RuleGroup, snapshots []*models.CustomerSnapshot) (matched, total int) {
	for _, snapshot := range snapshots {
		if ok, _ := EvaluateRules(group, snapshot); ok {
			matched++
		}
	}

	return matched, len(snapshots)
}

// Evaluator resolves all condition modes, including the ones that need
// external lookups (segment membership, event counts).
type Evaluator struct {
	segments SegmentSource
	counter  EventCounter
}

// NewEvaluator creates an evaluator. Sources may be nil when the journey
// set is known not to use the corresponding modes.
func NewEvaluator(segments SegmentSource, counter EventCounter) *Evaluator {
	return &Evaluator{segments: segments, counter: counter}
}

// Evaluate reduces any condition mode to the boolean contract. The error
// return is reserved for transient lookup failures (segment store or
// counter unavailable); data problems come back as issues with a false
// result instead.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	config *models.ConditionConfig,
	snapshot *models.CustomerSnapshot,
	now time.Time,
) (bool, []DataIssue, error) {
	switch config.EffectiveMode() {
	case models.ConditionModeRules:
		result, issues := EvaluateRules(config.Rules, snapshot)

		return result, issues, nil
	case models.ConditionModeSegment:
		return e.evaluateSegment(ctx, config, snapshot)
	case models.ConditionModeEventCount:
		return e.evaluateEventCount(ctx, config, snapshot, now)
	case models.ConditionModeFormula:
		result, issues := evaluateFormula(config.Formula, snapshot)

		return result, issues, nil
	default:
		return false, []DataIssue{{Reason: fmt.Sprintf("unknown condition mode %q", config.Mode)}}, nil
	}
}

func (e *Evaluator) evaluateSegment(
	ctx context.Context,
	config *models.ConditionConfig,
	snapshot *models.CustomerSnapshot,
) (bool, []DataIssue, error) {
	if e.segments == nil {
		return false, nil, fmt.Errorf("segment condition configured but no segment source available")
	}

	member, err := e.segments.IsMember(ctx, config.SegmentID, snapshot.CustomerID)
	if err != nil {
		return false, nil, fmt.Errorf("segment membership lookup failed: %w", err)
	}

	if config.SegmentOperator == models.SegmentIsNotIn {
		return !member, nil, nil
	}

	return member, nil, nil
}

func (e *Evaluator) evaluateEventCount(
	ctx context.Context,
	config *models.ConditionConfig,
	snapshot *models.CustomerSnapshot,
	now time.Time,
) (bool, []DataIssue, error) {
	if e.counter == nil {
		return false, nil, fmt.Errorf("event_count condition configured but no event counter available")
	}

	since := time.Time{}
	if config.CountWindow > 0 {
		since = now.Add(-config.CountWindow)
	}

	count, err := e.counter.Count(ctx, snapshot.CustomerID, config.EventName, since)
	if err != nil {
		return false, nil, fmt.Errorf("event count lookup failed: %w", err)
	}

	switch config.CountOperator {
	case models.CountAtLeast:
		return count >= config.CountValue, nil, nil
	case models.CountExactly:
		return count == config.CountValue, nil, nil
	case models.CountAtMost:
		return count <= config.CountValue, nil, nil
	default:
		return false, []DataIssue{{Reason: fmt.Sprintf("unknown count operator %q", config.CountOperator)}}, nil
	}
}

// evaluateFormula runs a jsonlogic expression over the snapshot. Any
// evaluation problem fails closed with an issue.
func evaluateFormula(formula map[string]any, snapshot *models.CustomerSnapshot) (bool, []DataIssue) {
	ruleJSON, err := json.Marshal(formula)
	if err != nil {
		return false, []DataIssue{{Reason: fmt.Sprintf("formula not serializable: %v", err)}}
	}

	data := map[string]any{
		"customer_id": snapshot.CustomerID,
		"phone":       snapshot.Phone,
		"timezone":    snapshot.Timezone,
		"attributes":  snapshot.Attributes,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return false, []DataIssue{{Reason: fmt.Sprintf("snapshot not serializable: %v", err)}}
	}

	var result bytes.Buffer

	err = jsonlogic.Apply(bytes.NewReader(ruleJSON), bytes.NewReader(dataJSON), &result)
	if err != nil {
		return false, []DataIssue{{Reason: fmt.Sprintf("formula evaluation failed: %v", err)}}
	}

	var value any
	if err := json.Unmarshal(result.Bytes(), &value); err != nil {
		return false, []DataIssue{{Reason: fmt.Sprintf("formula produced unreadable result: %v", err)}}
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, []DataIssue{{Reason: fmt.Sprintf("formula produced non-boolean %T", value)}}
	}
}
