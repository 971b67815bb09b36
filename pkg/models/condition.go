package models

import "time"

// ConditionMode selects how a condition node produces its boolean.
type ConditionMode string

const (
	ConditionModeRules      ConditionMode = "rules"       // Property rule tree
	ConditionModeSegment    ConditionMode = "segment"     // Membership in a materialized segment
	ConditionModeEventCount ConditionMode = "event_count" // Occurrences of an event within a window
	ConditionModeFormula    ConditionMode = "formula"     // Free-form jsonlogic expression
)

// SegmentMembershipOperator tests segment membership.
type SegmentMembershipOperator string

const (
	SegmentIsIn    SegmentMembershipOperator = "is_in"
	SegmentIsNotIn SegmentMembershipOperator = "is_not_in"
)

// CountOperator compares an observed event count against a target.
type CountOperator string

const (
	CountAtLeast CountOperator = "at_least"
	CountExactly CountOperator = "exactly"
	CountAtMost  CountOperator = "at_most"
)

// ConditionConfig is the config blob of a condition node. The selected
// mode decides which field group applies; all modes reduce to the same
// boolean contract and route to the true/false handles.
type ConditionConfig struct {
	Mode ConditionMode `json:"mode,omitempty"` // Defaults to rules

	Rules *RuleGroup `json:"rules,omitempty"`

	SegmentID       string                    `json:"segment_id,omitempty"`
	SegmentOperator SegmentMembershipOperator `json:"segment_operator,omitempty"`

	EventName     string        `json:"event_name,omitempty"`
	CountOperator CountOperator `json:"count_operator,omitempty"`
	CountValue    int           `json:"count_value,omitempty"`
	CountWindow   time.Duration `json:"count_window,omitempty"`

	Formula map[string]any `json:"formula,omitempty"`

	// AddElseBranch routes evaluation errors and unwired true/false
	// handles to the else handle instead of failing the enrollment.
	AddElseBranch bool `json:"add_else_branch,omitempty"`
}

// EffectiveMode returns the configured mode, defaulting to rules.
func (c *ConditionConfig) EffectiveMode() ConditionMode {
	if c.Mode == "" {
		return ConditionModeRules
	}

	return c.Mode
}
