package models

// LogicalOperator combines the results of a rule group's members.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ConditionOperator is a leaf comparison operator.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpBetween     ConditionOperator = "between" // Inclusive on both bounds
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpInList      ConditionOperator = "in_list"
	OpIsSet       ConditionOperator = "is_set"     // Ignores Value
	OpIsNotSet    ConditionOperator = "is_not_set" // Ignores Value
)

// ValueType declares how operands are coerced before comparison.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeDate    ValueType = "date"
)

// RuleCondition is a single leaf predicate over a customer property.
type RuleCondition struct {
	ID        string            `json:"id"`
	Property  string            `json:"property"`
	Operator  ConditionOperator `json:"operator"`
	Value     any               `json:"value,omitempty"`
	ValueType ValueType         `json:"value_type,omitempty"`
}

// Complete reports whether the condition carries enough data to evaluate.
// For between, both bounds must be present.
func (c *RuleCondition) Complete() bool {
	if c.Property == "" || c.Operator == "" {
		return false
	}

	if c.Operator == OpBetween {
		bounds, ok := c.Value.([]any)

		return ok && len(bounds) == 2 && bounds[0] != nil && bounds[1] != nil
	}

	return true
}

// RuleGroup is a recursive tree of conditions combined by a logical operator.
type RuleGroup struct {
	LogicalOperator LogicalOperator  `json:"logical_operator"`
	Conditions      []*RuleCondition `json:"conditions,omitempty"`
	Groups          []*RuleGroup     `json:"groups,omitempty"`
}

// Empty reports whether the group has no evaluable members at any depth.
func (g *RuleGroup) Empty() bool {
	if g == nil {
		return true
	}

	if len(g.Conditions) > 0 {
		return false
	}

	for _, nested := range g.Groups {
		if !nested.Empty() {
			return false
		}
	}

	return true
}
