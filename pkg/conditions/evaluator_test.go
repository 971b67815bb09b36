package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagerhq/voyager/pkg/customers"
	"github.com/voyagerhq/voyager/pkg/models"
)

func snapshot(attributes map[string]any) *models.CustomerSnapshot {
	return &models.CustomerSnapshot{
		CustomerID: "c1",
		Phone:      "+15550001111",
		Timezone:   "UTC",
		Attributes: attributes,
	}
}

func TestEvaluateRules_And(t *testing.T) {
	group := &models.RuleGroup{
		LogicalOperator: models.LogicalAnd,
		Conditions: []*models.RuleCondition{
			{Property: "tier", Operator: models.OpEquals, Value: "gold"},
			{Property: "orders", Operator: models.OpGreaterThan, Value: 3, ValueType: models.ValueTypeNumber},
		},
	}

	result, issues := EvaluateRules(group, snapshot(map[string]any{"tier": "gold", "orders": 5.0}))
	assert.True(t, result)
	assert.Empty(t, issues)

	result, _ = EvaluateRules(group, snapshot(map[string]any{"tier": "gold", "orders": 2.0}))
	assert.False(t, result)
}

func TestEvaluateRules_Or(t *testing.T) {
	group := &models.RuleGroup{
		LogicalOperator: models.LogicalOr,
		Conditions: []*models.RuleCondition{
			{Property: "tier", Operator: models.OpEquals, Value: "gold"},
			{Property: "tier", Operator: models.OpEquals, Value: "silver"},
		},
	}

	result, _ := EvaluateRules(group, snapshot(map[string]any{"tier": "silver"}))
	assert.True(t, result)

	result, _ = EvaluateRules(group, snapshot(map[string]any{"tier": "bronze"}))
	assert.False(t, result)
}

func TestEvaluateRules_NestedGroups(t *testing.T) {
	// tier == gold AND (city == Lisbon OR city == Porto)
	group := &models.RuleGroup{
		LogicalOperator: models.LogicalAnd,
		Conditions: []*models.RuleCondition{
			{Property: "tier", Operator: models.OpEquals, Value: "gold"},
		},
		Groups: []*models.RuleGroup{{
			LogicalOperator: models.LogicalOr,
			Conditions: []*models.RuleCondition{
				{Property: "city", Operator: models.OpEquals, Value: "Lisbon"},
				{Property: "city", Operator: models.OpEquals, Value: "Porto"},
			},
		}},
	}

	result, _ := EvaluateRules(group, snapshot(map[string]any{"tier": "gold", "city": "Porto"}))
	assert.True(t, result)

	result, _ = EvaluateRules(group, snapshot(map[string]any{"tier": "gold", "city": "Madrid"}))
	assert.False(t, result)
}

func TestEvaluateRules_BetweenInclusive(t *testing.T) {
	group := &models.RuleGroup{
		Conditions: []*models.RuleCondition{
			{Property: "age", Operator: models.OpBetween, Value: []any{10.0, 20.0}, ValueType: models.ValueTypeNumber},
		},
	}

	for value, want := range map[float64]bool{10: true, 15: true, 20: true, 9: false, 21: false} {
		result, _ := EvaluateRules(group, snapshot(map[string]any{"age": value}))
		assert.Equal(t, want, result, "age %v", value)
	}
}

func TestEvaluateRules_FailClosed(t *testing.T) {
	group := &models.RuleGroup{
		Conditions: []*models.RuleCondition{
			{Property: "orders", Operator: models.OpGreaterThan, Value: 3, ValueType: models.ValueTypeNumber},
		},
	}

	// Missing property evaluates false and surfaces an issue.
	result, issues := EvaluateRules(group, snapshot(nil))
	assert.False(t, result)
	require.Len(t, issues, 1)
	assert.Equal(t, "orders", issues[0].Property)

	// Uncoercible value does the same.
	result, issues = EvaluateRules(group, snapshot(map[string]any{"orders": "many"}))
	assert.False(t, result)
	require.Len(t, issues, 1)
}

func TestEvaluateRules_EmptyGroupIsTrue(t *testing.T) {
	result, issues := EvaluateRules(&models.RuleGroup{}, snapshot(nil))
	assert.True(t, result)
	assert.Empty(t, issues)
}

func TestEvaluateRules_Deterministic(t *testing.T) {
	group := &models.RuleGroup{
		LogicalOperator: models.LogicalOr,
		Conditions: []*models.RuleCondition{
			{Property: "a", Operator: models.OpIsSet},
			{Property: "b", Operator: models.OpContains, Value: "x"},
		},
	}
	data := snapshot(map[string]any{"b": "xyz"})

	first, _ := EvaluateRules(group, data)
	for range 10 {
		again, _ := EvaluateRules(group, data)
		assert.Equal(t, first, again)
	}
}

func TestCompare_Operators(t *testing.T) {
	tests := []struct {
		name      string
		condition *models.RuleCondition
		attrs     map[string]any
		want      bool
	}{
		{"is_set present", &models.RuleCondition{Property: "a", Operator: models.OpIsSet}, map[string]any{"a": 1.0}, true},
		{"is_set empty string", &models.RuleCondition{Property: "a", Operator: models.OpIsSet}, map[string]any{"a": ""}, false},
		{"is_not_set missing", &models.RuleCondition{Property: "a", Operator: models.OpIsNotSet}, nil, true},
		{"not_equals", &models.RuleCondition{Property: "a", Operator: models.OpNotEquals, Value: "x"}, map[string]any{"a": "y"}, true},
		{"less_than", &models.RuleCondition{Property: "a", Operator: models.OpLessThan, Value: 5, ValueType: models.ValueTypeNumber}, map[string]any{"a": 3.0}, true},
		{"contains string", &models.RuleCondition{Property: "a", Operator: models.OpContains, Value: "ell"}, map[string]any{"a": "hello"}, true},
		{"contains list", &models.RuleCondition{Property: "a", Operator: models.OpContains, Value: "shoes"}, map[string]any{"a": []any{"shoes", "hats"}}, true},
		{"not_contains", &models.RuleCondition{Property: "a", Operator: models.OpNotContains, Value: "zz"}, map[string]any{"a": "hello"}, true},
		{"in_list", &models.RuleCondition{Property: "a", Operator: models.OpInList, Value: []any{"x", "y"}}, map[string]any{"a": "y"}, true},
		{"in_list miss", &models.RuleCondition{Property: "a", Operator: models.OpInList, Value: []any{"x", "y"}}, map[string]any{"a": "z"}, false},
		{"date greater", &models.RuleCondition{Property: "a", Operator: models.OpGreaterThan, Value: "2024-01-01", ValueType: models.ValueTypeDate}, map[string]any{"a": "2024-06-01"}, true},
		{"number as string coerces", &models.RuleCondition{Property: "a", Operator: models.OpEquals, Value: 42, ValueType: models.ValueTypeNumber}, map[string]any{"a": "42"}, true},
		{"boolean", &models.RuleCondition{Property: "a", Operator: models.OpEquals, Value: true, ValueType: models.ValueTypeBoolean}, map[string]any{"a": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := &models.RuleGroup{Conditions: []*models.RuleCondition{tt.condition}}

			result, _ := EvaluateRules(group, snapshot(tt.attrs))
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestEvaluator_SegmentMode(t *testing.T) {
	ctx := context.Background()
	source := customers.NewStatic()
	source.SetSegment("vip", "c1")

	evaluator := NewEvaluator(source, source)

	config := &models.ConditionConfig{
		Mode:            models.ConditionModeSegment,
		SegmentID:       "vip",
		SegmentOperator: models.SegmentIsIn,
	}

	result, issues, err := evaluator.Evaluate(ctx, config, snapshot(nil), time.Now())
	require.NoError(t, err)
	assert.True(t, result)
	assert.Empty(t, issues)

	config.SegmentOperator = models.SegmentIsNotIn

	result, _, err = evaluator.Evaluate(ctx, config, snapshot(nil), time.Now())
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluator_EventCountMode(t *testing.T) {
	ctx := context.Background()
	source := customers.NewStatic()
	source.SetCount("c1", "order_placed", 4)

	evaluator := NewEvaluator(source, source)

	tests := []struct {
		operator models.CountOperator
		value    int
		want     bool
	}{
		{models.CountAtLeast, 3, true},
		{models.CountAtLeast, 5, false},
		{models.CountExactly, 4, true},
		{models.CountAtMost, 4, true},
		{models.CountAtMost, 3, false},
	}

	for _, tt := range tests {
		config := &models.ConditionConfig{
			Mode:          models.ConditionModeEventCount,
			EventName:     "order_placed",
			CountOperator: tt.operator,
			CountValue:    tt.value,
			CountWindow:   30 * 24 * time.Hour,
		}

		result, _, err := evaluator.Evaluate(ctx, config, snapshot(nil), time.Now())
		require.NoError(t, err)
		assert.Equal(t, tt.want, result, "%s %d", tt.operator, tt.value)
	}
}

func TestEvaluator_FormulaMode(t *testing.T) {
	ctx := context.Background()
	evaluator := NewEvaluator(nil, nil)

	config := &models.ConditionConfig{
		Mode: models.ConditionModeFormula,
		Formula: map[string]any{
			">": []any{map[string]any{"var": "attributes.total_spent"}, 100},
		},
	}

	result, issues, err := evaluator.Evaluate(ctx, config, snapshot(map[string]any{"total_spent": 250.0}), time.Now())
	require.NoError(t, err)
	assert.True(t, result)
	assert.Empty(t, issues)

	result, _, err = evaluator.Evaluate(ctx, config, snapshot(map[string]any{"total_spent": 50.0}), time.Now())
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluator_FormulaFailsClosed(t *testing.T) {
	ctx := context.Background()
	evaluator := NewEvaluator(nil, nil)

	config := &models.ConditionConfig{
		Mode: models.ConditionModeFormula,
		Formula: map[string]any{
			"var": "attributes.nickname",
		},
	}

	// Missing operand resolves to null, which is false with no error.
	result, _, err := evaluator.Evaluate(ctx, config, snapshot(nil), time.Now())
	require.NoError(t, err)
	assert.False(t, result)
}

func TestCountAudience(t *testing.T) {
	group := &models.RuleGroup{
		Conditions: []*models.RuleCondition{
			{Property: "tier", Operator: models.OpEquals, Value: "gold"},
		},
	}

	snapshots := []*models.CustomerSnapshot{
		snapshot(map[string]any{"tier": "gold"}),
		snapshot(map[string]any{"tier": "bronze"}),
		snapshot(map[string]any{"tier": "gold"}),
	}

	matched, total := CountAudience(group, snapshots)
	assert.Equal(t, 2, matched)
	assert.Equal(t, 3, total)
}
