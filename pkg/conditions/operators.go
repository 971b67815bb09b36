package conditions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// compare applies one leaf operator. The error return signals a data
// problem (type mismatch, uncoercible operand); callers treat it as a
// false result, not a thrown failure.
func compare(condition *models.RuleCondition, actual any, present bool) (bool, error) {
	switch condition.Operator {
	case models.OpIsSet:
		return present && actual != nil && actual != "", nil
	case models.OpIsNotSet:
		return !present || actual == nil || actual == "", nil
	}

	if !present {
		return false, fmt.Errorf("property %q is not set", condition.Property)
	}

	switch condition.Operator {
	case models.OpEquals:
		return equals(actual, condition.Value, condition.ValueType)
	case models.OpNotEquals:
		eq, err := equals(actual, condition.Value, condition.ValueType)

		return !eq, err
	case models.OpGreaterThan:
		cmp, err := compareOrdered(actual, condition.Value, condition.ValueType)

		return cmp > 0, err
	case models.OpLessThan:
		cmp, err := compareOrdered(actual, condition.Value, condition.ValueType)

		return cmp < 0, err
	case models.OpBetween:
		return between(actual, condition.Value, condition.ValueType)
	case models.OpContains:
		return contains(actual, condition.Value)
	case models.OpNotContains:
		has, err := contains(actual, condition.Value)

		return !has, err
	case models.OpInList:
		return inList(actual, condition.Value)
	default:
		return false, fmt.Errorf("unknown operator %q", condition.Operator)
	}
}

func equals(actual, expected any, valueType models.ValueType) (bool, error) {
	switch valueType {
	case models.ValueTypeNumber:
		left, err := toNumber(actual)
		if err != nil {
			return false, err
		}

		right, err := toNumber(expected)
		if err != nil {
			return false, err
		}

		return left == right, nil
	case models.ValueTypeBoolean:
		left, err := toBool(actual)
		if err != nil {
			return false, err
		}

		right, err := toBool(expected)
		if err != nil {
			return false, err
		}

		return left == right, nil
	default:
		return toString(actual) == toString(expected), nil
	}
}

// compareOrdered returns -1, 0 or 1. Operands are coerced to the declared
// type; dates compare chronologically, everything else numerically.
func compareOrdered(actual, expected any, valueType models.ValueType) (int, error) {
	if valueType == models.ValueTypeDate {
		left, err := toTime(actual)
		if err != nil {
			return 0, err
		}

		right, err := toTime(expected)
		if err != nil {
			return 0, err
		}

		return left.Compare(right), nil
	}

	left, err := toNumber(actual)
	if err != nil {
		return 0, err
	}

	right, err := toNumber(expected)
	if err != nil {
		return 0, err
	}

	switch {
	case left < right:
		return -1, nil
	case left > right:
		return 1, nil
	default:
		return 0, nil
	}
}

// between is inclusive on both bounds.
func between(actual, bounds any, valueType models.ValueType) (bool, error) {
	pair, ok := bounds.([]any)
	if !ok || len(pair) != 2 {
		return false, fmt.Errorf("between requires a two-element bounds list, got %T", bounds)
	}

	lower, err := compareOrdered(actual, pair[0], valueType)
	if err != nil {
		return false, err
	}

	upper, err := compareOrdered(actual, pair[1], valueType)
	if err != nil {
		return false, err
	}

	return lower >= 0 && upper <= 0, nil
}

// contains does case-sensitive substring match on strings and exact
// membership on lists.
func contains(actual, expected any) (bool, error) {
	switch value := actual.(type) {
	case string:
		return strings.Contains(value, toString(expected)), nil
	case []any:
		for _, item := range value {
			if toString(item) == toString(expected) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("contains requires a string or list operand, got %T", actual)
	}
}

// inList checks exact, case-sensitive membership of the actual value in
// the configured list.
func inList(actual, expected any) (bool, error) {
	list, ok := expected.([]any)
	if !ok {
		return false, fmt.Errorf("in_list requires a list value, got %T", expected)
	}

	for _, item := range list {
		if toString(item) == toString(actual) {
			return true, nil
		}
	}

	return false, nil
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to number: %w", v, err)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to number", value)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot coerce %q to boolean: %w", v, err)
		}

		return parsed, nil
	default:
		return false, fmt.Errorf("cannot coerce %T to boolean", value)
	}
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed, nil
			}
		}

		return time.Time{}, fmt.Errorf("cannot coerce %q to date", v)
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to date", value)
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
