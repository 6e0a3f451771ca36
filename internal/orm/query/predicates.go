package query

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the SQL form of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// ParseOperator maps the textual operators accepted by WhereOp
func ParseOperator(op string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "=", "==":
		return OpEqual, nil
	case "!=", "<>":
		return OpNotEqual, nil
	case ">":
		return OpGreaterThan, nil
	case ">=":
		return OpGreaterThanOrEqual, nil
	case "<":
		return OpLessThan, nil
	case "<=":
		return OpLessThanOrEqual, nil
	case "IN":
		return OpIn, nil
	case "NOT IN":
		return OpNotIn, nil
	case "LIKE":
		return OpLike, nil
	case "BETWEEN":
		return OpBetween, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOperator, op)
}

// Condition represents one WHERE predicate
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
	Or       bool

	// Column compares Field against another column instead of a value
	Column string
	// Raw is used verbatim with RawArgs bound to its placeholders
	Raw     string
	RawArgs []interface{}
	// Exists wraps a sub-select in EXISTS (...)
	Exists    *Query
	NotExists bool
}

func (q *Query) conditionToSQL(cond *Condition, args *[]interface{}) (string, error) {
	switch {
	case cond.Raw != "":
		*args = append(*args, cond.RawArgs...)
		return "(" + cond.Raw + ")", nil
	case cond.Exists != nil:
		sub, err := cond.Exists.renderSelect(args)
		if err != nil {
			return "", fmt.Errorf("exists sub-query: %w", err)
		}
		if cond.NotExists {
			return "NOT EXISTS (" + sub + ")", nil
		}
		return "EXISTS (" + sub + ")", nil
	case cond.Column != "":
		return fmt.Sprintf("%s %s %s", q.dialect.Quote(cond.Field), cond.Operator, q.dialect.Quote(cond.Column)), nil
	}

	field := q.dialect.Quote(cond.Field)

	switch cond.Operator {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", field, cond.Operator), nil

	case OpIn, OpNotIn:
		values, err := toSlice(cond.Value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			if cond.Operator == OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		if q.dialect == Postgres {
			*args = append(*args, pq.Array(values))
			if cond.Operator == OpIn {
				return fmt.Sprintf("%s = ANY(?)", field), nil
			}
			return fmt.Sprintf("NOT (%s = ANY(?))", field), nil
		}
		holders := make([]string, len(values))
		for i, v := range values {
			holders[i] = "?"
			*args = append(*args, v)
		}
		return fmt.Sprintf("%s %s (%s)", field, cond.Operator, strings.Join(holders, ", ")), nil

	case OpBetween:
		values, err := toSlice(cond.Value)
		if err != nil {
			return "", err
		}
		if len(values) != 2 {
			return "", fmt.Errorf("%w: BETWEEN needs 2 values, got %d", ErrInvalidValue, len(values))
		}
		*args = append(*args, values[0], values[1])
		return fmt.Sprintf("%s BETWEEN ? AND ?", field), nil

	default:
		if cond.Value == nil {
			if cond.Operator == OpEqual {
				return fmt.Sprintf("%s IS NULL", field), nil
			}
			if cond.Operator == OpNotEqual {
				return fmt.Sprintf("%s IS NOT NULL", field), nil
			}
		}
		*args = append(*args, cond.Value)
		return fmt.Sprintf("%s %s ?", field, cond.Operator), nil
	}
}

// toSlice accepts []interface{} or any typed slice
func toSlice(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case []string:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []int:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []int64:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: expected a slice, got %T", ErrInvalidValue, value)
}
