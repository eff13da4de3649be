package miso

import (
	"fmt"
	"strconv"
)

// Op is a relational operator applied by a Comparison.
type Op string

// Supported comparison operators.
const (
	Greater        Op = "greater"
	GreaterOrEqual Op = "greaterOrEqual"
	Less           Op = "less"
	LessOrEqual    Op = "lessOrEqual"
	NotEqual       Op = "not"
)

var opTokens = map[Op]string{
	Greater:        " > ",
	GreaterOrEqual: " >= ",
	Less:           " < ",
	LessOrEqual:    " <= ",
	NotEqual:       " != ",
}

// Comparison is a non-equality predicate on a single field.
type Comparison struct {
	Op    Op  `json:"op"`
	Value any `json:"value"`
}

func (Comparison) isValue() {}

// Gt matches rows where field is greater than v.
func Gt(field string, v any) Cond { return Cond{Field: field, Value: Comparison{Op: Greater, Value: v}} }

// Gte matches rows where field is greater than or equal to v.
func Gte(field string, v any) Cond {
	return Cond{Field: field, Value: Comparison{Op: GreaterOrEqual, Value: v}}
}

// Lt matches rows where field is less than v.
func Lt(field string, v any) Cond { return Cond{Field: field, Value: Comparison{Op: Less, Value: v}} }

// Lte matches rows where field is less than or equal to v.
func Lte(field string, v any) Cond {
	return Cond{Field: field, Value: Comparison{Op: LessOrEqual, Value: v}}
}

// Not matches rows where field differs from v. Not(field, nil) matches non-null rows.
func Not(field string, v any) Cond { return Cond{Field: field, Value: Comparison{Op: NotEqual, Value: v}} }

// compile renders the operator fragment and, unless the comparison is a
// not-null test, a placeholder at the next counter position.
func (c Comparison) compile(count int) (string, int, []any, error) {
	token, ok := opTokens[c.Op]
	if !ok {
		return "", count, nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidComparison, c.Op)
	}
	if isNil(c.Value) {
		if c.Op == NotEqual {
			return " IS NOT NULL", count, nil, nil
		}
		return "", count, nil, fmt.Errorf("%w: operator %q cannot compare against null", ErrInvalidComparison, c.Op)
	}
	count++
	return token + "$" + strconv.Itoa(count), count, []any{c.Value}, nil
}
