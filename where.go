package miso

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Logic combines the predicates of one filter.
type Logic string

// Supported filter combinators.
const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// Where is an ordered filter. Predicates are compiled and numbered in slice order.
type Where []Cond

// Cond binds a logical field name to a filter value. For Nested values
// the field is the alias of a joined table; for Raw values it is empty.
type Cond struct {
	Field string
	Value Value
}

// Value is the closed set of filter shapes: Null, Scalar, Members,
// Comparison, Nested and Raw.
type Value interface {
	isValue()
}

// Null tests a column for NULL.
type Null struct{}

// Scalar tests a column for equality.
type Scalar struct{ V any }

// Members tests a column for membership in a list bound as one array argument.
type Members struct{ Values []any }

// Nested scopes a filter to a joined alias.
type Nested struct{ Where Where }

// Raw is a caller-written predicate with ? markers for its arguments.
type Raw struct {
	Fragment string
	Args     []any
}

func (Null) isValue()    {}
func (Scalar) isValue()  {}
func (Members) isValue() {}
func (Nested) isValue()  {}
func (Raw) isValue()     {}

// Eq matches rows where field equals v. The shape of v is classified once:
// nil tests for NULL, slices test for membership.
func Eq(field string, v any) Cond { return Cond{Field: field, Value: Classify(v)} }

// In matches rows where field is one of values.
func In(field string, values any) Cond {
	return Cond{Field: field, Value: Members{Values: toAnySlice(values)}}
}

// IsNull matches rows where field is NULL.
func IsNull(field string) Cond { return Cond{Field: field, Value: Null{}} }

// Scoped applies w to the table joined under alias.
func Scoped(alias string, w Where) Cond { return Cond{Field: alias, Value: Nested{Where: w}} }

// RawCond embeds a hand-written predicate. Each ? in fragment is replaced by
// the next placeholder; the fragment is wrapped in parentheses.
// Write ?? for a literal ?, as in the jsonb operators (tags ?? ?, tags ??| ?).
// A $ followed by a digit is rejected anywhere in fragment, quoted literals
// included; bind such text as an argument instead.
func RawCond(fragment string, args ...any) Cond {
	return Cond{Value: Raw{Fragment: fragment, Args: args}}
}

// Match builds a filter from a map, classifying each value with Classify.
// Keys are visited in sorted order so numbering is deterministic.
func Match(m map[string]any) Where {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := make(Where, 0, len(keys))
	for _, k := range keys {
		w = append(w, Cond{Field: k, Value: Classify(m[k])})
	}
	return w
}

// Classify decides the filter shape of a dynamic value.
func Classify(v any) Value {
	if isNil(v) {
		return Null{}
	}
	switch val := v.(type) {
	case Value:
		return val
	case Where:
		return Nested{Where: val}
	case map[string]any:
		return Nested{Where: Match(val)}
	case []byte, json.RawMessage:
		return Scalar{V: v}
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return Members{Values: toAnySlice(v)}
	}
	return Scalar{V: v}
}

func toAnySlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
