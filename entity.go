package miso

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
)

// DefaultPrimaryKey is the primary key field used when an entity does not name one.
const DefaultPrimaryKey = "id"

// Inferred SQL types.
const (
	TypeInt         = "int"
	TypeFloat       = "float8"
	TypeText        = "text"
	TypeBoolean     = "boolean"
	TypeTimestamptz = "timestamptz"
	TypeUUID        = "uuid"
	TypeBytea       = "bytea"
	TypeJSONB       = "jsonb"
)

// Row is a record keyed by logical field name.
type Row map[string]any

// Field describes one column of an entity.
type Field struct {
	// Name is the logical field name used by callers and as the output alias.
	Name string
	// Column overrides the physical column name. Defaults to the snake-cased Name.
	Column string
	// Type is the declared SQL type. When empty the type is inferred from values.
	Type       string
	Nullable   bool
	HasDefault bool
	Generator  *Generator
	Reference  *Reference
}

// Generator produces a value for a field from other fields of the same row.
type Generator struct {
	DependsOn []string
	Generate  func(row Row) (any, error)
}

// Reference points at a field of another entity. It is metadata only.
type Reference struct {
	Entity *Entity
	Field  string
}

// Entity is the immutable description of a table's physical shape.
// Fields keep their declaration order, which is the order of every
// SELECT and RETURNING projection built against the entity.
type Entity struct {
	table      string
	primaryKey string
	fields     []Field
	index      map[string]int
}

// NewEntity validates and constructs an entity definition.
// An empty primaryKey defaults to DefaultPrimaryKey.
func NewEntity(table, primaryKey string, fields ...Field) (*Entity, error) {
	if !isValidTable(table) {
		return nil, fmt.Errorf("miso: %w: table %q", ErrInvalidIdentifier, table)
	}
	if primaryKey == "" {
		primaryKey = DefaultPrimaryKey
	}

	e := &Entity{
		table:      table,
		primaryKey: primaryKey,
		fields:     make([]Field, 0, len(fields)),
		index:      make(map[string]int, len(fields)),
	}

	for _, f := range fields {
		if f.Name == "" || strings.ContainsAny(f.Name, "\"\x00") {
			return nil, fmt.Errorf("miso: %w: field name %q in %s", ErrInvalidIdentifier, f.Name, table)
		}
		if _, dup := e.index[f.Name]; dup {
			return nil, fmt.Errorf("miso: %w: duplicate field %q in %s", ErrInvalidIdentifier, f.Name, table)
		}
		if f.Column == "" {
			f.Column = inflect.Underscore(f.Name)
		}
		if !isValidIdentifier(f.Column) {
			return nil, fmt.Errorf("miso: %w: column %q for field %q", ErrInvalidIdentifier, f.Column, f.Name)
		}
		if f.Type != "" && !typeRe.MatchString(f.Type) {
			return nil, fmt.Errorf("miso: %w: type %q for field %q", ErrInvalidIdentifier, f.Type, f.Name)
		}
		e.index[f.Name] = len(e.fields)
		e.fields = append(e.fields, f)
	}

	return e, nil
}

// MustEntity is like NewEntity but panics on error.
// Intended for package-level entity variables.
func MustEntity(table, primaryKey string, fields ...Field) *Entity {
	e, err := NewEntity(table, primaryKey, fields...)
	if err != nil {
		panic(err)
	}
	return e
}

// Table returns the physical table name.
func (e *Entity) Table() string { return e.table }

// PrimaryKey returns the logical primary key field name.
func (e *Entity) PrimaryKey() string { return e.primaryKey }

// Fields returns a copy of the fields in declaration order.
func (e *Entity) Fields() []Field {
	out := make([]Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// Field looks up a field by logical name.
func (e *Entity) Field(name string) (Field, bool) {
	i, ok := e.index[name]
	if !ok {
		return Field{}, false
	}
	return e.fields[i], true
}

// Column resolves a logical field name to its physical column,
// optionally qualified with the table name.
func (e *Entity) Column(field string, qualified bool) (string, error) {
	f, ok := e.Field(field)
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrUnknownField, field, e.table)
	}
	if qualified {
		return e.table + "." + f.Column, nil
	}
	return f.Column, nil
}

// ColumnType returns the SQL type used to cast a value bound to field.
// A declared type always wins; otherwise the type is inferred from sample.
func (e *Entity) ColumnType(field string, sample any) (string, error) {
	f, ok := e.Field(field)
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrUnknownField, field, e.table)
	}
	if f.Type != "" {
		return f.Type, nil
	}
	t, err := inferType(sample)
	if err != nil {
		return "", fmt.Errorf("field %q in %s: %w", field, e.table, err)
	}
	return t, nil
}

// OrderedFields returns the entity's fields in declaration order,
// restricted to subset when one is given.
func (e *Entity) OrderedFields(subset ...string) ([]Field, error) {
	if len(subset) == 0 {
		return e.Fields(), nil
	}
	want := make(map[string]bool, len(subset))
	for _, name := range subset {
		if _, ok := e.index[name]; !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnknownField, name, e.table)
		}
		want[name] = true
	}
	out := make([]Field, 0, len(want))
	for _, f := range e.fields {
		if want[f.Name] {
			out = append(out, f)
		}
	}
	return out, nil
}

// Generate returns a copy of row with every absent generated field filled in.
// Generators run once all of their dependencies are present in the row.
func (e *Entity) Generate(row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}

	var pending []Field
	for _, f := range e.fields {
		if f.Generator == nil {
			continue
		}
		if _, present := out[f.Name]; !present {
			pending = append(pending, f)
		}
	}

	for len(pending) > 0 {
		next := pending[:0]
		for _, f := range pending {
			if !hasAll(out, f.Generator.DependsOn) {
				next = append(next, f)
				continue
			}
			v, err := f.Generator.Generate(out)
			if err != nil {
				return nil, fmt.Errorf("miso: generate %q in %s: %w", f.Name, e.table, err)
			}
			out[f.Name] = v
		}
		if len(next) == len(pending) {
			names := make([]string, len(next))
			for i, f := range next {
				names[i] = f.Name
			}
			sort.Strings(names)
			return nil, fmt.Errorf("miso: %w: %s in %s", ErrGeneratorCycle, strings.Join(names, ", "), e.table)
		}
		pending = next
	}
	return out, nil
}

func hasAll(row Row, keys []string) bool {
	for _, k := range keys {
		if _, ok := row[k]; !ok {
			return false
		}
	}
	return true
}

// returning renders the projection of every field aliased to its logical name.
func (e *Entity) returning() string {
	cols := make([]string, len(e.fields))
	for i, f := range e.fields {
		cols[i] = f.Column + " AS " + quoteIdent(f.Name)
	}
	return strings.Join(cols, ", ")
}

// inferType maps the category of a runtime value to an SQL type.
func inferType(v any) (string, error) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", fmt.Errorf("%w: nil pointer needs a declared type", ErrUnsupportedType)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "", fmt.Errorf("%w: nil value needs a declared type", ErrUnsupportedType)
	}

	switch val := rv.Interface().(type) {
	case time.Time:
		return TypeTimestamptz, nil
	case uuid.UUID:
		return TypeUUID, nil
	case json.RawMessage:
		return TypeJSONB, nil
	case []byte:
		return TypeBytea, nil
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedType, err)
		}
		return inferType(inner)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return TypeBoolean, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt, nil
	case reflect.Float32, reflect.Float64:
		return TypeFloat, nil
	case reflect.String:
		return TypeText, nil
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return TypeJSONB, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
