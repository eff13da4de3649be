package miso

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// -----------------------------------------------------------------------------
// Entity Specs
// -----------------------------------------------------------------------------

// FieldSpec is the serializable form of a Field.
type FieldSpec struct {
	Name       string `json:"name"`
	Column     string `json:"column,omitempty"`
	Type       string `json:"type,omitempty"`
	Nullable   bool   `json:"nullable,omitempty"`
	HasDefault bool   `json:"has_default,omitempty"`
}

// EntitySpec is the serializable form of an Entity.
//
//	{"table": "users", "fields": [{"name": "id", "type": "int"}, {"name": "firstName"}]}
type EntitySpec struct {
	Table      string      `json:"table"`
	PrimaryKey string      `json:"primary_key,omitempty"`
	Fields     []FieldSpec `json:"fields"`
}

// Entity constructs the entity the spec describes.
func (s EntitySpec) Entity() (*Entity, error) {
	fields := make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = Field{
			Name:       f.Name,
			Column:     f.Column,
			Type:       f.Type,
			Nullable:   f.Nullable,
			HasDefault: f.HasDefault,
		}
	}
	return NewEntity(s.Table, s.PrimaryKey, fields...)
}

// specOf describes e as an EntitySpec.
func specOf(e *Entity) EntitySpec {
	fields := make([]FieldSpec, len(e.fields))
	for i, f := range e.fields {
		fields[i] = FieldSpec{
			Name:       f.Name,
			Column:     f.Column,
			Type:       f.Type,
			Nullable:   f.Nullable,
			HasDefault: f.HasDefault,
		}
	}
	return EntitySpec{Table: e.table, PrimaryKey: e.primaryKey, Fields: fields}
}

// -----------------------------------------------------------------------------
// Statement Specs
// -----------------------------------------------------------------------------

// A filter in a spec is an object keyed by field name, compiled in sorted key order.
// Values are interpreted as follows:
//
//	"email": "a@b.c"                        equality
//	"deletedAt": null                       IS NULL
//	"id": [1, 2, 3]                         membership
//	"age": {"op": "greaterOrEqual", "value": 18}    comparison
//	"c": {"region": "eu"}                   sub-filter on joined alias c

// JoinSpec describes a join in a serializable format.
//
//	{"entity": "cities", "alias": "c", "type": "left",
//	 "on": {"id": {"ref": "cityId"}}, "fields": [{"as": "cityName", "field": "name"}]}
//
// On values are a literal, null, {"ref": "rootField"} for a root column, or
// {"alias": "field"} for a column of an earlier join. YAML documents must
// quote the "on" key, which YAML 1.1 otherwise reads as a boolean.
type JoinSpec struct {
	Entity string         `json:"entity"`
	Alias  string         `json:"alias"`
	Type   string         `json:"type,omitempty"` // "inner" (default) or "left"
	On     map[string]any `json:"on"`
	Logic  string         `json:"logic,omitempty"`
	Fields []ProjectSpec  `json:"fields,omitempty"`
}

// ProjectSpec is the serializable form of a Project.
type ProjectSpec struct {
	As    string `json:"as"`
	Field string `json:"field"`
}

// OrderBySpec represents an ORDER BY clause in a serializable format.
//
//	{"field": "name", "direction": "asc"}
//	{"field": "c.name", "direction": "desc"}
type OrderBySpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// SelectSpec describes a SELECT.
type SelectSpec struct {
	Fields  []string       `json:"fields,omitempty"`
	Joins   []JoinSpec     `json:"joins,omitempty"`
	Where   map[string]any `json:"where,omitempty"`
	Logic   string         `json:"logic,omitempty"`
	GroupBy []string       `json:"group_by,omitempty"`
	OrderBy []OrderBySpec  `json:"order_by,omitempty"`
	Limit   *int           `json:"limit,omitempty"`
	Offset  *int           `json:"offset,omitempty"`
}

// ConflictSpec describes an ON CONFLICT clause. Exactly one of Key and
// Constraint is set. An empty Set means DO NOTHING.
type ConflictSpec struct {
	Key        string `json:"key,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Set        string `json:"set,omitempty"`
}

// InsertSpec describes an INSERT. Row selects single-row mode and Rows
// selects bulk mode.
type InsertSpec struct {
	Row      map[string]any   `json:"row,omitempty"`
	Rows     []map[string]any `json:"rows,omitempty"`
	Conflict *ConflictSpec    `json:"conflict,omitempty"`
}

// UpdateSpec describes an UPDATE.
type UpdateSpec struct {
	Set   map[string]any `json:"set"`
	Where map[string]any `json:"where,omitempty"`
	Logic string         `json:"logic,omitempty"`
}

// DeleteSpec describes a DELETE.
type DeleteSpec struct {
	Where map[string]any `json:"where,omitempty"`
	Logic string         `json:"logic,omitempty"`
}

// StatementSpec describes one statement against a root entity.
// Exactly one of Select, Insert, Update and Delete is set.
type StatementSpec struct {
	Entity string      `json:"entity,omitempty"`
	Select *SelectSpec `json:"select,omitempty"`
	Insert *InsertSpec `json:"insert,omitempty"`
	Update *UpdateSpec `json:"update,omitempty"`
	Delete *DeleteSpec `json:"delete,omitempty"`
}

// Operation reports which statement the spec describes.
func (s StatementSpec) Operation() (Operation, error) {
	var ops []Operation
	if s.Select != nil {
		ops = append(ops, OpSelect)
	}
	if s.Insert != nil {
		ops = append(ops, OpInsert)
	}
	if s.Update != nil {
		ops = append(ops, OpUpdate)
	}
	if s.Delete != nil {
		ops = append(ops, OpDelete)
	}
	if len(ops) != 1 {
		return "", fmt.Errorf("miso: %w: statement must describe exactly one operation, found %d", ErrInvalidInput, len(ops))
	}
	return ops[0], nil
}

// Builder turns the spec into a builder rooted at root. Join entity names
// resolve through catalog.
func (s StatementSpec) Builder(root *Entity, catalog map[string]*Entity) (Builder, error) {
	op, err := s.Operation()
	if err != nil {
		return nil, err
	}

	switch op {
	case OpSelect:
		return s.Select.builder(root, catalog)
	case OpInsert:
		return s.Insert.builder(root)
	case OpUpdate:
		where, err := whereFromSpec(s.Update.Where)
		if err != nil {
			return nil, err
		}
		u := Update(root, normalizeRow(s.Update.Set))
		if strings.EqualFold(s.Update.Logic, string(Or)) {
			return u.WhereOr(where), nil
		}
		return u.Where(where), nil
	default:
		where, err := whereFromSpec(s.Delete.Where)
		if err != nil {
			return nil, err
		}
		d := Delete(root)
		if strings.EqualFold(s.Delete.Logic, string(Or)) {
			return d.WhereOr(where), nil
		}
		return d.Where(where), nil
	}
}

func (s *SelectSpec) builder(root *Entity, catalog map[string]*Entity) (Builder, error) {
	b := Select(root, s.Fields...)

	for _, js := range s.Joins {
		e, ok := catalog[js.Entity]
		if !ok {
			return nil, fmt.Errorf("miso: %w: join %q references unknown entity %q", ErrJoinResolution, js.Alias, js.Entity)
		}
		j := Join{Entity: e, Alias: js.Alias, On: onFromSpec(js.On), Logic: Logic(strings.ToUpper(js.Logic))}
		switch strings.ToLower(js.Type) {
		case "", "inner":
			j.Type = InnerJoin
		case "left":
			j.Type = LeftJoin
		default:
			return nil, fmt.Errorf("miso: %w: unknown join type %q", ErrJoinResolution, js.Type)
		}
		for _, p := range js.Fields {
			j.Fields = append(j.Fields, Project(p))
		}
		b.AddJoin(j)
	}

	where, err := whereFromSpec(s.Where)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(s.Logic, string(Or)) {
		b.WhereOr(where)
	} else {
		b.Where(where)
	}

	if len(s.GroupBy) > 0 {
		b.GroupBy(s.GroupBy...)
	}
	for _, o := range s.OrderBy {
		b.OrderBy(o.Field, Direction(strings.ToUpper(o.Direction)))
	}
	if s.Limit != nil {
		b.Limit(*s.Limit)
	}
	if s.Offset != nil {
		b.Offset(*s.Offset)
	}
	return b, nil
}

func (s *InsertSpec) builder(root *Entity) (Builder, error) {
	var b *InsertBuilder
	switch {
	case s.Row != nil && s.Rows != nil:
		return nil, fmt.Errorf("miso: %w: insert sets both row and rows", ErrInvalidInput)
	case s.Rows != nil:
		rows := make([]Row, len(s.Rows))
		for i, r := range s.Rows {
			rows[i] = normalizeRow(r)
		}
		b = Insert(root, rows)
	default:
		b = Insert(root, normalizeRow(s.Row))
	}

	if c := s.Conflict; c != nil {
		switch {
		case c.Key != "" && c.Constraint != "":
			return nil, fmt.Errorf("miso: %w: conflict sets both key and constraint", ErrInvalidInput)
		case c.Key != "" && c.Set == "":
			b.OnKeyConflictDoNothing(c.Key)
		case c.Key != "":
			b.OnKeyConflictDoUpdate(c.Key, c.Set)
		case c.Constraint != "" && c.Set == "":
			b.OnConstraintConflictDoNothing(c.Constraint)
		case c.Constraint != "":
			b.OnConstraintConflictDoUpdate(c.Constraint, c.Set)
		default:
			return nil, fmt.Errorf("miso: %w: conflict names neither key nor constraint", ErrInvalidInput)
		}
	}
	return b, nil
}

// whereFromSpec converts a spec filter object, visiting keys in sorted order.
func whereFromSpec(m map[string]any) (Where, error) {
	keys := sortedKeys(m)
	where := make(Where, 0, len(keys))
	for _, k := range keys {
		v, err := valueFromSpec(k, normalize(m[k]))
		if err != nil {
			return nil, err
		}
		where = append(where, Cond{Field: k, Value: v})
	}
	return where, nil
}

func valueFromSpec(field string, v any) (Value, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Classify(v), nil
	}
	if op, ok := obj["op"].(string); ok {
		if len(obj) != 2 {
			return nil, fmt.Errorf("miso: %w: comparison on %q needs exactly op and value", ErrInvalidComparison, field)
		}
		if _, ok := opTokens[Op(op)]; !ok {
			return nil, fmt.Errorf("miso: %w: unknown operator %q on %q", ErrInvalidComparison, op, field)
		}
		return Comparison{Op: Op(op), Value: obj["value"]}, nil
	}
	nested, err := whereFromSpec(obj)
	if err != nil {
		return nil, err
	}
	return Nested{Where: nested}, nil
}

func onFromSpec(m map[string]any) JoinOn {
	keys := sortedKeys(m)
	on := make(JoinOn, 0, len(keys))
	for _, k := range keys {
		on = append(on, OnCond{Field: k, Target: targetFromSpec(normalize(m[k]))})
	}
	return on
}

func targetFromSpec(v any) Target {
	obj, ok := v.(map[string]any)
	if !ok {
		return classifyTarget(v)
	}
	if len(obj) == 1 {
		for k, val := range obj {
			field, ok := val.(string)
			if !ok {
				break
			}
			if k == "ref" {
				return Ref(field)
			}
			return AliasRef{Alias: k, Field: field}
		}
	}
	return unsupportedTarget{v: v}
}

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// Document bundles entity definitions with one statement over them.
// Documents are read from JSON or YAML.
//
//	entities:
//	  users:
//	    table: users
//	    fields: [{name: id, type: int}, {name: firstName}]
//	statement:
//	  entity: users
//	  select:
//	    where: {firstName: Ada}
type Document struct {
	Entities  map[string]EntitySpec `json:"entities"`
	Statement StatementSpec         `json:"statement"`
}

// ParseDocument decodes a JSON or YAML document. Numbers keep their
// integer or floating point form so inferred types match the literal.
func ParseDocument(data []byte) (*Document, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("miso: parse document: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("miso: parse document: %w", err)
	}
	return &doc, nil
}

// Catalog constructs every entity of the document, keyed by its document name.
func (d *Document) Catalog() (map[string]*Entity, error) {
	catalog := make(map[string]*Entity, len(d.Entities))
	for _, name := range sortedKeys(d.Entities) {
		e, err := d.Entities[name].Entity()
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		catalog[name] = e
	}
	return catalog, nil
}

// Builder resolves the document's statement into a builder.
func (d *Document) Builder() (Builder, error) {
	catalog, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	root, ok := catalog[d.Statement.Entity]
	if !ok {
		return nil, fmt.Errorf("miso: %w: statement entity %q is not defined", ErrInvalidInput, d.Statement.Entity)
	}
	return d.Statement.Builder(root, catalog)
}

// normalize replaces json.Number values with int64 or float64, recursively.
func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

func normalizeRow(m map[string]any) Row {
	if m == nil {
		return Row{}
	}
	row := make(Row, len(m))
	for k, v := range m {
		row[k] = normalize(v)
	}
	return row
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
