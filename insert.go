package miso

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// conflict is a rendered ON CONFLICT clause.
type conflict struct {
	target string
	action string
}

// InsertBuilder accumulates an INSERT statement in single-row or bulk mode.
type InsertBuilder struct {
	entity   *Entity
	rows     []Row
	bulk     bool
	conflict *conflict
	err      error
}

// Insert starts an INSERT into e. values selects the mode: a Row or
// map[string]any inserts one row; a []Row or []map[string]any inserts
// every row in a single statement through unnest.
func Insert(e *Entity, values any) *InsertBuilder {
	b := &InsertBuilder{entity: e}
	if e == nil {
		b.err = fmt.Errorf("%w: nil entity", ErrInvalidInput)
		return b
	}

	switch v := values.(type) {
	case Row:
		b.rows = []Row{v}
	case map[string]any:
		b.rows = []Row{v}
	case []Row:
		b.rows, b.bulk = v, true
	case []map[string]any:
		b.rows = make([]Row, len(v))
		for i, r := range v {
			b.rows[i] = r
		}
		b.bulk = true
	default:
		b.err = fmt.Errorf("%w: cannot insert %T", ErrInvalidInput, values)
	}
	return b
}

// OnKeyConflictDoNothing skips rows that collide on the unique key field.
func (b *InsertBuilder) OnKeyConflictDoNothing(key string) *InsertBuilder {
	return b.onKey(key, "DO NOTHING")
}

// OnKeyConflictDoUpdate updates rows that collide on the unique key field.
// set is emitted verbatim after SET, e.g. "name = EXCLUDED.name".
func (b *InsertBuilder) OnKeyConflictDoUpdate(key, set string) *InsertBuilder {
	return b.onKey(key, "DO UPDATE SET "+set)
}

// OnConstraintConflictDoNothing skips rows that violate the named constraint.
func (b *InsertBuilder) OnConstraintConflictDoNothing(constraint string) *InsertBuilder {
	return b.onConstraint(constraint, "DO NOTHING")
}

// OnConstraintConflictDoUpdate updates rows that violate the named constraint.
func (b *InsertBuilder) OnConstraintConflictDoUpdate(constraint, set string) *InsertBuilder {
	return b.onConstraint(constraint, "DO UPDATE SET "+set)
}

func (b *InsertBuilder) onKey(key, action string) *InsertBuilder {
	if b.err != nil {
		return b
	}
	col, err := b.entity.Column(key, false)
	if err != nil {
		b.err = err
		return b
	}
	b.conflict = &conflict{target: "(" + col + ")", action: action}
	return b
}

func (b *InsertBuilder) onConstraint(name, action string) *InsertBuilder {
	if b.err != nil {
		return b
	}
	if !isValidIdentifier(name) {
		b.err = fmt.Errorf("%w: constraint %q", ErrInvalidIdentifier, name)
		return b
	}
	b.conflict = &conflict{target: "ON CONSTRAINT " + name, action: action}
	return b
}

// Build compiles the accumulated state. A bulk insert of zero rows
// compiles to an empty Statement.
func (b *InsertBuilder) Build() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.buildError(b.err)
	}

	rows := make([]Row, len(b.rows))
	for i, r := range b.rows {
		generated, err := b.entity.Generate(r)
		if err != nil {
			return Statement{}, b.buildError(err)
		}
		rows[i] = generated
	}

	if b.bulk {
		if len(rows) == 0 {
			return newStatement(OpInsert, b.entity.Table(), "", nil), nil
		}
		return b.buildBulk(rows)
	}
	return b.buildSingle(rows[0])
}

func (b *InsertBuilder) buildSingle(row Row) (Statement, error) {
	fields, err := presentFields(b.entity, row)
	if err != nil {
		return Statement{}, b.buildError(err)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.entity.Table())

	if len(fields) == 0 {
		sb.WriteString(" DEFAULT VALUES")
		b.writeTail(&sb)
		return newStatement(OpInsert, b.entity.Table(), sb.String(), nil), nil
	}

	cols := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		typ, err := b.entity.ColumnType(f.Name, row[f.Name])
		if err != nil {
			return Statement{}, b.buildError(err)
		}
		v, err := bindValue(typ, row[f.Name])
		if err != nil {
			return Statement{}, b.buildError(fmt.Errorf("field %q: %w", f.Name, err))
		}
		cols[i] = f.Column
		placeholders[i] = fmt.Sprintf("$%d::%s", i+1, typ)
		args[i] = v
	}

	fmt.Fprintf(&sb, " (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	b.writeTail(&sb)
	return newStatement(OpInsert, b.entity.Table(), sb.String(), args), nil
}

// buildBulk binds one array per column. The column set and each column's
// type come from the first row; later rows contribute values only for those
// columns, so a field absent from the first row is NULL in every row.
func (b *InsertBuilder) buildBulk(rows []Row) (Statement, error) {
	first := rows[0]
	fields, err := presentFields(b.entity, first)
	if err != nil {
		return Statement{}, b.buildError(err)
	}
	if len(fields) == 0 {
		return Statement{}, b.buildError(fmt.Errorf("%w: first row has no fields", ErrInvalidInput))
	}

	cols := make([]string, len(fields))
	arrays := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		typ, err := b.entity.ColumnType(f.Name, first[f.Name])
		if err != nil {
			return Statement{}, b.buildError(err)
		}
		values := make([]any, len(rows))
		for r, row := range rows {
			v, err := bindValue(typ, row[f.Name])
			if err != nil {
				return Statement{}, b.buildError(fmt.Errorf("row %d field %q: %w", r, f.Name, err))
			}
			values[r] = v
		}
		cols[i] = f.Column
		arrays[i] = fmt.Sprintf("$%d::%s[]", i+1, typ)
		args[i] = values
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) SELECT * FROM unnest(%s)",
		b.entity.Table(), strings.Join(cols, ", "), strings.Join(arrays, ", "))
	b.writeTail(&sb)
	return newStatement(OpInsert, b.entity.Table(), sb.String(), args), nil
}

func (b *InsertBuilder) writeTail(sb *strings.Builder) {
	if b.conflict != nil {
		sb.WriteString(" ON CONFLICT ")
		sb.WriteString(b.conflict.target)
		sb.WriteString(" ")
		sb.WriteString(b.conflict.action)
	}
	sb.WriteString(" RETURNING ")
	sb.WriteString(b.entity.returning())
}

// Exec builds the statement and runs it on ex. An empty bulk insert
// returns no rows without reaching the database.
func (b *InsertBuilder) Exec(ctx context.Context, ex *Executor) (Rows, error) {
	stmt, err := b.Build()
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, stmt)
}

func (b *InsertBuilder) buildError(err error) error {
	table := ""
	if b.entity != nil {
		table = b.entity.Table()
	}
	return &BuildError{Operation: OpInsert, Table: table, Err: err}
}

// presentFields returns the declared fields present in row, in declaration order.
// Keys that name no field are rejected.
func presentFields(e *Entity, row Row) ([]Field, error) {
	for k := range row {
		if _, ok := e.Field(k); !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnknownField, k, e.Table())
		}
	}
	fields := make([]Field, 0, len(row))
	for _, f := range e.fields {
		if _, ok := row[f.Name]; ok {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// bindValue prepares v for binding under typ; jsonb values are sent as JSON text.
func bindValue(typ string, v any) (any, error) {
	if isNil(v) || typ != TypeJSONB {
		return v, nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case json.RawMessage:
		return string(val), nil
	case []byte:
		return string(val), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	return string(data), nil
}
