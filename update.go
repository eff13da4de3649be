package miso

import (
	"context"
	"fmt"
	"strings"
)

// UpdateBuilder accumulates an UPDATE statement.
// SET placeholders are numbered first; the filter continues from there.
type UpdateBuilder struct {
	entity *Entity
	set    Row
	where  Where
	logic  Logic
	err    error
}

// Update starts an UPDATE of e. Only fields present in set are written;
// absent fields are left untouched.
func Update(e *Entity, set Row) *UpdateBuilder {
	u := &UpdateBuilder{entity: e, set: set}
	if e == nil {
		u.err = fmt.Errorf("%w: nil entity", ErrInvalidInput)
	}
	return u
}

// Where sets the filter, combining its predicates with AND.
// A later call replaces an earlier filter.
func (u *UpdateBuilder) Where(w Where) *UpdateBuilder {
	u.where, u.logic = w, And
	return u
}

// WhereOr sets the filter, combining its predicates with OR.
func (u *UpdateBuilder) WhereOr(w Where) *UpdateBuilder {
	u.where, u.logic = w, Or
	return u
}

// Build compiles the accumulated state.
func (u *UpdateBuilder) Build() (Statement, error) {
	if u.err != nil {
		return Statement{}, u.buildError(u.err)
	}

	fields, err := presentFields(u.entity, u.set)
	if err != nil {
		return Statement{}, u.buildError(err)
	}
	if len(fields) == 0 {
		return Statement{}, u.buildError(ErrEmptyUpdate)
	}

	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+len(u.where))
	for i, f := range fields {
		typ, err := u.entity.ColumnType(f.Name, u.set[f.Name])
		if err != nil {
			return Statement{}, u.buildError(err)
		}
		v, err := bindValue(typ, u.set[f.Name])
		if err != nil {
			return Statement{}, u.buildError(fmt.Errorf("field %q: %w", f.Name, err))
		}
		sets[i] = fmt.Sprintf("%s = $%d::%s", f.Column, i+1, typ)
		args = append(args, v)
	}

	fc := filterCompiler{root: u.entity, count: len(args), args: args}
	where, err := fc.compile(u.where, u.logic)
	if err != nil {
		return Statement{}, u.buildError(err)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(u.entity.Table())
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	sb.WriteString(" RETURNING ")
	sb.WriteString(u.entity.returning())

	return newStatement(OpUpdate, u.entity.Table(), sb.String(), fc.args), nil
}

// Exec builds the statement and runs it on ex.
func (u *UpdateBuilder) Exec(ctx context.Context, ex *Executor) (Rows, error) {
	stmt, err := u.Build()
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, stmt)
}

func (u *UpdateBuilder) buildError(err error) error {
	table := ""
	if u.entity != nil {
		table = u.entity.Table()
	}
	return &BuildError{Operation: OpUpdate, Table: table, Err: err}
}
