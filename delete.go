package miso

import (
	"context"
	"fmt"
	"strings"
)

// DeleteBuilder accumulates a DELETE statement. Deleted rows are always returned.
type DeleteBuilder struct {
	entity *Entity
	where  Where
	logic  Logic
	err    error
}

// Delete starts a DELETE from e. Without a filter every row is deleted.
func Delete(e *Entity) *DeleteBuilder {
	d := &DeleteBuilder{entity: e}
	if e == nil {
		d.err = fmt.Errorf("%w: nil entity", ErrInvalidInput)
	}
	return d
}

// Where sets the filter, combining its predicates with AND.
// A later call replaces an earlier filter.
func (d *DeleteBuilder) Where(w Where) *DeleteBuilder {
	d.where, d.logic = w, And
	return d
}

// WhereOr sets the filter, combining its predicates with OR.
func (d *DeleteBuilder) WhereOr(w Where) *DeleteBuilder {
	d.where, d.logic = w, Or
	return d
}

// Build compiles the accumulated state.
func (d *DeleteBuilder) Build() (Statement, error) {
	if d.err != nil {
		return Statement{}, &BuildError{Operation: OpDelete, Err: d.err}
	}

	fc := filterCompiler{root: d.entity}
	where, err := fc.compile(d.where, d.logic)
	if err != nil {
		return Statement{}, &BuildError{Operation: OpDelete, Table: d.entity.Table(), Err: err}
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(d.entity.Table())
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	sb.WriteString(" RETURNING ")
	sb.WriteString(d.entity.returning())

	return newStatement(OpDelete, d.entity.Table(), sb.String(), fc.args), nil
}

// Exec builds the statement and runs it on ex.
func (d *DeleteBuilder) Exec(ctx context.Context, ex *Executor) (Rows, error) {
	stmt, err := d.Build()
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, stmt)
}
