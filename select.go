package miso

import (
	"context"
	"fmt"
	"strings"
)

// Direction is an ORDER BY direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// SelectBuilder accumulates a SELECT statement.
//
// A builder is single-owner: configure it linearly, then call Build or Exec once.
// The first configuration error is kept and returned by Build.
// Placeholders are numbered WHERE first, then each join's ON values in
// registration order, then LIMIT and OFFSET.
type SelectBuilder struct {
	root        *Entity
	defs        *definitions
	projections []string
	joins       []Join
	where       Where
	logic       Logic
	groupBy     []string
	orderBy     []string
	limit       *int
	offset      *int
	err         error
}

// Select starts a SELECT against e projecting fields (all fields when none are named).
// Root fields are projected in declaration order regardless of argument order.
func Select(e *Entity, fields ...string) *SelectBuilder {
	s := &SelectBuilder{root: e}
	if e == nil {
		s.err = fmt.Errorf("%w: nil entity", ErrInvalidInput)
		return s
	}
	s.defs = newDefinitions(e)

	ordered, err := e.OrderedFields(fields...)
	if err != nil {
		s.err = err
		return s
	}
	for _, f := range ordered {
		s.projections = append(s.projections, e.Table()+"."+f.Column+" AS "+quoteIdent(f.Name))
	}
	return s
}

// Where sets the filter, combining its predicates with AND.
// A later call replaces an earlier filter.
func (s *SelectBuilder) Where(w Where) *SelectBuilder {
	s.where, s.logic = w, And
	return s
}

// WhereOr sets the filter, combining its predicates with OR.
func (s *SelectBuilder) WhereOr(w Where) *SelectBuilder {
	s.where, s.logic = w, Or
	return s
}

// Join adds an inner join of e under alias.
func (s *SelectBuilder) Join(e *Entity, alias string, on JoinOn, fields ...Project) *SelectBuilder {
	return s.AddJoin(Join{Type: InnerJoin, Entity: e, Alias: alias, On: on, Fields: fields})
}

// LeftJoin adds a left join of e under alias.
func (s *SelectBuilder) LeftJoin(e *Entity, alias string, on JoinOn, fields ...Project) *SelectBuilder {
	return s.AddJoin(Join{Type: LeftJoin, Entity: e, Alias: alias, On: on, Fields: fields})
}

// AddJoin registers j. Its alias becomes visible to later joins and to Where.
func (s *SelectBuilder) AddJoin(j Join) *SelectBuilder {
	if s.err != nil {
		return s
	}
	if j.Entity == nil {
		s.err = fmt.Errorf("%w: join %q has no entity", ErrJoinResolution, j.Alias)
		return s
	}
	if j.Type == "" {
		j.Type = InnerJoin
	}
	if j.Type != InnerJoin && j.Type != LeftJoin {
		s.err = fmt.Errorf("%w: unknown join type %q", ErrJoinResolution, j.Type)
		return s
	}

	// Resolve once against the aliases registered so far to surface errors
	// now; numbering happens again at Build.
	res, err := j.resolve(s.defs, s.defs.len(), 0)
	if err != nil {
		s.err = err
		return s
	}
	if err := s.defs.register(j.Alias, j.Entity); err != nil {
		s.err = err
		return s
	}
	s.joins = append(s.joins, j)
	s.projections = append(s.projections, res.fields...)
	return s
}

// AddField appends a raw projection expression.
func (s *SelectBuilder) AddField(expr string) *SelectBuilder {
	if strings.TrimSpace(expr) == "" {
		s.setErr(fmt.Errorf("%w: empty field expression", ErrInvalidFilter))
		return s
	}
	s.projections = append(s.projections, expr)
	return s
}

// OrderBy appends an ordering on field, which is either a root field
// or "alias.field" for a joined table.
func (s *SelectBuilder) OrderBy(field string, dir Direction) *SelectBuilder {
	if dir != Asc && dir != Desc {
		s.setErr(fmt.Errorf("%w: unknown direction %q", ErrInvalidFilter, dir))
		return s
	}
	col, err := s.reference(field)
	if err != nil {
		s.setErr(err)
		return s
	}
	s.orderBy = append(s.orderBy, col+" "+string(dir))
	return s
}

// Asc orders ascending by field.
func (s *SelectBuilder) Asc(field string) *SelectBuilder { return s.OrderBy(field, Asc) }

// Desc orders descending by field.
func (s *SelectBuilder) Desc(field string) *SelectBuilder { return s.OrderBy(field, Desc) }

// GroupBy appends grouping fields, resolved like OrderBy.
func (s *SelectBuilder) GroupBy(fields ...string) *SelectBuilder {
	for _, field := range fields {
		col, err := s.reference(field)
		if err != nil {
			s.setErr(err)
			return s
		}
		s.groupBy = append(s.groupBy, col)
	}
	return s
}

// Limit bounds the number of rows returned.
func (s *SelectBuilder) Limit(n int) *SelectBuilder {
	s.limit = &n
	return s
}

// Offset skips n rows.
func (s *SelectBuilder) Offset(n int) *SelectBuilder {
	s.offset = &n
	return s
}

// Build compiles the accumulated state.
func (s *SelectBuilder) Build() (Statement, error) {
	if s.err != nil {
		return Statement{}, s.buildError(s.err)
	}

	fc := filterCompiler{root: s.root, defs: s.defs}
	where, err := fc.compile(s.where, s.logic)
	if err != nil {
		return Statement{}, s.buildError(err)
	}
	count, args := fc.count, fc.args

	joins := make([]string, 0, len(s.joins))
	for i, j := range s.joins {
		res, err := j.resolve(s.defs, i+1, count)
		if err != nil {
			return Statement{}, s.buildError(err)
		}
		count = res.count
		args = append(args, res.args...)
		joins = append(joins, res.clause)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(s.projections, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.root.Table())
	for _, j := range joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.orderBy, ", "))
	}
	if s.limit != nil {
		count++
		args = append(args, *s.limit)
		fmt.Fprintf(&b, " LIMIT $%d", count)
	}
	if s.offset != nil {
		count++
		args = append(args, *s.offset)
		fmt.Fprintf(&b, " OFFSET $%d", count)
	}

	return newStatement(OpSelect, s.root.Table(), b.String(), args), nil
}

// Exec builds the statement and runs it on ex.
func (s *SelectBuilder) Exec(ctx context.Context, ex *Executor) (Rows, error) {
	stmt, err := s.Build()
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, stmt)
}

// reference resolves "field" against the root table or "alias.field" against a join.
func (s *SelectBuilder) reference(field string) (string, error) {
	if s.defs == nil {
		return "", fmt.Errorf("%w: nil entity", ErrInvalidInput)
	}
	alias, name, scoped := strings.Cut(field, ".")
	if !scoped {
		return s.root.Column(field, true)
	}
	if alias == RootAlias {
		return s.root.Column(name, true)
	}
	e, ok := s.defs.lookup(alias, s.defs.len())
	if !ok {
		return "", fmt.Errorf("%w: %q references alias %q which is not joined", ErrJoinResolution, field, alias)
	}
	col, err := e.Column(name, false)
	if err != nil {
		return "", err
	}
	return quoteIdent(alias) + "." + col, nil
}

func (s *SelectBuilder) setErr(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *SelectBuilder) buildError(err error) error {
	table := ""
	if s.root != nil {
		table = s.root.Table()
	}
	return &BuildError{Operation: OpSelect, Table: table, Err: err}
}
