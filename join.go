package miso

import (
	"fmt"
	"sort"
	"strings"
)

// RootAlias is the reserved alias of a statement's base table.
const RootAlias = "root"

// JoinType selects the kind of join.
type JoinType string

// Supported join types.
const (
	InnerJoin JoinType = "JOIN"
	LeftJoin  JoinType = "LEFT JOIN"
)

// JoinOn is an ordered list of ON conditions for one join.
type JoinOn []OnCond

// OnCond binds a field of the joined table to a target.
type OnCond struct {
	Field  string
	Target Target
}

// Target is the closed set of ON shapes: Null, Literal, Ref and AliasRef.
type Target interface {
	isTarget()
}

// Literal compares the joined column with a bound value.
type Literal struct{ V any }

// Ref compares the joined column with a field of the root table.
type Ref string

// AliasRef compares the joined column with a field of an earlier join.
type AliasRef struct {
	Alias string
	Field string
}

// unsupportedTarget carries a dynamic value that has no ON shape.
type unsupportedTarget struct{ v any }

func (Null) isTarget()              {}
func (Literal) isTarget()           {}
func (Ref) isTarget()               {}
func (AliasRef) isTarget()          {}
func (unsupportedTarget) isTarget() {}

// OnEq binds field to a literal value.
func OnEq(field string, v any) OnCond { return OnCond{Field: field, Target: Literal{V: v}} }

// OnNull requires field to be NULL.
func OnNull(field string) OnCond { return OnCond{Field: field, Target: Null{}} }

// OnRef binds field to rootField of the statement's base table.
func OnRef(field, rootField string) OnCond { return OnCond{Field: field, Target: Ref(rootField)} }

// OnAlias binds field to aliasField of a previously joined alias.
func OnAlias(field, alias, aliasField string) OnCond {
	return OnCond{Field: field, Target: AliasRef{Alias: alias, Field: aliasField}}
}

// OnMatch builds ON conditions from a map, visiting keys in sorted order.
// Values may be nil, a Ref, an AliasRef, a single-entry map[string]string
// naming {alias: field}, or a scalar. Any other shape fails when the join
// is resolved.
func OnMatch(m map[string]any) JoinOn {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	on := make(JoinOn, 0, len(keys))
	for _, k := range keys {
		on = append(on, OnCond{Field: k, Target: classifyTarget(m[k])})
	}
	return on
}

func classifyTarget(v any) Target {
	if isNil(v) {
		return Null{}
	}
	switch val := v.(type) {
	case Target:
		return val
	case map[string]string:
		if len(val) == 1 {
			for alias, field := range val {
				return AliasRef{Alias: alias, Field: field}
			}
		}
		return unsupportedTarget{v: v}
	}
	switch Classify(v).(type) {
	case Scalar:
		return Literal{V: v}
	}
	return unsupportedTarget{v: v}
}

// Project exposes a field of a joined table under an output name.
type Project struct {
	As    string
	Field string
}

// Join describes one joined table.
type Join struct {
	Type   JoinType
	Entity *Entity
	Alias  string
	On     JoinOn
	Logic  Logic
	Fields []Project
}

// definitions is the ordered alias registry of one statement.
// Index 0 always holds the root entity.
type definitions struct {
	aliases  []string
	entities []*Entity
}

func newDefinitions(root *Entity) *definitions {
	return &definitions{
		aliases:  []string{RootAlias},
		entities: []*Entity{root},
	}
}

func (d *definitions) len() int { return len(d.aliases) }

// lookup finds alias among the first limit registrations.
func (d *definitions) lookup(alias string, limit int) (*Entity, bool) {
	for i := 0; i < limit && i < len(d.aliases); i++ {
		if d.aliases[i] == alias {
			return d.entities[i], true
		}
	}
	return nil, false
}

func (d *definitions) register(alias string, e *Entity) error {
	if !isValidIdentifier(alias) {
		return fmt.Errorf("%w: alias %q", ErrInvalidIdentifier, alias)
	}
	if _, taken := d.lookup(alias, len(d.aliases)); taken {
		return fmt.Errorf("%w: %q", ErrAliasCollision, alias)
	}
	if alias == d.entities[0].Table() {
		return fmt.Errorf("%w: %q is the root table name", ErrAliasCollision, alias)
	}
	d.aliases = append(d.aliases, alias)
	d.entities = append(d.entities, e)
	return nil
}

// joinResult is the compiled form of one join.
type joinResult struct {
	clause string
	fields []string
	args   []any
	count  int
}

// resolve compiles j against the aliases visible to it (the first limit
// registrations) starting from the parameter counter count.
func (j Join) resolve(defs *definitions, limit, count int) (joinResult, error) {
	if len(j.On) == 0 {
		return joinResult{}, fmt.Errorf("%w: join %q has no ON conditions", ErrJoinResolution, j.Alias)
	}
	logic := j.Logic
	if logic == "" {
		logic = And
	}
	if logic != And && logic != Or {
		return joinResult{}, fmt.Errorf("%w: unknown logic %q", ErrInvalidFilter, logic)
	}

	root := defs.entities[0]
	alias := quoteIdent(j.Alias)
	res := joinResult{count: count}
	conds := make([]string, 0, len(j.On))

	for _, c := range j.On {
		col, err := j.Entity.Column(c.Field, false)
		if err != nil {
			return joinResult{}, fmt.Errorf("%w: join %q: %w", ErrJoinResolution, j.Alias, err)
		}
		left := alias + "." + col

		switch t := c.Target.(type) {
		case Null:
			conds = append(conds, left+" IS NULL")
		case Literal:
			if isNil(t.V) {
				conds = append(conds, left+" IS NULL")
				continue
			}
			v := t.V
			if f, _ := j.Entity.Field(c.Field); f.Type == TypeJSONB {
				if v, err = bindValue(TypeJSONB, v); err != nil {
					return joinResult{}, fmt.Errorf("%w: join %q field %q: %w", ErrJoinResolution, j.Alias, c.Field, err)
				}
			}
			res.count++
			res.args = append(res.args, v)
			conds = append(conds, fmt.Sprintf("%s = $%d", left, res.count))
		case Ref:
			right, err := root.Column(string(t), true)
			if err != nil {
				return joinResult{}, fmt.Errorf("%w: join %q field %q: %w", ErrJoinResolution, j.Alias, c.Field, err)
			}
			conds = append(conds, left+" = "+right)
		case AliasRef:
			if t.Alias == RootAlias {
				right, err := root.Column(t.Field, true)
				if err != nil {
					return joinResult{}, fmt.Errorf("%w: join %q field %q: %w", ErrJoinResolution, j.Alias, c.Field, err)
				}
				conds = append(conds, left+" = "+right)
				continue
			}
			other, ok := defs.lookup(t.Alias, limit)
			if !ok {
				return joinResult{}, fmt.Errorf("%w: join %q field %q references alias %q which is not joined before it",
					ErrJoinResolution, j.Alias, c.Field, t.Alias)
			}
			otherCol, err := other.Column(t.Field, false)
			if err != nil {
				return joinResult{}, fmt.Errorf("%w: join %q field %q: %w", ErrJoinResolution, j.Alias, c.Field, err)
			}
			conds = append(conds, left+" = "+quoteIdent(t.Alias)+"."+otherCol)
		default:
			return joinResult{}, fmt.Errorf("%w: join %q field %q has an unsupported value", ErrJoinResolution, j.Alias, c.Field)
		}
	}

	for _, p := range j.Fields {
		col, err := j.Entity.Column(p.Field, false)
		if err != nil {
			return joinResult{}, fmt.Errorf("%w: join %q: %w", ErrJoinResolution, j.Alias, err)
		}
		as := p.As
		if as == "" {
			as = p.Field
		}
		res.fields = append(res.fields, alias+"."+col+" AS "+quoteIdent(as))
	}

	res.clause = fmt.Sprintf("%s %s AS %s ON %s", j.Type, j.Entity.Table(), alias, strings.Join(conds, " "+string(logic)+" "))
	return res, nil
}
