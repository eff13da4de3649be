package miso

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var positionalRe = regexp.MustCompile(`\$[0-9]`)

// filterCompiler turns a Where into a boolean expression while advancing
// the statement's parameter counter. With defs set it runs alias-aware:
// Nested conditions resolve against joined aliases and root columns are
// table-qualified. Without defs it runs flat against root only.
type filterCompiler struct {
	root  *Entity
	defs  *definitions
	count int
	args  []any
}

func (fc *filterCompiler) compile(where Where, logic Logic) (string, error) {
	if logic == "" {
		logic = And
	}
	if logic != And && logic != Or {
		return "", fmt.Errorf("%w: unknown logic %q", ErrInvalidFilter, logic)
	}

	parts := make([]string, 0, len(where))
	for _, c := range where {
		switch v := c.Value.(type) {
		case Nested:
			nested, err := fc.nested(c.Field, v.Where)
			if err != nil {
				return "", err
			}
			parts = append(parts, nested...)
		case Raw:
			p, err := fc.raw(v)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		default:
			column, err := fc.root.Column(c.Field, fc.defs != nil)
			if err != nil {
				return "", err
			}
			p, err := fc.predicate(fc.root, c.Field, column, c.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " "+string(logic)+" "), nil
}

// nested compiles a sub-filter scoped to a joined alias.
func (fc *filterCompiler) nested(alias string, where Where) ([]string, error) {
	if fc.defs == nil {
		return nil, fmt.Errorf("%w: nested filter on %q needs a select with joins", ErrInvalidFilter, alias)
	}
	e, ok := fc.defs.lookup(alias, fc.defs.len())
	if !ok {
		return nil, fmt.Errorf("%w: filter references alias %q which is not joined", ErrJoinResolution, alias)
	}
	prefix := quoteIdent(alias) + "."
	if alias == RootAlias {
		prefix = e.Table() + "."
	}

	parts := make([]string, 0, len(where))
	for _, c := range where {
		switch v := c.Value.(type) {
		case Nested:
			return nil, fmt.Errorf("%w: filter on alias %q nests another alias %q", ErrInvalidFilter, alias, c.Field)
		case Raw:
			p, err := fc.raw(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		default:
			col, err := e.Column(c.Field, false)
			if err != nil {
				return nil, err
			}
			p, err := fc.predicate(e, c.Field, prefix+col, c.Value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
	}
	return parts, nil
}

// predicate compiles one column test. Types are resolved before the counter
// moves so a failed predicate leaves the numbering untouched.
func (fc *filterCompiler) predicate(e *Entity, field, column string, v Value) (string, error) {
	switch val := v.(type) {
	case nil, Null:
		return column + " IS NULL", nil

	case Comparison:
		frag, next, args, err := val.compile(fc.count)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", field, err)
		}
		if len(args) == 0 {
			return column + frag, nil
		}
		typ, err := e.ColumnType(field, val.Value)
		if err != nil {
			return "", err
		}
		bound, err := bindValue(typ, args[0])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", field, err)
		}
		fc.count = next
		fc.args = append(fc.args, bound)
		return column + frag + "::" + typ, nil

	case Members:
		var sample any
		if len(val.Values) > 0 {
			sample = val.Values[0]
		}
		typ, err := e.ColumnType(field, sample)
		if err != nil {
			return "", err
		}
		values := val.Values
		if typ == TypeJSONB {
			values = make([]any, len(val.Values))
			for i, m := range val.Values {
				if values[i], err = bindValue(typ, m); err != nil {
					return "", fmt.Errorf("field %q element %d: %w", field, i, err)
				}
			}
		}
		fc.count++
		fc.args = append(fc.args, values)
		return fmt.Sprintf("%s = ANY($%d::%s[])", column, fc.count, typ), nil

	case Scalar:
		if isNil(val.V) {
			return column + " IS NULL", nil
		}
		typ, err := e.ColumnType(field, val.V)
		if err != nil {
			return "", err
		}
		bound, err := bindValue(typ, val.V)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", field, err)
		}
		fc.count++
		fc.args = append(fc.args, bound)
		return fmt.Sprintf("%s = $%d::%s", column, fc.count, typ), nil
	}
	return "", fmt.Errorf("%w: unsupported value for field %q", ErrInvalidFilter, field)
}

// raw renumbers the ? markers of a caller-written fragment. ?? is written
// through as a literal ?.
func (fc *filterCompiler) raw(r Raw) (string, error) {
	if strings.TrimSpace(r.Fragment) == "" {
		return "", fmt.Errorf("%w: empty raw fragment", ErrInvalidFilter)
	}
	if positionalRe.MatchString(r.Fragment) {
		return "", fmt.Errorf("%w: raw fragment %q must use ? markers, not positional placeholders", ErrInvalidFilter, r.Fragment)
	}
	if n := strings.Count(strings.ReplaceAll(r.Fragment, "??", ""), "?"); n != len(r.Args) {
		return "", fmt.Errorf("%w: raw fragment %q has %d markers but %d arguments", ErrInvalidFilter, r.Fragment, n, len(r.Args))
	}

	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < len(r.Fragment); i++ {
		ch := r.Fragment[i]
		if ch != '?' {
			b.WriteByte(ch)
			continue
		}
		if i+1 < len(r.Fragment) && r.Fragment[i+1] == '?' {
			b.WriteByte('?')
			i++
			continue
		}
		fc.count++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(fc.count))
	}
	b.WriteByte(')')
	fc.args = append(fc.args, r.Args...)
	return b.String(), nil
}
