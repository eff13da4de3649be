package miso

import (
	"errors"
	"testing"
)

func TestUpdate_SetThenWhere(t *testing.T) {
	stmt := mustBuild(t, Update(testUsers, Row{"cityId": 3, "firstName": "Ada"}).
		Where(Where{Eq("id", 9), IsNull("tags")}))

	want := `UPDATE users SET first_name = $1::text, city_id = $2::int WHERE id = $3::int AND tags IS NULL ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	if stmt.Operation != OpUpdate {
		t.Errorf("Operation = %q, want %q", stmt.Operation, OpUpdate)
	}
	assertArgs(t, stmt.Args, []any{"Ada", 3, 9})
}

func TestUpdate_WithoutFilter(t *testing.T) {
	stmt := mustBuild(t, Update(testUsers, Row{"cityId": nil}))
	want := `UPDATE users SET city_id = $1::int ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{nil})
}

func TestUpdate_WhereOrWithMembership(t *testing.T) {
	stmt := mustBuild(t, Update(testUsers, Row{"tags": []string{"x"}}).
		WhereOr(Where{In("id", []int{1, 2}), Eq("firstName", "Ada")}))

	want := `UPDATE users SET tags = $1::jsonb WHERE id = ANY($2::int[]) OR first_name = $3::text ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{`["x"]`, []any{1, 2}, "Ada"})
}

func TestUpdate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *UpdateBuilder
		want    error
	}{
		{"nil entity", Update(nil, Row{"id": 1}), ErrInvalidInput},
		{"empty set", Update(testUsers, Row{}), ErrEmptyUpdate},
		{"nil set", Update(testUsers, nil), ErrEmptyUpdate},
		{"unknown set field", Update(testUsers, Row{"nickname": "x"}), ErrUnknownField},
		{"untyped null", Update(testUsers, Row{"firstName": nil}), ErrUnsupportedType},
		{"unknown filter field", Update(testUsers, Row{"firstName": "x"}).Where(Where{Eq("nickname", 1)}), ErrUnknownField},
		{"scoped filter", Update(testUsers, Row{"firstName": "x"}).Where(Where{Scoped("c", Where{Eq("id", 1)})}), ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Build() error = %v, want %v", err, tt.want)
			}
			var be *BuildError
			if !errors.As(err, &be) || be.Operation != OpUpdate {
				t.Errorf("Build() error = %#v, want a *BuildError for update", err)
			}
		})
	}
}
