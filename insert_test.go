package miso

import (
	"errors"
	"testing"
)

const usersReturning = `RETURNING id AS "id", first_name AS "firstName", city_id AS "cityId", tags AS "tags"`

func TestInsert_Single(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, Row{"cityId": 7, "firstName": "Ada"}))

	want := `INSERT INTO users (first_name, city_id) VALUES ($1::text, $2::int) ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	if stmt.Operation != OpInsert {
		t.Errorf("Operation = %q, want %q", stmt.Operation, OpInsert)
	}
	assertArgs(t, stmt.Args, []any{"Ada", 7})
}

func TestInsert_SingleFromMap(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, map[string]any{"firstName": "Ada"}))
	want := `INSERT INTO users (first_name) VALUES ($1::text) ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
}

func TestInsert_JSONBSerialized(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, Row{
		"firstName": "Ada",
		"tags":      map[string]any{"lang": []string{"go"}},
	}))

	want := `INSERT INTO users (first_name, tags) VALUES ($1::text, $2::jsonb) ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{"Ada", `{"lang":["go"]}`})
}

func TestInsert_NullWithDeclaredType(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, Row{"firstName": "Ada", "cityId": nil, "tags": nil}))

	want := `INSERT INTO users (first_name, city_id, tags) VALUES ($1::text, $2::int, $3::jsonb) ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{"Ada", nil, nil})
}

func TestInsert_DefaultValues(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, Row{}))
	want := `INSERT INTO users DEFAULT VALUES ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, nil)
}

func TestInsert_Bulk(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, []Row{
		{"firstName": "Ada", "cityId": 1},
		{"firstName": "Bob", "cityId": nil},
	}))

	want := `INSERT INTO users (first_name, city_id) SELECT * FROM unnest($1::text[], $2::int[]) ` + usersReturning
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{
		[]any{"Ada", "Bob"},
		[]any{1, nil},
	})
}

// Columns come from the first row only: a field it omits is NULL for every
// row, even rows that set it.
func TestInsert_BulkColumnsFromFirstRow(t *testing.T) {
	stmt := mustBuild(t, Insert(testCities, []map[string]any{
		{"id": 15, "name": "a"},
		{"id": 16, "name": "b", "region": "Americas"},
	}))

	want := `INSERT INTO cities (id, name) SELECT * FROM unnest($1::int[], $2::text[]) ` +
		`RETURNING id AS "id", name AS "name", region AS "region"`
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{
		[]any{15, 16},
		[]any{"a", "b"},
	})
}

func TestInsert_BulkLaterRowMissingField(t *testing.T) {
	stmt := mustBuild(t, Insert(testCities, []Row{
		{"id": 1, "name": "a", "region": "eu"},
		{"id": 2, "name": "b"},
	}))
	assertArgs(t, stmt.Args, []any{
		[]any{1, 2},
		[]any{"a", "b"},
		[]any{"eu", nil},
	})
}

func TestInsert_BulkEmpty(t *testing.T) {
	stmt := mustBuild(t, Insert(testUsers, []Row{}))
	if !stmt.Empty() {
		t.Errorf("Empty() = false for a zero-row bulk insert, SQL = %q", stmt.SQL)
	}
	if stmt.Operation != OpInsert || stmt.Table != "users" {
		t.Errorf("statement = %s %s, want insert users", stmt.Operation, stmt.Table)
	}
}

func TestInsert_Conflict(t *testing.T) {
	tests := []struct {
		name    string
		builder *InsertBuilder
		want    string
	}{
		{
			"key do nothing",
			Insert(testCities, Row{"id": 1, "name": "a"}).OnKeyConflictDoNothing("id"),
			`INSERT INTO cities (id, name) VALUES ($1::int, $2::text) ON CONFLICT (id) DO NOTHING`,
		},
		{
			"key do update",
			Insert(testCities, Row{"id": 1, "name": "a"}).OnKeyConflictDoUpdate("id", "name = EXCLUDED.name"),
			`INSERT INTO cities (id, name) VALUES ($1::int, $2::text) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		},
		{
			"constraint do nothing",
			Insert(testCities, Row{"id": 1, "name": "a"}).OnConstraintConflictDoNothing("cities_name_key"),
			`INSERT INTO cities (id, name) VALUES ($1::int, $2::text) ON CONFLICT ON CONSTRAINT cities_name_key DO NOTHING`,
		},
		{
			"constraint do update on bulk",
			Insert(testCities, []Row{{"id": 1, "name": "a"}}).
				OnConstraintConflictDoUpdate("cities_pkey", "name = EXCLUDED.name, region = EXCLUDED.region"),
			`INSERT INTO cities (id, name) SELECT * FROM unnest($1::int[], $2::text[]) ` +
				`ON CONFLICT ON CONSTRAINT cities_pkey DO UPDATE SET name = EXCLUDED.name, region = EXCLUDED.region`,
		},
		{
			"key maps to column",
			Insert(testUsers, Row{"firstName": "a"}).OnKeyConflictDoNothing("firstName"),
			`INSERT INTO users (first_name) VALUES ($1::text) ON CONFLICT (first_name) DO NOTHING`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := mustBuild(t, tt.builder)
			table := stmt.Table
			returning := ` RETURNING id AS "id", name AS "name", region AS "region"`
			if table == "users" {
				returning = " " + usersReturning
			}
			if stmt.SQL != tt.want+returning {
				t.Errorf("SQL = %q, want %q", stmt.SQL, tt.want+returning)
			}
		})
	}
}

func TestInsert_AppliesGenerators(t *testing.T) {
	e := MustEntity("slugs", "",
		Field{Name: "title"},
		Field{Name: "slug", Generator: &Generator{
			DependsOn: []string{"title"},
			Generate:  func(r Row) (any, error) { return "gen-" + r["title"].(string), nil },
		}},
	)
	stmt := mustBuild(t, Insert(e, Row{"title": "x"}))
	want := `INSERT INTO slugs (title, slug) VALUES ($1::text, $2::text) RETURNING title AS "title", slug AS "slug"`
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
	assertArgs(t, stmt.Args, []any{"x", "gen-x"})
}

func TestInsert_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *InsertBuilder
		want    error
	}{
		{"nil entity", Insert(nil, Row{}), ErrInvalidInput},
		{"unsupported input", Insert(testUsers, "name=Ada"), ErrInvalidInput},
		{"unknown field", Insert(testUsers, Row{"nickname": "x"}), ErrUnknownField},
		{"untyped null", Insert(testUsers, Row{"firstName": nil}), ErrUnsupportedType},
		{"untyped null in first bulk row", Insert(testUsers, []Row{{"firstName": nil}, {"firstName": "Bob"}}), ErrUnsupportedType},
		{"unknown field in first bulk row", Insert(testUsers, []Row{{"nickname": "x"}}), ErrUnknownField},
		{"empty first bulk row", Insert(testUsers, []Row{{}, {"firstName": "Bob"}}), ErrInvalidInput},
		{"unserialisable jsonb", Insert(testUsers, Row{"tags": map[string]any{"f": func() {}}}), ErrUnsupportedType},
		{"unknown conflict key", Insert(testUsers, Row{"firstName": "a"}).OnKeyConflictDoNothing("nickname"), ErrUnknownField},
		{"invalid constraint", Insert(testUsers, Row{"firstName": "a"}).OnConstraintConflictDoNothing("x; drop"), ErrInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Build() error = %v, want %v", err, tt.want)
			}
			var be *BuildError
			if !errors.As(err, &be) || be.Operation != OpInsert {
				t.Errorf("Build() error = %#v, want a *BuildError for insert", err)
			}
		})
	}
}
