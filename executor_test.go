package miso

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecutor_Execute(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Select(testUsers, "id", "firstName").Where(Where{Eq("firstName", "Ada")}))

	mock.ExpectQuery(stmt.SQL).
		WithArgs("Ada").
		WillReturnRows(sqlmock.NewRows([]string{"id", "firstName"}).
			AddRow(1, "Ada").
			AddRow(2, "Ada"))

	rows, err := NewExecutor(db).Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if got := fmt.Sprint(rows[1]["id"]); got != "2" {
		t.Errorf("rows[1][id] = %s, want 2", got)
	}
	if got := fmt.Sprint(rows[0]["firstName"]); got != "Ada" {
		t.Errorf("rows[0][firstName] = %s, want Ada", got)
	}
	expectationsMet(t, mock)
}

func TestExecutor_JSONBFilterArgument(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Select(testUsers, "id").Where(Where{Eq("tags", userTags{Lang: []string{"go"}})}))

	mock.ExpectQuery(stmt.SQL).
		WithArgs(`{"lang":["go"]}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	rows, err := NewExecutor(db).Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("len(rows) = %d, want 1", len(rows))
	}
	expectationsMet(t, mock)
}

func TestExecutor_ExecuteNoRows(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Delete(testUsers).Where(Where{Eq("id", 1)}))

	mock.ExpectQuery(stmt.SQL).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rows, err := NewExecutor(db).Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want an empty non-nil result", rows)
	}
	expectationsMet(t, mock)
}

func TestExecutor_EmptyStatementSkipsDatabase(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Insert(testUsers, []Row{}))

	rows, err := NewExecutor(db).Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(rows) = %d, want 0", len(rows))
	}
	expectationsMet(t, mock)
}

func TestExecutor_ArraysBoundAsPostgresArrays(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Insert(testCities, []Row{
		{"id": 1, "name": "a"},
		{"id": 2, "name": "b"},
	}))

	mock.ExpectQuery(stmt.SQL).
		WithArgs("{1,2}", `{"a","b"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "region"}).
			AddRow(1, "a", nil).
			AddRow(2, "b", nil))

	rows, err := NewExecutor(db).Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0]["region"] != nil {
		t.Errorf("rows[0][region] = %v, want nil", rows[0]["region"])
	}
	expectationsMet(t, mock)
}

func TestExecutor_DomainError(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Insert(testCities, Row{"id": 1, "name": "a"}))

	mock.ExpectQuery(stmt.SQL).
		WithArgs(1, "a").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "cities_pkey"})

	_, err := NewExecutor(db, "cities_pkey").Execute(context.Background(), stmt)
	if !IsDomainError(err, "cities_pkey") {
		t.Fatalf("Execute() error = %v, want domain error cities_pkey", err)
	}
	expectationsMet(t, mock)
}

func TestExecutor_NotNullDomainError(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Insert(testCities, Row{"id": 1}))

	mock.ExpectQuery(stmt.SQL).
		WithArgs(1).
		WillReturnError(&pq.Error{Code: "23502", Column: "name"})

	_, err := NewExecutor(db, "cities_name_null").Execute(context.Background(), stmt)
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("Execute() error = %v, want *DomainError", err)
	}
	if de.Key != "cities_name_null" {
		t.Errorf("Key = %q, want %q", de.Key, "cities_name_null")
	}
	expectationsMet(t, mock)
}

func TestExecutor_UndeclaredKeyIsWrapped(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Insert(testCities, Row{"id": 1, "name": "a"}))
	cause := &pq.Error{Code: "23505", Constraint: "cities_pkey"}

	mock.ExpectQuery(stmt.SQL).WithArgs(1, "a").WillReturnError(cause)

	_, err := NewExecutor(db, "something_else").Execute(context.Background(), stmt)
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	var de *DomainError
	if errors.As(err, &de) {
		t.Errorf("Execute() error = %v, want an unclassified error", err)
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		t.Errorf("Execute() error = %v, want the driver error wrapped", err)
	}
	expectationsMet(t, mock)
}

func TestExecutor_NoDatabase(t *testing.T) {
	stmt := mustBuild(t, Select(testUsers))
	if _, err := NewExecutor(nil).Execute(context.Background(), stmt); err == nil {
		t.Error("Execute() without a database should fail")
	}
}

func TestExecutor_DomainKeys(t *testing.T) {
	keys := NewExecutor(nil, "b", "a", "a").DomainKeys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("DomainKeys() = %v, want [a b]", keys)
	}
}

type scanUser struct {
	ID        int     `db:"id"`
	FirstName string  `db:"firstName"`
	CityID    *int    `db:"cityId"`
	Tags      *string `db:"tags"`
}

func TestScan(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Select(testUsers).Where(Where{IsNull("cityId")}))

	mock.ExpectQuery(stmt.SQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "firstName", "cityId", "tags"}).
			AddRow(1, "Ada", nil, nil).
			AddRow(2, "Grace", 4, `["x"]`))

	users, err := Scan[scanUser](context.Background(), NewExecutor(db), stmt)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
	if users[0].FirstName != "Ada" || users[0].CityID != nil {
		t.Errorf("users[0] = %+v, want Ada with no city", users[0])
	}
	if users[1].CityID == nil || *users[1].CityID != 4 {
		t.Errorf("users[1].CityID = %v, want 4", users[1].CityID)
	}
	expectationsMet(t, mock)
}

func TestExecutor_TxCommit(t *testing.T) {
	db, mock := newMock(t)
	stmt := mustBuild(t, Update(testUsers, Row{"firstName": "Ada"}).Where(Where{Eq("id", 1)}))

	mock.ExpectBegin()
	mock.ExpectQuery(stmt.SQL).
		WithArgs("Ada", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := NewExecutor(db).Tx(context.Background(), func(tx *Executor) error {
		_, err := tx.Execute(context.Background(), stmt)
		return err
	})
	if err != nil {
		t.Fatalf("Tx() failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestExecutor_TxRollback(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := NewExecutor(db).Tx(context.Background(), func(*Executor) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Tx() error = %v, want %v", err, boom)
	}
	expectationsMet(t, mock)
}

func TestExecutor_TxRollbackOnPanic(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Tx() should re-panic")
			}
		}()
		_ = NewExecutor(db).Tx(context.Background(), func(*Executor) error {
			panic("boom")
		})
	}()
	expectationsMet(t, mock)
}

func TestExecutor_TxBeginFails(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("no connections"))

	err := NewExecutor(db).Tx(context.Background(), func(*Executor) error {
		t.Error("fn should not run")
		return nil
	})
	if err == nil {
		t.Fatal("Tx() should fail when begin fails")
	}
	expectationsMet(t, mock)
}

func TestExecutor_NestedTxUnsupported(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := NewExecutor(db).Tx(context.Background(), func(tx *Executor) error {
		return tx.Tx(context.Background(), func(*Executor) error { return nil })
	})
	if !errors.Is(err, ErrNoTransactions) {
		t.Errorf("Tx() error = %v, want ErrNoTransactions", err)
	}
	expectationsMet(t, mock)
}

func TestBindArg(t *testing.T) {
	if _, ok := bindArg([]any{1, 2}).(driver.Valuer); !ok {
		t.Error("slices should bind as Postgres arrays")
	}
	if _, ok := bindArg([]byte("x")).([]byte); !ok {
		t.Error("byte slices should bind unchanged")
	}
	if got := bindArg("x"); got != "x" {
		t.Errorf("bindArg(x) = %v, want x", got)
	}
	if got := bindArg(nil); got != nil {
		t.Errorf("bindArg(nil) = %v, want nil", got)
	}
}
