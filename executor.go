package miso

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/zoobzio/capitan"
)

// Rows are result rows keyed by their logical names.
type Rows []map[string]any

// Beginner starts transactions. *sqlx.DB satisfies it.
type Beginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// Executor runs compiled statements.
//
// The db parameter accepts sqlx.ExtContext, which is satisfied by both *sqlx.DB and *sqlx.Tx.
// Database errors whose classified key was declared through domainKeys are
// returned as *DomainError; all others are returned wrapped.
type Executor struct {
	db   sqlx.ExtContext
	keys map[string]struct{}
}

// NewExecutor creates an Executor over db recognising the given domain keys.
func NewExecutor(db sqlx.ExtContext, domainKeys ...string) *Executor {
	keys := make(map[string]struct{}, len(domainKeys))
	for _, k := range domainKeys {
		keys[k] = struct{}{}
	}
	return &Executor{db: db, keys: keys}
}

// DB returns the underlying connection or transaction.
func (e *Executor) DB() sqlx.ExtContext { return e.db }

// DomainKeys returns the declared domain keys.
func (e *Executor) DomainKeys() []string {
	keys := make([]string, 0, len(e.keys))
	for k := range e.keys {
		keys = append(keys, k)
	}
	return keys
}

// Execute runs stmt and returns every row it produced.
// An empty statement returns no rows without reaching the database.
func (e *Executor) Execute(ctx context.Context, stmt Statement) (Rows, error) {
	if stmt.Empty() {
		capitan.Debug(ctx, StatementSkipped,
			KeyStatement.Field(stmt.ID.String()),
			KeyTable.Field(stmt.Table),
			KeyOperation.Field(string(stmt.Operation)))
		return Rows{}, nil
	}

	result := Rows{}
	err := e.run(ctx, stmt, func(rows *sqlx.Rows) error {
		for rows.Next() {
			row := make(map[string]any)
			if err := rows.MapScan(row); err != nil {
				return err
			}
			result = append(result, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Scan runs stmt and scans every row into T with sqlx struct scanning.
// Columns map to struct fields through their db tags.
func Scan[T any](ctx context.Context, ex *Executor, stmt Statement) ([]T, error) {
	if stmt.Empty() {
		capitan.Debug(ctx, StatementSkipped,
			KeyStatement.Field(stmt.ID.String()),
			KeyTable.Field(stmt.Table),
			KeyOperation.Field(string(stmt.Operation)))
		return []T{}, nil
	}

	result := []T{}
	err := ex.run(ctx, stmt, func(rows *sqlx.Rows) error {
		for rows.Next() {
			var record T
			if err := rows.StructScan(&record); err != nil {
				return err
			}
			result = append(result, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// WithTx runs fn inside a transaction on db. The transaction is rolled back
// when fn returns an error or panics and committed otherwise.
func WithTx(ctx context.Context, db Beginner, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("miso: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("miso: commit transaction: %w", err)
	}
	return nil
}

// Tx runs fn with an Executor bound to a new transaction. The transaction
// executor recognises the same domain keys. The underlying db must be able
// to begin transactions; an Executor already bound to a *sqlx.Tx cannot.
func (e *Executor) Tx(ctx context.Context, fn func(tx *Executor) error) error {
	b, ok := e.db.(Beginner)
	if !ok {
		return ErrNoTransactions
	}
	return WithTx(ctx, b, func(tx *sqlx.Tx) error {
		return fn(&Executor{db: tx, keys: e.keys})
	})
}

// run executes stmt, hands the open rows to scan, and emits the lifecycle events.
func (e *Executor) run(ctx context.Context, stmt Statement, scan func(*sqlx.Rows) error) error {
	id := stmt.ID.String()
	capitan.Debug(ctx, StatementStarted,
		KeyStatement.Field(id),
		KeyTable.Field(stmt.Table),
		KeyOperation.Field(string(stmt.Operation)),
		KeySQL.Field(stmt.SQL))

	start := time.Now()
	err := e.query(ctx, stmt, scan)
	elapsed := time.Since(start)

	if err != nil {
		err = e.classify(ctx, stmt, err)
		capitan.Error(ctx, StatementFailed,
			KeyStatement.Field(id),
			KeyTable.Field(stmt.Table),
			KeyOperation.Field(string(stmt.Operation)),
			KeyDuration.Field(elapsed),
			KeyError.Field(err.Error()))
		return err
	}

	capitan.Info(ctx, StatementCompleted,
		KeyStatement.Field(id),
		KeyTable.Field(stmt.Table),
		KeyOperation.Field(string(stmt.Operation)),
		KeyDuration.Field(elapsed))
	return nil
}

func (e *Executor) query(ctx context.Context, stmt Statement, scan func(*sqlx.Rows) error) error {
	if e.db == nil {
		return errors.New("no database connection")
	}
	rows, err := e.db.QueryxContext(ctx, stmt.SQL, bindArgs(stmt.Args)...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	if err := scan(rows); err != nil {
		return err
	}
	return rows.Err()
}

// classify maps err to a declared domain key when possible.
func (e *Executor) classify(ctx context.Context, stmt Statement, err error) error {
	if key, ok := ClassifyKey(stmt.Table, err); ok {
		if _, declared := e.keys[key]; declared {
			capitan.Info(ctx, ErrorClassified,
				KeyStatement.Field(stmt.ID.String()),
				KeyTable.Field(stmt.Table),
				KeyDomainError.Field(key))
			return &DomainError{Key: key, Err: err}
		}
	}
	return fmt.Errorf("miso: %s %s: %w", stmt.Operation, stmt.Table, err)
}

// bindArgs wraps slice arguments as Postgres arrays.
func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = bindArg(a)
	}
	return out
}

func bindArg(a any) any {
	switch a.(type) {
	case nil, []byte, json.RawMessage:
		return a
	}
	if _, ok := a.(driver.Valuer); ok {
		return a
	}
	if reflect.TypeOf(a).Kind() == reflect.Slice {
		return pq.Array(a)
	}
	return a
}
