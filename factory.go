// Package miso compiles entity-described filters, joins and mutations into
// parameterized Postgres statements and runs them.
//
// Every value travels as a positional parameter with an explicit cast, so
// the SQL text never contains caller data.
//
// # Quick Start
//
// Describe a table:
//
//	var Users = miso.MustEntity("users", "id",
//	    miso.Field{Name: "id", Type: miso.TypeInt},
//	    miso.Field{Name: "firstName"},
//	    miso.Field{Name: "cityId", Type: miso.TypeInt, Nullable: true},
//	)
//
// Compile statements:
//
//	stmt, err := miso.Select(Users).
//	    Where(miso.Where{miso.Eq("firstName", "Ada"), miso.Gt("id", 10)}).
//	    Limit(20).
//	    Build()
//	// SELECT users.id AS "id", users.first_name AS "firstName", ... FROM users
//	//   WHERE users.first_name = $1::text AND users.id > $2::int LIMIT $3
//
// Run them through an Executor or a typed Factory:
//
//	users, err := miso.New[User](db, Users)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	all, err := users.All(ctx, users.Select().Where(miso.Where{miso.IsNull("cityId")}))
//
// Register named capabilities for introspection:
//
//	err = users.AddCapability(miso.Capability{
//	    Name: "by-city",
//	    Statement: miso.StatementSpec{Select: &miso.SelectSpec{
//	        Where: map[string]any{"cityId": 7},
//	    }},
//	})
//	json, _ := users.SpecJSON()
package miso

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/capitan"
)

// Factory is a typed API over one entity. Rows are scanned into T through
// sqlx struct scanning, so T's db tags name the entity's logical fields.
type Factory[T any] struct {
	entity *Entity
	exec   *Executor

	// join targets keyed by table name
	catalog      map[string]*Entity
	capabilities map[string]Capability

	mu sync.RWMutex
}

// New creates a Factory for T over entity.
//
// The db parameter accepts sqlx.ExtContext, which is satisfied by both *sqlx.DB and *sqlx.Tx.
// A nil db is allowed for statement building without execution.
func New[T any](db sqlx.ExtContext, entity *Entity, domainKeys ...string) (*Factory[T], error) {
	if entity == nil {
		return nil, fmt.Errorf("miso: %w: nil entity", ErrInvalidInput)
	}

	f := &Factory[T]{
		entity:       entity,
		exec:         NewExecutor(db, domainKeys...),
		catalog:      map[string]*Entity{entity.Table(): entity},
		capabilities: make(map[string]Capability),
	}

	capitan.Emit(context.Background(), FactoryCreated,
		KeyTable.Field(entity.Table()))

	return f, nil
}

// Entity returns the factory's root entity.
func (f *Factory[T]) Entity() *Entity { return f.entity }

// Executor returns the executor statements run on.
func (f *Factory[T]) Executor() *Executor { return f.exec }

// TableName returns the root table name.
func (f *Factory[T]) TableName() string { return f.entity.Table() }

// Join makes entities available to capability joins under their table names.
func (f *Factory[T]) Join(entities ...*Entity) *Factory[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entities {
		if e != nil {
			f.catalog[e.Table()] = e
		}
	}
	return f
}

// Select starts a SELECT against the factory's entity.
func (f *Factory[T]) Select(fields ...string) *SelectBuilder { return Select(f.entity, fields...) }

// Insert starts a single-row INSERT.
func (f *Factory[T]) Insert(row Row) *InsertBuilder { return Insert(f.entity, row) }

// InsertMany starts a bulk INSERT.
func (f *Factory[T]) InsertMany(rows []Row) *InsertBuilder { return Insert(f.entity, rows) }

// Update starts an UPDATE.
func (f *Factory[T]) Update(set Row) *UpdateBuilder { return Update(f.entity, set) }

// Delete starts a DELETE.
func (f *Factory[T]) Delete() *DeleteBuilder { return Delete(f.entity) }

// All builds b and scans every resulting row into T.
func (f *Factory[T]) All(ctx context.Context, b Builder) ([]T, error) {
	stmt, err := b.Build()
	if err != nil {
		return nil, err
	}
	return Scan[T](ctx, f.exec, stmt)
}

// One builds b and requires it to produce exactly one row.
func (f *Factory[T]) One(ctx context.Context, b Builder) (T, error) {
	var zero T
	records, err := f.All(ctx, b)
	if err != nil {
		return zero, err
	}
	switch len(records) {
	case 0:
		return zero, ErrNotFound
	case 1:
		return records[0], nil
	default:
		return zero, ErrMultipleRows
	}
}

// Run builds b and returns the raw rows.
func (f *Factory[T]) Run(ctx context.Context, b Builder) (Rows, error) {
	stmt, err := b.Build()
	if err != nil {
		return nil, err
	}
	return f.exec.Execute(ctx, stmt)
}

// WithTx runs fn with a Factory bound to a new transaction. The transaction
// factory starts with a copy of f's capabilities and join targets.
func (f *Factory[T]) WithTx(ctx context.Context, fn func(tx *Factory[T]) error) error {
	return f.exec.Tx(ctx, func(tx *Executor) error {
		f.mu.RLock()
		txf := &Factory[T]{
			entity:       f.entity,
			exec:         tx,
			catalog:      make(map[string]*Entity, len(f.catalog)),
			capabilities: make(map[string]Capability, len(f.capabilities)),
		}
		for k, v := range f.catalog {
			txf.catalog[k] = v
		}
		for k, v := range f.capabilities {
			txf.capabilities[k] = v
		}
		f.mu.RUnlock()
		return fn(txf)
	})
}

// AddCapability registers a named statement. The statement is compiled once
// so a capability that cannot build is rejected at registration.
func (f *Factory[T]) AddCapability(c Capability) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.Name == "" {
		return fmt.Errorf("miso: %w: capability has no name", ErrInvalidInput)
	}
	if _, exists := f.capabilities[c.Name]; exists {
		return fmt.Errorf("miso: %w: %q", ErrCapabilityExists, c.Name)
	}
	if _, err := f.compile(c); err != nil {
		return fmt.Errorf("capability %q: %w", c.Name, err)
	}

	f.capabilities[c.Name] = c

	capitan.Emit(context.Background(), CapabilityAdded,
		KeyTable.Field(f.entity.Table()),
		KeyCapability.Field(c.Name))

	return nil
}

// RemoveCapability removes a capability by name.
func (f *Factory[T]) RemoveCapability(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.capabilities[name]; exists {
		delete(f.capabilities, name)
		capitan.Emit(context.Background(), CapabilityRemoved,
			KeyTable.Field(f.entity.Table()),
			KeyCapability.Field(name))
		return true
	}
	return false
}

// HasCapability reports whether name is registered.
func (f *Factory[T]) HasCapability(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.capabilities[name]
	return exists
}

// GetCapability returns the capability registered under name.
func (f *Factory[T]) GetCapability(name string) (Capability, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, exists := f.capabilities[name]
	return c, exists
}

// ListCapabilities returns all registered capability names in sorted order.
func (f *Factory[T]) ListCapabilities() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.capabilities))
	for name := range f.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statement compiles the named capability.
func (f *Factory[T]) Statement(name string) (Statement, error) {
	f.mu.RLock()
	c, exists := f.capabilities[name]
	if !exists {
		f.mu.RUnlock()
		capitan.Emit(context.Background(), CapabilityNotFound,
			KeyTable.Field(f.entity.Table()),
			KeyCapability.Field(name))
		return Statement{}, fmt.Errorf("miso: %w: %q", ErrCapabilityNotFound, name)
	}
	stmt, err := f.compile(c)
	f.mu.RUnlock()
	return stmt, err
}

// Render returns the SQL the named capability compiles to.
func (f *Factory[T]) Render(name string) (string, error) {
	stmt, err := f.Statement(name)
	if err != nil {
		return "", err
	}
	return stmt.SQL, nil
}

// ExecCapability runs the named capability and scans its rows into T.
func (f *Factory[T]) ExecCapability(ctx context.Context, name string) ([]T, error) {
	stmt, err := f.Statement(name)
	if err != nil {
		return nil, err
	}
	return Scan[T](ctx, f.exec, stmt)
}

// compile builds c against the factory's entity. Callers hold f.mu.
func (f *Factory[T]) compile(c Capability) (Statement, error) {
	b, err := c.Statement.Builder(f.entity, f.catalog)
	if err != nil {
		return Statement{}, err
	}
	return b.Build()
}
