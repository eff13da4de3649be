package miso

import (
	"context"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Operation names the kind of statement.
type Operation string

// Statement operations.
const (
	OpSelect Operation = "SELECT"
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Statement is compiled SQL text plus its positional arguments.
// Args[i] binds to placeholder $i+1.
type Statement struct {
	ID        uuid.UUID
	Operation Operation
	Table     string
	SQL       string
	Args      []any
}

// Builder is implemented by every statement builder.
type Builder interface {
	Build() (Statement, error)
}

// newStatement stamps a compiled statement with an id and announces it.
func newStatement(op Operation, table, sql string, args []any) Statement {
	s := Statement{
		ID:        uuid.New(),
		Operation: op,
		Table:     table,
		SQL:       sql,
		Args:      args,
	}
	if sql != "" {
		capitan.Debug(context.Background(), StatementCompiled,
			KeyStatement.Field(s.ID.String()),
			KeyTable.Field(table),
			KeyOperation.Field(string(op)),
			KeySQL.Field(sql))
	}
	return s
}

// Empty reports whether the statement has nothing to execute.
// Bulk inserts of zero rows compile to an empty statement.
func (s Statement) Empty() bool { return s.SQL == "" }
