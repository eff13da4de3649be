package miso

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

// Build-time errors. These are returned synchronously from Build and are never retryable.
var (
	ErrUnknownField      = errors.New("unknown field")
	ErrUnsupportedType   = errors.New("unsupported type")
	ErrJoinResolution    = errors.New("join resolution failed")
	ErrAliasCollision    = errors.New("alias already registered")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrInvalidComparison = errors.New("invalid comparison")
	ErrEmptyUpdate       = errors.New("update has no fields to set")
	ErrGeneratorCycle    = errors.New("unresolvable field generators")
	ErrInvalidInput      = errors.New("invalid insert input")
)

// Execution-time errors.
var (
	ErrNotFound       = errors.New("no rows found")
	ErrMultipleRows   = errors.New("expected exactly one row, found multiple")
	ErrNoTransactions = errors.New("executor does not support transactions")
)

// Capability registry errors.
var (
	ErrCapabilityNotFound = errors.New("capability not found")
	ErrCapabilityExists   = errors.New("capability already registered")
)

// BuildError wraps the first error a builder recorded while it was being configured.
type BuildError struct {
	Operation Operation
	Table     string
	Err       error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("miso: build %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// DomainError is an execution error mapped to a caller-declared domain key.
type DomainError struct {
	Key string
	Err error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("miso: %s: %v", e.Key, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// IsDomainError reports whether err carries the given domain key.
func IsDomainError(err error, key string) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Key == key
}

// Postgres error codes and routines consulted by ClassifyKey.
const (
	pgNotNullViolation  = "23502"
	pgIntegrityClass    = "23"
	pgInvalidOffset     = "2201X"
	pgRangeSerializeFun = "range_serialize"
)

// Well-known domain keys produced by ClassifyKey.
const (
	KeyRange  = "range"
	KeyOffset = "offset"
)

// ClassifyKey maps a raw database error to a domain key.
//
//   - not-null violations map to "<table>_<column>_null"
//   - any other integrity constraint violation maps to the constraint name
//   - range serialization failures map to "range"
//   - invalid OFFSET values map to "offset"
//
// The second return is false when err is not a classifiable Postgres error.
func ClassifyKey(table string, err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}

	switch {
	case pqErr.Code == pgNotNullViolation:
		return fmt.Sprintf("%s_%s_null", table, pqErr.Column), true
	case pqErr.Code.Class() == pgIntegrityClass:
		return pqErr.Constraint, pqErr.Constraint != ""
	case pqErr.Routine == pgRangeSerializeFun:
		return KeyRange, true
	case pqErr.Code == pgInvalidOffset:
		return KeyOffset, true
	}
	return "", false
}

var (
	identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	tableRe      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)
	typeRe       = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_ ]*(\([0-9, ]+\))?(\[\])*$`)
)

func isValidIdentifier(s string) bool {
	return len(s) <= 63 && identifierRe.MatchString(s)
}

func isValidTable(s string) bool {
	return len(s) <= 127 && tableRe.MatchString(s)
}
