package miso

import "github.com/zoobzio/capitan"

// Event keys for structured logging.
var (
	KeyTable       = capitan.NewStringKey("table")
	KeyOperation   = capitan.NewStringKey("operation")
	KeyStatement   = capitan.NewStringKey("statement")
	KeySQL         = capitan.NewStringKey("sql")
	KeyCapability  = capitan.NewStringKey("capability")
	KeyError       = capitan.NewStringKey("error")
	KeyDomainError = capitan.NewStringKey("domain_error")
	KeyDuration    = capitan.NewDurationKey("duration")
)

// Signals emitted by miso.
var (
	FactoryCreated     = capitan.NewSignal("miso.factory.created", "Factory instance created")
	StatementCompiled  = capitan.NewSignal("miso.statement.compiled", "Statement compiled to SQL")
	StatementStarted   = capitan.NewSignal("miso.statement.started", "Statement execution started")
	StatementCompleted = capitan.NewSignal("miso.statement.completed", "Statement execution completed")
	StatementFailed    = capitan.NewSignal("miso.statement.failed", "Statement execution failed")
	StatementSkipped   = capitan.NewSignal("miso.statement.skipped", "Empty statement skipped without execution")
	ErrorClassified    = capitan.NewSignal("miso.error.classified", "Database error mapped to a domain key")
	CapabilityAdded    = capitan.NewSignal("miso.capability.added", "Capability registered")
	CapabilityRemoved  = capitan.NewSignal("miso.capability.removed", "Capability removed")
	CapabilityNotFound = capitan.NewSignal("miso.capability.not_found", "Capability not found")
)
