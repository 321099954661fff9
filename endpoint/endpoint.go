// Package endpoint defines the narrow capability set the Execution
// coordinator uses to talk to a SQL target (spec.md §4.10): connect, exec
// one statement, ping, close. The coordinator depends only on this
// interface, never on a concrete driver.
package endpoint

import "context"

// OutcomeKind classifies what happened when Exec ran a statement.
type OutcomeKind int

const (
	// OutcomeOK: the statement executed without error.
	OutcomeOK OutcomeKind = iota
	// OutcomeSQLError: the endpoint rejected the statement (syntax,
	// constraint violation, type error, ...). Not retried.
	OutcomeSQLError
	// OutcomeConnError: a transport-level failure (connection reset,
	// unreachable). Retried with backoff by the caller.
	OutcomeConnError
)

// Outcome is the result of one Exec call, per spec.md §4.10.
type Outcome struct {
	Kind OutcomeKind
	// Code is the SQLSTATE class (first two characters of the 5-character
	// code) when Kind == OutcomeSQLError, e.g. "42" (syntax/access rule),
	// "23" (integrity constraint). Empty otherwise.
	Code string
	// FullCode is the complete 5-character SQLSTATE, when known.
	FullCode     string
	Message      string
	RowsAffected int64
}

// Endpoint is the thin capability set an Execution coordinator needs.
// Implementations for PostgreSQL-compatible targets use the standard wire
// protocol; other dialects may implement the same interface (spec.md
// §4.10's "a Cassandra-style adapter" example) without the coordinator
// changing.
type Endpoint interface {
	// Exec runs one statement and classifies its outcome. It never returns
	// a Go error for a SQL-level rejection — that is encoded in the
	// returned Outcome — but does return an error for failures the caller
	// cannot classify (e.g. context cancellation).
	Exec(ctx context.Context, sql string) (Outcome, error)
	Ping(ctx context.Context) error
	Close() error
}
