// Package postgres implements endpoint.Endpoint over database/sql and
// lib/pq, narrowing sqldef's dump/apply PostgreSQL adapter down to
// "exec one statement, classify the result" (spec.md §4.10).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/queryforge/rqg/endpoint"
)

// Config carries the connection parameters for one endpoint connection.
// A DSN string is accepted directly too; Config exists for callers that
// build a connection string piecemeal (spec.md §6.2's `dsn` option is the
// simple path; this mirrors the teacher's config-struct-plus-DSN-builder
// split).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DbName   string
	SSLMode  string // defaults to "disable"
}

// DSN renders Config as a libpq connection string.
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DbName, sslmode)
}

// Endpoint is the PostgreSQL-backed endpoint.Endpoint.
type Endpoint struct {
	db *sql.DB
}

// Connect opens a connection pool against dsn. It does not block on
// Ping; callers wanting a liveness check should call Ping explicitly, per
// spec.md §4.10's separation of connect/ping.
func Connect(dsn string) (*Endpoint, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Endpoint{db: db}, nil
}

// Exec runs sql against the connection pool and classifies the outcome.
func (e *Endpoint) Exec(ctx context.Context, text string) (endpoint.Outcome, error) {
	result, err := e.db.ExecContext(ctx, text)
	if err == nil {
		var rows int64
		if result != nil {
			rows, _ = result.RowsAffected()
		}
		return endpoint.Outcome{Kind: endpoint.OutcomeOK, RowsAffected: rows}, nil
	}

	if ctx.Err() != nil {
		return endpoint.Outcome{}, ctx.Err()
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		class := code
		if len(code) >= 2 {
			class = code[:2]
		}
		return endpoint.Outcome{
			Kind:     endpoint.OutcomeSQLError,
			Code:     class,
			FullCode: code,
			Message:  pqErr.Message,
		}, nil
	}

	// Anything lib/pq didn't wrap in *pq.Error — connection refused, EOF
	// mid-query, broken pipe — is treated as transport failure and left
	// for the coordinator's backoff retry, per spec.md §4.9.
	return endpoint.Outcome{Kind: endpoint.OutcomeConnError, Message: err.Error()}, nil
}

// Ping verifies the connection is alive.
func (e *Endpoint) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close releases the connection pool.
func (e *Endpoint) Close() error {
	return e.db.Close()
}
