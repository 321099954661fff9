// Package exec implements the Execution coordinator (spec.md §4.9): it
// consumes QueryRecords, executes them against an endpoint, serializes DDL
// behind a barrier so no DML overlaps it, retries transient connection
// failures with backoff, classifies SQL errors by SQLSTATE class, and
// maintains rolling stats.
package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/queryforge/rqg/endpoint"
	"github.com/queryforge/rqg/pool"
	"github.com/queryforge/rqg/schemaview"
)

// RebuildFunc re-introspects (or re-parses) the schema after a successful
// DDL application. A nil RebuildFunc means the coordinator never rebuilds
// the SchemaView, per spec.md §4.9 "triggering a SchemaView rebuild if
// introspection mode is in use".
type RebuildFunc func(ctx context.Context) (*schemaview.View, error)

// Config wires a Coordinator to its endpoints and policy knobs.
type Config struct {
	// DDLEndpoint is the one dedicated connection DDL runs over,
	// per spec.md §5 "Connection pool: one connection per worker plus
	// one dedicated DDL connection".
	DDLEndpoint endpoint.Endpoint
	// DMLEndpoints maps worker id to that worker's own connection.
	DMLEndpoints map[int]endpoint.Endpoint

	Rebuild RebuildFunc

	// ContinueOnError: when false, a SqlError triggers coordinator
	// shutdown (spec.md §7 kind 5).
	ContinueOnError bool

	// MaxRetries, RetryInitialInterval, RetryMaxInterval configure the
	// capped exponential backoff spec.md §4.9 specifies for ConnError:
	// "50 ms -> 2 s, 8 attempts".
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Stats are the rolling counters spec.md §4.9 asks the coordinator to
// maintain, aggregated across all workers.
type Stats struct {
	Submitted  atomic.Uint64
	OK         atomic.Uint64
	ConnErrors atomic.Uint64
	Retries    atomic.Uint64
	DDLApplied atomic.Uint64

	mu             sync.Mutex
	errorsByClass  map[string]uint64
	sampleMessages map[string][]string // bounded sample per kind, spec.md §7
}

func newStats() *Stats {
	return &Stats{
		errorsByClass:  make(map[string]uint64),
		sampleMessages: make(map[string][]string),
	}
}

// recordSQLError tallies a classified SQL error, keeping up to 10 example
// messages per SQLSTATE class (spec.md §7's "bounded sample of example
// messages per kind (default 10)").
func (s *Stats) recordSQLError(class, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorsByClass[class]++
	if len(s.sampleMessages[class]) < 10 {
		s.sampleMessages[class] = append(s.sampleMessages[class], message)
	}
}

// ErrorsByClass returns a snapshot of SQL error counts by SQLSTATE class.
func (s *Stats) ErrorsByClass() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.errorsByClass))
	for k, v := range s.errorsByClass {
		out[k] = v
	}
	return out
}

// ErrShutdownRequested is returned by Submit once a SqlError has tripped
// ContinueOnError=false shutdown; the caller should stop submitting.
var ErrShutdownRequested = fmt.Errorf("exec: shutdown requested after sql error")

// Coordinator owns the DDL barrier and per-worker execution.
//
// The barrier is a sync.RWMutex rather than a hand-rolled four-state
// machine: a DML execution holds a read lock for the duration of its
// Exec call (the Running state, many concurrent holders); a DDL
// submission calls Lock, which blocks until every in-flight DML read
// lock has been released (Draining) and then excludes all new DML
// (DDL); releasing the write lock after the statement completes and the
// schema rebuild runs is Resuming. This gives spec.md §4.9's invariant —
// "DDL never overlaps any DML execution anywhere in the pool" — directly
// from the mutex's own exclusion guarantee, rather than from a
// separately-proved state machine.
type Coordinator struct {
	cfg     Config
	barrier sync.RWMutex
	schema  atomic.Pointer[schemaview.View]
	stats   *Stats

	shutdown atomic.Bool
}

// New creates a Coordinator. initialSchema may be nil, defaulting to an
// empty SchemaView.
func New(cfg Config, initialSchema *schemaview.View) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 50 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 2 * time.Second
	}
	if initialSchema == nil {
		initialSchema = schemaview.Empty()
	}
	c := &Coordinator{cfg: cfg, stats: newStats()}
	c.schema.Store(initialSchema)
	return c
}

// Schema returns the coordinator's current SchemaView snapshot. Readers
// hold the returned pointer for the duration of one expansion, per
// spec.md §5's "SchemaView is replaced atomically" shared-resource
// policy.
func (c *Coordinator) Schema() *schemaview.View {
	return c.schema.Load()
}

// Stats returns the coordinator's rolling statistics.
func (c *Coordinator) Stats() *Stats {
	return c.stats
}

// ShuttingDown reports whether a non-retryable SqlError has requested
// shutdown under ContinueOnError=false.
func (c *Coordinator) ShuttingDown() bool {
	return c.shutdown.Load()
}

// Submit executes one QueryRecord, routing DDL through the barrier's
// exclusive path and DML through its shared path.
func (c *Coordinator) Submit(ctx context.Context, rec pool.QueryRecord) (endpoint.Outcome, error) {
	c.stats.Submitted.Add(1)

	if isDDL(rec.Text) {
		return c.submitDDL(ctx, rec)
	}
	return c.submitDML(ctx, rec)
}

func (c *Coordinator) submitDDL(ctx context.Context, rec pool.QueryRecord) (endpoint.Outcome, error) {
	if err := preflightSyntaxCheck(rec.Text); err != nil {
		out := endpoint.Outcome{Kind: endpoint.OutcomeSQLError, Code: "42", Message: err.Error()}
		c.classify(out)
		if !c.cfg.ContinueOnError {
			c.shutdown.Store(true)
			return out, ErrShutdownRequested
		}
		return out, nil
	}

	c.barrier.Lock()
	defer c.barrier.Unlock()

	out, err := c.execWithRetry(ctx, func(ctx context.Context) (endpoint.Outcome, error) {
		return c.cfg.DDLEndpoint.Exec(ctx, rec.Text)
	})
	if err != nil {
		return out, err
	}
	c.classify(out)
	if out.Kind == endpoint.OutcomeSQLError && !c.cfg.ContinueOnError {
		c.shutdown.Store(true)
		return out, ErrShutdownRequested
	}
	if out.Kind != endpoint.OutcomeOK {
		return out, nil
	}

	c.stats.DDLApplied.Add(1)
	if c.cfg.Rebuild != nil {
		if view, rebuildErr := c.cfg.Rebuild(ctx); rebuildErr == nil {
			c.schema.Store(view)
		} else {
			// Degrade to an empty SchemaView rather than serve a stale
			// one, per spec.md §7 kind 3.
			c.schema.Store(schemaview.Empty())
		}
	}
	return out, nil
}

func (c *Coordinator) submitDML(ctx context.Context, rec pool.QueryRecord) (endpoint.Outcome, error) {
	ep, ok := c.cfg.DMLEndpoints[rec.WorkerID]
	if !ok {
		return endpoint.Outcome{}, fmt.Errorf("exec: no endpoint registered for worker %d", rec.WorkerID)
	}

	c.barrier.RLock()
	defer c.barrier.RUnlock()

	out, err := c.execWithRetry(ctx, func(ctx context.Context) (endpoint.Outcome, error) {
		return ep.Exec(ctx, rec.Text)
	})
	if err != nil {
		return out, err
	}
	c.classify(out)

	if out.Kind == endpoint.OutcomeSQLError && !c.cfg.ContinueOnError {
		c.shutdown.Store(true)
		return out, ErrShutdownRequested
	}
	return out, nil
}

func (c *Coordinator) classify(out endpoint.Outcome) {
	switch out.Kind {
	case endpoint.OutcomeOK:
		c.stats.OK.Add(1)
	case endpoint.OutcomeSQLError:
		c.stats.recordSQLError(out.Code, out.Message)
	case endpoint.OutcomeConnError:
		c.stats.ConnErrors.Add(1)
	}
}

// execWithRetry retries a ConnError outcome with capped exponential
// backoff (spec.md §4.9: "50 ms -> 2 s, 8 attempts"); a SqlError outcome,
// or a Go error the endpoint can't classify, is never retried.
func (c *Coordinator) execWithRetry(ctx context.Context, run func(context.Context) (endpoint.Outcome, error)) (endpoint.Outcome, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval
	b.MaxInterval = c.cfg.RetryMaxInterval

	first := true
	op := func() (endpoint.Outcome, error) {
		if !first {
			c.stats.Retries.Add(1)
		}
		first = false

		out, err := run(ctx)
		if err != nil {
			return endpoint.Outcome{}, backoff.Permanent(err)
		}
		if out.Kind == endpoint.OutcomeConnError {
			// Counted here, not in classify: a successful retry never
			// reaches classify with a ConnError outcome (submitDML/
			// submitDDL return early while err != nil), so this is the
			// only place a transient connection failure is ever observed.
			c.stats.ConnErrors.Add(1)
			return out, fmt.Errorf("transient connection error: %s", out.Message)
		}
		return out, nil
	}

	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.cfg.MaxRetries)))
}

// ddlKeywords are the statement-leading keywords spec.md §4.9 names as
// triggering the Running -> Draining transition.
var ddlKeywords = []string{
	"CREATE", "ALTER", "DROP", "TRUNCATE", "COMMENT",
	"GRANT", "REVOKE", "REINDEX", "CLUSTER",
}

// isDDL reports whether text, after skipping leading whitespace and
// comments, starts with a DDL keyword. VACUUM is DDL-barrier-worthy only
// in its FULL form, per spec.md §4.9's "VACUUM ... FULL".
func isDDL(text string) bool {
	trimmed := stripLeadingNoise(text)
	upper := strings.ToUpper(trimmed)

	for _, kw := range ddlKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	if strings.HasPrefix(upper, "VACUUM") {
		return strings.Contains(upper, "FULL")
	}
	return false
}

// stripLeadingNoise removes leading whitespace and `--`/`/* */` comments
// so DDL-keyword detection isn't fooled by a leading comment.
func stripLeadingNoise(text string) string {
	for {
		trimmed := strings.TrimLeft(text, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, "--"):
			if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
				text = trimmed[idx+1:]
				continue
			}
			return ""
		case strings.HasPrefix(trimmed, "/*"):
			if idx := strings.Index(trimmed, "*/"); idx >= 0 {
				text = trimmed[idx+2:]
				continue
			}
			return ""
		default:
			return trimmed
		}
	}
}
