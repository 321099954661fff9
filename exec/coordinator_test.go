package exec

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryforge/rqg/endpoint"
	"github.com/queryforge/rqg/pool"
	"github.com/queryforge/rqg/schemaview"
)

// fakeEndpoint is a minimal in-memory endpoint.Endpoint for coordinator
// tests: it records every statement it saw and returns scripted outcomes.
type fakeEndpoint struct {
	mu          sync.Mutex
	statements  []string
	inflight    atomic.Int32
	maxInflight atomic.Int32

	// script, if non-nil, is consumed one outcome per call; when
	// exhausted, outcomeOK is returned.
	script []scriptedResult
	callN  int

	// watch, if non-nil, is another endpoint whose in-flight count must be
	// zero while this endpoint executes; overlapped records a violation.
	watch      *fakeEndpoint
	overlapped atomic.Bool
}

type scriptedResult struct {
	outcome endpoint.Outcome
	err     error
}

func (f *fakeEndpoint) Exec(ctx context.Context, text string) (endpoint.Outcome, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxInflight.Load()
		if cur <= max {
			break
		}
		if f.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.statements = append(f.statements, text)
	idx := f.callN
	f.callN++
	f.mu.Unlock()

	time.Sleep(time.Millisecond) // widen the window for overlap detection
	if f.watch != nil && f.watch.inflight.Load() > 0 {
		f.overlapped.Store(true)
	}

	if idx < len(f.script) {
		r := f.script[idx]
		return r.outcome, r.err
	}
	return endpoint.Outcome{Kind: endpoint.OutcomeOK}, nil
}

func (f *fakeEndpoint) Ping(context.Context) error { return nil }
func (f *fakeEndpoint) Close() error               { return nil }

func rec(workerID int, text string) pool.QueryRecord {
	return pool.QueryRecord{Text: text, WorkerID: workerID}
}

func TestDMLExecutesAgainstItsOwnWorkerEndpoint(t *testing.T) {
	ddl := &fakeEndpoint{}
	dml0 := &fakeEndpoint{}
	c := New(Config{
		DDLEndpoint:  ddl,
		DMLEndpoints: map[int]endpoint.Endpoint{0: dml0},
	}, nil)

	out, err := c.Submit(context.Background(), rec(0, "SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeOK, out.Kind)
	assert.Equal(t, []string{"SELECT 1"}, dml0.statements)
	assert.Equal(t, uint64(1), c.Stats().OK.Load())
}

func TestDDLRoutesToDedicatedEndpointAndRebuildsSchema(t *testing.T) {
	ddl := &fakeEndpoint{}
	rebuilt := schemaview.New(map[string]schemaview.Table{
		"widgets": {Name: "widgets"},
	})

	c := New(Config{
		DDLEndpoint:  ddl,
		DMLEndpoints: map[int]endpoint.Endpoint{0: &fakeEndpoint{}},
		Rebuild: func(context.Context) (*schemaview.View, error) {
			return rebuilt, nil
		},
	}, nil)

	_, err := c.Submit(context.Background(), rec(0, "CREATE TABLE widgets (id int)"))
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE widgets (id int)"}, ddl.statements)
	assert.Equal(t, uint64(1), c.Stats().DDLApplied.Load())
	assert.Same(t, rebuilt, c.Schema())
}

func TestDDLNeverOverlapsConcurrentDML(t *testing.T) {
	dml := &fakeEndpoint{}
	ddl := &fakeEndpoint{watch: dml}
	endpoints := map[int]endpoint.Endpoint{0: dml, 1: dml, 2: dml, 3: dml}
	c := New(Config{DDLEndpoint: ddl, DMLEndpoints: endpoints}, nil)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = c.Submit(context.Background(), rec(w, "SELECT 1"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_, _ = c.Submit(context.Background(), rec(0, "ALTER TABLE t ADD COLUMN x int"))
		}
	}()
	wg.Wait()

	// Every DDL statement checks dml's in-flight count while it executes;
	// the barrier must keep that count at zero. The counts confirm every
	// submitted statement landed on its own endpoint.
	assert.False(t, ddl.overlapped.Load(), "DML was in flight while DDL executed")
	assert.Len(t, ddl.statements, 5)
	assert.Len(t, dml.statements, 80)
}

func TestSQLErrorClassifiedAndCounted(t *testing.T) {
	dml0 := &fakeEndpoint{script: []scriptedResult{
		{outcome: endpoint.Outcome{Kind: endpoint.OutcomeSQLError, Code: "23", FullCode: "23505", Message: "dup"}},
	}}
	c := New(Config{
		DDLEndpoint:     &fakeEndpoint{},
		DMLEndpoints:    map[int]endpoint.Endpoint{0: dml0},
		ContinueOnError: true,
	}, nil)

	out, err := c.Submit(context.Background(), rec(0, "INSERT INTO t VALUES (1)"))
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeSQLError, out.Kind)
	assert.Equal(t, uint64(1), c.Stats().ErrorsByClass()["23"])
}

func TestSQLErrorTriggersShutdownWhenContinueOnErrorFalse(t *testing.T) {
	dml0 := &fakeEndpoint{script: []scriptedResult{
		{outcome: endpoint.Outcome{Kind: endpoint.OutcomeSQLError, Code: "42", FullCode: "42601", Message: "syntax error"}},
	}}
	c := New(Config{
		DDLEndpoint:     &fakeEndpoint{},
		DMLEndpoints:    map[int]endpoint.Endpoint{0: dml0},
		ContinueOnError: false,
	}, nil)

	_, err := c.Submit(context.Background(), rec(0, "SELEKT 1"))
	require.ErrorIs(t, err, ErrShutdownRequested)
	assert.True(t, c.ShuttingDown())
}

func TestConnErrorRetriesThenSucceeds(t *testing.T) {
	dml0 := &fakeEndpoint{script: []scriptedResult{
		{outcome: endpoint.Outcome{Kind: endpoint.OutcomeConnError, Message: "connection reset"}},
		{outcome: endpoint.Outcome{Kind: endpoint.OutcomeConnError, Message: "connection reset"}},
		{outcome: endpoint.Outcome{Kind: endpoint.OutcomeOK}},
	}}
	c := New(Config{
		DDLEndpoint:          &fakeEndpoint{},
		DMLEndpoints:         map[int]endpoint.Endpoint{0: dml0},
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		MaxRetries:           5,
	}, nil)

	out, err := c.Submit(context.Background(), rec(0, "SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeOK, out.Kind)
	assert.Equal(t, uint64(2), c.Stats().Retries.Load())
	assert.Equal(t, uint64(2), c.Stats().ConnErrors.Load())
}

func TestIsDDLRecognizesKeywordsAfterComments(t *testing.T) {
	assert.True(t, isDDL("-- comment\nCREATE TABLE t (id int)"))
	assert.True(t, isDDL("/* block */ ALTER TABLE t ADD COLUMN x int"))
	assert.True(t, isDDL("VACUUM FULL t"))
	assert.False(t, isDDL("VACUUM t"))
	assert.False(t, isDDL("SELECT * FROM t"))
}
