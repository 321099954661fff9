// Package report implements the Reporter (spec.md §4.11): a periodic
// snapshot of throughput, generation-time percentiles, error counts, and
// uniqueness load, plus a final summary at shutdown. The output sink is
// injected, following the teacher's Logger-interface convention
// (util/logutil.go's slog setup, database/logger.go's injectable Logger).
package report

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/k0kubun/pp/v3"

	"github.com/queryforge/rqg/exec"
	"github.com/queryforge/rqg/pool"
	"github.com/queryforge/rqg/unique"
)

// Snapshot is one periodic or final report, per spec.md §4.11.
type Snapshot struct {
	Timestamp      time.Time
	QPS            float64
	P50GenTime     time.Duration
	P95GenTime     time.Duration
	ErrorsByKind   map[string]uint64
	UniquenessLoad float64
	Final          bool
}

// Sink receives each Snapshot. Implementations may print, forward to a
// metrics backend, or simply append to a slice in tests.
type Sink func(Snapshot)

// StdoutSink is the default sink: one pretty-printed line per snapshot via
// log/slog, matching the teacher's InitSlog-configured default logger.
func StdoutSink(s Snapshot) {
	slog.Info("rqg snapshot",
		"qps", s.QPS,
		"p50_gen_ms", s.P50GenTime.Seconds()*1000,
		"p95_gen_ms", s.P95GenTime.Seconds()*1000,
		"uniqueness_load", s.UniquenessLoad,
		"errors_by_kind", s.ErrorsByKind,
		"final", s.Final,
	)
}

// VerboseSink pretty-prints the full Snapshot struct via k0kubun/pp,
// listed in the teacher's own go.mod as a direct dependency for exactly
// this kind of nested-struct debug dump.
func VerboseSink(s Snapshot) {
	pp.Println(s)
}

const maxLatencySamples = 4096

// Reporter accumulates generation-time samples and counts, and emits
// Snapshots on a fixed interval until stopped.
type Reporter struct {
	sink     Sink
	interval time.Duration

	pool *pool.Pool
	exec *exec.Coordinator
	uniq *unique.Filter

	mu         sync.Mutex
	latencies  []time.Duration
	lastQPSAt  time.Time
	lastQPSGen uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config wires a Reporter to the run's live components. Exec and Uniq may
// be nil (dry-run generation-only mode has no executor, and uniqueness may
// be disabled).
type Config struct {
	Sink     Sink
	Interval time.Duration // default 1s, per spec.md §4.11
	Pool     *pool.Pool
	Exec     *exec.Coordinator
	Uniq     *unique.Filter
}

// New creates a Reporter. Call Run to start the periodic snapshot loop.
func New(cfg Config) *Reporter {
	if cfg.Sink == nil {
		cfg.Sink = StdoutSink
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Reporter{
		sink:      cfg.Sink,
		interval:  cfg.Interval,
		pool:      cfg.Pool,
		exec:      cfg.Exec,
		uniq:      cfg.Uniq,
		lastQPSAt: time.Time{},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// RecordGenerationTime adds one generation-latency sample, evicting the
// oldest sample once the bounded window is full (a ring buffer would save
// a copy on eviction, but at 4096 entries the slice shift is cheap and
// the code stays simple).
func (r *Reporter) RecordGenerationTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.latencies) >= maxLatencySamples {
		r.latencies = r.latencies[1:]
	}
	r.latencies = append(r.latencies, d)
}

// Run blocks, emitting a Snapshot every Interval, until ctx is cancelled or
// Stop is called. It emits one final Snapshot (Final: true) before
// returning.
func (r *Reporter) Run(ctx context.Context) {
	defer close(r.doneCh)

	r.mu.Lock()
	r.lastQPSAt = time.Now()
	r.mu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sink(r.snapshot(false))
		case <-ctx.Done():
			r.sink(r.snapshot(true))
			return
		case <-r.stopCh:
			r.sink(r.snapshot(true))
			return
		}
	}
}

// Stop requests the snapshot loop to emit its final report and return.
func (r *Reporter) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

func (r *Reporter) snapshot(final bool) Snapshot {
	now := time.Now()

	var generated uint64
	if r.pool != nil {
		generated = r.pool.Stats.Generated.Load()
	}

	r.mu.Lock()
	elapsed := now.Sub(r.lastQPSAt).Seconds()
	qps := 0.0
	if elapsed > 0 {
		qps = float64(generated-r.lastQPSGen) / elapsed
	}
	r.lastQPSAt = now
	r.lastQPSGen = generated

	p50, p95 := percentiles(r.latencies)
	r.mu.Unlock()

	errorsByKind := map[string]uint64{}
	if r.pool != nil {
		errorsByKind["expansion_error"] = r.pool.Stats.ExpansionErrors.Load()
		errorsByKind["duplicate_collision"] = r.pool.Stats.DuplicateCollisions.Load()
		errorsByKind["dropped_by_fixup"] = r.pool.Stats.DroppedByFixup.Load()
		errorsByKind["warning"] = r.pool.Stats.Warnings.Load()
	}
	if r.exec != nil {
		errorsByKind["conn_error"] = r.exec.Stats().ConnErrors.Load()
		for class, count := range r.exec.Stats().ErrorsByClass() {
			errorsByKind["sql_error_"+class] = count
		}
	}

	var load float64
	if r.uniq != nil {
		load = r.uniq.LoadFactor()
	}

	return Snapshot{
		Timestamp:      now,
		QPS:            qps,
		P50GenTime:     p50,
		P95GenTime:     p95,
		ErrorsByKind:   errorsByKind,
		UniquenessLoad: load,
		Final:          final,
	}
}

// percentiles computes p50/p95 over a copy of samples, leaving the
// caller's slice untouched.
func percentiles(samples []time.Duration) (p50, p95 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := func(q float64) time.Duration {
		i := int(q * float64(len(sorted)-1))
		return sorted[i]
	}
	return idx(0.50), idx(0.95)
}
