// Package pool implements the Worker pool (spec.md §4.8): parallel OS
// threads, one per partition assignment, generating QueryRecords into a
// bounded channel with backpressure, cooperative cancellation via a single
// atomic stop flag, and batch-boundary checkpointing.
package pool

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/queryforge/rqg/fixup"
	"github.com/queryforge/rqg/genctx"
	"github.com/queryforge/rqg/grammar"
	"github.com/queryforge/rqg/partition"
	"github.com/queryforge/rqg/schemaview"
	"github.com/queryforge/rqg/unique"
)

// QueryRecord is one generated query ready for downstream execution, per
// spec.md §3's entity of the same name.
type QueryRecord struct {
	Text        string
	Fingerprint unique.Fingerprint
	WorkerID    int
	GlobalIndex uint64
}

// Stats are the rolling counters spec.md §4.9 asks the pool to maintain on
// the generation side (the execution-side counters live in exec).
type Stats struct {
	Generated           atomic.Uint64
	ExpansionErrors     atomic.Uint64
	DuplicateCollisions atomic.Uint64
	DroppedByFixup      atomic.Uint64
	BytesOut            atomic.Uint64

	// Warnings tallies genctx.Context.Warnings across every expansion: a
	// depth-cap prune with no non-recursive branch, or a Field/Table
	// fallback-to-default selection (spec.md §4.3, §9 Open Questions).
	Warnings atomic.Uint64
}

// Config carries everything a Pool needs to run, gathered from run
// configuration (spec.md §6.2).
type Config struct {
	Grammar   *grammar.Grammar
	EntryRule string
	Schema    *schemaview.View
	GenConfig genctx.Config

	MasterSeed uint64
	Total      *uint64 // nil means unbounded: run until Stop
	Workers    int
	Batch      int // default 1000

	Uniqueness *unique.Filter
	RetryCap   int // default 4, per spec.md §4.6
	Fixup      fixup.Hook
	OutputBuf  int // channel capacity; default Batch

	Checkpoint      *partition.Checkpoint
	CheckpointPath  string
	CheckpointEvery int // write checkpoint every N batches; 0 disables
}

// Pool runs the generation side of a run: one goroutine per worker
// assignment, emitting QueryRecords on a shared bounded channel.
type Pool struct {
	cfg    Config
	stop   atomic.Bool
	stopCh chan struct{}
	Stats  Stats
}

// New creates a Pool from cfg, filling in defaults spec.md §4.8/§4.6 name
// explicitly (batch=1000, retry cap=4).
func New(cfg Config) *Pool {
	if cfg.Batch <= 0 {
		cfg.Batch = 1000
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 4
	}
	if cfg.OutputBuf <= 0 {
		cfg.OutputBuf = cfg.Batch
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{cfg: cfg, stopCh: make(chan struct{})}
}

// Stop requests cooperative shutdown: workers observe it at the top of
// their loop and at each channel send, per spec.md §4.8. Stop is safe to
// call more than once.
func (p *Pool) Stop() {
	if p.stop.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	return p.stop.Load()
}

// Run fans out one goroutine per worker assignment via errgroup, each
// producing QueryRecords onto out until its assigned range is exhausted,
// the context is cancelled, or Stop is called. Run blocks until every
// worker returns or the first one returns an error (errgroup semantics,
// the same fan-out shape sqldef's ConcurrentMapFuncWithError uses, adapted
// from a fixed input slice to an open-ended index range).
//
// out is owned by the caller: Run never closes it, so multiple pools (or a
// pool alongside other producers) may share one downstream consumer. The
// caller closes out after Run returns.
func (p *Pool) Run(ctx context.Context, out chan<- QueryRecord) error {
	total := boundFor(p.cfg.Total)
	assignments := partition.Plan(total, p.cfg.Workers)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, a := range assignments {
		a := a
		eg.Go(func() error {
			return p.runWorker(egCtx, a, out)
		})
	}
	return eg.Wait()
}

// boundFor resolves an optional total into a concrete index bound.
// Unbounded runs (Total == nil) partition a placeholder-sized span per
// worker that Stop is expected to interrupt well before exhaustion;
// spec.md §6.2 describes `count: null` as "unbounded", which Go's
// partitioner can only express as a very large, not infinite, range.
func boundFor(total *uint64) uint64 {
	if total == nil {
		return ^uint64(0) / 2
	}
	return *total
}

func (p *Pool) runWorker(ctx context.Context, a partition.Assignment, out chan<- QueryRecord) error {
	start := a.Start
	if p.cfg.Checkpoint != nil {
		resume := p.cfg.Checkpoint.ResumeStart(a.Worker)
		if resume > start {
			start = resume
		}
	}

	entry := p.cfg.EntryRule
	batchesSinceCheckpoint := 0

	for i := start; i < a.End(); {
		if p.stop.Load() || ctx.Err() != nil {
			return ctx.Err()
		}

		batchEnd := i + uint64(p.cfg.Batch)
		if batchEnd > a.End() {
			batchEnd = a.End()
		}

		for ; i < batchEnd; i++ {
			if p.stop.Load() || ctx.Err() != nil {
				return ctx.Err()
			}

			rec, ok, err := p.generateOne(a.Worker, i, entry)
			if err != nil {
				p.Stats.ExpansionErrors.Add(1)
				slog.Warn("expansion error", "worker", a.Worker, "index", i, "error", err)
				continue
			}
			if !ok {
				p.Stats.DroppedByFixup.Add(1)
				continue
			}

			select {
			case out <- rec:
				p.Stats.Generated.Add(1)
				p.Stats.BytesOut.Add(uint64(len(rec.Text)))
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopCh:
				return nil
			}
		}

		if p.cfg.Checkpoint != nil {
			p.cfg.Checkpoint.MarkDone(a.Worker, i-1)
			batchesSinceCheckpoint++
			if p.cfg.CheckpointEvery > 0 && batchesSinceCheckpoint >= p.cfg.CheckpointEvery {
				if err := partition.Save(p.cfg.CheckpointPath, p.cfg.Checkpoint); err != nil {
					slog.Warn("checkpoint write failed", "path", p.cfg.CheckpointPath, "error", err)
				}
				batchesSinceCheckpoint = 0
			}
		}
	}
	return nil
}

// generateOne builds one QueryRecord for global index i, retrying up to
// RetryCap times on a Duplicate uniqueness result with a freshly re-derived
// expansion before passing the query through uncounted-as-fresh, per
// spec.md §4.6: "Producers that receive duplicate retry up to K times
// (default 4) ... if still duplicate, the query is passed through but
// counted as a collision in metrics."
func (p *Pool) generateOne(worker int, index uint64, entry string) (QueryRecord, bool, error) {
	var text string
	var fp unique.Fingerprint

	for attempt := 0; attempt <= p.cfg.RetryCap; attempt++ {
		stream := partition.SeedFor(p.cfg.MasterSeed, worker, index+uint64(attempt)<<32)
		ctx := genctx.New(stream, p.cfg.Schema, p.cfg.GenConfig)

		expanded, err := p.cfg.Grammar.Generate(entry, ctx)
		if err != nil {
			return QueryRecord{}, false, err
		}
		if ctx.Warnings > 0 {
			p.Stats.Warnings.Add(uint64(ctx.Warnings))
		}

		if p.cfg.Fixup != nil {
			fixed, ok := p.cfg.Fixup(expanded)
			if !ok {
				return QueryRecord{}, false, nil
			}
			expanded = fixed
		}

		text = expanded
		fp = unique.Fingerprint128(text)

		if p.cfg.Uniqueness == nil {
			break
		}
		if p.cfg.Uniqueness.CheckAndAdd(fp) == unique.Fresh {
			break
		}
		if attempt == p.cfg.RetryCap {
			p.Stats.DuplicateCollisions.Add(1)
		}
	}

	return QueryRecord{
		Text:        text,
		Fingerprint: fp,
		WorkerID:    worker,
		GlobalIndex: index,
	}, true, nil
}
