package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/queryforge/rqg/endpoint"
	"github.com/queryforge/rqg/endpoint/postgres"
	"github.com/queryforge/rqg/exec"
	"github.com/queryforge/rqg/fixup"
	"github.com/queryforge/rqg/genctx"
	"github.com/queryforge/rqg/grammar"
	"github.com/queryforge/rqg/internal/runconfig"
	"github.com/queryforge/rqg/internal/samplegrammar"
	"github.com/queryforge/rqg/partition"
	"github.com/queryforge/rqg/pool"
	"github.com/queryforge/rqg/report"
	"github.com/queryforge/rqg/schemaview"
	"github.com/queryforge/rqg/unique"
	"github.com/queryforge/rqg/util"
)

var version string

// cliOptions is the go-flags surface, mirroring cmd/psqldef/psqldef.go's
// struct-tag convention. Flag values overlay runconfig.Default(), which a
// --config YAML file (parsed the way database.ParseGeneratorConfig reads
// sqldef's generator config) overlays in turn — flags win over YAML.
type cliOptions struct {
	Config string `long:"config" description:"YAML run-configuration overlay file" value-name:"path"`

	Grammar   string `long:"grammar" description:"Registered grammar name" value-name:"name"`
	EntryRule string `long:"entry-rule" description:"Entry rule name" value-name:"rule"`
	Count     uint64 `long:"count" description:"Number of queries to generate (0 means unbounded)" value-name:"n"`
	Duration  string `long:"duration" description:"Stop after this long (e.g. 30s), combined with --count" value-name:"dur"`
	Workers   int    `long:"workers" description:"Number of generation workers" value-name:"n"`
	Batch     int    `long:"batch" description:"Queries generated per checkpoint batch" value-name:"n"`
	Seed      uint64 `long:"seed" description:"Master RNG seed (0 means generate a random one)" value-name:"seed"`
	MaxDepth  int    `long:"max-depth" description:"Recursion cap" value-name:"n"`
	RepeatCap int    `long:"repeat-cap" description:"Repeat.max upper bound" value-name:"n"`

	UniquenessMode     string  `long:"uniqueness-mode" description:"off|probabilistic" value-name:"mode"`
	UniquenessFPR      float64 `long:"uniqueness-fpr" description:"Target false-positive rate" value-name:"fpr"`
	UniquenessCapacity uint64  `long:"uniqueness-capacity" description:"Expected distinct queries per rotation" value-name:"n"`

	DSN            string `long:"dsn" description:"PostgreSQL connection string; empty means dry-run generation only" value-name:"dsn"`
	PasswordPrompt bool   `long:"password-prompt" description:"Prompt for a password and append it to --dsn"`

	SchemaMode   string `long:"schema-mode" description:"none|introspect|ddl_file" value-name:"mode"`
	SchemaSource string `long:"schema-source" description:"DSN (introspect) or file path (ddl_file)" value-name:"source"`

	OutputSink string `long:"output-sink" description:"stdout|file|none" value-name:"sink"`
	OutputPath string `long:"output-path" description:"Output file path, required when --output-sink=file" value-name:"path"`

	CheckpointPath  string `long:"checkpoint-path" description:"Checkpoint file path; empty disables checkpointing" value-name:"path"`
	CheckpointEvery int    `long:"checkpoint-every" description:"Write the checkpoint every N batches" value-name:"n"`

	ContinueOnError bool `long:"continue-on-error" description:"Keep submitting after a SQL error instead of shutting down"`

	Lint    bool `long:"lint" description:"Freeze the grammar, print its validation report, and exit"`
	Verbose bool `long:"verbose" description:"Pretty-print snapshots via k0kubun/pp instead of the slog summary line"`
	Help    bool `long:"help" description:"Show this help"`
	Version bool `long:"version" description:"Show this version"`
}

func parseOptions(args []string) (runconfig.Config, cliOptions) {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...]"
	_, err := parser.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := runconfig.Default()
	if opts.Config != "" {
		overlayYAML(&cfg, opts.Config)
	}

	if opts.Grammar != "" {
		cfg.Grammar = opts.Grammar
	}
	if opts.EntryRule != "" {
		cfg.EntryRule = opts.EntryRule
	}
	if opts.Count > 0 {
		count := opts.Count
		cfg.Count = &count
	}
	if opts.Duration != "" {
		cfg.Duration = opts.Duration
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Batch > 0 {
		cfg.Batch = opts.Batch
	}
	if opts.Seed > 0 {
		seed := opts.Seed
		cfg.Seed = &seed
	}
	if opts.MaxDepth > 0 {
		cfg.MaxDepth = opts.MaxDepth
	}
	if opts.RepeatCap > 0 {
		cfg.RepeatCap = opts.RepeatCap
	}

	if opts.UniquenessMode != "" {
		cfg.Uniqueness.Mode = runconfig.UniquenessMode(opts.UniquenessMode)
	}
	if opts.UniquenessFPR > 0 {
		cfg.Uniqueness.FPR = opts.UniquenessFPR
	}
	if opts.UniquenessCapacity > 0 {
		cfg.Uniqueness.Capacity = opts.UniquenessCapacity
	}

	dsn := opts.DSN
	if opts.PasswordPrompt {
		fmt.Print("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatal(err)
		}
		dsn = appendPassword(dsn, string(pass))
	}
	if dsn != "" {
		cfg.DSN = dsn
	}

	if opts.SchemaMode != "" {
		cfg.Schema.Mode = runconfig.SchemaMode(opts.SchemaMode)
	}
	if opts.SchemaSource != "" {
		cfg.Schema.Source = opts.SchemaSource
	}

	if opts.OutputSink != "" {
		cfg.Output.Sink = runconfig.OutputSink(opts.OutputSink)
	}
	if opts.OutputPath != "" {
		cfg.Output.Path = opts.OutputPath
	}

	if opts.CheckpointPath != "" {
		cfg.Checkpoint.Path = opts.CheckpointPath
	}
	if opts.CheckpointEvery > 0 {
		cfg.Checkpoint.Every = opts.CheckpointEvery
	}

	cfg.ContinueOnError = cfg.ContinueOnError || opts.ContinueOnError
	return cfg, opts
}

// appendPassword inserts a libpq "password=..." component into a DSN
// that may already be key=value form or a postgres:// URL; for the URL
// form we simply fall back to a key=value suffix, which libpq accepts
// alongside a connection string missing the password component.
func appendPassword(dsn, password string) string {
	if dsn == "" {
		return "password=" + password
	}
	if strings.Contains(dsn, "password=") {
		return dsn
	}
	return strings.TrimRight(dsn, " ") + " password=" + password
}

func overlayYAML(cfg *runconfig.Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("reading --config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Fatalf("parsing --config %s: %v", path, err)
	}
}

func main() {
	util.InitSlog()
	cfg, opts := parseOptions(os.Args[1:])

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	g, ok := samplegrammar.Lookup(cfg.Grammar)
	if !ok {
		log.Fatalf("grammar %q is not registered", cfg.Grammar)
	}
	freezeReport, err := g.Freeze()
	if err != nil {
		log.Fatalf("grammar %q failed to freeze: %v", cfg.Grammar, err)
	}
	if cfg.EntryRule == "" {
		cfg.EntryRule = "query"
	}

	if opts.Lint {
		printLintReport(g, freezeReport)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	view, rebuild := buildSchema(ctx, cfg)

	masterSeed := resolveSeed(cfg.Seed)
	slog.Info("starting run", "grammar", cfg.Grammar, "seed", masterSeed, "workers", cfg.Workers)

	checkpoint := resolveCheckpoint(cfg, masterSeed, view)

	var uniq *unique.Filter
	if cfg.Uniqueness.Mode == runconfig.UniquenessProbabilistic {
		uniq = unique.New(unique.Config{
			CapacityN: cfg.Uniqueness.Capacity,
			TargetFPR: cfg.Uniqueness.FPR,
		})
	}

	out := make(chan pool.QueryRecord, cfg.Batch)
	p := pool.New(pool.Config{
		Grammar:   g,
		EntryRule: cfg.EntryRule,
		Schema:    view,
		GenConfig: genctx.Config{MaxDepth: cfg.MaxDepth, RepeatCap: cfg.RepeatCap},

		MasterSeed: masterSeed,
		Total:      cfg.Count,
		Workers:    cfg.Workers,
		Batch:      cfg.Batch,

		Uniqueness: uniq,
		Fixup:      fixup.DropEmpty,

		Checkpoint:      checkpoint,
		CheckpointPath:  cfg.Checkpoint.Path,
		CheckpointEvery: cfg.Checkpoint.Every,
	})

	coordinator, endpoints := buildCoordinator(cfg, view, rebuild)

	rep := report.New(report.Config{
		Pool: p,
		Exec: coordinator,
		Uniq: uniq,
		Sink: sinkFor(cfg, opts.Verbose),
	})

	runCtx := ctx
	if cfg.Duration != "" {
		d, err := time.ParseDuration(cfg.Duration)
		if err != nil {
			log.Fatalf("invalid duration %q: %v", cfg.Duration, err)
		}
		var runCancel context.CancelFunc
		runCtx, runCancel = context.WithTimeout(ctx, d)
		defer runCancel()
	}

	go rep.Run(ctx)
	defer rep.Stop()

	outputFile := openOutput(cfg)
	if outputFile != nil {
		defer outputFile.Close()
	}

	done := make(chan error, 1)
	go func() {
		err := p.Run(runCtx, out)
		close(out)
		done <- err
	}()

	consumeLoop(runCtx, p, coordinator, out, cfg, outputFile)

	if err := <-done; err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		slog.Error("pool run error", "error", err)
	}

	for _, ep := range endpoints {
		_ = ep.Close()
	}

	if checkpoint != nil && cfg.Checkpoint.Path != "" {
		if err := partition.Save(cfg.Checkpoint.Path, checkpoint); err != nil {
			slog.Warn("final checkpoint write failed", "error", err)
		}
	}

	slog.Info("run complete", "generated", p.Stats.Generated.Load())
}

// consumeLoop drains generated records, either submitting them to the
// coordinator (when --dsn is set) or writing them to the configured
// output sink for a dry run, until out is closed or the context ends.
// Run never closes out itself (pool.Run's contract); main closes it once
// Run returns. ctx.Done is selected alongside the channel so a cancelled
// or expired run calls p.Stop to unwind workers.
func consumeLoop(ctx context.Context, p *pool.Pool, coordinator *exec.Coordinator, out chan pool.QueryRecord, cfg runconfig.Config, outputFile *os.File) {
	for {
		select {
		case rec, ok := <-out:
			if !ok {
				return
			}
			handleRecord(ctx, coordinator, rec, cfg, outputFile)
			if coordinator != nil && coordinator.ShuttingDown() {
				p.Stop()
			}
		case <-ctx.Done():
			p.Stop()
			drainRemaining(coordinator, out, cfg, outputFile)
			return
		}
	}
}

// drainRemaining gives already-generated records still sitting in out a
// chance to be submitted/written before main returns, bounded so shutdown
// never hangs waiting on a producer that has already stopped.
func drainRemaining(coordinator *exec.Coordinator, out chan pool.QueryRecord, cfg runconfig.Config, outputFile *os.File) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rec, ok := <-out:
			if !ok {
				return
			}
			handleRecord(context.Background(), coordinator, rec, cfg, outputFile)
		case <-deadline:
			return
		}
	}
}

func handleRecord(ctx context.Context, coordinator *exec.Coordinator, rec pool.QueryRecord, cfg runconfig.Config, outputFile *os.File) {
	if coordinator != nil {
		if _, err := coordinator.Submit(ctx, rec); err != nil && err != exec.ErrShutdownRequested {
			slog.Warn("submit error", "worker", rec.WorkerID, "error", err)
		}
		return
	}

	switch cfg.Output.Sink {
	case runconfig.OutputStdout:
		fmt.Println(rec.Text)
	case runconfig.OutputFile:
		if outputFile != nil {
			fmt.Fprintln(outputFile, rec.Text)
		}
	case runconfig.OutputNone:
	}
}

func openOutput(cfg runconfig.Config) *os.File {
	if cfg.Output.Sink != runconfig.OutputFile {
		return nil
	}
	f, err := os.Create(cfg.Output.Path)
	if err != nil {
		log.Fatalf("opening --output-path %s: %v", cfg.Output.Path, err)
	}
	return f
}

func sinkFor(cfg runconfig.Config, verbose bool) report.Sink {
	if verbose {
		return report.VerboseSink
	}
	return report.StdoutSink
}

// buildSchema resolves the SchemaView per cfg.Schema.Mode and returns a
// RebuildFunc the coordinator invokes after DDL succeeds (nil when the
// mode has no live target to re-read, per spec.md §4.9's "triggering a
// SchemaView rebuild if introspection mode is in use").
func buildSchema(ctx context.Context, cfg runconfig.Config) (*schemaview.View, exec.RebuildFunc) {
	switch cfg.Schema.Mode {
	case runconfig.SchemaNone:
		return schemaview.Empty(), nil

	case runconfig.SchemaDDLFile:
		data, err := os.ReadFile(cfg.Schema.Source)
		if err != nil {
			log.Fatalf("reading schema.source %s: %v", cfg.Schema.Source, err)
		}
		view, warnings, err := schemaview.ParseDDL(string(data))
		if err != nil {
			log.Fatalf("parsing schema.source %s: %v", cfg.Schema.Source, err)
		}
		for _, w := range warnings {
			slog.Warn("schema ddl parse", "warning", w)
		}
		return view, nil

	case runconfig.SchemaIntrospect:
		db, err := sql.Open("postgres", cfg.Schema.Source)
		if err != nil {
			log.Fatalf("opening schema.source %s: %v", cfg.Schema.Source, err)
		}
		view, err := schemaview.Introspect(ctx, db)
		if err != nil {
			log.Fatalf("introspecting schema.source %s: %v", cfg.Schema.Source, err)
		}
		rebuild := func(ctx context.Context) (*schemaview.View, error) {
			return schemaview.Introspect(ctx, db)
		}
		return view, rebuild

	default:
		log.Fatalf("schema.mode: unrecognized %q", cfg.Schema.Mode)
		return nil, nil
	}
}

// buildCoordinator opens one dedicated DDL connection plus one connection
// per worker and wires an exec.Coordinator, or returns (nil, nil) for a
// dry run (cfg.DSN empty).
func buildCoordinator(cfg runconfig.Config, view *schemaview.View, rebuild exec.RebuildFunc) (*exec.Coordinator, []endpoint.Endpoint) {
	if cfg.DSN == "" {
		return nil, nil
	}

	ddlEndpoint, err := postgres.Connect(cfg.DSN)
	if err != nil {
		log.Fatalf("connecting ddl endpoint: %v", err)
	}

	dmlEndpoints := make(map[int]endpoint.Endpoint, cfg.Workers)
	all := []endpoint.Endpoint{ddlEndpoint}
	for w := 0; w < cfg.Workers; w++ {
		ep, err := postgres.Connect(cfg.DSN)
		if err != nil {
			log.Fatalf("connecting worker %d endpoint: %v", w, err)
		}
		dmlEndpoints[w] = ep
		all = append(all, ep)
	}

	coordinator := exec.New(exec.Config{
		DDLEndpoint:     ddlEndpoint,
		DMLEndpoints:    dmlEndpoints,
		Rebuild:         rebuild,
		ContinueOnError: cfg.ContinueOnError,
	}, view)

	return coordinator, all
}

func resolveSeed(seed *uint64) uint64 {
	if seed != nil {
		return *seed
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// resolveCheckpoint loads an existing checkpoint, verifying it against
// view's fingerprint, or starts a fresh one when checkpointing is enabled
// but no file exists yet. Returns nil when checkpointing is disabled.
func resolveCheckpoint(cfg runconfig.Config, masterSeed uint64, view *schemaview.View) *partition.Checkpoint {
	if cfg.Checkpoint.Path == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Checkpoint.Path); err == nil {
		checkpoint, err := partition.Load(cfg.Checkpoint.Path)
		if err != nil {
			log.Fatalf("loading checkpoint %s: %v", cfg.Checkpoint.Path, err)
		}
		if err := checkpoint.VerifySchema(view.Fingerprint); err != nil {
			log.Fatalf("checkpoint %s: %v", cfg.Checkpoint.Path, err)
		}
		return checkpoint
	}
	return partition.NewCheckpoint(masterSeed, cfg.Count, cfg.Workers, view.Fingerprint)
}

func printLintReport(g *grammar.Grammar, freezeReport *grammar.FreezeReport) {
	fmt.Printf("grammar %q: %d unreachable rule(s), %d unprunable choice(s) at depth cap\n",
		g.Name, len(freezeReport.UnreachableRules), len(freezeReport.UnprunableChoiceAt))
	for _, name := range freezeReport.UnreachableRules {
		fmt.Printf("  unreachable rule: %s\n", name)
	}
	for _, loc := range freezeReport.UnprunableChoiceAt {
		fmt.Printf("  unprunable choice: %s\n", loc)
	}
}
