// Package genctx defines Context, the per-worker-per-expansion scratchpad
// threaded through every Element.Expand call (spec.md §3, §4.2).
package genctx

import (
	"github.com/queryforge/rqg/rng"
	"github.com/queryforge/rqg/schemaview"
)

// Config carries the expansion-time limits that are otherwise constant for
// a whole run: the recursion cap and the Repeat.max upper bound.
type Config struct {
	MaxDepth  int
	RepeatCap int
}

// DefaultConfig mirrors the values a grammar author would reach for absent
// any override: deep enough for realistic nested expressions, shallow
// enough that a pathological cyclic grammar can't blow the goroutine stack.
func DefaultConfig() Config {
	return Config{MaxDepth: 64, RepeatCap: 64}
}

// Context is created fresh for every top-level expansion (one query) and
// discarded when that expansion emits its string — pool.Pool's worker loop
// calls New once per attempt rather than pooling Contexts. It is never
// shared across goroutines: each worker owns exactly one Stream and uses
// one Context per query. Reset exists for callers that do pool Contexts
// across expansions instead; it must leave every per-expansion field,
// including Warnings, as clean as a fresh New would.
type Context struct {
	RNG    *rng.Stream
	Schema *schemaview.View
	Config Config

	// State is the Lambda-visible scratchpad (spec.md §4.2): cleared
	// before each top-level expansion, read/written by Lambda elements
	// wanting to coordinate across a single expansion (e.g. "pick a
	// table once, reuse its name in three places").
	State map[string]any

	depth int

	// Warnings counts non-fatal conditions recorded during expansion:
	// depth-cap prunes with no non-recursive branch, and Field/Table
	// fallback-to-default selections (spec.md §4.3, §9 Open Questions).
	Warnings int
}

// New creates a Context for one top-level expansion.
func New(stream *rng.Stream, schema *schemaview.View, cfg Config) *Context {
	return &Context{
		RNG:    stream,
		Schema: schema,
		Config: cfg,
		State:  make(map[string]any),
	}
}

// Reset clears State, the depth counter, and Warnings so a single
// long-lived Context can be reused across a worker's successive top-level
// expansions, each one reported on cleanly, without reallocating the RNG
// handle or schema pointer.
func (c *Context) Reset() {
	for k := range c.State {
		delete(c.State, k)
	}
	c.depth = 0
	c.Warnings = 0
}

// Depth returns the current expansion depth.
func (c *Context) Depth() int {
	return c.depth
}

// AtMaxDepth reports whether entering one more RuleRef/Choice/Repeat would
// exceed Config.MaxDepth.
func (c *Context) AtMaxDepth() bool {
	return c.depth >= c.Config.MaxDepth
}

// Enter increments the depth counter on entry to RuleRef, Choice, or
// Repeat, per spec.md §4.2. Leave must be called (typically via defer) on
// every exit path, including early returns.
func (c *Context) Enter() {
	c.depth++
}

// Leave decrements the depth counter.
func (c *Context) Leave() {
	c.depth--
}
