// Package grammar implements the Element algebra (spec.md §3, §4.3) and the
// Grammar that owns a named rule table (§4.4). Each Element variant
// implements Expand(ctx) (string, error); recursion is plain Go call-stack
// recursion, bounded by genctx.Context's depth counter.
package grammar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/queryforge/rqg/genctx"
)

// Element is the closed sum type of generator node kinds. Implementations
// live in this file; the set is intentionally closed (spec.md §3 lists
// every variant) so Grammar.Freeze can reason exhaustively about
// termination.
type Element interface {
	// Expand evaluates this node against ctx, returning the text it
	// produces. owner is the Grammar currently expanding (needed by
	// Template and RuleRef to resolve names); it is nil only while
	// Freeze's static analysis walks nodes that never call Expand.
	Expand(ctx *genctx.Context, owner *Grammar) (string, error)

	// terminates reports whether this node, in isolation, can produce
	// output without taking a RuleRef that (transitively) returns to a
	// rule already on the current call path — i.e. whether it is a safe
	// choice when the depth cap forces pruning of recursive branches.
	// path is the set of rule names currently being proven, used to
	// short-circuit cycles during the one-pass analysis (spec.md §4.3,
	// §4.4(b)).
	terminates(g *Grammar, path map[string]bool) bool
}

// Literal is a fixed string.
type Literal struct {
	Text string
}

func (l *Literal) Expand(*genctx.Context, *Grammar) (string, error) { return l.Text, nil }
func (l *Literal) terminates(*Grammar, map[string]bool) bool        { return true }

// Choice picks one of a non-empty list of options, uniformly or weighted
// by Weights (same length as Options, positive integers) if non-nil.
type Choice struct {
	Options []Element
	Weights []int
}

func (c *Choice) Expand(ctx *genctx.Context, g *Grammar) (string, error) {
	ctx.Enter()
	defer ctx.Leave()

	options := c.Options
	if ctx.AtMaxDepth() {
		if pruned := pruneRecursive(g, c.Options); len(pruned) > 0 {
			options = pruned
		} else {
			ctx.Warnings++
			return "", nil
		}
	}

	var idx int
	if c.Weights == nil || len(options) != len(c.Options) {
		// Either unweighted, or the depth cap pruned the option set:
		// re-normalize to a uniform pick over the surviving options,
		// since the original weights no longer line up positionally.
		idx = int(ctx.RNG.IntRange(0, int64(len(options)-1)))
	} else {
		idx = ctx.RNG.WeightedIndex(c.Weights)
	}
	return options[idx].Expand(ctx, g)
}

func (c *Choice) terminates(g *Grammar, path map[string]bool) bool {
	for _, o := range c.Options {
		if o.terminates(g, path) {
			return true
		}
	}
	return false
}

// pruneRecursive returns the subset of options proven (at Freeze time, via
// Grammar.terminating) to terminate without recursion, preserving order.
func pruneRecursive(g *Grammar, options []Element) []Element {
	var out []Element
	for _, o := range options {
		if g.isNonRecursive(o) {
			out = append(out, o)
		}
	}
	return out
}

// TemplatePart is one piece of a Template: either literal text, or a
// placeholder resolved per spec.md §4.3 Template semantics (the Inline
// element if set, otherwise the rule named by Placeholder).
type TemplatePart struct {
	Literal     string
	Placeholder string // empty for a pure-literal part or an unnamed Inline part
	Inline      Element
}

// Template concatenates literal fragments and resolved placeholders.
type Template struct {
	Parts []TemplatePart
}

func (t *Template) Expand(ctx *genctx.Context, g *Grammar) (string, error) {
	var b strings.Builder
	for _, part := range t.Parts {
		if part.Placeholder == "" && part.Inline == nil {
			b.WriteString(part.Literal)
			continue
		}
		el, err := resolvePlaceholder(g, part)
		if err != nil {
			return "", err
		}
		s, err := el.Expand(ctx, g)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func resolvePlaceholder(g *Grammar, part TemplatePart) (Element, error) {
	if part.Inline != nil {
		return part.Inline, nil
	}
	if rule, ok := g.rules[part.Placeholder]; ok {
		return rule.Element, nil
	}
	return nil, fmt.Errorf("%w: unresolved placeholder %q", ErrGrammar, part.Placeholder)
}

func (t *Template) terminates(g *Grammar, path map[string]bool) bool {
	for _, part := range t.Parts {
		if part.Placeholder == "" && part.Inline == nil {
			continue
		}
		if part.Inline == nil {
			// A rule placeholder refers to a rule just like RuleRef does,
			// so it goes through the same path-based cycle check.
			if !(&RuleRef{Name: part.Placeholder}).terminates(g, path) {
				return false
			}
			continue
		}
		if !part.Inline.terminates(g, path) {
			return false
		}
	}
	return true
}

// Repeat expands Child n times, n chosen uniformly in [Min, Max], joined
// by Sep.
type Repeat struct {
	Child Element
	Min   int
	Max   int
	Sep   string
}

func (r *Repeat) Expand(ctx *genctx.Context, g *Grammar) (string, error) {
	ctx.Enter()
	defer ctx.Leave()

	max := r.Max
	if max > ctx.Config.RepeatCap {
		max = ctx.Config.RepeatCap
	}
	min := r.Min
	if min > max {
		min = max
	}
	n := int(ctx.RNG.IntRange(int64(min), int64(max)))
	if n == 0 {
		return "", nil
	}

	parts := make([]string, n)
	for i := 0; i < n; i++ {
		s, err := r.Child.Expand(ctx, g)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, r.Sep), nil
}

func (r *Repeat) terminates(g *Grammar, path map[string]bool) bool {
	if r.Min == 0 {
		return true
	}
	return r.Child.terminates(g, path)
}

// Maybe expands Child with probability P, otherwise emits "".
type Maybe struct {
	Child Element
	P     float64
}

func (m *Maybe) Expand(ctx *genctx.Context, g *Grammar) (string, error) {
	if ctx.RNG.Float64() < m.P {
		return m.Child.Expand(ctx, g)
	}
	return "", nil
}

func (m *Maybe) terminates(g *Grammar, path map[string]bool) bool {
	if m.P <= 0 {
		return true
	}
	return m.Child.terminates(g, path)
}

// RuleRef resolves against the owning Grammar's rule map at expansion
// time.
type RuleRef struct {
	Name string
}

func (r *RuleRef) Expand(ctx *genctx.Context, g *Grammar) (string, error) {
	rule, ok := g.rules[r.Name]
	if !ok {
		return "", fmt.Errorf("%w: unresolved rule reference %q", ErrGrammar, r.Name)
	}

	ctx.Enter()
	defer ctx.Leave()

	if ctx.AtMaxDepth() && !g.isNonRecursive(rule.Element) {
		ctx.Warnings++
		return "", nil
	}
	return rule.Element.Expand(ctx, g)
}

func (r *RuleRef) terminates(g *Grammar, path map[string]bool) bool {
	if path[r.Name] {
		return false
	}
	rule, ok := g.rules[r.Name]
	if !ok {
		return false
	}
	path[r.Name] = true
	defer delete(path, r.Name)
	return rule.Element.terminates(g, path)
}

// LambdaFunc is a user-supplied generator function. It may read and
// mutate ctx.State, but per spec.md §9 must not capture mutable global
// state: it runs on the owning worker's goroutine with no synchronization.
type LambdaFunc func(ctx *genctx.Context) (string, error)

// Lambda wraps an opaque host-supplied function in the Element algebra.
type Lambda struct {
	Fn LambdaFunc
}

func (l *Lambda) Expand(ctx *genctx.Context, _ *Grammar) (string, error) {
	return l.Fn(ctx)
}

// terminates: a Lambda is opaque, so it is conservatively assumed to
// terminate (it cannot itself take a RuleRef and recurse — any recursion
// it triggers would have to go through Expand calls it makes itself,
// which are outside what Freeze can observe).
func (l *Lambda) terminates(*Grammar, map[string]bool) bool { return true }

// Number emits a uniform decimal integer in [Lo, Hi].
type Number struct {
	Lo, Hi int64
}

func (n *Number) Expand(ctx *genctx.Context, _ *Grammar) (string, error) {
	return strconv.FormatInt(ctx.RNG.IntRange(n.Lo, n.Hi), 10), nil
}
func (n *Number) terminates(*Grammar, map[string]bool) bool { return true }

// Digit emits a uniform decimal digit in [0,9].
type Digit struct{}

func (d *Digit) Expand(ctx *genctx.Context, _ *Grammar) (string, error) {
	return strconv.FormatInt(ctx.RNG.IntRange(0, 9), 10), nil
}
func (d *Digit) terminates(*Grammar, map[string]bool) bool { return true }

// FieldFilter narrows the columns Field considers; nil means "any column
// of any table".
type FieldFilter func(table, column string) bool

// Field picks a column name from the Context's SchemaView, across all
// tables, optionally narrowed by Filter. On an empty match set it emits
// the documented fallback "id" and records a warning (spec.md §4.3, §9
// Open Questions — resolved in DESIGN.md).
type Field struct {
	Filter FieldFilter
}

func (f *Field) Expand(ctx *genctx.Context, _ *Grammar) (string, error) {
	type candidate struct{ table, column string }
	var candidates []candidate
	for _, tname := range ctx.Schema.Tables() {
		table, _ := ctx.Schema.Table(tname)
		for _, c := range table.Columns {
			if f.Filter == nil || f.Filter(tname, c.Name) {
				candidates = append(candidates, candidate{tname, c.Name})
			}
		}
	}
	if len(candidates) == 0 {
		ctx.Warnings++
		return "id", nil
	}
	idx := ctx.RNG.IntRange(0, int64(len(candidates)-1))
	return candidates[idx].column, nil
}
func (f *Field) terminates(*Grammar, map[string]bool) bool { return true }

// TableFilter narrows which tables Table considers; nil means "any
// table".
type TableFilter func(table string) bool

// Table picks a table name from the Context's SchemaView, optionally
// narrowed by Filter. On an empty match set it emits the first
// lexicographic table name overall, or "" if the schema has no tables at
// all (the degraded-SchemaView case, spec.md §7 kind 3).
type Table struct {
	Filter TableFilter
}

func (t *Table) Expand(ctx *genctx.Context, _ *Grammar) (string, error) {
	all := ctx.Schema.Tables()
	var matching []string
	for _, name := range all {
		if t.Filter == nil || t.Filter(name) {
			matching = append(matching, name)
		}
	}
	if len(matching) > 0 {
		idx := ctx.RNG.IntRange(0, int64(len(matching)-1))
		return matching[idx], nil
	}
	ctx.Warnings++
	if len(all) > 0 {
		return all[0], nil
	}
	return "", nil
}
func (t *Table) terminates(*Grammar, map[string]bool) bool { return true }
