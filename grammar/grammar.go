package grammar

import (
	"errors"
	"fmt"
	"sort"

	"github.com/queryforge/rqg/genctx"
	"github.com/queryforge/rqg/util"
)

// ErrGrammar tags every fatal grammar-construction error spec.md §7 kind 1
// describes: unknown rule reference, invalid Choice, invalid Repeat,
// unresolved Template placeholder. Callers use errors.Is(err, ErrGrammar)
// to classify.
var ErrGrammar = errors.New("grammar error")

// Rule is a named binding from identifier to Element (spec.md §3).
type Rule struct {
	Name    string
	Element Element
}

// Grammar is a named, mutable-until-frozen collection of rules with a
// designated entry rule (spec.md §4.4). After Freeze, it is immutable and
// safe for concurrent readers without locking.
type Grammar struct {
	Name  string
	entry string
	rules map[string]Rule

	frozen bool
	// nonRecursive memoizes Freeze's one-pass termination proof per rule
	// element, keyed by pointer identity, so repeated depth-capped
	// expansions don't re-walk the reference graph (SPEC_FULL.md's
	// "Weighted Choice static proof cache" supplement).
	nonRecursive map[Element]bool
}

// New creates an empty, unfrozen Grammar. entry defaults to "query" if
// empty, per spec.md §3.
func New(name, entry string) *Grammar {
	if entry == "" {
		entry = "query"
	}
	return &Grammar{
		Name:  name,
		entry: entry,
		rules: make(map[string]Rule),
	}
}

// DefineRule registers or replaces a named rule. Panics are never used for
// author mistakes here — Freeze is where validation happens, per
// spec.md §4.4.
func (g *Grammar) DefineRule(name string, el Element) {
	if g.frozen {
		panic("grammar: DefineRule called after Freeze")
	}
	g.rules[name] = Rule{Name: name, Element: el}
}

// EntryRule returns the configured entry rule name.
func (g *Grammar) EntryRule() string {
	return g.entry
}

// FreezeReport carries the non-fatal observations Freeze makes in
// addition to its fatal validation (SPEC_FULL.md's grammar validation
// report supplement): rules no reachable rule refers to, and Choice nodes
// for which the depth-cap pruning would have nothing to fall back on.
type FreezeReport struct {
	UnreachableRules   []string
	UnprunableChoiceAt []string // rule names containing a Choice with no non-recursive option
}

// Freeze validates the grammar and precomputes the termination proof used
// by depth-capped Choice/RuleRef pruning (spec.md §4.4). It is the only
// place GrammarError (§7 kind 1) is raised. Calling Freeze twice is a
// no-op returning the same report.
func (g *Grammar) Freeze() (*FreezeReport, error) {
	if g.frozen {
		return g.report(), nil
	}

	if _, ok := g.rules[g.entry]; !ok {
		return nil, fmt.Errorf("%w: entry rule %q is not defined", ErrGrammar, g.entry)
	}

	for name, rule := range util.CanonicalMapIter(g.rules) {
		if err := validateStatic(g, rule.Element); err != nil {
			return nil, fmt.Errorf("%w: in rule %q: %v", ErrGrammar, name, err)
		}
	}

	g.nonRecursive = make(map[Element]bool)
	for name, rule := range util.CanonicalMapIter(g.rules) {
		precomputeTermination(g, rule.Element, name)
	}

	g.frozen = true
	return g.report(), nil
}

// Frozen reports whether Freeze has run successfully.
func (g *Grammar) Frozen() bool { return g.frozen }

// Generate invokes Element expansion on the named rule (default: the
// entry rule) against ctx. Generate must only be called after Freeze.
func (g *Grammar) Generate(entry string, ctx *genctx.Context) (string, error) {
	if !g.frozen {
		panic("grammar: Generate called before Freeze")
	}
	if entry == "" {
		entry = g.entry
	}
	rule, ok := g.rules[entry]
	if !ok {
		return "", fmt.Errorf("%w: unresolved rule reference %q", ErrGrammar, entry)
	}
	return rule.Element.Expand(ctx, g)
}

// isNonRecursive reports the memoized termination proof for el, computed
// at Freeze time. Used by depth-cap pruning in Choice and RuleRef.
func (g *Grammar) isNonRecursive(el Element) bool {
	if g.nonRecursive == nil {
		return el.terminates(g, map[string]bool{})
	}
	if v, ok := g.nonRecursive[el]; ok {
		return v
	}
	return el.terminates(g, map[string]bool{})
}

// precomputeTermination proves el and its nested elements against a path
// that already holds ruleName, the rule el belongs to, so an option that
// leads back into its own rule counts as recursive.
func precomputeTermination(g *Grammar, el Element, ruleName string) {
	if _, ok := g.nonRecursive[el]; ok {
		return
	}
	g.nonRecursive[el] = el.terminates(g, map[string]bool{ruleName: true})

	switch v := el.(type) {
	case *Choice:
		for _, o := range v.Options {
			precomputeTermination(g, o, ruleName)
		}
	case *Repeat:
		precomputeTermination(g, v.Child, ruleName)
	case *Maybe:
		precomputeTermination(g, v.Child, ruleName)
	case *Template:
		for _, part := range v.Parts {
			if part.Inline != nil {
				precomputeTermination(g, part.Inline, ruleName)
			}
		}
	}
}

// validateStatic checks the per-variant fatal invariants from spec.md §3
// invariants 3/4 and §4.3's unresolved-placeholder/unknown-rule errors,
// recursing into child elements.
func validateStatic(g *Grammar, el Element) error {
	switch v := el.(type) {
	case *Choice:
		if len(v.Options) == 0 {
			return fmt.Errorf("choice has no options")
		}
		if v.Weights != nil {
			if len(v.Weights) != len(v.Options) {
				return fmt.Errorf("choice has %d options but %d weights", len(v.Options), len(v.Weights))
			}
			for _, w := range v.Weights {
				if w <= 0 {
					return fmt.Errorf("choice weight %d is not a positive integer", w)
				}
			}
		}
		for _, o := range v.Options {
			if err := validateStatic(g, o); err != nil {
				return err
			}
		}
	case *Repeat:
		if v.Min < 0 || v.Min > v.Max {
			return fmt.Errorf("repeat has invalid bounds min=%d max=%d", v.Min, v.Max)
		}
		return validateStatic(g, v.Child)
	case *Maybe:
		if v.P < 0 || v.P > 1 {
			return fmt.Errorf("maybe probability %f is outside [0,1]", v.P)
		}
		return validateStatic(g, v.Child)
	case *Template:
		for _, part := range v.Parts {
			if part.Placeholder == "" && part.Inline == nil {
				continue
			}
			if part.Inline != nil {
				if err := validateStatic(g, part.Inline); err != nil {
					return err
				}
				continue
			}
			if _, ok := g.rules[part.Placeholder]; !ok {
				return fmt.Errorf("unresolved placeholder %q", part.Placeholder)
			}
		}
	case *RuleRef:
		if _, ok := g.rules[v.Name]; !ok {
			return fmt.Errorf("unresolved rule reference %q", v.Name)
		}
	}
	return nil
}

func (g *Grammar) report() *FreezeReport {
	referenced := map[string]bool{g.entry: true}
	for _, rule := range g.rules {
		collectReferences(rule.Element, referenced)
	}

	var unreachable []string
	for name := range g.rules {
		if !referenced[name] {
			unreachable = append(unreachable, name)
		}
	}
	sort.Strings(unreachable)

	var unprunable []string
	for name, rule := range g.rules {
		if hasUnprunableChoice(g, rule.Element) {
			unprunable = append(unprunable, name)
		}
	}
	sort.Strings(unprunable)

	return &FreezeReport{UnreachableRules: unreachable, UnprunableChoiceAt: unprunable}
}

func collectReferences(el Element, seen map[string]bool) {
	switch v := el.(type) {
	case *RuleRef:
		seen[v.Name] = true
	case *Choice:
		for _, o := range v.Options {
			collectReferences(o, seen)
		}
	case *Repeat:
		collectReferences(v.Child, seen)
	case *Maybe:
		collectReferences(v.Child, seen)
	case *Template:
		for _, part := range v.Parts {
			if part.Inline != nil {
				collectReferences(part.Inline, seen)
			} else if part.Placeholder != "" {
				seen[part.Placeholder] = true
			}
		}
	}
}

func hasUnprunableChoice(g *Grammar, el Element) bool {
	switch v := el.(type) {
	case *Choice:
		if !v.terminates(g, map[string]bool{}) {
			return true
		}
		for _, o := range v.Options {
			if hasUnprunableChoice(g, o) {
				return true
			}
		}
	case *Repeat:
		return hasUnprunableChoice(g, v.Child)
	case *Maybe:
		return hasUnprunableChoice(g, v.Child)
	case *Template:
		for _, part := range v.Parts {
			if part.Inline != nil && hasUnprunableChoice(g, part.Inline) {
				return true
			}
		}
	}
	return false
}
