// Package fixup defines the narrow, pluggable post-expansion hook
// spec.md §9 describes as "Query fixing / database-specific filter": a
// stateless function from the engine's perspective, applied after Element
// expansion and before the Uniqueness filter. The engine ships no
// dialect-specific implementations — those are out of scope per spec.md
// §1 — only the interface and a trivial composition helper.
package fixup

// Hook rewrites a generated query, or reports that it should be dropped.
// Returning ok=false drops the query; the caller counts it (spec.md §9).
type Hook func(query string) (fixed string, ok bool)

// Chain composes hooks in order; the first hook to drop a query short-
// circuits the rest.
func Chain(hooks ...Hook) Hook {
	return func(query string) (string, bool) {
		for _, h := range hooks {
			var ok bool
			query, ok = h(query)
			if !ok {
				return "", false
			}
		}
		return query, true
	}
}

// DropEmpty drops queries that are empty or all-whitespace after
// expansion, e.g. a fully depth-capped entry rule (spec.md §4.3 "Choice
// with all options pruned at depth cap emits \"\"").
func DropEmpty(query string) (string, bool) {
	for _, r := range query {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return query, true
		}
	}
	return "", false
}
