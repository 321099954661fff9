// Package samplegrammar registers one demonstration grammar so cmd/rqg has
// something to run out of the box. Grammar file discovery and a built-in
// grammar library are explicitly out of scope (spec.md §1); this package
// is the narrow exception that makes the CLI exercisable without one, not
// a library of grammars — exactly one entry.
package samplegrammar

import (
	"github.com/queryforge/rqg/grammar"
)

// Registry maps a run configuration's grammar name to a constructor.
var Registry = map[string]func() *grammar.Grammar{
	"basic_dml": basicDML,
}

// Lookup builds the named grammar, or reports it isn't registered.
func Lookup(name string) (*grammar.Grammar, bool) {
	ctor, ok := Registry[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// basicDML is a small SELECT/INSERT/UPDATE/DELETE grammar exercising the
// schema-aware Table/Field elements alongside Choice, Template, Repeat,
// and Maybe, enough to validate the engine end-to-end against a real
// SchemaView.
func basicDML() *grammar.Grammar {
	g := grammar.New("basic_dml", "query")

	g.DefineRule("query", &grammar.Choice{
		Options: []grammar.Element{
			&grammar.RuleRef{Name: "select_stmt"},
			&grammar.RuleRef{Name: "insert_stmt"},
			&grammar.RuleRef{Name: "update_stmt"},
			&grammar.RuleRef{Name: "delete_stmt"},
		},
		Weights: []int{4, 2, 2, 1},
	})

	g.DefineRule("select_stmt", &grammar.Template{Parts: []grammar.TemplatePart{
		{Literal: "SELECT "},
		{Inline: &grammar.Repeat{
			Child: &grammar.Field{},
			Min:   1, Max: 4, Sep: ", ",
		}},
		{Literal: " FROM "},
		{Inline: &grammar.Table{}},
		{Inline: &grammar.Maybe{P: 0.6, Child: &grammar.RuleRef{Name: "where_clause"}}},
	}})

	g.DefineRule("insert_stmt", &grammar.Template{Parts: []grammar.TemplatePart{
		{Literal: "INSERT INTO "},
		{Inline: &grammar.Table{}},
		{Literal: " ("},
		{Inline: &grammar.Field{}},
		{Literal: ") VALUES ("},
		{Inline: &grammar.Number{Lo: 0, Hi: 1000000}},
		{Literal: ")"},
	}})

	g.DefineRule("update_stmt", &grammar.Template{Parts: []grammar.TemplatePart{
		{Literal: "UPDATE "},
		{Inline: &grammar.Table{}},
		{Literal: " SET "},
		{Inline: &grammar.Field{}},
		{Literal: " = "},
		{Inline: &grammar.Number{Lo: 0, Hi: 1000000}},
		{Inline: &grammar.Maybe{P: 0.5, Child: &grammar.RuleRef{Name: "where_clause"}}},
	}})

	g.DefineRule("delete_stmt", &grammar.Template{Parts: []grammar.TemplatePart{
		{Literal: "DELETE FROM "},
		{Inline: &grammar.Table{}},
		{Inline: &grammar.Maybe{P: 0.8, Child: &grammar.RuleRef{Name: "where_clause"}}},
	}})

	g.DefineRule("where_clause", &grammar.Template{Parts: []grammar.TemplatePart{
		{Literal: " WHERE "},
		{Inline: &grammar.Field{}},
		{Literal: " = "},
		{Inline: &grammar.Number{Lo: 0, Hi: 1000000}},
	}})

	return g
}
