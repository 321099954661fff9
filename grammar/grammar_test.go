package grammar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryforge/rqg/genctx"
	"github.com/queryforge/rqg/rng"
	"github.com/queryforge/rqg/schemaview"
)

func newCtx(seed uint64, schema *schemaview.View) *genctx.Context {
	if schema == nil {
		schema = schemaview.Empty()
	}
	return genctx.New(rng.Split(seed, 0), schema, genctx.DefaultConfig())
}

// S1: weighted choice converges to its configured ratio.
func TestWeightedChoiceDistribution(t *testing.T) {
	g := New("s1", "query")
	g.DefineRule("query", &Choice{
		Options: []Element{&Literal{Text: "A"}, &Literal{Text: "B"}},
		Weights: []int{3, 1},
	})
	_, err := g.Freeze()
	require.NoError(t, err)

	stream := rng.Split(1, 0)
	counts := map[string]int{}
	const n = 4000
	for i := 0; i < n; i++ {
		ctx := genctx.New(stream, schemaview.Empty(), genctx.DefaultConfig())
		out, err := g.Generate("", ctx)
		require.NoError(t, err)
		counts[out]++
	}
	ratio := float64(counts["A"]) / float64(n)
	assert.InDelta(t, 0.75, ratio, 0.03)
}

// S2: template resolves rule references exactly, for any seed.
func TestTemplateResolvesRule(t *testing.T) {
	g := New("s2", "query")
	g.DefineRule("query", &Template{Parts: []TemplatePart{
		{Literal: "SELECT "},
		{Placeholder: "col"},
		{Literal: " FROM "},
		{Placeholder: "tab"},
		{Literal: ";"},
	}})
	g.DefineRule("col", &Literal{Text: "id"})
	g.DefineRule("tab", &Literal{Text: "t"})
	_, err := g.Freeze()
	require.NoError(t, err)

	for _, seed := range []uint64{1, 2, 3, 999} {
		ctx := newCtx(seed, nil)
		out, err := g.Generate("", ctx)
		require.NoError(t, err)
		assert.Equal(t, "SELECT id FROM t;", out)
	}
}

// S3: repeat with separator, boundary behavior n==min==max.
func TestRepeatFixedCount(t *testing.T) {
	g := New("s3", "query")
	g.DefineRule("query", &Repeat{Child: &Digit{}, Min: 3, Max: 3, Sep: ","})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := newCtx(42, nil)
	out, err := g.Generate("", ctx)
	require.NoError(t, err)
	assert.Len(t, out, 5) // d,d,d
}

func TestRepeatZeroEmitsEmpty(t *testing.T) {
	g := New("repeat-zero", "query")
	g.DefineRule("query", &Repeat{Child: &Digit{}, Min: 0, Max: 0, Sep: ","})
	_, err := g.Freeze()
	require.NoError(t, err)

	out, err := g.Generate("", newCtx(1, nil))
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestMaybeBoundaries(t *testing.T) {
	g := New("maybe", "never")
	g.DefineRule("never", &Maybe{Child: &Literal{Text: "x"}, P: 0})
	g.DefineRule("always", &Maybe{Child: &Literal{Text: "x"}, P: 1})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := newCtx(7, nil)
	out, err := g.Generate("never", ctx)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	out, err = g.Generate("always", ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestUnresolvedPlaceholderIsFatalAtFreeze(t *testing.T) {
	g := New("bad-template", "query")
	g.DefineRule("query", &Template{Parts: []TemplatePart{{Placeholder: "missing"}}})
	_, err := g.Freeze()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGrammar))
}

func TestUnknownRuleRefIsFatalAtFreeze(t *testing.T) {
	g := New("bad-ref", "query")
	g.DefineRule("query", &RuleRef{Name: "nope"})
	_, err := g.Freeze()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGrammar))
}

func TestChoiceMustHaveOptions(t *testing.T) {
	g := New("bad-choice", "query")
	g.DefineRule("query", &Choice{Options: nil})
	_, err := g.Freeze()
	require.Error(t, err)
}

func TestChoiceWeightMismatchIsFatal(t *testing.T) {
	g := New("bad-weights", "query")
	g.DefineRule("query", &Choice{
		Options: []Element{&Literal{Text: "a"}, &Literal{Text: "b"}},
		Weights: []int{1},
	})
	_, err := g.Freeze()
	require.Error(t, err)
}

func TestRepeatMinGreaterThanMaxIsFatal(t *testing.T) {
	g := New("bad-repeat", "query")
	g.DefineRule("query", &Repeat{Child: &Digit{}, Min: 5, Max: 2})
	_, err := g.Freeze()
	require.Error(t, err)
}

// Depth cap forces a recursive Choice to pick its non-recursive branch.
func TestDepthCapPrunesRecursiveChoice(t *testing.T) {
	g := New("recursive", "query")
	g.DefineRule("query", &Choice{Options: []Element{
		&Template{Parts: []TemplatePart{{Literal: "("}, {Placeholder: "query"}, {Literal: ")"}}},
		&Literal{Text: "leaf"},
	}})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := genctx.New(rng.Split(1, 0), schemaview.Empty(), genctx.Config{MaxDepth: 1, RepeatCap: 8})
	out, err := g.Generate("", ctx)
	require.NoError(t, err)
	assert.Equal(t, "leaf", out)
}

// Every option pruned at the depth cap emits "".
func TestDepthCapAllPrunedEmitsEmpty(t *testing.T) {
	g := New("all-recursive", "query")
	g.DefineRule("query", &RuleRef{Name: "query"})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := genctx.New(rng.Split(1, 0), schemaview.Empty(), genctx.Config{MaxDepth: 1, RepeatCap: 8})
	out, err := g.Generate("", ctx)
	require.NoError(t, err)
	assert.Equal(t, "", out)
	assert.Equal(t, 1, ctx.Warnings)
}

func TestFieldFallbackOnEmptySchema(t *testing.T) {
	g := New("field", "query")
	g.DefineRule("query", &Field{})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := newCtx(1, schemaview.Empty())
	out, err := g.Generate("", ctx)
	require.NoError(t, err)
	assert.Equal(t, "id", out)
	assert.Equal(t, 1, ctx.Warnings)
}

func TestTableFallbackUsesFirstTable(t *testing.T) {
	schema := schemaview.New(map[string]schemaview.Table{
		"zeta":  {Name: "zeta"},
		"alpha": {Name: "alpha"},
	})
	g := New("table", "query")
	g.DefineRule("query", &Table{Filter: func(string) bool { return false }})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := newCtx(1, schema)
	out, err := g.Generate("", ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", out)
}

func TestFreezeReportFindsUnreachableRule(t *testing.T) {
	g := New("unreachable", "query")
	g.DefineRule("query", &Literal{Text: "x"})
	g.DefineRule("orphan", &Literal{Text: "y"})
	report, err := g.Freeze()
	require.NoError(t, err)
	assert.Contains(t, report.UnreachableRules, "orphan")
}

func TestLambdaMutatesState(t *testing.T) {
	g := New("lambda", "query")
	g.DefineRule("query", &Lambda{Fn: func(ctx *genctx.Context) (string, error) {
		ctx.State["called"] = true
		return "ok", nil
	}})
	_, err := g.Freeze()
	require.NoError(t, err)

	ctx := newCtx(1, nil)
	out, err := g.Generate("", ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, true, ctx.State["called"])
}
