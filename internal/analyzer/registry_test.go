package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
)

type fixedAnalyzer struct {
	name     string
	score    float64
	findings []string
	err      error
	block    bool
}

func (f fixedAnalyzer) Name() string { return f.name }

func (f fixedAnalyzer) Analyze(ctx context.Context, c component.Component, _ *Context) (Result, error) {
	if f.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Score: f.score, Findings: f.findings, SourceHash: c.ContentHash}, nil
}

var agent = component.Component{ID: "agent:reviewer", Kind: component.Agent, Name: "reviewer", ContentHash: "abc"}

func TestVerdictBands(t *testing.T) {
	cases := map[float64]Verdict{10: Excellent, 9: Excellent, 8.99: Good, 7: Good, 6.5: Fair, 5: Fair, 4.99: Poor, 0: Poor}
	for score, want := range cases {
		assert.Equal(t, want, VerdictFor(score), "score %v", score)
	}
}

func TestWeightedAverageMerge(t *testing.T) {
	r := NewRegistry(WeightedAverage)
	r.Register(component.Agent, fixedAnalyzer{name: "a", score: 9, findings: []string{"tidy"}}, 3)
	r.Register(component.Agent, fixedAnalyzer{name: "b", score: 5, findings: []string{"vague"}}, 1)

	res, err := r.Analyze(context.Background(), agent, NewContext(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 8.0, res.Score)
	assert.Equal(t, Good, res.Verdict)
	assert.Equal(t, []string{"[a] tidy", "[b] vague"}, res.Findings)
	assert.Equal(t, []string{"a", "b"}, res.Analyzers)
	assert.Equal(t, "abc", res.SourceHash)
}

func TestMaxSeverityMerge(t *testing.T) {
	r := NewRegistry(MaxSeverity)
	r.Register(component.Agent, fixedAnalyzer{name: "a", score: 9}, 3)
	r.Register(component.Agent, fixedAnalyzer{name: "b", score: 4.5}, 1)

	res, err := r.Analyze(context.Background(), agent, NewContext(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 4.5, res.Score)
	assert.Equal(t, Poor, res.Verdict)
}

func TestScoresAreClamped(t *testing.T) {
	r := NewRegistry(WeightedAverage)
	r.Register(component.Agent, fixedAnalyzer{name: "wild", score: 14}, 1)
	res, err := r.Analyze(context.Background(), agent, NewContext(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Score)
}

func TestRegisterReplacesSameName(t *testing.T) {
	r := NewRegistry(WeightedAverage)
	r.Register(component.Agent, fixedAnalyzer{name: "a", score: 1}, 1)
	r.Register(component.Agent, fixedAnalyzer{name: "a", score: 7}, 1)
	assert.Equal(t, []string{"a"}, r.Names(component.Agent))

	res, err := r.Analyze(context.Background(), agent, NewContext(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.Score)
}

func TestAnalyzerFailuresAreClassified(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		r := NewRegistry(WeightedAverage)
		r.Register(component.Agent, fixedAnalyzer{name: "slow", block: true}, 1)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := r.Analyze(ctx, agent, NewContext(nil, nil, nil, nil))
		require.Error(t, err)
		assert.Equal(t, errs.AnalyzerTimeout, errs.CodeOf(err))
		var typed *errs.Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, "agent:reviewer", typed.Component)
	})

	t.Run("error", func(t *testing.T) {
		r := NewRegistry(WeightedAverage)
		r.Register(component.Agent, fixedAnalyzer{name: "ok", score: 9}, 1)
		r.Register(component.Agent, fixedAnalyzer{name: "bad", err: fmt.Errorf("model unavailable")}, 1)

		_, err := r.Analyze(context.Background(), agent, NewContext(nil, nil, nil, nil))
		assert.Equal(t, errs.AnalyzerError, errs.CodeOf(err))
		assert.Contains(t, err.Error(), "bad failed")
	})

	t.Run("no analyzer", func(t *testing.T) {
		r := NewRegistry(WeightedAverage)
		_, err := r.Analyze(context.Background(), agent, NewContext(nil, nil, nil, nil))
		assert.Equal(t, errs.AnalyzerError, errs.CodeOf(err))
		assert.False(t, r.Handles(component.Agent))
	})
}

func TestParseMergePolicy(t *testing.T) {
	p, err := ParseMergePolicy("max-severity")
	require.NoError(t, err)
	assert.Equal(t, MaxSeverity, p)

	p, err = ParseMergePolicy("")
	require.NoError(t, err)
	assert.Equal(t, WeightedAverage, p)

	_, err = ParseMergePolicy("median")
	assert.Error(t, err)
}

func TestResultSetConcurrentAccess(t *testing.T) {
	set := NewResultSet()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("agent:a%02d", i)
			set.Put(id, Result{Score: float64(i % 10)})
			_, _ = set.Lookup(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32, set.Len())
	assert.Equal(t, "agent:a00", set.IDs()[0])
	assert.Len(t, set.Snapshot(), 32)
}

func TestDefaultRegistryCoversEveryKind(t *testing.T) {
	r := NewDefaultRegistry(Options{Weights: map[string]float64{"graph": 2}})
	for _, kind := range component.AllKinds() {
		assert.True(t, r.Handles(kind), kind)
	}
	assert.Equal(t, []string{"structure", "graph"}, r.Names(component.Command))
	assert.Equal(t, []string{"hook", "graph"}, r.Names(component.Hook))

	withLLM := NewDefaultRegistry(Options{LLM: fixedAnalyzer{name: "llm", score: 8}})
	assert.Equal(t, []string{"structure", "graph", "llm"}, withLLM.Names(component.Skill))
	assert.Equal(t, []string{"mcp", "graph"}, withLLM.Names(component.MCPServer))
}
