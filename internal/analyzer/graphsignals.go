package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
)

const maxBrokenPenalty = 4

// GraphAnalyzer scores a component by where it sits in the dependency graph.
type GraphAnalyzer struct{}

func NewGraphAnalyzer() GraphAnalyzer {
	return GraphAnalyzer{}
}

func (GraphAnalyzer) Name() string { return "graph" }

func (GraphAnalyzer) Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if actx == nil || actx.Graph == nil {
		return Result{Score: 10, SourceHash: c.ContentHash}.Finalize(), nil
	}

	health := actx.Health()
	score := 10.0
	findings := make([]string, 0)

	orphan := contains(health.Orphans, c.ID)
	if orphan {
		score -= 3
		findings = append(findings, "orphan: no other component references it")
	} else if contains(health.Unreachable, c.ID) {
		score -= 1
		findings = append(findings, "unreachable from any entry point")
	}

	if cycle, ok := actx.CycleOf(c.ID); ok {
		score -= 2
		loop := append(append([]string{}, cycle...), cycle[0])
		findings = append(findings, "part of cycle "+strings.Join(loop, " -> "))
	}

	broken := 0
	for _, edge := range actx.Graph.Dependencies(c.ID) {
		if !edge.Unresolved {
			continue
		}
		broken++
		findings = append(findings, fmt.Sprintf("broken %s link to %s (%s)", edge.Kind, edge.To, edge.Evidence))
	}
	if broken > maxBrokenPenalty {
		score -= maxBrokenPenalty
	} else {
		score -= float64(broken)
	}

	return Result{Score: score, Findings: findings, SourceHash: c.ContentHash}.Finalize(), nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
