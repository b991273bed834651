package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
)

// MergePolicy decides how several analyzers' scores for one component
// combine.
type MergePolicy string

const (
	// WeightedAverage averages scores using each registration's weight.
	WeightedAverage MergePolicy = "weighted-average"
	// MaxSeverity keeps the lowest score.
	MaxSeverity MergePolicy = "max-severity"
)

// ParseMergePolicy accepts the config spelling of a policy.
func ParseMergePolicy(raw string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "weighted-average", "weighted_average", "average":
		return WeightedAverage, nil
	case "max-severity", "max_severity", "min", "worst":
		return MaxSeverity, nil
	}
	return "", fmt.Errorf("unsupported merge policy %q (supported: weighted-average, max-severity)", raw)
}

type registration struct {
	analyzer Analyzer
	weight   float64
}

// Registry dispatches components to the analyzers registered for their kind.
// Register everything before the first Analyze call.
type Registry struct {
	policy MergePolicy
	byKind map[component.Kind][]registration
}

func NewRegistry(policy MergePolicy) *Registry {
	if policy == "" {
		policy = WeightedAverage
	}
	return &Registry{policy: policy, byKind: make(map[component.Kind][]registration)}
}

// Register adds a for kind. Non-positive weights count as 1. Registering the
// same analyzer name twice for a kind replaces the earlier entry.
func (r *Registry) Register(kind component.Kind, a Analyzer, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	regs := r.byKind[kind]
	for i, existing := range regs {
		if existing.analyzer.Name() == a.Name() {
			regs[i] = registration{analyzer: a, weight: weight}
			return
		}
	}
	r.byKind[kind] = append(regs, registration{analyzer: a, weight: weight})
}

// RegisterKinds registers a for several kinds with one weight.
func (r *Registry) RegisterKinds(kinds []component.Kind, a Analyzer, weight float64) {
	for _, kind := range kinds {
		r.Register(kind, a, weight)
	}
}

func (r *Registry) Policy() MergePolicy {
	return r.policy
}

// Handles reports whether any analyzer is registered for kind.
func (r *Registry) Handles(kind component.Kind) bool {
	return len(r.byKind[kind]) > 0
}

// Names returns analyzer names registered for kind, in registration order.
func (r *Registry) Names(kind component.Kind) []string {
	out := make([]string, 0, len(r.byKind[kind]))
	for _, reg := range r.byKind[kind] {
		out = append(out, reg.analyzer.Name())
	}
	return out
}

// Kinds returns every kind with at least one analyzer.
func (r *Registry) Kinds() []component.Kind {
	out := make([]component.Kind, 0, len(r.byKind))
	for kind, regs := range r.byKind {
		if len(regs) > 0 {
			out = append(out, kind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Analyze runs every analyzer registered for c.Kind and merges the results.
// The first failure fails the whole unit: deadline errors become
// AnalyzerTimeout, everything else AnalyzerError.
func (r *Registry) Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error) {
	regs := r.byKind[c.Kind]
	if len(regs) == 0 {
		return Result{}, errs.Newf(errs.AnalyzerError, "no analyzer registered for kind %s", c.Kind).ForComponent(c.ID)
	}

	results := make([]Result, 0, len(regs))
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			return Result{}, classify(err, reg.analyzer.Name(), c.ID)
		}
		res, err := reg.analyzer.Analyze(ctx, c, actx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			return Result{}, classify(err, reg.analyzer.Name(), c.ID)
		}
		results = append(results, res)
	}
	return r.merge(c, regs, results), nil
}

func classify(err error, analyzer, id string) error {
	var typed *errs.Error
	if errors.As(err, &typed) && (typed.Code == errs.AnalyzerTimeout || typed.Code == errs.AnalyzerError) {
		if typed.Component == "" {
			return typed.ForComponent(id)
		}
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.AnalyzerTimeout, err, analyzer+" timed out").ForComponent(id)
	}
	return errs.Wrap(errs.AnalyzerError, err, analyzer+" failed").ForComponent(id)
}

func (r *Registry) merge(c component.Component, regs []registration, results []Result) Result {
	merged := Result{SourceHash: c.ContentHash, Findings: make([]string, 0)}
	var weighted, total float64
	worst := 10.0
	for i, res := range results {
		name := regs[i].analyzer.Name()
		score := ClampScore(res.Score)
		weighted += score * regs[i].weight
		total += regs[i].weight
		if score < worst {
			worst = score
		}
		merged.Analyzers = append(merged.Analyzers, name)
		for _, finding := range res.Findings {
			merged.Findings = append(merged.Findings, "["+name+"] "+finding)
		}
	}

	switch r.policy {
	case MaxSeverity:
		merged.Score = worst
	default:
		merged.Score = weighted / total
	}
	return merged.Finalize()
}
