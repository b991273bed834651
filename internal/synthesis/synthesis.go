// Package synthesis folds per-component results and graph health into one
// deterministic report.
package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/graph"
)

const (
	componentWeight = 0.75
	graphWeight     = 0.25
)

// Severity orders issues in the report.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Failure describes a unit that produced no result in this run.
type Failure struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Code   errs.Code `json:"code,omitempty"`
	Reason string    `json:"reason"`
}

// Input is everything Build needs. Results holds fresh and cached results
// keyed by component id; Cached marks the ones reused from the run cache.
type Input struct {
	RunID      string
	Target     string
	Mode       string
	Components []component.Component
	Results    map[string]analyzer.Result
	Cached     map[string]bool
	Failures   []Failure
	Health     graph.Health
	EntryKinds []component.Kind
}

// Row is one component line of the report.
type Row struct {
	ID       string           `json:"id"`
	Kind     component.Kind   `json:"kind"`
	Path     string           `json:"path"`
	Score    *float64         `json:"score,omitempty"`
	Verdict  analyzer.Verdict `json:"verdict,omitempty"`
	Findings []string         `json:"findings"`
	Source   string           `json:"source"` // analyzed|cached|failed|skipped
}

// Health is graph.Health plus the derived rate and score.
type Health struct {
	graph.Health
	OrphanRate float64 `json:"orphan_rate"`
	Score      float64 `json:"score"`
}

// Issue is one actionable problem.
type Issue struct {
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Message   string   `json:"message"`
}

// Coverage counts how the component set was handled.
type Coverage struct {
	Total    int `json:"total"`
	Analyzed int `json:"analyzed"`
	Cached   int `json:"cached"`
	Failed   int `json:"failed"`
}

// Report is the synthesized run output. It holds no timestamps, so equal
// inputs give byte-identical reports.
type Report struct {
	RunID          string           `json:"run_id"`
	Target         string           `json:"target"`
	Mode           string           `json:"mode"`
	CompositeScore float64          `json:"composite_score"`
	Verdict        analyzer.Verdict `json:"verdict"`
	Components     []Row            `json:"components"`
	Graph          Health           `json:"graph"`
	Issues         []Issue          `json:"issues"`
	Incomplete     []string         `json:"incomplete"`
	Coverage       Coverage         `json:"coverage"`
}

// Build assembles the report.
func Build(in Input) *Report {
	failures := make(map[string]Failure, len(in.Failures))
	for _, f := range in.Failures {
		failures[f.ID] = f
	}

	components := make([]component.Component, len(in.Components))
	copy(components, in.Components)
	component.Sort(components)

	r := &Report{
		RunID:      in.RunID,
		Target:     in.Target,
		Mode:       in.Mode,
		Components: make([]Row, 0, len(components)),
		Issues:     []Issue{},
		Incomplete: []string{},
		Coverage:   Coverage{Total: len(components)},
	}

	var sum float64
	scored := 0
	for _, c := range components {
		row := Row{ID: c.ID, Kind: c.Kind, Path: c.Path, Findings: []string{}}
		if res, ok := in.Results[c.ID]; ok {
			score := res.Score
			row.Score = &score
			row.Verdict = res.Verdict
			if res.Findings != nil {
				row.Findings = res.Findings
			}
			if in.Cached[c.ID] {
				row.Source = "cached"
				r.Coverage.Cached++
			} else {
				row.Source = "analyzed"
				r.Coverage.Analyzed++
			}
			sum += score
			scored++
			if res.Verdict == analyzer.Poor {
				r.Issues = append(r.Issues, Issue{Severity: SeverityWarning, Component: c.ID, Message: fmt.Sprintf("scored %.2f (poor)", score)})
			}
		} else if f, ok := failures[c.ID]; ok {
			row.Source = "failed"
			row.Findings = []string{f.Reason}
		} else {
			row.Source = "skipped"
		}
		r.Components = append(r.Components, row)
	}

	for _, f := range in.Failures {
		r.Coverage.Failed++
		r.Incomplete = append(r.Incomplete, fmt.Sprintf("incomplete: %s (%s: %s)", f.ID, f.Status, f.Reason))
		r.Issues = append(r.Issues, Issue{Severity: SeverityError, Component: f.ID, Message: fmt.Sprintf("analysis %s: %s", f.Status, f.Reason)})
	}
	sort.Strings(r.Incomplete)

	r.Graph = healthOf(in.Health)
	r.Issues = append(r.Issues, graphIssues(in.Health)...)
	sortIssues(r.Issues)

	if scored == 0 {
		r.CompositeScore = r.Graph.Score
	} else {
		mean := sum / float64(scored)
		r.CompositeScore = analyzer.ClampScore(componentWeight*mean + graphWeight*r.Graph.Score)
	}
	r.Verdict = analyzer.VerdictFor(r.CompositeScore)
	return r
}

func healthOf(h graph.Health) Health {
	if h.Cycles == nil {
		h.Cycles = [][]string{}
	}
	if h.Orphans == nil {
		h.Orphans = []string{}
	}
	if h.Unreachable == nil {
		h.Unreachable = []string{}
	}
	if h.BrokenLinks == nil {
		h.BrokenLinks = []graph.Edge{}
	}
	out := Health{Health: h}
	if h.Nodes > 0 {
		out.OrphanRate = roundRate(float64(len(h.Orphans)) / float64(h.Nodes))
	}
	out.Score = HealthScore(len(h.Cycles), len(h.BrokenLinks), out.OrphanRate)
	return out
}

// HealthScore is 10 - 2*cycles - broken - 10*orphanRate, clamped to 0..10.
func HealthScore(cycles, broken int, orphanRate float64) float64 {
	return analyzer.ClampScore(10 - 2*float64(cycles) - float64(broken) - 10*orphanRate)
}

func roundRate(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

func graphIssues(h graph.Health) []Issue {
	var out []Issue
	for _, cycle := range h.Cycles {
		if len(cycle) == 0 {
			continue
		}
		path := append(append([]string{}, cycle...), cycle[0])
		out = append(out, Issue{Severity: SeverityError, Component: cycle[0], Message: "dependency cycle " + strings.Join(path, " -> ")})
	}
	for _, edge := range h.BrokenLinks {
		msg := fmt.Sprintf("broken %s link to %s", edge.Kind, edge.To)
		if edge.Evidence != "" {
			msg += " (" + edge.Evidence + ")"
		}
		out = append(out, Issue{Severity: SeverityWarning, Component: edge.From, Message: msg})
	}
	orphans := make(map[string]bool, len(h.Orphans))
	for _, id := range h.Orphans {
		orphans[id] = true
		out = append(out, Issue{Severity: SeverityWarning, Component: id, Message: "orphan: nothing references it and it is not an entry point"})
	}
	for _, id := range h.Unreachable {
		if orphans[id] {
			continue
		}
		out = append(out, Issue{Severity: SeverityInfo, Component: id, Message: "not reachable from any entry point"})
	}
	return out
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		return a.Message < b.Message
	})
}

// Failed reports whether any unit failed.
func (r *Report) Failed() bool {
	return r != nil && len(r.Incomplete) > 0
}

// Row returns the row for id.
func (r *Report) Row(id string) (Row, bool) {
	i := sort.Search(len(r.Components), func(i int) bool { return r.Components[i].ID >= id })
	if i < len(r.Components) && r.Components[i].ID == id {
		return r.Components[i], true
	}
	return Row{}, false
}
