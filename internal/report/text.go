package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

var (
	colorGood  = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorBad   = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#6C7A89")
)

type styles struct {
	title, bold, muted, good, warn, bad lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(colorGood),
		bold:  lipgloss.NewStyle().Bold(true),
		muted: lipgloss.NewStyle().Foreground(colorMuted),
		good:  lipgloss.NewStyle().Foreground(colorGood),
		warn:  lipgloss.NewStyle().Foreground(colorWarn),
		bad:   lipgloss.NewStyle().Foreground(colorBad),
	}
}

func (s styles) verdict(v analyzer.Verdict) lipgloss.Style {
	switch v {
	case analyzer.Excellent, analyzer.Good:
		return s.good
	case analyzer.Fair:
		return s.warn
	default:
		return s.bad
	}
}

func (s styles) severity(sev synthesis.Severity) lipgloss.Style {
	switch sev {
	case synthesis.SeverityError:
		return s.bad
	case synthesis.SeverityWarning:
		return s.warn
	default:
		return s.muted
	}
}

// TextWriter renders a terminal summary.
type TextWriter struct {
	Out   io.Writer
	Color bool
	// MaxIssues caps the issue list; zero prints all.
	MaxIssues int
	// Verbose also prints per-component findings.
	Verbose bool
}

func (w *TextWriter) Write(_ context.Context, r *synthesis.Report) error {
	_, err := io.WriteString(w.Out, w.Render(r))
	return err
}

// Render returns the text the writer would print.
func (w *TextWriter) Render(r *synthesis.Report) string {
	s := newStyles(w.Color)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.title.Render("cfgaudit report"), s.muted.Render(fmt.Sprintf("run %s mode=%s target=%s", r.RunID, r.Mode, r.Target)))
	fmt.Fprintf(&b, "composite: %s %s\n",
		s.bold.Render(fmt.Sprintf("%.2f", r.CompositeScore)),
		s.verdict(r.Verdict).Render(string(r.Verdict)))
	c := r.Coverage
	fmt.Fprintf(&b, "components: total=%d analyzed=%d cached=%d failed=%d\n", c.Total, c.Analyzed, c.Cached, c.Failed)

	g := r.Graph
	fmt.Fprintf(&b, "graph: nodes=%d edges=%d cycles=%d orphans=%d unreachable=%d broken=%d max_depth=%d health=%.2f\n",
		g.Nodes, g.Edges, len(g.Cycles), len(g.Orphans), len(g.Unreachable), len(g.BrokenLinks), g.MaxDepth, g.Score)
	if len(g.Hubs) > 0 {
		hubs := make([]string, 0, len(g.Hubs))
		for _, h := range g.Hubs {
			hubs = append(hubs, fmt.Sprintf("%s(%d)", h.ID, h.InDegree))
		}
		fmt.Fprintf(&b, "hubs: %s\n", strings.Join(hubs, ", "))
	}

	if len(r.Components) > 0 {
		width := 0
		for _, row := range r.Components {
			width = max(width, len(row.ID))
		}
		b.WriteString("\n")
		for _, row := range r.Components {
			id := fmt.Sprintf("%-*s", width, row.ID)
			switch {
			case row.Score != nil:
				fmt.Fprintf(&b, "  %s %5.2f %s", id, *row.Score, s.verdict(row.Verdict).Render(string(row.Verdict)))
				if row.Source == "cached" {
					b.WriteString(s.muted.Render(" (cached)"))
				}
			default:
				fmt.Fprintf(&b, "  %s %s", id, s.bad.Render(row.Source))
			}
			b.WriteString("\n")
			if w.Verbose && row.Score != nil {
				for _, f := range row.Findings {
					fmt.Fprintf(&b, "      %s\n", s.muted.Render(f))
				}
			}
		}
	}

	if len(r.Issues) > 0 {
		issues := r.Issues
		if w.MaxIssues > 0 && len(issues) > w.MaxIssues {
			issues = issues[:w.MaxIssues]
		}
		fmt.Fprintf(&b, "\nissues (%d):\n", len(r.Issues))
		for _, issue := range issues {
			fmt.Fprintf(&b, "  %s %s %s\n", s.severity(issue.Severity).Render(fmt.Sprintf("%-7s", issue.Severity)), issue.Component, issue.Message)
		}
		if len(issues) < len(r.Issues) {
			fmt.Fprintf(&b, "  %s\n", s.muted.Render(fmt.Sprintf("... (+%d more)", len(r.Issues)-len(issues))))
		}
	}

	for _, line := range r.Incomplete {
		fmt.Fprintf(&b, "%s\n", s.bad.Render(line))
	}
	return b.String()
}
