package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/extract"
	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/graph"
	"github.com/morozRed/cfgaudit/internal/pipeline"
	"github.com/morozRed/cfgaudit/internal/search"
)

const graphHubs = 5

type GraphSummary struct {
	Mode   string             `json:"mode"`
	Health graph.Health       `json:"health"`
	Edges  []graph.Edge       `json:"edges,omitempty"`
	Issues []graph.BuildIssue `json:"issues,omitempty"`
}

type DepsSummary struct {
	Mode         string       `json:"mode"`
	Component    string       `json:"component"`
	Dependencies []graph.Edge `json:"dependencies"`
	Dependents   []graph.Edge `json:"dependents"`
	PathTo       string       `json:"path_to,omitempty"`
	Path         []string     `json:"path,omitempty"`
}

// loadGraph discovers components and builds the dependency graph without
// running any analyzer.
func loadGraph(cmd *cobra.Command) (*config.Config, *graph.Graph, []graph.BuildIssue, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	settings := pipeline.SettingsFrom(cfg)
	components, err := component.Scan(component.ScanOptions{
		Roots:   settings.Roots,
		Layout:  settings.Layout,
		Exclude: settings.Exclude,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	g, issues := graph.BuildWithOptions(components, graph.Options{
		Extractors: extract.NewDefaultRegistry(settings.Layout).Extractors(),
		Reader:     component.FSReader{},
		EntryKinds: settings.EntryKinds,
	})
	return cfg, g, issues, nil
}

// RunGraph prints graph health: cycles, orphans, depth, broken links and hubs.
func RunGraph(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	withEdges, err := OptionalBoolFlag(cmd, "edges", false)
	if err != nil {
		return err
	}
	asJSONL, err := OptionalBoolFlag(cmd, "jsonl", false)
	if err != nil {
		return err
	}
	cfg, g, issues, err := loadGraph(cmd)
	if err != nil {
		return err
	}

	// One edge per line, for piping into jq or a graph tool.
	if asJSONL {
		data, err := fileutil.EncodeJSONL(g.Edges())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	summary := GraphSummary{Mode: "graph", Health: g.Health(cfg.EntryKinds(), graphHubs), Issues: issues}
	if withEdges {
		summary.Edges = g.Edges()
	}
	if asJSON {
		return fileutil.PrintJSON(os.Stdout, summary)
	}

	h := summary.Health
	fmt.Printf("graph: nodes=%d edges=%d cycles=%d orphans=%d unreachable=%d broken=%d max_depth=%d\n",
		h.Nodes, h.Edges, len(h.Cycles), len(h.Orphans), len(h.Unreachable), len(h.BrokenLinks), h.MaxDepth)
	for _, cycle := range h.Cycles {
		fmt.Printf("cycle: %s -> %s\n", strings.Join(cycle, " -> "), cycle[0])
	}
	if len(h.Orphans) > 0 {
		fmt.Printf("orphans (%d): %s\n", len(h.Orphans), SummarizePaths(h.Orphans, 8))
	}
	if len(h.Unreachable) > 0 {
		fmt.Printf("unreachable (%d): %s\n", len(h.Unreachable), SummarizePaths(h.Unreachable, 8))
	}
	for _, edge := range h.BrokenLinks {
		fmt.Printf("broken: %s -> %s (%s)\n", edge.From, edge.To, edge.Evidence)
	}
	for _, hub := range h.Hubs {
		fmt.Printf("hub: %s in=%d rank=%.4f\n", hub.ID, hub.InDegree, hub.PageRank)
	}
	for _, edge := range summary.Edges {
		fmt.Printf("edge: %s -%s-> %s\n", edge.From, edge.Kind, edge.To)
	}
	for _, issue := range issues {
		fmt.Fprintf(os.Stderr, "[warning] %s: %s\n", issue.Component, issue.Message)
	}
	return nil
}

// RunDeps lists a component's dependencies and dependents, or the shortest
// path to another component with --path.
func RunDeps(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("deps requires a component id")
	}
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	to, err := OptionalStringFlag(cmd, "path")
	if err != nil {
		return err
	}
	_, g, _, err := loadGraph(cmd)
	if err != nil {
		return err
	}

	id, err := lookupComponent(g, args[0])
	if err != nil {
		return err
	}
	summary := DepsSummary{
		Mode:         "deps",
		Component:    id,
		Dependencies: g.Dependencies(id),
		Dependents:   g.Dependents(id),
	}
	if to != "" {
		toID, err := lookupComponent(g, to)
		if err != nil {
			return err
		}
		summary.PathTo = toID
		summary.Path = g.ShortestPath(id, toID)
	}
	if asJSON {
		return fileutil.PrintJSON(os.Stdout, summary)
	}

	fmt.Printf("%s\n", id)
	fmt.Printf("dependencies (%d):\n", len(summary.Dependencies))
	for _, edge := range summary.Dependencies {
		marker := ""
		if edge.Unresolved {
			marker = " [broken]"
		}
		fmt.Printf("  -%s-> %s%s\n", edge.Kind, edge.To, marker)
	}
	fmt.Printf("dependents (%d):\n", len(summary.Dependents))
	for _, edge := range summary.Dependents {
		fmt.Printf("  <-%s- %s\n", edge.Kind, edge.From)
	}
	if summary.PathTo != "" {
		if len(summary.Path) == 0 {
			fmt.Printf("path: no path from %s to %s\n", id, summary.PathTo)
		} else {
			fmt.Printf("path: %s\n", strings.Join(summary.Path, " -> "))
		}
	}
	return nil
}

func lookupComponent(g *graph.Graph, query string) (string, error) {
	if id, ok := g.Lookup(query); ok {
		return id, nil
	}
	if suggestions := search.Suggest(g.Components(), query, 3); len(suggestions) > 0 {
		return "", fmt.Errorf("component %q not found or ambiguous (did you mean: %s)", query, strings.Join(suggestions, ", "))
	}
	return "", fmt.Errorf("component %q not found or ambiguous", query)
}
