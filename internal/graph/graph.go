package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
)

// EdgeKind describes how one component depends on another.
type EdgeKind string

const (
	Invokes    EdgeKind = "invokes"
	References EdgeKind = "references"
	Delegates  EdgeKind = "delegates"
	Integrates EdgeKind = "integrates"
)

// Reference is a raw, unresolved dependency found by an extractor. An empty
// TargetKind means the extractor only knows the target's name.
type Reference struct {
	TargetKind component.Kind `json:"target_kind,omitempty"`
	Target     string         `json:"target"`
	Kind       EdgeKind       `json:"kind"`
	Evidence   string         `json:"evidence"`
}

// Extractor scans one component's content for references.
type Extractor interface {
	Name() string
	Extract(c component.Component, content []byte) ([]Reference, error)
}

// Edge is a resolved (or flagged unresolved) reference between components.
type Edge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Kind       EdgeKind `json:"kind"`
	Evidence   string   `json:"evidence"`
	Confidence string   `json:"confidence,omitempty"` // resolved|heuristic
	Unresolved bool     `json:"unresolved,omitempty"`
}

// Node is one component in the graph. OutEdges/InEdges hold resolved
// neighbour ids only, deduplicated and sorted.
type Node struct {
	ID       string
	Kind     component.Kind
	OutEdges []string
	InEdges  []string
	PageRank float64
}

// BuildIssue records a component whose edges could not be extracted.
type BuildIssue struct {
	Component string `json:"component"`
	Extractor string `json:"extractor,omitempty"`
	Err       error  `json:"-"`
	Message   string `json:"message"`
}

// Graph is the component dependency graph. It is read-only once built and
// safe for concurrent readers.
type Graph struct {
	Nodes map[string]*Node

	components []component.Component
	edges      []Edge
	refs       map[string][]Reference
	entryKinds map[component.Kind]bool
}

// Options configures Build.
type Options struct {
	Extractors []Extractor
	Reader     component.Reader
	// EntryKinds seeds cycle search, so back edges point at entry points.
	EntryKinds []component.Kind
	// Previous holds raw references from an earlier build. Components not in
	// Changed reuse them instead of being re-extracted.
	Previous map[string][]Reference
	Changed  map[string]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:      make(map[string]*Node),
		refs:       make(map[string][]Reference),
		entryKinds: make(map[component.Kind]bool),
	}
}

// Build extracts references from every component and resolves them.
func Build(components []component.Component, extractors []Extractor, reader component.Reader, entryKinds []component.Kind) (*Graph, []BuildIssue) {
	return BuildWithOptions(components, Options{Extractors: extractors, Reader: reader, EntryKinds: entryKinds})
}

// BuildIncremental re-extracts only changed components and reuses previous
// references for the rest. Resolution always runs against the full set, so
// added or deleted targets are reflected everywhere.
func BuildIncremental(components []component.Component, opts Options) (*Graph, []BuildIssue) {
	if opts.Changed == nil {
		opts.Changed = map[string]bool{}
	}
	return BuildWithOptions(components, opts)
}

func BuildWithOptions(components []component.Component, opts Options) (*Graph, []BuildIssue) {
	g := NewGraph()
	g.components = components
	for _, kind := range opts.EntryKinds {
		g.entryKinds[kind] = true
	}
	reader := opts.Reader
	if reader == nil {
		reader = component.FSReader{}
	}

	ordered := make([]component.Component, len(components))
	copy(ordered, components)
	component.Sort(ordered)

	for _, c := range ordered {
		g.Nodes[c.ID] = &Node{ID: c.ID, Kind: c.Kind, OutEdges: []string{}, InEdges: []string{}}
	}

	issues := make([]BuildIssue, 0)
	for _, c := range ordered {
		if opts.Previous != nil && opts.Changed != nil && !opts.Changed[c.ID] {
			if prev, ok := opts.Previous[c.ID]; ok {
				g.refs[c.ID] = prev
				continue
			}
		}
		refs, compIssues := extractAll(c, opts.Extractors, reader)
		g.refs[c.ID] = refs
		issues = append(issues, compIssues...)
	}

	lookup := newNameLookup(ordered)
	for _, c := range ordered {
		for _, ref := range g.refs[c.ID] {
			g.edges = append(g.edges, lookup.resolve(c.ID, ref))
		}
	}
	g.normalizeEdges()
	g.calculatePageRank(20, 0.85)
	return g, issues
}

func extractAll(c component.Component, extractors []Extractor, reader component.Reader) ([]Reference, []BuildIssue) {
	if len(extractors) == 0 {
		return []Reference{}, nil
	}
	content, err := reader.Read(c)
	if err != nil {
		return []Reference{}, []BuildIssue{{
			Component: c.ID,
			Err:       errs.Wrap(errs.GraphBuild, err, "content unreadable during extraction").ForComponent(c.ID),
			Message:   fmt.Sprintf("content unreadable during extraction: %v", err),
		}}
	}

	refs := make([]Reference, 0)
	var issues []BuildIssue
	for _, ex := range extractors {
		found, err := ex.Extract(c, content)
		if err != nil {
			issues = append(issues, BuildIssue{
				Component: c.ID,
				Extractor: ex.Name(),
				Err:       errs.Wrap(errs.GraphBuild, err, ex.Name()+" extractor failed").ForComponent(c.ID),
				Message:   err.Error(),
			})
			continue
		}
		refs = append(refs, found...)
	}
	sortReferences(refs)
	return refs, issues
}

func sortReferences(refs []Reference) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.TargetKind != b.TargetKind {
			return a.TargetKind < b.TargetKind
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Evidence < b.Evidence
	})
}

type nameLookup struct {
	ids    map[string]bool
	byName map[string][]string
}

func newNameLookup(components []component.Component) nameLookup {
	l := nameLookup{ids: make(map[string]bool, len(components)), byName: make(map[string][]string)}
	for _, c := range components {
		l.ids[c.ID] = true
		key := strings.ToLower(c.Name)
		l.byName[key] = append(l.byName[key], c.ID)
	}
	return l
}

// resolve maps a reference to an edge. Kind-qualified targets must match
// exactly; bare names resolve only when exactly one component carries them.
func (l nameLookup) resolve(from string, ref Reference) Edge {
	edge := Edge{From: from, Kind: ref.Kind, Evidence: ref.Evidence}
	name := strings.TrimSpace(ref.Target)

	if ref.TargetKind != "" {
		edge.To = component.ID(ref.TargetKind, name)
		if l.ids[edge.To] {
			edge.Confidence = "resolved"
			return edge
		}
		// Names are case-insensitive on most setups; accept a unique fold match.
		for _, id := range l.byName[strings.ToLower(name)] {
			if kind, _, _ := component.SplitID(id); kind == ref.TargetKind {
				edge.To = id
				edge.Confidence = "heuristic"
				return edge
			}
		}
		edge.Unresolved = true
		return edge
	}

	candidates := dedupeAndSort(l.byName[strings.ToLower(name)])
	if len(candidates) == 1 {
		edge.To = candidates[0]
		edge.Confidence = "heuristic"
		return edge
	}
	edge.To = "?:" + name
	edge.Unresolved = true
	return edge
}

// normalizeEdges sorts by (from, to, kind), drops duplicates keeping the
// first evidence, and rebuilds node adjacency from resolved edges.
func (g *Graph) normalizeEdges() {
	sort.SliceStable(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Evidence < b.Evidence
	})

	out := make([]Edge, 0, len(g.edges))
	for i, edge := range g.edges {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.From == edge.From && prev.To == edge.To && prev.Kind == edge.Kind {
				continue
			}
		}
		out = append(out, edge)
	}
	g.edges = out

	for _, node := range g.Nodes {
		node.OutEdges = node.OutEdges[:0]
		node.InEdges = node.InEdges[:0]
	}
	for _, edge := range g.edges {
		if edge.Unresolved {
			continue
		}
		src, ok := g.Nodes[edge.From]
		if !ok {
			continue
		}
		dst, ok := g.Nodes[edge.To]
		if !ok {
			continue
		}
		src.OutEdges = append(src.OutEdges, edge.To)
		dst.InEdges = append(dst.InEdges, edge.From)
	}
	for _, node := range g.Nodes {
		node.OutEdges = dedupeAndSort(node.OutEdges)
		node.InEdges = dedupeAndSort(node.InEdges)
	}
}

// Edges returns all edges sorted by (from, to, kind).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Components returns the component set the graph was built from.
func (g *Graph) Components() []component.Component {
	return g.components
}

// References returns the raw references recorded for id, for caching.
func (g *Graph) References(id string) []Reference {
	return g.refs[id]
}

// AllReferences returns a copy of the raw reference map.
func (g *Graph) AllReferences() map[string][]Reference {
	out := make(map[string][]Reference, len(g.refs))
	for id, refs := range g.refs {
		out[id] = refs
	}
	return out
}

// SortedIDs returns node ids in ascending order.
func (g *Graph) SortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// calculatePageRank scores nodes by how much of the graph leans on them.
func (g *Graph) calculatePageRank(iterations int, dampingFactor float64) {
	n := float64(len(g.Nodes))
	if n == 0 {
		return
	}
	for _, node := range g.Nodes {
		node.PageRank = 1.0 / n
	}

	ids := g.SortedIDs()
	for i := 0; i < iterations; i++ {
		next := make(map[string]float64, len(ids))
		for _, id := range ids {
			node := g.Nodes[id]
			rank := (1 - dampingFactor) / n
			for _, inID := range node.InEdges {
				if inNode, ok := g.Nodes[inID]; ok {
					if outDegree := float64(len(inNode.OutEdges)); outDegree > 0 {
						rank += dampingFactor * (inNode.PageRank / outDegree)
					}
				}
			}
			next[id] = rank
		}
		for id, rank := range next {
			g.Nodes[id].PageRank = rank
		}
	}
}

// TopNodes returns up to n nodes with incoming edges, by PageRank.
func (g *Graph) TopNodes(n int) []*Node {
	nodes := make([]*Node, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		if len(node.InEdges) == 0 {
			continue
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].PageRank == nodes[j].PageRank {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].PageRank > nodes[j].PageRank
	})
	if n > len(nodes) {
		n = len(nodes)
	}
	return nodes[:n]
}

func dedupeAndSort(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
