package graph

import (
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
)

type dfsColor uint8

const (
	white dfsColor = iota
	gray
	black
)

type dfsFrame struct {
	id   string
	next int
}

type edgeKey struct {
	from, to string
}

// DetectCycles reports every loop found as a back edge during an iterative
// depth-first search. Each cycle starts at its smallest id; self-loops are
// one-element cycles.
func (g *Graph) DetectCycles() [][]string {
	cycles, _ := g.searchCycles()
	return cycles
}

// searchCycles runs the DFS with an explicit frame stack. Roots are visited
// entry-point kinds first, then everything else, both in id order.
func (g *Graph) searchCycles() ([][]string, map[edgeKey]bool) {
	color := make(map[string]dfsColor, len(g.Nodes))
	stackPos := make(map[string]int, len(g.Nodes))
	backEdges := make(map[edgeKey]bool)
	seen := make(map[string]bool)
	cycles := make([][]string, 0)

	for _, root := range g.dfsRoots() {
		if color[root] != white {
			continue
		}
		stack := []dfsFrame{{id: root}}
		path := []string{root}
		color[root] = gray
		stackPos[root] = 0

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			out := g.Nodes[top.id].OutEdges
			if top.next < len(out) {
				nextID := out[top.next]
				top.next++
				switch color[nextID] {
				case gray:
					backEdges[edgeKey{from: top.id, to: nextID}] = true
					cycle := canonicalCycle(path[stackPos[nextID]:])
					key := strings.Join(cycle, "\x00")
					if !seen[key] {
						seen[key] = true
						cycles = append(cycles, cycle)
					}
				case white:
					color[nextID] = gray
					stackPos[nextID] = len(path)
					stack = append(stack, dfsFrame{id: nextID})
					path = append(path, nextID)
				}
				continue
			}
			color[top.id] = black
			delete(stackPos, top.id)
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i], "\x00") < strings.Join(cycles[j], "\x00")
	})
	return cycles, backEdges
}

func (g *Graph) dfsRoots() []string {
	ids := g.SortedIDs()
	roots := make([]string, 0, len(ids))
	for _, id := range ids {
		if g.entryKinds[g.Nodes[id].Kind] {
			roots = append(roots, id)
		}
	}
	for _, id := range ids {
		if !g.entryKinds[g.Nodes[id].Kind] {
			roots = append(roots, id)
		}
	}
	return roots
}

// canonicalCycle rotates a loop so its smallest id comes first.
func canonicalCycle(loop []string) []string {
	out := make([]string, len(loop))
	minIdx := 0
	for i, id := range loop {
		if id < loop[minIdx] {
			minIdx = i
		}
	}
	for i := range loop {
		out[i] = loop[(minIdx+i)%len(loop)]
	}
	return out
}

// DetectOrphans returns non-entry-point components nothing else references.
func (g *Graph) DetectOrphans(entryKinds []component.Kind) []string {
	entry := kindSet(entryKinds)
	out := make([]string, 0)
	for _, id := range g.SortedIDs() {
		node := g.Nodes[id]
		if entry[node.Kind] {
			continue
		}
		incoming := 0
		for _, from := range node.InEdges {
			if from != id {
				incoming++
			}
		}
		if incoming == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Unreachable returns non-entry-point components that no entry point reaches
// through any chain of edges. Orphans are a subset.
func (g *Graph) Unreachable(entryKinds []component.Kind) []string {
	entry := kindSet(entryKinds)
	visited := make(map[string]bool, len(g.Nodes))
	queue := make([]string, 0)
	for _, id := range g.SortedIDs() {
		if entry[g.Nodes[id].Kind] {
			visited[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.Nodes[current].OutEdges {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	out := make([]string, 0)
	for _, id := range g.SortedIDs() {
		if !visited[id] {
			out = append(out, id)
		}
	}
	return out
}

// MaxDepth returns the longest chain, in edges, that starts at a component of
// one of fromKinds. Back edges found by cycle search are dropped first, so
// the result is always finite.
func (g *Graph) MaxDepth(fromKinds []component.Kind) int {
	from := kindSet(fromKinds)
	_, back := g.searchCycles()

	indegree := make(map[string]int, len(g.Nodes))
	for _, id := range g.SortedIDs() {
		for _, next := range g.Nodes[id].OutEdges {
			if back[edgeKey{from: id, to: next}] {
				continue
			}
			indegree[next]++
		}
	}

	queue := make([]string, 0)
	for _, id := range g.SortedIDs() {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, next := range g.Nodes[current].OutEdges {
			if back[edgeKey{from: current, to: next}] {
				continue
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	dist := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		if from[node.Kind] {
			dist[id] = 0
		} else {
			dist[id] = -1
		}
	}
	best := 0
	for _, current := range order {
		if dist[current] < 0 {
			continue
		}
		for _, next := range g.Nodes[current].OutEdges {
			if back[edgeKey{from: current, to: next}] {
				continue
			}
			if d := dist[current] + 1; d > dist[next] {
				dist[next] = d
				if d > best {
					best = d
				}
			}
		}
	}
	return best
}

// BrokenLinks returns edges whose target did not resolve.
func (g *Graph) BrokenLinks() []Edge {
	out := make([]Edge, 0)
	for _, edge := range g.edges {
		if edge.Unresolved {
			out = append(out, edge)
		}
	}
	return out
}

// Hub is a heavily referenced component.
type Hub struct {
	ID       string  `json:"id"`
	InDegree int     `json:"in_degree"`
	PageRank float64 `json:"page_rank"`
}

// Health is the derived structural summary of the graph.
type Health struct {
	Nodes       int        `json:"nodes"`
	Edges       int        `json:"edges"`
	Cycles      [][]string `json:"cycles"`
	Orphans     []string   `json:"orphans"`
	Unreachable []string   `json:"unreachable"`
	MaxDepth    int        `json:"max_depth"`
	BrokenLinks []Edge     `json:"broken_links"`
	Hubs        []Hub      `json:"hubs,omitempty"`
}

// Health computes every metric from the current node and edge sets.
func (g *Graph) Health(entryKinds []component.Kind, hubs int) Health {
	h := Health{
		Nodes:       len(g.Nodes),
		Edges:       len(g.edges),
		Cycles:      g.DetectCycles(),
		Orphans:     g.DetectOrphans(entryKinds),
		Unreachable: g.Unreachable(entryKinds),
		MaxDepth:    g.MaxDepth(entryKinds),
		BrokenLinks: g.BrokenLinks(),
	}
	for _, node := range g.TopNodes(hubs) {
		h.Hubs = append(h.Hubs, Hub{ID: node.ID, InDegree: len(node.InEdges), PageRank: roundRank(node.PageRank)})
	}
	return h
}

func roundRank(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

func kindSet(kinds []component.Kind) map[component.Kind]bool {
	out := make(map[component.Kind]bool, len(kinds))
	for _, kind := range kinds {
		out[kind] = true
	}
	return out
}
