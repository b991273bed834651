package graph

import (
	"sort"
	"strings"
)

// Dependencies returns the edges leaving id, including unresolved ones.
func (g *Graph) Dependencies(id string) []Edge {
	out := make([]Edge, 0)
	for _, edge := range g.edges {
		if edge.From == id {
			out = append(out, edge)
		}
	}
	return out
}

// Dependents returns the resolved edges arriving at id.
func (g *Graph) Dependents(id string) []Edge {
	out := make([]Edge, 0)
	for _, edge := range g.edges {
		if edge.To == id && !edge.Unresolved {
			out = append(out, edge)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].From < out[j].From
	})
	return out
}

// Lookup resolves a user-supplied id or bare name to a node id.
func (g *Graph) Lookup(query string) (string, bool) {
	query = strings.TrimSpace(query)
	if _, ok := g.Nodes[query]; ok {
		return query, true
	}
	match := ""
	for _, id := range g.SortedIDs() {
		if idx := strings.Index(id, ":"); idx >= 0 && strings.EqualFold(id[idx+1:], query) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}

// ShortestPath finds the fewest-hops chain from fromID to toID over resolved
// edges, or nil when none exists.
func (g *Graph) ShortestPath(fromID, toID string) []string {
	if _, ok := g.Nodes[fromID]; !ok {
		return nil
	}
	if fromID == toID {
		return []string{fromID}
	}

	queue := []string{fromID}
	visited := map[string]bool{fromID: true}
	parent := map[string]string{}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node := g.Nodes[current]
		if node == nil {
			continue
		}
		for _, nextID := range node.OutEdges {
			if visited[nextID] {
				continue
			}
			visited[nextID] = true
			parent[nextID] = current
			if nextID == toID {
				return reconstructPath(parent, fromID, toID)
			}
			queue = append(queue, nextID)
		}
	}
	return nil
}

func reconstructPath(parent map[string]string, fromID, toID string) []string {
	out := []string{toID}
	for current := toID; current != fromID; {
		prev, ok := parent[current]
		if !ok {
			return nil
		}
		out = append(out, prev)
		current = prev
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
