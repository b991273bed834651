package component

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a component.
type Kind string

const (
	Command   Kind = "command"
	Agent     Kind = "agent"
	Skill     Kind = "skill"
	Hook      Kind = "hook"
	MCPServer Kind = "mcp"
)

// AllKinds returns every kind in discovery order.
func AllKinds() []Kind {
	return []Kind{Command, Agent, Skill, Hook, MCPServer}
}

// ParseKind accepts singular, plural and a few common spellings.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "command", "commands", "cmd":
		return Command, nil
	case "agent", "agents":
		return Agent, nil
	case "skill", "skills":
		return Skill, nil
	case "hook", "hooks":
		return Hook, nil
	case "mcp", "mcps", "mcp-server", "mcpserver", "mcp-servers":
		return MCPServer, nil
	}
	return "", fmt.Errorf("unsupported component kind %q (supported: command, agent, skill, hook, mcp)", raw)
}

// ParseKinds parses and dedupes a list of kinds, preserving AllKinds order.
func ParseKinds(raw []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(raw))
	for _, chunk := range raw {
		for _, value := range strings.Split(chunk, ",") {
			if strings.TrimSpace(value) == "" {
				continue
			}
			kind, err := ParseKind(value)
			if err != nil {
				return nil, err
			}
			seen[kind] = true
		}
	}
	out := make([]Kind, 0, len(seen))
	for _, kind := range AllKinds() {
		if seen[kind] {
			out = append(out, kind)
		}
	}
	return out, nil
}

// Component is one discoverable configuration unit. Components are rebuilt on
// every discovery pass and never mutated afterwards.
type Component struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Root         string    `json:"root"`
	Files        []string  `json:"files,omitempty"`
	Primary      string    `json:"primary,omitempty"`
	ContentHash  string    `json:"content_hash"`
	LastModified time.Time `json:"last_modified"`
}

// ID builds the stable "<kind>:<name>" identifier.
func ID(kind Kind, name string) string {
	return string(kind) + ":" + name
}

// SplitID is the inverse of ID. ok is false for malformed ids.
func SplitID(id string) (kind Kind, name string, ok bool) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return Kind(id[:idx]), id[idx+1:], true
}

// IsVirtual reports whether the component has no file of its own.
func (c Component) IsVirtual() bool {
	return strings.Contains(c.Path, "#")
}

// Index maps components by id.
func Index(components []Component) map[string]Component {
	out := make(map[string]Component, len(components))
	for _, c := range components {
		out[c.ID] = c
	}
	return out
}

// IDs returns the sorted ids of components.
func IDs(components []Component) []string {
	out := make([]string, 0, len(components))
	for _, c := range components {
		out = append(out, c.ID)
	}
	sort.Strings(out)
	return out
}

// Hashes maps id to content hash.
func Hashes(components []Component) map[string]string {
	out := make(map[string]string, len(components))
	for _, c := range components {
		out[c.ID] = c.ContentHash
	}
	return out
}

// Sort orders components by id in place.
func Sort(components []Component) {
	sort.Slice(components, func(i, j int) bool {
		return components[i].ID < components[j].ID
	})
}

// Scope narrows a run to some kinds and/or explicit ids. The zero value
// selects everything.
type Scope struct {
	Kinds []Kind   `json:"kinds,omitempty"`
	IDs   []string `json:"ids,omitempty"`
}

// Explicit reports whether the caller asked for a specific subset.
func (s Scope) Explicit() bool {
	return len(s.Kinds) > 0 || len(s.IDs) > 0
}

func (s Scope) Contains(c Component) bool {
	if len(s.Kinds) > 0 {
		match := false
		for _, kind := range s.Kinds {
			if kind == c.Kind {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(s.IDs) > 0 {
		for _, id := range s.IDs {
			if id == c.ID || id == c.Name {
				return true
			}
		}
		return false
	}
	return true
}

// Filter returns the components inside s, preserving order.
func (s Scope) Filter(components []Component) []Component {
	if !s.Explicit() {
		return components
	}
	out := make([]Component, 0, len(components))
	for _, c := range components {
		if s.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}
