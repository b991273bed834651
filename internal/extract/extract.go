package extract

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/graph"
)

const maxEvidence = 96

// Registry holds extractors and the component kinds each one applies to.
type Registry struct {
	entries []entry
}

type entry struct {
	extractor graph.Extractor
	kinds     map[component.Kind]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an extractor for the given kinds. No kinds means every kind.
func (r *Registry) Register(ex graph.Extractor, kinds ...component.Kind) {
	set := make(map[component.Kind]bool, len(kinds))
	for _, kind := range kinds {
		set[kind] = true
	}
	r.entries = append(r.entries, entry{extractor: ex, kinds: set})
}

// Extractors returns the registered extractors, each restricted to its kinds,
// in registration order.
func (r *Registry) Extractors() []graph.Extractor {
	out := make([]graph.Extractor, 0, len(r.entries))
	for _, e := range r.entries {
		if len(e.kinds) == 0 {
			out = append(out, e.extractor)
			continue
		}
		out = append(out, kindFiltered{Extractor: e.extractor, kinds: e.kinds})
	}
	return out
}

// Names returns the registered extractor names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.extractor.Name())
	}
	return out
}

// NewDefaultRegistry wires the built-in extractors for a layout.
func NewDefaultRegistry(layout component.Layout) *Registry {
	paths := NewPathRules(layout)
	r := NewRegistry()
	r.Register(NewFrontmatterExtractor(), component.Command, component.Agent, component.Skill)
	r.Register(NewInvocationExtractor(paths), component.Command, component.Agent, component.Skill)
	r.Register(NewScriptExtractor(paths), component.Hook)
	return r
}

type kindFiltered struct {
	graph.Extractor
	kinds map[component.Kind]bool
}

func (k kindFiltered) Extract(c component.Component, content []byte) ([]graph.Reference, error) {
	if !k.kinds[c.Kind] {
		return nil, nil
	}
	return k.Extractor.Extract(c, content)
}

// collector accumulates references for one component, dropping
// self-references and exact duplicates.
type collector struct {
	self component.Component
	seen map[string]bool
	refs []graph.Reference
}

func newCollector(self component.Component) *collector {
	return &collector{self: self, seen: make(map[string]bool)}
}

func (c *collector) add(kind component.Kind, target string, edge graph.EdgeKind, evidence string) {
	target = strings.TrimSpace(target)
	if target == "" {
		return
	}
	if kind == c.self.Kind && strings.EqualFold(target, c.self.Name) {
		return
	}
	if kind == "" && strings.EqualFold(target, c.self.Name) {
		return
	}
	key := string(kind) + "\x00" + strings.ToLower(target) + "\x00" + string(edge)
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.refs = append(c.refs, graph.Reference{TargetKind: kind, Target: target, Kind: edge, Evidence: evidence})
}

func (c *collector) result() []graph.Reference {
	sort.SliceStable(c.refs, func(i, j int) bool {
		a, b := c.refs[i], c.refs[j]
		if a.TargetKind != b.TargetKind {
			return a.TargetKind < b.TargetKind
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Kind < b.Kind
	})
	if c.refs == nil {
		return []graph.Reference{}
	}
	return c.refs
}

// evidenceAt renders "L<line>: <text>" for a byte offset in content.
func evidenceAt(content []byte, offset int, text string) string {
	line := bytes.Count(content[:offset], []byte("\n")) + 1
	return "L" + strconv.Itoa(line) + ": " + clip(text)
}

func clip(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxEvidence {
		return text[:maxEvidence-3] + "..."
	}
	return text
}
