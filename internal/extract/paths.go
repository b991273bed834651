package extract

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
)

// PathMatch is a file path inside some text that points into a kind directory.
type PathMatch struct {
	Kind   component.Kind
	Name   string
	Offset int
	Text   string
}

type pathRule struct {
	kind    component.Kind
	marker  string
	pattern *regexp.Regexp
}

// PathRules recognises paths such as ".claude/agents/reviewer.md" or
// "skills/pdf/SKILL.md" using the configured layout directories.
type PathRules struct {
	rules []pathRule
}

// NewPathRules builds one rule per file-backed kind in layout.
func NewPathRules(layout component.Layout) PathRules {
	if layout.Kinds == nil {
		layout = component.DefaultLayout()
	}
	kinds := make([]component.Kind, 0, len(layout.Kinds))
	for kind := range layout.Kinds {
		if kind != component.MCPServer {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := PathRules{}
	for _, kind := range kinds {
		dir := strings.Trim(path.Clean("/"+strings.TrimSpace(layout.Kinds[kind].Dir)), "/")
		if dir == "" {
			continue
		}
		out.rules = append(out.rules, pathRule{
			kind:    kind,
			marker:  layout.Kinds[kind].Pattern,
			pattern: regexp.MustCompile(`(?:^|[^A-Za-z0-9_.-])(?:\.claude/)?` + regexp.QuoteMeta(dir) + `/([A-Za-z0-9_./-]+)`),
		})
	}
	return out
}

// Find returns every path reference in text, in offset order.
func (p PathRules) Find(text string) []PathMatch {
	out := make([]PathMatch, 0)
	for _, rule := range p.rules {
		for _, loc := range rule.pattern.FindAllStringSubmatchIndex(text, -1) {
			raw := strings.TrimRight(text[loc[2]:loc[3]], "./")
			name, ok := rule.name(raw)
			if !ok {
				continue
			}
			out = append(out, PathMatch{Kind: rule.kind, Name: name, Offset: loc[0], Text: text[loc[0]:loc[1]]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (r pathRule) name(raw string) (string, bool) {
	if raw == "" || strings.Contains(raw, "..") {
		return "", false
	}
	switch r.kind {
	case component.Skill:
		if r.marker != "" {
			if idx := strings.Index(raw, "/"+r.marker); idx > 0 {
				return raw[:idx], true
			}
		}
		first, _, _ := strings.Cut(raw, "/")
		return first, true
	case component.Hook:
		return raw, true
	default:
		if !strings.EqualFold(path.Ext(raw), ".md") {
			return "", false
		}
		return strings.TrimSuffix(raw, path.Ext(raw)), true
	}
}
