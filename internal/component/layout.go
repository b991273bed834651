package component

import (
	"path"
	"sort"
	"strings"
)

// KindLayout says where a kind lives under a root and which file names count.
// For skills Pattern names the marker file that turns a directory into a skill.
type KindLayout struct {
	Dir     string `mapstructure:"dir" json:"dir" validate:"required"`
	Pattern string `mapstructure:"pattern" json:"pattern" validate:"required"`
}

// Layout is the kind -> location mapping consumed by Scan.
type Layout struct {
	Kinds   map[Kind]KindLayout
	MCPFile string
}

// DefaultLayout matches the conventional assistant configuration tree.
func DefaultLayout() Layout {
	return Layout{
		Kinds: map[Kind]KindLayout{
			Command: {Dir: "commands", Pattern: "*.md"},
			Agent:   {Dir: "agents", Pattern: "*.md"},
			Skill:   {Dir: "skills", Pattern: "SKILL.md"},
			Hook:    {Dir: "hooks", Pattern: "*"},
		},
		MCPFile: ".mcp.json",
	}
}

type dirKind struct {
	dir  string
	kind Kind
}

// dirKinds returns the configured kind directories, longest first so nested
// layouts resolve to the most specific kind.
func (l Layout) dirKinds(filter map[Kind]bool) []dirKind {
	out := make([]dirKind, 0, len(l.Kinds))
	for kind, kl := range l.Kinds {
		if kind == MCPServer {
			continue
		}
		if len(filter) > 0 && !filter[kind] {
			continue
		}
		dir := strings.Trim(path.Clean("/"+strings.TrimSpace(kl.Dir)), "/")
		if dir == "" {
			continue
		}
		out = append(out, dirKind{dir: dir, kind: kind})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].dir) == len(out[j].dir) {
			return out[i].dir < out[j].dir
		}
		return len(out[i].dir) > len(out[j].dir)
	})
	return out
}

func (l Layout) kindFor(dirs []dirKind, rel string) (Kind, string, bool) {
	for _, dk := range dirs {
		if strings.HasPrefix(rel, dk.dir+"/") {
			return dk.kind, strings.TrimPrefix(rel, dk.dir+"/"), true
		}
	}
	return "", "", false
}

func (l Layout) pattern(kind Kind) string {
	p := strings.TrimSpace(l.Kinds[kind].Pattern)
	if p == "" {
		return "*"
	}
	return p
}
