package extract

import (
	"regexp"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/graph"
)

// headerField maps a frontmatter key to the edge it declares.
type headerField struct {
	key  string
	kind component.Kind
	edge graph.EdgeKind
}

var headerFields = []headerField{
	{key: "agents", kind: component.Agent, edge: graph.Delegates},
	{key: "subagents", kind: component.Agent, edge: graph.Delegates},
	{key: "delegates", kind: component.Agent, edge: graph.Delegates},
	{key: "skills", kind: component.Skill, edge: graph.References},
	{key: "commands", kind: component.Command, edge: graph.Invokes},
	{key: "hooks", kind: component.Hook, edge: graph.References},
	{key: "mcp-servers", kind: component.MCPServer, edge: graph.Integrates},
	{key: "mcpServers", kind: component.MCPServer, edge: graph.Integrates},
}

var toolKeys = []string{"tools", "allowed-tools", "allowed_tools"}

var (
	mcpToolPattern   = regexp.MustCompile(`^mcp__([A-Za-z0-9_-]+?)__[A-Za-z0-9_*-]+$`)
	mcpServerPattern = regexp.MustCompile(`^mcp__([A-Za-z0-9_-]+?)(?:__\*)?$`)
	wrappedTool      = regexp.MustCompile(`^(SlashCommand|Skill|Task)\(\s*/?([A-Za-z0-9_:/.-]+)\s*\)$`)
)

// FrontmatterExtractor reads dependency declarations from a markdown
// component's YAML header.
type FrontmatterExtractor struct{}

func NewFrontmatterExtractor() FrontmatterExtractor {
	return FrontmatterExtractor{}
}

func (FrontmatterExtractor) Name() string { return "frontmatter" }

func (FrontmatterExtractor) Extract(c component.Component, content []byte) ([]graph.Reference, error) {
	fm, _, err := component.ParseFrontMatter(content)
	if err != nil {
		// A missing or broken header declares nothing; the structure analyzer
		// reports it.
		return []graph.Reference{}, nil
	}

	out := newCollector(c)
	for _, field := range headerFields {
		for _, value := range fm.Strings(field.key) {
			name := strings.TrimPrefix(strings.TrimSpace(value), "/")
			if field.kind == component.Command {
				name = commandName(name)
			}
			out.add(field.kind, name, field.edge, "frontmatter "+field.key+": "+clip(value))
		}
	}
	for _, key := range toolKeys {
		for _, tool := range fm.Strings(key) {
			addTool(out, key, tool)
		}
	}
	return out.result(), nil
}

func addTool(out *collector, key, tool string) {
	tool = strings.TrimSpace(tool)
	evidence := "frontmatter " + key + ": " + clip(tool)
	if m := mcpToolPattern.FindStringSubmatch(tool); m != nil {
		out.add(component.MCPServer, m[1], graph.Integrates, evidence)
		return
	}
	if m := mcpServerPattern.FindStringSubmatch(tool); m != nil {
		out.add(component.MCPServer, m[1], graph.Integrates, evidence)
		return
	}
	if m := wrappedTool.FindStringSubmatch(tool); m != nil {
		switch m[1] {
		case "SlashCommand":
			out.add(component.Command, commandName(m[2]), graph.Invokes, evidence)
		case "Skill":
			out.add(component.Skill, m[2], graph.References, evidence)
		case "Task":
			out.add(component.Agent, m[2], graph.Delegates, evidence)
		}
	}
}

// commandName maps the namespaced invocation form "git:commit" onto the
// nested file name "git/commit".
func commandName(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "/")
	return strings.ReplaceAll(raw, ":", "/")
}
