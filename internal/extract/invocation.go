package extract

import (
	"regexp"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/graph"
)

// phraseRule is one textual pattern; group 1 captures the target name.
type phraseRule struct {
	kind    component.Kind
	edge    graph.EdgeKind
	pattern *regexp.Regexp
	// reject, when set, inspects the full submatch and drops the hit.
	reject func(match []string) bool
}

var (
	subagentTypePattern = regexp.MustCompile(`subagent_type["'\x60]?\s*[:=]+\s*["'\x60]?([A-Za-z0-9][\w-]*)`)
	mcpMentionPattern   = regexp.MustCompile(`\bmcp__([A-Za-z0-9_-]+?)__[A-Za-z0-9_*]`)
)

var phraseRules = []phraseRule{
	{kind: component.Agent, edge: graph.Delegates, pattern: subagentTypePattern},
	{kind: component.Agent, edge: graph.Delegates, pattern: regexp.MustCompile(`@agent-([A-Za-z0-9][\w-]*)`)},
	{
		kind:    component.Agent,
		edge:    graph.Delegates,
		pattern: regexp.MustCompile(`(?i)\b(?:use|invoke|delegate\s+to|hand\s+off\s+to|launch|spawn|dispatch|call)\s+(?:the\s+)?[\x60*"']*([a-z0-9][\w-]*)[\x60*"']*\s+(?:sub-?)?agents?\b`),
		reject:  func(m []string) bool { return genericWords[strings.ToLower(m[1])] },
	},
	{
		kind:    component.Skill,
		edge:    graph.References,
		pattern: regexp.MustCompile(`(?i)\b(?:use|load|activate|invoke|apply|follow)\s+(?:the\s+)?[\x60*"']*([a-z0-9][\w-]*)[\x60*"']*\s+skill\b`),
		reject:  func(m []string) bool { return genericWords[strings.ToLower(m[1])] },
	},
	{kind: component.Skill, edge: graph.References, pattern: regexp.MustCompile(`\bSkill\(\s*["']?([A-Za-z0-9][\w-]*)`)},
	{
		kind:    component.Command,
		edge:    graph.Invokes,
		pattern: regexp.MustCompile(`(?m)(?:^[ \t]*(?:[-*+]\s+|\d+\.\s+)?|\x60|(?i:\b(?:run|invoke|call|execute|trigger|then)\s+))/([A-Za-z][\w-]*(?::[\w-]+)*)(/?)`),
		reject: func(m []string) bool {
			return m[2] == "/" || builtinCommands[strings.ToLower(m[1])]
		},
	},
	{kind: component.MCPServer, edge: graph.Integrates, pattern: mcpMentionPattern},
}

// genericWords are determiners and adjectives that phrase rules would
// otherwise take for a name ("use the appropriate agent").
var genericWords = map[string]bool{
	"a": true, "an": true, "any": true, "another": true, "each": true, "every": true,
	"this": true, "that": true, "these": true, "those": true, "which": true, "your": true,
	"same": true, "other": true, "new": true, "right": true, "relevant": true,
	"appropriate": true, "following": true, "specialized": true, "specialised": true,
	"dedicated": true, "custom": true, "correct": true, "best": true, "separate": true,
	"general-purpose": true, "multiple": true, "parallel": true, "sub": true,
}

// builtinCommands ship with the assistant and never resolve to a file.
var builtinCommands = map[string]bool{
	"help": true, "clear": true, "compact": true, "config": true, "cost": true,
	"doctor": true, "init": true, "login": true, "logout": true, "memory": true,
	"model": true, "permissions": true, "status": true, "vim": true, "bug": true,
	"exit": true, "quit": true, "agents": true, "hooks": true, "mcp": true,
	"resume": true, "context": true, "add-dir": true, "export": true,
}

// InvocationExtractor scans markdown components for invocation phrases,
// slash commands, MCP tool names and file paths into the layout.
type InvocationExtractor struct {
	paths PathRules
}

func NewInvocationExtractor(paths PathRules) InvocationExtractor {
	return InvocationExtractor{paths: paths}
}

func (InvocationExtractor) Name() string { return "invocation" }

// Extract never reports a component as depending on itself; usage examples
// in a command's own docs are not self-invocations.
func (e InvocationExtractor) Extract(c component.Component, content []byte) ([]graph.Reference, error) {
	text := string(content)
	out := newCollector(c)

	for _, rule := range phraseRules {
		for _, loc := range rule.pattern.FindAllStringSubmatchIndex(text, -1) {
			match := submatches(text, loc)
			if rule.reject != nil && rule.reject(match) {
				continue
			}
			target := match[1]
			if rule.kind == component.Command {
				target = commandName(target)
			}
			out.add(rule.kind, target, rule.edge, evidenceAt(content, loc[0], match[0]))
		}
	}
	for _, hit := range e.paths.Find(text) {
		out.add(hit.Kind, hit.Name, graph.References, evidenceAt(content, hit.Offset, hit.Text))
	}
	return out.result(), nil
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}
