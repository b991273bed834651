package extract

import (
	"bytes"
	"context"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/graph"
)

// Literal is a string-ish token found in a script.
type Literal struct {
	Text   string
	Offset int
}

// Script is the syntax summary of a hook script.
type Script struct {
	Language  string
	Parsed    bool
	HasError  bool
	ErrorLine int
	Literals  []Literal
	// Commands holds invoked program or function names, in source order.
	Commands []string
}

type scriptLanguage struct {
	name     string
	grammar  func() *sitter.Language
	literals map[string]bool
	// calls maps a node type to the field holding the callee.
	calls map[string]string
}

var scriptLanguages = map[string]scriptLanguage{
	"bash": {
		name:     "bash",
		grammar:  bash.GetLanguage,
		literals: map[string]bool{"string": true, "raw_string": true, "ansi_c_string": true, "word": true, "heredoc_body": true},
		calls:    map[string]string{"command": "name"},
	},
	"javascript": {
		name:     "javascript",
		grammar:  javascript.GetLanguage,
		literals: map[string]bool{"string": true, "template_string": true},
		calls:    map[string]string{"call_expression": "function"},
	},
	"typescript": {
		name:     "typescript",
		grammar:  typescript.GetLanguage,
		literals: map[string]bool{"string": true, "template_string": true},
		calls:    map[string]string{"call_expression": "function"},
	},
	"python": {
		name:     "python",
		grammar:  python.GetLanguage,
		literals: map[string]bool{"string": true},
		calls:    map[string]string{"call": "function"},
	},
}

var extLanguages = map[string]string{
	".sh": "bash", ".bash": "bash", ".zsh": "bash",
	".js": "javascript", ".mjs": "javascript", ".cjs": "javascript",
	".ts": "typescript", ".mts": "typescript",
	".py": "python",
}

// DetectLanguage picks a grammar from the file extension, falling back to the
// shebang line. It returns "" for unsupported scripts.
func DetectLanguage(name string, content []byte) string {
	if lang, ok := extLanguages[strings.ToLower(path.Ext(name))]; ok {
		return lang
	}
	if !bytes.HasPrefix(content, []byte("#!")) {
		return ""
	}
	line, _, _ := bytes.Cut(content, []byte("\n"))
	shebang := string(line)
	switch {
	case strings.Contains(shebang, "bash"), strings.HasSuffix(shebang, "/sh"), strings.Contains(shebang, " sh"), strings.Contains(shebang, "zsh"):
		return "bash"
	case strings.Contains(shebang, "node"), strings.Contains(shebang, "bun"), strings.Contains(shebang, "deno"):
		return "javascript"
	case strings.Contains(shebang, "python"):
		return "python"
	}
	return ""
}

// ParseScript parses content with the grammar matching name. Unsupported
// scripts come back unparsed with the whole content as one literal.
func ParseScript(ctx context.Context, name string, content []byte) (*Script, error) {
	lang, ok := scriptLanguages[DetectLanguage(name, content)]
	if !ok {
		return &Script{Literals: []Literal{{Text: string(content)}}}, nil
	}

	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang.grammar())

	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	result := &Script{Language: lang.name, Parsed: true, HasError: root.HasError()}
	lang.walk(root, content, result)
	if result.HasError {
		result.ErrorLine = firstErrorLine(root)
	}
	return result, nil
}

func (l scriptLanguage) walk(node *sitter.Node, content []byte, result *Script) {
	if field, ok := l.calls[node.Type()]; ok {
		if callee := node.ChildByFieldName(field); callee != nil {
			result.Commands = append(result.Commands, strings.TrimSpace(callee.Content(content)))
		}
	}
	if l.literals[node.Type()] {
		text := strings.Trim(node.Content(content), "\"'`$")
		if text != "" {
			result.Literals = append(result.Literals, Literal{Text: text, Offset: int(node.StartByte())})
		}
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		l.walk(node.Child(i), content, result)
	}
}

func firstErrorLine(node *sitter.Node) int {
	if node.Type() == "ERROR" || node.IsMissing() {
		return int(node.StartPoint().Row) + 1
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if !child.HasError() && !child.IsMissing() {
			continue
		}
		if line := firstErrorLine(child); line > 0 {
			return line
		}
	}
	return 0
}

// ScriptExtractor finds references inside hook scripts: paths into the
// layout, MCP tool names and subagent filters in string literals.
type ScriptExtractor struct {
	paths PathRules
}

func NewScriptExtractor(paths PathRules) ScriptExtractor {
	return ScriptExtractor{paths: paths}
}

func (ScriptExtractor) Name() string { return "script" }

func (e ScriptExtractor) Extract(c component.Component, content []byte) ([]graph.Reference, error) {
	script, err := ParseScript(context.Background(), c.Path, content)
	if err != nil {
		return nil, err
	}

	out := newCollector(c)
	for _, lit := range script.Literals {
		for _, hit := range e.paths.Find(lit.Text) {
			out.add(hit.Kind, hit.Name, graph.References, evidenceAt(content, lit.Offset+hit.Offset, hit.Text))
		}
		for _, loc := range mcpMentionPattern.FindAllStringSubmatchIndex(lit.Text, -1) {
			out.add(component.MCPServer, lit.Text[loc[2]:loc[3]], graph.Integrates, evidenceAt(content, lit.Offset+loc[0], lit.Text[loc[0]:loc[1]]))
		}
	}
	// Hook filters like `.tool_input.subagent_type == "reviewer"` split the
	// key and the value across tokens, so match on the raw text.
	text := string(content)
	for _, loc := range subagentTypePattern.FindAllStringSubmatchIndex(text, -1) {
		out.add(component.Agent, text[loc[2]:loc[3]], graph.References, evidenceAt(content, loc[0], text[loc[0]:loc[1]]))
	}
	return out.result(), nil
}
