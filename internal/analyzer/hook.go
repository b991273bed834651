package analyzer

import (
	"context"
	"fmt"
	"regexp"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/extract"
)

var (
	pipeToShell = regexp.MustCompile(`\b(?:curl|wget)\b[^|\n]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`)
	errexit     = regexp.MustCompile(`(?m)^\s*set\s+-[a-zA-Z]*e|^\s*set\s+-o\s+errexit`)
	rmRoot      = regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f?\s+(?:/|~|\$HOME)(?:\s|$)`)
)

// HookAnalyzer parses hook scripts with tree-sitter and flags syntax errors
// and risky shell patterns.
type HookAnalyzer struct{}

func NewHookAnalyzer() HookAnalyzer {
	return HookAnalyzer{}
}

func (HookAnalyzer) Name() string { return "hook" }

func (HookAnalyzer) Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error) {
	content, err := actx.Content(c)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", c.Path, err)
	}
	script, err := extract.ParseScript(ctx, c.Path, content)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", c.Path, err)
	}

	score := 10.0
	findings := make([]string, 0)
	penalize := func(points float64, format string, args ...any) {
		score -= points
		findings = append(findings, fmt.Sprintf(format, args...))
	}

	if !script.Parsed {
		penalize(1, "no grammar for this script; syntax not checked")
	}
	if script.HasError {
		penalize(5, "%s syntax error near line %d", script.Language, script.ErrorLine)
	}
	if len(content) > 0 && content[0] != '#' && script.Language == "bash" {
		penalize(0.5, "missing shebang line")
	}
	if script.Language == "bash" && !errexit.Match(content) {
		penalize(0.5, "does not enable errexit (set -e)")
	}
	for _, cmd := range script.Commands {
		if cmd == "eval" {
			penalize(2, "uses eval")
			break
		}
	}
	if pipeToShell.Match(content) {
		penalize(3, "pipes a download straight into a shell")
	}
	if rmRoot.Match(content) {
		penalize(4, "recursive delete of a home or root path")
	}

	return Result{Score: score, Findings: findings, SourceHash: c.ContentHash}.Finalize(), nil
}
