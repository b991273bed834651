package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
)

const (
	minBodyChars       = 40
	maxBodyChars       = 12000
	maxDescriptionLen  = 1024
	structureBaseScore = 10.0
)

// StructureAnalyzer checks the frontmatter and body of markdown components.
type StructureAnalyzer struct{}

func NewStructureAnalyzer() StructureAnalyzer {
	return StructureAnalyzer{}
}

func (StructureAnalyzer) Name() string { return "structure" }

func (StructureAnalyzer) Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	content, err := actx.Content(c)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", c.Path, err)
	}

	score := structureBaseScore
	findings := make([]string, 0)
	penalize := func(points float64, format string, args ...any) {
		score -= points
		findings = append(findings, fmt.Sprintf(format, args...))
	}

	fm, body, err := component.ParseFrontMatter(content)
	switch {
	case errors.Is(err, component.ErrMissingFrontMatter):
		penalize(3, "missing frontmatter header")
		fm = component.FrontMatter{}
	case err != nil:
		penalize(4, "frontmatter does not parse: %v", err)
		fm = component.FrontMatter{}
	}

	description := fm.String("description")
	switch {
	case description == "":
		penalize(2, "missing description")
	case len(description) > maxDescriptionLen:
		penalize(1, "description is %d characters; keep it under %d", len(description), maxDescriptionLen)
	}

	if c.Kind == component.Agent || c.Kind == component.Skill {
		name := fm.String("name")
		switch {
		case name == "":
			penalize(1, "missing name")
		case c.Kind == component.Skill && name != path.Base(c.Name):
			penalize(1, "name %q does not match directory %q", name, path.Base(c.Name))
		}
	}
	if c.Kind == component.Agent && !fm.Has("tools") {
		penalize(0.5, "no tools list; the agent inherits every tool")
	}

	text := strings.TrimSpace(string(body))
	switch {
	case len(text) < minBodyChars:
		penalize(3, "body is nearly empty (%d characters)", len(text))
	case len(text) > maxBodyChars:
		penalize(1, "body is %d characters; consider splitting it", len(text))
	}
	if c.Kind == component.Command && strings.Contains(text, "$ARGUMENTS") && !fm.Has("argument-hint") {
		penalize(0.5, "uses $ARGUMENTS without an argument-hint")
	}

	return Result{Score: score, Findings: findings, SourceHash: c.ContentHash}.Finalize(), nil
}
