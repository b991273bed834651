package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
)

var secretKey = regexp.MustCompile(`(?i)(token|secret|password|passwd|api[_-]?key|credential|authorization)`)

type mcpServer struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	URL     string            `json:"url"`
	Env     map[string]string `json:"env"`
	Headers map[string]string `json:"headers"`
}

// MCPAnalyzer checks one server entry of the MCP config file.
type MCPAnalyzer struct{}

func NewMCPAnalyzer() MCPAnalyzer {
	return MCPAnalyzer{}
}

func (MCPAnalyzer) Name() string { return "mcp" }

func (MCPAnalyzer) Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	content, err := actx.Content(c)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", c.Path, err)
	}

	score := 10.0
	findings := make([]string, 0)
	penalize := func(points float64, format string, args ...any) {
		score -= points
		findings = append(findings, fmt.Sprintf(format, args...))
	}

	var server mcpServer
	if err := json.Unmarshal(content, &server); err != nil {
		penalize(6, "server entry is not an object: %v", err)
		return Result{Score: score, Findings: findings, SourceHash: c.ContentHash}.Finalize(), nil
	}

	switch strings.ToLower(server.Type) {
	case "", "stdio", "sse", "http", "streamable-http":
	default:
		penalize(1, "unknown transport type %q", server.Type)
	}

	switch {
	case server.Command == "" && server.URL == "":
		penalize(5, "neither command nor url is set")
	case server.URL != "":
		u, err := url.Parse(server.URL)
		if err != nil || u.Host == "" {
			penalize(3, "url %q does not parse", server.URL)
		} else if u.Scheme == "http" && !isLoopback(u.Hostname()) {
			penalize(2, "plain http to %s", u.Hostname())
		}
	}
	if server.Command == "npx" && !contains(server.Args, "-y") && !contains(server.Args, "--yes") {
		penalize(0.5, "npx without -y prompts for install")
	}

	for _, field := range []struct {
		name   string
		values map[string]string
	}{{"env", server.Env}, {"headers", server.Headers}} {
		keys := make([]string, 0, len(field.values))
		for key := range field.values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(field.values[key])
			if value == "" || strings.Contains(value, "${") || !secretKey.MatchString(key) {
				continue
			}
			penalize(3, "%s.%s holds a literal secret; use ${VAR} expansion", field.name, key)
		}
	}

	return Result{Score: score, Findings: findings, SourceHash: c.ContentHash}.Finalize(), nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
