package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/morozRed/cfgaudit/internal/component"
)

const (
	defaultLLMModel  = "gpt-4o-mini"
	maxPromptContent = 16000
	maxLLMFindings   = 8
	llmSystemPrompt  = "You audit configuration files for an AI coding assistant: slash commands, agents, skills, hooks and MCP servers. Judge clarity, scoping, safety and whether the component does one job well. Reply with a JSON object {\"score\": <0-10>, \"findings\": [<short strings>]} and nothing else."
)

// LLMConfig configures the chat-completion backed analyzer.
type LLMConfig struct {
	Model   string
	BaseURL string
	APIKey  string
	// MaxTokens caps the completion; zero leaves it to the server.
	MaxTokens int
}

// LLMAnalyzer asks an OpenAI-compatible chat endpoint to score a component.
// Its output is not deterministic; results are cached like any other.
type LLMAnalyzer struct {
	client *openai.Client
	model  string
	cfg    LLMConfig
	logger *slog.Logger
}

// NewLLMAnalyzer builds a client for cfg. An empty APIKey is an error.
func NewLLMAnalyzer(cfg LLMConfig, logger *slog.Logger) (*LLMAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm analyzer: api key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = defaultLLMModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	logger.Debug("initializing llm analyzer", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &LLMAnalyzer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (a *LLMAnalyzer) Name() string { return "llm" }

func (a *LLMAnalyzer) Analyze(ctx context.Context, c component.Component, actx *Context) (Result, error) {
	content, err := actx.Content(c)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", c.Path, err)
	}

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(c, content, actx)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	if a.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = a.cfg.MaxTokens
	}

	a.logger.Debug("requesting llm review", "unit", c.ID, "model", a.model)
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("chat completion returned no choices")
	}
	a.logger.Debug("received llm review", "unit", c.ID, "finish_reason", resp.Choices[0].FinishReason)

	verdict, err := parseLLMVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}
	return Result{Score: verdict.Score, Findings: verdict.Findings, SourceHash: c.ContentHash}.Finalize(), nil
}

type llmVerdict struct {
	Score    float64  `json:"score"`
	Findings []string `json:"findings"`
}

// parseLLMVerdict accepts the JSON object, optionally wrapped in a code fence.
func parseLLMVerdict(raw string) (llmVerdict, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var out llmVerdict
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return llmVerdict{}, fmt.Errorf("llm reply is not the expected JSON: %w", err)
	}
	if out.Score < 0 || out.Score > 10 {
		return llmVerdict{}, fmt.Errorf("llm score %.2f is outside 0-10", out.Score)
	}
	if len(out.Findings) > maxLLMFindings {
		out.Findings = out.Findings[:maxLLMFindings]
	}
	return out, nil
}

func buildPrompt(c component.Component, content []byte, actx *Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Component: %s (kind %s, path %s)\n", c.ID, c.Kind, c.Path)
	if actx != nil && actx.Graph != nil {
		deps := actx.Graph.Dependencies(c.ID)
		dependents := actx.Graph.Dependents(c.ID)
		fmt.Fprintf(&b, "Depends on %d components; %d components depend on it.\n", len(deps), len(dependents))
		for _, edge := range deps {
			if edge.Unresolved {
				fmt.Fprintf(&b, "Broken reference: %s\n", edge.To)
			}
		}
	}
	text := string(content)
	if len(text) > maxPromptContent {
		text = text[:maxPromptContent] + "\n[truncated]"
	}
	b.WriteString("\n--- content ---\n")
	b.WriteString(text)
	return b.String()
}
