package pipeline

import (
	"log/slog"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/extract"
)

// SettingsFrom maps loaded configuration onto orchestrator settings.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Roots:       []string{cfg.RootDir},
		OutputDir:   cfg.OutputDir,
		Layout:      cfg.ComponentLayout(),
		Exclude:     cfg.Exclusion(),
		EntryKinds:  cfg.EntryKinds(),
		Retention:   cfg.LedgerRetention(),
		KeepHistory: cfg.Retention.KeepHistory,
	}
}

// OptionsFrom returns run options carrying the configured pool and
// timeouts. Callers fill in mode and scope.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Concurrency: cfg.Workers(),
		UnitTimeout: cfg.UnitTimeout,
		SoftTimeout: cfg.SoftTimeout,
	}
}

// NewFromConfig wires the default analyzers and extractors for cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	settings := SettingsFrom(cfg)
	aopts := analyzer.Options{Policy: cfg.Policy(), Weights: cfg.Analyzers.Weights}
	if cfg.LLM.Enabled {
		llm, err := analyzer.NewLLMAnalyzer(cfg.LLMAnalyzerConfig(), logger)
		if err != nil {
			logger.Warn("llm analyzer disabled", "error", err)
		} else {
			aopts.LLM = llm
		}
	}
	base := []Option{
		WithLogger(logger),
		WithExtractors(extract.NewDefaultRegistry(settings.Layout).Extractors()),
	}
	return New(settings, analyzer.NewDefaultRegistry(aopts), append(base, opts...)...)
}
