package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/history"
	"github.com/morozRed/cfgaudit/internal/metrics"
	"github.com/morozRed/cfgaudit/internal/pipeline"
)

// Process exit codes.
const (
	ExitClean    = 0
	ExitFatal    = 1
	ExitFailures = 2
	ExitAborted  = 3
)

// ExitError reports a run that finished but not cleanly. The summary has
// already been printed, so callers only need the code.
type ExitError struct {
	Code   int
	Status pipeline.Status
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("run finished with status %s", e.Status)
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitClean
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFatal
}

func exitCodeFor(status pipeline.Status) int {
	switch status {
	case pipeline.CompletedClean:
		return ExitClean
	case pipeline.CompletedWithFailures:
		return ExitFailures
	case pipeline.Aborted:
		return ExitAborted
	default:
		return ExitFatal
	}
}

func outcomeError(out *pipeline.Outcome) error {
	if out == nil {
		return nil
	}
	code := exitCodeFor(out.Status)
	if code == ExitClean {
		return nil
	}
	return &ExitError{Code: code, Status: out.Status}
}

// auditRuntime bundles an orchestrator with the stores it writes to.
type auditRuntime struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *pipeline.Orchestrator
	history      *history.Store
	metrics      *metrics.Metrics
}

// openRuntime wires the orchestrator for cfg. A history database that
// cannot be opened only disables history; record=false skips it entirely.
func openRuntime(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, record bool) *auditRuntime {
	rt := &auditRuntime{cfg: cfg, logger: logger, metrics: m}
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if record {
		store, err := history.Open(cfg.OutputDir, logger)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			rt.history = store
			opts = append(opts, pipeline.WithHistory(store))
		}
	}
	rt.orchestrator = pipeline.NewFromConfig(cfg, logger, opts...)
	return rt
}

func (rt *auditRuntime) Close() {
	if rt.history == nil {
		return
	}
	if err := rt.history.Close(); err != nil {
		rt.logger.Warn("failed to close history database", "error", err)
	}
}
