// Package pipeline runs one audit: discovery, optional cache diff, component
// analysis on a bounded pool, graph analysis, synthesis and reporting, with
// cleanup always last.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/graph"
	"github.com/morozRed/cfgaudit/internal/history"
	"github.com/morozRed/cfgaudit/internal/ignore"
	"github.com/morozRed/cfgaudit/internal/ledger"
	"github.com/morozRed/cfgaudit/internal/metrics"
	"github.com/morozRed/cfgaudit/internal/report"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

// Mode selects full or incremental analysis.
type Mode string

const (
	Full        Mode = "full"
	Incremental Mode = "incremental"
)

// ParseMode accepts "full" and "incremental"; empty means full.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", Full:
		return Full, nil
	case Incremental:
		return Incremental, nil
	}
	return "", fmt.Errorf("unknown mode %q (supported: full, incremental)", raw)
}

// Status is the tri-state run outcome.
type Status string

const (
	CompletedClean        Status = "completed"
	CompletedWithFailures Status = "completed-with-failures"
	Aborted               Status = "aborted"
)

// Stage names, in execution order.
const (
	StageDiscovery         = "discovery"
	StageCacheDiff         = "cache-diff"
	StageComponentAnalysis = "component-analysis"
	StageGraphAnalysis     = "graph-analysis"
	StageSynthesis         = "synthesis"
	StageReporting         = "reporting"
	StageCleanup           = "cleanup"
)

var stageOrder = []string{StageDiscovery, StageCacheDiff, StageComponentAnalysis, StageGraphAnalysis, StageSynthesis, StageReporting, StageCleanup}

// Decision answers the incremental run where nothing changed.
type Decision string

const (
	DecisionReuse Decision = "reuse"
	DecisionFull  Decision = "full"
	DecisionAbort Decision = "abort"
)

// DecisionFunc is consulted when an incremental diff is empty and a cached
// report exists.
type DecisionFunc func(ctx context.Context, diff cache.Diff) Decision

// ReuseAlways is the default DecisionFunc.
func ReuseAlways(context.Context, cache.Diff) Decision { return DecisionReuse }

// UnitEvent reports progress of the component analysis stage.
type UnitEvent struct {
	ID     string
	Status ledger.Status
	Done   int
	Total  int
}

// Options configures one run.
type Options struct {
	Mode        Mode
	Scope       component.Scope
	DryRun      bool
	Resume      *ledger.Ledger
	Concurrency int
	UnitTimeout time.Duration
	// SoftTimeout only logs a warning when the run is still going.
	SoftTimeout time.Duration
	Decide      DecisionFunc
	OnUnit      func(UnitEvent)
}

const (
	defaultUnitTimeout = 60 * time.Second
	hubCount           = 5
)

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = Full
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.UnitTimeout <= 0 {
		o.UnitTimeout = defaultUnitTimeout
	}
	if o.Decide == nil {
		o.Decide = ReuseAlways
	}
	return o
}

// Outcome is everything a run produced.
type Outcome struct {
	RunID      string                     `json:"run_id"`
	Mode       Mode                       `json:"mode"`
	Status     Status                     `json:"status"`
	Report     *synthesis.Report          `json:"report,omitempty"`
	Results    map[string]analyzer.Result `json:"-"`
	Failures   []synthesis.Failure        `json:"failures"`
	Diff       *cache.Diff                `json:"diff,omitempty"`
	Plan       []string                   `json:"plan,omitempty"`
	LedgerPath string                     `json:"ledger_path,omitempty"`
	LedgerErr  error                      `json:"-"`
	Warnings   []string                   `json:"warnings,omitempty"`
	Reused     bool                       `json:"reused"`
	Analyzed   int                        `json:"analyzed"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}

// Duration is the wall time of the run.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Settings are the run-independent inputs of the orchestrator.
type Settings struct {
	Roots       []string
	OutputDir   string
	Layout      component.Layout
	Exclude     ignore.Predicate
	EntryKinds  []component.Kind
	Retention   ledger.Retention
	KeepHistory int
}

// CachePath is the run cache file.
func (s Settings) CachePath() string {
	return filepath.Join(s.OutputDir, cache.IndexFile)
}

// RunsDir holds the run ledgers.
func (s Settings) RunsDir() string {
	return filepath.Join(s.OutputDir, ledger.RunsDir)
}

// Orchestrator runs pipelines. It is safe to reuse across runs but not to
// run concurrently against the same output dir.
type Orchestrator struct {
	settings   Settings
	registry   *analyzer.Registry
	extractors []graph.Extractor
	reader     component.Reader
	writer     report.Writer
	history    *history.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newRunID   func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithExtractors(extractors []graph.Extractor) Option {
	return func(o *Orchestrator) { o.extractors = extractors }
}

func WithReader(r component.Reader) Option {
	return func(o *Orchestrator) { o.reader = r }
}

func WithReportWriter(w report.Writer) Option {
	return func(o *Orchestrator) { o.writer = w }
}

func WithHistory(h *history.Store) Option {
	return func(o *Orchestrator) { o.history = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRunIDs replaces the uuid run id generator.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newRunID = next }
}

// New builds an orchestrator. Without WithReportWriter the JSON report is
// written to the output dir.
func New(settings Settings, registry *analyzer.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		settings: settings,
		registry: registry,
		reader:   component.FSReader{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("cfgaudit/pipeline"),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.writer == nil {
		o.writer = report.NewJSONWriter(settings.OutputDir)
	}
	return o
}

// Settings returns the orchestrator settings.
func (o *Orchestrator) Settings() Settings { return o.settings }
