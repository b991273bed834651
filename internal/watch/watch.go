// Package watch re-runs the pipeline incrementally whenever component content
// changes, after a quiet period.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/ignore"
	"github.com/morozRed/cfgaudit/internal/pipeline"
)

// State is one step of the watch loop.
type State int

const (
	Idle State = iota
	PendingChange
	DebounceWait
	Triggered
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingChange:
		return "pending-change"
	case DebounceWait:
		return "debounce-wait"
	case Triggered:
		return "triggered"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Runner executes one pipeline run. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Outcome, error)
}

// SnapshotFunc returns the current content hash of every component.
type SnapshotFunc func() (map[string]string, error)

// ScanSnapshot hashes components the way discovery does.
func ScanSnapshot(settings pipeline.Settings) SnapshotFunc {
	return func() (map[string]string, error) {
		found, err := component.Scan(component.ScanOptions{
			Roots:   settings.Roots,
			Layout:  settings.Layout,
			Exclude: settings.Exclude,
		})
		if err != nil {
			return nil, err
		}
		return component.Hashes(found), nil
	}
}

// Config controls timing.
type Config struct {
	PollInterval time.Duration
	// Debounce is the quiet period required after the last change.
	Debounce time.Duration
	// GracePeriod bounds how long an in-flight run may continue after
	// cancellation.
	GracePeriod time.Duration
	// Roots are watched with fsnotify for early wake-ups. Empty disables it.
	Roots   []string
	Exclude ignore.Predicate
}

// Session is the explicit state of one watch session.
type Session struct {
	StartedAt  time.Time
	Runs       int
	Failed     int
	FirstScore float64
	LastScore  float64
	scored     bool
}

func (s *Session) observe(out *pipeline.Outcome) {
	s.Runs++
	if out == nil {
		s.Failed++
		return
	}
	if out.Status != pipeline.CompletedClean {
		s.Failed++
	}
	if out.Report == nil {
		return
	}
	if !s.scored {
		s.FirstScore = out.Report.CompositeScore
		s.scored = true
	}
	s.LastScore = out.Report.CompositeScore
}

// Summary is logged and returned when the loop ends.
type Summary struct {
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	Duration     time.Duration `json:"duration"`
	Runs         int           `json:"runs"`
	Failed       int           `json:"failed"`
	InitialScore float64       `json:"initial_score"`
	FinalScore   float64       `json:"final_score"`
	Delta        float64       `json:"delta"`
}

func (s *Session) summary(end time.Time) Summary {
	return Summary{
		StartedAt:    s.StartedAt,
		EndedAt:      end,
		Duration:     end.Sub(s.StartedAt),
		Runs:         s.Runs,
		Failed:       s.Failed,
		InitialScore: s.FirstScore,
		FinalScore:   s.LastScore,
		Delta:        s.LastScore - s.FirstScore,
	}
}

// Loop drives idle -> pending-change -> debounce-wait -> triggered ->
// running -> idle.
type Loop struct {
	runner   Runner
	snapshot SnapshotFunc
	base     pipeline.Options
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	wake    <-chan struct{}
	onState func(State)
	onRun   func(*pipeline.Outcome)

	mu    sync.Mutex
	state State
}

// Option customizes a Loop.
type Option func(*Loop)

func WithLogger(l *slog.Logger) Option {
	return func(loop *Loop) { loop.logger = l }
}

// WithWake supplies an external wake-up channel instead of fsnotify.
func WithWake(ch <-chan struct{}) Option {
	return func(loop *Loop) { loop.wake = ch }
}

// WithStateHook observes every state transition.
func WithStateHook(fn func(State)) Option {
	return func(loop *Loop) { loop.onState = fn }
}

// WithRunHook observes every finished run.
func WithRunHook(fn func(*pipeline.Outcome)) Option {
	return func(loop *Loop) { loop.onRun = fn }
}

const (
	defaultPollInterval = 2 * time.Second
	defaultGracePeriod  = 10 * time.Second
)

// New builds a loop. base carries scope, pool and timeouts; the loop sets
// the mode of each run itself.
func New(runner Runner, snapshot SnapshotFunc, base pipeline.Options, cfg Config, opts ...Option) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	l := &Loop{
		runner:   runner,
		snapshot: snapshot,
		base:     base,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves to next unless ctx is done.
func (l *Loop) transition(ctx context.Context, next State) bool {
	if ctx.Err() != nil {
		return false
	}
	l.mu.Lock()
	prev := l.state
	l.state = next
	l.mu.Unlock()
	if prev != next {
		l.logger.Debug("watch state", "from", prev, "to", next)
	}
	if l.onState != nil {
		l.onState(next)
	}
	return true
}

// Run performs a full run, then watches until ctx is cancelled. Only a
// fatal failure of the first run is returned as an error.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	session := &Session{StartedAt: l.now().UTC()}
	defer func() {
		s := session.summary(l.now().UTC())
		l.logger.Info("watch session ended",
			"duration", s.Duration.Round(time.Millisecond),
			"runs", s.Runs,
			"failed", s.Failed,
			"initial_score", s.InitialScore,
			"final_score", s.FinalScore,
			"delta", s.Delta,
		)
	}()

	if !l.transition(ctx, Running) {
		return session.summary(l.now().UTC()), nil
	}
	// The baseline predates the first run so edits made while it runs are
	// picked up by the first check.
	last, err := l.snapshot()
	if err != nil {
		l.logger.Warn("initial snapshot failed", "error", err)
	}
	out, err := l.runOnce(ctx, pipeline.Full)
	session.observe(out)
	if err != nil && errs.IsFatal(errs.CodeOf(err)) {
		return session.summary(l.now().UTC()), err
	}
	l.transition(ctx, Idle)

	wake := l.wake
	if wake == nil && len(l.cfg.Roots) > 0 {
		n, err := newNotifier(l.cfg.Roots, l.cfg.Exclude, l.logger)
		if err != nil {
			l.logger.Warn("filesystem notifications unavailable, polling only", "error", err)
		} else {
			defer n.close()
			go n.run(ctx)
			wake = n.wake
		}
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	check := func() {
		current, err := l.snapshot()
		if err != nil {
			l.logger.Warn("watch snapshot failed", "error", err)
			return
		}
		if !changed(last, current) {
			return
		}
		last = current
		if !l.transition(ctx, PendingChange) || !l.transition(ctx, DebounceWait) {
			return
		}
		if debounce == nil {
			debounce = time.NewTimer(l.cfg.Debounce)
			debounceC = debounce.C
			return
		}
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(l.cfg.Debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return session.summary(l.now().UTC()), nil
		case <-ticker.C:
			check()
		case <-wake:
			check()
		case <-debounceC:
			debounce, debounceC = nil, nil
			if !l.transition(ctx, Triggered) || !l.transition(ctx, Running) {
				return session.summary(l.now().UTC()), nil
			}
			if current, err := l.snapshot(); err == nil {
				last = current
			}
			out, err := l.runOnce(ctx, pipeline.Incremental)
			session.observe(out)
			if err != nil {
				l.logger.Warn("watch run failed", "error", err)
			}
			l.transition(ctx, Idle)
		}
	}
}

// runOnce runs the pipeline detached from ctx. Cancelling ctx gives the
// run GracePeriod to finish before its own context is cancelled.
func (l *Loop) runOnce(ctx context.Context, mode pipeline.Mode) (*pipeline.Outcome, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		l.logger.Info("waiting for in-flight run", "grace_period", l.cfg.GracePeriod)
		timer := time.NewTimer(l.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			l.logger.Warn("grace period expired, cancelling run")
			cancel()
		case <-runCtx.Done():
		}
	})
	defer stop()

	opts := l.base
	opts.Mode = mode
	opts.Resume = nil
	opts.DryRun = false
	out, err := l.runner.Run(runCtx, opts)
	if out != nil && l.onRun != nil {
		l.onRun(out)
	}
	if out != nil {
		l.logger.Info("watch run finished", "run_id", out.RunID, "mode", mode, "status", out.Status, "reused", out.Reused)
	}
	return out, err
}

func changed(prev, next map[string]string) bool {
	if len(prev) != len(next) {
		return true
	}
	for id, hash := range next {
		if prev[id] != hash {
			return true
		}
	}
	return false
}
