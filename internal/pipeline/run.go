package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/graph"
	"github.com/morozRed/cfgaudit/internal/ledger"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

// errAborted stops the stage sequence after a cancellation or an abort
// decision. It never leaves Run.
var errAborted = errors.New("run aborted")

// cachedReason marks ledger units satisfied from the run cache.
const cachedReason = "cached"

// runState is the mutable state of one Run call.
type runState struct {
	opts   Options
	out    *Outcome
	logger *slog.Logger
	ledger *ledger.Ledger
	target string

	index      *cache.Index
	savedIndex *cache.Index
	components []component.Component
	scoped     []component.Component
	graph      *graph.Graph
	health     graph.Health
	results    *analyzer.ResultSet

	forceFull bool
	reuse     bool
	aborted   bool

	mu       sync.Mutex
	cached   map[string]bool
	refs     map[string]string
	failures []synthesis.Failure
}

func (st *runState) addFailure(f synthesis.Failure) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failures = append(st.failures, f)
}

func (st *runState) recordRef(id, ref string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if ref != "" {
		st.refs[id] = ref
	}
}

func (st *runState) addWarning(line string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.out.Warnings = append(st.out.Warnings, line)
}

func (st *runState) sortedFailures() []synthesis.Failure {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := append([]synthesis.Failure{}, st.failures...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *runState) analyzingFull() bool {
	return st.opts.Mode == Full || st.forceFull
}

// Run executes one audit. Only fatal failures (discovery, configuration) are
// returned as errors; unit failures and cancellation are reported through
// the Outcome status. Cleanup runs on every path except dry runs, which
// write nothing.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()
	st := &runState{
		opts:    opts,
		results: analyzer.NewResultSet(),
		cached:  make(map[string]bool),
		refs:    make(map[string]string),
		out: &Outcome{
			Mode:      opts.Mode,
			Results:   make(map[string]analyzer.Result),
			Failures:  []synthesis.Failure{},
			StartedAt: o.now().UTC(),
		},
	}
	if len(o.settings.Roots) > 0 {
		st.target = o.settings.Roots[0]
	}

	if opts.Resume != nil {
		h := opts.Resume.Header()
		if mode, err := ParseMode(h.Mode); err == nil {
			st.opts.Mode = mode
		}
		st.opts.Scope = h.Scope
		st.opts.DryRun = false
		st.out.Mode = st.opts.Mode
		st.out.RunID = h.RunID
		st.ledger = opts.Resume
	} else {
		st.out.RunID = o.newRunID()
	}
	st.logger = o.logger.With("run_id", st.out.RunID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", st.out.RunID),
		attribute.String("run.mode", string(st.opts.Mode)),
		attribute.Bool("run.dry", st.opts.DryRun),
		attribute.Bool("run.resumed", opts.Resume != nil),
	))
	defer span.End()

	switch {
	case st.opts.DryRun:
	case st.ledger != nil:
		o.ledgerWrite(st, st.ledger.Reopen())
	default:
		l, err := ledger.New(ledger.Path(o.settings.OutputDir, st.out.RunID), ledger.Header{
			RunID:     st.out.RunID,
			Mode:      string(st.opts.Mode),
			Target:    st.target,
			Scope:     st.opts.Scope,
			StartedAt: st.out.StartedAt,
		}, stageOrder)
		st.ledger = l
		o.ledgerWrite(st, err)
	}
	if st.ledger != nil {
		st.out.LedgerPath = st.ledger.FilePath()
	}

	if st.opts.SoftTimeout > 0 {
		timer := time.AfterFunc(st.opts.SoftTimeout, func() {
			st.logger.Warn("run exceeded soft timeout", "soft_timeout", st.opts.SoftTimeout)
			st.addWarning(fmt.Sprintf("run exceeded soft timeout of %s", st.opts.SoftTimeout))
		})
		defer timer.Stop()
	}

	st.logger.Info("run started", "mode", st.opts.Mode, "dry_run", st.opts.DryRun, "resumed", opts.Resume != nil)
	err := o.execute(ctx, st)
	if errors.Is(err, errAborted) {
		st.aborted = true
		err = nil
	}
	if err != nil {
		st.aborted = true
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if st.opts.DryRun {
		st.out.Status = CompletedClean
		if st.aborted {
			st.out.Status = Aborted
		}
		st.out.FinishedAt = o.now().UTC()
		return st.out, err
	}

	o.cleanup(ctx, st)
	span.SetAttributes(attribute.String("run.status", string(st.out.Status)))
	st.logger.Info("run finished",
		"status", st.out.Status,
		"analyzed", st.out.Analyzed,
		"failed", len(st.out.Failures),
		"duration", st.out.Duration(),
	)
	return st.out, err
}

func (o *Orchestrator) execute(ctx context.Context, st *runState) error {
	if err := o.stage(ctx, st, StageDiscovery, o.discover); err != nil {
		return err
	}

	idx, err := cache.Load(o.settings.CachePath())
	if err != nil {
		o.warn(st, errs.CodeOf(err), "run cache ignored", err)
	}
	st.index = idx

	if st.opts.Mode == Incremental {
		if err := o.stage(ctx, st, StageCacheDiff, o.diff); err != nil {
			return err
		}
	} else {
		o.setStage(st, StageCacheDiff, ledger.Skipped)
	}
	st.out.Plan = o.plan(st)

	if st.opts.DryRun {
		return nil
	}

	if st.reuse {
		st.out.Reused = true
		st.out.Report = st.index.LastReport
		st.logger.Info("nothing changed, reusing previous report", "previous_run", st.index.LastRunID)
		for _, name := range []string{StageComponentAnalysis, StageGraphAnalysis, StageSynthesis} {
			o.setStage(st, name, ledger.Skipped)
		}
		return o.stage(ctx, st, StageReporting, o.publish)
	}

	for _, step := range []struct {
		name string
		fn   func(context.Context, *runState) error
	}{
		{StageComponentAnalysis, o.analyze},
		{StageGraphAnalysis, o.analyzeGraph},
		{StageSynthesis, o.synthesize},
		{StageReporting, o.publish},
	} {
		if err := o.stage(ctx, st, step.name, step.fn); err != nil {
			return err
		}
	}
	return nil
}

// stage wraps one stage with its span, ledger transitions and duration
// metric. Cancellation is checked on entry.
func (o *Orchestrator) stage(ctx context.Context, st *runState, name string, fn func(context.Context, *runState) error) error {
	if ctx.Err() != nil {
		st.logger.Warn("run cancelled before stage", "stage", name)
		return errAborted
	}

	ctx, span := o.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	o.setStage(st, name, ledger.Running)
	err := fn(ctx, st)
	elapsed := time.Since(start)

	status := ledger.Done
	switch {
	case errors.Is(err, errAborted):
		status = ledger.Pending
		span.SetStatus(codes.Error, "aborted")
	case err != nil:
		status = ledger.Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.setStage(st, name, status)
	o.metrics.ObserveStage(name, elapsed)
	st.logger.Debug("stage finished", "stage", name, "status", status, "duration", elapsed)
	return err
}

func (o *Orchestrator) discover(ctx context.Context, st *runState) error {
	fromLedger := false
	if st.opts.Resume != nil && st.ledger.StageStatus(StageDiscovery) == ledger.Done {
		if inventory := st.ledger.Inventory(); len(inventory) > 0 {
			st.components = inventory
			fromLedger = true
			st.logger.Info("reusing discovered inventory from ledger", "components", len(inventory))
		}
	}
	if !fromLedger {
		found, err := component.Scan(component.ScanOptions{
			Roots:   o.settings.Roots,
			Layout:  o.settings.Layout,
			Exclude: o.settings.Exclude,
			OnSkip: func(path, reason string) {
				st.logger.Warn("component skipped", "path", path, "reason", reason)
				st.addWarning(fmt.Sprintf("skipped %s: %s", path, reason))
			},
		})
		if err != nil {
			if errs.CodeOf(err) != errs.Discovery {
				err = errs.Wrap(errs.Discovery, err, "discovery failed")
			}
			return err
		}
		st.components = found
	}

	st.scoped = st.opts.Scope.Filter(st.components)
	if st.opts.Scope.Explicit() && len(st.scoped) == 0 {
		return errs.Newf(errs.Discovery, "no component matches scope %s", describeScope(st.opts.Scope))
	}
	if st.ledger != nil && !fromLedger {
		o.ledgerWrite(st, st.ledger.SetInventory(st.components))
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("components.total", len(st.components)),
		attribute.Int("components.scoped", len(st.scoped)),
	)
	st.logger.Debug("discovery finished", "components", len(st.components), "scoped", len(st.scoped))
	return nil
}

func describeScope(s component.Scope) string {
	parts := make([]string, 0, 2)
	if len(s.Kinds) > 0 {
		kinds := make([]string, 0, len(s.Kinds))
		for _, kind := range s.Kinds {
			kinds = append(kinds, string(kind))
		}
		parts = append(parts, "kinds="+strings.Join(kinds, ","))
	}
	if len(s.IDs) > 0 {
		parts = append(parts, "ids="+strings.Join(s.IDs, ","))
	}
	return strings.Join(parts, " ")
}

func (o *Orchestrator) diff(ctx context.Context, st *runState) error {
	d := st.index.Diff(st.components)
	st.out.Diff = &d
	st.logger.Info("cache diff",
		"changed", len(d.Changed),
		"new", len(d.New),
		"deleted", len(d.Deleted),
		"unchanged", len(d.Unchanged),
	)
	if !d.Empty() || st.opts.DryRun {
		return nil
	}
	if st.index.LastReport == nil {
		st.logger.Info("no previous report cached, running full analysis")
		st.forceFull = true
		return nil
	}
	switch decision := st.opts.Decide(ctx, d); decision {
	case DecisionAbort:
		st.logger.Info("run aborted by decision")
		return errAborted
	case DecisionFull:
		st.forceFull = true
	default:
		st.reuse = true
	}
	return nil
}

// plan lists the scoped ids that need analysis before resume is considered.
func (o *Orchestrator) plan(st *runState) []string {
	if st.reuse {
		return []string{}
	}
	needs := map[string]bool(nil)
	if !st.analyzingFull() && st.out.Diff != nil {
		needs = make(map[string]bool)
		for _, id := range st.out.Diff.NeedsAnalysis() {
			needs[id] = true
		}
	}
	out := make([]string, 0, len(st.scoped))
	for _, c := range st.scoped {
		if needs == nil || needs[c.ID] {
			out = append(out, c.ID)
		}
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) buildGraph(ctx context.Context, st *runState) {
	_, span := o.tracer.Start(ctx, "pipeline.graph-build")
	defer span.End()

	opts := graph.Options{Extractors: o.extractors, Reader: o.reader, EntryKinds: o.settings.EntryKinds}
	var issues []graph.BuildIssue
	if st.opts.Mode == Incremental {
		opts.Previous, opts.Changed = st.index.GraphSnapshot(st.components)
		st.graph, issues = graph.BuildIncremental(st.components, opts)
	} else {
		st.graph, issues = graph.BuildWithOptions(st.components, opts)
	}
	for _, issue := range issues {
		o.warn(st, errs.GraphBuild, issue.Component+": "+issue.Message, nil)
	}
	span.SetAttributes(attribute.Int("graph.nodes", len(st.graph.Nodes)), attribute.Int("graph.issues", len(issues)))
}

func (o *Orchestrator) analyze(ctx context.Context, st *runState) error {
	o.buildGraph(ctx, st)

	planned := make(map[string]bool, len(st.out.Plan))
	for _, id := range st.out.Plan {
		planned[id] = true
	}
	previous := make(map[string]ledger.Unit)
	if st.opts.Resume != nil {
		for _, u := range st.ledger.Units(StageComponentAnalysis) {
			previous[u.ID] = u
		}
	}

	inScope := make(map[string]bool, len(st.scoped))
	units := make([]ledger.Unit, 0, len(st.scoped))
	dispatch := make([]component.Component, 0, len(st.scoped))
	for _, c := range st.scoped {
		inScope[c.ID] = true
		if u, ok := previous[c.ID]; ok && u.Status == ledger.Done && u.ContentHash == c.ContentHash {
			if o.restore(st, c, u) {
				continue
			}
		}
		if !planned[c.ID] {
			if res, ok := st.index.Result(c.ID, c.ContentHash); ok {
				st.results.Put(c.ID, res)
				st.cached[c.ID] = true
				units = append(units, ledger.Unit{
					ID:          c.ID,
					Status:      ledger.Done,
					ContentHash: c.ContentHash,
					ResultRef:   st.index.Entries[c.ID].OutputRef,
					Reason:      cachedReason,
				})
				continue
			}
		}
		dispatch = append(dispatch, c)
		units = append(units, ledger.Unit{ID: c.ID, Status: ledger.Pending, ContentHash: c.ContentHash})
	}

	// Out-of-scope components keep their cached rows in the report.
	for _, c := range st.components {
		if inScope[c.ID] {
			continue
		}
		if res, ok := st.index.Result(c.ID, c.ContentHash); ok {
			st.results.Put(c.ID, res)
			st.cached[c.ID] = true
		}
	}

	if st.ledger != nil {
		if st.opts.Resume != nil {
			for _, u := range units {
				o.ledgerWrite(st, st.ledger.UpdateUnit(StageComponentAnalysis, u))
			}
		} else {
			o.ledgerWrite(st, st.ledger.AddUnits(StageComponentAnalysis, units))
		}
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("units.dispatched", len(dispatch)),
		attribute.Int("units.cached", len(st.cached)),
	)
	st.logger.Info("analysing components", "dispatch", len(dispatch), "cached", len(st.cached), "workers", st.opts.Concurrency)
	o.runUnits(ctx, st, dispatch)

	if ctx.Err() != nil {
		st.logger.Warn("run cancelled during component analysis")
		return errAborted
	}
	return nil
}

// restore reuses a unit finished by the run being resumed.
func (o *Orchestrator) restore(st *runState, c component.Component, u ledger.Unit) bool {
	var (
		res analyzer.Result
		ok  bool
	)
	if u.ResultRef != "" {
		loaded, err := cache.ReadResult(o.settings.OutputDir, u.ResultRef)
		if err == nil && !loaded.Stale(c.ContentHash) {
			res, ok = loaded, true
		}
	}
	if !ok && u.Reason == cachedReason {
		res, ok = st.index.Result(c.ID, c.ContentHash)
	}
	if !ok {
		st.logger.Debug("finished unit has no usable result, re-running", "component", c.ID)
		return false
	}
	st.results.Put(c.ID, res)
	if u.Reason == cachedReason {
		st.cached[c.ID] = true
	} else {
		st.recordRef(c.ID, u.ResultRef)
	}
	return true
}

func (o *Orchestrator) analyzeGraph(ctx context.Context, st *runState) error {
	st.health = st.graph.Health(o.settings.EntryKinds, hubCount)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("graph.cycles", len(st.health.Cycles)),
		attribute.Int("graph.orphans", len(st.health.Orphans)),
		attribute.Int("graph.broken_links", len(st.health.BrokenLinks)),
	)
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, st *runState) error {
	st.out.Failures = st.sortedFailures()
	st.out.Results = st.results.Snapshot()
	st.out.Report = synthesis.Build(synthesis.Input{
		RunID:      st.out.RunID,
		Target:     st.target,
		Mode:       string(st.opts.Mode),
		Components: st.components,
		Results:    st.out.Results,
		Cached:     st.cached,
		Failures:   st.out.Failures,
		Health:     st.health,
		EntryKinds: o.settings.EntryKinds,
	})
	trace.SpanFromContext(ctx).SetAttributes(attribute.Float64("report.composite", st.out.Report.CompositeScore))
	return nil
}

// publish writes the report and persists the cache. Write failures here
// are warnings; the report is still returned to the caller.
func (o *Orchestrator) publish(ctx context.Context, st *runState) error {
	if st.out.Report != nil {
		if err := o.writer.Write(ctx, st.out.Report); err != nil {
			o.warn(st, errs.Internal, "report not written", err)
		}
	}
	if !st.reuse {
		o.saveCache(st)
	}
	return nil
}

func (o *Orchestrator) saveCache(st *runState) {
	snapshot := st.results.Snapshot()
	fresh := make(map[string]analyzer.Result, len(snapshot))
	unchanged := make(map[string]analyzer.Result, len(snapshot))
	for id, res := range snapshot {
		if st.cached[id] {
			unchanged[id] = res
		} else {
			fresh[id] = res
		}
	}

	next := st.index.Merge(st.components, fresh, unchanged)
	if st.graph != nil {
		next.SetEdges(st.components, st.graph.AllReferences())
	}
	st.mu.Lock()
	for id, ref := range st.refs {
		next.SetOutputRef(id, ref)
	}
	st.mu.Unlock()
	if st.out.Report != nil {
		next.LastRunID = st.out.RunID
		next.LastRunAt = o.now().UTC()
		next.Revision = cache.ReadRevision(st.target)
		next.LastReport = st.out.Report
	}

	if err := cache.Save(next, o.settings.CachePath()); err != nil {
		o.warn(st, errs.Internal, "run cache not saved", err)
		return
	}
	st.savedIndex = next
}

// warn records a non-fatal problem on the outcome, the log and the metrics.
func (o *Orchestrator) warn(st *runState, code errs.Code, message string, err error) {
	line := message
	if err != nil {
		line = fmt.Sprintf("%s: %v", message, err)
	}
	st.addWarning(line)
	st.logger.Warn(message, "code", code, "error", err)
	o.metrics.RecordWarning(string(code))
}

func (o *Orchestrator) setStage(st *runState, name string, status ledger.Status) {
	if st.ledger == nil {
		return
	}
	o.ledgerWrite(st, st.ledger.SetStage(name, status))
}

// ledgerWrite logs the first ledger write failure; the run continues.
func (o *Orchestrator) ledgerWrite(st *runState, err error) {
	if err == nil {
		return
	}
	st.mu.Lock()
	first := st.out.LedgerErr == nil
	if first {
		st.out.LedgerErr = err
	}
	st.mu.Unlock()
	if first {
		o.warn(st, errs.LedgerWrite, "ledger write failed, continuing", err)
	}
}
