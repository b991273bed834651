package pipeline

import (
	"context"
	"time"

	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/history"
	"github.com/morozRed/cfgaudit/internal/ledger"
)

// cleanup is the last stage on every non-dry path. It runs detached from
// the run context so a cancelled run still persists what it has.
func (o *Orchestrator) cleanup(ctx context.Context, st *runState) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := o.tracer.Start(ctx, "pipeline."+StageCleanup)
	defer span.End()

	start := time.Now()
	o.setStage(st, StageCleanup, ledger.Running)

	// Partial progress of an aborted run is still worth keeping.
	if st.savedIndex == nil && st.graph != nil {
		o.saveCache(st)
	}
	if st.savedIndex != nil {
		keep := st.savedIndex.OutputRefs()
		st.mu.Lock()
		for _, ref := range st.refs {
			keep[ref] = true
		}
		st.mu.Unlock()
		if n, err := cache.PruneResults(o.settings.OutputDir, keep); err != nil {
			o.warn(st, errs.Internal, "result artifacts not pruned", err)
		} else if n > 0 {
			st.logger.Debug("pruned result artifacts", "count", n)
		}
	}

	st.out.Failures = st.sortedFailures()
	if len(st.out.Results) == 0 {
		st.out.Results = st.results.Snapshot()
	}
	st.out.Status = o.status(st)
	st.out.FinishedAt = o.now().UTC()

	o.setStage(st, StageCleanup, ledger.Done)
	if st.ledger != nil {
		o.ledgerWrite(st, st.ledger.Finish(runStatus(st.out.Status)))
	}

	res, err := ledger.Prune(o.settings.RunsDir(), o.settings.Retention, st.out.FinishedAt)
	if err != nil {
		o.warn(st, errs.Internal, "ledger retention failed", err)
	} else if len(res.Archived)+len(res.Deleted) > 0 {
		st.logger.Debug("ledger retention applied", "archived", len(res.Archived), "deleted", len(res.Deleted))
	}

	o.record(ctx, st)
	o.metrics.RecordRun(string(st.out.Mode), string(st.out.Status))
	o.metrics.SetReport(st.out.Report)
	o.metrics.ObserveStage(StageCleanup, time.Since(start))
}

func (o *Orchestrator) status(st *runState) Status {
	switch {
	case st.aborted:
		return Aborted
	case len(st.out.Failures) > 0:
		return CompletedWithFailures
	case st.out.Reused && st.out.Report != nil && st.out.Report.Failed():
		return CompletedWithFailures
	default:
		return CompletedClean
	}
}

func runStatus(s Status) ledger.RunStatus {
	switch s {
	case CompletedClean:
		return ledger.RunCompletedClean
	case CompletedWithFailures:
		return ledger.RunCompletedWithFailures
	default:
		return ledger.RunAborted
	}
}

// record appends the run to the history store. Reused runs are not new
// data points and are skipped.
func (o *Orchestrator) record(ctx context.Context, st *runState) {
	if o.history == nil || st.out.Reused {
		return
	}
	run := history.Run{
		ID:         st.out.RunID,
		Mode:       string(st.out.Mode),
		Status:     string(st.out.Status),
		Target:     st.target,
		Revision:   cache.ReadRevision(st.target),
		Components: len(st.components),
		Failed:     len(st.out.Failures),
		StartedAt:  st.out.StartedAt,
		FinishedAt: st.out.FinishedAt,
	}
	if r := st.out.Report; r != nil {
		run.CompositeScore = r.CompositeScore
		run.Verdict = string(r.Verdict)
		run.Analyzed = r.Coverage.Analyzed
		run.Cached = r.Coverage.Cached
		run.Cycles = len(r.Graph.Cycles)
		run.Orphans = len(r.Graph.Orphans)
		run.BrokenLinks = len(r.Graph.BrokenLinks)
		run.Scores = make(map[string]float64, len(r.Components))
		for _, row := range r.Components {
			if row.Score != nil {
				run.Scores[row.ID] = *row.Score
			}
		}
	}
	if err := o.history.Record(ctx, run); err != nil {
		o.warn(st, errs.Internal, "run history not recorded", err)
		return
	}
	if o.settings.KeepHistory > 0 {
		if _, err := o.history.Prune(ctx, o.settings.KeepHistory); err != nil {
			o.warn(st, errs.Internal, "run history not pruned", err)
		}
	}
}
