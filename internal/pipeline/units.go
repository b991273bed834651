package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/ledger"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

// runUnits analyses units on at most Concurrency workers. Admission stops
// when ctx is cancelled; units already admitted run to completion under
// their own timeout.
func (o *Orchestrator) runUnits(ctx context.Context, st *runState, units []component.Component) {
	total := len(units)
	if total == 0 {
		return
	}

	actx := analyzer.NewContext(st.graph, st.results, o.settings.EntryKinds, o.reader)
	sem := semaphore.NewWeighted(int64(st.opts.Concurrency))
	var (
		group errgroup.Group
		done  atomic.Int64
	)
	for _, c := range units {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			status := o.runUnit(ctx, st, actx, c)
			n := done.Add(1)
			if st.opts.OnUnit != nil {
				st.opts.OnUnit(UnitEvent{ID: c.ID, Status: status, Done: int(n), Total: total})
			}
			return nil
		})
	}
	_ = group.Wait()
	st.mu.Lock()
	st.out.Analyzed += int(done.Load())
	st.mu.Unlock()
}

func (o *Orchestrator) runUnit(ctx context.Context, st *runState, actx *analyzer.Context, c component.Component) ledger.Status {
	o.updateUnit(st, ledger.Unit{ID: c.ID, Status: ledger.Running, ContentHash: c.ContentHash})

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), st.opts.UnitTimeout)
	defer cancel()
	uctx, span := o.tracer.Start(uctx, "pipeline.unit", trace.WithAttributes(
		attribute.String("component.id", c.ID),
		attribute.String("component.kind", string(c.Kind)),
	))
	defer span.End()

	start := time.Now()
	res, err := o.analyzeWithin(uctx, c, actx, st.opts.UnitTimeout)
	elapsed := time.Since(start)

	if err != nil {
		status := ledger.Failed
		if errs.Is(err, errs.AnalyzerTimeout) {
			status = ledger.TimedOut
		}
		reason := failureReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		st.addFailure(synthesis.Failure{ID: c.ID, Status: string(status), Code: errs.CodeOf(err), Reason: reason})
		o.updateUnit(st, ledger.Unit{ID: c.ID, Status: status, ContentHash: c.ContentHash, Reason: reason})
		o.metrics.RecordUnit(string(c.Kind), string(status), elapsed)
		st.logger.Warn("component analysis failed", "component", c.ID, "status", status, "error", err)
		return status
	}

	st.results.Put(c.ID, res)
	ref, werr := cache.WriteResult(o.settings.OutputDir, c.ID, res)
	if werr != nil {
		o.warn(st, errs.Internal, "result artifact for "+c.ID+" not written", werr)
		ref = ""
	}
	st.recordRef(c.ID, ref)
	o.updateUnit(st, ledger.Unit{ID: c.ID, Status: ledger.Done, ContentHash: c.ContentHash, ResultRef: ref})
	o.metrics.RecordUnit(string(c.Kind), string(ledger.Done), elapsed)
	span.SetAttributes(attribute.Float64("component.score", res.Score))
	st.logger.Debug("component analysed", "component", c.ID, "score", res.Score, "duration", elapsed)
	return ledger.Done
}

type unitResult struct {
	res analyzer.Result
	err error
}

// analyzeWithin returns when the registry finishes or uctx expires,
// whichever comes first. An analyzer that ignores its context keeps running
// in the background and its late result is discarded.
func (o *Orchestrator) analyzeWithin(uctx context.Context, c component.Component, actx *analyzer.Context, timeout time.Duration) (analyzer.Result, error) {
	ch := make(chan unitResult, 1)
	go func() {
		res, err := o.registry.Analyze(uctx, c, actx)
		ch <- unitResult{res: res, err: err}
	}()
	select {
	case r := <-ch:
		return r.res, r.err
	case <-uctx.Done():
		return analyzer.Result{}, errs.Wrap(errs.AnalyzerTimeout, uctx.Err(), fmt.Sprintf("analysis exceeded %s", timeout)).ForComponent(c.ID)
	}
}

func (o *Orchestrator) updateUnit(st *runState, u ledger.Unit) {
	if st.ledger == nil {
		return
	}
	o.ledgerWrite(st, st.ledger.UpdateUnit(StageComponentAnalysis, u))
}

// failureReason drops the code and component prefixes errs.Error adds; the
// report already shows both.
func failureReason(err error) string {
	var coded *errs.Error
	if errors.As(err, &coded) {
		if coded.Err != nil {
			return coded.Message + ": " + coded.Err.Error()
		}
		return coded.Message
	}
	return err.Error()
}
