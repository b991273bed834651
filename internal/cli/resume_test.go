package cli

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/logging"
	"github.com/morozRed/cfgaudit/internal/pipeline"
)

// scriptedAnalyzer fails the listed components and calls onCall first.
type scriptedAnalyzer struct {
	mu     sync.Mutex
	fail   map[string]bool
	onCall func(id string)
}

func (a *scriptedAnalyzer) Name() string { return "scripted" }

func (a *scriptedAnalyzer) Analyze(ctx context.Context, c component.Component, _ *analyzer.Context) (analyzer.Result, error) {
	a.mu.Lock()
	hook, fail := a.onCall, a.fail[c.ID]
	a.mu.Unlock()
	if hook != nil {
		hook(c.ID)
	}
	if fail {
		return analyzer.Result{}, errors.New("upstream rejected the request")
	}
	return analyzer.Result{Score: 8, Findings: []string{}}, nil
}

// runWithAnalyzer runs the pipeline against root's configuration with a
// scripted analyzer in place of the defaults.
func runWithAnalyzer(t *testing.T, ctx context.Context, root string, a *scriptedAnalyzer, opts pipeline.Options) *pipeline.Outcome {
	t.Helper()
	cfg, err := config.Load(config.LoadOptions{Dir: root})
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	registry := analyzer.NewRegistry(analyzer.WeightedAverage)
	registry.RegisterKinds([]component.Kind{component.Command, component.Agent}, a, 1)
	orch := pipeline.New(pipeline.SettingsFrom(cfg), registry, pipeline.WithLogger(logging.NewDiscardLogger()))
	out, err := orch.Run(ctx, opts)
	if err != nil {
		t.Fatalf("scripted run failed: %v", err)
	}
	return out
}

func TestResumeAfterFailedUnits(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	first := runWithAnalyzer(t, context.Background(), root, &scriptedAnalyzer{fail: map[string]bool{"agent:agent2": true}}, pipeline.Options{Mode: pipeline.Full})
	if first.Status != pipeline.CompletedWithFailures {
		t.Fatalf("expected the first run to complete with failures, got %s", first.Status)
	}

	withWorkingDir(t, root, func() {
		out, err := executeCLI(t, "run", "--resume", "--json")
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		var summary RunSummary
		decodeJSON(t, out, &summary)
		if summary.RunID != first.RunID {
			t.Fatalf("expected run %s to be resumed, got %s", first.RunID, summary.RunID)
		}
		if summary.Status != string(pipeline.CompletedClean) || summary.Analyzed != 1 || summary.Failed != 0 {
			t.Fatalf("expected only agent:agent2 to be re-analyzed cleanly, got %+v", summary)
		}

		_, err = executeCLI(t, "run", "--resume")
		if err == nil || !strings.Contains(err.Error(), "nothing to resume") {
			t.Fatalf("expected a finished run to leave nothing to resume, got %v", err)
		}
	})
}

func TestResumeAfterCancelledRun(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := runWithAnalyzer(t, ctx, root, &scriptedAnalyzer{onCall: func(string) { cancel() }}, pipeline.Options{
		Mode:        pipeline.Full,
		Concurrency: 1,
		UnitTimeout: 5 * time.Second,
	})
	if first.Status != pipeline.Aborted {
		t.Fatalf("expected the first run to abort, got %s", first.Status)
	}

	withWorkingDir(t, root, func() {
		status, err := executeCLI(t, "status", "--json")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var st StatusSummary
		decodeJSON(t, status, &st)
		if st.Unfinished == "" {
			t.Fatalf("expected status to report the aborted run, got %+v", st)
		}

		out, err := executeCLI(t, "run", "--resume", "--json")
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		var summary RunSummary
		decodeJSON(t, out, &summary)
		if summary.RunID != first.RunID {
			t.Fatalf("expected run %s to be resumed, got %s", first.RunID, summary.RunID)
		}
		if summary.Status != string(pipeline.CompletedClean) || summary.Analyzed != 4 {
			t.Fatalf("expected the four pending units to finish, got %+v", summary)
		}
	})
}
