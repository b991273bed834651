package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/logging"
	"github.com/morozRed/cfgaudit/internal/pipeline"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

type fakeRunner struct {
	mu     sync.Mutex
	modes  []pipeline.Mode
	scores []float64
	block  func(ctx context.Context) error
	done   chan pipeline.Mode
}

func newFakeRunner(scores ...float64) *fakeRunner {
	return &fakeRunner{scores: scores, done: make(chan pipeline.Mode, 16)}
}

func (f *fakeRunner) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Outcome, error) {
	f.mu.Lock()
	n := len(f.modes)
	f.modes = append(f.modes, opts.Mode)
	block := f.block
	score := 7.0
	if n < len(f.scores) {
		score = f.scores[n]
	}
	f.mu.Unlock()

	status := pipeline.CompletedClean
	if block != nil {
		if err := block(ctx); err != nil {
			status = pipeline.Aborted
		}
	}
	f.done <- opts.Mode
	return &pipeline.Outcome{
		RunID:  "run",
		Mode:   opts.Mode,
		Status: status,
		Report: &synthesis.Report{CompositeScore: score},
	}, nil
}

func (f *fakeRunner) runs() []pipeline.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Mode(nil), f.modes...)
}

type fakeFS struct {
	mu     sync.Mutex
	hashes map[string]string
}

func (f *fakeFS) set(id, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[id] = hash
}

func (f *fakeFS) snapshot() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes))
	for id, hash := range f.hashes {
		out[id] = hash
	}
	return out, nil
}

func waitRun(t *testing.T, r *fakeRunner) pipeline.Mode {
	t.Helper()
	select {
	case mode := <-r.done:
		return mode
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a run")
		return ""
	}
}

type loopResult struct {
	summary Summary
	err     error
}

func start(ctx context.Context, l *Loop) <-chan loopResult {
	ch := make(chan loopResult, 1)
	go func() {
		s, err := l.Run(ctx)
		ch <- loopResult{summary: s, err: err}
	}()
	return ch
}

func TestLoopDebouncesBurstIntoOneIncrementalRun(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{"agent:a": "1"}}
	runner := newFakeRunner(6, 8)
	wake := make(chan struct{})
	var states []State
	var mu sync.Mutex
	loop := New(runner, fs.snapshot, pipeline.Options{}, Config{PollInterval: time.Hour, Debounce: 200 * time.Millisecond},
		WithLogger(logging.NewDiscardLogger()),
		WithWake(wake),
		WithStateHook(func(s State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := start(ctx, loop)

	seen := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(states)
	}

	assert.Equal(t, pipeline.Full, waitRun(t, runner))
	require.Eventually(t, func() bool { return seen() == 2 }, 5*time.Second, time.Millisecond)
	fs.set("agent:a", "2")
	wake <- struct{}{}
	require.Eventually(t, func() bool { return seen() == 4 }, 5*time.Second, time.Millisecond)
	fs.set("agent:a", "3")
	wake <- struct{}{}
	assert.Equal(t, pipeline.Incremental, waitRun(t, runner))

	require.Eventually(t, func() bool { return loop.State() == Idle }, 5*time.Second, 5*time.Millisecond)
	cancel()
	res := <-result
	require.NoError(t, res.err)

	assert.Equal(t, []pipeline.Mode{pipeline.Full, pipeline.Incremental}, runner.runs())
	assert.Equal(t, 2, res.summary.Runs)
	assert.Equal(t, 6.0, res.summary.InitialScore)
	assert.Equal(t, 8.0, res.summary.FinalScore)
	assert.InDelta(t, 2.0, res.summary.Delta, 0.0001)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Running, Idle, PendingChange, DebounceWait, PendingChange, DebounceWait, Triggered, Running, Idle}, states)
}

func TestLoopIgnoresWakeWithoutContentChange(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{"agent:a": "1"}}
	runner := newFakeRunner()
	wake := make(chan struct{})
	loop := New(runner, fs.snapshot, pipeline.Options{}, Config{PollInterval: time.Hour, Debounce: time.Millisecond},
		WithLogger(logging.NewDiscardLogger()), WithWake(wake))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := start(ctx, loop)

	waitRun(t, runner)
	wake <- struct{}{}
	wake <- struct{}{}
	cancel()
	res := <-result

	require.NoError(t, res.err)
	assert.Equal(t, 1, res.summary.Runs)
	assert.Equal(t, []pipeline.Mode{pipeline.Full}, runner.runs())
}

func TestLoopPollingDetectsChanges(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{"agent:a": "1"}}
	runner := newFakeRunner()
	loop := New(runner, fs.snapshot, pipeline.Options{}, Config{PollInterval: 5 * time.Millisecond},
		WithLogger(logging.NewDiscardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := start(ctx, loop)

	waitRun(t, runner)
	require.Eventually(t, func() bool { return loop.State() == Idle }, 5*time.Second, time.Millisecond)
	fs.set("skill:new", "9")
	assert.Equal(t, pipeline.Incremental, waitRun(t, runner))
	cancel()
	require.NoError(t, (<-result).err)
}

func TestEditDuringFirstRunTriggersRerun(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{"agent:a": "1"}}
	runner := newFakeRunner()
	var once sync.Once
	runner.block = func(context.Context) error {
		once.Do(func() { fs.set("agent:a", "2") })
		return nil
	}
	loop := New(runner, fs.snapshot, pipeline.Options{}, Config{PollInterval: 5 * time.Millisecond},
		WithLogger(logging.NewDiscardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := start(ctx, loop)

	assert.Equal(t, pipeline.Full, waitRun(t, runner))
	assert.Equal(t, pipeline.Incremental, waitRun(t, runner))
	cancel()
	res := <-result
	require.NoError(t, res.err)
	assert.Equal(t, []pipeline.Mode{pipeline.Full, pipeline.Incremental}, runner.runs())
}

func TestInFlightRunFinishesWithinGracePeriod(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{}}
	runner := newFakeRunner()
	release := make(chan struct{})
	started := make(chan struct{})
	var runErr error
	runner.block = func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		runErr = ctx.Err()
		return runErr
	}
	loop := New(runner, fs.snapshot, pipeline.Options{}, Config{GracePeriod: 5 * time.Second},
		WithLogger(logging.NewDiscardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	result := start(ctx, loop)
	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	res := <-result
	require.NoError(t, res.err)
	assert.NoError(t, runErr)
	assert.Equal(t, 1, res.summary.Runs)
	assert.Zero(t, res.summary.Failed)
}

func TestInFlightRunIsCancelledAfterGracePeriod(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{}}
	runner := newFakeRunner()
	started := make(chan struct{})
	var runErr error
	runner.block = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		runErr = ctx.Err()
		return runErr
	}
	loop := New(runner, fs.snapshot, pipeline.Options{}, Config{GracePeriod: 20 * time.Millisecond},
		WithLogger(logging.NewDiscardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	result := start(ctx, loop)
	<-started
	cancel()

	res := <-result
	require.NoError(t, res.err)
	assert.ErrorIs(t, runErr, context.Canceled)
	assert.Equal(t, 1, res.summary.Failed)
}

type fatalRunner struct{}

func (fatalRunner) Run(context.Context, pipeline.Options) (*pipeline.Outcome, error) {
	return &pipeline.Outcome{Status: pipeline.Aborted}, errs.New(errs.Discovery, "root missing")
}

func TestFatalFirstRunEndsLoop(t *testing.T) {
	fs := &fakeFS{hashes: map[string]string{}}
	loop := New(fatalRunner{}, fs.snapshot, pipeline.Options{}, Config{}, WithLogger(logging.NewDiscardLogger()))

	summary, err := loop.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, errs.Discovery, errs.CodeOf(err))
	assert.Equal(t, 1, summary.Runs)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending-change", PendingChange.String())
	assert.Equal(t, "debounce-wait", DebounceWait.String())
	assert.Equal(t, "triggered", Triggered.String())
	assert.Equal(t, "running", Running.String())
}
