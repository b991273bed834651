package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
)

var stages = []string{"discovery", "component-analysis", "graph-analysis", "synthesis", "reporting", "cleanup"}

func started(minutes int) time.Time {
	return time.Date(2026, 3, 1, 12, minutes, 0, 0, time.UTC)
}

func newLedger(t *testing.T, dir, runID string, at time.Time) *Ledger {
	t.Helper()
	l, err := New(filepath.Join(dir, runID+".md"), Header{RunID: runID, Mode: "full", Target: "/work/.claude", StartedAt: at}, stages)
	require.NoError(t, err)
	return l
}

func inventory() []component.Component {
	return []component.Component{
		{ID: "skill:pdf", Kind: component.Skill, Name: "pdf", Path: "skills/pdf", Root: "/work/.claude", Files: []string{"skills/pdf/SKILL.md", "skills/pdf/ref notes.md"}, Primary: "skills/pdf/SKILL.md", ContentHash: "aaa", LastModified: started(1)},
		{ID: "agent:a1", Kind: component.Agent, Name: "a1", Path: "agents/a1.md", Root: "/work/.claude", Files: []string{"agents/a1.md"}, ContentHash: "bbb", LastModified: started(2)},
		{ID: "mcp:github", Kind: component.MCPServer, Name: "github", Path: ".mcp.json#github", Root: "/work/.claude", Files: []string{".mcp.json"}, ContentHash: "ccc"},
	}
}

func TestLedgerPersistsEveryTransition(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(t, dir, "run-1", started(0))

	require.NoError(t, l.SetInventory(inventory()))
	require.NoError(t, l.SetStage("discovery", Done))
	require.NoError(t, l.SetStage("component-analysis", Running))
	require.NoError(t, l.AddUnits("component-analysis", []Unit{{ID: "agent:a1", ContentHash: "bbb"}, {ID: "skill:pdf", ContentHash: "aaa"}}))
	require.NoError(t, l.UpdateUnit("component-analysis", Unit{ID: "agent:a1", Status: Done, ResultRef: "results/x-bbb.json"}))
	require.NoError(t, l.UpdateUnit("component-analysis", Unit{ID: "skill:pdf", Status: TimedOut, Reason: `analyzer "llm" exceeded 30s`}))

	raw, err := os.ReadFile(l.FilePath())
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "# cfgaudit run run-1\n")
	assert.Contains(t, text, "status: running\n")
	assert.Contains(t, text, "- [x] discovery status=done\n")
	assert.Contains(t, text, "- [ ] component-analysis status=running\n")
	assert.Contains(t, text, "- [x] agent:a1 status=done hash=bbb ref=results/x-bbb.json\n")
	assert.Contains(t, text, `- [ ] skill:pdf status=timedOut hash=aaa reason="analyzer \"llm\" exceeded 30s"`)
	assert.Contains(t, text, "## inventory\n")

	loaded, err := Load(l.FilePath())
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID())
	assert.False(t, loaded.Finished())
	assert.Equal(t, Done, loaded.StageStatus("discovery"))
	assert.Equal(t, Running, loaded.StageStatus("component-analysis"))
	assert.Equal(t, Pending, loaded.StageStatus("synthesis"))
	assert.Equal(t, l.Units("component-analysis"), loaded.Units("component-analysis"))
	assert.Equal(t, l.Inventory(), loaded.Inventory())
	assert.Equal(t, l.Header().StartedAt, loaded.Header().StartedAt)
	assert.Len(t, loaded.Stages(), len(stages))
}

func TestLedgerFinish(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(t, dir, "run-1", started(0))
	l.now = func() time.Time { return started(5) }
	require.NoError(t, l.Finish(RunCompletedWithFailures))

	loaded, err := Load(l.FilePath())
	require.NoError(t, err)
	assert.True(t, loaded.Finished())
	assert.Equal(t, RunCompletedWithFailures, loaded.Header().Status)
	assert.Equal(t, started(5), loaded.Header().FinishedAt)

	require.NoError(t, loaded.Reopen())
	assert.False(t, loaded.Finished())
}

func TestLedgerScopeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := New(filepath.Join(dir, "run-s.md"), Header{RunID: "run-s", Mode: "incremental", Scope: component.Scope{Kinds: []component.Kind{component.Agent, component.Skill}, IDs: []string{"agent:a1"}}}, stages)
	require.NoError(t, err)

	loaded, err := Load(l.FilePath())
	require.NoError(t, err)
	assert.Equal(t, l.Header().Scope, loaded.Header().Scope)
	assert.Equal(t, "incremental", loaded.Header().Mode)
}

func TestLedgerWriteFailureIsNonFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	l, err := New(filepath.Join(blocker, "run-1.md"), Header{RunID: "run-1"}, stages)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LedgerWrite))
	require.NotNil(t, l)

	err = l.UpdateUnit("component-analysis", Unit{ID: "agent:a1", Status: Done})
	assert.True(t, errs.Is(err, errs.LedgerWrite))
	assert.Equal(t, Done, l.Units("component-analysis")[0].Status)
	assert.True(t, errs.Is(l.Err(), errs.LedgerWrite))
}

func TestLedgerConcurrentTransitions(t *testing.T) {
	l := newLedger(t, t.TempDir(), "run-c", started(0))
	var units []Unit
	for i := 0; i < 24; i++ {
		units = append(units, Unit{ID: fmt.Sprintf("agent:a%02d", i)})
	}
	require.NoError(t, l.AddUnits("component-analysis", units))

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, l.UpdateUnit("component-analysis", Unit{ID: id, Status: Done}))
		}(u.ID)
	}
	wg.Wait()

	loaded, err := Load(l.FilePath())
	require.NoError(t, err)
	got := loaded.Units("component-analysis")
	require.Len(t, got, 24)
	for _, u := range got {
		assert.Equal(t, Done, u.Status, u.ID)
	}
	assert.Equal(t, "agent:a00", got[0].ID)
}

func TestLatestReturnsNewestUnfinished(t *testing.T) {
	dir := t.TempDir()
	newLedger(t, dir, "run-old", started(0))
	newLedger(t, dir, "run-new", started(10))
	done := newLedger(t, dir, "run-done", started(20))
	require.NoError(t, done.Finish(RunCompletedClean))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.md"), []byte("not a ledger"), 0644))

	l, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-new", l.RunID())

	_, err = Latest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoUnfinishedRun)
}

func finishAll(t *testing.T, l *Ledger, stage Status) {
	t.Helper()
	for _, name := range stages {
		require.NoError(t, l.SetStage(name, stage))
	}
}

func TestResumable(t *testing.T) {
	dir := t.TempDir()

	aborted := newLedger(t, dir, "run-aborted", started(0))
	require.NoError(t, aborted.SetStage("discovery", Done))
	require.NoError(t, aborted.AddUnits("component-analysis", []Unit{{ID: "agent:a1", Status: Done}, {ID: "agent:a2"}}))
	require.NoError(t, aborted.Finish(RunAborted))

	failed := newLedger(t, dir, "run-failed", started(1))
	finishAll(t, failed, Done)
	require.NoError(t, failed.AddUnits("component-analysis", []Unit{{ID: "agent:a1", Status: Done}, {ID: "agent:a2", Status: Failed}}))
	require.NoError(t, failed.Finish(RunCompletedWithFailures))

	lateAbort := newLedger(t, dir, "run-late-abort", started(2))
	require.NoError(t, lateAbort.AddUnits("component-analysis", []Unit{{ID: "agent:a1", Status: Done}}))
	require.NoError(t, lateAbort.SetStage("discovery", Done))
	require.NoError(t, lateAbort.SetStage("component-analysis", Done))
	require.NoError(t, lateAbort.Finish(RunAborted))

	early := newLedger(t, dir, "run-early-abort", started(3))
	require.NoError(t, early.SetStage("discovery", Failed))
	require.NoError(t, early.Finish(RunAborted))

	clean := newLedger(t, dir, "run-clean", started(4))
	finishAll(t, clean, Done)
	require.NoError(t, clean.Finish(RunCompletedClean))

	assert.True(t, aborted.Resumable())
	assert.True(t, failed.Resumable())
	assert.True(t, lateAbort.Resumable())
	assert.False(t, early.Resumable())
	assert.False(t, clean.Resumable())

	l, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-late-abort", l.RunID())
}

func TestLatestFindsAbortedAndFailedRuns(t *testing.T) {
	for name, status := range map[string]RunStatus{
		"aborted":       RunAborted,
		"with-failures": RunCompletedWithFailures,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			l := newLedger(t, dir, "run-"+name, started(0))
			require.NoError(t, l.AddUnits("component-analysis", []Unit{{ID: "agent:a1", Status: TimedOut}}))
			require.NoError(t, l.Finish(status))

			got, err := Latest(dir)
			require.NoError(t, err)
			assert.Equal(t, "run-"+name, got.RunID())
			assert.Equal(t, status, got.Header().Status)
		})
	}
}

func TestPruneKeepsResumableLedger(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(t, dir, "run-aborted", started(0))
	require.NoError(t, l.AddUnits("component-analysis", []Unit{{ID: "agent:a1"}}))
	require.NoError(t, l.Finish(RunAborted))
	for i := 1; i <= 3; i++ {
		done := newLedger(t, dir, fmt.Sprintf("run-%d", i), started(i*10))
		require.NoError(t, done.Finish(RunCompletedClean))
	}

	res, err := Prune(dir, Retention{KeepRuns: 1}, started(60))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, res.Archived)

	got, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-aborted", got.RunID())
}

func TestLoadRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"no-id.md":    "mode: full\n",
		"bad-unit.md": "run_id: r\n\n## component-analysis\n\nagent:a1 done\n",
		"bad-time.md": "run_id: r\nstarted_at: yesterday\n",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestPruneArchivesAndExpires(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		l := newLedger(t, dir, fmt.Sprintf("run-%d", i), started(i*10))
		l.now = func() time.Time { return started(i*10 + 5) }
		require.NoError(t, l.Finish(RunCompletedClean))
	}
	newLedger(t, dir, "run-open", started(1))

	res, err := Prune(dir, Retention{KeepRuns: 2}, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-0", "run-1"}, res.Archived)

	remaining, err := List(dir)
	require.NoError(t, err)
	var ids []string
	for _, l := range remaining {
		ids = append(ids, l.RunID())
	}
	assert.Equal(t, []string{"run-3", "run-2", "run-open"}, ids)

	archived, err := Load(ArchivePath(dir, "run-0"))
	require.NoError(t, err)
	assert.Equal(t, "run-0", archived.RunID())
	assert.Equal(t, RunCompletedClean, archived.Header().Status)

	old := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(ArchivePath(dir, "run-0"), old, old))
	res, err = Prune(dir, Retention{KeepRuns: 2, MaxArchiveAge: 24 * time.Hour}, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-0"}, res.Deleted)
	assert.Empty(t, res.Archived)
	_, err = os.Stat(ArchivePath(dir, "run-1"))
	assert.NoError(t, err)
}

func TestPruneArchiveAfterAge(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(t, dir, "run-a", started(0))
	l.now = func() time.Time { return started(1) }
	require.NoError(t, l.Finish(RunCompletedClean))

	res, err := Prune(dir, Retention{ArchiveAfter: time.Hour}, started(30))
	require.NoError(t, err)
	assert.Empty(t, res.Archived)

	res, err = Prune(dir, Retention{ArchiveAfter: time.Hour}, started(1).Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a"}, res.Archived)
	entries, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".md.zst"))
}
