package cli

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/history"
	"github.com/morozRed/cfgaudit/internal/pipeline"
	"github.com/morozRed/cfgaudit/internal/report"
)

// writeScenario lays out three commands and two agents:
// cmd1 -> agent1 -> agent2 and cmd2 -> agent2.
func writeScenario(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"commands/cmd1.md": "---\ndescription: first\n---\nSee @agent-agent1.\n",
		"commands/cmd2.md": "---\ndescription: second\n---\nSee @agent-agent2.\n",
		"commands/cmd3.md": "---\ndescription: third\n---\nStandalone.\n",
		"agents/agent1.md": "---\nname: agent1\ndescription: first agent\n---\nHands off to @agent-agent2.\n",
		"agents/agent2.md": "---\nname: agent2\ndescription: second agent\n---\nFinishes the job.\n",
	}
	for rel, content := range files {
		mustWriteFile(t, filepath.Join(root, ".claude", filepath.FromSlash(rel)), content)
	}
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var runErr error
	out := captureStdout(t, func() {
		cmd := NewRootCommand("test")
		cmd.SetArgs(append(args, "--quiet"))
		runErr = cmd.Execute()
	})
	return out, runErr
}

func decodeJSON(t *testing.T, data string, target any) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), target); err != nil {
		t.Fatalf("failed to decode JSON output: %v\n%s", err, data)
	}
}

func TestInitWritesConfigAndGitignoreIdempotently(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, ".gitignore"), "node_modules/\n")

	withWorkingDir(t, root, func() {
		if _, err := executeCLI(t, "init"); err != nil {
			t.Fatalf("init failed: %v", err)
		}
		assertExists(t, filepath.Join(root, config.FileName))
		assertExists(t, filepath.Join(root, ".cfgaudit"))

		first, err := os.ReadFile(filepath.Join(root, ".gitignore"))
		if err != nil {
			t.Fatalf("failed to read .gitignore: %v", err)
		}
		if !strings.Contains(string(first), gitignoreStart+"\n.cfgaudit/\n"+gitignoreEnd) {
			t.Fatalf("expected managed gitignore block, got:\n%s", first)
		}
		if !strings.HasPrefix(string(first), "node_modules/\n") {
			t.Fatalf("expected existing gitignore lines to be kept, got:\n%s", first)
		}

		mustWriteFile(t, filepath.Join(root, config.FileName), "root_dir: custom\n")
		out, err := executeCLI(t, "init")
		if err != nil {
			t.Fatalf("second init failed: %v", err)
		}
		if !strings.Contains(out, "Kept existing") {
			t.Fatalf("expected existing config to be kept, got:\n%s", out)
		}
		second, err := os.ReadFile(filepath.Join(root, ".gitignore"))
		if err != nil {
			t.Fatalf("failed to read .gitignore: %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("expected gitignore to be unchanged on re-init")
		}
		data, err := os.ReadFile(filepath.Join(root, config.FileName))
		if err != nil {
			t.Fatalf("failed to read config: %v", err)
		}
		if string(data) != "root_dir: custom\n" {
			t.Fatalf("expected config to survive init without --force")
		}
	})
}

func TestRunThenIncrementalReusesReport(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	withWorkingDir(t, root, func() {
		out, err := executeCLI(t, "run", "--json")
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		var first RunSummary
		decodeJSON(t, out, &first)
		if first.Status != string(pipeline.CompletedClean) || first.Mode != string(pipeline.Full) {
			t.Fatalf("unexpected first run: status=%s mode=%s", first.Status, first.Mode)
		}
		if first.Analyzed != 5 || first.Report == nil || first.CompositeScore == nil {
			t.Fatalf("expected five analyzed components and a report, got %+v", first)
		}
		if len(first.Report.Graph.Cycles) != 0 || len(first.Report.Graph.Orphans) != 0 {
			t.Fatalf("expected a healthy graph, got %+v", first.Report.Graph)
		}
		assertExists(t, filepath.Join(root, ".cfgaudit", cache.IndexFile))
		assertExists(t, filepath.Join(root, ".cfgaudit", report.FileName))
		assertExists(t, first.Ledger)

		out, err = executeCLI(t, "run", "--incremental", "--json")
		if err != nil {
			t.Fatalf("incremental run failed: %v", err)
		}
		var second RunSummary
		decodeJSON(t, out, &second)
		if !second.Reused || second.Analyzed != 0 {
			t.Fatalf("expected the cached report to be reused, got reused=%t analyzed=%d", second.Reused, second.Analyzed)
		}
		if *second.CompositeScore != *first.CompositeScore {
			t.Fatalf("expected identical score, got %v and %v", *first.CompositeScore, *second.CompositeScore)
		}

		out, err = executeCLI(t, "run", "--incremental", "--on-unchanged", "abort", "--json")
		if ExitCode(err) != ExitAborted {
			t.Fatalf("expected exit code %d, got %d (%v)", ExitAborted, ExitCode(err), err)
		}
		var aborted RunSummary
		decodeJSON(t, out, &aborted)
		if aborted.Status != string(pipeline.Aborted) {
			t.Fatalf("expected aborted status, got %s", aborted.Status)
		}
	})
}

func TestIncrementalRunAnalyzesOnlyChangedComponents(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	withWorkingDir(t, root, func() {
		if _, err := executeCLI(t, "run", "--json"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		mustWriteFile(t, filepath.Join(root, ".claude", "commands", "cmd3.md"), "---\ndescription: third, revised\n---\nStill standalone.\n")

		out, err := executeCLI(t, "status", "--json")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var status StatusSummary
		decodeJSON(t, out, &status)
		if len(status.Changed) != 1 || status.Changed[0] != "command:cmd3" || status.Unchanged != 4 {
			t.Fatalf("unexpected status: %+v", status)
		}
		if status.LastRunID == "" {
			t.Fatalf("expected status to report the last run")
		}

		out, err = executeCLI(t, "run", "--incremental", "--json")
		if err != nil {
			t.Fatalf("incremental run failed: %v", err)
		}
		var summary RunSummary
		decodeJSON(t, out, &summary)
		if summary.Reused || summary.Analyzed != 1 {
			t.Fatalf("expected one re-analyzed component, got reused=%t analyzed=%d", summary.Reused, summary.Analyzed)
		}
		if summary.Report.Coverage.Cached != 4 {
			t.Fatalf("expected four cached rows, got %+v", summary.Report.Coverage)
		}
	})
}

func TestDryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	withWorkingDir(t, root, func() {
		out, err := executeCLI(t, "run", "--dry-run", "--kinds", "agent")
		if err != nil {
			t.Fatalf("dry run failed: %v", err)
		}
		if !strings.Contains(out, "would analyze 2 components") {
			t.Fatalf("expected plan summary, got:\n%s", out)
		}
		if !strings.Contains(out, "agent:agent1, agent:agent2") {
			t.Fatalf("expected planned ids, got:\n%s", out)
		}
		assertNotExists(t, filepath.Join(root, ".cfgaudit", cache.IndexFile))
		assertNotExists(t, filepath.Join(root, ".cfgaudit", report.FileName))
	})
}

func TestRunFatalErrors(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	withWorkingDir(t, root, func() {
		_, err := executeCLI(t, "run", "--ids", "command:nope")
		if err == nil || ExitCode(err) != ExitFatal {
			t.Fatalf("expected fatal error for an unmatched scope, got %v", err)
		}
		_, err = executeCLI(t, "run", "--root", "missing")
		if err == nil || ExitCode(err) != ExitFatal {
			t.Fatalf("expected fatal error for a missing root, got %v", err)
		}
		_, err = executeCLI(t, "run", "--resume")
		if err == nil || !strings.Contains(err.Error(), "nothing to resume") {
			t.Fatalf("expected resume without a ledger to fail, got %v", err)
		}
		_, err = executeCLI(t, "run", "--kinds", "widget")
		if err == nil {
			t.Fatalf("expected unknown kind to be rejected")
		}
	})
}

func TestGraphAndDepsReportCycle(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)
	mustWriteFile(t, filepath.Join(root, ".claude", "agents", "agent2.md"), "---\nname: agent2\ndescription: second agent\n---\nThen run /cmd1 again.\n")

	withWorkingDir(t, root, func() {
		out, err := executeCLI(t, "graph", "--json")
		if err != nil {
			t.Fatalf("graph failed: %v", err)
		}
		var g GraphSummary
		decodeJSON(t, out, &g)
		if g.Health.Nodes != 5 || len(g.Health.Cycles) != 1 {
			t.Fatalf("expected one cycle over five nodes, got %+v", g.Health)
		}
		want := []string{"agent:agent1", "agent:agent2", "command:cmd1"}
		if strings.Join(g.Health.Cycles[0], ",") != strings.Join(want, ",") {
			t.Fatalf("unexpected cycle %v", g.Health.Cycles[0])
		}

		out, err = executeCLI(t, "deps", "cmd2", "--path", "agent1", "--json")
		if err != nil {
			t.Fatalf("deps failed: %v", err)
		}
		var deps DepsSummary
		decodeJSON(t, out, &deps)
		if deps.Component != "command:cmd2" || len(deps.Dependencies) != 1 || deps.Dependencies[0].To != "agent:agent2" {
			t.Fatalf("unexpected dependencies: %+v", deps)
		}
		wantPath := "command:cmd2,agent:agent2,command:cmd1,agent:agent1"
		if strings.Join(deps.Path, ",") != wantPath {
			t.Fatalf("expected path %s, got %v", wantPath, deps.Path)
		}

		text, err := executeCLI(t, "graph")
		if err != nil {
			t.Fatalf("graph text failed: %v", err)
		}
		if !strings.Contains(text, "cycle: agent:agent1 -> agent:agent2 -> command:cmd1 -> agent:agent1") {
			t.Fatalf("expected cycle line, got:\n%s", text)
		}

		lines, err := executeCLI(t, "graph", "--jsonl")
		if err != nil {
			t.Fatalf("graph jsonl failed: %v", err)
		}
		if n := strings.Count(lines, "\n"); n != g.Health.Edges {
			t.Fatalf("expected %d edge lines, got %d:\n%s", g.Health.Edges, n, lines)
		}

		if _, err := executeCLI(t, "deps", "ghost"); err == nil {
			t.Fatalf("expected unknown component to fail")
		}
		_, err = executeCLI(t, "deps", "agent:agnet1")
		if err == nil || !strings.Contains(err.Error(), "did you mean: agent:agent1") {
			t.Fatalf("expected a suggestion for a misspelled id, got %v", err)
		}
	})
}

func TestHistoryListsRecordedRuns(t *testing.T) {
	root := t.TempDir()
	writeScenario(t, root)

	withWorkingDir(t, root, func() {
		if _, err := executeCLI(t, "run", "--json"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		mustWriteFile(t, filepath.Join(root, ".claude", "commands", "cmd3.md"), "---\ndescription: changed\n---\nNew text.\n")
		if _, err := executeCLI(t, "run", "--incremental", "--json"); err != nil {
			t.Fatalf("incremental run failed: %v", err)
		}

		out, err := executeCLI(t, "history", "--json")
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		var runs []history.Run
		decodeJSON(t, out, &runs)
		if len(runs) != 2 {
			t.Fatalf("expected two recorded runs, got %d", len(runs))
		}
		if runs[0].Mode != string(pipeline.Incremental) || runs[1].Mode != string(pipeline.Full) {
			t.Fatalf("expected newest first, got %s then %s", runs[0].Mode, runs[1].Mode)
		}

		out, err = executeCLI(t, "history", "--component", "command:cmd3", "--json")
		if err != nil {
			t.Fatalf("history trend failed: %v", err)
		}
		var points []history.Point
		decodeJSON(t, out, &points)
		if len(points) != 2 {
			t.Fatalf("expected a two-point trend, got %d", len(points))
		}
	})
}

func TestDoctorReportsHealthyAndBrokenSetups(t *testing.T) {
	root := t.TempDir()

	withWorkingDir(t, root, func() {
		out, err := executeCLI(t, "doctor", "--json")
		if err != nil {
			t.Fatalf("doctor failed: %v", err)
		}
		var broken DoctorSummary
		decodeJSON(t, out, &broken)
		if broken.Healthy {
			t.Fatalf("expected doctor to flag a missing component root")
		}

		writeScenario(t, root)
		if _, err := executeCLI(t, "init"); err != nil {
			t.Fatalf("init failed: %v", err)
		}
		if _, err := executeCLI(t, "run", "--json"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		out, err = executeCLI(t, "doctor", "--json")
		if err != nil {
			t.Fatalf("doctor failed: %v", err)
		}
		var healthy DoctorSummary
		decodeJSON(t, out, &healthy)
		if !healthy.Healthy || healthy.Components != 5 || healthy.Cache != "ok" {
			t.Fatalf("expected healthy doctor output, got %+v", healthy)
		}
		if !healthy.Layout["command"] || !healthy.Layout["agent"] || healthy.Layout["skill"] {
			t.Fatalf("unexpected layout detection: %+v", healthy.Layout)
		}

		mustWriteFile(t, filepath.Join(root, ".cfgaudit", cache.IndexFile), "{not json")
		out, err = executeCLI(t, "doctor")
		if err != nil {
			t.Fatalf("doctor failed: %v", err)
		}
		if !strings.Contains(out, "doctor: issues") || !strings.Contains(out, "cache=corrupt") {
			t.Fatalf("expected corrupt cache to be reported, got:\n%s", out)
		}
	})
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		out  *pipeline.Outcome
		want int
	}{
		{&pipeline.Outcome{Status: pipeline.CompletedClean}, ExitClean},
		{&pipeline.Outcome{Status: pipeline.CompletedWithFailures}, ExitFailures},
		{&pipeline.Outcome{Status: pipeline.Aborted}, ExitAborted},
	}
	for _, tc := range cases {
		if got := ExitCode(outcomeError(tc.out)); got != tc.want {
			t.Fatalf("status %s: expected exit code %d, got %d", tc.out.Status, tc.want, got)
		}
	}
	if got := ExitCode(errors.New("boom")); got != ExitFatal {
		t.Fatalf("expected fatal exit code, got %d", got)
	}
	if got := ExitCode(nil); got != ExitClean {
		t.Fatalf("expected clean exit code, got %d", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != "cfgaudit test" {
		t.Fatalf("unexpected version output %q", out)
	}
}

func withWorkingDir(t *testing.T, dir string, fn func()) {
	t.Helper()

	originalWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	fn()
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func assertNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	} else if !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent: %v", path, err)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	original := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create stdout pipe: %v", err)
	}
	os.Stdout = writer
	defer func() {
		os.Stdout = original
		_ = writer.Close()
		_ = reader.Close()
	}()

	done := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(reader)
		done <- data
	}()

	fn()

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close stdout writer: %v", err)
	}
	return string(<-done)
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}
