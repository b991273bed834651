package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/interp"
	"github.com/morozRed/cfgaudit/internal/pipeline"
	"github.com/morozRed/cfgaudit/internal/report"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

type RunSummary struct {
	Mode           string            `json:"mode"`
	RunID          string            `json:"run_id"`
	Status         string            `json:"status"`
	RootPath       string            `json:"root_path"`
	OutputDir      string            `json:"output_dir,omitempty"`
	DryRun         bool              `json:"dry_run,omitempty"`
	Reused         bool              `json:"reused"`
	Analyzed       int               `json:"analyzed"`
	Failed         int               `json:"failed"`
	CompositeScore *float64          `json:"composite_score,omitempty"`
	Verdict        string            `json:"verdict,omitempty"`
	DurationMS     int64             `json:"duration_ms"`
	Ledger         string            `json:"ledger,omitempty"`
	Plan           []string          `json:"plan,omitempty"`
	Diff           *cache.Diff       `json:"diff,omitempty"`
	Failures       []string          `json:"failures,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Report         *synthesis.Report `json:"report,omitempty"`
}

type StatusSummary struct {
	Mode         string   `json:"mode"`
	RootPath     string   `json:"root_path"`
	Scanned      int      `json:"scanned"`
	Changed      []string `json:"changed"`
	New          []string `json:"new"`
	Deleted      []string `json:"deleted"`
	Unchanged    int      `json:"unchanged"`
	LastRunID    string   `json:"last_run_id,omitempty"`
	LastRunAt    string   `json:"last_run_at,omitempty"`
	Unfinished   string   `json:"unfinished_run,omitempty"`
	CacheIgnored bool     `json:"cache_ignored,omitempty"`
}

type DoctorSummary struct {
	Mode         string                       `json:"mode"`
	RootPath     string                       `json:"root_path"`
	ConfigFile   string                       `json:"config_file,omitempty"`
	OutputDir    string                       `json:"output_dir"`
	Healthy      bool                         `json:"healthy"`
	Components   int                          `json:"components"`
	Layout       map[string]bool              `json:"layout"`
	Interpreters map[string]interp.Capability `json:"interpreters,omitempty"`
	Cache        string                       `json:"cache"`
	Unfinished   []string                     `json:"unfinished_runs,omitempty"`
	Missing      []string                     `json:"missing,omitempty"`
	Suggestions  []string                     `json:"suggestions,omitempty"`
}

func newRunSummary(out *pipeline.Outcome, rootPath, outputDir string, dryRun bool) RunSummary {
	summary := RunSummary{
		Mode:       string(out.Mode),
		RunID:      out.RunID,
		Status:     string(out.Status),
		RootPath:   rootPath,
		OutputDir:  outputDir,
		DryRun:     dryRun,
		Reused:     out.Reused,
		Analyzed:   out.Analyzed,
		Failed:     len(out.Failures),
		DurationMS: out.Duration().Milliseconds(),
		Ledger:     out.LedgerPath,
		Plan:       out.Plan,
		Diff:       out.Diff,
		Warnings:   out.Warnings,
		Report:     out.Report,
	}
	if dryRun {
		summary.Status = "dry-run"
	}
	for _, failure := range out.Failures {
		summary.Failures = append(summary.Failures, fmt.Sprintf("%s (%s: %s)", failure.ID, failure.Status, failure.Reason))
	}
	if out.Report != nil {
		score := out.Report.CompositeScore
		summary.CompositeScore = &score
		summary.Verdict = string(out.Report.Verdict)
	}
	return summary
}

func PrintRunSummary(summary RunSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(os.Stdout, summary)
	}

	if summary.DryRun {
		fmt.Printf("dry run: mode=%s would analyze %d components\n", summary.Mode, len(summary.Plan))
		if d := summary.Diff; d != nil {
			fmt.Printf("changes: changed=%d new=%d deleted=%d unchanged=%d\n", len(d.Changed), len(d.New), len(d.Deleted), len(d.Unchanged))
		}
		if len(summary.Plan) > 0 {
			fmt.Printf("plan (%d): %s\n", len(summary.Plan), SummarizePaths(summary.Plan, 8))
		}
		return nil
	}

	if summary.Report != nil {
		w := &report.TextWriter{Out: os.Stdout, Color: colorEnabled(), MaxIssues: 20}
		fmt.Print(w.Render(summary.Report))
		fmt.Println()
	}

	reused := ""
	if summary.Reused {
		reused = " (reused cached report)"
	}
	fmt.Printf("%s: run=%s status=%s analyzed=%d failed=%d duration=%dms%s\n",
		summary.Mode,
		summary.RunID,
		summary.Status,
		summary.Analyzed,
		summary.Failed,
		summary.DurationMS,
		reused,
	)
	if summary.Ledger != "" {
		fmt.Printf("ledger: %s\n", summary.Ledger)
	}
	if len(summary.Failures) > 0 {
		fmt.Printf("failed units (%d): %s\n", len(summary.Failures), SummarizePaths(summary.Failures, 8))
	}
	for _, warning := range summary.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	return nil
}

func PrintStatusSummary(summary StatusSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(os.Stdout, summary)
	}
	fmt.Printf("status: scanned=%d changed=%d new=%d deleted=%d unchanged=%d\n",
		summary.Scanned, len(summary.Changed), len(summary.New), len(summary.Deleted), summary.Unchanged)
	if summary.LastRunID != "" {
		fmt.Printf("last run: %s at %s\n", summary.LastRunID, summary.LastRunAt)
	} else {
		fmt.Println("last run: none")
	}
	if summary.CacheIgnored {
		fmt.Println("cache: unreadable, treating every component as new")
	}
	if len(summary.Changed) > 0 {
		fmt.Printf("changed (%d): %s\n", len(summary.Changed), SummarizePaths(summary.Changed, 8))
	}
	if len(summary.New) > 0 {
		fmt.Printf("new (%d): %s\n", len(summary.New), SummarizePaths(summary.New, 8))
	}
	if len(summary.Deleted) > 0 {
		fmt.Printf("deleted (%d): %s\n", len(summary.Deleted), SummarizePaths(summary.Deleted, 8))
	}
	if summary.Unfinished != "" {
		fmt.Printf("unfinished run: %s (resume with cfgaudit run --resume)\n", summary.Unfinished)
	}
	return nil
}

func SummarizePaths(paths []string, max int) string {
	if len(paths) <= max {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s ... (+%d more)", strings.Join(paths[:max], ", "), len(paths)-max)
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}
