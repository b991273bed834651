package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/ledger"
	"github.com/morozRed/cfgaudit/internal/pipeline"
)

// RunStatus prints what an incremental run would re-analyze, without
// running any analysis.
func RunStatus(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	settings := pipeline.SettingsFrom(cfg)

	components, err := component.Scan(component.ScanOptions{
		Roots:   settings.Roots,
		Layout:  settings.Layout,
		Exclude: settings.Exclude,
	})
	if err != nil {
		return err
	}

	idx, err := cache.Load(settings.CachePath())
	ignored := err != nil
	if ignored {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	diff := idx.Diff(components)

	summary := StatusSummary{
		Mode:         "status",
		RootPath:     cfg.RootDir,
		Scanned:      len(components),
		Changed:      diff.Changed,
		New:          diff.New,
		Deleted:      diff.Deleted,
		Unchanged:    len(diff.Unchanged),
		LastRunID:    idx.LastRunID,
		CacheIgnored: ignored,
	}
	if !idx.LastRunAt.IsZero() {
		summary.LastRunAt = idx.LastRunAt.Format(time.RFC3339)
	}
	if l, err := ledger.Latest(settings.RunsDir()); err == nil {
		summary.Unfinished = l.RunID()
	} else if !errors.Is(err, ledger.ErrNoUnfinishedRun) {
		fmt.Fprintf(os.Stderr, "warning: failed to read run ledgers: %v\n", err)
	}
	return PrintStatusSummary(summary, asJSON)
}
