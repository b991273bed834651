package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/history"
)

// RunHistory lists recent runs, or one component's score trend with
// --component.
func RunHistory(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	limit, err := OptionalIntFlag(cmd, "limit", 10)
	if err != nil {
		return err
	}
	componentID, err := OptionalStringFlag(cmd, "component")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.OutputDir, newLogger(cmd, cfg))
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := commandContext(cmd)

	if componentID != "" {
		points, err := store.Trend(ctx, componentID, limit)
		if err != nil {
			return err
		}
		if asJSON {
			return fileutil.PrintJSON(os.Stdout, points)
		}
		fmt.Printf("trend: %s (%d runs)\n", componentID, len(points))
		for _, p := range points {
			fmt.Printf("  %s %s %5.2f\n", p.StartedAt.Local().Format(time.DateTime), p.RunID, p.Score)
		}
		return nil
	}

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return fileutil.PrintJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Println("history: no recorded runs")
		return nil
	}
	fmt.Printf("history: %d runs\n", len(runs))
	for _, r := range runs {
		fmt.Printf("  %s %s mode=%s status=%s score=%.2f %s components=%d analyzed=%d failed=%d cycles=%d orphans=%d\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.ID,
			r.Mode,
			r.Status,
			r.CompositeScore,
			r.Verdict,
			r.Components,
			r.Analyzed,
			r.Failed,
			r.Cycles,
			r.Orphans,
		)
	}
	return nil
}
