package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/ledger"
	"github.com/morozRed/cfgaudit/internal/pipeline"
)

// RunAudit executes one pipeline run and maps its status to an exit code.
func RunAudit(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	incremental, err := OptionalBoolFlag(cmd, "incremental", false)
	if err != nil {
		return err
	}
	resume, err := OptionalBoolFlag(cmd, "resume", false)
	if err != nil {
		return err
	}
	dryRun, err := OptionalBoolFlag(cmd, "dry-run", false)
	if err != nil {
		return err
	}
	scope, err := ParseScope(cmd)
	if err != nil {
		return err
	}
	decide, err := ParseDecision(cmd)
	if err != nil {
		return err
	}
	if resume && dryRun {
		return fmt.Errorf("--resume and --dry-run cannot be combined")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	rt := openRuntime(cfg, logger, nil, !dryRun)
	defer rt.Close()

	opts := pipeline.OptionsFrom(cfg)
	opts.Mode = pipeline.Full
	if incremental {
		opts.Mode = pipeline.Incremental
	}
	opts.Scope = scope
	opts.DryRun = dryRun
	opts.Decide = decide

	if resume {
		l, err := ledger.Latest(cfg.RunsDir())
		if err != nil {
			if errors.Is(err, ledger.ErrNoUnfinishedRun) {
				return fmt.Errorf("nothing to resume: %w", err)
			}
			return fmt.Errorf("failed to read run ledgers: %w", err)
		}
		logger.Info("resuming run", "run_id", l.RunID(), "ledger", l.FilePath())
		opts.Resume = l
	}

	progress := newUnitProgressReporter("analysis", asJSON)
	opts.OnUnit = progress.Update

	out, err := rt.orchestrator.Run(commandContext(cmd), opts)
	progress.Done()
	if err != nil {
		return err
	}

	if err := PrintRunSummary(newRunSummary(out, cfg.RootDir, cfg.OutputDir, dryRun), asJSON); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	return outcomeError(out)
}
