package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cfgaudit",
		Short: "Audit AI-assistant configuration: commands, agents, skills, hooks and MCP servers",
		Long: `cfgaudit scores every configuration component with a registry of analyzers,
builds the dependency graph between them (cycles, orphans, depth, broken
links) and synthesizes one report with a composite score.

Runs are resumable from a per-run ledger under .cfgaudit/runs/ and can be
incremental: only components whose content changed are re-analyzed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./.cfgaudit.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error|silent")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text|json")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Silence logs")

	// Core Commands
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .cfgaudit.yaml and create the output directory",
		RunE:  RunInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audit pipeline",
		Long: `Run discovers components, analyzes them on a bounded worker pool, analyzes
the dependency graph and writes report.json to the output directory.

Exit codes: 0 clean, 1 fatal error, 2 some components failed, 3 aborted.`,
		Args: cobra.NoArgs,
		RunE: RunAudit,
	}
	runCmd.Flags().Bool("incremental", false, "Re-analyze only components changed since the last run")
	runCmd.Flags().Bool("resume", false, "Resume the newest unfinished run from its ledger")
	runCmd.Flags().Bool("dry-run", false, "Print the analysis plan without analyzing or writing anything")
	runCmd.Flags().String("on-unchanged", "reuse", "Incremental run with no changes: reuse|full|abort")
	runCmd.Flags().Bool("json", false, "Print machine-readable run summary")
	addScopeFlags(runCmd)
	addPipelineFlags(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run, then re-run incrementally whenever components change",
		Args:  cobra.NoArgs,
		RunE:  RunWatch,
	}
	watchCmd.Flags().Duration("poll-interval", 0, "How often to check component content")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period after the last change before re-running")
	watchCmd.Flags().Duration("grace-period", 0, "How long an in-flight run may finish after interrupt")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().Bool("json", false, "Print machine-readable session summary")
	addScopeFlags(watchCmd)
	addPipelineFlags(watchCmd)

	// Inspect Commands
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show what changed since the last run and what an incremental run would analyze",
		RunE:  RunStatus,
	}
	statusCmd.Flags().Bool("json", false, "Print machine-readable status output")
	statusCmd.Flags().String("root", "", "Directory holding the configuration components")
	statusCmd.Flags().String("output", "", "Directory holding the run cache")

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration, layout, cache and unfinished runs",
		RunE:  RunDoctor,
	}
	doctorCmd.Flags().Bool("json", false, "Print machine-readable doctor output")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs or one component's score trend",
		Args:  cobra.NoArgs,
		RunE:  RunHistory,
	}
	historyCmd.Flags().Int("limit", 10, "Maximum number of runs to show")
	historyCmd.Flags().String("component", "", "Show the score trend of this component id")
	historyCmd.Flags().Bool("json", false, "Print machine-readable history")

	// Navigate Commands
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Show dependency graph health without running analyzers",
		Args:  cobra.NoArgs,
		RunE:  RunGraph,
	}
	graphCmd.Flags().Bool("edges", false, "Also list every edge")
	graphCmd.Flags().Bool("json", false, "Print machine-readable graph health")
	graphCmd.Flags().Bool("jsonl", false, "Print every edge as one JSON object per line")
	graphCmd.Flags().String("root", "", "Directory holding the configuration components")

	depsCmd := &cobra.Command{
		Use:   "deps <id>",
		Short: "Show a component's dependencies and dependents",
		Args:  cobra.ExactArgs(1),
		RunE:  RunDeps,
	}
	depsCmd.Flags().String("path", "", "Also print the shortest path to this component")
	depsCmd.Flags().Bool("json", false, "Print machine-readable results")
	depsCmd.Flags().String("root", "", "Directory holding the configuration components")

	// Additional Commands
	installHookCmd := &cobra.Command{
		Use:   "install-hook",
		Short: "Install a git pre-commit hook that runs an incremental audit",
		RunE:  RunInstallHook,
	}
	installHookCmd.Flags().Bool("allow-failures", false, "Do not block commits when components fail analysis")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cfgaudit %s\n", version)
		},
	}

	rootCmd.AddCommand(
		initCmd,
		runCmd,
		watchCmd,
		statusCmd,
		doctorCmd,
		historyCmd,
		graphCmd,
		depsCmd,
		installHookCmd,
		versionCmd,
	)

	return rootCmd
}
