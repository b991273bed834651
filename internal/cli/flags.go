package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/pipeline"
)

func OptionalStringFlag(cmd *cobra.Command, name string) (string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

func OptionalBoolFlag(cmd *cobra.Command, name string, fallback bool) (bool, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return fallback, nil
	}
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return fallback, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

func OptionalIntFlag(cmd *cobra.Command, name string, fallback int) (int, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return fallback, nil
	}
	value, err := cmd.Flags().GetInt(name)
	if err != nil {
		return fallback, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

func optionalStringSliceFlag(cmd *cobra.Command, name string) ([]string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return nil, nil
	}
	values, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out, nil
}

// ParseScope reads --kinds and --ids.
func ParseScope(cmd *cobra.Command) (component.Scope, error) {
	rawKinds, err := optionalStringSliceFlag(cmd, "kinds")
	if err != nil {
		return component.Scope{}, err
	}
	kinds, err := component.ParseKinds(rawKinds)
	if err != nil {
		return component.Scope{}, err
	}
	ids, err := optionalStringSliceFlag(cmd, "ids")
	if err != nil {
		return component.Scope{}, err
	}
	return component.Scope{Kinds: kinds, IDs: ids}, nil
}

// ParseDecision reads --on-unchanged.
func ParseDecision(cmd *cobra.Command) (pipeline.DecisionFunc, error) {
	raw, err := OptionalStringFlag(cmd, "on-unchanged")
	if err != nil {
		return nil, err
	}
	var decision pipeline.Decision
	switch pipeline.Decision(strings.ToLower(raw)) {
	case "", pipeline.DecisionReuse:
		return pipeline.ReuseAlways, nil
	case pipeline.DecisionFull:
		decision = pipeline.DecisionFull
	case pipeline.DecisionAbort:
		decision = pipeline.DecisionAbort
	default:
		return nil, fmt.Errorf("unsupported --on-unchanged value %q (supported: reuse, full, abort)", raw)
	}
	return func(context.Context, cache.Diff) pipeline.Decision { return decision }, nil
}

// addPipelineFlags registers the flags that override configuration keys.
func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("root", "", "Directory holding the configuration components (default: .claude)")
	flags.String("output", "", "Directory for cache, ledgers, reports and history (default: .cfgaudit)")
	flags.Int("concurrency", 0, "Analysis worker pool size (default: one per CPU)")
	flags.Duration("unit-timeout", 0, "Deadline for one component analysis")
	flags.Duration("soft-timeout", 0, "Warn when a run takes longer than this")
	flags.String("merge-policy", "", "How analyzer results combine: weighted-average|max-severity")
	flags.StringSlice("entry-kinds", nil, "Kinds treated as entry points for orphan detection")
	flags.Bool("llm", false, "Enable the LLM-backed analyzer")
	flags.String("llm-model", "", "Model used by the LLM-backed analyzer")
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("kinds", nil, "Limit the run to these kinds (command,agent,skill,hook,mcp)")
	cmd.Flags().StringSlice("ids", nil, "Limit the run to these component ids or names")
}
