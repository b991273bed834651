package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/cache"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/interp"
	"github.com/morozRed/cfgaudit/internal/ledger"
)

// RunDoctor validates configuration, layout directories, the run cache and
// unfinished ledgers.
func RunDoctor(cmd *cobra.Command, args []string) error {
	rootPath, err := resolveWorkingDirectory()
	if err != nil {
		return err
	}
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}

	summary := DoctorSummary{
		Mode:     "doctor",
		RootPath: rootPath,
		Layout:   map[string]bool{},
		Cache:    "missing",
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		summary.Missing = append(summary.Missing, "valid configuration")
		summary.Suggestions = append(summary.Suggestions, fmt.Sprintf("fix %s: %v", config.FileName, err))
		return printDoctorSummary(summary, asJSON)
	}
	summary.ConfigFile = cfg.ConfigFile
	summary.OutputDir = cfg.OutputDir
	if cfg.ConfigFile == "" {
		summary.Suggestions = append(summary.Suggestions, "run cfgaudit init")
	}

	if info, err := os.Stat(cfg.RootDir); err != nil || !info.IsDir() {
		summary.Missing = append(summary.Missing, "component root "+cfg.RootDir)
		summary.Suggestions = append(summary.Suggestions, "set root_dir in "+config.FileName)
		return printDoctorSummary(summary, asJSON)
	}

	layout := cfg.ComponentLayout()
	for kind, kl := range layout.Kinds {
		summary.Layout[string(kind)] = dirExists(filepath.Join(cfg.RootDir, filepath.FromSlash(kl.Dir)))
	}
	if layout.MCPFile != "" {
		_, err := os.Stat(filepath.Join(cfg.RootDir, filepath.FromSlash(layout.MCPFile)))
		summary.Layout[string(component.MCPServer)] = err == nil
	}

	components, err := component.Scan(component.ScanOptions{
		Roots:   []string{cfg.RootDir},
		Layout:  layout,
		Exclude: cfg.Exclusion(),
		OnSkip: func(path, reason string) {
			summary.Suggestions = append(summary.Suggestions, "fix "+path+": "+reason)
		},
	})
	if err != nil {
		summary.Missing = append(summary.Missing, "readable component tree")
	}
	summary.Components = len(components)
	if err == nil && len(components) == 0 {
		summary.Missing = append(summary.Missing, "components")
		summary.Suggestions = append(summary.Suggestions, "check layout directories in "+config.FileName)
	}

	summary.Interpreters = map[string]interp.Capability{}
	for language, capability := range interp.Probe(interp.DetectHookLanguages(components, component.FSReader{})) {
		if !capability.Present {
			continue
		}
		summary.Interpreters[language] = capability
		if !capability.Available {
			summary.Missing = append(summary.Missing, "interpreter for "+language+" hooks")
			summary.Suggestions = append(summary.Suggestions, "install "+capability.Interpreter+" or remove "+strings.Join(capability.Hooks, ", "))
		}
	}

	cachePath := filepath.Join(cfg.OutputDir, cache.IndexFile)
	if _, statErr := os.Stat(cachePath); statErr == nil {
		if _, err := cache.Load(cachePath); err != nil {
			summary.Cache = "corrupt"
			summary.Missing = append(summary.Missing, "readable run cache")
			summary.Suggestions = append(summary.Suggestions, "run cfgaudit run (a full run rewrites the cache)")
		} else {
			summary.Cache = "ok"
		}
	} else {
		summary.Suggestions = append(summary.Suggestions, "run cfgaudit run")
	}

	ledgers, err := ledger.List(cfg.RunsDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		summary.Missing = append(summary.Missing, "readable run ledgers")
	}
	for _, l := range ledgers {
		if l.Resumable() {
			summary.Unfinished = append(summary.Unfinished, l.RunID())
		}
	}
	if len(summary.Unfinished) > 0 {
		summary.Suggestions = append(summary.Suggestions, "run cfgaudit run --resume")
	}

	return printDoctorSummary(summary, asJSON)
}

func printDoctorSummary(summary DoctorSummary, asJSON bool) error {
	summary.Missing = fileutil.DedupeStrings(summary.Missing)
	sort.Strings(summary.Missing)
	summary.Suggestions = fileutil.DedupeStrings(summary.Suggestions)
	sort.Strings(summary.Suggestions)
	summary.Healthy = len(summary.Missing) == 0 && len(summary.Unfinished) == 0

	if asJSON {
		return fileutil.PrintJSON(os.Stdout, summary)
	}

	status := "issues"
	if summary.Healthy {
		status = "ok"
	}
	fmt.Printf("doctor: %s\n", status)
	source := summary.ConfigFile
	if source == "" {
		source = "defaults"
	}
	fmt.Printf("config: %s\n", source)
	fmt.Printf("components: %d cache=%s\n", summary.Components, summary.Cache)
	if len(summary.Layout) > 0 {
		kinds := fileutil.MapKeysSorted(summary.Layout)
		parts := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			parts = append(parts, fmt.Sprintf("%s=%t", kind, summary.Layout[kind]))
		}
		fmt.Printf("layout: %s\n", strings.Join(parts, " "))
	}
	if len(summary.Interpreters) > 0 {
		languages := fileutil.MapKeysSorted(summary.Interpreters)
		parts := make([]string, 0, len(languages))
		for _, language := range languages {
			capability := summary.Interpreters[language]
			state := capability.Interpreter
			if !capability.Available {
				state = "missing"
			}
			parts = append(parts, fmt.Sprintf("%s=%s", language, state))
		}
		fmt.Printf("interpreters: %s\n", strings.Join(parts, " "))
	}
	if len(summary.Unfinished) > 0 {
		fmt.Printf("unfinished runs (%d): %s\n", len(summary.Unfinished), SummarizePaths(summary.Unfinished, 5))
	}
	if len(summary.Missing) > 0 {
		fmt.Printf("missing (%d): %s\n", len(summary.Missing), strings.Join(summary.Missing, ", "))
	}
	for _, suggestion := range summary.Suggestions {
		fmt.Printf("next: %s\n", suggestion)
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
