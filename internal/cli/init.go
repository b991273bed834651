package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/fileutil"
)

const (
	gitignoreStart = "# >>> cfgaudit >>>"
	gitignoreEnd   = "# <<< cfgaudit <<<"
)

// RunInit writes a default config file, creates the output directory and
// keeps it out of git.
func RunInit(cmd *cobra.Command, args []string) error {
	rootPath, err := resolveWorkingDirectory()
	if err != nil {
		return err
	}
	force, err := OptionalBoolFlag(cmd, "force", false)
	if err != nil {
		return err
	}

	configPath := filepath.Join(rootPath, config.FileName)
	if force {
		if err := fileutil.WriteFileAtomic(configPath, []byte(config.Template), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", config.FileName, err)
		}
		fmt.Printf("Wrote %s\n", configPath)
	} else {
		created, err := fileutil.WriteIfMissing(configPath, []byte(config.Template), 0644)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", config.FileName, err)
		}
		if created {
			fmt.Printf("Wrote %s\n", configPath)
		} else {
			fmt.Printf("Kept existing %s (use --force to overwrite)\n", configPath)
		}
	}

	cfg, err := config.Load(config.LoadOptions{Dir: rootPath, File: configPath})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if rel, err := filepath.Rel(rootPath, cfg.OutputDir); err == nil && filepath.IsLocal(rel) {
		gitignore := filepath.Join(rootPath, ".gitignore")
		changed, err := fileutil.UpsertManagedFile(gitignore, gitignoreStart, gitignoreEnd, filepath.ToSlash(rel)+"/")
		if err != nil {
			return err
		}
		if changed {
			fmt.Printf("Updated %s\n", gitignore)
		}
	}

	fmt.Printf("Initialized output directory at %s\n", cfg.OutputDir)
	if !dirExists(cfg.RootDir) {
		fmt.Printf("note: component root %s does not exist yet\n", cfg.RootDir)
	}
	return nil
}
