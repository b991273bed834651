package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/fileutil"
)

const (
	HookStart = "# >>> cfgaudit pre-commit hook >>>"
	HookEnd   = "# <<< cfgaudit pre-commit hook <<<"
)

// RunInstallHook writes the managed block into the repository's pre-commit
// hook, creating the script when needed.
func RunInstallHook(cmd *cobra.Command, args []string) error {
	rootPath, err := resolveWorkingDirectory()
	if err != nil {
		return err
	}
	allowFailures, err := OptionalBoolFlag(cmd, "allow-failures", false)
	if err != nil {
		return err
	}

	repoRoot, hooksDir, err := resolveHookPaths(rootPath)
	if err != nil {
		return err
	}
	target := filepath.Join(hooksDir, "pre-commit")

	var current []byte
	switch data, err := os.ReadFile(target); {
	case err == nil:
		current = data
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", target, err)
	}

	next := UpsertAuditHook(string(current), repoRoot, allowFailures)
	if next == string(current) {
		fmt.Printf("Pre-commit hook at %s is up to date\n", target)
		return nil
	}
	if err := fileutil.WriteFileAtomic(target, []byte(next), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	fmt.Printf("Installed pre-commit hook at %s\n", target)
	return nil
}

// resolveHookPaths asks git for the work tree root and the hooks directory.
// --git-path honors core.hooksPath and linked worktrees.
func resolveHookPaths(dir string) (string, string, error) {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--path-format=absolute", "--show-toplevel", "--git-path", "hooks").Output()
	if err != nil {
		return "", "", fmt.Errorf("%s is not inside a git work tree", dir)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		return "", "", fmt.Errorf("unexpected git rev-parse output %q", out)
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), nil
}

// UpsertAuditHook installs or replaces the managed block in a pre-commit
// script, keeping everything outside the markers.
func UpsertAuditHook(existingHook, repoRoot string, allowFailures bool) string {
	block := BuildAuditHookBlock(repoRoot, allowFailures)

	if existingHook == "" {
		return "#!/bin/sh\n\n" + block + "\n"
	}
	if !strings.Contains(existingHook, HookStart) && !strings.HasPrefix(existingHook, "#!") {
		existingHook = "#!/bin/sh\n" + existingHook
	}
	return fileutil.UpsertManagedBlock(existingHook, HookStart, HookEnd, block)
}

// BuildAuditHookBlock runs an incremental audit. Exit code 2 (component
// failures) blocks the commit unless allowFailures is set; a fatal error or
// an aborted run always does.
func BuildAuditHookBlock(repoRoot string, allowFailures bool) string {
	failures := "exit 1"
	if allowFailures {
		failures = "echo \"cfgaudit: some components failed analysis\" >&2"
	}
	return fmt.Sprintf(
		"%s\nrepo_root=%q\nif command -v cfgaudit >/dev/null 2>&1; then\n  (cd \"$repo_root\" && cfgaudit run --incremental --quiet)\n  status=$?\n  if [ \"$status\" -eq 2 ]; then\n    %s\n  elif [ \"$status\" -ne 0 ]; then\n    exit 1\n  fi\nfi\n%s",
		HookStart,
		repoRoot,
		failures,
		HookEnd,
	)
}
