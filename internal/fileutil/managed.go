package fileutil

import (
	"fmt"
	"os"
	"strings"
)

// UpsertManagedBlock replaces the text between startMarker and endMarker
// with block (which carries the markers itself), or appends block when the
// markers are absent.
func UpsertManagedBlock(existing, startMarker, endMarker, block string) string {
	if existing == "" {
		return block + "\n"
	}

	start := strings.Index(existing, startMarker)
	end := strings.Index(existing, endMarker)
	if start >= 0 && end >= start {
		end += len(endMarker)
		return EnsureTrailingNewline(existing[:start] + block + existing[end:])
	}

	return EnsureTrailingNewline(existing) + "\n" + block + "\n"
}

// UpsertManagedFile applies UpsertManagedBlock to the file at path and
// reports whether it changed.
func UpsertManagedFile(path, startMarker, endMarker, body string) (bool, error) {
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	block := fmt.Sprintf("%s\n%s\n%s", startMarker, strings.TrimSpace(body), endMarker)
	return WriteIfChanged(path, []byte(UpsertManagedBlock(existing, startMarker, endMarker, block)))
}
