package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/fileutil"
)

// ResultsDir holds one JSON artifact per analysed component version.
const ResultsDir = "results"

// ResultRef is the output-dir relative location of the artifact for id at
// contentHash.
func ResultRef(id, contentHash string) string {
	return ResultsDir + "/" + fileutil.HashBytes([]byte(id)) + "-" + contentHash + ".json"
}

// WriteResult stores res under outputDir and returns its ref.
func WriteResult(outputDir, id string, res analyzer.Result) (string, error) {
	ref := ResultRef(id, res.SourceHash)
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result for %s: %w", id, err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(outputDir, filepath.FromSlash(ref)), append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write result for %s: %w", id, err)
	}
	return ref, nil
}

// ReadResult loads an artifact written by WriteResult.
func ReadResult(outputDir, ref string) (analyzer.Result, error) {
	if ref == "" || strings.Contains(ref, "..") {
		return analyzer.Result{}, fmt.Errorf("invalid result ref %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(outputDir, filepath.FromSlash(ref)))
	if err != nil {
		return analyzer.Result{}, err
	}
	var res analyzer.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return analyzer.Result{}, fmt.Errorf("result %s does not parse: %w", ref, err)
	}
	return res, nil
}

// PruneResults removes artifacts not listed in keep and returns how many
// were deleted.
func PruneResults(outputDir string, keep map[string]bool) (int, error) {
	dir := filepath.Join(outputDir, ResultsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if keep[ResultsDir+"/"+entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
