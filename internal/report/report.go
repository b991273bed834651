// Package report writes synthesized reports to their destinations.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

// FileName is the JSON report written under the output dir.
const FileName = "report.json"

// Writer publishes a report.
type Writer interface {
	Write(ctx context.Context, r *synthesis.Report) error
}

// JSONWriter writes the report as indented JSON through an atomic rename.
type JSONWriter struct {
	Path string
}

func NewJSONWriter(outputDir string) *JSONWriter {
	return &JSONWriter{Path: filepath.Join(outputDir, FileName)}
}

func (w *JSONWriter) Write(_ context.Context, r *synthesis.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if _, err := fileutil.WriteIfChanged(w.Path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report %s: %w", w.Path, err)
	}
	return nil
}

// Multi fans a report out to every writer and joins their errors.
type Multi []Writer

func (m Multi) Write(ctx context.Context, r *synthesis.Report) error {
	var errs []error
	for _, w := range m {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
