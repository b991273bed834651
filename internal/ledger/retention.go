package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/morozRed/cfgaudit/internal/fileutil"
)

const (
	ArchiveDir = "archive"
	archiveExt = ".md.zst"
)

// Retention bounds how many finished ledgers stay readable as plain files.
type Retention struct {
	// KeepRuns finished ledgers stay uncompressed; older ones are archived.
	// Zero means no count limit.
	KeepRuns int `mapstructure:"keep_runs"`
	// ArchiveAfter archives finished ledgers older than this. Zero disables.
	ArchiveAfter time.Duration `mapstructure:"archive_after"`
	// MaxArchiveAge deletes archives older than this. Zero keeps them forever.
	MaxArchiveAge time.Duration `mapstructure:"max_archive_age"`
}

// PruneResult reports what Prune did.
type PruneResult struct {
	Archived []string
	Deleted  []string
}

// Prune archives finished ledgers in dir and expires old archives.
// Running ledgers and the one Latest would resume are never touched.
func Prune(dir string, r Retention, now time.Time) (PruneResult, error) {
	var res PruneResult
	ledgers, err := List(dir)
	if err != nil {
		return res, err
	}

	resumable := ""
	for _, l := range ledgers {
		if l.Resumable() {
			resumable = l.header.RunID
			break
		}
	}

	finished := 0
	for _, l := range ledgers {
		h := l.header
		if h.Status == RunRunning || h.RunID == resumable {
			continue
		}
		finished++
		expired := r.ArchiveAfter > 0 && !h.FinishedAt.IsZero() && now.Sub(h.FinishedAt) > r.ArchiveAfter
		overflow := r.KeepRuns > 0 && finished > r.KeepRuns
		if !overflow && !expired {
			continue
		}
		if err := archive(dir, l.path, h.RunID); err != nil {
			return res, err
		}
		res.Archived = append(res.Archived, h.RunID)
	}

	if r.MaxArchiveAge <= 0 {
		return res, nil
	}
	archiveDir := filepath.Join(dir, ArchiveDir)
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), archiveExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= r.MaxArchiveAge {
			continue
		}
		if err := os.Remove(filepath.Join(archiveDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return res, err
		}
		res.Deleted = append(res.Deleted, strings.TrimSuffix(entry.Name(), archiveExt))
	}
	return res, nil
}

// ArchivePath is where runID's ledger goes once archived.
func ArchivePath(dir, runID string) string {
	return filepath.Join(dir, ArchiveDir, runID+archiveExt)
}

func archive(dir, path, runID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(data, nil)
	_ = enc.Close()

	if err := fileutil.WriteFileAtomic(ArchivePath(dir, runID), compressed, 0644); err != nil {
		return fmt.Errorf("failed to archive ledger %s: %w", runID, err)
	}
	return os.Remove(path)
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress ledger: %w", err)
	}
	return out, nil
}
