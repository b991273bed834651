package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/fileutil"
	"github.com/morozRed/cfgaudit/internal/graph"
	"github.com/morozRed/cfgaudit/internal/synthesis"
)

const (
	IndexFile      = "cache.json"
	CurrentVersion = "1"
)

// Entry is the cached state of one component.
type Entry struct {
	Path        string           `json:"path"`
	Kind        component.Kind   `json:"kind"`
	ContentHash string           `json:"content_hash"`
	Result      *analyzer.Result `json:"result,omitempty"`
	OutputRef   string           `json:"output_ref,omitempty"`
	// Edges are the raw references extracted from content with EdgesHash.
	Edges     []graph.Reference `json:"edges,omitempty"`
	EdgesHash string            `json:"edges_hash,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Index is the persisted run cache.
type Index struct {
	Version    string            `json:"version"`
	LastRunID  string            `json:"last_run_id,omitempty"`
	LastRunAt  time.Time         `json:"last_run_at,omitempty"`
	Revision   string            `json:"revision,omitempty"`
	Entries    map[string]Entry  `json:"entries"`
	LastReport *synthesis.Report `json:"last_report,omitempty"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{Version: CurrentVersion, Entries: make(map[string]Entry)}
}

// Load reads the index at path. A missing file is an empty index. A file
// that does not parse or carries another version is also an empty index,
// returned together with a CacheCorrupt error the caller should log.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(), nil
		}
		return NewIndex(), errs.Wrap(errs.CacheCorrupt, err, "cache unreadable, treating as absent")
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return NewIndex(), errs.Wrap(errs.CacheCorrupt, err, "cache does not parse, treating as absent")
	}
	if idx.Version != CurrentVersion {
		return NewIndex(), errs.Newf(errs.CacheCorrupt, "cache version %q, want %q; treating as absent", idx.Version, CurrentVersion)
	}
	migrate(&idx)
	return &idx, nil
}

// Save writes idx through a temp file and rename.
func Save(idx *Index, path string) error {
	if idx.Version == "" {
		idx.Version = CurrentVersion
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]Entry)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write cache %s: %w", path, err)
	}
	return nil
}

func migrate(idx *Index) {
	if idx.Entries == nil {
		idx.Entries = make(map[string]Entry)
	}
}

// Diff classifies current components against the index.
type Diff struct {
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
	New       []string `json:"new"`
	Deleted   []string `json:"deleted"`
}

// Empty reports whether nothing was added, changed or deleted.
func (d Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.New) == 0 && len(d.Deleted) == 0
}

// NeedsAnalysis returns changed and new ids, sorted.
func (d Diff) NeedsAnalysis() []string {
	out := make([]string, 0, len(d.Changed)+len(d.New))
	out = append(out, d.Changed...)
	out = append(out, d.New...)
	sort.Strings(out)
	return out
}

// Diff compares content hashes only. An entry whose hash matches but has no
// stored result is still changed.
func (idx *Index) Diff(components []component.Component) Diff {
	d := Diff{Changed: []string{}, Unchanged: []string{}, New: []string{}, Deleted: []string{}}
	current := make(map[string]bool, len(components))
	for _, c := range components {
		current[c.ID] = true
		entry, ok := idx.Entries[c.ID]
		switch {
		case !ok:
			d.New = append(d.New, c.ID)
		case entry.ContentHash != c.ContentHash || entry.Result == nil || entry.Result.Stale(c.ContentHash):
			d.Changed = append(d.Changed, c.ID)
		default:
			d.Unchanged = append(d.Unchanged, c.ID)
		}
	}
	for id := range idx.Entries {
		if !current[id] {
			d.Deleted = append(d.Deleted, id)
		}
	}
	sort.Strings(d.Changed)
	sort.Strings(d.Unchanged)
	sort.Strings(d.New)
	sort.Strings(d.Deleted)
	return d
}

// Result returns the cached result for id when it was computed against hash.
func (idx *Index) Result(id, hash string) (analyzer.Result, bool) {
	entry, ok := idx.Entries[id]
	if !ok || entry.Result == nil || entry.ContentHash != hash || entry.Result.Stale(hash) {
		return analyzer.Result{}, false
	}
	return *entry.Result, true
}

// Results returns cached results for the given ids that are still fresh.
func (idx *Index) Results(components []component.Component, ids []string) map[string]analyzer.Result {
	byID := component.Index(components)
	out := make(map[string]analyzer.Result, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		if res, ok := idx.Result(id, c.ContentHash); ok {
			out[id] = res
		}
	}
	return out
}

// Merge builds the next index. Fresh and unchanged results are stored
// against the live hash; components with neither keep their previous entry
// (or get a result-less one); ids not in components are dropped.
func (idx *Index) Merge(components []component.Component, fresh, unchanged map[string]analyzer.Result) *Index {
	now := time.Now().UTC()
	next := NewIndex()
	next.LastRunID = idx.LastRunID
	next.LastRunAt = idx.LastRunAt
	next.Revision = idx.Revision
	next.LastReport = idx.LastReport

	for _, c := range components {
		prev, hadPrev := idx.Entries[c.ID]
		entry := Entry{Path: c.Path, Kind: c.Kind, ContentHash: c.ContentHash, UpdatedAt: now}
		if hadPrev && prev.EdgesHash != "" {
			entry.Edges, entry.EdgesHash = prev.Edges, prev.EdgesHash
		}

		if res, ok := fresh[c.ID]; ok {
			r := res
			entry.Result = &r
		} else if res, ok := unchanged[c.ID]; ok {
			r := res
			entry.Result = &r
			entry.OutputRef = prev.OutputRef
			entry.UpdatedAt = prev.UpdatedAt
		} else if hadPrev {
			entry = prev
			entry.Path, entry.Kind = c.Path, c.Kind
		}
		next.Entries[c.ID] = entry
	}
	return next
}

// SetEdges records raw references extracted from each component's current
// content, for the next incremental graph build.
func (idx *Index) SetEdges(components []component.Component, refs map[string][]graph.Reference) {
	for _, c := range components {
		entry, ok := idx.Entries[c.ID]
		if !ok {
			continue
		}
		found, ok := refs[c.ID]
		if !ok {
			continue
		}
		entry.Edges = found
		entry.EdgesHash = c.ContentHash
		idx.Entries[c.ID] = entry
	}
}

// GraphSnapshot returns cached references that still match live content and
// the set of components whose edges must be re-extracted.
func (idx *Index) GraphSnapshot(components []component.Component) (map[string][]graph.Reference, map[string]bool) {
	previous := make(map[string][]graph.Reference)
	changed := make(map[string]bool)
	for _, c := range components {
		entry, ok := idx.Entries[c.ID]
		if ok && entry.EdgesHash != "" && entry.EdgesHash == c.ContentHash {
			previous[c.ID] = entry.Edges
			continue
		}
		changed[c.ID] = true
	}
	return previous, changed
}

// SetOutputRef records where the result artifact for id was written.
func (idx *Index) SetOutputRef(id, ref string) {
	entry, ok := idx.Entries[id]
	if !ok {
		return
	}
	entry.OutputRef = ref
	idx.Entries[id] = entry
}

// OutputRefs returns every artifact reference held by the index.
func (idx *Index) OutputRefs() map[string]bool {
	out := make(map[string]bool, len(idx.Entries))
	for _, entry := range idx.Entries {
		if entry.OutputRef != "" {
			out[entry.OutputRef] = true
		}
	}
	return out
}

// IDs returns entry ids in ascending order.
func (idx *Index) IDs() []string {
	return fileutil.MapKeysSorted(idx.Entries)
}
