package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morozRed/cfgaudit/internal/analyzer"
	"github.com/morozRed/cfgaudit/internal/component"
	"github.com/morozRed/cfgaudit/internal/errs"
	"github.com/morozRed/cfgaudit/internal/graph"
)

func comp(kind component.Kind, name, hash string) component.Component {
	return component.Component{ID: component.ID(kind, name), Kind: kind, Name: name, Path: string(kind) + "s/" + name + ".md", ContentHash: hash}
}

func result(score float64, hash string) analyzer.Result {
	return analyzer.Result{Score: score, Findings: []string{"ok"}, SourceHash: hash}.Finalize()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndexFile)
	components := []component.Component{comp(component.Command, "ship", "h1"), comp(component.Agent, "reviewer", "h2")}

	idx := NewIndex().Merge(components, map[string]analyzer.Result{
		"command:ship":   result(8, "h1"),
		"agent:reviewer": result(6, "h2"),
	}, nil)
	idx.LastRunID = "run-1"
	idx.LastRunAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	idx.Revision = "abc123"
	idx.SetEdges(components, map[string][]graph.Reference{
		"command:ship": {{TargetKind: component.Agent, Target: "reviewer", Kind: graph.Delegates, Evidence: "L2: reviewer agent"}},
	})
	idx.SetOutputRef("command:ship", ResultRef("command:ship", "h1"))
	require.NoError(t, Save(idx, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, idx, loaded)
	assert.Equal(t, []string{"agent:reviewer", "command:ship"}, loaded.IDs())
}

func TestLoadMissingIsFreshWithoutError(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), IndexFile))
	require.NoError(t, err)
	assert.Empty(t, idx.Entries)
	assert.Equal(t, CurrentVersion, idx.Version)
}

func TestLoadCorruptOrMismatchedIsFreshWithWarning(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"corrupt.json":     "{not json",
		"version.json":     `{"version":"0","entries":{"command:x":{"content_hash":"h"}}}`,
		"unversioned.json": `{"entries":{}}`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		idx, err := Load(path)
		require.Error(t, err, name)
		assert.True(t, errs.Is(err, errs.CacheCorrupt), name)
		assert.Empty(t, idx.Entries, name)
	}
}

func TestDiffClassifiesByContentHashOnly(t *testing.T) {
	idx := NewIndex().Merge([]component.Component{
		comp(component.Command, "same", "h1"),
		comp(component.Command, "edited", "h2"),
		comp(component.Command, "gone", "h3"),
		comp(component.Agent, "noresult", "h4"),
	}, map[string]analyzer.Result{
		"command:same":   result(9, "h1"),
		"command:edited": result(9, "h2"),
		"command:gone":   result(9, "h3"),
	}, nil)

	touched := comp(component.Command, "same", "h1")
	touched.LastModified = time.Now()
	diff := idx.Diff([]component.Component{
		touched,
		comp(component.Command, "edited", "h2-new"),
		comp(component.Agent, "noresult", "h4"),
		comp(component.Skill, "fresh", "h5"),
	})

	assert.Equal(t, []string{"agent:noresult", "command:edited"}, diff.Changed)
	assert.Equal(t, []string{"command:same"}, diff.Unchanged)
	assert.Equal(t, []string{"skill:fresh"}, diff.New)
	assert.Equal(t, []string{"command:gone"}, diff.Deleted)
	assert.False(t, diff.Empty())
	assert.Equal(t, []string{"agent:noresult", "command:edited", "skill:fresh"}, diff.NeedsAnalysis())
}

func TestDiffOfIdenticalSetIsEmpty(t *testing.T) {
	components := []component.Component{comp(component.Command, "a", "h1")}
	idx := NewIndex().Merge(components, map[string]analyzer.Result{"command:a": result(7, "h1")}, nil)
	diff := idx.Diff(components)
	assert.True(t, diff.Empty())
	assert.Equal(t, []string{"command:a"}, diff.Unchanged)
}

func TestMergeDropsDeletedAndCarriesOthersForward(t *testing.T) {
	a := comp(component.Command, "a", "h1")
	b := comp(component.Command, "b", "h2")
	c := comp(component.Command, "c", "h3")
	prev := NewIndex().Merge([]component.Component{a, b, c}, map[string]analyzer.Result{
		"command:a": result(5, "h1"),
		"command:b": result(6, "h2"),
		"command:c": result(7, "h3"),
	}, nil)
	prev.SetOutputRef("command:b", "results/b.json")

	a2 := comp(component.Command, "a", "h1-v2")
	failed := comp(component.Command, "c", "h3-v2")
	next := prev.Merge([]component.Component{a2, b, failed}, map[string]analyzer.Result{
		"command:a": result(9, "h1-v2"),
	}, map[string]analyzer.Result{
		"command:b": *prev.Entries["command:b"].Result,
	})

	require.Len(t, next.Entries, 3)
	assert.Equal(t, 9.0, next.Entries["command:a"].Result.Score)
	assert.Equal(t, "h1-v2", next.Entries["command:a"].ContentHash)
	assert.Equal(t, "results/b.json", next.Entries["command:b"].OutputRef)

	// a failed unit keeps its old entry, so the next diff still sees it as changed
	assert.Equal(t, "h3", next.Entries["command:c"].ContentHash)
	assert.Equal(t, []string{"command:c"}, next.Diff([]component.Component{a2, b, failed}).Changed)

	dropped := next.Merge([]component.Component{a2}, nil, map[string]analyzer.Result{"command:a": result(9, "h1-v2")})
	assert.Equal(t, []string{"command:a"}, dropped.IDs())
}

func TestResultLookupIgnoresStaleEntries(t *testing.T) {
	components := []component.Component{comp(component.Agent, "a", "h1")}
	idx := NewIndex().Merge(components, map[string]analyzer.Result{"agent:a": result(8, "h1")}, nil)

	_, ok := idx.Result("agent:a", "h1")
	assert.True(t, ok)
	_, ok = idx.Result("agent:a", "other")
	assert.False(t, ok)

	got := idx.Results(components, []string{"agent:a", "agent:missing"})
	assert.Len(t, got, 1)
}

func TestGraphSnapshotReusesOnlyMatchingEdges(t *testing.T) {
	a := comp(component.Command, "a", "h1")
	b := comp(component.Agent, "b", "h2")
	idx := NewIndex().Merge([]component.Component{a, b}, nil, nil)
	idx.SetEdges([]component.Component{a, b}, map[string][]graph.Reference{
		"command:a": {{TargetKind: component.Agent, Target: "b", Kind: graph.Delegates}},
		"agent:b":   {},
	})

	b2 := comp(component.Agent, "b", "h2-v2")
	n := comp(component.Skill, "n", "h3")
	previous, changed := idx.GraphSnapshot([]component.Component{a, b2, n})
	assert.Len(t, previous, 1)
	assert.Equal(t, "b", previous["command:a"][0].Target)
	assert.Equal(t, map[string]bool{"agent:b": true, "skill:n": true}, changed)

	// edges survive a merge that replaces the result
	next := idx.Merge([]component.Component{a}, map[string]analyzer.Result{"command:a": result(8, "h1")}, nil)
	previous, changed = next.GraphSnapshot([]component.Component{a})
	assert.Len(t, previous["command:a"], 1)
	assert.Empty(t, changed)
}

func TestResultArtifacts(t *testing.T) {
	dir := t.TempDir()
	res := result(7.5, "h1")

	ref, err := WriteResult(dir, "agent:a", res)
	require.NoError(t, err)
	assert.Equal(t, ResultRef("agent:a", "h1"), ref)
	assert.Regexp(t, `^results/[0-9a-f]{16}-h1\.json$`, ref)

	loaded, err := ReadResult(dir, ref)
	require.NoError(t, err)
	assert.Equal(t, res, loaded)

	_, err = ReadResult(dir, "../escape.json")
	assert.Error(t, err)

	stale, err := WriteResult(dir, "agent:b", result(3, "h9"))
	require.NoError(t, err)
	removed, err := PruneResults(dir, map[string]bool{ref: true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(filepath.Join(dir, stale))
	assert.True(t, os.IsNotExist(err))
}

func TestReadRevision(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, "", ReadRevision(root))

	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "refs", "heads", "main"), []byte("1111111111111111111111111111111111111111\n"), 0644))

	sub := filepath.Join(root, ".claude")
	require.NoError(t, os.MkdirAll(sub, 0755))
	assert.Equal(t, "1111111111111111111111111111111111111111", ReadRevision(sub))

	require.NoError(t, os.Remove(filepath.Join(gitDir, "refs", "heads", "main")))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "packed-refs"), []byte("# pack-refs with: peeled\n2222222222222222222222222222222222222222 refs/heads/main\n"), 0644))
	assert.Equal(t, "2222222222222222222222222222222222222222", ReadRevision(root))

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("3333333333333333333333333333333333333333\n"), 0644))
	assert.Equal(t, "3333333333333333333333333333333333333333", ReadRevision(root))
}
