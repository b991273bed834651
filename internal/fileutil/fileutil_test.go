package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashTreeIgnoresArgumentOrder(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "SKILL.md"), "# skill\n")
	mustWrite(t, filepath.Join(dir, "refs", "a.md"), "alpha\n")

	first, err := HashTree(dir, []string{"SKILL.md", "refs/a.md"})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := HashTree(dir, []string{"refs/a.md", "SKILL.md"})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected order-insensitive hash, got %s vs %s", first, second)
	}
	if len(first) != HashLen {
		t.Fatalf("expected %d hex chars, got %q", HashLen, first)
	}

	mustWrite(t, filepath.Join(dir, "refs", "a.md"), "alpha changed\n")
	third, err := HashTree(dir, []string{"SKILL.md", "refs/a.md"})
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if third == first {
		t.Fatalf("expected member edit to change hash")
	}
}

func TestHashTreeDistinguishesMemberBoundaries(t *testing.T) {
	a := t.TempDir()
	mustWrite(t, filepath.Join(a, "x.md"), "ab")
	mustWrite(t, filepath.Join(a, "y.md"), "c")
	b := t.TempDir()
	mustWrite(t, filepath.Join(b, "x.md"), "a")
	mustWrite(t, filepath.Join(b, "y.md"), "bc")

	ha, _ := HashTree(a, []string{"x.md", "y.md"})
	hb, _ := HashTree(b, []string{"x.md", "y.md"})
	if ha == hb {
		t.Fatalf("expected different hashes for different member splits")
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	if err := WriteFileAtomic(path, []byte("one"), 0644); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0644); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("expected replaced content, got %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWriteIfChangedSkipsIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	changed, err := WriteIfChanged(path, []byte("same"))
	if err != nil || !changed {
		t.Fatalf("expected first write to report change, got changed=%t err=%v", changed, err)
	}
	changed, err = WriteIfChanged(path, []byte("same"))
	if err != nil || changed {
		t.Fatalf("expected identical write to be skipped, got changed=%t err=%v", changed, err)
	}
}

func TestMapKeysSorted(t *testing.T) {
	keys := MapKeysSorted(map[string]int{"b": 1, "a": 2, "c": 3})
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("unexpected key order: %v", keys)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestUpsertManagedBlockReplacesInPlace(t *testing.T) {
	existing := "before\n# >>> x >>>\nold\n# <<< x <<<\nafter\n"
	updated := UpsertManagedBlock(existing, "# >>> x >>>", "# <<< x <<<", "# >>> x >>>\nnew\n# <<< x <<<")

	if updated != "before\n# >>> x >>>\nnew\n# <<< x <<<\nafter\n" {
		t.Fatalf("unexpected content:\n%s", updated)
	}
}

func TestUpsertManagedFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitignore")
	mustWrite(t, path, "node_modules/")

	changed, err := UpsertManagedFile(path, "# start", "# end", "out/")
	if err != nil || !changed {
		t.Fatalf("first upsert: changed=%t err=%v", changed, err)
	}
	changed, err = UpsertManagedFile(path, "# start", "# end", "out/")
	if err != nil || changed {
		t.Fatalf("second upsert: changed=%t err=%v", changed, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "node_modules/\n\n# start\nout/\n# end\n" {
		t.Fatalf("unexpected content:\n%s", data)
	}
}
