package cli

import (
	"strings"
	"testing"
)

func TestBuildAuditHookBlockRunsIncrementalAudit(t *testing.T) {
	block := BuildAuditHookBlock("/repo/path", false)

	for _, expected := range []string{
		HookStart,
		"repo_root=\"/repo/path\"",
		"cfgaudit run --incremental --quiet",
		"if [ \"$status\" -eq 2 ]; then\n    exit 1",
		HookEnd,
	} {
		if !strings.Contains(block, expected) {
			t.Fatalf("expected hook block to contain %q, got:\n%s", expected, block)
		}
	}

	lenient := BuildAuditHookBlock("/repo/path", true)
	if strings.Contains(lenient, "-eq 2 ]; then\n    exit 1") {
		t.Fatalf("expected --allow-failures to let component failures through, got:\n%s", lenient)
	}
}

func TestUpsertAuditHookReplacesExistingBlock(t *testing.T) {
	existing := "#!/bin/sh\n\necho before\n" + HookStart + "\nold block\n" + HookEnd + "\n\necho after\n"
	updated := UpsertAuditHook(existing, "/repo/path", false)

	if strings.Contains(updated, "old block") {
		t.Fatalf("expected old hook block to be replaced, got:\n%s", updated)
	}
	if strings.Count(updated, HookStart) != 1 || strings.Count(updated, HookEnd) != 1 {
		t.Fatalf("expected exactly one hook block after update, got:\n%s", updated)
	}
	if !strings.Contains(updated, "echo before") || !strings.Contains(updated, "echo after") {
		t.Fatalf("expected non-cfgaudit hook content to be preserved, got:\n%s", updated)
	}
}

func TestUpsertAuditHookAddsShebang(t *testing.T) {
	updated := UpsertAuditHook("echo custom\n", "/repo/path", false)

	if !strings.HasPrefix(updated, "#!/bin/sh\necho custom\n\n"+HookStart) {
		t.Fatalf("expected shebang and appended block, got:\n%s", updated)
	}
	if UpsertAuditHook(updated, "/repo/path", false) != updated {
		t.Fatalf("expected upsert to be idempotent")
	}
}
