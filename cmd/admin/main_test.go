package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogFiles_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"audit-2026-05-01-10.jsonl.zst",
		"audit-2026-05-01-08.jsonl.zst",
		"audit-2026-04-30-23.jsonl.zst",
		"deaths-2026-05-01-10.jsonl.zst",
		"audit-bogus.jsonl.zst",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := logFiles(dir, "audit", time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("logFiles: %v", err)
	}
	want := []string{
		filepath.Join(dir, "audit-2026-05-01-08.jsonl.zst"),
		filepath.Join(dir, "audit-2026-05-01-10.jsonl.zst"),
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("files = %v", got)
	}
}
