package log

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deathchest.gg/internal/lifecycle"
)

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "audit")
	now := time.Date(2026, 6, 1, 9, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	_ = w.Write(map[string]int{"n": 1})
	_ = w.Write(map[string]int{"n": 2})
	now = now.Add(2 * time.Minute)
	_ = w.Write(map[string]int{"n": 3})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	count := func(name string) int {
		n := 0
		if err := ReadLines(filepath.Join(dir, name), func([]byte) error { n++; return nil }); err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return n
	}
	if got := count("audit-2026-06-01-09.jsonl.zst"); got != 2 {
		t.Fatalf("hour 09 lines = %d", got)
	}
	if got := count("audit-2026-06-01-10.jsonl.zst"); got != 1 {
		t.Fatalf("hour 10 lines = %d", got)
	}
}

func TestJSONLZstdWriter_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) }
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "deaths")
		w.now = fixed
		_ = w.Write(DeployEntry{Code: "SUCCESS", Stored: i})
		_ = w.Close()
	}
	var got []DeployEntry
	err := ReadLines(filepath.Join(dir, "deaths-2026-06-01-09.jsonl.zst"), func(b []byte) error {
		var e DeployEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[1].Stored != 1 {
		t.Fatalf("entries = %+v", got)
	}
}

func TestAuditLogger_WritesUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	if err := l.WriteAudit(lifecycle.AuditEntry{Action: "CREATE", ChestID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = l.Close()
	matches, _ := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if len(matches) != 1 {
		t.Fatalf("files = %v", matches)
	}
	if fi, err := os.Stat(matches[0]); err != nil || fi.Size() == 0 {
		t.Fatalf("empty audit file")
	}
}

type failingSink struct{ calls int }

func (f *failingSink) WriteAudit(lifecycle.AuditEntry) error {
	f.calls++
	return errors.New("disk full")
}

func TestFanout(t *testing.T) {
	a, b := &failingSink{}, &failingSink{}
	err := Fanout{a, nil, b}.WriteAudit(lifecycle.AuditEntry{})
	if err == nil || a.calls != 1 || b.calls != 1 {
		t.Fatalf("fanout err=%v calls=%d,%d", err, a.calls, b.calls)
	}
}
