package corelog

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLogWritesOneJSONLineWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := l.Log(now, "worker_started", map[string]any{"agent_id": "recon"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected trailing newline, got %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", out)
	}

	var rec record
	if err := json.Unmarshal([]byte(strings.TrimSuffix(out, "\n")), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Event != "worker_started" {
		t.Fatalf("expected event=worker_started, got %q", rec.Event)
	}
	if !rec.Time.Equal(now) {
		t.Fatalf("expected time=%v, got %v", now, rec.Time)
	}
	if rec.Fields["agent_id"] != "recon" {
		t.Fatalf("expected agent_id=recon, got %v", rec.Fields["agent_id"])
	}
}

func TestLogOmitsFieldsWhenNil(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	if err := l.Log(time.Now(), "supervisor_start", nil); err != nil {
		t.Fatalf("log: %v", err)
	}
	if strings.Contains(buf.String(), `"fields"`) {
		t.Fatalf("expected fields key to be omitted for nil fields, got %q", buf.String())
	}
}

func TestRotateFileCompressesAndTruncatesOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.jsonl")

	l, f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Log(time.Now(), "worker_started", map[string]any{"agent_id": "recon"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	f.Close()

	if err := RotateFile(path, ".test"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat original: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected original log to be truncated, got size %d", info.Size())
	}

	gzFile, err := os.Open(path + ".gz.test")
	if err != nil {
		t.Fatalf("open rotated file: %v", err)
	}
	defer gzFile.Close()

	r, err := gzip.NewReader(gzFile)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read decompressed: %v", err)
	}
	if !strings.Contains(string(data), "worker_started") {
		t.Fatalf("expected decompressed content to contain the logged event, got %q", data)
	}
}

func TestLogIsSafeForConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = l.Log(time.Now(), "concurrent_event", map[string]any{"n": n})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 50 {
		t.Fatalf("expected 50 lines, got %d", len(lines))
	}
	for _, line := range lines {
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line is not valid standalone JSON: %q: %v", line, err)
		}
	}
}
