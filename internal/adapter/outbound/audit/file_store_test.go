package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/audit"
	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeRecord(ts time.Time, reqID string) audit.Record {
	return audit.Record{
		RequestID:     reqID,
		ArrivalTime:   ts,
		DecidedAt:     ts,
		SessionID:     "sess-1",
		AgentID:       "agent-1",
		Method:        "tools/call",
		PayloadSHA256: audit.HashPayload([]byte(`{}`)),
		L1Level:       "none",
		L2IsInjection: "no",
		Verdict:       "allow",
		Reason:        "clean",
	}
}

func testConfig(dir string) FileStoreConfig {
	return FileStoreConfig{
		Dir:           dir,
		RetentionDays: 7,
		MaxFileSizeMB: 100,
		CacheSize:     100,
		FlushInterval: 20 * time.Millisecond,
		HighWatermark: 50,
		QueueCapacity: 256,
	}
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := filepath.Join(t.TempDir(), "subdir", "audit")
	store, err := NewFileStore(testConfig(dir), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory, got file")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("directory permissions = %o, want 0700", perm)
	}
}

func TestFileStore_AppendWritesJSONLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	store, err := NewFileStore(testConfig(dir), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	records := []audit.Record{
		makeRecord(now, "req-1"),
		makeRecord(now, "req-2"),
		makeRecord(now, "req-3"),
	}

	if err := store.Append(ctx, records...); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	filename := filepath.Join(dir, "audit-"+now.Format("2006-01-02")+".log")
	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("failed to open audit file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lines []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if lines[0].RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", lines[0].RequestID)
	}
}

func TestFileStore_FlushIntervalDrainsWithoutExplicitFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.FlushInterval = 10 * time.Millisecond
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now().UTC()
	if err := store.Append(context.Background(), makeRecord(now, "req-timer")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		recs, err := store.Query(context.Background(), audit.Filter{})
		if err != nil {
			t.Fatalf("Query() error: %v", err)
		}
		if len(recs) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("record was not drained within the flush interval")
}

func TestFileStore_HighWatermarkTriggersImmediateDrain(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.FlushInterval = time.Hour // effectively disabled
	cfg.HighWatermark = 5
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := store.Append(context.Background(), makeRecord(now, "req-wm")); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		recs, err := store.Query(context.Background(), audit.Filter{})
		if err != nil {
			t.Fatalf("Query() error: %v", err)
		}
		if len(recs) == 5 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("records were not drained by the high watermark")
}

func TestFileStore_AppendBlocksBrieflyWhenQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.QueueCapacity = 1
	cfg.FlushInterval = time.Hour
	cfg.HighWatermark = 1_000_000
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now().UTC()
	if err := store.Append(context.Background(), makeRecord(now, "first")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = store.Append(ctx, makeRecord(now, "second"))
	if err == nil {
		t.Error("Append() error = nil, want context deadline exceeded on a saturated queue")
	}
}

func TestFileStore_QueryFiltersByVerdictAndSince(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	store, err := NewFileStore(testConfig(dir), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	base := time.Now().UTC()
	old := makeRecord(base.Add(-time.Hour), "old-blocked")
	old.Verdict = "block"
	recent := makeRecord(base, "recent-blocked")
	recent.Verdict = "block"
	allowed := makeRecord(base, "recent-allowed")
	allowed.Verdict = "allow"

	if err := store.Append(context.Background(), old, recent, allowed); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	recs, err := store.Query(context.Background(), audit.Filter{Verdict: "block", Since: base.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(recs) != 1 || recs[0].RequestID != "recent-blocked" {
		t.Errorf("Query() = %+v, want only recent-blocked", recs)
	}
}

func TestFileStore_CloseFlushesQueuedRecords(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.FlushInterval = time.Hour
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	now := time.Now().UTC()
	if err := store.Append(context.Background(), makeRecord(now, "req-close")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	filename := filepath.Join(dir, "audit-"+now.Format("2006-01-02")+".log")
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read audit file: %v", err)
	}
	if len(data) == 0 {
		t.Error("audit file is empty, want the queued record to have been flushed on Close")
	}
}

func TestFileStore_SizeRotationCreatesNewSuffixedFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig(dir)
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	store.maxFileSize = 10 // force rotation almost immediately

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := store.Append(context.Background(), makeRecord(now, "req-rotate")); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) < 2 {
		t.Errorf("got %d audit files, want at least 2 after size rotation", len(entries))
	}
}

func TestFileStore_RetentionCleanupDeletesOldFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}

	oldName := filepath.Join(dir, "audit-2000-01-01.log")
	if err := os.WriteFile(oldName, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cfg := testConfig(dir)
	cfg.RetentionDays = 1
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(oldName); !os.IsNotExist(err) {
		t.Error("expected stale audit file to be deleted on startup cleanup")
	}
}

func TestParseAuditFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantOK   bool
		wantDate string
		wantSfx  int
	}{
		{"base", "audit-2024-01-15.log", true, "2024-01-15", 0},
		{"suffixed", "audit-2024-01-15-3.log", true, "2024-01-15", 3},
		{"not matching", "other.log", false, "", 0},
		{"partial", "audit-2024-01.log", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := parseAuditFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if info.date != tt.wantDate || info.suffix != tt.wantSfx {
				t.Errorf("got (%q, %d), want (%q, %d)", info.date, info.suffix, tt.wantDate, tt.wantSfx)
			}
		})
	}
}

func TestAuditCache_RecentReturnsNewestFirst(t *testing.T) {
	c := newAuditCache(2)
	c.Add(audit.Record{RequestID: "a"})
	c.Add(audit.Record{RequestID: "b"})
	c.Add(audit.Record{RequestID: "c"}) // evicts "a"

	recent := c.Recent(2)
	if len(recent) != 2 || recent[0].RequestID != "c" || recent[1].RequestID != "b" {
		t.Errorf("Recent(2) = %+v, want [c b]", recent)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}
