package store

import (
	"path/filepath"
	"testing"
	"time"
)

// openTestStore opens a fresh migrated database in a temp dir with a
// deterministic clock.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	s.Now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	// Second run must be a no-op, not an error.
	if err := s.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.RebuildSearchIndexes(); err != nil {
		t.Fatalf("rebuild indexes: %v", err)
	}
	if err := s.RebuildSearchIndexes(); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
}

func TestSessionConfig(t *testing.T) {
	s := openTestStore(t)

	if v, err := s.GetSessionConfig("session_id"); err != nil || v != "" {
		t.Fatalf("unset key: got (%q, %v), want empty", v, err)
	}
	if err := s.SetSessionConfig("session_id", "session_01ABC"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSessionConfig("session_id", "session_01DEF"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := s.GetSessionConfig("session_id")
	if err != nil || v != "session_01DEF" {
		t.Fatalf("get: got (%q, %v), want session_01DEF", v, err)
	}
}

func TestWorkers_Lifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateWorker("worker_01A", WorkerTemporalCompact); err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := s.GetWorker("worker_01A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.Status != WorkerRunning || w.CompletedAt != nil {
		t.Errorf("new worker: status=%s completed=%v", w.Status, w.CompletedAt)
	}

	if err := s.CompleteWorker("worker_01A"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	w, _ = s.GetWorker("worker_01A")
	if w.Status != WorkerCompleted || w.CompletedAt == nil {
		t.Errorf("completed worker: status=%s completed=%v", w.Status, w.CompletedAt)
	}

	if err := s.CreateWorker("worker_01B", WorkerLTMReflect); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := s.FailWorker("worker_01B", errFake); err != nil {
		t.Fatalf("fail: %v", err)
	}
	w, _ = s.GetWorker("worker_01B")
	if w.Status != WorkerFailed || w.Error != "fake failure" {
		t.Errorf("failed worker: status=%s error=%q", w.Status, w.Error)
	}
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var errFake = fakeErr("fake failure")
