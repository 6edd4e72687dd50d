package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenDB_CreatesSchema(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB error: %v", err)
	}
	defer db.Close()

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='batches'").Scan(&name); err != nil {
		t.Fatalf("batches table not created: %v", err)
	}
	if _, err := db.Exec("SELECT last_apl FROM batches LIMIT 1"); err != nil {
		t.Fatalf("last_apl column missing: %v", err)
	}
}

func TestOpenDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB error: %v", err)
	}
	db.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
		t.Error("directory was not created")
	}
}

func TestOpenDB_MigratesOldSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB error: %v", err)
	}
	if _, err := db.Exec("ALTER TABLE batches DROP COLUMN last_apl"); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	db.Close()

	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("SELECT last_apl FROM batches LIMIT 1"); err != nil {
		t.Fatalf("last_apl not migrated: %v", err)
	}
}

func TestUpsert_TracksProgress(t *testing.T) {
	s := newTestStore(t)

	evt := protocol.ProgressEvent{BatchID: "b1", Status: protocol.BatchRunning, Total: 10, Completed: 3, CurrentAPL: protocol.Ptr(30.0)}
	if err := s.Upsert(evt); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	evt.Completed = 4
	evt.CurrentAPL = nil
	if err := s.Upsert(evt); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec, err := s.Get("b1")
	if err != nil || rec == nil {
		t.Fatalf("Get: %v, %v", rec, err)
	}
	if rec.Completed != 4 || rec.Total != 10 {
		t.Errorf("progress = %d/%d, want 4/10", rec.Completed, rec.Total)
	}
	if rec.LastAPL == nil || *rec.LastAPL != 30 {
		t.Errorf("LastAPL = %v, want 30 kept from earlier event", rec.LastAPL)
	}
	if rec.FinishedAt != nil {
		t.Errorf("running batch has FinishedAt %v", rec.FinishedAt)
	}
}

func TestUpsert_TerminalIsFinal(t *testing.T) {
	s := newTestStore(t)

	done := protocol.ProgressEvent{BatchID: "b1", Status: protocol.BatchCompleted, Total: 2, Completed: 2}
	if err := s.Upsert(done); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	late := protocol.ProgressEvent{BatchID: "b1", Status: protocol.BatchRunning, Total: 2, Completed: 1}
	if err := s.Upsert(late); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec, err := s.Get("b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != protocol.BatchCompleted || rec.Completed != 2 {
		t.Errorf("got %s %d, want completed 2", rec.Status, rec.Completed)
	}
	if rec.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestUpsert_EmptyID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(protocol.ProgressEvent{Status: protocol.BatchRunning}); err == nil {
		t.Error("expected error for empty batch id")
	}
}

func TestGet_Unknown(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Get("missing")
	if err != nil || rec != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", rec, err)
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		if err := s.Upsert(protocol.ProgressEvent{BatchID: id, Status: protocol.BatchRunning, Total: 1}); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	recs, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("Recent(2) = %v, want [c b]", ids(recs))
	}
	if !recs[0].FirstSeen.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("FirstSeen = %v", recs[0].FirstSeen)
	}
}

func TestMarkInterrupted(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(protocol.ProgressEvent{BatchID: "run", Status: protocol.BatchRunning, Total: 5})
	s.Upsert(protocol.ProgressEvent{BatchID: "done", Status: protocol.BatchCancelled, Total: 5})

	n, err := s.MarkInterrupted()
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 1 {
		t.Errorf("affected = %d, want 1", n)
	}
	rec, _ := s.Get("run")
	if rec.Status != protocol.BatchFailed || rec.FinishedAt == nil {
		t.Errorf("run = %s finished=%v, want failed and finished", rec.Status, rec.FinishedAt)
	}
	rec, _ = s.Get("done")
	if rec.Status != protocol.BatchCancelled {
		t.Errorf("done = %s, want cancelled untouched", rec.Status)
	}
}

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
