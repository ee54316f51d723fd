package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entryAt(taskID, sessionID string, finished time.Time) Entry {
	return Entry{
		TaskID:      taskID,
		Kind:        models.TransferUpload,
		SessionID:   sessionID,
		FileName:    "a.txt",
		Source:      "/tmp/a.txt",
		Destination: "/home/u/a.txt",
		Bytes:       1024,
		Status:      models.StatusCompleted,
		StartedAt:   finished.Add(-time.Minute),
		FinishedAt:  finished,
	}
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	for i, id := range []string{"t1", "t2", "t3"} {
		if err := store.Record(entryAt(id, "s1", now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].TaskID != "t3" {
		t.Errorf("newest first: got %s", got[0].TaskID)
	}
	if got[0].Bytes != 1024 || got[0].Status != models.StatusCompleted {
		t.Errorf("roundtrip mismatch: %+v", got[0])
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := store.Record(entryAt("t", "s1", now)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}

func TestBySessionFilters(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	store.Record(entryAt("t1", "s1", now))
	store.Record(entryAt("t2", "s2", now))
	store.Record(entryAt("t3", "s1", now))

	got, err := store.BySession("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries for s1", len(got))
	}
	for _, e := range got {
		if e.SessionID != "s1" {
			t.Errorf("leaked session %s", e.SessionID)
		}
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	store.Record(entryAt("old", "s1", now.Add(-100*24*time.Hour)))
	store.Record(entryAt("new", "s1", now))

	removed, err := store.Prune(90 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}

	got, _ := store.Recent(10)
	if len(got) != 1 || got[0].TaskID != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	store, err := Open(path, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
}
