package clipboard

import (
	"context"
	"errors"
	"testing"

	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
	"github.com/sshdeck/sshdeck/internal/transfer"
)

type fakeStarter struct {
	requests []transfer.Request
	err      error
}

func (f *fakeStarter) Start(_ context.Context, req transfer.Request) (string, error) {
	f.requests = append(f.requests, req)
	return "task-1", f.err
}

type fakeReloader struct {
	reloaded []string
	err      error
}

func (f *fakeReloader) ReloadSubtree(_ context.Context, _, dirPath string) error {
	f.reloaded = append(f.reloaded, dirPath)
	return f.err
}

func newTestEngine() (*Engine, *fakeStarter, *fakeReloader) {
	starter := &fakeStarter{}
	reloader := &fakeReloader{}
	return NewEngine(starter, reloader, logging.NewNop()), starter, reloader
}

func fileEntry(dir, name string) models.FileEntry {
	return models.FileEntry{Name: name, Path: dir + "/" + name}
}

func TestCopyInPlaceGetsPrefix(t *testing.T) {
	engine, starter, _ := newTestEngine()
	engine.Copy("s1", fileEntry("/home/user", "notes.txt"))

	if _, err := engine.Paste(context.Background(), "/home/user"); err != nil {
		t.Fatal(err)
	}

	req := starter.requests[0]
	if req.Kind != models.TransferCopy {
		t.Errorf("kind = %s", req.Kind)
	}
	if req.Destination != "/home/user/copy_of_notes.txt" {
		t.Errorf("destination = %s", req.Destination)
	}
}

func TestCopyInPlaceWithTrailingSlashDest(t *testing.T) {
	engine, starter, reloader := newTestEngine()
	engine.Copy("s1", fileEntry("/home/user", "notes.txt"))

	// A trailing slash on the destination must still count as in-place;
	// the copy may never land on the source's own path.
	if _, err := engine.Paste(context.Background(), "/home/user/"); err != nil {
		t.Fatal(err)
	}

	req := starter.requests[0]
	if req.Destination == req.Source {
		t.Fatalf("destination %q equals source", req.Destination)
	}
	if req.Destination != "/home/user/copy_of_notes.txt" {
		t.Errorf("destination = %s", req.Destination)
	}
	if reloader.reloaded[0] != "/home/user" {
		t.Errorf("reloaded = %v", reloader.reloaded)
	}
}

func TestCopyAcrossDirectoriesKeepsName(t *testing.T) {
	engine, starter, _ := newTestEngine()
	engine.Copy("s1", fileEntry("/home/user", "notes.txt"))

	if _, err := engine.Paste(context.Background(), "/tmp"); err != nil {
		t.Fatal(err)
	}
	if dst := starter.requests[0].Destination; dst != "/tmp/notes.txt" {
		t.Errorf("destination = %s", dst)
	}
}

func TestCutPastesExactNameEvenInPlace(t *testing.T) {
	engine, starter, _ := newTestEngine()
	engine.Cut("s1", fileEntry("/home/user", "notes.txt"))

	if _, err := engine.Paste(context.Background(), "/home/user"); err != nil {
		t.Fatal(err)
	}
	req := starter.requests[0]
	if req.Kind != models.TransferMove {
		t.Errorf("kind = %s", req.Kind)
	}
	if req.Destination != "/home/user/notes.txt" {
		t.Errorf("move must keep the exact name, got %s", req.Destination)
	}
}

func TestPasteReloadsDestination(t *testing.T) {
	engine, _, reloader := newTestEngine()
	engine.Cut("s1", fileEntry("/a", "x"))

	if _, err := engine.Paste(context.Background(), "/b"); err != nil {
		t.Fatal(err)
	}
	if len(reloader.reloaded) != 1 || reloader.reloaded[0] != "/b" {
		t.Errorf("reloaded = %v", reloader.reloaded)
	}
}

func TestPasteConsumesSlot(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.Copy("s1", fileEntry("/a", "x"))

	if _, err := engine.Paste(context.Background(), "/b"); err != nil {
		t.Fatal(err)
	}
	if engine.Entry() != nil {
		t.Error("slot should be empty after paste")
	}
	if _, err := engine.Paste(context.Background(), "/b"); !errors.Is(err, ErrEmpty) {
		t.Errorf("second paste should return ErrEmpty, got %v", err)
	}
}

func TestPasteConsumesSlotOnFailureToo(t *testing.T) {
	engine, starter, reloader := newTestEngine()
	starter.err = errors.New("destination exists")
	engine.Cut("s1", fileEntry("/a", "x"))

	if _, err := engine.Paste(context.Background(), "/b"); err == nil {
		t.Fatal("expected paste failure")
	}
	if engine.Entry() != nil {
		t.Error("slot should be consumed even on failure")
	}
	if len(reloader.reloaded) != 0 {
		t.Error("failed paste must not reload the destination")
	}
}

func TestStagingReplacesPreviousEntry(t *testing.T) {
	engine, starter, _ := newTestEngine()
	engine.Cut("s1", fileEntry("/a", "first"))
	engine.Copy("s1", fileEntry("/a", "second"))

	if entry := engine.Entry(); entry.SourceName != "second" || entry.IsCut {
		t.Errorf("staged entry = %+v", entry)
	}

	if _, err := engine.Paste(context.Background(), "/b"); err != nil {
		t.Fatal(err)
	}
	if src := starter.requests[0].Source; src != "/a/second" {
		t.Errorf("pasted %s", src)
	}
}

func TestClearDiscardsWithNoRemoteEffect(t *testing.T) {
	engine, starter, _ := newTestEngine()
	engine.Copy("s1", fileEntry("/a", "x"))
	engine.Clear()

	if engine.Entry() != nil {
		t.Error("slot should be empty after clear")
	}
	if len(starter.requests) != 0 {
		t.Error("clear must not touch the remote")
	}
}
