package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

// fakeRemote scripts the event sequence each transfer produces. The script
// runs in a goroutine after the request call returns, like a real remote.
type fakeRemote struct {
	mu        sync.Mutex
	bus       *events.Bus
	script    func(p models.TransferProgress)
	startErr  error
	cancelled []string
	copyErr   error
	renameErr error
	copies    int
	renames   int
}

func (f *fakeRemote) Upload(_ context.Context, sessionID, localPath, remotePath, taskID string) error {
	return f.start(sessionID, models.TransferUpload, localPath, remotePath, taskID)
}

func (f *fakeRemote) Download(_ context.Context, sessionID, remotePath, localPath, taskID string) error {
	return f.start(sessionID, models.TransferDownload, remotePath, localPath, taskID)
}

func (f *fakeRemote) start(sessionID string, kind models.TransferKind, source, dest, taskID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	p := models.TransferProgress{
		TaskID:      taskID,
		Kind:        kind,
		SessionID:   sessionID,
		Source:      source,
		Destination: dest,
	}
	go f.script(p)
	return nil
}

func (f *fakeRemote) Copy(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	return f.copyErr
}

func (f *fakeRemote) Rename(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames++
	return f.renameErr
}

func (f *fakeRemote) CancelTransfer(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return nil
}

func newTestCoordinator(t *testing.T, remote *fakeRemote, cfg Config) (*Coordinator, *events.Bus) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	remote.bus = bus
	return NewCoordinator(remote, bus, logging.NewNop(), cfg), bus
}

func progressSeq(bus *events.Bus, steps ...func(*models.TransferProgress)) func(models.TransferProgress) {
	return func(p models.TransferProgress) {
		for _, step := range steps {
			step(&p)
			bus.PublishProgress(p)
		}
	}
}

func transferring(total, transferred uint64) func(*models.TransferProgress) {
	return func(p *models.TransferProgress) {
		p.Status = models.StatusTransferring
		p.TotalBytes = total
		p.TransferredBytes = transferred
	}
}

func terminal(status models.TransferStatus, errText string) func(*models.TransferProgress) {
	return func(p *models.TransferProgress) {
		p.Status = status
		p.Error = errText
	}
}

func TestStart_CompletedUpload(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{})
	remote.script = progressSeq(bus,
		transferring(100, 40),
		transferring(100, 100),
		terminal(models.StatusCompleted, ""),
	)

	taskID, err := coord.Start(context.Background(), Request{
		Kind:        models.TransferUpload,
		SessionID:   "s1",
		Source:      "/tmp/report.pdf",
		Destination: "/home/user/report.pdf",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	task, ok := coord.Task(taskID)
	if !ok {
		t.Fatal("task should still be visible during the grace period")
	}
	if task.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
	if task.FileName != "report.pdf" {
		t.Errorf("file name = %s, want report.pdf", task.FileName)
	}
	if task.TransferredBytes != 100 {
		t.Errorf("transferred = %d, want 100", task.TransferredBytes)
	}
}

func TestStart_FailureCarriesRemoteMessage(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{})
	remote.script = progressSeq(bus,
		transferring(100, 10),
		terminal(models.StatusFailed, "disk quota exceeded"),
	)

	_, err := coord.Start(context.Background(), Request{
		Kind: models.TransferUpload, SessionID: "s1", Source: "/tmp/a", Destination: "/a",
	})

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.Msg != "disk quota exceeded" {
		t.Errorf("message = %q", remoteErr.Msg)
	}
}

func TestStart_SkipDistinctFromCancel(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{})
	remote.script = progressSeq(bus, terminal(models.StatusCancelled, models.ErrTextSkipped))

	taskID, err := coord.Start(context.Background(), Request{
		Kind: models.TransferUpload, SessionID: "s1", Source: "/tmp/a", Destination: "/a",
	})
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("expected ErrSkipped, got %v", err)
	}
	task, _ := coord.Task(taskID)
	if task.Status != models.StatusCancelled {
		t.Errorf("skipped task should show cancelled status, got %s", task.Status)
	}
	if task.Error != models.ErrTextSkipped {
		t.Errorf("error text = %q", task.Error)
	}

	remote.script = progressSeq(bus, terminal(models.StatusCancelled, models.ErrTextCancelled))
	_, err = coord.Start(context.Background(), Request{
		Kind: models.TransferUpload, SessionID: "s1", Source: "/tmp/b", Destination: "/b",
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestStart_TimeoutWhenNoTerminalEvent(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{Timeout: 100 * time.Millisecond})
	// Progress arrives but a terminal event never does.
	remote.script = progressSeq(bus, transferring(100, 10))

	started := time.Now()
	taskID, err := coord.Start(context.Background(), Request{
		Kind: models.TransferDownload, SessionID: "s1", Source: "/a", Destination: "/tmp/a",
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed < 100*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}

	task, _ := coord.Task(taskID)
	if task.Status != models.StatusFailed {
		t.Errorf("timed-out task should be failed, got %s", task.Status)
	}
}

func TestStart_TransferredBytesClamped(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{})
	remote.script = progressSeq(bus,
		transferring(100, 150), // remote overshoots
		terminal(models.StatusCompleted, ""),
	)

	taskID, err := coord.Start(context.Background(), Request{
		Kind: models.TransferUpload, SessionID: "s1", Source: "/tmp/a", Destination: "/a",
	})
	if err != nil {
		t.Fatal(err)
	}
	task, _ := coord.Task(taskID)
	if task.TransferredBytes > task.TotalBytes {
		t.Errorf("transferred %d exceeds total %d", task.TransferredBytes, task.TotalBytes)
	}
}

func TestStart_ConcurrentSiblingsSurviveOneFailure(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{})
	remote.script = func(p models.TransferProgress) {
		p.Status = models.StatusTransferring
		p.TotalBytes = 10
		bus.PublishProgress(p)
		if p.Source == "/tmp/bad" {
			p.Status = models.StatusFailed
			p.Error = "remote write failed"
		} else {
			p.Status = models.StatusCompleted
			p.TransferredBytes = 10
		}
		bus.PublishProgress(p)
	}

	sources := []string{"/tmp/a", "/tmp/bad", "/tmp/c", "/tmp/d"}
	errs := make([]error, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			_, errs[i] = coord.Start(context.Background(), Request{
				Kind: models.TransferUpload, SessionID: "s1", Source: src, Destination: "/dst" + src,
			})
		}(i, src)
	}
	wg.Wait()

	if errs[1] == nil {
		t.Error("the bad transfer should fail")
	}
	for i, src := range sources {
		if i == 1 {
			continue
		}
		if errs[i] != nil {
			t.Errorf("sibling %s should complete, got %v", src, errs[i])
		}
	}
}

func TestTerminalTaskRemovedAfterGracePeriod(t *testing.T) {
	remote := &fakeRemote{}
	coord, bus := newTestCoordinator(t, remote, Config{GracePeriod: 50 * time.Millisecond})
	remote.script = progressSeq(bus, terminal(models.StatusCompleted, ""))

	taskID, err := coord.Start(context.Background(), Request{
		Kind: models.TransferUpload, SessionID: "s1", Source: "/tmp/a", Destination: "/a",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := coord.Task(taskID); !ok {
		t.Fatal("task should be visible immediately after completion")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := coord.Task(taskID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task was not removed after the grace period")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(coord.Tasks()) != 0 {
		t.Error("task list should be empty after removal")
	}
}

func TestStart_DispatchFailure(t *testing.T) {
	remote := &fakeRemote{startErr: errors.New("session not found")}
	coord, _ := newTestCoordinator(t, remote, Config{})

	taskID, err := coord.Start(context.Background(), Request{
		Kind: models.TransferUpload, SessionID: "nope", Source: "/tmp/a", Destination: "/a",
	})
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	task, _ := coord.Task(taskID)
	if task.Status != models.StatusFailed {
		t.Errorf("task should be failed after dispatch error, got %s", task.Status)
	}
}

func TestStart_CopyAndMoveSynthesizeEvents(t *testing.T) {
	remote := &fakeRemote{}
	coord, _ := newTestCoordinator(t, remote, Config{})

	if _, err := coord.Start(context.Background(), Request{
		Kind: models.TransferCopy, SessionID: "s1", Source: "/a/x", Destination: "/b/x",
	}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if remote.copies != 1 {
		t.Errorf("expected 1 remote copy, got %d", remote.copies)
	}

	if _, err := coord.Start(context.Background(), Request{
		Kind: models.TransferMove, SessionID: "s1", Source: "/a/y", Destination: "/b/y",
	}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if remote.renames != 1 {
		t.Errorf("expected 1 remote rename, got %d", remote.renames)
	}

	remote.copyErr = errors.New("destination exists")
	_, err := coord.Start(context.Background(), Request{
		Kind: models.TransferCopy, SessionID: "s1", Source: "/a/z", Destination: "/b/z",
	})
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError for failed copy, got %v", err)
	}
}

func TestCancelForwardsToRemote(t *testing.T) {
	remote := &fakeRemote{}
	coord, _ := newTestCoordinator(t, remote, Config{})

	if err := coord.Cancel("task-123"); err != nil {
		t.Fatal(err)
	}
	if len(remote.cancelled) != 1 || remote.cancelled[0] != "task-123" {
		t.Errorf("cancel not forwarded: %v", remote.cancelled)
	}
}
