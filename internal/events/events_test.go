package events

import (
	"testing"
	"time"

	"github.com/sshdeck/sshdeck/internal/models"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.PublishProgress(models.TransferProgress{
		TaskID:           "task-1",
		Kind:             models.TransferUpload,
		SessionID:        "sess-1",
		FileName:         "report.pdf",
		TotalBytes:       100,
		TransferredBytes: 50,
		Status:           models.StatusTransferring,
	})

	select {
	case received := <-ch:
		progress, ok := received.(*TransferProgressEvent)
		if !ok {
			t.Fatal("Expected TransferProgressEvent")
		}
		if progress.Progress.TaskID != "task-1" {
			t.Errorf("Expected task ID 'task-1', got '%s'", progress.Progress.TaskID)
		}
		if progress.Progress.TransferredBytes != 50 {
			t.Errorf("Expected 50 transferred bytes, got %d", progress.Progress.TransferredBytes)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventFileConflict)
	ch2 := bus.Subscribe(EventFileConflict)

	bus.PublishConflict(models.FileConflict{
		TaskID:    "task-1",
		SessionID: "sess-1",
		FilePath:  "/home/user/report.pdf",
	})

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestBus_DifferentEventTypes(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	progressCh := bus.Subscribe(EventTransferProgress)
	conflictCh := bus.Subscribe(EventFileConflict)

	bus.PublishProgress(models.TransferProgress{TaskID: "task-1"})

	select {
	case <-progressCh:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Error("Progress subscriber didn't receive event")
	}

	select {
	case <-conflictCh:
		t.Error("Conflict subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
		// Expected - timeout means no event
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.PublishProgress(models.TransferProgress{TaskID: "task-1"})
	bus.PublishConflict(models.FileConflict{TaskID: "task-1"})

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)
	bus.Unsubscribe(EventTransferProgress, ch)

	bus.PublishProgress(models.TransferProgress{TaskID: "task-1"})

	select {
	case <-ch:
		t.Error("Unsubscribed channel received event")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(2) // Small buffer
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	// Fill the buffer well past capacity
	for i := 0; i < 10; i++ {
		bus.PublishProgress(models.TransferProgress{TaskID: "task-1"})
	}

	if bus.Dropped() == 0 {
		t.Error("Expected some events to be dropped with a full buffer")
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			goto done
		}
	}
done:

	if count == 0 {
		t.Error("Should have received at least some events")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(10)

	ch := bus.Subscribe(EventTransferProgress)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.PublishProgress(models.TransferProgress{TaskID: "task-1"})
}
