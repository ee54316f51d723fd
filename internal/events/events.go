// Package events provides the in-process event bus that carries asynchronous
// notifications between the remote connection layer and the engine: transfer
// progress, file conflicts, and tree updates for the UI.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sshdeck/sshdeck/internal/models"
)

// EventType defines the types of events that can be emitted.
type EventType string

const (
	// EventTransferProgress carries a TransferProgress payload, keyed by task ID.
	EventTransferProgress EventType = "transfer-progress"
	// EventFileConflict is emitted when a transfer discovers a naming collision.
	EventFileConflict EventType = "file-conflict"
	// EventFileListChanged is emitted when a directory's entries change.
	EventFileListChanged EventType = "file-list-changed"
	// EventTreeLoading is emitted when a tree node starts or stops loading.
	EventTreeLoading EventType = "tree-loading"
	// EventSessionClosed is emitted when a session and its tree are discarded.
	EventSessionClosed EventType = "session-closed"
)

const (
	defaultBuffer = 256
	maxBuffer     = 4096
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferProgressEvent wraps one progress update for a transfer task.
type TransferProgressEvent struct {
	BaseEvent
	Progress models.TransferProgress
}

// FileConflictEvent wraps a remote-discovered naming collision.
type FileConflictEvent struct {
	BaseEvent
	Conflict models.FileConflict
}

// FileListChangedEvent announces that the entries under Path changed.
type FileListChangedEvent struct {
	BaseEvent
	SessionID string
	Path      string
}

// TreeLoadingEvent announces that the node at Path started or stopped loading.
type TreeLoadingEvent struct {
	BaseEvent
	SessionID string
	Path      string
	Loading   bool
}

// SessionClosedEvent announces that a session's tree state was discarded.
type SessionClosedEvent struct {
	BaseEvent
	SessionID string
}

// Bus manages event subscriptions and publishing.
type Bus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewBus creates a new event bus with the specified per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if bufferSize > maxBuffer {
		bufferSize = maxBuffer
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish sends an event to all subscribers. Publishing never blocks: if a
// subscriber's buffer is full the event is dropped and counted.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			b.droppedEvents.Add(1)
		}
	}

	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.droppedEvents.Add(1)
		}
	}
}

// PublishProgress is a convenience method for publishing transfer progress.
func (b *Bus) PublishProgress(p models.TransferProgress) {
	b.Publish(&TransferProgressEvent{
		BaseEvent: BaseEvent{EventType: EventTransferProgress, Time: time.Now()},
		Progress:  p,
	})
}

// PublishConflict is a convenience method for publishing a file conflict.
func (b *Bus) PublishConflict(c models.FileConflict) {
	b.Publish(&FileConflictEvent{
		BaseEvent: BaseEvent{EventType: EventFileConflict, Time: time.Now()},
		Conflict:  c,
	})
}

// Unsubscribe removes a subscription channel from a specific event type.
// This prevents leaks from abandoned per-task subscriptions.
func (b *Bus) Unsubscribe(eventType EventType, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subscribers := b.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			b.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// Close shuts down the event bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// Dropped returns the total number of events dropped due to full buffers.
func (b *Bus) Dropped() int64 {
	return b.droppedEvents.Load()
}
