package transfer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

// Remote is the slice of the remote connection the coordinator depends on.
// Upload and Download are asynchronous: they return once the transfer is
// started and report progress through events keyed by the supplied task ID.
// Copy and Rename are plain request/response calls.
type Remote interface {
	Upload(ctx context.Context, sessionID, localPath, remotePath, taskID string) error
	Download(ctx context.Context, sessionID, remotePath, localPath, taskID string) error
	Copy(ctx context.Context, sessionID, sourcePath, destPath string) error
	Rename(ctx context.Context, sessionID, oldPath, newPath string) error
	CancelTransfer(taskID string) error
}

// Request specifies one transfer to run.
type Request struct {
	Kind        models.TransferKind
	SessionID   string
	Source      string
	Destination string
}

// Config holds the coordinator's timing knobs.
type Config struct {
	// Timeout bounds the wait for a terminal event; guards against a
	// silently dropped event. Default 60s.
	Timeout time.Duration
	// GracePeriod keeps terminal tasks visible before auto-removal so the
	// UI can show the final state briefly. Default 3s.
	GracePeriod time.Duration
}

// Coordinator tracks the visible transfer task set and drives transfers to a
// terminal outcome. Independent tasks run fully concurrently; one task's
// failure never affects its siblings.
type Coordinator struct {
	mu      sync.RWMutex
	order   []string
	tasks   map[string]*Task
	timers  map[string]*time.Timer
	remote  Remote
	bus     *events.Bus
	log     *logging.Logger
	timeout time.Duration
	grace   time.Duration
}

// NewCoordinator creates a coordinator publishing and consuming on bus.
func NewCoordinator(remote Remote, bus *events.Bus, log *logging.Logger, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	return &Coordinator{
		tasks:   make(map[string]*Task),
		timers:  make(map[string]*time.Timer),
		remote:  remote,
		bus:     bus,
		log:     log,
		timeout: cfg.Timeout,
		grace:   cfg.GracePeriod,
	}
}

// Start runs one transfer to completion and returns its task ID together with
// the terminal outcome: nil for completed, ErrSkipped/ErrCancelled for the two
// cancellation flavors, ErrTimeout when no terminal event arrived in time, or
// a RemoteError carrying the server-supplied message.
//
// The task identifier is generated locally and the progress subscription is
// established before the remote request is issued, so a terminal event can
// never race past a not-yet-existing listener.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	taskID := uuid.NewString()

	sub := c.bus.Subscribe(events.EventTransferProgress)
	defer c.bus.Unsubscribe(events.EventTransferProgress, sub)

	c.track(taskID, req)

	if err := c.dispatch(ctx, taskID, req); err != nil {
		c.finalize(taskID, models.StatusFailed, err.Error())
		return taskID, fmt.Errorf("start %s: %w", req.Kind, err)
	}

	return taskID, c.awaitTerminal(ctx, taskID, sub)
}

// Cancel asks the remote side to stop the transfer. The cancellation surfaces
// as a cancelled terminal event on the ordinary progress stream.
func (c *Coordinator) Cancel(taskID string) error {
	return c.remote.CancelTransfer(taskID)
}

// Tasks returns a copy of the currently-visible task set in creation order.
func (c *Coordinator) Tasks() []Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Task, 0, len(c.order))
	for _, id := range c.order {
		if t, ok := c.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Task returns a copy of one task by ID.
func (c *Coordinator) Task(taskID string) (Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (c *Coordinator) track(taskID string, req Request) {
	name := path.Base(req.Source)

	c.mu.Lock()
	c.tasks[taskID] = &Task{
		ID:          taskID,
		Kind:        req.Kind,
		SessionID:   req.SessionID,
		FileName:    name,
		Source:      req.Source,
		Destination: req.Destination,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	c.order = append(c.order, taskID)
	c.mu.Unlock()
}

func (c *Coordinator) dispatch(ctx context.Context, taskID string, req Request) error {
	switch req.Kind {
	case models.TransferUpload:
		return c.remote.Upload(ctx, req.SessionID, req.Source, req.Destination, taskID)
	case models.TransferDownload:
		return c.remote.Download(ctx, req.SessionID, req.Source, req.Destination, taskID)
	case models.TransferCopy, models.TransferMove:
		// Plain request/response on the remote side; the coordinator
		// synthesizes progress events so copy and move tasks ride the
		// same terminal-await path as uploads and downloads.
		go c.runSyncOp(ctx, taskID, req)
		return nil
	default:
		return fmt.Errorf("unknown transfer kind %q", req.Kind)
	}
}

func (c *Coordinator) runSyncOp(ctx context.Context, taskID string, req Request) {
	p := models.TransferProgress{
		TaskID:      taskID,
		Kind:        req.Kind,
		SessionID:   req.SessionID,
		FileName:    path.Base(req.Source),
		Source:      req.Source,
		Destination: req.Destination,
		Status:      models.StatusTransferring,
	}
	c.bus.PublishProgress(p)

	var err error
	if req.Kind == models.TransferCopy {
		err = c.remote.Copy(ctx, req.SessionID, req.Source, req.Destination)
	} else {
		err = c.remote.Rename(ctx, req.SessionID, req.Source, req.Destination)
	}

	if err != nil {
		p.Status = models.StatusFailed
		p.Error = err.Error()
	} else {
		p.Status = models.StatusCompleted
	}
	c.bus.PublishProgress(p)
}

// awaitTerminal consumes progress events for taskID until a terminal status
// arrives, the safety timer fires, or the caller's context is cancelled.
func (c *Coordinator) awaitTerminal(ctx context.Context, taskID string, sub <-chan events.Event) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.remote.CancelTransfer(taskID); err != nil {
				c.log.Debug().Err(err).Str("task", taskID).Msg("remote cancel after context done")
			}
			c.finalize(taskID, models.StatusCancelled, models.ErrTextCancelled)
			return ErrCancelled
		case <-timer.C:
			c.finalize(taskID, models.StatusFailed, ErrTimeout.Error())
			return ErrTimeout
		case ev, ok := <-sub:
			if !ok {
				c.finalize(taskID, models.StatusFailed, "event stream closed")
				return errors.New("event stream closed")
			}
			pe, ok := ev.(*events.TransferProgressEvent)
			if !ok || pe.Progress.TaskID != taskID {
				continue
			}
			done, err := c.apply(pe.Progress)
			if done {
				return err
			}
		}
	}
}

// apply folds one progress event into the tracked task. It returns done=true
// with the mapped outcome when the event is terminal.
func (c *Coordinator) apply(p models.TransferProgress) (bool, error) {
	c.mu.Lock()
	task, ok := c.tasks[p.TaskID]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}

	if task.Status.IsTerminal() {
		// Terminal states are absorbing; anything after is a protocol
		// violation from the remote side.
		c.mu.Unlock()
		if !p.Status.IsTerminal() {
			c.log.Error().Str("task", p.TaskID).Str("status", string(p.Status)).
				Msg("progress event after terminal status, ignoring")
		}
		return true, c.outcome(p.TaskID)
	}

	task.TotalBytes = p.TotalBytes
	transferred := p.TransferredBytes
	if task.TotalBytes > 0 && transferred > task.TotalBytes {
		transferred = task.TotalBytes
	}
	task.TransferredBytes = transferred
	task.Speed = p.Speed
	task.ETASeconds = p.ETASeconds

	if !p.Status.IsTerminal() {
		if task.Status == models.StatusPending && p.Status == models.StatusTransferring {
			task.Status = models.StatusTransferring
		}
		c.mu.Unlock()
		return false, nil
	}

	task.Status = p.Status
	task.Error = p.Error
	task.CompletedAt = time.Now()
	c.scheduleRemovalLocked(p.TaskID)
	c.mu.Unlock()

	return true, c.outcome(p.TaskID)
}

// outcome maps a terminal task to the error returned by Start.
func (c *Coordinator) outcome(taskID string) error {
	c.mu.RLock()
	task, ok := c.tasks[taskID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	switch task.Status {
	case models.StatusCompleted:
		return nil
	case models.StatusCancelled:
		if task.Error == models.ErrTextSkipped {
			return ErrSkipped
		}
		return ErrCancelled
	case models.StatusFailed:
		if task.Error == ErrTimeout.Error() {
			return ErrTimeout
		}
		return &RemoteError{Msg: task.Error}
	default:
		return nil
	}
}

// finalize forces a task into a terminal status from the client side. Used
// for dispatch failures, timeouts, and context cancellation.
func (c *Coordinator) finalize(taskID string, status models.TransferStatus, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		return
	}
	task.Status = status
	if status != models.StatusCompleted {
		task.Error = errText
	}
	task.CompletedAt = time.Now()
	c.scheduleRemovalLocked(taskID)
}

// scheduleRemovalLocked arms the grace-period timer that drops a terminal
// task from the visible set. Caller holds the lock.
func (c *Coordinator) scheduleRemovalLocked(taskID string) {
	if _, armed := c.timers[taskID]; armed {
		return
	}
	c.timers[taskID] = time.AfterFunc(c.grace, func() {
		c.remove(taskID)
	})
}

func (c *Coordinator) remove(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tasks, taskID)
	delete(c.timers, taskID)
	for i, id := range c.order {
		if id == taskID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
