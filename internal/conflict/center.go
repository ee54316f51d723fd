// Package conflict tracks file conflicts reported by the remote side and
// routes user decisions back to the stalled transfers.
package conflict

import (
	"fmt"
	"sync"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

// Resolver delivers a resolution to the transfer stalled on a conflict.
type Resolver interface {
	ResolveConflict(taskID string, resolution models.Resolution) error
}

// Center collects pending conflicts from the event stream. Each conflict stays
// visible until resolved. When overwrite-all is armed, incoming conflicts are
// resolved as overwrite immediately without ever becoming visible.
type Center struct {
	mu           sync.Mutex
	pending      []models.FileConflict
	byTask       map[string]int
	overwriteAll bool

	resolver Resolver
	bus      *events.Bus
	log      *logging.Logger

	sub  <-chan events.Event
	done chan struct{}
}

// NewCenter creates a center consuming file-conflict events from bus.
// Call Run to start consuming and Stop to detach.
func NewCenter(resolver Resolver, bus *events.Bus, log *logging.Logger) *Center {
	return &Center{
		byTask:   make(map[string]int),
		resolver: resolver,
		bus:      bus,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Run subscribes to conflict events and consumes them until Stop is called.
// It returns after the subscription is established, consuming in background.
func (c *Center) Run() {
	c.sub = c.bus.Subscribe(events.EventFileConflict)
	go c.consume()
}

// Stop detaches from the event stream. Pending conflicts remain queryable.
func (c *Center) Stop() {
	c.bus.Unsubscribe(events.EventFileConflict, c.sub)
	close(c.done)
}

func (c *Center) consume() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.sub:
			if !ok {
				return
			}
			ce, ok := ev.(*events.FileConflictEvent)
			if !ok {
				continue
			}
			c.admit(ce.Conflict)
		}
	}
}

func (c *Center) admit(fc models.FileConflict) {
	c.mu.Lock()
	if c.overwriteAll {
		c.mu.Unlock()
		if err := c.resolver.ResolveConflict(fc.TaskID, models.ResolutionOverwrite); err != nil {
			c.log.Error().Err(err).Str("task", fc.TaskID).Msg("auto-overwrite failed")
		}
		return
	}

	if _, dup := c.byTask[fc.TaskID]; dup {
		c.mu.Unlock()
		c.log.Warn().Str("task", fc.TaskID).Msg("duplicate conflict for task, ignoring")
		return
	}
	c.byTask[fc.TaskID] = len(c.pending)
	c.pending = append(c.pending, fc)
	c.mu.Unlock()

	c.log.Debug().Str("task", fc.TaskID).Str("path", fc.FilePath).Msg("conflict pending")
}

// Pending returns the visible conflicts in arrival order.
func (c *Center) Pending() []models.FileConflict {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.FileConflict, len(c.pending))
	copy(out, c.pending)
	return out
}

// Resolve applies the user's decision to one pending conflict. The record is
// removed even when delivery fails: the stalled transfer will time out on its
// own, and a stale entry would block nothing but the user.
func (c *Center) Resolve(taskID string, resolution models.Resolution) error {
	if !resolution.Valid() {
		return fmt.Errorf("invalid resolution %q", resolution)
	}

	c.mu.Lock()
	if _, ok := c.byTask[taskID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("no pending conflict for task %s", taskID)
	}
	c.removeLocked(taskID)
	c.mu.Unlock()

	if err := c.resolver.ResolveConflict(taskID, resolution); err != nil {
		return fmt.Errorf("deliver resolution: %w", err)
	}
	return nil
}

// ResolveOverwriteAll resolves every pending conflict as overwrite and keeps
// auto-overwriting new ones until the next BeginBatch.
func (c *Center) ResolveOverwriteAll() {
	c.mu.Lock()
	c.overwriteAll = true
	drained := c.pending
	c.pending = nil
	c.byTask = make(map[string]int)
	c.mu.Unlock()

	for _, fc := range drained {
		if err := c.resolver.ResolveConflict(fc.TaskID, models.ResolutionOverwrite); err != nil {
			c.log.Error().Err(err).Str("task", fc.TaskID).Msg("overwrite-all delivery failed")
		}
	}
}

// BeginBatch resets the overwrite-all flag. Call it before starting a new
// group of transfers so a previous batch's blanket decision does not leak.
func (c *Center) BeginBatch() {
	c.mu.Lock()
	c.overwriteAll = false
	c.mu.Unlock()
}

// OverwriteAll reports whether the blanket overwrite decision is armed.
func (c *Center) OverwriteAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overwriteAll
}

// removeLocked drops the record for taskID and reindexes. Caller holds mu.
func (c *Center) removeLocked(taskID string) {
	idx := c.byTask[taskID]
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	delete(c.byTask, taskID)
	for id, i := range c.byTask {
		if i > idx {
			c.byTask[id] = i - 1
		}
	}
}
