package remote

import (
	"context"
	"errors"
	gopath "path"
	"sync"
	"time"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/models"
)

// reporter accumulates byte counts for one transfer task and publishes
// throttled transfer-progress events, plus exactly one terminal event.
type reporter struct {
	mu       sync.Mutex
	p        models.TransferProgress
	bus      *events.Bus
	interval time.Duration
	started  time.Time
	lastSent time.Time
	terminal bool
}

func (s *SFTPService) newReporter(taskID string, kind models.TransferKind, sessionID, source, dest string) *reporter {
	return &reporter{
		p: models.TransferProgress{
			TaskID:      taskID,
			Kind:        kind,
			SessionID:   sessionID,
			FileName:    gopath.Base(source),
			Source:      source,
			Destination: dest,
			Status:      models.StatusTransferring,
		},
		bus:      s.bus,
		interval: s.interval,
		started:  time.Now(),
	}
}

func (r *reporter) kind() models.TransferKind { return r.p.Kind }
func (r *reporter) sessionID() string         { return r.p.SessionID }

// total sets the task's byte count and publishes the initial transferring
// event so listeners see the task before the first chunk lands.
func (r *reporter) total(bytes uint64) {
	r.mu.Lock()
	r.p.TotalBytes = bytes
	r.lastSent = time.Now()
	p := r.p
	r.mu.Unlock()
	r.bus.PublishProgress(p)
}

// advance adds transferred bytes and publishes at most one event per
// throttle interval.
func (r *reporter) advance(delta uint64) {
	r.mu.Lock()
	r.p.TransferredBytes += delta
	now := time.Now()
	if now.Sub(r.lastSent) < r.interval {
		r.mu.Unlock()
		return
	}
	r.lastSent = now
	r.updateRateLocked(now)
	p := r.p
	r.mu.Unlock()
	r.bus.PublishProgress(p)
}

// skipBytes counts a user-skipped file as consumed so a directory task's
// progress still reaches its total.
func (r *reporter) skipBytes(bytes uint64) {
	r.mu.Lock()
	r.p.TransferredBytes += bytes
	r.mu.Unlock()
}

// finish publishes the terminal event: completed on nil, cancelled when the
// error is a context cancellation, failed otherwise.
func (r *reporter) finish(err error) {
	switch {
	case err == nil:
		r.emitTerminal(models.StatusCompleted, "")
	case errors.Is(err, context.Canceled):
		r.emitTerminal(models.StatusCancelled, models.ErrTextCancelled)
	default:
		r.emitTerminal(models.StatusFailed, err.Error())
	}
}

func (r *reporter) fail(err error) {
	r.finish(err)
}

// cancelled publishes the cancelled terminal event, with error text telling a
// deliberate skip apart from an abort.
func (r *reporter) cancelled(res models.Resolution) {
	text := models.ErrTextCancelled
	if res == models.ResolutionSkip {
		text = models.ErrTextSkipped
	}
	r.emitTerminal(models.StatusCancelled, text)
}

func (r *reporter) emitTerminal(status models.TransferStatus, errText string) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return
	}
	r.terminal = true
	r.p.Status = status
	r.p.Error = errText
	r.p.Speed = 0
	r.p.ETASeconds = nil
	if status == models.StatusCompleted && r.p.TotalBytes > 0 {
		r.p.TransferredBytes = r.p.TotalBytes
	}
	p := r.p
	r.mu.Unlock()
	r.bus.PublishProgress(p)
}

// updateRateLocked computes speed and ETA from overall elapsed time.
// Caller holds mu.
func (r *reporter) updateRateLocked(now time.Time) {
	elapsed := now.Sub(r.started).Seconds()
	if elapsed <= 0 {
		return
	}
	r.p.Speed = float64(r.p.TransferredBytes) / elapsed
	if r.p.Speed > 0 && r.p.TotalBytes > r.p.TransferredBytes {
		eta := uint64(float64(r.p.TotalBytes-r.p.TransferredBytes) / r.p.Speed)
		r.p.ETASeconds = &eta
	} else {
		r.p.ETASeconds = nil
	}
}
