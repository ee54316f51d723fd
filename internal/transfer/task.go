// Package transfer coordinates concurrent transfer tasks: it pre-generates
// task identifiers, listens for progress events before issuing the remote
// request, and resolves each task's terminal outcome with a safety timeout.
package transfer

import (
	"errors"
	"time"

	"github.com/sshdeck/sshdeck/internal/models"
)

// Terminal outcome errors. ErrSkipped and ErrCancelled both surface as a
// cancelled task status but are distinguishable so a deliberate user skip is
// not reported like an abort.
var (
	ErrTimeout   = errors.New("timed out waiting for transfer events")
	ErrCancelled = errors.New("transfer cancelled")
	ErrSkipped   = errors.New("transfer skipped")
)

// RemoteError carries the server-supplied failure message for a failed task.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return e.Msg }

// Task is one in-flight or recently-terminal transfer, as shown to the UI.
type Task struct {
	ID               string
	Kind             models.TransferKind
	SessionID        string
	FileName         string
	Source           string
	Destination      string
	TotalBytes       uint64
	TransferredBytes uint64
	Speed            float64 // bytes/sec
	ETASeconds       *uint64
	Status           models.TransferStatus
	Error            string
	CreatedAt        time.Time
	CompletedAt      time.Time
}

// IsTerminal reports whether the task reached an absorbing status.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}
