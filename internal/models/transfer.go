package models

// TransferKind identifies what kind of operation a transfer task performs.
type TransferKind string

const (
	TransferUpload   TransferKind = "upload"
	TransferDownload TransferKind = "download"
	TransferCopy     TransferKind = "copy"
	TransferMove     TransferKind = "move"
)

// TransferStatus is the state of a transfer task.
// pending -> transferring -> {completed | failed | cancelled}.
// The three terminal states are absorbing.
type TransferStatus string

const (
	StatusPending      TransferStatus = "pending"
	StatusTransferring TransferStatus = "transferring"
	StatusCompleted    TransferStatus = "completed"
	StatusFailed       TransferStatus = "failed"
	StatusCancelled    TransferStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TransferProgress is the payload of a transfer-progress event. The remote
// connection emits one of these for every progress update and exactly one
// terminal update per task.
type TransferProgress struct {
	TaskID           string         `json:"taskId"`
	Kind             TransferKind   `json:"kind"`
	SessionID        string         `json:"sessionId"`
	FileName         string         `json:"fileName"`
	Source           string         `json:"source"`
	Destination      string         `json:"destination"`
	TotalBytes       uint64         `json:"totalBytes"`
	TransferredBytes uint64         `json:"transferredBytes"`
	Speed            float64        `json:"speed"` // bytes/sec
	ETASeconds       *uint64        `json:"eta,omitempty"`
	Status           TransferStatus `json:"status"`
	Error            string         `json:"error,omitempty"`
}

// Error texts attached to cancelled transfers. A skip is deliberate and
// benign; a cancel is an abort. The distinction survives the wire so the
// coordinator can map them to different outcomes.
const (
	ErrTextSkipped   = "Skipped by user"
	ErrTextCancelled = "Cancelled by user"
)

// FileConflict describes a naming collision discovered by the remote side
// mid-transfer. The task it belongs to is stalled until a Resolution for its
// TaskID is delivered.
type FileConflict struct {
	TaskID         string  `json:"taskId"`
	SessionID      string  `json:"sessionId"`
	FilePath       string  `json:"filePath"`
	LocalSize      *uint64 `json:"localSize,omitempty"`
	RemoteSize     *uint64 `json:"remoteSize,omitempty"`
	LocalModified  *int64  `json:"localModified,omitempty"`
	RemoteModified *int64  `json:"remoteModified,omitempty"`
}

// Resolution is the decision for a FileConflict.
type Resolution string

const (
	ResolutionOverwrite Resolution = "overwrite"
	ResolutionSkip      Resolution = "skip"
	ResolutionCancel    Resolution = "cancel"
)

// Valid reports whether r is one of the three known resolutions.
func (r Resolution) Valid() bool {
	return r == ResolutionOverwrite || r == ResolutionSkip || r == ResolutionCancel
}
