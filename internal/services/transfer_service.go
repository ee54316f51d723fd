package services

import (
	"context"
	"errors"
	gopath "path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sshdeck/sshdeck/internal/history"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
	"github.com/sshdeck/sshdeck/internal/transfer"
)

// Result is the outcome of one file within a batch.
type Result struct {
	TaskID string
	Source string
	Err    error
}

// Skipped reports whether the file was deliberately skipped by the user.
func (r Result) Skipped() bool { return errors.Is(r.Err, transfer.ErrSkipped) }

// Batcher runs one transfer to its terminal outcome and exposes the tracked
// task. Satisfied by *transfer.Coordinator.
type Batcher interface {
	Start(ctx context.Context, req transfer.Request) (string, error)
	Task(taskID string) (transfer.Task, bool)
	Tasks() []transfer.Task
	Cancel(taskID string) error
}

// ConflictGate scopes the overwrite-all decision to one batch. Satisfied by
// *conflict.Center.
type ConflictGate interface {
	BeginBatch()
}

// Recorder persists finished transfers. Satisfied by *history.Store.
type Recorder interface {
	Record(e history.Entry) error
}

// TransferService runs multi-file upload and download batches. Each file gets
// its own transfer task; the batch starts all of them concurrently and waits
// for every terminal outcome. One file's failure never stops its siblings.
type TransferService struct {
	transfers Batcher
	conflicts ConflictGate
	trees     Reloader
	history   Recorder // nil disables recording
	log       *logging.Logger
}

// NewTransferService wires batches to the coordinator, conflict center, tree
// store, and optional history store.
func NewTransferService(transfers Batcher, conflicts ConflictGate, trees Reloader, hist Recorder, log *logging.Logger) *TransferService {
	return &TransferService{
		transfers: transfers,
		conflicts: conflicts,
		trees:     trees,
		history:   hist,
		log:       log,
	}
}

// UploadFiles uploads each local path into remoteDir and reloads remoteDir
// when done. Starting a batch resets any previous overwrite-all decision.
func (t *TransferService) UploadFiles(ctx context.Context, sessionID string, localPaths []string, remoteDir string) []Result {
	t.conflicts.BeginBatch()

	results := t.runBatch(ctx, localPaths, func(ctx context.Context, localPath string) (string, error) {
		return t.transfers.Start(ctx, transfer.Request{
			Kind:        models.TransferUpload,
			SessionID:   sessionID,
			Source:      localPath,
			Destination: gopath.Join(remoteDir, filepath.Base(localPath)),
		})
	})

	if err := t.trees.ReloadSubtree(ctx, sessionID, remoteDir); err != nil {
		t.log.Warn().Err(err).Str("dir", remoteDir).Msg("reload after upload failed")
	}
	return results
}

// DownloadFiles downloads each remote path into localDir.
func (t *TransferService) DownloadFiles(ctx context.Context, sessionID string, remotePaths []string, localDir string) []Result {
	t.conflicts.BeginBatch()

	return t.runBatch(ctx, remotePaths, func(ctx context.Context, remotePath string) (string, error) {
		return t.transfers.Start(ctx, transfer.Request{
			Kind:        models.TransferDownload,
			SessionID:   sessionID,
			Source:      remotePath,
			Destination: filepath.Join(localDir, gopath.Base(remotePath)),
		})
	})
}

// Tasks returns the currently-visible transfer tasks.
func (t *TransferService) Tasks() []transfer.Task {
	return t.transfers.Tasks()
}

// Cancel asks the remote side to stop one transfer.
func (t *TransferService) Cancel(taskID string) error {
	return t.transfers.Cancel(taskID)
}

func (t *TransferService) runBatch(ctx context.Context, sources []string, start func(context.Context, string) (string, error)) []Result {
	results := make([]Result, len(sources))
	var wg sync.WaitGroup
	started := time.Now()

	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			taskID, err := start(ctx, src)
			results[i] = Result{TaskID: taskID, Source: src, Err: err}
			t.record(taskID, started)
		}(i, src)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil && !r.Skipped() {
			t.log.Error().Err(r.Err).Str("source", r.Source).Msg("transfer failed")
		}
	}
	return results
}

// record snapshots the terminal task into history. The task is still visible
// during the grace period, which is where the byte counts come from.
func (t *TransferService) record(taskID string, started time.Time) {
	if t.history == nil {
		return
	}
	task, ok := t.transfers.Task(taskID)
	if !ok {
		return
	}
	entry := history.Entry{
		TaskID:      task.ID,
		Kind:        task.Kind,
		SessionID:   task.SessionID,
		FileName:    task.FileName,
		Source:      task.Source,
		Destination: task.Destination,
		Bytes:       task.TransferredBytes,
		Status:      task.Status,
		Error:       task.Error,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if err := t.history.Record(entry); err != nil {
		t.log.Warn().Err(err).Str("task", taskID).Msg("history record failed")
	}
}
