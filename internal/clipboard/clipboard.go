// Package clipboard stages a single cut/copy source and resolves paste
// destinations, including the automatic rename on a copy into the source's
// own directory.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
	"github.com/sshdeck/sshdeck/internal/transfer"
)

// CopyPrefix disambiguates a copy pasted into its own directory.
const CopyPrefix = "copy_of_"

// ErrEmpty is returned by Paste when nothing is staged.
var ErrEmpty = errors.New("clipboard is empty")

// Entry is the staged source reference. One slot exists per engine; staging a
// new entry replaces the previous one.
type Entry struct {
	SourcePath string
	SourceName string
	IsDir      bool
	IsCut      bool
	SessionID  string
}

// Starter runs the remote move or copy to a terminal outcome. Satisfied by
// *transfer.Coordinator.
type Starter interface {
	Start(ctx context.Context, req transfer.Request) (string, error)
}

// Reloader refreshes the destination directory after a successful paste.
// Satisfied by *tree.Store.
type Reloader interface {
	ReloadSubtree(ctx context.Context, sessionID, dirPath string) error
}

// Engine holds the single clipboard slot.
type Engine struct {
	mu    sync.Mutex
	entry *Entry

	transfers Starter
	trees     Reloader
	log       *logging.Logger
}

// NewEngine creates an engine pasting through transfers and reloading
// destination directories through trees.
func NewEngine(transfers Starter, trees Reloader, log *logging.Logger) *Engine {
	return &Engine{transfers: transfers, trees: trees, log: log}
}

// Cut stages entry for a move on the next paste.
func (e *Engine) Cut(sessionID string, entry models.FileEntry) {
	e.stage(sessionID, entry, true)
}

// Copy stages entry for a copy on the next paste.
func (e *Engine) Copy(sessionID string, entry models.FileEntry) {
	e.stage(sessionID, entry, false)
}

func (e *Engine) stage(sessionID string, entry models.FileEntry, isCut bool) {
	e.mu.Lock()
	e.entry = &Entry{
		SourcePath: entry.Path,
		SourceName: entry.Name,
		IsDir:      entry.IsDir,
		IsCut:      isCut,
		SessionID:  sessionID,
	}
	e.mu.Unlock()
}

// Entry returns the staged entry, or nil when the clipboard is empty.
func (e *Engine) Entry() *Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entry == nil {
		return nil
	}
	cp := *e.entry
	return &cp
}

// Clear discards the staged entry with no remote effect.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.entry = nil
	e.mu.Unlock()
}

// Paste moves or copies the staged entry into destDir and reloads destDir on
// success. The slot is consumed whether or not the remote operation succeeds:
// a paste is a one-shot action either way.
//
// A cut pastes under the exact source name; a same-name collision is the
// remote side's to reject. A copy keeps the source name unless destDir is the
// source's own parent, in which case the name gains the CopyPrefix so the copy
// does not collide with its original.
func (e *Engine) Paste(ctx context.Context, destDir string) (string, error) {
	e.mu.Lock()
	entry := e.entry
	e.entry = nil
	e.mu.Unlock()

	if entry == nil {
		return "", ErrEmpty
	}

	destDir = path.Clean(destDir)
	destPath := DestinationPath(entry, destDir)
	kind := models.TransferCopy
	if entry.IsCut {
		kind = models.TransferMove
	}

	e.log.Info().Str("kind", string(kind)).
		Str("source", entry.SourcePath).Str("dest", destPath).Msg("paste")

	taskID, err := e.transfers.Start(ctx, transfer.Request{
		Kind:        kind,
		SessionID:   entry.SessionID,
		Source:      entry.SourcePath,
		Destination: destPath,
	})
	if err != nil {
		return taskID, fmt.Errorf("paste %s: %w", entry.SourceName, err)
	}

	if err := e.trees.ReloadSubtree(ctx, entry.SessionID, destDir); err != nil {
		e.log.Warn().Err(err).Str("dir", destDir).Msg("reload after paste failed")
	}
	return taskID, nil
}

// DestinationPath computes where entry lands when pasted into destDir.
// destDir is cleaned first so a trailing slash cannot hide a copy-in-place.
func DestinationPath(entry *Entry, destDir string) string {
	destDir = path.Clean(destDir)
	name := entry.SourceName
	if !entry.IsCut && path.Dir(entry.SourcePath) == destDir {
		name = CopyPrefix + name
	}
	return path.Join(destDir, name)
}
