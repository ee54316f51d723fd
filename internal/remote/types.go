// Package remote talks to SSH/SFTP servers: session lifecycle, directory
// listings, file transfers with progress events, and remote file management.
package remote

import (
	"context"
	"errors"

	"github.com/sshdeck/sshdeck/internal/models"
)

var (
	// ErrSessionNotFound is returned when an operation names an unknown or
	// closed session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoConflictWaiter is returned by ResolveConflict when no transfer
	// is waiting on the given task ID.
	ErrNoConflictWaiter = errors.New("no transfer waiting on conflict")
)

// Service is the full remote surface consumed by the tree store, the transfer
// coordinator, and the file-management commands.
//
// Upload and Download are asynchronous: they return once the transfer is
// started, then report progress and the terminal state through
// transfer-progress events tagged with the caller-supplied task ID. All other
// calls are synchronous request/response.
type Service interface {
	ListDir(ctx context.Context, sessionID, path string) ([]models.FileEntry, error)
	Stat(ctx context.Context, sessionID, path string) (*models.FileEntry, error)

	Upload(ctx context.Context, sessionID, localPath, remotePath, taskID string) error
	Download(ctx context.Context, sessionID, remotePath, localPath, taskID string) error
	Copy(ctx context.Context, sessionID, sourcePath, destPath string) error
	Rename(ctx context.Context, sessionID, oldPath, newPath string) error

	Delete(ctx context.Context, sessionID, path string, isDir bool) error
	CreateFile(ctx context.Context, sessionID, path string) error
	CreateDir(ctx context.Context, sessionID, path string) error
	Chmod(ctx context.Context, sessionID, path string, mode uint32) error

	CancelTransfer(taskID string) error
	ResolveConflict(taskID string, resolution models.Resolution) error
}
