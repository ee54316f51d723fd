// Package services composes the engine's parts into the operations the UI
// and CLI call: batched transfers and remote file management.
package services

import (
	"context"
	"fmt"
	gopath "path"

	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
	"github.com/sshdeck/sshdeck/internal/remote"
)

// Reloader refreshes one directory in the tree after a mutation. Satisfied by
// *tree.Store.
type Reloader interface {
	ReloadSubtree(ctx context.Context, sessionID, path string) error
}

// FileService performs remote file management and keeps the tree in sync by
// reloading the affected directory after each mutation.
type FileService struct {
	remote remote.Service
	trees  Reloader
	log    *logging.Logger
}

// NewFileService wires file management to the remote service and tree store.
func NewFileService(svc remote.Service, trees Reloader, log *logging.Logger) *FileService {
	return &FileService{remote: svc, trees: trees, log: log}
}

// CreateFile creates an empty file named name under dir.
func (f *FileService) CreateFile(ctx context.Context, sessionID, dir, name string) error {
	path := gopath.Join(dir, name)
	if err := f.remote.CreateFile(ctx, sessionID, path); err != nil {
		return err
	}
	f.log.Info().Str("path", path).Msg("file created")
	f.reload(ctx, sessionID, dir)
	return nil
}

// CreateDir creates a directory named name under dir.
func (f *FileService) CreateDir(ctx context.Context, sessionID, dir, name string) error {
	path := gopath.Join(dir, name)
	if err := f.remote.CreateDir(ctx, sessionID, path); err != nil {
		return err
	}
	f.log.Info().Str("path", path).Msg("directory created")
	f.reload(ctx, sessionID, dir)
	return nil
}

// Delete removes entry, recursively when it is a directory.
func (f *FileService) Delete(ctx context.Context, sessionID string, entry models.FileEntry) error {
	if err := f.remote.Delete(ctx, sessionID, entry.Path, entry.IsDir); err != nil {
		return err
	}
	f.log.Info().Str("path", entry.Path).Bool("dir", entry.IsDir).Msg("deleted")
	f.reload(ctx, sessionID, gopath.Dir(entry.Path))
	return nil
}

// Rename gives entry a new name inside its current directory.
func (f *FileService) Rename(ctx context.Context, sessionID string, entry models.FileEntry, newName string) error {
	if newName == "" || newName == entry.Name {
		return fmt.Errorf("invalid new name %q", newName)
	}
	dir := gopath.Dir(entry.Path)
	newPath := gopath.Join(dir, newName)
	if err := f.remote.Rename(ctx, sessionID, entry.Path, newPath); err != nil {
		return err
	}
	f.log.Info().Str("from", entry.Path).Str("to", newPath).Msg("renamed")
	f.reload(ctx, sessionID, dir)
	return nil
}

// Chmod sets the permission bits on path.
func (f *FileService) Chmod(ctx context.Context, sessionID, path string, mode uint32) error {
	if err := f.remote.Chmod(ctx, sessionID, path, mode); err != nil {
		return err
	}
	f.log.Info().Str("path", path).Str("mode", fmt.Sprintf("%04o", mode)).Msg("permissions changed")
	f.reload(ctx, sessionID, gopath.Dir(path))
	return nil
}

// reload refreshes dir in the tree, preserving expanded descendants. The
// mutation already succeeded, so a reload failure only degrades the view.
func (f *FileService) reload(ctx context.Context, sessionID, dir string) {
	if err := f.trees.ReloadSubtree(ctx, sessionID, dir); err != nil {
		f.log.Warn().Err(err).Str("dir", dir).Msg("reload after mutation failed")
	}
}
