package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	gopath "path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

const (
	copyBufferSize = 256 * 1024
	// conflictWait bounds how long a stalled transfer waits for the user to
	// decide. Past this the transfer fails rather than hanging forever.
	conflictWait = 5 * time.Minute
)

// SFTPService implements Service over live SFTP sessions. Uploads and
// downloads run in their own goroutines and publish throttled
// transfer-progress events; conflicts stall the owning goroutine until a
// resolution arrives via ResolveConflict.
type SFTPService struct {
	sessions *Manager
	bus      *events.Bus
	log      *logging.Logger
	interval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	waiters map[string]chan models.Resolution
}

// NewSFTPService wires the service to a session manager and event bus.
// progressInterval throttles progress events per task; 500ms when zero.
func NewSFTPService(sessions *Manager, bus *events.Bus, log *logging.Logger, progressInterval time.Duration) *SFTPService {
	if progressInterval <= 0 {
		progressInterval = 500 * time.Millisecond
	}
	return &SFTPService{
		sessions: sessions,
		bus:      bus,
		log:      log,
		interval: progressInterval,
		cancels:  make(map[string]context.CancelFunc),
		waiters:  make(map[string]chan models.Resolution),
	}
}

// ListDir reads one remote directory, resolving symlink targets so the
// caller can tell directory links from file links.
func (s *SFTPService) ListDir(ctx context.Context, sessionID, dir string) ([]models.FileEntry, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := session.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]models.FileEntry, 0, len(infos))
	for _, fi := range infos {
		entry := entryFromInfo(gopath.Join(dir, fi.Name()), fi)
		if entry.IsSymlink {
			s.resolveLink(session, &entry)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stat returns the entry at path without following symlinks.
func (s *SFTPService) Stat(ctx context.Context, sessionID, path string) (*models.FileEntry, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fi, err := session.sftp.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	entry := entryFromInfo(path, fi)
	if entry.IsSymlink {
		s.resolveLink(session, &entry)
	}
	return &entry, nil
}

func (s *SFTPService) resolveLink(session *Session, entry *models.FileEntry) {
	if target, err := session.sftp.ReadLink(entry.Path); err == nil {
		entry.LinkTarget = target
	}
	// Stat follows the link; a broken link just stays non-expandable.
	if tfi, err := session.sftp.Stat(entry.Path); err == nil {
		entry.TargetIsDir = tfi.IsDir()
	}
}

func entryFromInfo(path string, fi os.FileInfo) models.FileEntry {
	perm := uint32(fi.Mode().Perm())
	return models.FileEntry{
		Name:        fi.Name(),
		Path:        path,
		IsDir:       fi.IsDir(),
		IsSymlink:   fi.Mode()&os.ModeSymlink != 0,
		Size:        uint64(fi.Size()),
		Modified:    fi.ModTime().Unix(),
		Permissions: &perm,
	}
}

// Upload starts an asynchronous upload of a local file or directory tree and
// returns once the transfer goroutine is running.
func (s *SFTPService) Upload(ctx context.Context, sessionID, localPath, remotePath, taskID string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	runCtx := s.register(taskID)
	go func() {
		defer s.unregister(taskID)
		r := s.newReporter(taskID, models.TransferUpload, sessionID, localPath, remotePath)
		if fi.IsDir() {
			s.runDirUpload(runCtx, session, r, localPath, remotePath, taskID)
		} else {
			r.total(uint64(fi.Size()))
			s.runFileUpload(runCtx, session, r, fi, localPath, remotePath, taskID)
		}
	}()
	return nil
}

// Download starts an asynchronous download of a remote file or directory tree
// and returns once the transfer goroutine is running.
func (s *SFTPService) Download(ctx context.Context, sessionID, remotePath, localPath, taskID string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	fi, err := session.sftp.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", remotePath, err)
	}

	runCtx := s.register(taskID)
	go func() {
		defer s.unregister(taskID)
		r := s.newReporter(taskID, models.TransferDownload, sessionID, remotePath, localPath)
		if fi.IsDir() {
			s.runDirDownload(runCtx, session, r, remotePath, localPath, taskID)
		} else {
			r.total(uint64(fi.Size()))
			s.runFileDownload(runCtx, session, r, fi, remotePath, localPath, taskID)
		}
	}()
	return nil
}

func (s *SFTPService) runFileUpload(ctx context.Context, session *Session, r *reporter, fi os.FileInfo, localPath, remotePath, conflictID string) {
	size := uint64(fi.Size())
	mod := fi.ModTime().Unix()
	res, err := s.gateOnConflict(ctx, session, r, conflictID, remotePath, &size, &mod)
	if err != nil {
		r.fail(err)
		return
	}
	if res != models.ResolutionOverwrite {
		r.cancelled(res)
		return
	}

	src, err := os.Open(localPath)
	if err != nil {
		r.fail(err)
		return
	}
	defer src.Close()

	dst, err := session.sftp.Create(remotePath)
	if err != nil {
		r.fail(fmt.Errorf("create %s: %w", remotePath, err))
		return
	}

	err = copyWithProgress(ctx, dst, src, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	r.finish(err)
}

func (s *SFTPService) runFileDownload(ctx context.Context, session *Session, r *reporter, fi os.FileInfo, remotePath, localPath, conflictID string) {
	size := uint64(fi.Size())
	mod := fi.ModTime().Unix()
	res, err := s.gateOnConflict(ctx, session, r, conflictID, localPath, &size, &mod)
	if err != nil {
		r.fail(err)
		return
	}
	if res != models.ResolutionOverwrite {
		r.cancelled(res)
		return
	}

	src, err := session.sftp.Open(remotePath)
	if err != nil {
		r.fail(fmt.Errorf("open %s: %w", remotePath, err))
		return
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		r.fail(err)
		return
	}

	err = copyWithProgress(ctx, dst, src, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	r.finish(err)
}

// runDirUpload walks the local tree, uploads every regular file, and gates
// each colliding file on its own conflict keyed "<taskID>-<name>" so the user
// can decide per file while the directory task keeps running.
func (s *SFTPService) runDirUpload(ctx context.Context, session *Session, r *reporter, localRoot, remoteRoot, taskID string) {
	var files []string
	var totalBytes uint64
	err := filepath.WalkDir(localRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			totalBytes += uint64(fi.Size())
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		r.fail(fmt.Errorf("walk %s: %w", localRoot, err))
		return
	}
	r.total(totalBytes)

	if err := s.mkdirAll(session, remoteRoot); err != nil {
		r.fail(err)
		return
	}

	for _, localFile := range files {
		if err := ctx.Err(); err != nil {
			r.cancelled(models.ResolutionCancel)
			return
		}
		rel, err := filepath.Rel(localRoot, localFile)
		if err != nil {
			r.fail(err)
			return
		}
		remoteFile := gopath.Join(remoteRoot, filepath.ToSlash(rel))
		if err := s.mkdirAll(session, gopath.Dir(remoteFile)); err != nil {
			r.fail(err)
			return
		}

		fi, err := os.Stat(localFile)
		if err != nil {
			r.fail(err)
			return
		}
		size := uint64(fi.Size())
		mod := fi.ModTime().Unix()
		conflictID := taskID + "-" + gopath.Base(remoteFile)
		res, err := s.gateOnConflict(ctx, session, r, conflictID, remoteFile, &size, &mod)
		if err != nil {
			r.fail(err)
			return
		}
		switch res {
		case models.ResolutionSkip:
			r.skipBytes(size)
			continue
		case models.ResolutionCancel:
			r.cancelled(models.ResolutionCancel)
			return
		}

		if err := s.uploadOne(ctx, session, r, localFile, remoteFile); err != nil {
			r.fail(err)
			return
		}
	}
	r.finish(nil)
}

func (s *SFTPService) uploadOne(ctx context.Context, session *Session, r *reporter, localFile, remoteFile string) error {
	src, err := os.Open(localFile)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := session.sftp.Create(remoteFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", remoteFile, err)
	}
	err = copyWithProgress(ctx, dst, src, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return err
}

// runDirDownload mirrors runDirUpload in the other direction.
func (s *SFTPService) runDirDownload(ctx context.Context, session *Session, r *reporter, remoteRoot, localRoot, taskID string) {
	var files []string
	var totalBytes uint64
	walker := session.sftp.Walk(remoteRoot)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			r.fail(fmt.Errorf("walk %s: %w", remoteRoot, err))
			return
		}
		if fi := walker.Stat(); fi.Mode().IsRegular() {
			totalBytes += uint64(fi.Size())
			files = append(files, walker.Path())
		}
	}
	r.total(totalBytes)

	for _, remoteFile := range files {
		if err := ctx.Err(); err != nil {
			r.cancelled(models.ResolutionCancel)
			return
		}
		rel, err := relSlash(remoteRoot, remoteFile)
		if err != nil {
			r.fail(err)
			return
		}
		localFile := filepath.Join(localRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(localFile), 0o755); err != nil {
			r.fail(err)
			return
		}

		fi, err := session.sftp.Stat(remoteFile)
		if err != nil {
			r.fail(err)
			return
		}
		size := uint64(fi.Size())
		mod := fi.ModTime().Unix()
		conflictID := taskID + "-" + gopath.Base(remoteFile)
		res, err := s.gateOnConflict(ctx, session, r, conflictID, localFile, &size, &mod)
		if err != nil {
			r.fail(err)
			return
		}
		switch res {
		case models.ResolutionSkip:
			r.skipBytes(size)
			continue
		case models.ResolutionCancel:
			r.cancelled(models.ResolutionCancel)
			return
		}

		if err := s.downloadOne(ctx, session, r, remoteFile, localFile); err != nil {
			r.fail(err)
			return
		}
	}
	r.finish(nil)
}

func (s *SFTPService) downloadOne(ctx context.Context, session *Session, r *reporter, remoteFile, localFile string) error {
	src, err := session.sftp.Open(remoteFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", remoteFile, err)
	}
	defer src.Close()

	dst, err := os.Create(localFile)
	if err != nil {
		return err
	}
	err = copyWithProgress(ctx, dst, src, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return err
}

// gateOnConflict checks whether destPath already exists on the receiving
// side and, if so, publishes a FileConflict and blocks until the user
// resolves it. Returns overwrite when no conflict exists.
//
// For uploads destPath is remote and checked through the session; for
// downloads it is local. sourceSize/sourceMod describe the incoming file.
func (s *SFTPService) gateOnConflict(ctx context.Context, session *Session, r *reporter, conflictID, destPath string, sourceSize *uint64, sourceMod *int64) (models.Resolution, error) {
	var existingSize *uint64
	var existingMod *int64
	if r.kind() == models.TransferUpload {
		fi, err := session.sftp.Stat(destPath)
		if err != nil {
			return models.ResolutionOverwrite, nil
		}
		sz := uint64(fi.Size())
		mt := fi.ModTime().Unix()
		existingSize, existingMod = &sz, &mt
	} else {
		fi, err := os.Stat(destPath)
		if err != nil {
			return models.ResolutionOverwrite, nil
		}
		sz := uint64(fi.Size())
		mt := fi.ModTime().Unix()
		existingSize, existingMod = &sz, &mt
	}

	fc := models.FileConflict{
		TaskID:    conflictID,
		SessionID: r.sessionID(),
		FilePath:  destPath,
	}
	if r.kind() == models.TransferUpload {
		fc.LocalSize, fc.LocalModified = sourceSize, sourceMod
		fc.RemoteSize, fc.RemoteModified = existingSize, existingMod
	} else {
		fc.LocalSize, fc.LocalModified = existingSize, existingMod
		fc.RemoteSize, fc.RemoteModified = sourceSize, sourceMod
	}
	s.bus.PublishConflict(fc)
	s.log.Debug().Str("task", conflictID).Str("path", destPath).Msg("conflict, waiting for resolution")

	return s.waitResolution(ctx, conflictID)
}

func (s *SFTPService) waitResolution(ctx context.Context, conflictID string) (models.Resolution, error) {
	ch := make(chan models.Resolution, 1)
	s.mu.Lock()
	s.waiters[conflictID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, conflictID)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(conflictWait)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return models.ResolutionCancel, nil
	case <-timer.C:
		return "", errors.New("timed out waiting for conflict resolution")
	}
}

// ResolveConflict delivers the user's decision to the transfer stalled on
// taskID (or on a "<taskID>-<name>" child conflict).
func (s *SFTPService) ResolveConflict(taskID string, resolution models.Resolution) error {
	if !resolution.Valid() {
		return fmt.Errorf("invalid resolution %q", resolution)
	}

	s.mu.Lock()
	ch, ok := s.waiters[taskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConflictWaiter, taskID)
	}

	select {
	case ch <- resolution:
		return nil
	default:
		return fmt.Errorf("conflict %s already resolved", taskID)
	}
}

// CancelTransfer aborts a running upload or download. Unknown task IDs are a
// no-op: the transfer may have finished between the user's click and the call.
func (s *SFTPService) CancelTransfer(taskID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Copy duplicates a remote file or directory tree server-side by streaming
// through the SFTP connection. Synchronous.
func (s *SFTPService) Copy(ctx context.Context, sessionID, sourcePath, destPath string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	return s.copyTree(ctx, session, sourcePath, destPath)
}

func (s *SFTPService) copyTree(ctx context.Context, session *Session, sourcePath, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fi, err := session.sftp.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", sourcePath, err)
	}

	if !fi.IsDir() {
		return s.copyFile(session, sourcePath, destPath, fi.Mode())
	}

	if err := session.sftp.Mkdir(destPath); err != nil {
		if _, serr := session.sftp.Stat(destPath); serr != nil {
			return fmt.Errorf("mkdir %s: %w", destPath, err)
		}
	}
	children, err := session.sftp.ReadDir(sourcePath)
	if err != nil {
		return fmt.Errorf("list %s: %w", sourcePath, err)
	}
	for _, child := range children {
		src := gopath.Join(sourcePath, child.Name())
		dst := gopath.Join(destPath, child.Name())
		if err := s.copyTree(ctx, session, src, dst); err != nil {
			return err
		}
	}
	return nil
}

func (s *SFTPService) copyFile(session *Session, sourcePath, destPath string, mode os.FileMode) error {
	src, err := session.sftp.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", sourcePath, err)
	}
	defer src.Close()

	dst, err := session.sftp.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy to %s: %w", destPath, err)
	}
	if err := session.sftp.Chmod(destPath, mode.Perm()); err != nil {
		s.log.Debug().Err(err).Str("path", destPath).Msg("chmod after copy")
	}
	return nil
}

// Rename moves a file or directory. A same-name collision at newPath fails
// outright; moves do not go through conflict resolution.
func (s *SFTPService) Rename(ctx context.Context, sessionID, oldPath, newPath string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.sftp.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	return nil
}

// Delete removes a file, or a directory tree bottom-up.
func (s *SFTPService) Delete(ctx context.Context, sessionID, path string, isDir bool) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if !isDir {
		if err := session.sftp.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}
	return s.deleteTree(ctx, session, path)
}

func (s *SFTPService) deleteTree(ctx context.Context, session *Session, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, err := session.sftp.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, child := range children {
		p := gopath.Join(dir, child.Name())
		if child.IsDir() {
			if err := s.deleteTree(ctx, session, p); err != nil {
				return err
			}
		} else if err := session.sftp.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	if err := session.sftp.RemoveDirectory(dir); err != nil {
		return fmt.Errorf("rmdir %s: %w", dir, err)
	}
	return nil
}

// CreateFile creates an empty file, failing if path already exists.
func (s *SFTPService) CreateFile(ctx context.Context, sessionID, path string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := session.sftp.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return f.Close()
}

// CreateDir creates one directory, failing if path already exists.
func (s *SFTPService) CreateDir(ctx context.Context, sessionID, path string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.sftp.Mkdir(path); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Chmod sets the permission bits on path. The target must exist.
func (s *SFTPService) Chmod(ctx context.Context, sessionID, path string, mode uint32) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := session.sftp.Lstat(path); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := session.sftp.Chmod(path, os.FileMode(mode)); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

func (s *SFTPService) register(taskID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()
	return ctx
}

func (s *SFTPService) unregister(taskID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	delete(s.cancels, taskID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *SFTPService) mkdirAll(session *Session, dir string) error {
	if err := session.sftp.MkdirAll(dir); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// copyWithProgress streams src to dst, feeding the reporter and honoring
// cancellation between chunks.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, r *reporter) error {
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			r.advance(uint64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// relSlash is filepath.Rel for slash-separated remote paths.
func relSlash(root, p string) (string, error) {
	rel, err := filepath.Rel(filepath.FromSlash(root), filepath.FromSlash(p))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
