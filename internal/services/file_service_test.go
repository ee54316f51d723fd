package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

// fakeRemoteService records file-management calls; transfers are unused here.
type fakeRemoteService struct {
	calls []string
	err   error
}

func (f *fakeRemoteService) call(s string) error {
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeRemoteService) ListDir(context.Context, string, string) ([]models.FileEntry, error) {
	return nil, nil
}
func (f *fakeRemoteService) Stat(context.Context, string, string) (*models.FileEntry, error) {
	return nil, nil
}
func (f *fakeRemoteService) Upload(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeRemoteService) Download(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeRemoteService) Copy(context.Context, string, string, string) error { return nil }

func (f *fakeRemoteService) Rename(_ context.Context, _, oldPath, newPath string) error {
	return f.call("rename " + oldPath + " " + newPath)
}

func (f *fakeRemoteService) Delete(_ context.Context, _, path string, isDir bool) error {
	if isDir {
		return f.call("rmdir " + path)
	}
	return f.call("rm " + path)
}

func (f *fakeRemoteService) CreateFile(_ context.Context, _, path string) error {
	return f.call("touch " + path)
}

func (f *fakeRemoteService) CreateDir(_ context.Context, _, path string) error {
	return f.call("mkdir " + path)
}

func (f *fakeRemoteService) Chmod(_ context.Context, _, path string, _ uint32) error {
	return f.call("chmod " + path)
}

func (f *fakeRemoteService) CancelTransfer(string) error { return nil }

func (f *fakeRemoteService) ResolveConflict(string, models.Resolution) error { return nil }

func newTestFileService() (*FileService, *fakeRemoteService, *fakeTreeReloader) {
	remote := &fakeRemoteService{}
	trees := &fakeTreeReloader{}
	return NewFileService(remote, trees, logging.NewNop()), remote, trees
}

func TestCreateFileJoinsPathAndReloads(t *testing.T) {
	svc, remote, trees := newTestFileService()

	if err := svc.CreateFile(context.Background(), "s1", "/home/user", "new.txt"); err != nil {
		t.Fatal(err)
	}
	if remote.calls[0] != "touch /home/user/new.txt" {
		t.Errorf("call = %s", remote.calls[0])
	}
	if len(trees.reloaded) != 1 || trees.reloaded[0] != "/home/user" {
		t.Errorf("reloaded = %v", trees.reloaded)
	}
}

func TestCreateDir(t *testing.T) {
	svc, remote, _ := newTestFileService()
	if err := svc.CreateDir(context.Background(), "s1", "/home/user", "sub"); err != nil {
		t.Fatal(err)
	}
	if remote.calls[0] != "mkdir /home/user/sub" {
		t.Errorf("call = %s", remote.calls[0])
	}
}

func TestDeleteReloadsParent(t *testing.T) {
	svc, remote, trees := newTestFileService()
	entry := models.FileEntry{Name: "old", Path: "/home/user/old", IsDir: true}

	if err := svc.Delete(context.Background(), "s1", entry); err != nil {
		t.Fatal(err)
	}
	if remote.calls[0] != "rmdir /home/user/old" {
		t.Errorf("call = %s", remote.calls[0])
	}
	if trees.reloaded[0] != "/home/user" {
		t.Errorf("reloaded = %v", trees.reloaded)
	}
}

func TestRenameStaysInDirectory(t *testing.T) {
	svc, remote, _ := newTestFileService()
	entry := models.FileEntry{Name: "a.txt", Path: "/home/user/a.txt"}

	if err := svc.Rename(context.Background(), "s1", entry, "b.txt"); err != nil {
		t.Fatal(err)
	}
	if remote.calls[0] != "rename /home/user/a.txt /home/user/b.txt" {
		t.Errorf("call = %s", remote.calls[0])
	}
}

func TestRenameRejectsSameOrEmptyName(t *testing.T) {
	svc, remote, _ := newTestFileService()
	entry := models.FileEntry{Name: "a.txt", Path: "/home/user/a.txt"}

	if err := svc.Rename(context.Background(), "s1", entry, ""); err == nil {
		t.Error("empty name should fail")
	}
	if err := svc.Rename(context.Background(), "s1", entry, "a.txt"); err == nil {
		t.Error("unchanged name should fail")
	}
	if len(remote.calls) != 0 {
		t.Errorf("remote should not be called: %v", remote.calls)
	}
}

func TestMutationErrorSkipsReload(t *testing.T) {
	svc, remote, trees := newTestFileService()
	remote.err = errors.New("permission denied")

	if err := svc.CreateFile(context.Background(), "s1", "/etc", "oops"); err == nil {
		t.Fatal("expected error")
	}
	if len(trees.reloaded) != 0 {
		t.Errorf("failed mutation must not reload: %v", trees.reloaded)
	}
}
