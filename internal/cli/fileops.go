package cli

import (
	"errors"
	"fmt"
	gopath "path"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sshdeck/sshdeck/internal/transfer"
)

func newCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <source> <dest-dir>",
		Short: "Copy a remote file or directory into another remote directory",
		Long: `Copy a remote file or directory into another remote directory.
Copying into the source's own directory names the copy "copy_of_<name>".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClipboardOp(args[0], args[1], false)
		},
	}
}

func newMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source> <dest-dir>",
		Short: "Move a remote file or directory into another remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClipboardOp(args[0], args[1], true)
		},
	}
}

// runClipboardOp stages the source and pastes it, which is exactly what the
// UI's cut/copy/paste does.
func runClipboardOp(source, destDir string, cut bool) error {
	source = gopath.Clean(source)
	destDir = gopath.Clean(destDir)

	e, err := connectEngine(rootContext)
	if err != nil {
		return err
	}
	defer e.close()

	entry, err := e.remote.Stat(rootContext, e.sessionID, source)
	if err != nil {
		return err
	}
	if err := e.trees.OpenAt(rootContext, e.sessionID, destDir); err != nil {
		return err
	}

	if cut {
		e.clip.Cut(e.sessionID, *entry)
	} else {
		e.clip.Copy(e.sessionID, *entry)
	}

	if _, err := e.clip.Paste(rootContext, destDir); err != nil {
		if errors.Is(err, transfer.ErrTimeout) {
			return fmt.Errorf("operation timed out")
		}
		return err
	}
	return nil
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a remote file or directory (recursively)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectEngine(rootContext)
			if err != nil {
				return err
			}
			defer e.close()

			entry, err := e.remote.Stat(rootContext, e.sessionID, args[0])
			if err != nil {
				return err
			}
			if err := e.trees.OpenAt(rootContext, e.sessionID, gopath.Dir(args[0])); err != nil {
				return err
			}
			return e.files.Delete(rootContext, e.sessionID, *entry)
		},
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args[0], func(e *engine, dir, name string) error {
				return e.files.CreateDir(rootContext, e.sessionID, dir, name)
			})
		},
	}
}

func newTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <path>",
		Short: "Create an empty remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args[0], func(e *engine, dir, name string) error {
				return e.files.CreateFile(rootContext, e.sessionID, dir, name)
			})
		},
	}
}

func runCreate(path string, create func(e *engine, dir, name string) error) error {
	e, err := connectEngine(rootContext)
	if err != nil {
		return err
	}
	defer e.close()

	dir, name := gopath.Dir(path), gopath.Base(path)
	if err := e.trees.OpenAt(rootContext, e.sessionID, dir); err != nil {
		return err
	}
	return create(e, dir, name)
}

func newChmodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chmod <octal-mode> <path>",
		Short: "Change permissions on a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := strconv.ParseUint(args[0], 8, 32)
			if err != nil {
				return fmt.Errorf("invalid mode %q: expected octal like 0644", args[0])
			}

			e, err := connectEngine(rootContext)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.trees.OpenAt(rootContext, e.sessionID, gopath.Dir(args[1])); err != nil {
				return err
			}
			return e.files.Chmod(rootContext, e.sessionID, args[1], uint32(mode))
		},
	}
}
