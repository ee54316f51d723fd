package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sshdeck/sshdeck/internal/conflict"
	"github.com/sshdeck/sshdeck/internal/models"
)

// promptPassword reads a password without echoing it.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// promptConflictLoop watches the conflict center and asks the user about each
// pending conflict until ctx ends. With --overwrite-all the first conflict
// arms the blanket decision without asking.
func promptConflictLoop(ctx context.Context, center *conflict.Center) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, fc := range center.Pending() {
			if overwriteAll {
				center.ResolveOverwriteAll()
				break
			}
			action, err := promptFileConflict(fc)
			if err != nil {
				return
			}
			if action == "overwrite-all" {
				center.ResolveOverwriteAll()
				break
			}
			if err := center.Resolve(fc.TaskID, models.Resolution(action)); err != nil {
				logger.Warn().Err(err).Str("task", fc.TaskID).Msg("resolve conflict")
			}
		}
	}
}

// promptFileConflict asks what to do about one existing destination file.
func promptFileConflict(fc models.FileConflict) (string, error) {
	fmt.Printf("\n⚠️  File '%s' already exists.\n", fc.FilePath)
	if fc.RemoteSize != nil && fc.LocalSize != nil {
		fmt.Printf("  existing: %d bytes, incoming: %d bytes\n", *fc.RemoteSize, *fc.LocalSize)
	}
	fmt.Println("What would you like to do?")
	fmt.Println("  1. Overwrite - Replace the existing file")
	fmt.Println("  2. Overwrite all - Replace this and every later conflict in this batch")
	fmt.Println("  3. Skip - Keep the existing file, continue with the rest")
	fmt.Println("  4. Cancel - Abort this transfer")
	fmt.Print("Choose [1-4]: ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "cancel", err
	}

	switch strings.TrimSpace(input) {
	case "1":
		return string(models.ResolutionOverwrite), nil
	case "2":
		return "overwrite-all", nil
	case "3":
		return string(models.ResolutionSkip), nil
	case "4":
		return string(models.ResolutionCancel), nil
	default:
		fmt.Println("Invalid choice, please try again.")
		return promptFileConflict(fc)
	}
}
