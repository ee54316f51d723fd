package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sshdeck/sshdeck/internal/services"
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <local-file>... <remote-dir>",
		Short: "Upload files or directories to a remote directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			locals, remoteDir := args[:len(args)-1], args[len(args)-1]

			e, err := connectEngine(rootContext)
			if err != nil {
				return err
			}
			defer e.close()
			e.startUI()

			promptCtx, stopPrompts := context.WithCancel(rootContext)
			defer stopPrompts()
			go promptConflictLoop(promptCtx, e.conflicts)

			results := e.transfers.UploadFiles(rootContext, e.sessionID, locals, remoteDir)
			return summarize(results)
		},
	}
	cmd.Flags().BoolVar(&overwriteAll, "overwrite-all", false, "Overwrite existing files without asking")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <remote-file>... <local-dir>",
		Short: "Download remote files or directories into a local directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotes, localDir := args[:len(args)-1], args[len(args)-1]

			e, err := connectEngine(rootContext)
			if err != nil {
				return err
			}
			defer e.close()
			e.startUI()

			promptCtx, stopPrompts := context.WithCancel(rootContext)
			defer stopPrompts()
			go promptConflictLoop(promptCtx, e.conflicts)

			results := e.transfers.DownloadFiles(rootContext, e.sessionID, remotes, localDir)
			return summarize(results)
		},
	}
	cmd.Flags().BoolVar(&overwriteAll, "overwrite-all", false, "Overwrite existing files without asking")
	return cmd
}

// summarize prints per-file outcomes and returns an error if anything failed.
func summarize(results []services.Result) error {
	var failed int
	for _, r := range results {
		switch {
		case r.Skipped():
			fmt.Printf("skipped: %s\n", r.Source)
		case r.Err != nil:
			failed++
			fmt.Printf("failed: %s: %v\n", r.Source, r.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(results))
	}
	return nil
}
