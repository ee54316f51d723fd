// Package cli provides the command-line interface for sshdeck.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshdeck/sshdeck/internal/logging"
)

var (
	// Global flags
	cfgFile      string
	sessionName  string
	host         string
	port         int
	user         string
	keyPath      string
	insecure     bool
	askPassword  bool
	verbose      bool
	overwriteAll bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version is set by the main package at startup.
var Version = "dev"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sshdeck",
		Short: "sshdeck - SFTP file browser and transfer tool",
		Long: `sshdeck ` + Version + `
Browse remote file systems over SFTP, transfer files with live progress,
and manage remote files from the command line.

Sessions come from saved profiles (--session, see config file) or from
ad-hoc connection flags (--host, --user, --key).`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefault()
			if verbose {
				logging.SetGlobalLevel(-1) // zerolog.DebugLevel
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&sessionName, "session", "s", "", "Saved session profile name")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "Host to connect to (overrides profile)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 22, "SSH port")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "User name")
	rootCmd.PersistentFlags().StringVarP(&keyPath, "key", "k", "", "Private key path")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip host key verification")
	rootCmd.PersistentFlags().BoolVar(&askPassword, "password", false, "Prompt for a password")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = Version

	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newCopyCmd())
	rootCmd.AddCommand(newMoveCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newTouchCmd())
	rootCmd.AddCommand(newChmodCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

// Execute runs the CLI with signal-aware context cancellation.
func Execute() {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancelFunc()
	}()

	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
