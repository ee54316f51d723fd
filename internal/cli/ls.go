package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sshdeck/sshdeck/internal/models"
)

func newLsCmd() *cobra.Command {
	var sortField string
	var descending bool
	var recurse bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 1 {
				dir = args[0]
			}

			e, err := connectEngine(rootContext)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.trees.OpenAt(rootContext, e.sessionID, dir); err != nil {
				return err
			}

			field := models.SortByName
			if sortField == "modified" {
				field = models.SortByModified
			}
			if err := e.trees.Sort(e.sessionID, field); err != nil {
				return err
			}
			if descending {
				// Same field again flips direction.
				if err := e.trees.Sort(e.sessionID, field); err != nil {
					return err
				}
			}

			if recurse {
				if err := expandAll(e); err != nil {
					return err
				}
			}

			snap, ok := e.trees.Snapshot(e.sessionID)
			if !ok {
				return fmt.Errorf("no tree for session")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			printEntries(w, snap.Root, 0)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&sortField, "sort", "name", "Sort field: name or modified")
	cmd.Flags().BoolVar(&descending, "desc", false, "Sort descending (directories stay first)")
	cmd.Flags().BoolVarP(&recurse, "recursive", "R", false, "Expand subdirectories")
	return cmd
}

// expandAll walks the tree breadth-first, toggling every unexpanded directory
// until no new ones appear. Each path is attempted once so a directory that
// fails to list does not loop.
func expandAll(e *engine) error {
	tried := make(map[string]bool)
	for {
		snap, ok := e.trees.Snapshot(e.sessionID)
		if !ok {
			return fmt.Errorf("no tree for session")
		}
		var pending []string
		collectUnexpanded(snap.Root, &pending)

		progressed := false
		for _, path := range pending {
			if tried[path] {
				continue
			}
			tried[path] = true
			progressed = true
			if err := e.trees.Toggle(rootContext, e.sessionID, path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("expand failed")
			}
		}
		if !progressed {
			return nil
		}
	}
}

func collectUnexpanded(entries []*models.FileEntry, out *[]string) {
	for _, entry := range entries {
		if entry.IsExpandable() && !entry.Expanded {
			*out = append(*out, entry.Path)
		}
		collectUnexpanded(entry.Children, out)
	}
}

func printEntries(w *tabwriter.Writer, entries []*models.FileEntry, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, entry := range entries {
		name := entry.Name
		switch {
		case entry.IsSymlink && entry.LinkTarget != "":
			name += " -> " + entry.LinkTarget
		case entry.IsDir:
			name += "/"
		}
		perm := ""
		if entry.Permissions != nil {
			perm = fmt.Sprintf("%04o", *entry.Permissions)
		}
		modified := time.Unix(entry.Modified, 0).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s%s\t%s\t%d\t%s\n", indent, name, perm, entry.Size, modified)
		if entry.Expanded {
			printEntries(w, entry.Children, depth+1)
		}
	}
}
