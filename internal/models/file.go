// Package models holds the shared data types exchanged between the remote
// connection layer, the tree store, and the transfer coordinator.
package models

// FileEntry represents one node of a remote file system tree.
//
// Children is populated only after the node has been expanded at least once;
// collapsing a node keeps the children cached so re-expansion is instant.
type FileEntry struct {
	Name        string       `json:"name"`
	Path        string       `json:"path"`
	IsDir       bool         `json:"isDir"`
	IsSymlink   bool         `json:"isSymlink"`
	LinkTarget  string       `json:"linkTarget,omitempty"`
	TargetIsDir bool         `json:"targetIsDir"`
	Size        uint64       `json:"size"`
	Modified    int64        `json:"modified"` // unix seconds
	Permissions *uint32      `json:"permissions,omitempty"`
	Children    []*FileEntry `json:"children,omitempty"`
	Expanded    bool         `json:"expanded"`
	Loading     bool         `json:"loading"`
}

// IsExpandable reports whether the entry can be toggled open: directories and
// symlinks that resolve to directories.
func (e *FileEntry) IsExpandable() bool {
	return e.IsDir || (e.IsSymlink && e.TargetIsDir)
}

// SortField selects the attribute a directory listing is ordered by.
type SortField string

const (
	SortByName     SortField = "name"
	SortByModified SortField = "modified"
)

// SortSpec is a sort field plus direction.
type SortSpec struct {
	Field     SortField `json:"field"`
	Ascending bool      `json:"ascending"`
}
