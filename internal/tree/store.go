// Package tree maintains the lazily-loaded local mirror of each session's
// remote directory tree: expansion, targeted reloads that preserve expansion
// state, and recursive sorting.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sshdeck/sshdeck/internal/events"
	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

// Lister is the slice of the remote connection the tree store depends on.
type Lister interface {
	ListDir(ctx context.Context, sessionID, path string) ([]models.FileEntry, error)
}

// ErrNoSession is returned when an operation targets an unopened session.
var ErrNoSession = errors.New("tree: no state for session")

// ErrNotFound is returned when a path is not present in the tree.
var ErrNotFound = errors.New("tree: path not in tree")

// SessionState is the tree for one live session. Nodes are indexed by path so
// mutations target path equality, never a stale pointer or array index.
type sessionState struct {
	sessionID   string
	root        []*models.FileEntry
	byPath      map[string]*models.FileEntry
	currentPath string
	sortSpec    models.SortSpec
	loading     bool
}

// Snapshot is the read-only view of a session tree handed to the UI layer.
type Snapshot struct {
	SessionID   string
	Root        []*models.FileEntry
	CurrentPath string
	Sort        models.SortSpec
	Loading     bool
}

// Store owns one tree per active session.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionState
	lister      Lister
	bus         *events.Bus
	log         *logging.Logger
	defaultSort models.SortSpec
}

// NewStore creates a tree store backed by the given directory lister.
func NewStore(lister Lister, bus *events.Bus, log *logging.Logger, defaultSort models.SortSpec) *Store {
	return &Store{
		sessions:    make(map[string]*sessionState),
		lister:      lister,
		bus:         bus,
		log:         log,
		defaultSort: defaultSort,
	}
}

// Open initializes the tree for a session rooted at "/" and loads the root
// listing. A root listing failure leaves the tree empty and not loading.
func (s *Store) Open(ctx context.Context, sessionID string) error {
	return s.OpenAt(ctx, sessionID, "/")
}

// OpenAt initializes the tree for a session rooted at the given path.
func (s *Store) OpenAt(ctx context.Context, sessionID, path string) error {
	s.mu.Lock()
	st := &sessionState{
		sessionID:   sessionID,
		byPath:      make(map[string]*models.FileEntry),
		currentPath: path,
		sortSpec:    s.defaultSort,
		loading:     true,
	}
	s.sessions[sessionID] = st
	s.mu.Unlock()

	s.publishLoading(sessionID, path, true)

	return s.Reload(ctx, sessionID, path, nil)
}

// Close discards the session's tree state.
func (s *Store) Close(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(&events.SessionClosedEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventSessionClosed, Time: time.Now()},
			SessionID: sessionID,
		})
	}
}

// Snapshot returns a deep copy of the session tree for the UI.
func (s *Store) Snapshot(sessionID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}

	root := make([]*models.FileEntry, len(st.root))
	for i, e := range st.root {
		root[i] = copyEntry(e)
	}
	return Snapshot{
		SessionID:   st.sessionID,
		Root:        root,
		CurrentPath: st.currentPath,
		Sort:        st.sortSpec,
		Loading:     st.loading,
	}, true
}

// Entry returns a copy of the node at path, if present.
func (s *Store) Entry(sessionID, path string) (models.FileEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return models.FileEntry{}, false
	}
	node, ok := st.byPath[path]
	if !ok {
		return models.FileEntry{}, false
	}
	return *copyEntry(node), true
}

// Toggle expands or collapses the directory node at path. Collapsing keeps the
// children cached so the next expansion is instant; a node whose children were
// never loaded triggers a listing request. Calls on files are no-ops.
func (s *Store) Toggle(ctx context.Context, sessionID, path string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	node, ok := st.byPath[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !node.IsExpandable() {
		s.mu.Unlock()
		return nil
	}
	if node.Expanded {
		node.Expanded = false
		s.mu.Unlock()
		s.publishChanged(sessionID, path)
		return nil
	}
	if node.Children != nil {
		// Cached from a previous expansion, no request needed.
		node.Expanded = true
		s.mu.Unlock()
		s.publishChanged(sessionID, path)
		return nil
	}
	node.Loading = true
	s.mu.Unlock()

	s.publishLoading(sessionID, path, true)

	entries, err := s.lister.ListDir(ctx, sessionID, path)

	s.mu.Lock()
	st, ok = s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	// Re-resolve by path: the node may have been replaced by a reload while
	// the listing was in flight.
	node, ok = st.byPath[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		node.Loading = false
		node.Expanded = false
		s.mu.Unlock()
		s.publishLoading(sessionID, path, false)
		s.log.Warn().Err(err).Str("session", sessionID).Str("path", path).Msg("directory listing failed")
		return err
	}

	s.setChildren(st, node, entries, nil)
	node.Expanded = true
	node.Loading = false
	s.mu.Unlock()

	s.publishLoading(sessionID, path, false)
	s.publishChanged(sessionID, path)
	return nil
}

// Reload re-requests the listing at path and replaces that node's children.
// Entries of the fresh listing whose path appears in preserve are immediately
// marked expanded and loading, so a follow-up Reload of each such path can
// re-populate its children. Callers replaying a multi-level refresh must issue
// reloads parents-first (ascending depth).
func (s *Store) Reload(ctx context.Context, sessionID, path string, preserve map[string]bool) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	isRoot := path == st.currentPath
	if isRoot {
		st.loading = true
	} else if node, ok := st.byPath[path]; ok {
		node.Loading = true
	}
	s.mu.Unlock()

	entries, err := s.lister.ListDir(ctx, sessionID, path)

	s.mu.Lock()
	st, ok = s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}

	if isRoot {
		if err != nil {
			st.root = nil
			st.byPath = make(map[string]*models.FileEntry)
			st.loading = false
			s.mu.Unlock()
			s.log.Warn().Err(err).Str("session", sessionID).Str("path", path).Msg("root listing failed")
			return err
		}
		st.root = nil
		st.byPath = make(map[string]*models.FileEntry)
		for i := range entries {
			e := entries[i]
			node := &e
			if preserve[node.Path] {
				node.Expanded = true
				node.Loading = true
			}
			st.root = append(st.root, node)
			st.byPath[node.Path] = node
		}
		sortEntries(st.root, st.sortSpec)
		st.loading = false
		s.mu.Unlock()
		s.publishChanged(sessionID, path)
		return nil
	}

	node, ok := st.byPath[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		node.Loading = false
		node.Expanded = false
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("session", sessionID).Str("path", path).Msg("directory listing failed")
		return err
	}

	s.setChildren(st, node, entries, preserve)
	node.Expanded = true
	node.Loading = false
	s.mu.Unlock()

	s.publishChanged(sessionID, path)
	return nil
}

// ReloadAll refreshes the whole tree while preserving the user's expansion
// state. It walks the current tree for expanded paths, reloads the root with
// that set, then replays a reload for each expanded path parents-first so
// every intermediate node exists before its children are requested.
func (s *Store) ReloadAll(ctx context.Context, sessionID string) error {
	paths := s.ExpandedPaths(sessionID)

	preserve := make(map[string]bool, len(paths))
	for _, p := range paths {
		preserve[p] = true
	}

	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return ErrNoSession
	}
	rootPath := st.currentPath
	s.mu.RUnlock()

	if err := s.Reload(ctx, sessionID, rootPath, preserve); err != nil {
		return err
	}

	for _, p := range paths {
		if err := s.Reload(ctx, sessionID, p, preserve); err != nil {
			// Node-local failure: the node stays collapsed and retryable,
			// siblings still get their reload.
			s.log.Warn().Err(err).Str("session", sessionID).Str("path", p).Msg("reload of expanded path failed")
		}
	}
	return nil
}

// ReloadSubtree refreshes one directory while preserving expansion state of
// its descendants. Used after a paste or transfer into that directory.
func (s *Store) ReloadSubtree(ctx context.Context, sessionID, path string) error {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return ErrNoSession
	}
	if path == st.currentPath {
		s.mu.RUnlock()
		return s.ReloadAll(ctx, sessionID)
	}
	node, ok := st.byPath[path]
	var paths []string
	if ok {
		collectExpanded(node.Children, &paths)
	}
	s.mu.RUnlock()

	sortByDepth(paths)
	preserve := make(map[string]bool, len(paths))
	for _, p := range paths {
		preserve[p] = true
	}

	if err := s.Reload(ctx, sessionID, path, preserve); err != nil {
		return err
	}
	for _, p := range paths {
		if err := s.Reload(ctx, sessionID, p, preserve); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Str("path", p).Msg("reload of expanded path failed")
		}
	}
	return nil
}

// ExpandedPaths returns every expanded directory path in the session tree,
// ordered parents-first (ascending depth).
func (s *Store) ExpandedPaths(sessionID string) []string {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	var paths []string
	if ok {
		collectExpanded(st.root, &paths)
	}
	s.mu.RUnlock()

	sortByDepth(paths)
	return paths
}

// Sort selects the sort field for the session. Selecting the already-active
// field flips the direction; a new field starts ascending. The whole tree is
// re-sorted recursively so collapsed subtrees reopen already ordered.
func (s *Store) Sort(sessionID string, field models.SortField) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	if st.sortSpec.Field == field {
		st.sortSpec.Ascending = !st.sortSpec.Ascending
	} else {
		st.sortSpec = models.SortSpec{Field: field, Ascending: true}
	}
	sortEntries(st.root, st.sortSpec)
	path := st.currentPath
	s.mu.Unlock()

	s.publishChanged(sessionID, path)
	return nil
}

// SortSpec returns the session's current sort settings.
func (s *Store) SortSpec(sessionID string) (models.SortSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return models.SortSpec{}, false
	}
	return st.sortSpec, true
}

// setChildren swaps in a fresh listing under node, maintaining the path index
// and applying the session sort order. Caller holds the lock.
func (s *Store) setChildren(st *sessionState, node *models.FileEntry, entries []models.FileEntry, preserve map[string]bool) {
	for _, old := range node.Children {
		unindex(st, old)
	}

	children := make([]*models.FileEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		child := &e
		if preserve[child.Path] {
			child.Expanded = true
			child.Loading = true
		}
		children = append(children, child)
		st.byPath[child.Path] = child
	}
	sortEntries(children, st.sortSpec)
	node.Children = children
}

func unindex(st *sessionState, node *models.FileEntry) {
	delete(st.byPath, node.Path)
	for _, child := range node.Children {
		unindex(st, child)
	}
}

func collectExpanded(entries []*models.FileEntry, out *[]string) {
	for _, e := range entries {
		if e.Expanded {
			*out = append(*out, e.Path)
		}
		collectExpanded(e.Children, out)
	}
}

func sortByDepth(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di := strings.Count(paths[i], "/")
		dj := strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

// sortEntries orders entries and, recursively, all loaded descendants.
// Directories and directory-symlinks always come before files regardless of
// direction; within each group the field comparison applies, negated when
// descending.
func sortEntries(entries []*models.FileEntry, spec models.SortSpec) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		ad, bd := a.IsExpandable(), b.IsExpandable()
		if ad != bd {
			return ad
		}

		var cmp int
		switch spec.Field {
		case models.SortByModified:
			switch {
			case a.Modified < b.Modified:
				cmp = -1
			case a.Modified > b.Modified:
				cmp = 1
			}
		default:
			cmp = strings.Compare(a.Name, b.Name)
		}

		if !spec.Ascending {
			cmp = -cmp
		}
		return cmp < 0
	})

	for _, e := range entries {
		if len(e.Children) > 0 {
			sortEntries(e.Children, spec)
		}
	}
}

func copyEntry(e *models.FileEntry) *models.FileEntry {
	dup := *e
	if e.Children != nil {
		dup.Children = make([]*models.FileEntry, len(e.Children))
		for i, c := range e.Children {
			dup.Children[i] = copyEntry(c)
		}
	}
	return &dup
}

func (s *Store) publishChanged(sessionID, path string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.FileListChangedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventFileListChanged, Time: time.Now()},
		SessionID: sessionID,
		Path:      path,
	})
}

func (s *Store) publishLoading(sessionID, path string, loading bool) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.TreeLoadingEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTreeLoading, Time: time.Now()},
		SessionID: sessionID,
		Path:      path,
		Loading:   loading,
	})
}
