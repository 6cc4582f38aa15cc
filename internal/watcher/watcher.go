// Package watcher turns filesystem activity under note directories into note
// events for the indexing pipeline. Editor write bursts are coalesced per
// note: a save that truncates and rewrites a file yields one NoteChanged
// event once the file has settled, not one event per syscall.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultSettle = 400 * time.Millisecond

// EventKind classifies a note event.
type EventKind int

const (
	// NoteChanged means the note was created or its content settled after
	// one or more writes. The note should be (re-)indexed.
	NoteChanged EventKind = iota
	// NoteRemoved means the note was deleted or moved away. A rename
	// delivers a separate NoteChanged for the new path.
	NoteRemoved
)

// Event is one note-level change under a watched directory.
type Event struct {
	Kind EventKind
	Path string
}

// Handler receives note events. It is called from the watcher's event loop,
// so long-running work should be handed off by the callee.
type Handler func(Event)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithSettleWindow overrides how long a note must be quiet before its
// NoteChanged event fires.
func WithSettleWindow(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// Watcher maps fsnotify activity under note directories onto note events.
// Directories can be added and removed while running.
type Watcher struct {
	handle    Handler
	exts      map[string]struct{} // normalized extensions; empty means every file is a note
	recursive bool
	settle    time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	roots   []string
	watched map[string]string    // watched dir -> owning root
	dirty   map[string]time.Time // note path -> last write seen, flushed once settled
	running bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the given note directories. extensions
// filter which files count as notes (empty = all); handle receives the
// resulting events.
func NewWatcher(dirs, extensions []string, recursive bool, handle Handler, opts ...Option) *Watcher {
	w := &Watcher{
		handle:    handle,
		exts:      make(map[string]struct{}, len(extensions)),
		recursive: recursive,
		settle:    defaultSettle,
		watched:   make(map[string]string),
		dirty:     make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	for _, ext := range extensions {
		w.exts[normalizeExt(ext)] = struct{}{}
	}
	for _, dir := range dirs {
		w.roots = append(w.roots, filepath.Clean(dir))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// isNote reports whether path's extension is configured as a note extension.
func (w *Watcher) isNote(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[normalizeExt(filepath.Ext(path))]
	return ok
}

// Start registers the note directories (creating missing ones) and launches
// the event loop. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.registerTreeLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return err
		}
	}
	w.running = true
	if w.logger != nil {
		w.logger.Debug("watching note directories",
			zap.Strings("dirs", w.roots),
			zap.Bool("recursive", w.recursive),
			zap.Duration("settle", w.settle))
	}
	w.mu.Unlock()
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	tick := time.NewTicker(w.settle / 4)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.observe(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watch error", zap.Error(err))
			}
		case <-tick.C:
			w.flushSettled()
		}
	}
}

// observe folds one raw fsnotify event into the watcher's state. Writes and
// creates mark the note dirty; removes and renames emit immediately.
func (w *Watcher) observe(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("fs event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.adoptDirectory(path)
			return
		}
		if !w.isNote(path) {
			return
		}
		w.mu.Lock()
		w.dirty[path] = time.Now()
		w.mu.Unlock()
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.dirty, path)
		delete(w.watched, path) // no-op unless a watched dir went away
		w.mu.Unlock()
		if w.isNote(path) {
			w.emit(Event{Kind: NoteRemoved, Path: path})
		}
	}
}

// flushSettled emits NoteChanged for every dirty note whose last write is
// older than the settle window.
func (w *Watcher) flushSettled() {
	now := time.Now()
	w.mu.Lock()
	var ready []string
	for path, last := range w.dirty {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
			delete(w.dirty, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(ready)
	for _, path := range ready {
		w.emit(Event{Kind: NoteChanged, Path: path})
	}
}

func (w *Watcher) emit(ev Event) {
	if w.handle != nil {
		w.handle(ev)
	}
}

// adoptDirectory wires a directory that appeared inside a watched tree (e.g.
// a folder of notes copied in): its subtree is registered and every note
// already inside it is announced.
func (w *Watcher) adoptDirectory(dir string) {
	w.mu.Lock()
	if !w.recursive || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	root := w.owningRootLocked(dir)
	if root == "" {
		w.mu.Unlock()
		return
	}
	if err := w.registerSubtreeLocked(dir, root); err != nil && w.logger != nil {
		w.logger.Debug("adopt directory failed", zap.String("dir", dir), zap.Error(err))
	}
	w.mu.Unlock()
	w.announceNotes(dir)
}

// owningRootLocked returns the configured root containing path, or "".
func (w *Watcher) owningRootLocked(path string) string {
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return root
		}
	}
	return ""
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owningRootLocked(path) != ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// registerTreeLocked creates root if missing and watches it (and its subtree
// when recursive). Caller holds w.mu and has a live w.fsw.
func (w *Watcher) registerTreeLocked(root string) error {
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		w.watched[root] = root
		return nil
	}
	return w.registerSubtreeLocked(root, root)
}

func (w *Watcher) registerSubtreeLocked(dir, root string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if _, ok := w.watched[path]; ok {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.watched[path] = root
		return nil
	})
}

// announceNotes emits NoteChanged for every note file under dir.
func (w *Watcher) announceNotes(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.isNote(path) {
			w.emit(Event{Kind: NoteChanged, Path: path})
		}
		return nil
	})
}

// AddDirectory starts watching another note directory. Before Start it is
// only recorded; while running its tree is registered immediately. With
// syncExisting, every note already inside is announced.
func (w *Watcher) AddDirectory(dir string, syncExisting bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	for _, root := range w.roots {
		if root == abs {
			w.mu.Unlock()
			return nil
		}
	}
	w.roots = append(w.roots, abs)
	if w.running {
		if err := w.registerTreeLocked(abs); err != nil {
			w.roots = w.roots[:len(w.roots)-1]
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Debug("note directory added", zap.String("dir", abs), zap.Bool("sync_existing", syncExisting))
	}
	if syncExisting {
		w.announceNotes(abs)
	}
	return nil
}

// RemoveDirectory stops watching the given note directory. Already-indexed
// notes are untouched.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, root := range w.roots {
		if root == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	for watchedDir, root := range w.watched {
		if root != abs {
			continue
		}
		if w.fsw != nil {
			_ = w.fsw.Remove(watchedDir)
		}
		delete(w.watched, watchedDir)
	}
	for path := range w.dirty {
		if abs == path || inDir(abs, path) {
			delete(w.dirty, path)
		}
	}
	if w.logger != nil {
		w.logger.Debug("note directory removed", zap.String("dir", abs))
	}
	return nil
}

// Directories returns the watched note directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles announces every note already present under the watched
// directories. Call after Start to pick up notes that predate the watcher.
func (w *Watcher) SyncExistingFiles() {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	for _, root := range roots {
		w.announceNotes(root)
	}
}

// Stop shuts the watcher down. Unsettled writes are dropped; the next
// SyncExistingFiles on a future watcher picks them up.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	_ = w.fsw.Close()
	w.dirty = make(map[string]time.Time)
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
