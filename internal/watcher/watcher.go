// Package watcher observes the exploded tree for operator edits,
// coalescing bursts of filesystem events through a quiescence-based
// debounce window before handing them on.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/flowtree/internal/logging"
)

// DefaultDebounce is the quiescence window before a burst of edits
// collapses into one change set.
const DefaultDebounce = 2 * time.Second

// EventType represents the type of file change.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
	EventRenamed
)

// String returns the string representation of the EventType.
func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent represents a file change.
type ChangeEvent struct {
	Type EventType
	Path string
}

// Filter decides whether a path is interesting.
type Filter func(path string) bool

// Handler consumes a debounced batch of changes.
type Handler func(events []ChangeEvent)

// TreeWatcher watches a tree recursively with debouncing.
type TreeWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	filters   []Filter
	handlers  []Handler
	log       logging.Logger
	mu        sync.RWMutex
}

// debouncer groups rapid file changes: each event resets the timer, a
// quiet window flushes the pending batch.
type debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mu      sync.Mutex
}

// New creates a tree watcher with the given debounce window.
func New(debounce time.Duration, log logging.Logger) (*TreeWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logging.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TreeWatcher{
		watcher: w,
		debouncer: &debouncer{
			delay:  debounce,
			events: make(chan ChangeEvent, 256),
			output: make(chan []ChangeEvent, 8),
		},
		log: log.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a path filter; every filter must accept a path.
func (tw *TreeWatcher) AddFilter(f Filter) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.filters = append(tw.filters, f)
}

// AddHandler adds a batch handler.
func (tw *TreeWatcher) AddHandler(h Handler) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.handlers = append(tw.handlers, h)
}

// AddRecursive watches root and all current subdirectories. Newly
// created directories are picked up by the event loop.
func (tw *TreeWatcher) AddRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if filepath.Base(path) == ".orphaned" {
				return filepath.SkipDir
			}
			return tw.watcher.Add(path)
		}
		return nil
	})
}

// Start launches the watch loops; they exit when ctx is cancelled.
func (tw *TreeWatcher) Start(ctx context.Context) {
	go tw.debouncer.run(ctx)
	go tw.dispatchLoop(ctx)
	go tw.watchLoop(ctx)
}

// Reset discards pending and already-flushed batches. Called after the
// loop rewrites the tree itself, so its own writes never surface as
// operator edits.
func (tw *TreeWatcher) Reset() {
	d := tw.debouncer
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = d.pending[:0]
	d.mu.Unlock()
	for {
		select {
		case <-d.output:
		default:
			return
		}
	}
}

// Stop closes the underlying watcher.
func (tw *TreeWatcher) Stop() error {
	tw.debouncer.mu.Lock()
	if tw.debouncer.timer != nil {
		tw.debouncer.timer.Stop()
	}
	tw.debouncer.mu.Unlock()
	return tw.watcher.Close()
}

func (tw *TreeWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			tw.handleEvent(event)
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.log.Warn(ctx, err, "filesystem watcher error")
		}
	}
}

func (tw *TreeWatcher) handleEvent(event fsnotify.Event) {
	tw.mu.RLock()
	filters := tw.filters
	tw.mu.RUnlock()

	for _, f := range filters {
		if !f(event.Name) {
			return
		}
	}

	// New directories join the watch set so nested edits are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = tw.watcher.Add(event.Name)
			return
		}
	}

	var t EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		t = EventCreated
	case event.Op&fsnotify.Write != 0:
		t = EventModified
	case event.Op&fsnotify.Remove != 0:
		t = EventDeleted
	case event.Op&fsnotify.Rename != 0:
		t = EventRenamed
	default:
		t = EventModified
	}

	select {
	case tw.debouncer.events <- ChangeEvent{Type: t, Path: event.Name}:
	default:
		// Channel full; the debounce flush will cover the burst.
	}
}

func (tw *TreeWatcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-tw.debouncer.output:
			tw.mu.RLock()
			handlers := tw.handlers
			tw.mu.RUnlock()
			for _, h := range handlers {
				h(events)
			}
		}
	}
}

func (d *debouncer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.add(event)
		}
	}
}

func (d *debouncer) add(event ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, event)

	// Any event inside the window resets the timer.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return
	}

	// Deduplicate by path, keeping the latest event.
	byPath := make(map[string]ChangeEvent, len(d.pending))
	var order []string
	for _, e := range d.pending {
		if _, seen := byPath[e.Path]; !seen {
			order = append(order, e.Path)
		}
		byPath[e.Path] = e
	}
	events := make([]ChangeEvent, 0, len(byPath))
	for _, p := range order {
		events = append(events, byPath[p])
	}

	select {
	case d.output <- events:
	default:
	}
	d.pending = d.pending[:0]
}

// Common filters.

// NoHidden rejects dotfiles, including the skeleton and quarantine.
func NoHidden(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// NoOrphaned rejects anything under the quarantine subtree.
func NoOrphaned(path string) bool {
	return !strings.Contains(path, string(filepath.Separator)+".orphaned"+string(filepath.Separator)) &&
		filepath.Base(filepath.Dir(path)) != ".orphaned"
}
