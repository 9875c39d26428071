// Package watcher recursively watches an app or theme directory, batches
// bursts of filesystem events and hands each batch to the registered
// handlers.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/patternmatcher"

	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

// FileWatcher watches a directory tree with debouncing.
type FileWatcher struct {
	root      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	ignore    *patternmatcher.PatternMatcher
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex
}

// ChangeEvent is one filesystem change. Path is absolute (or as given for
// the root); Classify makes it relative.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Structural reports whether the event adds or removes a path.
func (e EventType) Structural() bool {
	return e != EventTypeModified
}

// ChangeHandler handles a debounced batch of events.
type ChangeHandler func(events []ChangeEvent) error

// Options configures a FileWatcher.
type Options struct {
	Debounce time.Duration
	// Ignore holds .dockerignore style patterns matched against paths
	// relative to the root.
	Ignore []string
}

// NewFileWatcher creates a watcher for root. Nothing is watched until Start.
func NewFileWatcher(root string, opts Options, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}

	ignore, err := patternmatcher.New(opts.Ignore)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		root:      absRoot,
		watcher:   watcher,
		debouncer: NewDebouncer(opts.Debounce),
		ignore:    ignore,
		handlers:  make([]ChangeHandler, 0),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// Root is the absolute directory being watched.
func (fw *FileWatcher) Root() string {
	return fw.root
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Ignored reports whether path (absolute or relative to the root) matches
// an ignore pattern, directly or through a parent directory.
func (fw *FileWatcher) Ignored(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(fw.root, path)
		if err != nil {
			return false
		}
		rel = r
	}
	if rel == "." {
		return false
	}

	matched, err := fw.ignore.MatchesOrParentMatches(rel)
	return err == nil && matched
}

// AddRecursive watches dir and every directory below it that is not
// ignored.
func (fw *FileWatcher) AddRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if fw.Ignored(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Start watches the root and processes events until ctx is done. It returns
// once the initial watch set is in place.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.AddRecursive(fw.root); err != nil {
		return fmt.Errorf("watching %s: %w", fw.root, err)
	}

	go fw.debouncer.Run(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)

	fw.logger.Info(ctx, "Watching for changes", "root", fw.root)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	fw.debouncer.Stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || fw.Ignored(event.Name) {
		return
	}

	var modTime time.Time
	info, err := os.Stat(event.Name)
	if err == nil {
		modTime = info.ModTime()
	}

	var eventType EventType
	switch {
	case event.Op.Has(fsnotify.Create):
		eventType = EventTypeCreated
		if err == nil && info.IsDir() {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Cannot watch new directory", "path", event.Name)
			}
		}
	case event.Op.Has(fsnotify.Write):
		eventType = EventTypeModified
	case event.Op.Has(fsnotify.Remove):
		eventType = EventTypeDeleted
	case event.Op.Has(fsnotify.Rename):
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	fw.debouncer.Add(ChangeEvent{Type: eventType, Path: event.Name, ModTime: modTime})
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.Output():
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Error(ctx, err, "File watcher handler failed", "events", len(events))
				}
			}
		}
	}
}

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
		done:    make(chan struct{}),
	}
}

// Add queues an event. It blocks only while the input buffer is full, and
// drops the event once the debouncer is stopped.
func (d *Debouncer) Add(event ChangeEvent) {
	select {
	case d.events <- event:
	case <-d.done:
	}
}

// Output delivers one deduplicated batch per quiet period.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Run moves queued events into the pending batch until ctx is done.
func (d *Debouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

// Stop cancels a pending flush. It is safe to call more than once.
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() { close(d.done) })

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.pending) == 0 {
		d.mutex.Unlock()
		return
	}
	events := dedupe(d.pending)
	d.pending = d.pending[:0]
	d.mutex.Unlock()

	select {
	case d.output <- events:
	case <-d.done:
	}
}

// dedupe keeps one event per path, sorted by path. A structural event
// (create, delete, rename) outranks a later modification of the same path
// so the batch still records that the file set changed.
func dedupe(pending []ChangeEvent) []ChangeEvent {
	byPath := make(map[string]ChangeEvent, len(pending))
	for _, event := range pending {
		if prev, ok := byPath[event.Path]; ok && prev.Type.Structural() && !event.Type.Structural() {
			prev.ModTime = event.ModTime
			byPath[event.Path] = prev
			continue
		}
		byPath[event.Path] = event
	}

	events := make([]ChangeEvent, 0, len(byPath))
	for _, event := range byPath {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}
