// Package watcher provides file system watching with debouncing for the
// permission IPC directory.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the IPC directory for new request files and nudges the
// polling loop, cutting latency below the poll interval when the filesystem
// supports change notification. Polling remains the source of truth; a
// missed notification only costs one poll cycle.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Dir is the IPC directory containing request files.
	Dir string
	// DebounceDur collapses bursts of file events into one nudge.
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for watching an IPC directory.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 25 * time.Millisecond,
	}
}

// New creates a new IPC directory watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the IPC directory.
// Returns a channel that receives a signal when a request file appears.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					// Drain the timer channel if it already fired
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Non-blocking send - drop if channel full
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			// Errors are non-fatal; the poll loop covers missed events.

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event should nudge the poll loop.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	// Request files are written whole then closed; create and write both
	// signal new work. Response files are written by us and ignored.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}

	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, ".json") {
		return false
	}
	return strings.HasPrefix(base, "request-") ||
		strings.HasPrefix(base, "question-") ||
		strings.HasPrefix(base, "plan-")
}
