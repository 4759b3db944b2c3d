// Package watcher reports files dropped into an inbox directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultExtensions are the uploadable file types.
var DefaultExtensions = []string{".pdf", ".txt", ".md", ".html", ".htm", ".csv"}

// DefaultQuiet is how long a file must go without writes before it is
// reported.
const DefaultQuiet = 500 * time.Millisecond

// Op is the kind of change observed.
type Op string

const (
	Created  Op = "created"
	Modified Op = "modified"
)

// Event is one settled file change.
type Event struct {
	Path string
	Op   Op
}

// Watcher monitors one directory with fsnotify.
type Watcher struct {
	fs         *fsnotify.Watcher
	extensions map[string]bool
	quiet      time.Duration
	logger     *slog.Logger
}

// New creates a Watcher. Empty extensions select DefaultExtensions and a
// non-positive quiet period selects DefaultQuiet.
func New(extensions []string, quiet time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Watcher{fs: fw, extensions: exts, quiet: quiet, logger: slog.Default()}, nil
}

// Watch starts monitoring dir. Each file is reported once its writes have
// settled; the channel is closed when ctx is done or the watcher stops.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.fs.Add(dir); err != nil {
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	events := make(chan Event, 100)

	type pending struct {
		op   Op
		last time.Time
	}

	go func() {
		defer close(events)

		waiting := make(map[string]pending)
		tick := time.NewTicker(w.quiet / 2)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.fs.Events:
				if !ok {
					return
				}
				if !w.watched(ev.Name) {
					continue
				}
				switch {
				case ev.Has(fsnotify.Create):
					waiting[ev.Name] = pending{op: Created, last: time.Now()}
				case ev.Has(fsnotify.Write):
					p, seen := waiting[ev.Name]
					if !seen {
						p.op = Modified
					}
					p.last = time.Now()
					waiting[ev.Name] = p
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					delete(waiting, ev.Name)
				}

			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "dir", dir, "error", err)

			case now := <-tick.C:
				for path, p := range waiting {
					if now.Sub(p.last) < w.quiet {
						continue
					}
					delete(waiting, path)
					select {
					case events <- Event{Path: path, Op: p.op}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return events, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) watched(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(base))]
}
