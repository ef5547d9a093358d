// Package watcher is a supplementary trigger alongside the startup
// reconcile pass: it notices a track directory dropped in externally and
// feeds it into the same resume path as reconcile.
package watcher

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 5 * time.Second

var trackIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Watcher notices new track_id directories under root and, after a
// debounce window, calls OnTrackDetected once per directory.
type Watcher struct {
	fsw  *fsnotify.Watcher
	root string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New starts watching root for new subdirectories.
func New(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, root: root, timers: make(map[string]*time.Timer)}, nil
}

// Run blocks, dispatching debounced track detections to onTrackDetected
// until the watcher is closed.
func (w *Watcher) Run(onTrackDetected func(trackID string)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			trackID := filepath.Base(event.Name)
			if filepath.Dir(event.Name) != filepath.Clean(w.root) {
				trackID = filepath.Base(filepath.Dir(event.Name))
			}
			if !trackIDPattern.MatchString(trackID) {
				continue
			}
			w.debounce(trackID, onTrackDetected)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watcher: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) debounce(trackID string, onTrackDetected func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[trackID]; ok {
		t.Reset(debounceDelay)
		return
	}
	w.timers[trackID] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.timers, trackID)
		w.mu.Unlock()
		onTrackDetected(trackID)
	})
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
