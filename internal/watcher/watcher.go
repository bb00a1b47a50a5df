// Package watcher notices when library video files change on disk.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/framewise/framewise/internal/logging"
)

const DefaultInterval = 10 * time.Second

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Unwatch(path string)
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type fileState struct {
	exists bool
	size   int64
	mtime  time.Time
}

// PollWatcher stats each watched file on an interval. Polling works the
// same on every platform and a library holds few enough files for it to
// stay cheap.
type PollWatcher struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	files    map[string]fileState
	callback func(path string, event EventType)

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPollWatcher(interval time.Duration, logger *slog.Logger) *PollWatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &PollWatcher{
		interval: interval,
		logger:   logger,
		files:    make(map[string]fileState),
		stopCh:   make(chan struct{}),
	}
}

// Watch records the current state of path. Watching a path again
// refreshes its recorded state without firing an event.
func (w *PollWatcher) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	st, err := stat(abs)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files[abs] = st
	w.mu.Unlock()
	return nil
}

func (w *PollWatcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.mu.Lock()
	delete(w.files, abs)
	w.mu.Unlock()
}

func (w *PollWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Run polls until ctx is done or Stop is called.
func (w *PollWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

func (w *PollWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	return nil
}

type change struct {
	path  string
	event EventType
}

// Poll stats every watched file once and reports what changed since the
// previous poll. Callbacks run after the lock is released.
func (w *PollWatcher) Poll() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	var changes []change
	for _, p := range paths {
		cur, err := stat(p)
		if err != nil {
			w.logger.Warn("stat failed", "path", logging.SanitizePath(p), "error", err)
			continue
		}

		w.mu.Lock()
		prev, ok := w.files[p]
		if ok {
			w.files[p] = cur
		}
		w.mu.Unlock()
		if !ok {
			continue
		}

		switch {
		case prev.exists && !cur.exists:
			changes = append(changes, change{p, EventDelete})
		case !prev.exists && cur.exists:
			changes = append(changes, change{p, EventCreate})
		case cur.exists && (cur.size != prev.size || !cur.mtime.Equal(prev.mtime)):
			changes = append(changes, change{p, EventModify})
		}
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	for _, c := range changes {
		w.logger.Debug("file changed", "path", logging.SanitizePath(c.path), "event", c.event.String())
		if cb != nil {
			cb(c.path, c.event)
		}
	}
}

// WatchedCount reports how many paths are being watched.
func (w *PollWatcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

func stat(path string) (fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileState{}, nil
		}
		return fileState{}, err
	}
	return fileState{exists: true, size: info.Size(), mtime: info.ModTime()}, nil
}
