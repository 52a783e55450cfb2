package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/logging"
)

// SessionWatcher turns changes to the persisted session file, made by any
// process sharing the data directory, into session events on the bus.
type SessionWatcher struct {
	path    string
	bus     *Bus
	logger  logging.Logger
	watcher *fsnotify.Watcher

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewSessionWatcher watches the directory containing path. The directory is
// watched instead of the file because writers replace it by rename.
func NewSessionWatcher(path string, b *Bus, logger logging.Logger) (*SessionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &SessionWatcher{
		path:    abs,
		bus:     b,
		logger:  logger.With("component", "session-watcher"),
		watcher: w,
		done:    make(chan struct{}),
	}, nil
}

func (w *SessionWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

func (w *SessionWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watch error", "error", err)
		}
	}
}

func (w *SessionWatcher) handle(ctx context.Context, ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	b, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(b) == 0) {
		w.bus.Publish(Event{Topic: TopicSessionCleared})
		return
	}
	if err != nil {
		w.logger.Warn(ctx, "failed to read session file", "error", err)
		return
	}

	var s models.Session
	if err := json.Unmarshal(b, &s); err != nil {
		w.logger.Warn(ctx, "ignoring malformed session file", "error", err)
		return
	}
	u := s.User.Sanitized()
	w.bus.Publish(Event{Topic: TopicSessionUpdated, User: &u})
}

// Close stops the watcher and waits for the loop to exit.
func (w *SessionWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
