// Package observer watches the config file and tracks scheduled runs.
package observer

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses editor save bursts into one reload
const DefaultDebounce = 500 * time.Millisecond

// ConfigWatcher calls back when one file is written or created
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	callback func(path string)
	debounce time.Duration
	logger   *slog.Logger

	timer *time.Timer
	mu    sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConfigWatcher watches path's directory so that editors replacing the
// file through a rename are still seen.
func NewConfigWatcher(path string, callback func(path string), logger *slog.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ConfigWatcher{
		watcher:  watcher,
		path:     abs,
		callback: callback,
		debounce: DefaultDebounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce sets the quiet period before the callback fires
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debounce = d
}

// Start begins watching until ctx is done or Stop is called
func (cw *ConfigWatcher) Start(ctx context.Context) {
	ctx, cw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(cw.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				cw.handleEvent(event)
			case err, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
				cw.logger.WarnContext(ctx, "config watch error", "path", cw.path, "error", err)
			}
		}
	}()
}

// Stop stops watching and cancels a pending callback
func (cw *ConfigWatcher) Stop() {
	if cw.cancel != nil {
		cw.cancel()
		<-cw.done
	}
	cw.watcher.Close()

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.flush)
}

func (cw *ConfigWatcher) flush() {
	if cw.callback != nil {
		cw.callback(cw.path)
	}
}
