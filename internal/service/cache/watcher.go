package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	applogger "FinStore/pkg/logger"
)

// FileWatcher purges the read cache when a watched directory changes. Changes are debounced so
// one durable write (tmp create, write, rename) causes a single purge.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	target   Invalidator
	debounce time.Duration
	logger   *applogger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewFileWatcher(dirs []string, target Invalidator, debounce time.Duration, l *applogger.Logger) (*FileWatcher, error) {
	if l == nil {
		l = applogger.Nop()
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}
	return &FileWatcher{watcher: w, target: target, debounce: debounce, logger: l}, nil
}

// Start processes events until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) {
	fw.wg.Add(1)
	go fw.run(ctx)
}

func (fw *FileWatcher) run(ctx context.Context) {
	defer fw.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	var last string
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ignored(ev) {
				continue
			}
			last = ev.Name
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			fw.target.Purge("file changed: " + filepath.Base(last))
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", applogger.Error(err))
		}
	}
}

// ignored filters lock sentinels, guards and durable-writer tmp files.
func ignored(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return true
	}
	base := filepath.Base(ev.Name)
	return strings.HasSuffix(base, ".lock") ||
		strings.HasSuffix(base, ".lock.guard") ||
		strings.Contains(base, ".tmp-")
}

// Stop closes the watcher and waits for the event loop to exit.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		err = fw.watcher.Close()
		fw.wg.Wait()
	})
	return err
}
