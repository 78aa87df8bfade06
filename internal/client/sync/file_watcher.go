package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 256
	defaultDebounceTimeout = 100 * time.Millisecond
)

// FilterCallback is a function that returns true if the event should be filtered
type FilterCallback func(path string) bool

// ChangeCallback receives a debounced change below the watched directory
type ChangeCallback func(path string)

// FileWatcher watches a location root and reports changes through a callback.
// The engine only needs to know that something changed, not what.
type FileWatcher struct {
	watchDir  string
	rawEvents chan notify.EventInfo
	onChange  ChangeCallback
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	// Debouncing fields
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration
	// Raw event filtering
	ignoreCallback FilterCallback
	callbackMu     sync.RWMutex
}

func NewFileWatcher(watchDir string, onChange ChangeCallback) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		onChange:        onChange,
		done:            make(chan struct{}),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets the debounce timeout for events
func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths sets a callback function to filter out raw events before debouncing
// The callback should return true if the event should be ignored
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.callbackMu.Lock()
	defer fw.callbackMu.Unlock()
	fw.ignoreCallback = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Debug("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.All); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		close(fw.done)

		if fw.rawEvents != nil {
			notify.Stop(fw.rawEvents)
		}
		fw.wg.Wait()

		fw.debounceMu.Lock()
		for path, timer := range fw.eventTimers {
			timer.Stop()
			delete(fw.eventTimers, path)
		}
		fw.debounceMu.Unlock()

		slog.Debug("file watcher stopped", "dir", fw.watchDir)
	})
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer fw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}

			fw.callbackMu.RLock()
			ignore := fw.ignoreCallback
			fw.callbackMu.RUnlock()
			if ignore != nil && ignore(event.Path()) {
				continue
			}

			// a write burst for one file collapses into one change
			fw.debounceEvent(event.Path())
		}
	}
}

func (fw *FileWatcher) debounceEvent(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, exists := fw.eventTimers[path]; exists {
		timer.Stop()
	}

	fw.eventTimers[path] = time.AfterFunc(fw.debounceTimeout, func() {
		fw.flushEvent(path)
	})
}

func (fw *FileWatcher) flushEvent(path string) {
	fw.debounceMu.Lock()
	delete(fw.eventTimers, path)
	fw.debounceMu.Unlock()

	select {
	case <-fw.done:
		return
	default:
	}

	slog.Debug("file watcher", "path", path)
	if fw.onChange != nil {
		fw.onChange(path)
	}
}

// watcherFilter drops events for engine scratch files below root
func watcherFilter(root string) FilterCallback {
	tmp := filepath.Join(root, tmpDirName)
	return func(path string) bool {
		return path == tmp || strings.HasPrefix(path, tmp+string(filepath.Separator))
	}
}
