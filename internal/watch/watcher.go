// Package watch notifies the daemon when another process rewrites the queue file.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 16
	defaultDebounceTimeout = 100 * time.Millisecond
)

// FileWatcher calls OnChange once per burst of writes to a single file.
// The parent directory is watched, since atomic saves replace the file itself.
type FileWatcher struct {
	path            string
	onChange        func()
	debounceTimeout time.Duration

	events chan notify.EventInfo
	wg     sync.WaitGroup
}

func NewFileWatcher(path string, onChange func()) *FileWatcher {
	return &FileWatcher{
		path:            path,
		onChange:        onChange,
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// Start watches until ctx is done or Stop is called
func (fw *FileWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(fw.path)
	slog.Debug("file watcher start", "path", fw.path)

	fw.events = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(dir, fw.events, notify.Write, notify.Create, notify.Rename); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.loop(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	if fw.events == nil {
		return
	}
	notify.Stop(fw.events)
	close(fw.events)
	fw.wg.Wait()
	fw.events = nil
	slog.Debug("file watcher stopped", "path", fw.path)
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer fw.wg.Done()

	name := filepath.Base(fw.path)
	timer := time.NewTimer(fw.debounceTimeout)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.events:
			if !ok {
				return
			}
			if filepath.Base(ev.Path()) != name {
				continue
			}
			timer.Reset(fw.debounceTimeout)
		case <-timer.C:
			fw.onChange()
		}
	}
}
