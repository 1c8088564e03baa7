package question

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 500 * time.Millisecond

// Watcher hot-reloads the bank as question files change on disk.
type Watcher struct {
	bank    *Bank
	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// Watch starts watching the bank's directory. It returns once the watcher is
// registered; event handling runs until ctx is cancelled.
func (b *Bank) Watch(ctx context.Context) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(b.dir); err != nil {
		w.Close()
		return nil, err
	}

	fw := &Watcher{
		bank:           b,
		watcher:        w,
		debounceTimers: make(map[string]*time.Timer),
	}
	go fw.loop(ctx)

	b.log.Info().Str("dir", b.dir).Msg("question bank watcher started")
	return fw, nil
}

// Close stops the watcher.
func (fw *Watcher) Close() {
	fw.watcher.Close()
}

func (fw *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			fw.watcher.Close()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".json") {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				fw.scheduleReload(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				fw.bank.removeFile(event.Name)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.bank.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleReload debounces file reloads so a file is read once after the
// editor finishes writing, not on every partial write event.
func (fw *Watcher) scheduleReload(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(debounceWindow)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(debounceWindow, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.bank.loadFile(path)
	})
}
