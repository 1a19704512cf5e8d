package readiness

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// dirWatcher turns file creation under a directory into wake-ups. Writes are
// ignored: the daemon appends to its logs continuously, while the cookie
// appears through a create (or a rename onto its final name). Subdirectories
// created after the watch starts are added as they appear, since bitcoind
// creates its network directory before writing the cookie.
type dirWatcher struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
}

func watch(dir string) (*dirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	// The network directory may already exist.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(dir, e.Name()))
			}
		}
	}

	w := &dirWatcher{
		watcher: watcher,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *dirWatcher) Wake() <-chan struct{} {
	return w.wake
}

func (w *dirWatcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = w.watcher.Add(event.Name)
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *dirWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
