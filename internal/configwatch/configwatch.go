// Package configwatch replaces the busy mtime-poll the Python prototype
// used for config-change detection (spec.md §9's explicit redesign flag)
// with an fsnotify-backed watcher: loops select on a change-notification
// channel or a fallback timer rather than re-statting the config file
// every tick. fsnotify was already an indirect teacher dependency;
// promoted to direct here.
package configwatch

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits a notification whenever the watched config file is
// written or renamed-over (the atomic-write pattern used by every writer
// in this module: temp file + rename).
type Watcher struct {
	fsw     *fsnotify.Watcher
	Changed chan struct{}
}

// New starts watching path's containing directory (fsnotify watches
// directories so it still sees the rename half of an atomic-write-then-
// rename, which wouldn't re-arm a watch on the old inode).
func New(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, Changed: make(chan struct{}, 1)}
	go w.loop(path)
	return w, nil
}

func (w *Watcher) loop(path string) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.Changed <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[CONFIGWATCH] %v", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
