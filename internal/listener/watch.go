package listener

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// scriptWatcher watches Config.ScriptsDir for added, removed, or modified
// capture scripts, adapted from the teacher's workspace.Watcher — here
// there is a single directory of interest rather than a tree of per-
// project deep watchers, so the setup collapses to one Add call.
type scriptWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	onEvent func(name string)
}

func newScriptWatcher(dir string, onEvent func(name string)) (*scriptWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &scriptWatcher{dir: dir, watcher: fsw, onEvent: onEvent}, nil
}

// Run dispatches filesystem events until ctx is done or the underlying
// watcher is closed.
func (w *scriptWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Printf("reverb-device: capture script changed: %s (%s)", event.Name, event.Op)
				if w.onEvent != nil {
					w.onEvent(event.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("reverb-device: script watcher error: %v", err)
		}
	}
}
