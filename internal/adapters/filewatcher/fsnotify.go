// Package filewatcher watches the index artifact directory.
// FSNotifyWatcher implements ports.FileWatcher.
package filewatcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/linyone/chatrag/internal/domain/ports"
)

// ArtifactExtensions are the extensions of the published index files.
// Temp files written during a publish end in ".tmp" and are ignored.
var ArtifactExtensions = []string{".db", ".json", ".jsonl"}

// FSNotifyWatcher implements ports.FileWatcher using fsnotify.
type FSNotifyWatcher struct {
	watcher    *fsnotify.Watcher
	extensions map[string]bool
}

// NewFSNotifyWatcher creates a watcher for files with the given extensions.
// No extensions means ArtifactExtensions.
func NewFSNotifyWatcher(extensions []string) (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if len(extensions) == 0 {
		extensions = ArtifactExtensions
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[e] = true
	}
	return &FSNotifyWatcher{watcher: w, extensions: exts}, nil
}

// Watch starts monitoring dir, creating it if needed so a server started
// before the first build still sees it. The channel closes when ctx is done
// or the watcher stops.
func (w *FSNotifyWatcher) Watch(ctx context.Context, dir string) (<-chan ports.FileEvent, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	events := make(chan ports.FileEvent, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.extensions[filepath.Ext(event.Name)] {
					continue
				}
				op, ok := operation(event.Op)
				if !ok {
					continue
				}
				select {
				case events <- ports.FileEvent{Path: event.Name, Operation: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] File watcher error: %v", err)
			}
		}
	}()
	return events, nil
}

// Stop stops the watcher.
func (w *FSNotifyWatcher) Stop() error {
	return w.watcher.Close()
}

// operation maps an fsnotify op. A rename target arrives as Create; the
// renamed-away name counts as deleted.
func operation(op fsnotify.Op) (ports.FileOperation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return ports.FileCreated, true
	case op.Has(fsnotify.Write):
		return ports.FileModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return ports.FileDeleted, true
	}
	return 0, false
}
