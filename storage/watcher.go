package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/wirehome/core"
	"github.com/wirehome/core/messagebus"
)

// EventStorageChanged is published for every out-of-band change below the
// data directory, e.g. an operator editing a settings file directly.
const EventStorageChanged = "storage.event.changed"

// Payload keys of EventStorageChanged messages.
const (
	KeyPath      = "path"
	KeyOperation = "operation"
)

// Watcher observes the data directory tree and publishes a bus message for
// every change. Temporary files of in-flight atomic writes are ignored.
type Watcher struct {
	store  *Store
	bus    *messagebus.MessageBus
	logger wirehome.Logger
}

// NewWatcher creates a watcher over the store's data directory.
func NewWatcher(store *Store, bus *messagebus.MessageBus, logger wirehome.Logger) *Watcher {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	return &Watcher{store: store, bus: bus, logger: logger}
}

// Run watches until the context is cancelled. Newly created directories are
// added to the watch set so the whole tree stays covered.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher, w.store.Root()); err != nil {
		return err
	}
	w.logger.Info("storage watcher started", "root", w.store.Root())

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("storage watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".wirehome-") {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(watcher, event.Name); err != nil {
				w.logger.Error("watching new directory failed", "path", event.Name, "error", err)
			}
		}
	}

	rel, err := filepath.Rel(w.store.Root(), event.Name)
	if err != nil {
		rel = event.Name
	}
	if err := w.bus.Publish(messagebus.Message{
		messagebus.KeyType: EventStorageChanged,
		KeyPath:            filepath.ToSlash(rel),
		KeyOperation:       event.Op.String(),
	}); err != nil {
		w.logger.Error("publishing storage change failed", "path", rel, "error", err)
	}
}

func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
