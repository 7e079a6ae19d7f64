package library

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Settle delay before a changed file is re-imported, so a file still being
// copied in is read once instead of on every write burst.
const watchSettleDelay = 500 * time.Millisecond

// Watcher keeps the catalog in sync with the watched roots while the app is
// running: created and modified audio files are re-imported, deleted ones
// are dropped. fsnotify does not watch recursively, so every directory under
// a root is registered individually and new directories are added as they
// appear.
type Watcher struct {
	catalog  *Catalog
	importer *Importer
	roots    *WatchedRootRepository
	log      *slog.Logger

	mu      sync.Mutex
	emit    Emitter
	pending map[string]*time.Timer

	fsWatcher *fsnotify.Watcher
	stop      chan struct{}
	loopWG    sync.WaitGroup
	closeOnce sync.Once
}

func NewWatcher(catalog *Catalog, importer *Importer, roots *WatchedRootRepository, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	return &Watcher{
		catalog:   catalog,
		importer:  importer,
		roots:     roots,
		log:       logger,
		pending:   map[string]*time.Timer{},
		fsWatcher: fsWatcher,
		stop:      make(chan struct{}),
	}, nil
}

func (w *Watcher) SetEmitter(emitter Emitter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit = emitter
}

// Start registers the enabled roots and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	roots, err := w.roots.ListEnabled(ctx)
	if err != nil {
		return err
	}

	for _, root := range roots {
		if err := w.watchTree(root.Path); err != nil {
			w.log.Warn("failed to watch folder", "path", root.Path, "error", err)
		}
	}

	w.loopWG.Add(1)
	go w.loop()

	return nil
}

// WatchRoot adds a newly configured root to a running watcher.
func (w *Watcher) WatchRoot(path string) error {
	return w.watchTree(filepath.Clean(path))
}

func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		_ = w.fsWatcher.Close()
		w.loopWG.Wait()

		w.mu.Lock()
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = map[string]*time.Timer{}
		w.mu.Unlock()
	})

	return nil
}

func (w *Watcher) loop() {
	defer w.loopWG.Done()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.watchTree(path); err != nil {
				w.log.Warn("failed to watch new folder", "path", path, "error", err)
			}
			return
		}
	}

	if !IsSupportedAudioFile(path) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.scheduleImport(path)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.cancelPending(path)
		if err := w.catalog.RemoveByOriginPath(context.Background(), path); err != nil {
			w.log.Warn("failed to drop removed file", "path", path, "error", err)
		}
	}
}

// scheduleImport delays the import until the file has been quiet for the
// settle delay, collapsing write bursts into one read.
func (w *Watcher) scheduleImport(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(watchSettleDelay)
		return
	}

	w.pending[path] = time.AfterFunc(watchSettleDelay, func() {
		w.cancelPending(path)
		w.importNow(path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) importNow(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	item, err := w.importer.ImportFile(context.Background(), path)
	if err != nil {
		w.log.Warn("failed to import changed file", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	emitter := w.emit
	w.mu.Unlock()

	if emitter != nil {
		emitter(EventImported, item)
	}
}

func (w *Watcher) watchTree(rootPath string) error {
	return filepath.WalkDir(rootPath, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.log.Warn("skipping unreadable path", "path", path, "error", walkErr)
			return nil
		}
		if !entry.IsDir() {
			return nil
		}

		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}

		return nil
	})
}
