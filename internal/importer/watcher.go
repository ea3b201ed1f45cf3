package importer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher imports job files as they appear in an inbox directory
type Watcher struct {
	watcher  *fsnotify.Watcher
	importer *Importer
	dir      string
	debounce time.Duration
	log      *zap.Logger

	// Files seen since the last flush
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for dir, creating the directory if needed
func NewWatcher(im *Importer, dir string, log *zap.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		importer: im,
		dir:      dir,
		debounce: 500 * time.Millisecond, // Writers often create then write
		log:      log.Named("inbox"),
		pending:  make(map[string]struct{}),
	}, nil
}

// Start imports files already in the inbox, then watches for new ones
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	if err := w.importer.ScanInbox(ctx, w.dir); err != nil {
		w.log.Warn("scanning inbox failed", zap.Error(err))
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(ctx, event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.Error(err))
			}
		}
	}()
}

// Stop stops watching and waits for the event loop to exit
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !Supported(event.Name) || filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		// Renamed away by an earlier flush
		if _, err := os.Stat(f); err != nil {
			continue
		}
		w.importer.ImportInbox(ctx, f)
	}
}

// SetDebounce sets how long to wait for writes to settle
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}
