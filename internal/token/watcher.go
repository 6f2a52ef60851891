package token

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/opencardata/cardata-bridge/pkg/log"
)

// Watcher flags external modifications to the persisted token files. The
// supervisor polls the flag on its tick and decides whether the change is
// worth adopting; the watcher itself never touches credentials.
//
// The bridge's own atomic saves also raise events here. That is harmless:
// the supervisor compares the re-loaded tokens against the in-memory set
// and treats identical content as a no-op.
type Watcher struct {
	store   *Store
	fw      *fsnotify.Watcher
	changed atomic.Bool
}

// NewWatcher starts watching the store's directory. Watching the directory
// rather than the files keeps the watch alive across the rename that ends
// every atomic write.
func NewWatcher(store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Dir(), err)
	}

	return &Watcher{store: store, fw: fw}, nil
}

// Run consumes watch events until ctx is done. It only ever sets the
// changed flag; all reactions happen on the supervisor tick.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.isTokenFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("Token file changed on disk", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			w.changed.Store(true)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("Token file watcher error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

// ChangedAndReset reports whether token files changed since the last call
// and clears the flag.
func (w *Watcher) ChangedAndReset() bool {
	return w.changed.Swap(false)
}

func (w *Watcher) isTokenFile(path string) bool {
	switch filepath.Base(path) {
	case identityTokenFile, refreshTokenFile:
		return true
	}
	return false
}
