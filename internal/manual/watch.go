package manual

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the bank whenever its file changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up. Reload failures are logged and the previous
// table stays active.
func (b *Bank) Watch(ctx context.Context, debounce time.Duration) error {
	if b.path == "" {
		return eris.New("manual: watch requires a file-backed bank")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "manual: create watcher")
	}
	defer w.Close() //nolint:errcheck

	target, err := filepath.Abs(b.path)
	if err != nil {
		return eris.Wrap(err, "manual: resolve path")
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return eris.Wrapf(err, "manual: watch %s", filepath.Dir(target))
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("manual: watcher error", zap.Error(err))

		case <-timer.C:
			if err := b.Reload(); err != nil {
				zap.L().Error("manual: reload failed, keeping previous table",
					zap.String("path", b.path),
					zap.Error(err),
				)
			}
		}
	}
}
