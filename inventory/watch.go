package inventory

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the catalog whenever the file at path changes, until
// ctx is canceled. A changed inventory affects only future Dial calls:
// sessions already connected keep running against their existing
// transports. A reload failure keeps the previous entry set.
func (inv *Inventory) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by
	// rename, which drops a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := inv.reload(path); err != nil {
				inv.logger.Warn("inventory.reload.failed",
					slog.String("path", path),
					slog.String("err", err.Error()),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			inv.logger.Warn("inventory.watch.error", slog.String("err", err.Error()))
		}
	}
}
