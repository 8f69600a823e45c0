package flatdb

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch blocks watching the store directory for external edits to table
// files until ctx is done. When another process rewrites a registered
// table's data file, the table's in-memory state is invalidated so the next
// access reloads from disk. A table with unflushed local edits is not
// invalidated; the conflict is logged and the in-memory state stays
// authoritative.
//
// Watch calls into the tables, so the usual single-writer rule applies: a
// host that mutates the DB from another goroutine must not run Watch
// concurrently with it.
func (db *DB) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(db.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", db.dir, err)
	}

	byPath := make(map[string]string, len(db.tables))
	for name, t := range db.tables {
		byPath[t.DataPath()] = name
		byPath[t.TombstonePath()] = name
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, ok := byPath[event.Name]
			if !ok {
				continue
			}
			t := db.tables[name]
			if t.Invalidate() {
				db.log.Debug("Table file changed on disk, invalidated", "table", name, "path", event.Name)
			} else {
				db.log.Warn("Table file changed on disk but table has unflushed edits, keeping memory state",
					"table", name, "path", event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			db.log.Warn("Error watching store directory", "dir", db.dir, "err", err)
		}
	}
}
