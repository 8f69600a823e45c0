package table

import (
	"os"
	"path/filepath"
	"time"

	"github.com/flatdb/flatdb/record"
)

// DataPath returns the path of the dataset file, <dir>/<name>.<ext>.
func (t *Table) DataPath() string {
	return filepath.Join(t.dir, t.name+"."+t.codec.Ext())
}

// TombstonePath returns the path of the tombstone-index file,
// <dir>/<name>.h<ext>.
func (t *Table) TombstonePath() string {
	return filepath.Join(t.dir, t.name+".h"+t.codec.Ext())
}

// load reads both files from disk. A missing or undecodable file is logged
// as a warning and yields an empty structure; load never fails.
func (t *Table) load() {
	t.dataset = t.loadDataset()
	t.tombstones = t.loadTombstones()

	// Reconcile: every dataset entry owns exactly one tombstone, matching
	// the record's own deleted flag. A hand-edited or missing index file is
	// brought back in lockstep from the records.
	for key, r := range t.dataset {
		if _, ok := t.tombstones[key]; !ok {
			t.tombstones[key] = Tombstone{Deleted: r.Deleted()}
		}
	}
	for key := range t.tombstones {
		if _, ok := t.dataset[key]; !ok {
			delete(t.tombstones, key)
		}
	}

	t.loaded = true
	t.lastEdit = time.Time{}
	t.lastAccess = time.Now()
}

func (t *Table) loadDataset() map[string]record.Record {
	dataset := map[string]record.Record{}
	if !t.readFile(t.DataPath(), &dataset) || dataset == nil {
		return map[string]record.Record{}
	}
	return dataset
}

func (t *Table) loadTombstones() map[string]Tombstone {
	tombstones := map[string]Tombstone{}
	if !t.readFile(t.TombstonePath(), &tombstones) || tombstones == nil {
		return map[string]Tombstone{}
	}
	return tombstones
}

// readFile decodes one table file into v. Absent or undecodable files are
// logged as warnings; the caller falls back to an empty structure.
func (t *Table) readFile(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.log.Warn("Table file absent, starting empty", "path", path)
		} else {
			t.log.Warn("Failed to read table file, starting empty", "path", path, "err", err)
		}
		return false
	}
	if err := t.codec.Decode(data, v); err != nil {
		t.log.Warn("Failed to decode table file, starting empty", "path", path, "err", err)
		return false
	}
	return true
}

// ensureLoaded lazily reloads the table after an unload or Close.
func (t *Table) ensureLoaded() {
	if !t.loaded {
		t.log.Debug("Reloading table from disk")
		t.load()
	}
}

// Save overwrites both files with the current in-memory state. Write and
// encode failures are logged and absorbed; the in-memory state stays
// authoritative and the dirty marker is cleared only on full success.
func (t *Table) Save() {
	if !t.loaded {
		return
	}
	ok := t.writeFile(t.DataPath(), t.dataset)
	ok = t.writeFile(t.TombstonePath(), t.tombstones) && ok
	if ok {
		t.lastEdit = time.Time{}
	}
}

// CheckSave flushes both files when the table is dirty and the last edit is
// at least SaveInterval old. The host drives the cadence.
func (t *Table) CheckSave() {
	if t.Dirty() && time.Since(t.lastEdit) >= t.saveInterval {
		t.Save()
	}
}

// CheckUnload releases the in-memory dataset when the table has been idle
// for at least IdleUnloadThreshold, flushing first if dirty. The next access
// reloads lazily.
func (t *Table) CheckUnload() {
	if t.loaded && time.Since(t.lastAccess) >= t.idleThreshold {
		t.unload()
	}
}

// Close forces a final flush and releases both the dataset and the tombstone
// index from memory. The table remains usable; the next access reloads.
func (t *Table) Close() {
	if t.loaded {
		t.unload()
	}
}

// Invalidate drops the in-memory state so the next access reloads from disk,
// picking up edits made to the files by another process. A dirty table is
// left untouched to avoid discarding unflushed edits; the caller is told so.
func (t *Table) Invalidate() bool {
	if !t.loaded {
		return true
	}
	if t.Dirty() {
		return false
	}
	t.dataset = nil
	t.tombstones = nil
	t.loaded = false
	return true
}

func (t *Table) unload() {
	if t.Dirty() {
		t.Save()
	}
	t.log.Debug("Releasing table from memory")
	t.dataset = nil
	t.tombstones = nil
	t.loaded = false
}

func (t *Table) writeFile(path string, v any) bool {
	data, err := t.codec.Encode(v)
	if err != nil {
		t.log.Error("Failed to encode table file", "path", path, "err", err)
		return false
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.log.Error("Failed to write table file", "path", path, "err", err)
		return false
	}
	return true
}
