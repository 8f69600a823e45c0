package flatdb

import (
	"fmt"
	"slices"

	"github.com/maruel/ksid"

	"github.com/flatdb/flatdb/record"
	"github.com/flatdb/flatdb/table"
)

// frame is one transaction: a deep snapshot of every table's dataset and
// tombstone index, captured at Begin. While a frame is on top of the stack
// every DB-level mutation applies to the frame state only; Commit is the sole
// path onto the live tables and disk, Rollback discards the frame.
type frame struct {
	id     ksid.ID
	tables map[string]*table.Snapshot
}

// Begin captures a snapshot of every registered table and pushes it as the
// new top transaction frame. Frames nest in strict LIFO order; a nested Begin
// snapshots the enclosing frame's state, not the live tables.
func (db *DB) Begin() {
	f := &frame{
		id:     ksid.NewID(),
		tables: make(map[string]*table.Snapshot, len(db.tables)),
	}
	top := db.topFrame()
	for name, t := range db.tables {
		var snap table.Snapshot
		if top != nil {
			if s, ok := top.tables[name]; ok {
				snap = cloneSnapshot(s)
			} else {
				snap = t.Snapshot()
			}
		} else {
			snap = t.Snapshot()
		}
		f.tables[name] = &snap
	}
	db.frames = append(db.frames, f)
	db.log.Debug("Began transaction", "txn", f.id, "depth", len(db.frames))
}

// Commit applies the top frame's state onto each live table, persists them,
// and pops the frame.
func (db *DB) Commit() error {
	f := db.topFrame()
	if f == nil {
		return ErrNoTransaction
	}
	for name, snap := range f.tables {
		t, ok := db.tables[name]
		if !ok {
			continue
		}
		t.Restore(*snap)
		t.Save()
	}
	db.frames = db.frames[:len(db.frames)-1]
	db.log.Debug("Committed transaction", "txn", f.id, "depth", len(db.frames))
	return nil
}

// Rollback discards the top frame without touching any live table.
func (db *DB) Rollback() error {
	f := db.topFrame()
	if f == nil {
		return ErrNoTransaction
	}
	db.frames = db.frames[:len(db.frames)-1]
	db.log.Debug("Rolled back transaction", "txn", f.id, "depth", len(db.frames))
	return nil
}

// InTransaction reports whether at least one frame is active.
func (db *DB) InTransaction() bool {
	return len(db.frames) > 0
}

func (db *DB) topFrame() *frame {
	if len(db.frames) == 0 {
		return nil
	}
	return db.frames[len(db.frames)-1]
}

// state returns the frame's working copy for a table, snapshotting lazily
// for tables registered after Begin.
func (f *frame) state(t *table.Table) *table.Snapshot {
	s, ok := f.tables[t.Name()]
	if !ok {
		snap := t.Snapshot()
		s = &snap
		f.tables[t.Name()] = s
	}
	return s
}

// The frame operations mirror the table primitives over the snapshot maps,
// so in-transaction semantics match the live ones exactly.

func (f *frame) insert(t *table.Table, rec record.Record) error {
	s := f.state(t)
	keyVal, ok := rec[t.KeyField()]
	if !ok || keyVal == nil {
		return fmt.Errorf("%w: %q", table.ErrMissingKey, t.KeyField())
	}
	key := record.Key(keyVal)
	if _, exists := s.Dataset[key]; exists {
		return fmt.Errorf("%w: %q", table.ErrDuplicateKey, key)
	}
	r := rec.Clone()
	for field, def := range t.Defaults() {
		if _, present := r[field]; !present {
			r[field] = def
		}
	}
	r[record.DeletedField] = false
	s.Dataset[key] = r
	s.Tombstones[key] = table.Tombstone{Deleted: false}
	return nil
}

func (f *frame) update(t *table.Table, pred map[string]any, muts map[string]record.Mutation) int {
	s := f.state(t)
	n := 0
	for key, r := range s.Dataset {
		if !r.Matches(pred) {
			continue
		}
		n++
		for field, m := range muts {
			cur, present := r[field]
			r[field] = record.CloneValue(m.Resolve(cur, present))
		}
		s.Tombstones[key] = table.Tombstone{Deleted: r.Deleted()}
	}
	return n
}

func (f *frame) delete(t *table.Table, pred map[string]any) int {
	s := f.state(t)
	n := 0
	for key, r := range s.Dataset {
		if !r.Matches(pred) {
			continue
		}
		n++
		r[record.DeletedField] = true
		s.Tombstones[key] = table.Tombstone{Deleted: true}
	}
	return n
}

func (f *frame) selectRecords(t *table.Table, pred map[string]any) []record.Record {
	s := f.state(t)
	keys := make([]string, 0, len(s.Dataset))
	for key, r := range s.Dataset {
		if s.Tombstones[key].Deleted {
			continue
		}
		if r.Matches(pred) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	out := make([]record.Record, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.Dataset[key].Clone())
	}
	return out
}

func cloneSnapshot(s *table.Snapshot) table.Snapshot {
	c := table.Snapshot{
		Dataset:    make(map[string]record.Record, len(s.Dataset)),
		Tombstones: make(map[string]table.Tombstone, len(s.Tombstones)),
	}
	for key, r := range s.Dataset {
		c.Dataset[key] = r.Clone()
	}
	for key, ts := range s.Tombstones {
		c.Tombstones[key] = ts
	}
	return c
}
