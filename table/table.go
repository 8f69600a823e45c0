// Package table implements the storage engine for a single named collection:
// an in-memory dataset addressed by primary key, a tombstone index tracking
// soft deletes, and whole-file persistence of both.
//
// The engine is single-threaded: the host serializes all calls into one
// Table. Idle flush and unload are not autonomous; they only run when the
// host invokes CheckSave/CheckUnload on its own cadence.
package table

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/flatdb/flatdb/codec"
	"github.com/flatdb/flatdb/record"
)

var (
	// ErrMissingKey is returned by Insert when the record lacks the
	// primary-key field.
	ErrMissingKey = errors.New("record is missing the primary-key field")
	// ErrDuplicateKey is returned by Insert when a record with the same
	// primary key already occupies the dataset, live or tombstoned.
	ErrDuplicateKey = errors.New("primary key already exists")
)

// Tombstone records the soft-delete state of one dataset entry. The index
// holds exactly one Tombstone per record, kept in lockstep with the record's
// own deleted flag.
type Tombstone struct {
	Deleted bool `json:"deleted" yaml:"deleted"`
}

// Options configures a Table. Zero values select the defaults.
type Options struct {
	// Codec is the on-disk encoding. Defaults to codec.JSON.
	Codec codec.Codec
	// SaveInterval is the minimum idle-since-edit time before CheckSave
	// flushes. Defaults to 5 minutes.
	SaveInterval time.Duration
	// IdleUnloadThreshold is the idle-since-access time before CheckUnload
	// releases the dataset. Defaults to 15 minutes.
	IdleUnloadThreshold time.Duration
	// Logger receives warnings for absorbed load/save failures. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Table owns one named collection and its two files on disk.
type Table struct {
	dir           string
	name          string
	keyField      string
	defaults      record.Record
	codec         codec.Codec
	saveInterval  time.Duration
	idleThreshold time.Duration
	log           *slog.Logger

	loaded     bool
	dataset    map[string]record.Record
	tombstones map[string]Tombstone
	lastEdit   time.Time // zero means clean
	lastAccess time.Time
}

// New constructs a Table backed by two files under dir, loading any existing
// data. Missing or undecodable files are logged and treated as empty, never
// fatal. defaults supplies field values filled in at insert time for fields
// absent from the inserted record.
func New(dir, name, keyField string, defaults record.Record, opts Options) (*Table, error) {
	if name == "" {
		return nil, errors.New("table name is required")
	}
	if keyField == "" {
		return nil, errors.New("primary-key field is required")
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 5 * time.Minute
	}
	if opts.IdleUnloadThreshold <= 0 {
		opts.IdleUnloadThreshold = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for table %s: %w", name, err)
	}
	t := &Table{
		dir:           dir,
		name:          name,
		keyField:      keyField,
		defaults:      defaults.Clone(),
		codec:         opts.Codec,
		saveInterval:  opts.SaveInterval,
		idleThreshold: opts.IdleUnloadThreshold,
		log:           opts.Logger.With("component", "flatdb.table", "table", name),
	}
	t.load()
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// KeyField returns the name of the primary-key field.
func (t *Table) KeyField() string {
	return t.keyField
}

// Insert adds a record to the dataset. The record must carry the primary-key
// field (ErrMissingKey) and its key must not already occupy the dataset
// (ErrDuplicateKey; tombstoned entries still hold their key). Fields present
// in the table defaults but absent from the record are filled in.
func (t *Table) Insert(rec record.Record) error {
	t.ensureLoaded()
	t.touchAccess()
	keyVal, ok := rec[t.keyField]
	if !ok || keyVal == nil {
		return fmt.Errorf("%w: %q", ErrMissingKey, t.keyField)
	}
	key := record.Key(keyVal)
	if _, exists := t.dataset[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}

	r := rec.Clone()
	for field, def := range t.defaults {
		if _, present := r[field]; !present {
			r[field] = record.CloneValue(def)
		}
	}
	r[record.DeletedField] = false
	t.dataset[key] = r
	t.tombstones[key] = Tombstone{Deleted: false}
	t.touchEdit()
	return nil
}

// Update applies mutations to every record matching the conjunctive equality
// predicate and returns the match count. The scan does not skip soft-deleted
// records; a predicate that matches a tombstoned record mutates it too.
func (t *Table) Update(pred map[string]any, muts map[string]record.Mutation) int {
	t.ensureLoaded()
	t.touchAccess()
	n := 0
	for key, r := range t.dataset {
		if !r.Matches(pred) {
			continue
		}
		n++
		for field, m := range muts {
			cur, present := r[field]
			// Clone so a literal value shared with the caller, or a
			// transform result aliasing one, cannot reach into the dataset.
			r[field] = record.CloneValue(m.Resolve(cur, present))
		}
		// A mutation may touch the deleted flag directly; keep the tombstone
		// in lockstep.
		t.tombstones[key] = Tombstone{Deleted: r.Deleted()}
	}
	if n > 0 {
		t.touchEdit()
	}
	return n
}

// Delete soft-deletes every record matching the predicate and returns the
// match count. Matching follows the same rule as Update, so an already
// deleted record counts as a match again. Entries are never removed from the
// dataset and there is no un-delete.
func (t *Table) Delete(pred map[string]any) int {
	t.ensureLoaded()
	t.touchAccess()
	n := 0
	for key, r := range t.dataset {
		if !r.Matches(pred) {
			continue
		}
		n++
		r[record.DeletedField] = true
		t.tombstones[key] = Tombstone{Deleted: true}
	}
	if n > 0 {
		t.touchEdit()
	}
	return n
}

// Select returns clones of every live record matching the predicate, ordered
// by canonical key. The empty predicate selects all live records.
func (t *Table) Select(pred map[string]any) []record.Record {
	t.ensureLoaded()
	t.touchAccess()
	keys := make([]string, 0, len(t.dataset))
	for key := range t.dataset {
		if t.tombstones[key].Deleted {
			continue
		}
		if t.dataset[key].Matches(pred) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	out := make([]record.Record, 0, len(keys))
	for _, key := range keys {
		out = append(out, t.dataset[key].Clone())
	}
	return out
}

// Get returns a clone of the live record with the given primary-key value,
// or false when the key is absent or tombstoned.
func (t *Table) Get(keyVal any) (record.Record, bool) {
	t.ensureLoaded()
	t.touchAccess()
	key := record.Key(keyVal)
	r, ok := t.dataset[key]
	if !ok || t.tombstones[key].Deleted {
		return nil, false
	}
	return r.Clone(), true
}

// Has reports whether a record with the given primary-key value occupies the
// dataset, tombstoned or not. Upserts use this to pick update over insert.
func (t *Table) Has(keyVal any) bool {
	t.ensureLoaded()
	_, ok := t.dataset[record.Key(keyVal)]
	return ok
}

// Defaults returns a copy of the table's insert-time default values.
func (t *Table) Defaults() record.Record {
	return t.defaults.Clone()
}

// Len returns the number of dataset entries, tombstoned included.
func (t *Table) Len() int {
	t.ensureLoaded()
	return len(t.dataset)
}

// Snapshot is a deep, independent copy of a table's dataset and tombstone
// index captured at a point in time.
type Snapshot struct {
	Dataset    map[string]record.Record
	Tombstones map[string]Tombstone
}

// Snapshot captures the current dataset and tombstone index.
func (t *Table) Snapshot() Snapshot {
	t.ensureLoaded()
	return cloneState(t.dataset, t.tombstones)
}

// Restore replaces the live dataset and tombstone index with deep copies of
// the snapshot and marks the table dirty. It does not persist; the caller
// decides when to flush.
func (t *Table) Restore(s Snapshot) {
	t.ensureLoaded()
	c := cloneState(s.Dataset, s.Tombstones)
	t.dataset = c.Dataset
	t.tombstones = c.Tombstones
	t.touchEdit()
}

func cloneState(dataset map[string]record.Record, tombstones map[string]Tombstone) Snapshot {
	s := Snapshot{
		Dataset:    make(map[string]record.Record, len(dataset)),
		Tombstones: make(map[string]Tombstone, len(tombstones)),
	}
	for key, r := range dataset {
		s.Dataset[key] = r.Clone()
	}
	for key, ts := range tombstones {
		s.Tombstones[key] = ts
	}
	return s
}

func (t *Table) touchEdit() {
	now := time.Now()
	t.lastEdit = now
	t.lastAccess = now
}

func (t *Table) touchAccess() {
	t.lastAccess = time.Now()
}

// Dirty reports whether the table has unflushed edits.
func (t *Table) Dirty() bool {
	return !t.lastEdit.IsZero()
}
