// Package flatdb is an embedded, file-backed structured data store: named
// tables of schema-light records addressed by a primary key, with soft
// deletion, equality-based querying, a minimal inner join, a restricted
// textual query surface, field-value indexing, snapshot transactions, and
// one-directional synchronization between two stores.
//
// A DB and its Tables are single-threaded by design: the host serializes all
// calls into one instance. Durability is whole-file: each table is two files
// in the store directory, fully rewritten on every flush.
package flatdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/maruel/ksid"

	"github.com/flatdb/flatdb/codec"
	"github.com/flatdb/flatdb/record"
	"github.com/flatdb/flatdb/table"
)

var (
	// ErrNotFound is returned when a named table is not registered.
	ErrNotFound = errors.New("table not found")
	// ErrTableExists is returned by CreateTable for an already registered
	// name. Re-registration is rejected rather than silently replacing the
	// existing handle.
	ErrTableExists = errors.New("table already exists")
	// ErrNoTransaction is returned by Commit/Rollback when no transaction is
	// active.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrMissingKey mirrors table.ErrMissingKey for callers that only import
	// this package.
	ErrMissingKey = table.ErrMissingKey
	// ErrDuplicateKey mirrors table.ErrDuplicateKey.
	ErrDuplicateKey = table.ErrDuplicateKey
)

// Options configures a DB and the tables it creates. Zero values select the
// defaults.
type Options struct {
	// Codec is the on-disk encoding for all tables. Defaults to codec.JSON.
	Codec codec.Codec
	// SaveInterval is passed to every table; see table.Options.
	SaveInterval time.Duration
	// IdleUnloadThreshold is passed to every table; see table.Options.
	IdleUnloadThreshold time.Duration
	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DB is the registry and coordination layer: it owns named tables and builds
// join, querying, indexing, transactions and sync on top of their primitive
// operations.
type DB struct {
	dir  string
	opts Options
	log  *slog.Logger

	tables  map[string]*table.Table
	frames  []*frame
	indexes map[indexKey]map[string][]string
}

// Open creates a DB rooted at dir, creating the directory if needed. Tables
// are registered afterwards with CreateTable; their files live directly under
// dir.
func Open(dir string, opts Options) (*DB, error) {
	if opts.Codec == nil {
		opts.Codec = codec.JSON
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &DB{
		dir:     dir,
		opts:    opts,
		log:     opts.Logger.With("component", "flatdb"),
		tables:  make(map[string]*table.Table),
		indexes: make(map[indexKey]map[string][]string),
	}, nil
}

// Dir returns the store directory.
func (db *DB) Dir() string {
	return db.dir
}

// CreateTable constructs and registers a table. defaults supplies insert-time
// fill-in values for absent fields and may be nil. An already registered name
// is rejected with ErrTableExists.
func (db *DB) CreateTable(name string, defaults record.Record, keyField string) (*table.Table, error) {
	if _, exists := db.tables[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrTableExists, name)
	}
	t, err := table.New(db.dir, name, keyField, defaults, table.Options{
		Codec:               db.opts.Codec,
		SaveInterval:        db.opts.SaveInterval,
		IdleUnloadThreshold: db.opts.IdleUnloadThreshold,
		Logger:              db.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	db.tables[name] = t
	db.log.Debug("Registered table", "table", name, "key", keyField)
	return t, nil
}

// Table returns the registered table or ErrNotFound.
func (db *DB) Table(name string) (*table.Table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return t, nil
}

// TableNames returns the registered table names, sorted.
func (db *DB) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Insert adds a record to the named table. While a transaction is active the
// insert lands in the transaction frame and reaches the live table only on
// Commit.
func (db *DB) Insert(tableName string, rec record.Record) error {
	t, err := db.Table(tableName)
	if err != nil {
		return err
	}
	if f := db.topFrame(); f != nil {
		return f.insert(t, rec)
	}
	countOp("insert", tableName)
	return t.Insert(rec)
}

// Update applies mutations to matching records of the named table, returning
// the match count. Routed through the active transaction frame if any.
func (db *DB) Update(tableName string, pred map[string]any, muts map[string]record.Mutation) (int, error) {
	t, err := db.Table(tableName)
	if err != nil {
		return 0, err
	}
	if f := db.topFrame(); f != nil {
		return f.update(t, pred, muts), nil
	}
	countOp("update", tableName)
	return t.Update(pred, muts), nil
}

// Delete soft-deletes matching records of the named table, returning the
// match count. Routed through the active transaction frame if any.
func (db *DB) Delete(tableName string, pred map[string]any) (int, error) {
	t, err := db.Table(tableName)
	if err != nil {
		return 0, err
	}
	if f := db.topFrame(); f != nil {
		return f.delete(t, pred), nil
	}
	countOp("delete", tableName)
	return t.Delete(pred), nil
}

// Select returns the live records of the named table matching the predicate.
// While a transaction is active the read sees the frame's state, including
// its uncommitted mutations.
func (db *DB) Select(tableName string, pred map[string]any) ([]record.Record, error) {
	t, err := db.Table(tableName)
	if err != nil {
		return nil, err
	}
	if f := db.topFrame(); f != nil {
		return f.selectRecords(t, pred), nil
	}
	countOp("select", tableName)
	return t.Select(pred), nil
}

// NewID returns a fresh k-sortable identifier, for hosts that want generated
// primary keys instead of supplying their own.
func (db *DB) NewID() string {
	return ksid.NewID().String()
}

// Maintain runs the idle checks of every table once. The host calls this on
// its own tick cadence; nothing in the engine schedules it.
func (db *DB) Maintain() {
	for _, t := range db.tables {
		t.CheckSave()
		t.CheckUnload()
	}
}

// Close flushes and releases every table. The DB itself stays usable; closed
// tables reload lazily on the next access.
func (db *DB) Close() {
	for _, t := range db.tables {
		t.Close()
	}
}
