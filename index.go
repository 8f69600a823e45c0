package flatdb

import (
	"slices"

	"github.com/flatdb/flatdb/record"
)

type indexKey struct {
	table string
	field string
}

// CreateIndex eagerly scans the table's live records and builds a field
// value to primary-key-set mapping. The index is a point-in-time artifact:
// it is NOT refreshed by later inserts, updates or deletes, and goes stale
// the moment the table mutates. Rebuilding after mutation is the caller's
// job. Unknown tables return ErrNotFound.
func (db *DB) CreateIndex(tableName, field string) error {
	t, err := db.Table(tableName)
	if err != nil {
		return err
	}
	idx := make(map[string][]string)
	for _, r := range t.Select(nil) {
		v, ok := r[field]
		if !ok {
			continue
		}
		value := record.Key(v)
		key := record.Key(r[t.KeyField()])
		if !slices.Contains(idx[value], key) {
			idx[value] = append(idx[value], key)
		}
	}
	for _, keys := range idx {
		slices.Sort(keys)
	}
	db.indexes[indexKey{tableName, field}] = idx
	db.log.Debug("Built index", "table", tableName, "field", field, "values", len(idx))
	return nil
}

// IndexSearch looks up an exact field value in a precomputed index and
// materializes the current records for the indexed keys. Records deleted
// since index creation drop out; records inserted since do not appear. A
// missing index or unmatched value yields an empty result.
func (db *DB) IndexSearch(tableName, field string, value any) []record.Record {
	idx, ok := db.indexes[indexKey{tableName, field}]
	if !ok {
		return []record.Record{}
	}
	t, err := db.Table(tableName)
	if err != nil {
		return []record.Record{}
	}
	out := []record.Record{}
	for _, key := range idx[record.Key(value)] {
		if r, ok := t.Get(key); ok {
			out = append(out, r)
		}
	}
	return out
}

// DropIndex removes a precomputed index. Dropping an index that does not
// exist is a no-op.
func (db *DB) DropIndex(tableName, field string) {
	delete(db.indexes, indexKey{tableName, field})
}
