package flatdb

import (
	"fmt"

	"github.com/flatdb/flatdb/record"
)

// SyncOptions controls one Sync pass.
type SyncOptions struct {
	// FromKey is the source table's key field to take identities from.
	// Defaults to "id".
	FromKey string
	// ToKey is the target table's key field to upsert by. Defaults to "id".
	ToKey string
	// Fields maps source field names to target field names. Only listed
	// fields are carried over; unmapped target fields are left untouched on
	// update and filled from the target table's defaults on insert.
	Fields map[string]string
}

// Sync copies live records from a table in this store into a table of the
// target store, one direction only, in a single full pass. For every live
// source record a target-shaped record is built by remapping the listed
// fields and keyed by the source's FromKey value, then upserted: updated in
// place when the target already holds that key (tombstoned entries included),
// inserted otherwise. Mapped source values overwrite target values; there is
// no other conflict resolution. The pass is not transactional against
// concurrent writers.
func (db *DB) Sync(target *DB, sourceTable, targetTable string, opts SyncOptions) error {
	if opts.FromKey == "" {
		opts.FromKey = "id"
	}
	if opts.ToKey == "" {
		opts.ToKey = "id"
	}
	src, err := db.Table(sourceTable)
	if err != nil {
		return fmt.Errorf("sync source: %w", err)
	}
	dst, err := target.Table(targetTable)
	if err != nil {
		return fmt.Errorf("sync target: %w", err)
	}

	inserted, updated, skipped := 0, 0, 0
	for _, rec := range src.Select(nil) {
		keyVal, ok := rec[opts.FromKey]
		if !ok || keyVal == nil {
			skipped++
			db.log.Warn("Skipping record without source key during sync",
				"source", sourceTable, "fromKey", opts.FromKey)
			continue
		}
		mapped := record.Record{}
		for from, to := range opts.Fields {
			if v, present := rec[from]; present {
				mapped[to] = record.CloneValue(v)
			}
		}
		mapped[opts.ToKey] = record.CloneValue(keyVal)

		if dst.Has(keyVal) {
			muts := make(map[string]record.Mutation, len(mapped))
			for field, v := range mapped {
				if field == opts.ToKey {
					continue
				}
				muts[field] = record.Set(v)
			}
			dst.Update(map[string]any{opts.ToKey: keyVal}, muts)
			updated++
		} else {
			if err := dst.Insert(mapped); err != nil {
				return fmt.Errorf("sync insert into %s: %w", targetTable, err)
			}
			inserted++
		}
	}
	countOp("sync", sourceTable)
	db.log.Info("Sync finished", "source", sourceTable, "target", targetTable,
		"inserted", inserted, "updated", updated, "skipped", skipped)
	return nil
}
