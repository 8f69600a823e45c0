package flatdb

import (
	"github.com/flatdb/flatdb/record"
)

// Join performs a strict equality inner join: one merged record per pair of
// live left/right records whose onField values are equal. The merge copies
// all left fields then overlays all right fields, so right-hand values win on
// name collision, the join key included. A left record with no match emits
// nothing; there are no outer variants. Reads see the active transaction
// frame like any other DB-level read.
func (db *DB) Join(leftTable, rightTable, onField string) ([]record.Record, error) {
	left, err := db.Select(leftTable, nil)
	if err != nil {
		return nil, err
	}
	right, err := db.Select(rightTable, nil)
	if err != nil {
		return nil, err
	}
	countOp("join", leftTable)

	out := []record.Record{}
	for _, l := range left {
		lv, ok := l[onField]
		if !ok {
			continue
		}
		for _, r := range right {
			rv, ok := r[onField]
			if !ok || !record.ValueEqual(lv, rv) {
				continue
			}
			merged := l.Clone()
			for field, v := range r {
				merged[field] = record.CloneValue(v)
			}
			out = append(out, merged)
		}
	}
	return out, nil
}
