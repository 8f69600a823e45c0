package flatdb

import (
	"errors"

	"github.com/flatdb/flatdb/query"
	"github.com/flatdb/flatdb/record"
)

// Execute runs a restricted textual query:
//
//	SELECT <fieldList> FROM <table> [WHERE <field><op><numericLiteral>]
//
// The field list is accepted but not applied; whole records are always
// returned. An unknown table yields an empty result, not an error. Malformed
// input and unsupported verbs are parse errors.
func (db *DB) Execute(queryString string) ([]record.Record, error) {
	q, err := query.Parse(queryString)
	if err != nil {
		return nil, err
	}
	rows, err := db.Select(q.Table, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []record.Record{}, nil
		}
		return nil, err
	}
	countOp("query", q.Table)
	if q.Where == nil {
		return rows, nil
	}
	out := []record.Record{}
	for _, r := range rows {
		if q.Where.Eval(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
