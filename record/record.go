// Package record defines the schema-light record type shared by the table
// engine and the database registry.
//
// A Record is an open field-to-value mapping; there is no fixed schema beyond
// the primary-key field chosen by the owning table. Values are whatever the
// configured codec round-trips, which in practice means strings, numbers,
// booleans, nil, and nested maps/slices of those.
package record

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// DeletedField is the record field carrying the soft-delete flag. It is kept
// in lockstep with the table's tombstone index.
const DeletedField = "deleted"

// Record is one row of a table, keyed by its primary-key field.
type Record map[string]any

// Clone returns a deep copy of the record. Nested maps and slices are copied
// recursively so mutations on the clone never leak back.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = CloneValue(v)
	}
	return c
}

// Deleted reports the record's soft-delete flag.
func (r Record) Deleted() bool {
	b, _ := r[DeletedField].(bool)
	return b
}

// CloneValue deep copies a single field value.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = CloneValue(e)
		}
		return m
	case Record:
		return map[string]any(x.Clone())
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Key returns the canonical string form of a primary-key value, used to
// address records in the dataset and tombstone maps. Integral numbers render
// without a fraction or exponent so that a key inserted as int(1) still
// resolves after a codec round-trip turns it into float64(1).
func Key(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return Key(float64(x))
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(v)
	}
}

// Matches reports whether the record satisfies a conjunctive equality
// predicate: every predicate field must be present and equal. The empty
// predicate matches everything.
func (r Record) Matches(pred map[string]any) bool {
	for field, want := range pred {
		got, ok := r[field]
		if !ok || !ValueEqual(got, want) {
			return false
		}
	}
	return true
}

// ValueEqual compares two field values. Numbers compare by value across
// integer and float representations; everything else compares by deep
// equality.
func ValueEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// Float extracts a field as float64, reporting whether the field exists and
// holds a numeric value.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok {
		return 0, false
	}
	return asFloat(v)
}
