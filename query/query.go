// Package query implements the restricted textual query surface:
//
//	SELECT <fieldList> FROM <table> [WHERE <field><op><numericLiteral>]
//
// The field list is parsed and recorded but not applied; the engine always
// returns whole records (a documented projection limitation). The WHERE
// clause supports at most one comparison with an operator from {=, !=, <, >}
// against a numeric literal. There is no boolean composition, no string
// comparison, and no other verb than SELECT.
package query

import (
	"github.com/flatdb/flatdb/record"
)

// Op is a comparison operator in a WHERE clause.
type Op string

// Supported operators.
const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpGt Op = ">"
)

// Filter is the typed form of a WHERE clause: one field compared to one
// numeric literal.
type Filter struct {
	Field string
	Op    Op
	Value float64
}

// Eval reports whether the record satisfies the filter. A field that is
// absent or non-numeric never matches, regardless of the operator.
func (f *Filter) Eval(r record.Record) bool {
	v, ok := r.Float(f.Field)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return v == f.Value
	case OpNe:
		return v != f.Value
	case OpLt:
		return v < f.Value
	case OpGt:
		return v > f.Value
	default:
		return false
	}
}

// Query is the parsed form of a SELECT statement.
type Query struct {
	// Fields holds the requested field list; nil means "*". Recorded for
	// callers but not applied: results always carry the full record.
	Fields []string
	// Table is the table name after FROM.
	Table string
	// Where is the optional single comparison.
	Where *Filter
}
