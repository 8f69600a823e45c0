package record

// Mutation is the value side of an update: either a literal that replaces the
// field, or a pure transform of the field's current value. The two cases are
// the only representable shapes; there is no fallthrough for arbitrary
// callables or other duck-typed values.
type Mutation struct {
	literal any
	apply   func(cur any) any
}

// Set returns a literal mutation that stores v into the field.
func Set(v any) Mutation {
	return Mutation{literal: v}
}

// Apply returns a transform mutation. fn receives the field's current value;
// when the field is absent it receives an empty map[string]any instead.
func Apply(fn func(cur any) any) Mutation {
	return Mutation{apply: fn}
}

// Resolve computes the new field value given the current one. present reports
// whether the field exists on the record.
func (m Mutation) Resolve(cur any, present bool) any {
	if m.apply == nil {
		return m.literal
	}
	if !present {
		cur = map[string]any{}
	}
	return m.apply(cur)
}

// IsTransform reports whether the mutation is a transform rather than a
// literal.
func (m Mutation) IsTransform() bool {
	return m.apply != nil
}
