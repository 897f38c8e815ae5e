package reql

// Documents, arrays and objects.

// Field reads a field of an object, or plucks it from every object of a
// sequence.
func (t Term) Field(name any) Term { return mk(TermGetField, t, name) }

// Bracket is Field for objects and Nth for arrays, decided by the server.
func (t Term) Bracket(key any) Term { return mk(TermBracket, t, key) }

func (t Term) HasFields(fields ...any) Term {
	return mk(TermHasFields, append([]any{t}, fields...)...)
}

func (t Term) Pluck(fields ...any) Term {
	return mk(TermPluck, append([]any{t}, fields...)...)
}

func (t Term) Without(fields ...any) Term {
	return mk(TermWithout, append([]any{t}, fields...)...)
}

// Merge merges objects or functions of the document into t, right to left
// precedence.
func (t Term) Merge(others ...any) Term {
	return mkf(TermMerge, 1, append([]any{t}, others...)...)
}

func (t Term) Append(v any) Term           { return mk(TermAppend, t, v) }
func (t Term) Prepend(v any) Term          { return mk(TermPrepend, t, v) }
func (t Term) Difference(arr any) Term     { return mk(TermDifference, t, arr) }
func (t Term) SetInsert(v any) Term        { return mk(TermSetInsert, t, v) }
func (t Term) SetUnion(arr any) Term       { return mk(TermSetUnion, t, arr) }
func (t Term) SetIntersection(arr any) Term { return mk(TermSetIntersect, t, arr) }
func (t Term) SetDifference(arr any) Term  { return mk(TermSetDifference, t, arr) }
func (t Term) InsertAt(i, v any) Term      { return mk(TermInsertAt, t, i, v) }
func (t Term) SpliceAt(i, arr any) Term    { return mk(TermSpliceAt, t, i, arr) }
func (t Term) ChangeAt(i, v any) Term      { return mk(TermChangeAt, t, i, v) }
func (t Term) Keys() Term                  { return mk(TermKeys, t) }
func (t Term) Values() Term                { return mk(TermValues, t) }

// DeleteAt removes the element at an index, or the range [start, end).
func (t Term) DeleteAt(idx ...any) Term {
	return mk(TermDeleteAt, append([]any{t}, idx...)...)
}

// Default replaces a null value or a non-existence error with v.
func (t Term) Default(v any) Term { return mkf(TermDefault, 1, t, v) }

// Literal marks an object in Update or Merge as a replacement instead of a
// nested merge. Without arguments it removes the field.
func Literal(v ...any) Term { return mk(TermLiteral, v...) }

// MakeObject builds an object from alternating keys and values.
func MakeObject(pairs ...any) Term { return mk(TermObject, pairs...) }

func Field(obj Term, name any) Term                { return obj.Field(name) }
func Bracket(obj Term, key any) Term               { return obj.Bracket(key) }
func HasFields(obj Term, fields ...any) Term       { return obj.HasFields(fields...) }
func Pluck(obj Term, fields ...any) Term           { return obj.Pluck(fields...) }
func Without(obj Term, fields ...any) Term         { return obj.Without(fields...) }
func Merge(obj Term, others ...any) Term           { return obj.Merge(others...) }
func Append(arr Term, v any) Term                  { return arr.Append(v) }
func Prepend(arr Term, v any) Term                 { return arr.Prepend(v) }
func Difference(arr Term, other any) Term          { return arr.Difference(other) }
func SetInsert(arr Term, v any) Term               { return arr.SetInsert(v) }
func SetUnion(arr Term, other any) Term            { return arr.SetUnion(other) }
func SetIntersection(arr Term, other any) Term     { return arr.SetIntersection(other) }
func SetDifference(arr Term, other any) Term       { return arr.SetDifference(other) }
func InsertAt(arr Term, i, v any) Term             { return arr.InsertAt(i, v) }
func SpliceAt(arr Term, i, other any) Term         { return arr.SpliceAt(i, other) }
func ChangeAt(arr Term, i, v any) Term             { return arr.ChangeAt(i, v) }
func DeleteAt(arr Term, idx ...any) Term           { return arr.DeleteAt(idx...) }
func Keys(obj Term) Term                           { return obj.Keys() }
func Values(obj Term) Term                         { return obj.Values() }
func Default(v Term, fallback any) Term            { return v.Default(fallback) }
