package reql

// Selecting, transforming and aggregating sequences.

func (t Term) Get(key any) Term { return mk(TermGet, t, key) }

// GetAll fetches documents by primary key, or by a secondary index given with
// GetAllOpts among keys.
func (t Term) GetAll(keys ...any) Term {
	return mk(TermGetAll, append([]any{t}, keys...)...)
}

func (t Term) GetAllByIndex(index string, keys ...any) Term {
	return mkOpts(TermGetAll, []Optional{GetAllOpts{Index: index}}, append([]any{t}, keys...)...)
}

// Between selects documents with keys in [lower, upper) unless BetweenOpts say
// otherwise. MinVal and MaxVal make a side unbounded.
func (t Term) Between(lower, upper any, opts ...Optional) Term {
	return mkOpts(TermBetween, opts, t, lower, upper)
}

// Filter keeps the elements for which pred is true. pred is a function, a Row
// expression, or an object matched against the elements.
func (t Term) Filter(pred any, opts ...Optional) Term {
	return mkfOpts(TermFilter, 1, opts, t, pred)
}

func (t Term) Map(fn any) Term       { return mkf(TermMap, 1, t, fn) }
func (t Term) ConcatMap(fn any) Term { return mkf(TermConcatMap, 1, t, fn) }

// MapN maps fn over several sequences in lockstep; fn takes one argument per
// sequence.
func MapN(fn any, seqs ...any) Term {
	return mkf(TermMap, len(seqs), append(append([]any{}, seqs...), fn)...)
}

func (t Term) WithFields(fields ...any) Term {
	return mk(TermWithFields, append([]any{t}, fields...)...)
}

// OrderBy sorts by fields, functions, Asc or Desc. OrderByOpts{Index: ...} uses
// a secondary index instead.
func (t Term) OrderBy(keys ...any) Term {
	return mkf(TermOrderBy, 1, append([]any{t}, keys...)...)
}

func Asc(key any) Term  { return mkf(TermAsc, 0, key) }
func Desc(key any) Term { return mkf(TermDesc, 0, key) }

func (t Term) Skip(n any) Term   { return mk(TermSkip, t, n) }
func (t Term) Limit(n any) Term  { return mk(TermLimit, t, n) }
func (t Term) Nth(n any) Term    { return mk(TermNth, t, n) }
func (t Term) Sample(n any) Term { return mk(TermSample, t, n) }
func (t Term) IsEmpty() Term     { return mk(TermIsEmpty, t) }
func (t Term) Zip() Term         { return mk(TermZip, t) }
func (t Term) Ungroup() Term     { return mk(TermUngroup, t) }

// Slice takes start and optional end indexes and SliceOpts.
func (t Term) Slice(args ...any) Term {
	return mk(TermSlice, append([]any{t}, args...)...)
}

func (t Term) OffsetsOf(pred any) Term { return mkf(TermOffsetsOf, 1, t, pred) }

// Union concatenates sequences. UnionOpts among others control interleaving.
func (t Term) Union(others ...any) Term {
	return mk(TermUnion, append([]any{t}, others...)...)
}

func (t Term) InnerJoin(other, pred any) Term { return mkf(TermInnerJoin, 2, t, other, pred) }
func (t Term) OuterJoin(other, pred any) Term { return mkf(TermOuterJoin, 2, t, other, pred) }

// EqJoin joins on the value of field (or a function) in t against the primary
// key of table, or the index named in EqJoinOpts.
func (t Term) EqJoin(field any, table Term, opts ...Optional) Term {
	return mkfOpts(TermEqJoin, 1, opts, t, field, table)
}

// Group groups by fields or functions; GroupOpts among them select an index or
// multi-grouping.
func (t Term) Group(fields ...any) Term {
	return mkf(TermGroup, 1, append([]any{t}, fields...)...)
}

// Reduce combines elements with fn. Elements may be combined in any order, so
// fn must be associative and commutative.
func (t Term) Reduce(fn any) Term { return mkf(TermReduce, 1, t, fn) }

// Fold combines elements with fn strictly left to right, starting from base.
// FoldOpts.Emit turns the result into a stream.
func (t Term) Fold(base, fn any, opts ...Optional) Term {
	return mkfOpts(TermFold, 2, opts, t, base, fn)
}

// Count counts elements, or the elements equal to a value or matching a
// predicate.
func (t Term) Count(pred ...any) Term {
	return mkf(TermCount, 1, append([]any{t}, pred...)...)
}

func (t Term) Sum(field ...any) Term { return mkf(TermSum, 1, append([]any{t}, field...)...) }
func (t Term) Avg(field ...any) Term { return mkf(TermAvg, 1, append([]any{t}, field...)...) }
func (t Term) Min(field ...any) Term { return mkf(TermMin, 1, append([]any{t}, field...)...) }
func (t Term) Max(field ...any) Term { return mkf(TermMax, 1, append([]any{t}, field...)...) }

func (t Term) Distinct(opts ...Optional) Term { return mkOpts(TermDistinct, opts, t) }

// Contains tests for values or predicates.
func (t Term) Contains(values ...any) Term {
	return mkf(TermContains, 1, append([]any{t}, values...)...)
}

func (t Term) ForEach(fn any) Term { return mkf(TermForEach, 1, t, fn) }

func Get(table Term, key any) Term                      { return table.Get(key) }
func GetAll(table Term, keys ...any) Term               { return table.GetAll(keys...) }
func Filter(seq Term, pred any, opts ...Optional) Term  { return seq.Filter(pred, opts...) }
func Map(seq Term, fn any) Term                         { return seq.Map(fn) }
func ConcatMap(seq Term, fn any) Term                   { return seq.ConcatMap(fn) }
func WithFields(seq Term, fields ...any) Term           { return seq.WithFields(fields...) }
func OrderBy(seq Term, keys ...any) Term                { return seq.OrderBy(keys...) }
func Skip(seq Term, n any) Term                         { return seq.Skip(n) }
func Limit(seq Term, n any) Term                        { return seq.Limit(n) }
func Nth(seq Term, n any) Term                          { return seq.Nth(n) }
func Sample(seq Term, n any) Term                       { return seq.Sample(n) }
func IsEmpty(seq Term) Term                             { return seq.IsEmpty() }
func Zip(seq Term) Term                                 { return seq.Zip() }
func Ungroup(grouped Term) Term                         { return grouped.Ungroup() }
func Slice(seq Term, args ...any) Term                  { return seq.Slice(args...) }
func OffsetsOf(seq Term, pred any) Term                 { return seq.OffsetsOf(pred) }
func InnerJoin(seq, other Term, pred any) Term          { return seq.InnerJoin(other, pred) }
func OuterJoin(seq, other Term, pred any) Term          { return seq.OuterJoin(other, pred) }
func Group(seq Term, fields ...any) Term                { return seq.Group(fields...) }
func Reduce(seq Term, fn any) Term                      { return seq.Reduce(fn) }
func Count(seq Term, pred ...any) Term                  { return seq.Count(pred...) }
func Sum(seq Term, field ...any) Term                   { return seq.Sum(field...) }
func Avg(seq Term, field ...any) Term                   { return seq.Avg(field...) }
func Min(seq Term, field ...any) Term                   { return seq.Min(field...) }
func Max(seq Term, field ...any) Term                   { return seq.Max(field...) }
func Distinct(seq Term, opts ...Optional) Term          { return seq.Distinct(opts...) }
func Contains(seq Term, values ...any) Term             { return seq.Contains(values...) }
func ForEach(seq Term, fn any) Term                     { return seq.ForEach(fn) }
func Fold(seq Term, base, fn any, opts ...Optional) Term { return seq.Fold(base, fn, opts...) }

func Between(seq Term, lower, upper any, opts ...Optional) Term {
	return seq.Between(lower, upper, opts...)
}

func EqJoin(seq Term, field any, table Term, opts ...Optional) Term {
	return seq.EqJoin(field, table, opts...)
}

// Union of no sequences is an empty stream.
func Union(seqs ...any) Term { return mk(TermUnion, seqs...) }
