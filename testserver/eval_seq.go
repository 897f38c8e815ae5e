package testserver

import (
	"math/rand/v2"
	"slices"

	"github.com/andreyvit/reql"
)

func seqOp(kind reql.TermKind) (fn headOp, groupable bool) {
	switch kind {
	case reql.TermMap:
		return (*evaluator).mapSeq, true
	case reql.TermFilter:
		return (*evaluator).filter, true
	case reql.TermConcatMap:
		return (*evaluator).concatMap, true
	case reql.TermOrderBy:
		return (*evaluator).orderBy, true
	case reql.TermDistinct:
		return (*evaluator).distinct, true
	case reql.TermCount:
		return (*evaluator).count, true
	case reql.TermNth:
		return (*evaluator).nth, true
	case reql.TermSkip, reql.TermLimit, reql.TermSlice:
		return (*evaluator).slice, true
	case reql.TermSample:
		return (*evaluator).sample, true
	case reql.TermZip:
		return (*evaluator).zip, true
	case reql.TermWithFields:
		return (*evaluator).withFields, true
	case reql.TermReduce:
		return (*evaluator).reduce, true
	case reql.TermFold:
		return (*evaluator).fold, true
	case reql.TermSum, reql.TermAvg, reql.TermMin, reql.TermMax:
		return (*evaluator).aggregate, true
	case reql.TermGroup:
		return (*evaluator).group, false
	case reql.TermUngroup:
		return (*evaluator).ungroup, false
	case reql.TermInnerJoin, reql.TermOuterJoin:
		return (*evaluator).join, true
	case reql.TermEqJoin:
		return (*evaluator).eqJoin, true
	}
	return nil, false
}

func (e *evaluator) evalSeq(t reql.Term) (any, bool, error) {
	if t.Kind() == reql.TermUnion {
		v, err := e.union(t)
		return v, true, err
	}
	fn, groupable := seqOp(t.Kind())
	if fn == nil {
		return nil, false, nil
	}
	v, err := e.withHead(t, fn, groupable)
	return v, true, err
}

// derive makes an output sequence that keeps the selection of seq when
// keep is set.
func derive(seq *seqVal, keep bool, items []reql.Datum) *seqVal {
	out := &seqVal{items: items, stream: seq.stream}
	if keep {
		out.table = seq.table
	}
	if items == nil {
		out.items = []reql.Datum{}
	}
	return out
}

func (e *evaluator) mapSeq(t reql.Term, v any) (any, error) {
	n := len(t.Args())
	f, err := e.argFunc(t, n-1)
	if err != nil {
		return nil, err
	}
	seqs := make([]*seqVal, n-1)
	if seqs[0], err = e.toSeq(v); err != nil {
		return nil, withFrame(err, 0)
	}
	size := len(seqs[0].items)
	for i := 1; i < n-1; i++ {
		if seqs[i], err = e.argSeq(t, i); err != nil {
			return nil, err
		}
		size = min(size, len(seqs[i].items))
	}
	items := make([]reql.Datum, size)
	args := make([]reql.Datum, len(seqs))
	for i := range size {
		for j, s := range seqs {
			args[j] = s.items[i]
		}
		if items[i], err = e.call(f, args...); err != nil {
			return nil, withFrame(err, n-1)
		}
	}
	return derive(seqs[0], false, items), nil
}

func (e *evaluator) filter(t reql.Term, v any) (any, error) {
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	// Without a default, rows that raise a non-existence error are skipped.
	var fallback reql.Datum = reql.Bool(false)
	reraise := false
	if o, ok := t.OptArg("default"); ok {
		if o.Kind() == reql.TermError && len(o.Args()) == 0 {
			reraise = true
		} else if fallback, err = e.optDatum(t, "default"); err != nil {
			return nil, err
		}
	}
	test := func(row reql.Datum) (bool, error) {
		ok, err := e.predicate(f, row)
		if err != nil {
			if !isNonExistence(err) || reraise {
				return false, withFrame(err, 1)
			}
			return reql.Truthy(fallback), nil
		}
		return ok, nil
	}

	if row, ok := v.(*rowVal); ok {
		if row.doc == nil {
			return reql.NullDatum, nil
		}
		hit, err := test(row.doc)
		if err != nil || !hit {
			return reql.NullDatum, err
		}
		return row, nil
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	var items []reql.Datum
	for _, row := range seq.items {
		hit, err := test(row)
		if err != nil {
			return nil, err
		}
		if hit {
			items = append(items, row)
		}
	}
	return derive(seq, true, items), nil
}

func (e *evaluator) concatMap(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	var items []reql.Datum
	for _, row := range seq.items {
		d, err := e.call(f, row)
		if err != nil {
			return nil, withFrame(err, 1)
		}
		sub, ok := d.(reql.Array)
		if !ok {
			return nil, withFrame(logicErrf("Cannot convert %s to SEQUENCE", d.TypeName()), 1)
		}
		items = append(items, sub...)
	}
	return derive(seq, false, items), nil
}

type sortKey struct {
	fn   *funcVal
	desc bool
}

func (e *evaluator) sortKeys(t reql.Term) ([]sortKey, error) {
	var keys []sortKey
	for i := 1; i < len(t.Args()); i++ {
		a := t.Args()[i]
		var k sortKey
		if a.Kind() == reql.TermAsc || a.Kind() == reql.TermDesc {
			k.desc = a.Kind() == reql.TermDesc
			a = a.Args()[0]
		}
		f, err := e.termFunc(a, i)
		if err != nil {
			return nil, err
		}
		if name, ok := f.constant.(reql.String); ok && f.body.Kind() == 0 {
			f = fieldFunc(string(name))
		}
		k.fn = f
		keys = append(keys, k)
	}
	return keys, nil
}

// fieldFunc is a function reading one field, as r.row(name) would.
func fieldFunc(name string) *funcVal {
	const id = -1
	return &funcVal{
		params: []int64{id},
		body:   reql.NewTerm(reql.TermBracket, []reql.Term{reql.NewTerm(reql.TermVar, []reql.Term{reql.Expr(id)}, nil), reql.Expr(name)}, nil),
	}
}

func (e *evaluator) orderBy(t reql.Term, v any) (any, error) {
	keys, err := e.sortKeys(t)
	if err != nil {
		return nil, err
	}
	var indexKey *sortKey
	if o, ok := t.OptArg("index"); ok {
		tv, ok := v.(*tableVal)
		if !ok {
			return nil, withFrame(logicErrf("Indexed order_by can only be performed on a TABLE or TABLE_SLICE."), 0)
		}
		desc := o.Kind() == reql.TermDesc
		if o.Kind() == reql.TermAsc || desc {
			o = o.Args()[0]
		}
		d, err := e.eval(o)
		if err != nil {
			return nil, withFrame(err, "index")
		}
		name, ok := d.(reql.String)
		if !ok {
			return nil, withFrame(logicErrf("Expected type STRING but found %s.", typeName(d)), "index")
		}
		if string(name) == tv.info.PrimaryKey && len(keys) == 0 {
			// bucket order is primary key order
			r := rangeOO()
			if desc {
				r = r.reversed()
			}
			seq, err := e.scanTable(tv.info, r)
			if err != nil {
				return nil, err
			}
			return seq, nil
		}
		fn, err := e.indexFunc(tv.info, string(name))
		if err != nil {
			return nil, withFrame(err, "index")
		}
		indexKey = &sortKey{fn: fn, desc: desc}
	}
	if indexKey != nil {
		keys = append([]sortKey{*indexKey}, keys...)
	}
	if len(keys) == 0 {
		return nil, compileErrf("Expected 2 or more arguments but found 1.")
	}

	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	type keyed struct {
		row  reql.Datum
		vals []reql.Datum
	}
	rows := make([]keyed, len(seq.items))
	for i, row := range seq.items {
		rows[i].row = row
		for _, k := range keys {
			d, err := e.call(k.fn, row)
			if isNonExistence(err) {
				d, err = reql.NullDatum, nil
			}
			if err != nil {
				return nil, err
			}
			rows[i].vals = append(rows[i].vals, d)
		}
	}
	slices.SortStableFunc(rows, func(a, b keyed) int {
		for i, k := range keys {
			c := reql.Compare(a.vals[i], b.vals[i])
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	items := make([]reql.Datum, len(rows))
	for i, r := range rows {
		items[i] = r.row
	}
	out := derive(seq, true, items)
	out.stream = indexKey != nil
	return out, nil
}

func (e *evaluator) distinct(t reql.Term, v any) (any, error) {
	var vals []reql.Datum
	if _, ok := t.OptArg("index"); ok {
		tv, ok := v.(*tableVal)
		if !ok {
			return nil, withFrame(logicErrf("Indexed distinct can only be performed on a TABLE."), 0)
		}
		name, err := e.optString(t, "index", "")
		if err != nil {
			return nil, err
		}
		seq, err := e.toSeq(tv)
		if err != nil {
			return nil, err
		}
		for _, row := range seq.items {
			keys, err := e.indexValues(tv.info, name, row)
			if err != nil {
				return nil, withFrame(err, "index")
			}
			vals = append(vals, keys...)
		}
	} else {
		seq, err := e.toSeq(v)
		if err != nil {
			return nil, withFrame(err, 0)
		}
		vals = slices.Clone(seq.items)
	}
	slices.SortStableFunc(vals, reql.Compare)
	vals = slices.CompactFunc(vals, reql.Equal)
	if vals == nil {
		vals = []reql.Datum{}
	}
	return reql.Array(vals), nil
}

func (e *evaluator) count(t reql.Term, v any) (any, error) {
	d, isDatum := v.(reql.Datum)
	if isDatum && len(t.Args()) == 1 {
		switch d := d.(type) {
		case reql.String:
			return reql.Number(len([]rune(d))), nil
		case reql.Object:
			return reql.Number(len(d)), nil
		case reql.Binary:
			return reql.Number(len(d)), nil
		}
	}
	if tv, ok := v.(*tableVal); ok && len(t.Args()) == 1 {
		n, err := e.tableCount(tv.info)
		return reql.Number(n), err
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	if len(t.Args()) == 1 {
		return reql.Number(len(seq.items)), nil
	}
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, row := range seq.items {
		var hit bool
		if f.body.Kind() == 0 {
			hit = reql.Equal(row, f.constant)
		} else {
			d, err := e.call(f, row)
			if err != nil {
				return nil, withFrame(err, 1)
			}
			hit = reql.Truthy(d)
		}
		if hit {
			n++
		}
	}
	return reql.Number(n), nil
}

func (e *evaluator) nth(t reql.Term, v any) (any, error) {
	idx, err := e.argInt(t, 1)
	if err != nil {
		return nil, err
	}
	return e.nthOf(v, idx)
}

// nthOf returns the element at idx, counting from the end when negative.
// Elements of a selection stay selections.
func (e *evaluator) nthOf(v any, idx int) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, err
	}
	i := idx
	if i < 0 {
		i += len(seq.items)
	}
	if i < 0 || i >= len(seq.items) {
		return nil, missingErrf("Index out of bounds: %d", idx)
	}
	row := seq.items[i]
	if seq.table != nil {
		key, _ := field(row, seq.table.PrimaryKey)
		return &rowVal{table: seq.table, key: key, doc: row}, nil
	}
	return row, nil
}

func (e *evaluator) slice(t reql.Term, v any) (any, error) {
	if d, ok := v.(reql.Datum); ok && t.Kind() == reql.TermSlice {
		switch d.(type) {
		case reql.String, reql.Binary:
			return e.sliceBytes(t, d)
		}
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	lo, hi, err := e.sliceBounds(t, len(seq.items))
	if err != nil {
		return nil, err
	}
	out := derive(seq, true, slices.Clone(seq.items[lo:hi]))
	if _, isArr := v.(reql.Array); isArr {
		out.stream = false
	}
	return out, nil
}

// sliceBounds resolves skip, limit and slice arguments to [lo, hi).
func (e *evaluator) sliceBounds(t reql.Term, n int) (int, int, error) {
	switch t.Kind() {
	case reql.TermSkip:
		k, err := e.argInt(t, 1)
		if err != nil {
			return 0, 0, err
		}
		if k < 0 {
			return 0, 0, withFrame(logicErrf("Cannot use a negative left index on a stream."), 1)
		}
		return min(k, n), n, nil
	case reql.TermLimit:
		k, err := e.argInt(t, 1)
		if err != nil {
			return 0, 0, err
		}
		if k < 0 {
			return 0, 0, withFrame(logicErrf("LIMIT takes a non-negative argument (got %d)", k), 1)
		}
		return 0, min(k, n), nil
	}

	leftBound, err := e.optString(t, "left_bound", "closed")
	if err != nil {
		return 0, 0, err
	}
	rightBound, err := e.optString(t, "right_bound", "open")
	if err != nil {
		return 0, 0, err
	}
	lo, err := e.argInt(t, 1)
	if err != nil {
		return 0, 0, err
	}
	hi := n
	hasHi := len(t.Args()) > 2
	if hasHi {
		if hi, err = e.argInt(t, 2); err != nil {
			return 0, 0, err
		}
	}
	if lo < 0 {
		lo += n
	}
	if hi < 0 {
		hi += n
	}
	if leftBound == "open" {
		lo++
	}
	if hasHi && rightBound == "closed" {
		hi++
	}
	lo = max(0, min(lo, n))
	hi = max(lo, min(hi, n))
	return lo, hi, nil
}

func (e *evaluator) sliceBytes(t reql.Term, d reql.Datum) (any, error) {
	switch v := d.(type) {
	case reql.String:
		runes := []rune(v)
		lo, hi, err := e.sliceBounds(t, len(runes))
		if err != nil {
			return nil, err
		}
		return reql.String(runes[lo:hi]), nil
	default:
		b := d.(reql.Binary)
		lo, hi, err := e.sliceBounds(t, len(b))
		if err != nil {
			return nil, err
		}
		return slices.Clone(b[lo:hi]), nil
	}
}

func (e *evaluator) sample(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	k, err := e.argInt(t, 1)
	if err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, withFrame(logicErrf("Number of items to sample must be non-negative, got `%d`.", k), 1)
	}
	items := slices.Clone(seq.items)
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	return derive(seq, true, items[:min(k, len(items))]), nil
}

func (e *evaluator) zip(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	items := make([]reql.Datum, len(seq.items))
	for i, row := range seq.items {
		obj, ok := row.(reql.Object)
		if !ok {
			return nil, logicErrf("Expected type OBJECT but found %s.", row.TypeName())
		}
		left, ok := obj["left"]
		if !ok {
			return nil, missingErrf("ZIP can only be called on the result of a join.")
		}
		merged := left
		if right, ok := obj["right"]; ok {
			if merged, err = mergeDatum(left, right); err != nil {
				return nil, err
			}
		}
		items[i] = merged
	}
	return derive(seq, false, items), nil
}

func (e *evaluator) withFields(t reql.Term, v any) (any, error) {
	sels, err := e.selectors(t)
	if err != nil {
		return nil, err
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	var items []reql.Datum
	for _, row := range seq.items {
		if obj, ok := row.(reql.Object); ok && hasAll(obj, sels) {
			items = append(items, pluck(obj, sels))
		}
	}
	return derive(seq, false, items), nil
}

func (e *evaluator) reduce(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	if len(seq.items) == 0 {
		return nil, missingErrf("Cannot reduce over an empty stream.")
	}
	d, err := e.reduceTree(f, seq.items)
	return d, withFrame(err, 1)
}

// reduceTree combines items pairwise as a balanced tree. The order of
// combination is unspecified for callers, so only associative functions give
// stable results.
func (e *evaluator) reduceTree(f *funcVal, items []reql.Datum) (reql.Datum, error) {
	if len(items) == 1 {
		return items[0], nil
	}
	mid := len(items) / 2
	l, err := e.reduceTree(f, items[:mid])
	if err != nil {
		return nil, err
	}
	r, err := e.reduceTree(f, items[mid:])
	if err != nil {
		return nil, err
	}
	return e.call(f, l, r)
}

func (e *evaluator) fold(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	acc, err := e.argDatum(t, 1)
	if err != nil {
		return nil, err
	}
	f, err := e.argFunc(t, 2)
	if err != nil {
		return nil, err
	}
	var emit, finalEmit *funcVal
	if o, ok := t.OptArg("emit"); ok {
		if emit, err = e.termFunc(o, "emit"); err != nil {
			return nil, err
		}
	}
	if o, ok := t.OptArg("final_emit"); ok {
		if emit == nil {
			return nil, logicErrf("`final_emit` can only be given if `emit` is also given.")
		}
		if finalEmit, err = e.termFunc(o, "final_emit"); err != nil {
			return nil, err
		}
	}

	var out []reql.Datum
	for _, row := range seq.items {
		next, err := e.call(f, acc, row)
		if err != nil {
			return nil, withFrame(err, 2)
		}
		if emit != nil {
			d, err := e.call(emit, acc, row, next)
			if err != nil {
				return nil, withFrame(err, "emit")
			}
			arr, ok := d.(reql.Array)
			if !ok {
				return nil, withFrame(logicErrf("Expected type ARRAY but found %s.", d.TypeName()), "emit")
			}
			out = append(out, arr...)
		}
		acc = next
	}
	if emit == nil {
		return acc, nil
	}
	if finalEmit != nil {
		d, err := e.call(finalEmit, acc)
		if err != nil {
			return nil, withFrame(err, "final_emit")
		}
		arr, ok := d.(reql.Array)
		if !ok {
			return nil, withFrame(logicErrf("Expected type ARRAY but found %s.", d.TypeName()), "final_emit")
		}
		out = append(out, arr...)
	}
	return derive(seq, false, out), nil
}

func (e *evaluator) aggregate(t reql.Term, v any) (any, error) {
	var keyFn *funcVal
	var err error
	if len(t.Args()) > 1 {
		if keyFn, err = e.argFunc(t, 1); err != nil {
			return nil, err
		}
		if name, ok := keyFn.constant.(reql.String); ok && keyFn.body.Kind() == 0 {
			keyFn = fieldFunc(string(name))
		}
	}
	if name, err := e.optString(t, "index", ""); err != nil {
		return nil, err
	} else if name != "" {
		tv, ok := v.(*tableVal)
		if !ok {
			return nil, withFrame(logicErrf("Indexed %s can only be performed on a TABLE.", lowerName(t.Kind())), 0)
		}
		if keyFn, err = e.indexFunc(tv.info, name); err != nil {
			return nil, withFrame(err, "index")
		}
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}

	var rows, vals []reql.Datum
	for _, row := range seq.items {
		val := row
		if keyFn != nil {
			val, err = e.call(keyFn, row)
			if isNonExistence(err) {
				continue
			} else if err != nil {
				return nil, withFrame(err, 1)
			}
		}
		rows = append(rows, row)
		vals = append(vals, val)
	}

	switch t.Kind() {
	case reql.TermSum, reql.TermAvg:
		var sum float64
		for _, val := range vals {
			n, ok := val.(reql.Number)
			if !ok {
				return nil, logicErrf("Expected type NUMBER but found %s.", val.TypeName())
			}
			sum += float64(n)
		}
		if t.Kind() == reql.TermSum {
			return reql.Number(sum), nil
		}
		if len(vals) == 0 {
			return nil, missingErrf("Cannot take the average of an empty stream.  (If you passed `avg` a field name, it may be that no elements of the stream had that field.)")
		}
		return reql.Number(sum / float64(len(vals))), nil
	default:
		if len(vals) == 0 {
			return nil, missingErrf("Cannot take the %s of an empty stream.  (If you passed `%s` a field name, it may be that no elements of the stream had that field.)",
				lowerName(t.Kind()), lowerName(t.Kind()))
		}
		best := 0
		for i := 1; i < len(vals); i++ {
			c := reql.Compare(vals[i], vals[best])
			if (t.Kind() == reql.TermMin && c < 0) || (t.Kind() == reql.TermMax && c > 0) {
				best = i
			}
		}
		if seq.table != nil {
			key, _ := field(rows[best], seq.table.PrimaryKey)
			return &rowVal{table: seq.table, key: key, doc: rows[best]}, nil
		}
		return rows[best], nil
	}
}

func (e *evaluator) group(t reql.Term, v any) (any, error) {
	if _, ok := v.(reql.GroupedData); ok {
		return nil, withFrame(logicErrf("Cannot call `group` on the output of `group` (did you mean to `ungroup`?)."), 0)
	}
	multi, err := e.optBool(t, "multi", false)
	if err != nil {
		return nil, err
	}
	var keyFns []*funcVal
	for i := 1; i < len(t.Args()); i++ {
		f, err := e.argFunc(t, i)
		if err != nil {
			return nil, err
		}
		if name, ok := f.constant.(reql.String); ok && f.body.Kind() == 0 {
			f = fieldFunc(string(name))
		}
		keyFns = append(keyFns, f)
	}
	var index string
	if index, err = e.optString(t, "index", ""); err != nil {
		return nil, err
	}
	var tv *tableVal
	if index != "" {
		var ok bool
		if tv, ok = v.(*tableVal); !ok {
			return nil, withFrame(logicErrf("Indexed group can only be performed on a TABLE."), 0)
		}
	}
	if len(keyFns) == 0 && index == "" {
		return nil, logicErrf("Cannot group by nothing.")
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}

	var groups reql.GroupedData
	add := func(key, row reql.Datum) {
		for i := range groups {
			if reql.Equal(groups[i].Group, key) {
				groups[i].Reduction = append(groups[i].Reduction.(reql.Array), row)
				return
			}
		}
		groups = append(groups, reql.GroupPair{Group: key, Reduction: reql.Array{row}})
	}
	for _, row := range seq.items {
		var keys []reql.Datum
		if tv != nil {
			if keys, err = e.indexValues(tv.info, index, row); err != nil {
				return nil, withFrame(err, "index")
			}
		} else {
			parts := make(reql.Array, len(keyFns))
			for i, f := range keyFns {
				d, err := e.call(f, row)
				if isNonExistence(err) {
					d, err = reql.NullDatum, nil
				}
				if err != nil {
					return nil, withFrame(err, i+1)
				}
				parts[i] = d
			}
			if len(parts) == 1 {
				keys = []reql.Datum{parts[0]}
			} else {
				keys = []reql.Datum{parts}
			}
			if multi {
				if arr, ok := keys[0].(reql.Array); ok {
					keys = distinct(arr)
				}
			}
		}
		for _, k := range keys {
			add(k, row)
		}
	}
	slices.SortFunc(groups, func(a, b reql.GroupPair) int { return reql.Compare(a.Group, b.Group) })
	if groups == nil {
		groups = reql.GroupedData{}
	}
	return groups, nil
}

func (e *evaluator) ungroup(t reql.Term, v any) (any, error) {
	g, ok := v.(reql.GroupedData)
	if !ok {
		return nil, withFrame(logicErrf("Expected type GROUPED_DATA but found %s.", typeName(v)), 0)
	}
	out := make(reql.Array, len(g))
	for i, grp := range g {
		out[i] = reql.Object{"group": grp.Group, "reduction": grp.Reduction}
	}
	return out, nil
}

func (e *evaluator) join(t reql.Term, v any) (any, error) {
	left, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	right, err := e.argSeq(t, 1)
	if err != nil {
		return nil, err
	}
	f, err := e.argFunc(t, 2)
	if err != nil {
		return nil, err
	}
	var items []reql.Datum
	for _, l := range left.items {
		matched := false
		for _, r := range right.items {
			d, err := e.call(f, l, r)
			if err != nil {
				return nil, withFrame(err, 2)
			}
			if reql.Truthy(d) {
				matched = true
				items = append(items, reql.Object{"left": l, "right": r})
			}
		}
		if !matched && t.Kind() == reql.TermOuterJoin {
			items = append(items, reql.Object{"left": l})
		}
	}
	return derive(left, false, items), nil
}

func (e *evaluator) eqJoin(t reql.Term, v any) (any, error) {
	left, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	keyFn, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	if name, ok := keyFn.constant.(reql.String); ok && keyFn.body.Kind() == 0 {
		keyFn = fieldFunc(string(name))
	}
	rv, err := e.arg(t, 2)
	if err != nil {
		return nil, err
	}
	right, ok := rv.(*tableVal)
	if !ok {
		return nil, withFrame(logicErrf("Expected type TABLE but found %s.", typeName(rv)), 2)
	}
	index, err := e.optString(t, "index", right.info.PrimaryKey)
	if err != nil {
		return nil, err
	}
	ordered, err := e.optBool(t, "ordered", false)
	if err != nil {
		return nil, err
	}

	type pair struct {
		key reql.Datum
		obj reql.Object
	}
	var pairs []pair
	for _, l := range left.items {
		key, err := e.call(keyFn, l)
		if isNonExistence(err) || (err == nil && key.Kind() == reql.DatumNull) {
			continue
		} else if err != nil {
			return nil, withFrame(err, 1)
		}
		matches, err := e.lookup(right.info, index, []reql.Datum{key})
		if err != nil {
			return nil, withFrame(err, 2)
		}
		for _, r := range matches {
			pairs = append(pairs, pair{key, reql.Object{"left": l, "right": r}})
		}
	}
	if ordered {
		slices.SortStableFunc(pairs, func(a, b pair) int { return reql.Compare(a.key, b.key) })
	}
	items := make([]reql.Datum, len(pairs))
	for i, p := range pairs {
		items[i] = p.obj
	}
	return derive(left, false, items), nil
}

func (e *evaluator) union(t reql.Term) (any, error) {
	var vals []any
	feeds := 0
	for i := range t.Args() {
		v, err := e.arg(t, i)
		if err != nil {
			return nil, err
		}
		if _, ok := v.(*feedVal); ok {
			feeds++
		}
		vals = append(vals, v)
	}
	if feeds > 0 {
		if feeds != len(vals) {
			return nil, logicErrf("Cannot union a changefeed with a non-changefeed sequence.")
		}
		fvs := make([]*feedVal, len(vals))
		for i, v := range vals {
			fvs[i] = v.(*feedVal)
		}
		return e.unionFeeds(fvs)
	}

	out := &seqVal{items: []reql.Datum{}, stream: true}
	var seqs []*seqVal
	for i, v := range vals {
		seq, err := e.toSeq(v)
		if err != nil {
			return nil, withFrame(err, i)
		}
		seqs = append(seqs, seq)
		out.items = append(out.items, seq.items...)
	}
	o, ok := t.OptArg("interleave")
	if !ok {
		return out, nil
	}
	f, err := e.termFunc(o, "interleave")
	if err != nil {
		return nil, err
	}
	if _, isBool := f.constant.(reql.Bool); isBool && f.body.Kind() == 0 {
		return out, nil
	}
	if name, ok := f.constant.(reql.String); ok && f.body.Kind() == 0 {
		f = fieldFunc(string(name))
	}
	// Merge inputs that are each sorted by f into one sorted stream.
	keyOf := func(row reql.Datum) (reql.Datum, error) {
		d, err := e.call(f, row)
		if isNonExistence(err) {
			return reql.NullDatum, nil
		}
		return d, withFrame(err, "interleave")
	}
	out.items = out.items[:0]
	pos := make([]int, len(seqs))
	for {
		best := -1
		var bestKey reql.Datum
		for i, s := range seqs {
			if pos[i] >= len(s.items) {
				continue
			}
			k, err := keyOf(s.items[pos[i]])
			if err != nil {
				return nil, err
			}
			if best < 0 || reql.Compare(k, bestKey) < 0 {
				best, bestKey = i, k
			}
		}
		if best < 0 {
			return out, nil
		}
		out.items = append(out.items, seqs[best].items[pos[best]])
		pos[best]++
	}
}
