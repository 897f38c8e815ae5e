package testserver

import (
	"maps"
	"slices"

	"github.com/andreyvit/reql"
)

const pseudoLiteral = "LITERAL"

// headOp is a command applied to its evaluated first argument.
type headOp func(e *evaluator, t reql.Term, v any) (any, error)

// docOp returns the implementation of a document command. Groupable commands
// run once per group when their input is grouped data.
func docOp(kind reql.TermKind) (fn headOp, groupable bool) {
	switch kind {
	case reql.TermGetField:
		return (*evaluator).getField, true
	case reql.TermBracket:
		return (*evaluator).bracket, true
	case reql.TermHasFields:
		return (*evaluator).hasFields, true
	case reql.TermPluck, reql.TermWithout:
		return (*evaluator).project, true
	case reql.TermMerge:
		return (*evaluator).merge, true
	case reql.TermKeys, reql.TermValues:
		return (*evaluator).keysValues, false
	case reql.TermAppend, reql.TermPrepend, reql.TermDifference,
		reql.TermSetInsert, reql.TermSetIntersect, reql.TermSetUnion, reql.TermSetDifference:
		return (*evaluator).arrayOp, true
	case reql.TermInsertAt, reql.TermDeleteAt, reql.TermChangeAt, reql.TermSpliceAt:
		return (*evaluator).arrayAt, true
	case reql.TermContains:
		return (*evaluator).contains, true
	case reql.TermOffsetsOf:
		return (*evaluator).offsetsOf, true
	case reql.TermIsEmpty:
		return (*evaluator).isEmpty, true
	}
	return nil, false
}

func (e *evaluator) evalDoc(t reql.Term) (any, bool, error) {
	if t.Kind() == reql.TermObject {
		v, err := e.evalObject(t)
		return v, true, err
	}
	fn, groupable := docOp(t.Kind())
	if fn == nil {
		return nil, false, nil
	}
	v, err := e.withHead(t, fn, groupable)
	return v, true, err
}

// withHead evaluates the first argument and applies fn, per group for
// grouped input.
func (e *evaluator) withHead(t reql.Term, fn headOp, groupable bool) (any, error) {
	v, err := e.arg(t, 0)
	if err != nil {
		return nil, err
	}
	if fv, ok := v.(*feedVal); ok {
		return e.transformFeed(t, fv)
	}
	if g, ok := v.(reql.GroupedData); ok && groupable {
		out := make(reql.GroupedData, 0, len(g))
		for _, grp := range g {
			r, err := fn(e, t, grp.Reduction)
			if err != nil {
				return nil, err
			}
			d, err := e.toDatum(r)
			if err != nil {
				return nil, err
			}
			out = append(out, reql.GroupPair{Group: grp.Group, Reduction: d})
		}
		return out, nil
	}
	return fn(e, t, v)
}

func (e *evaluator) evalObject(t reql.Term) (any, error) {
	if len(t.Args())%2 != 0 {
		return nil, logicErrf("OBJECT expects an even number of arguments (but found %d).", len(t.Args()))
	}
	obj := make(reql.Object, len(t.Args())/2)
	for i := 0; i < len(t.Args()); i += 2 {
		k, err := e.argString(t, i)
		if err != nil {
			return nil, err
		}
		if _, dup := obj[k]; dup {
			return nil, logicErrf("Duplicate key `%s` in object.  (got `%s` and `%s` as keys)", k, k, k)
		}
		if obj[k], err = e.argDatum(t, i+1); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func printDatum(d reql.Datum) string {
	raw, err := reql.MarshalDatum(d)
	if err != nil {
		return d.TypeName()
	}
	return string(raw)
}

// isSequence reports whether v should be treated as a stream of rows by
// commands that map over sequences.
func isSequence(v any) bool {
	switch v.(type) {
	case *seqVal, *tableVal, reql.Array:
		return true
	default:
		return false
	}
}

// mapRows applies fn to every row of a sequence, skipping rows for which fn
// reports a missing value.
func (e *evaluator) mapRows(v any, fn func(row reql.Datum) (reql.Datum, error)) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, err
	}
	out := &seqVal{stream: seq.stream || seq.table != nil}
	if _, isArr := v.(reql.Array); isArr {
		out.stream = false
	}
	for _, row := range seq.items {
		d, err := fn(row)
		if isNonExistence(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		out.items = append(out.items, d)
	}
	return out, nil
}

func field(d reql.Datum, name string) (reql.Datum, error) {
	switch v := d.(type) {
	case reql.Object:
		if fv, ok := v[name]; ok {
			return fv, nil
		}
		return nil, missingErrf("No attribute `%s` in object:\n%s", name, printDatum(d))
	case reql.Null:
		return nil, missingErrf("Cannot perform get_field on a non-object non-sequence `null`.")
	default:
		return nil, logicErrf("Cannot perform get_field on a non-object non-sequence `%s`.", printDatum(d))
	}
}

func (e *evaluator) getField(t reql.Term, v any) (any, error) {
	name, err := e.argString(t, 1)
	if err != nil {
		return nil, err
	}
	if isSequence(v) {
		return e.mapRows(v, func(row reql.Datum) (reql.Datum, error) { return field(row, name) })
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	return field(d, name)
}

func (e *evaluator) bracket(t reql.Term, v any) (any, error) {
	key, err := e.argDatum(t, 1)
	if err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case reql.String:
		if isSequence(v) {
			return e.mapRows(v, func(row reql.Datum) (reql.Datum, error) { return field(row, string(k)) })
		}
		d, err := e.toDatum(v)
		if err != nil {
			return nil, err
		}
		return field(d, string(k))
	case reql.Number:
		if k != reql.Number(int(k)) {
			return nil, withFrame(logicErrf("Number not an integer: %v", float64(k)), 1)
		}
		return e.nthOf(v, int(k))
	default:
		return nil, withFrame(logicErrf("Expected NUMBER or STRING as second argument to `bracket` but found %s.", key.TypeName()), 1)
	}
}

func (e *evaluator) hasFields(t reql.Term, v any) (any, error) {
	sels, err := e.selectors(t)
	if err != nil {
		return nil, err
	}
	test := func(row reql.Datum) (bool, error) {
		obj, ok := row.(reql.Object)
		if !ok {
			return false, logicErrf("Cannot perform has_fields on a non-object non-sequence `%s`.", printDatum(row))
		}
		return hasAll(obj, sels), nil
	}
	if isSequence(v) {
		seq, err := e.toSeq(v)
		if err != nil {
			return nil, err
		}
		out := &seqVal{table: seq.table, stream: seq.stream}
		for _, row := range seq.items {
			ok, err := test(row)
			if err != nil {
				return nil, err
			}
			if ok {
				out.items = append(out.items, row)
			}
		}
		return out, nil
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	ok, err := test(d)
	return reql.Bool(ok), err
}

// selector is a parsed pluck/without path: a field name with optional
// nested selectors.
type selector struct {
	name string
	sub  []selector
}

func (e *evaluator) selectors(t reql.Term) ([]selector, error) {
	var out []selector
	for i := 1; i < len(t.Args()); i++ {
		d, err := e.argDatum(t, i)
		if err != nil {
			return nil, err
		}
		sels, err := parseSelectors(d)
		if err != nil {
			return nil, withFrame(err, i)
		}
		out = append(out, sels...)
	}
	return out, nil
}

func parseSelectors(d reql.Datum) ([]selector, error) {
	switch v := d.(type) {
	case reql.String:
		return []selector{{name: string(v)}}, nil
	case reql.Array:
		var out []selector
		for _, el := range v {
			s, err := parseSelectors(el)
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
		}
		return out, nil
	case reql.Object:
		var out []selector
		for _, k := range v.SortedKeys() {
			switch sub := v[k].(type) {
			case reql.Bool:
				if sub {
					out = append(out, selector{name: k})
				}
			default:
				subs, err := parseSelectors(sub)
				if err != nil {
					return nil, err
				}
				out = append(out, selector{name: k, sub: subs})
			}
		}
		return out, nil
	default:
		return nil, logicErrf("Invalid path argument `%s`.", printDatum(d))
	}
}

func hasAll(obj reql.Object, sels []selector) bool {
	for _, s := range sels {
		v, ok := obj[s.name]
		if !ok || v.Kind() == reql.DatumNull {
			return false
		}
		if len(s.sub) > 0 {
			sub, ok := v.(reql.Object)
			if !ok || !hasAll(sub, s.sub) {
				return false
			}
		}
	}
	return true
}

func pluck(d reql.Datum, sels []selector) reql.Datum {
	switch v := d.(type) {
	case reql.Object:
		out := reql.Object{}
		for _, s := range sels {
			fv, ok := v[s.name]
			if !ok {
				continue
			}
			if len(s.sub) > 0 {
				fv = pluck(fv, s.sub)
			}
			out[s.name] = fv
		}
		return out
	case reql.Array:
		out := make(reql.Array, len(v))
		for i, el := range v {
			out[i] = pluck(el, sels)
		}
		return out
	default:
		return d
	}
}

func without(d reql.Datum, sels []selector) reql.Datum {
	switch v := d.(type) {
	case reql.Object:
		out := maps.Clone(v)
		for _, s := range sels {
			if len(s.sub) == 0 {
				delete(out, s.name)
			} else if fv, ok := out[s.name]; ok {
				out[s.name] = without(fv, s.sub)
			}
		}
		return out
	case reql.Array:
		out := make(reql.Array, len(v))
		for i, el := range v {
			out[i] = without(el, sels)
		}
		return out
	default:
		return d
	}
}

func (e *evaluator) project(t reql.Term, v any) (any, error) {
	sels, err := e.selectors(t)
	if err != nil {
		return nil, err
	}
	apply := func(row reql.Datum) (reql.Datum, error) {
		if _, ok := row.(reql.Object); !ok {
			return nil, logicErrf("Cannot perform %s on a non-object non-sequence `%s`.", lowerName(t.Kind()), printDatum(row))
		}
		if t.Kind() == reql.TermPluck {
			return pluck(row, sels), nil
		}
		return without(row, sels), nil
	}
	if isSequence(v) {
		return e.mapRows(v, apply)
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	return apply(d)
}

func lowerName(k reql.TermKind) string {
	b := []byte(k.String())
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func (e *evaluator) merge(t reql.Term, v any) (any, error) {
	fns := make([]*funcVal, 0, len(t.Args())-1)
	for i := 1; i < len(t.Args()); i++ {
		f, err := e.argFunc(t, i)
		if err != nil {
			return nil, err
		}
		fns = append(fns, f)
	}
	apply := func(row reql.Datum) (reql.Datum, error) {
		acc := row
		for i, f := range fns {
			patch, err := e.call(f, row)
			if err != nil {
				return nil, withFrame(err, i+1)
			}
			if acc, err = mergeDatum(acc, patch); err != nil {
				return nil, withFrame(err, i+1)
			}
		}
		return acc, nil
	}
	if isSequence(v) {
		return e.mapRows(v, apply)
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	return apply(d)
}

func literalValue(d reql.Datum) (reql.Datum, bool, bool) {
	obj, ok := d.(reql.Object)
	if !ok {
		return nil, false, false
	}
	if s, ok := obj[reql.PseudoTypeKey].(reql.String); !ok || string(s) != pseudoLiteral {
		return nil, false, false
	}
	v, has := obj["value"]
	return v, has, true
}

// mergeDatum merges patch into base recursively. Literals replace the field
// wholesale, and an empty literal removes it.
func mergeDatum(base, patch reql.Datum) (reql.Datum, error) {
	if v, has, ok := literalValue(patch); ok {
		if !has {
			return nil, nil
		}
		return stripLiterals(v), nil
	}
	po, ok := patch.(reql.Object)
	if !ok {
		return stripLiterals(patch), nil
	}
	bo, ok := base.(reql.Object)
	if !ok {
		return stripLiterals(po), nil
	}
	out := maps.Clone(bo)
	for k, pv := range po {
		mv, err := mergeDatum(bo[k], pv)
		if err != nil {
			return nil, err
		}
		if mv == nil {
			delete(out, k)
		} else {
			out[k] = mv
		}
	}
	return out, nil
}

func stripLiterals(d reql.Datum) reql.Datum {
	switch v := d.(type) {
	case reql.Object:
		if lv, has, ok := literalValue(v); ok {
			if !has {
				return reql.NullDatum
			}
			return stripLiterals(lv)
		}
		out := make(reql.Object, len(v))
		for k, fv := range v {
			if _, has, ok := literalValue(fv); ok && !has {
				continue
			}
			out[k] = stripLiterals(fv)
		}
		return out
	case reql.Array:
		out := make(reql.Array, len(v))
		for i, el := range v {
			out[i] = stripLiterals(el)
		}
		return out
	default:
		return d
	}
}

func (e *evaluator) keysValues(t reql.Term, v any) (any, error) {
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	obj, ok := d.(reql.Object)
	if !ok {
		return nil, logicErrf("Cannot call `%s` on objects of type `%s`.", lowerName(t.Kind()), d.TypeName())
	}
	out := make(reql.Array, 0, len(obj))
	for _, k := range obj.SortedKeys() {
		if t.Kind() == reql.TermKeys {
			out = append(out, reql.String(k))
		} else {
			out = append(out, obj[k])
		}
	}
	return out, nil
}

func (e *evaluator) asArray(v any) (reql.Array, error) {
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	arr, ok := d.(reql.Array)
	if !ok {
		return nil, logicErrf("Expected type ARRAY but found %s.", d.TypeName())
	}
	return arr, nil
}

func (e *evaluator) arrayOp(t reql.Term, v any) (any, error) {
	arr, err := e.asArray(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	arg, err := e.argDatum(t, 1)
	if err != nil {
		return nil, err
	}
	switch t.Kind() {
	case reql.TermAppend:
		return append(slices.Clip(arr), arg), nil
	case reql.TermPrepend:
		return append(reql.Array{arg}, arr...), nil
	case reql.TermSetInsert:
		if indexOf(arr, arg) >= 0 {
			return distinct(arr), nil
		}
		return append(distinct(arr), arg), nil
	}
	other, ok := arg.(reql.Array)
	if !ok {
		return nil, withFrame(logicErrf("Expected type ARRAY but found %s.", arg.TypeName()), 1)
	}
	out := reql.Array{}
	switch t.Kind() {
	case reql.TermDifference:
		for _, el := range arr {
			if indexOf(other, el) < 0 {
				out = append(out, el)
			}
		}
	case reql.TermSetIntersect:
		for _, el := range distinct(arr) {
			if indexOf(other, el) >= 0 {
				out = append(out, el)
			}
		}
	case reql.TermSetUnion:
		out = distinct(append(slices.Clip(arr), other...))
	case reql.TermSetDifference:
		for _, el := range distinct(arr) {
			if indexOf(other, el) < 0 {
				out = append(out, el)
			}
		}
	}
	return out, nil
}

func indexOf(arr reql.Array, d reql.Datum) int {
	return slices.IndexFunc(arr, func(el reql.Datum) bool { return reql.Equal(el, d) })
}

// distinct drops later duplicates, keeping the first occurrence order.
func distinct(arr reql.Array) reql.Array {
	out := reql.Array{}
	for _, el := range arr {
		if indexOf(out, el) < 0 {
			out = append(out, el)
		}
	}
	return out
}

func (e *evaluator) arrayAt(t reql.Term, v any) (any, error) {
	arr, err := e.asArray(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	idx, err := e.argInt(t, 1)
	if err != nil {
		return nil, err
	}
	n := len(arr)
	limit := n - 1
	if t.Kind() == reql.TermInsertAt || t.Kind() == reql.TermSpliceAt {
		limit = n
	}
	if idx < 0 {
		idx += limit + 1
	}
	if idx < 0 || idx > limit {
		return nil, withFrame(logicErrf("Index `%d` out of bounds for array of size: `%d`.", idx, n), 1)
	}

	switch t.Kind() {
	case reql.TermInsertAt:
		val, err := e.argDatum(t, 2)
		if err != nil {
			return nil, err
		}
		return slices.Insert(slices.Clone(arr), idx, val), nil
	case reql.TermSpliceAt:
		val, err := e.argDatum(t, 2)
		if err != nil {
			return nil, err
		}
		ins, ok := val.(reql.Array)
		if !ok {
			return nil, withFrame(logicErrf("Expected type ARRAY but found %s.", val.TypeName()), 2)
		}
		return slices.Insert(slices.Clone(arr), idx, ins...), nil
	case reql.TermChangeAt:
		val, err := e.argDatum(t, 2)
		if err != nil {
			return nil, err
		}
		out := slices.Clone(arr)
		out[idx] = val
		return out, nil
	default:
		end := idx + 1
		if len(t.Args()) > 2 {
			if end, err = e.argInt(t, 2); err != nil {
				return nil, err
			}
			if end < 0 {
				end += n
			}
			if end < idx || end > n {
				return nil, withFrame(logicErrf("Index `%d` out of bounds for array of size: `%d`.", end, n), 2)
			}
		}
		return slices.Delete(slices.Clone(arr), idx, end), nil
	}
}

func (e *evaluator) contains(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	for i := 1; i < len(t.Args()); i++ {
		f, err := e.argFunc(t, i)
		if err != nil {
			return nil, err
		}
		found := false
		for _, row := range seq.items {
			if f.body.Kind() == 0 {
				found = reql.Equal(row, f.constant)
			} else {
				d, err := e.call(f, row)
				if err != nil {
					return nil, withFrame(err, i)
				}
				found = reql.Truthy(d)
			}
			if found {
				break
			}
		}
		if !found {
			return reql.Bool(false), nil
		}
	}
	return reql.Bool(true), nil
}

func (e *evaluator) offsetsOf(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	out := reql.Array{}
	for i, row := range seq.items {
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
			out = append(out, reql.Number(i))
		}
	}
	return out, nil
}

func (e *evaluator) isEmpty(t reql.Term, v any) (any, error) {
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	return reql.Bool(len(seq.items) == 0), nil
}
