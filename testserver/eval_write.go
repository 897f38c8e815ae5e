package testserver

import (
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/internal/changefeed"
)

// writeResult accumulates the summary object of a write query.
type writeResult struct {
	inserted, replaced, unchanged, skipped, deleted, errors int

	firstError    string
	generatedKeys reql.Array
	changes       reql.Array
	returnChanges string
}

func (w *writeResult) fail(msg string) {
	w.errors++
	if w.firstError == "" {
		w.firstError = msg
	}
	if w.returnChanges == "always" {
		w.changes = append(w.changes, reql.Object{"old_val": reql.NullDatum, "new_val": reql.NullDatum, "error": reql.String(msg)})
	}
}

func (w *writeResult) change(oldVal, newVal reql.Datum, changed bool) {
	if w.returnChanges == "" || (!changed && w.returnChanges != "always") {
		return
	}
	w.changes = append(w.changes, reql.Object{"old_val": orNull(oldVal), "new_val": orNull(newVal)})
}

func orNull(d reql.Datum) reql.Datum {
	if d == nil {
		return reql.NullDatum
	}
	return d
}

func (w *writeResult) datum() reql.Object {
	obj := reql.Object{
		"inserted":  reql.Number(w.inserted),
		"replaced":  reql.Number(w.replaced),
		"unchanged": reql.Number(w.unchanged),
		"skipped":   reql.Number(w.skipped),
		"deleted":   reql.Number(w.deleted),
		"errors":    reql.Number(w.errors),
	}
	if w.firstError != "" {
		obj["first_error"] = reql.String(w.firstError)
	}
	if w.generatedKeys != nil {
		obj["generated_keys"] = w.generatedKeys
	}
	if w.returnChanges != "" {
		obj["changes"] = orArray(w.changes)
	}
	return obj
}

func orArray(a reql.Array) reql.Array {
	if a == nil {
		return reql.Array{}
	}
	return a
}

func (e *evaluator) evalWrite(t reql.Term) (any, bool, error) {
	var v any
	var err error
	switch t.Kind() {
	case reql.TermInsert:
		v, err = e.insert(t)
	case reql.TermUpdate, reql.TermReplace:
		v, err = e.modify(t)
	case reql.TermDelete:
		v, err = e.delete(t)
	case reql.TermForEach:
		v, err = e.forEach(t)
	default:
		return nil, false, nil
	}
	return v, true, err
}

func (e *evaluator) newWriteResult(t reql.Term) (*writeResult, error) {
	w := &writeResult{}
	d, err := e.optDatum(t, "return_changes")
	if err != nil {
		return nil, err
	}
	switch d := d.(type) {
	case nil:
	case reql.Bool:
		if d {
			w.returnChanges = "true"
		}
	case reql.String:
		if d != "always" {
			return nil, withFrame(logicErrf("Invalid return_changes value `%s` (options are `true`, `false`, and `'always'`.)", string(d)), "return_changes")
		}
		w.returnChanges = "always"
	default:
		return nil, withFrame(logicErrf("Expected type BOOL but found %s.", d.TypeName()), "return_changes")
	}
	if dur, err := e.optString(t, "durability", "hard"); err != nil {
		return nil, err
	} else if dur != "hard" && dur != "soft" {
		return nil, withFrame(logicErrf("Durability option `%s` unrecognized (options are \"hard\" and \"soft\").", dur), "durability")
	}
	return w, nil
}

// put stores doc under key and records the change for feeds.
func (e *evaluator) put(info *tableInfo, key []byte, old, doc reql.Datum) error {
	b := e.bucket(info)
	if b == nil {
		return tableErrf(info.DB, info.Name, errBucketNotFound, "")
	}
	raw, err := encodeDoc(nil, doc)
	if err != nil {
		return tableErrf(info.DB, info.Name, err, "encode")
	}
	if err := b.Put(key, raw); err != nil {
		return tableErrf(info.DB, info.Name, err, "put")
	}
	e.record(info, key, old, doc)
	return nil
}

func (e *evaluator) remove(info *tableInfo, key []byte, old reql.Datum) error {
	b := e.bucket(info)
	if b == nil {
		return tableErrf(info.DB, info.Name, errBucketNotFound, "")
	}
	if err := b.Delete(key); err != nil {
		return tableErrf(info.DB, info.Name, err, "delete")
	}
	e.record(info, key, old, nil)
	return nil
}

func (e *evaluator) record(info *tableInfo, key []byte, old, doc reql.Datum) {
	e.wrote = true
	e.changes = append(e.changes, pendingChange{
		table: info,
		chg:   changefeed.Change{Key: string(key), Old: old, New: doc},
	})
}

func (e *evaluator) insert(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	v, err := e.arg(t, 1)
	if err != nil {
		return nil, err
	}
	var docs []reql.Datum
	if d, ok := v.(reql.Object); ok {
		docs = []reql.Datum{d}
	} else {
		seq, err := e.toSeq(v)
		if err != nil {
			return nil, withFrame(err, 1)
		}
		docs = seq.items
	}
	w, err := e.newWriteResult(t)
	if err != nil {
		return nil, err
	}

	conflict := "error"
	var conflictFn *funcVal
	if o, ok := t.OptArg("conflict"); ok {
		f, err := e.termFunc(o, "conflict")
		if err != nil {
			return nil, err
		}
		if s, ok := f.constant.(reql.String); ok && f.body.Kind() == 0 {
			conflict = string(s)
			if conflict != "error" && conflict != "replace" && conflict != "update" {
				return nil, withFrame(logicErrf("Conflict option `%s` unrecognized (options are \"error\", \"replace\" and \"update\").", conflict), "conflict")
			}
		} else if f.body.Kind() != 0 {
			conflict, conflictFn = "function", f
		} else {
			return nil, withFrame(logicErrf("Expected type STRING but found %s.", f.constant.TypeName()), "conflict")
		}
	}

	info := tv.info
	pkName := info.PrimaryKey
	for _, d := range docs {
		doc, ok := d.(reql.Object)
		if !ok {
			w.fail(fmt.Sprintf("Expected type OBJECT but found %s.", d.TypeName()))
			continue
		}
		if o, ok := stripLiterals(doc).(reql.Object); ok {
			doc = o
		}
		id, ok := doc[pkName]
		if !ok {
			id = reql.String(uuid.NewString())
			doc = doc.With(pkName, id)
			w.generatedKeys = append(w.generatedKeys, id)
		}
		key, err := primaryKey(id)
		if err != nil {
			w.fail(asQueryError(keyError(id, err)).Msg)
			continue
		}
		old, err := e.getDoc(info, id)
		if err != nil {
			return nil, err
		}
		if old == nil {
			if err := e.put(info, key, nil, doc); err != nil {
				return nil, err
			}
			w.inserted++
			w.change(nil, doc, true)
			continue
		}

		var merged reql.Datum
		switch conflict {
		case "error":
			w.fail(fmt.Sprintf("Duplicate primary key `%s`:\n%s\n%s", pkName, printDatum(old), printDatum(doc)))
			continue
		case "replace":
			merged = doc
		case "update":
			if merged, err = mergeDatum(old, doc); err != nil {
				return nil, err
			}
		default:
			if merged, err = e.call(conflictFn, id, old, doc); err != nil {
				return nil, withFrame(err, "conflict")
			}
		}
		if err := e.applyReplacement(w, info, id, key, old, merged); err != nil {
			return nil, err
		}
	}
	return w.datum(), nil
}

// applyReplacement writes the outcome of an update, replace or conflict
// resolution for one existing or missing document.
func (e *evaluator) applyReplacement(w *writeResult, info *tableInfo, id reql.Datum, key []byte, old, doc reql.Datum) error {
	if doc == nil || doc.Kind() == reql.DatumNull {
		if old == nil {
			w.skipped++
			return nil
		}
		if err := e.remove(info, key, old); err != nil {
			return err
		}
		w.deleted++
		w.change(old, nil, true)
		return nil
	}
	obj, ok := doc.(reql.Object)
	if !ok {
		w.fail(fmt.Sprintf("Inserted value must be an OBJECT (got %s):\n%s", doc.TypeName(), printDatum(doc)))
		return nil
	}
	newID, ok := obj[info.PrimaryKey]
	if !ok {
		w.fail(fmt.Sprintf("Inserted object must have primary key `%s`:\n%s", info.PrimaryKey, printDatum(doc)))
		return nil
	}
	if id != nil && !reql.Equal(newID, id) {
		w.fail(fmt.Sprintf("Primary key `%s` cannot be changed (`%s` -> `%s`).", info.PrimaryKey, printDatum(id), printDatum(newID)))
		return nil
	}
	if old != nil && reql.Equal(old, obj) {
		w.unchanged++
		w.change(old, obj, false)
		return nil
	}
	if err := e.put(info, key, old, obj); err != nil {
		return err
	}
	if old == nil {
		w.inserted++
	} else {
		w.replaced++
	}
	w.change(old, obj, true)
	return nil
}

// selectionRows resolves the target of update, replace and delete.
func (e *evaluator) selectionRows(t reql.Term) (*tableInfo, []reql.Datum, []reql.Datum, error) {
	v, err := e.arg(t, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	switch v := v.(type) {
	case *rowVal:
		return v.table, []reql.Datum{v.key}, []reql.Datum{v.doc}, nil
	case *tableVal:
		seq, err := e.scanTable(v.info, rangeOO())
		if err != nil {
			return nil, nil, nil, err
		}
		return v.info, nil, seq.items, nil
	case *seqVal:
		if v.table != nil {
			return v.table, nil, v.items, nil
		}
	}
	return nil, nil, nil, withFrame(logicErrf("Expected type SELECTION but found %s.", typeName(v)), 0)
}

func (e *evaluator) modify(t reql.Term) (any, error) {
	nonAtomic, err := e.optBool(t, "non_atomic", false)
	if err != nil {
		return nil, err
	}
	if !nonAtomic && !deterministic(t.Args()[1]) {
		return nil, withFrame(compileErrf("Could not prove argument deterministic.  Maybe you want to use the non_atomic flag?"), 1)
	}
	info, keys, rows, err := e.selectionRows(t)
	if err != nil {
		return nil, err
	}
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	w, err := e.newWriteResult(t)
	if err != nil {
		return nil, err
	}
	for i, old := range rows {
		var id reql.Datum
		if keys != nil {
			id = keys[i]
		} else if id, err = field(old, info.PrimaryKey); err != nil {
			return nil, err
		}
		key, err := primaryKey(id)
		if err != nil {
			return nil, withFrame(keyError(id, err), 0)
		}
		if t.Kind() == reql.TermUpdate && old == nil {
			w.skipped++
			continue
		}

		arg := old
		if arg == nil {
			arg = reql.NullDatum
		}
		patch, err := e.call(f, arg)
		if err != nil {
			var qe *queryError
			if errors.As(err, &qe) && qe.Type == reql.ResponseRuntimeError {
				w.fail(qe.Msg)
				continue
			}
			return nil, withFrame(err, 1)
		}
		doc := patch
		if t.Kind() == reql.TermUpdate {
			if patch.Kind() == reql.DatumNull {
				w.unchanged++
				w.change(old, old, false)
				continue
			}
			if _, ok := patch.(reql.Object); !ok {
				w.fail(fmt.Sprintf("Expected type OBJECT but found %s.", patch.TypeName()))
				continue
			}
			if doc, err = mergeDatum(old, patch); err != nil {
				return nil, err
			}
		} else {
			doc = stripLiterals(doc)
		}
		if err := e.applyReplacement(w, info, id, key, old, doc); err != nil {
			return nil, err
		}
	}
	return w.datum(), nil
}

func (e *evaluator) delete(t reql.Term) (any, error) {
	info, keys, rows, err := e.selectionRows(t)
	if err != nil {
		return nil, err
	}
	w, err := e.newWriteResult(t)
	if err != nil {
		return nil, err
	}
	for i, old := range rows {
		if old == nil {
			w.skipped++
			continue
		}
		var id reql.Datum
		if keys != nil {
			id = keys[i]
		} else if id, err = field(old, info.PrimaryKey); err != nil {
			return nil, err
		}
		key, err := primaryKey(id)
		if err != nil {
			return nil, withFrame(keyError(id, err), 0)
		}
		if err := e.remove(info, key, old); err != nil {
			return nil, err
		}
		w.deleted++
		w.change(old, nil, true)
	}
	return w.datum(), nil
}

// deterministic reports whether evaluating t twice is guaranteed to give the
// same result.
func deterministic(t reql.Term) bool {
	switch t.Kind() {
	case reql.TermRandom, reql.TermJavaScript, reql.TermHTTP, reql.TermTable, reql.TermDB, reql.TermSample:
		return false
	case reql.TermUUID:
		if len(t.Args()) == 0 {
			return false
		}
	}
	for _, a := range t.Args() {
		if !deterministic(a) {
			return false
		}
	}
	for _, name := range t.OptArgNames() {
		o, _ := t.OptArg(name)
		if !deterministic(o) {
			return false
		}
	}
	return true
}

func (e *evaluator) forEach(t reql.Term) (any, error) {
	seq, err := e.argSeq(t, 0)
	if err != nil {
		return nil, err
	}
	f, err := e.argFunc(t, 1)
	if err != nil {
		return nil, err
	}
	acc := reql.Object{}
	for _, row := range seq.items {
		d, err := e.call(f, row)
		if err != nil {
			return nil, withFrame(err, 1)
		}
		results := []reql.Datum{d}
		if arr, ok := d.(reql.Array); ok {
			results = arr
		}
		for _, r := range results {
			obj, ok := r.(reql.Object)
			if !ok {
				return nil, withFrame(logicErrf("FOR_EACH expects one or more basic write queries."), 1)
			}
			acc = sumWriteResults(acc, obj)
		}
	}
	return acc, nil
}

// sumWriteResults combines two write summaries: counters add up, lists
// concatenate, and the first error wins.
func sumWriteResults(a, b reql.Object) reql.Object {
	out := maps.Clone(a)
	for k, bv := range b {
		av, ok := out[k]
		if !ok {
			out[k] = bv
			continue
		}
		switch av := av.(type) {
		case reql.Number:
			if bn, ok := bv.(reql.Number); ok {
				out[k] = av + bn
			}
		case reql.Array:
			if ba, ok := bv.(reql.Array); ok {
				out[k] = append(append(reql.Array{}, av...), ba...)
			}
		}
	}
	return out
}
