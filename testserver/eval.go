package testserver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/internal/changefeed"
)

// Values produced while evaluating a query. Datums are plain reql.Datum.
type (
	dbVal struct {
		name string
	}

	tableVal struct {
		info *tableInfo
	}

	// rowVal is a single-document selection; doc is nil when the key is absent.
	rowVal struct {
		table *tableInfo
		key   reql.Datum
		doc   reql.Datum
	}

	// seqVal is a materialized sequence. A non-nil table marks a selection,
	// whose items are whole documents of that table.
	seqVal struct {
		items  []reql.Datum
		table  *tableInfo
		stream bool
	}

	funcVal struct {
		params []int64
		body   reql.Term
		// A non-function argument where a function is expected acts as a
		// function returning it.
		constant reql.Datum
	}
)

type pendingChange struct {
	table *tableInfo
	chg   changefeed.Change
}

// evaluator runs one query. It is confined to the goroutine holding
// Server.execMu.
type evaluator struct {
	s   *Server
	ctx context.Context
	tx  storageTx
	cat *catalog

	catDirty bool
	wrote    bool
	db       string
	vars     map[int64]reql.Datum
	now      reql.Time
	changes  []pendingChange
	dropped  []*tableInfo
	depth    int
}

const maxEvalDepth = 1000

func (e *evaluator) eval(t reql.Term) (any, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, opFailedErrf("Query interrupted: %v", err)
	}
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxEvalDepth {
		return nil, runtimeErrf(reql.ErrorResourceLimit, "Maximum expression depth exceeded")
	}

	t, err := e.spliceArgs(t)
	if err != nil {
		return nil, err
	}

	switch t.Kind() {
	case reql.TermDatum:
		d, _ := t.Datum()
		return d, nil
	case reql.TermMakeArray:
		arr := make(reql.Array, len(t.Args()))
		for i := range t.Args() {
			if arr[i], err = e.argDatum(t, i); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case reql.TermMakeObj:
		obj := make(reql.Object)
		for _, name := range t.OptArgNames() {
			d, err := e.optDatum(t, name)
			if err != nil {
				return nil, err
			}
			obj[name] = d
		}
		return obj, nil
	case reql.TermVar:
		id, err := e.argNumber(t, 0)
		if err != nil {
			return nil, err
		}
		d, ok := e.vars[int64(id)]
		if !ok {
			return nil, compileErrf("Variable name not found.")
		}
		return d, nil
	case reql.TermImplicitVar:
		return nil, compileErrf("Cannot use r.row in nested queries.  Use functions instead.")
	case reql.TermFunc:
		return e.function(t)
	case reql.TermFuncCall:
		return e.evalFuncCall(t)
	case reql.TermBranch:
		return e.evalBranch(t)
	case reql.TermOr, reql.TermAnd:
		return e.evalLogic(t)
	case reql.TermNot:
		d, err := e.argDatum(t, 0)
		if err != nil {
			return nil, err
		}
		return reql.Bool(!reql.Truthy(d)), nil
	case reql.TermError:
		if len(t.Args()) == 0 {
			return nil, logicErrf("Empty ERROR term outside a default block.")
		}
		msg, err := e.argString(t, 0)
		if err != nil {
			return nil, err
		}
		return nil, runtimeErrf(reql.ErrorUser, "%s", msg)
	case reql.TermDefault:
		return e.evalDefault(t)
	case reql.TermMinVal, reql.TermMaxVal:
		return boundVal(t.Kind()), nil
	case reql.TermAsc, reql.TermDesc:
		return nil, logicErrf("%s may only be used as an argument to ORDER_BY.", t.Kind())
	case reql.TermLiteral:
		lit := reql.Object{reql.PseudoTypeKey: reql.String(pseudoLiteral)}
		if len(t.Args()) > 0 {
			d, err := e.argDatum(t, 0)
			if err != nil {
				return nil, err
			}
			lit["value"] = d
		}
		return lit, nil
	case reql.TermUUID:
		return e.evalUUID(t)
	case reql.TermRandom:
		return e.evalRandom(t)
	case reql.TermRange:
		return e.evalRange(t)
	case reql.TermJSON:
		s, err := e.argString(t, 0)
		if err != nil {
			return nil, err
		}
		d, err := reql.UnmarshalDatum([]byte(s))
		if err != nil {
			return nil, logicErrf("Failed to parse \"%s\" as JSON: %v", s, err)
		}
		return d, nil
	case reql.TermToJSONString:
		d, err := e.argDatum(t, 0)
		if err != nil {
			return nil, err
		}
		raw, err := reql.MarshalDatum(d)
		if err != nil {
			return nil, logicErrf("%v", err)
		}
		return reql.String(raw), nil
	case reql.TermBinary:
		d, err := e.argDatum(t, 0)
		if err != nil {
			return nil, err
		}
		switch v := d.(type) {
		case reql.Binary:
			return v, nil
		case reql.String:
			return reql.Binary(v), nil
		default:
			return nil, logicErrf("Expected type STRING but found %s.", d.TypeName())
		}
	case reql.TermCoerceTo:
		return e.evalCoerceTo(t)
	case reql.TermTypeOf:
		v, err := e.arg(t, 0)
		if err != nil {
			return nil, err
		}
		return reql.String(typeName(v)), nil
	case reql.TermInfo:
		return e.evalInfo(t)
	case reql.TermJavaScript, reql.TermHTTP:
		return nil, logicErrf("%s is not supported by this server.", t.Kind())
	case reql.TermGeoJSON, reql.TermToGeoJSON, reql.TermPoint, reql.TermLine, reql.TermPolygon,
		reql.TermDistance, reql.TermIntersects, reql.TermIncludes, reql.TermCircle,
		reql.TermGetIntersecting, reql.TermFill, reql.TermGetNearest, reql.TermPolygonSub:
		return nil, logicErrf("Geospatial command %s is not supported by this server.", t.Kind())
	}

	for _, family := range []func(*evaluator, reql.Term) (any, bool, error){
		(*evaluator).evalMath,
		(*evaluator).evalDoc,
		(*evaluator).evalTime,
		(*evaluator).evalTable,
		(*evaluator).evalWrite,
		(*evaluator).evalSeq,
		(*evaluator).evalFeed,
	} {
		if v, ok, err := family(e, t); ok {
			return v, err
		}
	}
	return nil, compileErrf("Unrecognized TermType %d.", int(t.Kind()))
}

// spliceArgs expands r.args() arguments into positional arguments.
func (e *evaluator) spliceArgs(t reql.Term) (reql.Term, error) {
	if !slices.ContainsFunc(t.Args(), func(a reql.Term) bool { return a.Kind() == reql.TermArgs }) {
		return t, nil
	}
	var args []reql.Term
	for i, a := range t.Args() {
		if a.Kind() != reql.TermArgs {
			args = append(args, a)
			continue
		}
		d, err := e.argDatum(a, 0)
		if err != nil {
			return t, withFrame(err, i)
		}
		arr, ok := d.(reql.Array)
		if !ok {
			return t, withFrame(logicErrf("Expected type ARRAY but found %s.", d.TypeName()), i)
		}
		for _, el := range arr {
			args = append(args, reql.Expr(el))
		}
	}
	nt := reql.NewTerm(t.Kind(), args, optArgs(t))
	if err := nt.Err(); err != nil {
		return t, compileErrf("%v", err)
	}
	return nt, nil
}

func optArgs(t reql.Term) map[string]reql.Term {
	opts := make(map[string]reql.Term)
	for _, name := range t.OptArgNames() {
		opts[name], _ = t.OptArg(name)
	}
	return opts
}

func (e *evaluator) arg(t reql.Term, i int) (any, error) {
	if i >= len(t.Args()) {
		return nil, compileErrf("%s: missing argument %d", t.Kind(), i)
	}
	v, err := e.eval(t.Args()[i])
	if err != nil {
		return nil, withFrame(err, i)
	}
	return v, nil
}

func (e *evaluator) argDatum(t reql.Term, i int) (reql.Datum, error) {
	v, err := e.arg(t, i)
	if err != nil {
		return nil, err
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, withFrame(err, i)
	}
	return d, nil
}

func (e *evaluator) argSeq(t reql.Term, i int) (*seqVal, error) {
	v, err := e.arg(t, i)
	if err != nil {
		return nil, err
	}
	seq, err := e.toSeq(v)
	if err != nil {
		return nil, withFrame(err, i)
	}
	return seq, nil
}

func (e *evaluator) argString(t reql.Term, i int) (string, error) {
	d, err := e.argDatum(t, i)
	if err != nil {
		return "", err
	}
	s, ok := d.(reql.String)
	if !ok {
		return "", withFrame(logicErrf("Expected type STRING but found %s.", d.TypeName()), i)
	}
	return string(s), nil
}

func (e *evaluator) argNumber(t reql.Term, i int) (float64, error) {
	d, err := e.argDatum(t, i)
	if err != nil {
		return 0, err
	}
	n, ok := d.(reql.Number)
	if !ok {
		return 0, withFrame(logicErrf("Expected type NUMBER but found %s.", d.TypeName()), i)
	}
	return float64(n), nil
}

func (e *evaluator) argInt(t reql.Term, i int) (int, error) {
	n, err := e.argNumber(t, i)
	if err != nil {
		return 0, err
	}
	if n != float64(int(n)) {
		return 0, withFrame(logicErrf("Number not an integer: %v", n), i)
	}
	return int(n), nil
}

// argFunc evaluates argument i as a function of arity parameters.
func (e *evaluator) argFunc(t reql.Term, i int) (*funcVal, error) {
	if i >= len(t.Args()) {
		return nil, compileErrf("%s: missing argument %d", t.Kind(), i)
	}
	return e.termFunc(t.Args()[i], i)
}

func (e *evaluator) termFunc(a reql.Term, frame any) (*funcVal, error) {
	if a.Kind() == reql.TermFunc {
		f, err := e.function(a)
		if err != nil {
			return nil, withFrame(err, frame)
		}
		return f, nil
	}
	v, err := e.eval(a)
	if err != nil {
		return nil, withFrame(err, frame)
	}
	if f, ok := v.(*funcVal); ok {
		return f, nil
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, withFrame(err, frame)
	}
	return &funcVal{constant: d}, nil
}

func (e *evaluator) opt(t reql.Term, name string) (any, bool, error) {
	o, ok := t.OptArg(name)
	if !ok {
		return nil, false, nil
	}
	v, err := e.eval(o)
	if err != nil {
		return nil, true, withFrame(err, name)
	}
	return v, true, nil
}

func (e *evaluator) optDatum(t reql.Term, name string) (reql.Datum, error) {
	v, _, err := e.opt(t, name)
	if err != nil || v == nil {
		return nil, err
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, withFrame(err, name)
	}
	return d, nil
}

func (e *evaluator) optString(t reql.Term, name, def string) (string, error) {
	d, err := e.optDatum(t, name)
	if err != nil || d == nil {
		return def, err
	}
	s, ok := d.(reql.String)
	if !ok {
		return "", withFrame(logicErrf("Expected type STRING but found %s.", d.TypeName()), name)
	}
	return string(s), nil
}

func (e *evaluator) optBool(t reql.Term, name string, def bool) (bool, error) {
	d, err := e.optDatum(t, name)
	if err != nil || d == nil {
		return def, err
	}
	b, ok := d.(reql.Bool)
	if !ok {
		return false, withFrame(logicErrf("Expected type BOOL but found %s.", d.TypeName()), name)
	}
	return bool(b), nil
}

func (e *evaluator) toDatum(v any) (reql.Datum, error) {
	switch v := v.(type) {
	case reql.Datum:
		return v, nil
	case *rowVal:
		if v.doc == nil {
			return reql.NullDatum, nil
		}
		return v.doc, nil
	case *seqVal:
		return reql.Array(v.items), nil
	case *tableVal:
		seq, err := e.scanTable(v.info, rangeOO())
		if err != nil {
			return nil, err
		}
		return reql.Array(seq.items), nil
	default:
		return nil, logicErrf("Expected type DATUM but found %s.", typeName(v))
	}
}

func (e *evaluator) toSeq(v any) (*seqVal, error) {
	switch v := v.(type) {
	case *seqVal:
		return v, nil
	case *tableVal:
		return e.scanTable(v.info, rangeOO())
	case reql.Array:
		return &seqVal{items: v}, nil
	case reql.Datum:
		return nil, logicErrf("Cannot convert %s to SEQUENCE", v.TypeName())
	default:
		return nil, logicErrf("Expected type SEQUENCE but found %s.", typeName(v))
	}
}

func typeName(v any) string {
	switch v := v.(type) {
	case reql.Datum:
		return v.TypeName()
	case *dbVal:
		return "DB"
	case *tableVal:
		return "TABLE"
	case *rowVal:
		return "SELECTION<OBJECT>"
	case *seqVal:
		if v.table != nil {
			return "SELECTION<STREAM>"
		}
		if v.stream {
			return "STREAM"
		}
		return "ARRAY"
	case *funcVal:
		return "FUNCTION"
	case *feedVal:
		return "STREAM"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (e *evaluator) function(t reql.Term) (*funcVal, error) {
	params, ok := t.Params()
	if !ok {
		return nil, compileErrf("Malformed FUNC term.")
	}
	return &funcVal{params: params, body: t.Args()[1]}, nil
}

// call applies f. Parameters shadow outer variables of the same id for the
// duration of the call.
func (e *evaluator) call(f *funcVal, args ...reql.Datum) (reql.Datum, error) {
	if f.body.Kind() == 0 {
		return f.constant, nil
	}
	if len(f.params) != len(args) && !(len(f.params) == 1 && len(args) > 1) {
		return nil, logicErrf("Expected function with %d arguments but found function with %d argument%s.",
			len(args), len(f.params), plural(len(f.params)))
	}
	if len(f.params) == 1 && len(args) > 1 {
		args = []reql.Datum{reql.Array(args)}
	}
	saved := make(map[int64]reql.Datum, len(f.params))
	for i, id := range f.params {
		if old, ok := e.vars[id]; ok {
			saved[id] = old
		}
		e.vars[id] = args[i]
	}
	defer func() {
		for _, id := range f.params {
			if old, ok := saved[id]; ok {
				e.vars[id] = old
			} else {
				delete(e.vars, id)
			}
		}
	}()
	v, err := e.eval(f.body)
	if err != nil {
		return nil, withFrame(err, 1)
	}
	return e.toDatum(v)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// predicate applies a filter-style function: objects match by field subset,
// functions by truthiness.
func (e *evaluator) predicate(f *funcVal, row reql.Datum) (bool, error) {
	if f.body.Kind() == 0 {
		if pattern, ok := f.constant.(reql.Object); ok {
			return matchesPattern(row, pattern), nil
		}
		return reql.Truthy(f.constant), nil
	}
	d, err := e.call(f, row)
	if err != nil {
		return false, err
	}
	return reql.Truthy(d), nil
}

func matchesPattern(row reql.Datum, pattern reql.Object) bool {
	obj, ok := row.(reql.Object)
	if !ok {
		return false
	}
	for k, want := range pattern {
		got, ok := obj[k]
		if !ok {
			return false
		}
		if sub, ok := want.(reql.Object); ok {
			if !matchesPattern(got, sub) {
				return false
			}
		} else if !reql.Equal(got, want) {
			return false
		}
	}
	return true
}

func (e *evaluator) evalFuncCall(t reql.Term) (any, error) {
	f, err := e.argFunc(t, 0)
	if err != nil {
		return nil, err
	}
	args := make([]reql.Datum, len(t.Args())-1)
	for i := range args {
		if args[i], err = e.argDatum(t, i+1); err != nil {
			return nil, err
		}
	}
	d, err := e.call(f, args...)
	if err != nil {
		return nil, withFrame(err, 0)
	}
	return d, nil
}

func (e *evaluator) evalBranch(t reql.Term) (any, error) {
	n := len(t.Args())
	if n < 3 || n%2 == 0 {
		return nil, compileErrf("Cannot call `branch` term with an even number of arguments.")
	}
	for i := 0; i+1 < n; i += 2 {
		cond, err := e.argDatum(t, i)
		if err != nil {
			return nil, err
		}
		if reql.Truthy(cond) {
			return e.arg(t, i+1)
		}
	}
	return e.arg(t, n-1)
}

func (e *evaluator) evalLogic(t reql.Term) (any, error) {
	isOr := t.Kind() == reql.TermOr
	var last reql.Datum = reql.Bool(!isOr)
	for i := range t.Args() {
		d, err := e.argDatum(t, i)
		if err != nil {
			return nil, err
		}
		last = d
		if reql.Truthy(d) == isOr {
			return d, nil
		}
	}
	return last, nil
}

// evalDefault returns the fallback when the value is null or missing.
func (e *evaluator) evalDefault(t reql.Term) (any, error) {
	v, err := e.arg(t, 0)
	var d reql.Datum
	if err == nil {
		if d, err = e.toDatum(v); err == nil && d.Kind() != reql.DatumNull {
			return v, nil
		}
	}
	if err != nil && !isNonExistence(err) {
		return nil, err
	}
	fallback := t.Args()[1]
	if fallback.Kind() == reql.TermFunc {
		f, ferr := e.function(fallback)
		if ferr != nil {
			return nil, withFrame(ferr, 1)
		}
		var msg reql.Datum = reql.NullDatum
		if err != nil {
			msg = reql.String(asQueryError(err).Msg)
		}
		r, ferr := e.call(f, msg)
		return r, withFrame(ferr, 1)
	}
	if fallback.Kind() == reql.TermError && len(fallback.Args()) == 0 && err != nil {
		return nil, err
	}
	return e.arg(t, 1)
}

func boundVal(kind reql.TermKind) reql.Datum {
	if kind == reql.TermMinVal {
		return reql.Object{reql.PseudoTypeKey: reql.String(reql.PseudoMinVal)}
	}
	return reql.Object{reql.PseudoTypeKey: reql.String(reql.PseudoMaxVal)}
}

func isBound(d reql.Datum, which string) bool {
	obj, ok := d.(reql.Object)
	if !ok || len(obj) != 1 {
		return false
	}
	s, ok := obj[reql.PseudoTypeKey].(reql.String)
	return ok && string(s) == which
}

func (e *evaluator) evalUUID(t reql.Term) (any, error) {
	if len(t.Args()) == 0 {
		return reql.String(uuid.NewString()), nil
	}
	s, err := e.argString(t, 0)
	if err != nil {
		return nil, err
	}
	// Named UUIDs are version 5 in the RethinkDB namespace.
	return reql.String(uuid.NewSHA1(rethinkNamespace, []byte(s)).String()), nil
}

var rethinkNamespace = uuid.MustParse("91461c99-f89d-49d2-af96-d8e2e14e9b58")

func (e *evaluator) evalRandom(t reql.Term) (any, error) {
	isFloat, err := e.optBool(t, "float", false)
	if err != nil {
		return nil, err
	}
	lo, hi := 0.0, 1.0
	switch len(t.Args()) {
	case 0:
		return reql.Number(rand.Float64()), nil
	case 1:
		if hi, err = e.argNumber(t, 0); err != nil {
			return nil, err
		}
	default:
		if lo, err = e.argNumber(t, 0); err != nil {
			return nil, err
		}
		if hi, err = e.argNumber(t, 1); err != nil {
			return nil, err
		}
	}
	if isFloat {
		return reql.Number(lo + rand.Float64()*(hi-lo)), nil
	}
	if lo != float64(int64(lo)) || hi != float64(int64(hi)) {
		return nil, logicErrf("Bounds (%v, %v) are not integers; pass float: true for a float result.", lo, hi)
	}
	if hi <= lo {
		return nil, logicErrf("Lower bound (%v) is not less than upper bound (%v).", lo, hi)
	}
	return reql.Number(int64(lo) + rand.Int64N(int64(hi)-int64(lo))), nil
}

const maxRange = 100000

func (e *evaluator) evalRange(t reql.Term) (any, error) {
	lo, hi := 0, maxRange
	var err error
	switch len(t.Args()) {
	case 0:
	case 1:
		if hi, err = e.argInt(t, 0); err != nil {
			return nil, err
		}
	default:
		if lo, err = e.argInt(t, 0); err != nil {
			return nil, err
		}
		if hi, err = e.argInt(t, 1); err != nil {
			return nil, err
		}
	}
	if hi-lo > maxRange {
		return nil, runtimeErrf(reql.ErrorResourceLimit, "Range of %d elements is too large for this server.", hi-lo)
	}
	seq := &seqVal{stream: true}
	for i := lo; i < hi; i++ {
		seq.items = append(seq.items, reql.Number(i))
	}
	return seq, nil
}

func (e *evaluator) evalCoerceTo(t reql.Term) (any, error) {
	v, err := e.arg(t, 0)
	if err != nil {
		return nil, err
	}
	target, err := e.argString(t, 1)
	if err != nil {
		return nil, err
	}
	d, err := e.toDatum(v)
	if err != nil {
		return nil, err
	}
	switch upper(target) {
	case "ARRAY":
		switch d := d.(type) {
		case reql.Array:
			return d, nil
		case reql.Object:
			arr := reql.Array{}
			for _, k := range d.SortedKeys() {
				arr = append(arr, reql.Array{reql.String(k), d[k]})
			}
			return arr, nil
		}
	case "OBJECT":
		switch d := d.(type) {
		case reql.Object:
			return d, nil
		case reql.Array:
			obj := reql.Object{}
			for _, el := range d {
				pair, ok := el.(reql.Array)
				if !ok || len(pair) != 2 {
					return nil, logicErrf("Expected array of size 2, but got size %d.", len(pair))
				}
				k, ok := pair[0].(reql.String)
				if !ok {
					return nil, logicErrf("Expected type STRING but found %s.", pair[0].TypeName())
				}
				obj[string(k)] = pair[1]
			}
			return obj, nil
		}
	case "STRING":
		if s, ok := d.(reql.String); ok {
			return s, nil
		}
		raw, err := reql.MarshalDatum(d)
		if err != nil {
			return nil, logicErrf("%v", err)
		}
		return reql.String(raw), nil
	case "NUMBER":
		switch d := d.(type) {
		case reql.Number:
			return d, nil
		case reql.String:
			var f float64
			if err := json.Unmarshal([]byte(d), &f); err != nil {
				return nil, logicErrf("Could not coerce `%s` to NUMBER.", string(d))
			}
			return reql.Number(f), nil
		}
	case "BOOL":
		return reql.Bool(reql.Truthy(d)), nil
	case "BINARY":
		switch d := d.(type) {
		case reql.Binary:
			return d, nil
		case reql.String:
			return reql.Binary(d), nil
		}
	case "NULL":
		if d.Kind() == reql.DatumNull {
			return d, nil
		}
	}
	if upper(target) == d.TypeName() {
		return d, nil
	}
	return nil, logicErrf("Cannot coerce %s to %s.", d.TypeName(), upper(target))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func (e *evaluator) evalInfo(t reql.Term) (any, error) {
	v, err := e.arg(t, 0)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case *dbVal:
		return reql.Object{"type": reql.String("DB"), "name": reql.String(v.name), "id": reql.String(e.cat.DBs[v.name].ID)}, nil
	case *tableVal:
		idx := reql.Array{}
		for _, name := range v.info.indexNames() {
			idx = append(idx, reql.String(name))
		}
		return reql.Object{
			"type":        reql.String("TABLE"),
			"name":        reql.String(v.info.Name),
			"id":          reql.String(v.info.ID),
			"primary_key": reql.String(v.info.PrimaryKey),
			"indexes":     idx,
			"db":          reql.Object{"type": reql.String("DB"), "name": reql.String(v.info.DB), "id": reql.String(e.cat.DBs[v.info.DB].ID)},
		}, nil
	default:
		d, err := e.toDatum(v)
		if err != nil {
			return nil, err
		}
		raw, _ := reql.MarshalDatum(d)
		return reql.Object{"type": reql.String(typeName(v)), "value": reql.String(raw)}, nil
	}
}
