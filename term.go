package reql

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

// Term is a node of a query tree. Terms are immutable and can be shared
// between goroutines and reused in any number of queries.
//
// The zero Term is invalid; terms are made by Expr and the builder functions.
type Term struct {
	kind  TermKind
	args  []Term
	opts  map[string]Term
	datum Datum
	err   error

	// rowFree is set when the tree has a Row not yet enclosed by a function.
	rowFree bool
	// rowInFunc is set when the tree has a function whose body uses Row.
	rowInFunc bool
}

func (t Term) Kind() TermKind { return t.kind }

// Args returns the positional arguments. The slice must not be modified.
func (t Term) Args() []Term { return t.args }

// OptArg returns the value of an optional argument.
func (t Term) OptArg(name string) (Term, bool) {
	v, ok := t.opts[name]
	return v, ok
}

func (t Term) OptArgNames() []string {
	return slices.Sorted(maps.Keys(t.opts))
}

// Datum returns the literal value of a DATUM term.
func (t Term) Datum() (Datum, bool) {
	if t.kind != TermDatum {
		return nil, false
	}
	return t.datum, true
}

// Err returns the first construction error of the tree.
func (t Term) Err() error {
	if t.kind == 0 && t.err == nil {
		return buildErrf(0, ErrInvalidTerm, "uninitialized Term")
	}
	return t.err
}

func datumTerm(d Datum) Term {
	if d == nil {
		d = NullDatum
	}
	return Term{kind: TermDatum, datum: d}
}

func errTerm(kind TermKind, err error) Term {
	return Term{kind: kind, err: err}
}

// NewTerm assembles a command from already built arguments. It applies the
// same validation as the builders; check the result with Err.
func NewTerm(kind TermKind, args []Term, opts map[string]Term) Term {
	if kind == TermDatum {
		return errTerm(kind, buildErrf(kind, ErrInvalidTerm, "use Expr for literals"))
	}
	return newTerm(kind, args, opts)
}

// newTerm validates arity and optional argument names against the command
// table, and propagates construction errors and Row tracking from children.
func newTerm(kind TermKind, args []Term, opts map[string]Term) Term {
	t := Term{kind: kind, args: args, opts: opts}
	info, ok := termInfos[kind]
	if !ok {
		t.err = buildErrf(kind, ErrInvalidTerm, "unknown term kind %d", int(kind))
		return t
	}

	spliced := false
	for _, a := range args {
		if t.err == nil {
			t.err = a.Err()
		}
		if a.kind == TermArgs {
			spliced = true
		}
		t.rowFree = t.rowFree || a.rowFree
		t.rowInFunc = t.rowInFunc || a.rowInFunc
	}
	for _, name := range t.OptArgNames() {
		v := opts[name]
		if t.err == nil {
			t.err = v.Err()
		}
		if t.err == nil && kind != TermMakeObj && !kind.AllowsOptArg(name) {
			t.err = buildErrf(kind, ErrUnknownOptArg, "%q", name)
		}
		t.rowFree = t.rowFree || v.rowFree
		t.rowInFunc = t.rowInFunc || v.rowInFunc
	}
	if t.err != nil {
		return t
	}

	if !spliced {
		n := len(args)
		if n < info.minArgs || (info.maxArgs != variadic && n > info.maxArgs) {
			t.err = buildErrf(kind, ErrArity, "%s", arityMessage(info, n))
			return t
		}
	}

	switch kind {
	case TermImplicitVar:
		t.rowFree = true
	case TermFunc:
		if len(args) != 2 {
			t.err = buildErrf(kind, ErrArity, "function needs parameters and a body")
			return t
		}
		params, ok := funcParams(args[0])
		if !ok {
			t.err = buildErrf(kind, ErrInvalidTerm, "function parameters must be an array of variable ids")
			return t
		}
		body := args[1]
		if body.rowInFunc {
			t.err = buildErrf(kind, ErrNestedRow, "use Func1 for the inner function")
			return t
		}
		if body.rowFree && len(params) != 1 {
			t.err = buildErrf(kind, ErrNestedRow, "Row inside a function of %d parameters", len(params))
			return t
		}
		t.rowInFunc = body.rowFree
		t.rowFree = false
	}
	return t
}

func arityMessage(info termInfo, n int) string {
	switch {
	case info.maxArgs == variadic:
		return fmt.Sprintf("expected %d or more arguments but found %d", info.minArgs, n)
	case info.minArgs == info.maxArgs:
		return fmt.Sprintf("expected %d arguments but found %d", info.minArgs, n)
	default:
		return fmt.Sprintf("expected between %d and %d arguments but found %d", info.minArgs, info.maxArgs, n)
	}
}

// Params returns the variable ids of a FUNC term.
func (t Term) Params() ([]int64, bool) {
	if t.kind != TermFunc || len(t.args) != 2 {
		return nil, false
	}
	return funcParams(t.args[0])
}

func funcParams(t Term) ([]int64, bool) {
	var elems []Term
	switch t.kind {
	case TermDatum:
		arr, ok := t.datum.(Array)
		if !ok {
			return nil, false
		}
		ids := make([]int64, len(arr))
		for i, d := range arr {
			n, ok := d.(Number)
			if !ok {
				return nil, false
			}
			ids[i] = int64(n)
		}
		return ids, true
	case TermMakeArray:
		elems = t.args
	default:
		return nil, false
	}
	ids := make([]int64, len(elems))
	for i, e := range elems {
		d, ok := e.Datum()
		if !ok {
			return nil, false
		}
		n, ok := d.(Number)
		if !ok {
			return nil, false
		}
		ids[i] = int64(n)
	}
	return ids, true
}

const noFuncs = math.MaxInt

// mk builds a command from arbitrary Go values. Optional values among args are
// collected as optional arguments.
func mk(kind TermKind, args ...any) Term {
	return construct(kind, noFuncs, args, nil)
}

// mkf is mk for commands whose positional arguments from index from on are
// functions. Row-bearing values there are wrapped into one-parameter functions.
func mkf(kind TermKind, from int, args ...any) Term {
	return construct(kind, from, args, nil)
}

func mkOpts(kind TermKind, opts []Optional, args ...any) Term {
	return construct(kind, noFuncs, args, opts)
}

func mkfOpts(kind TermKind, from int, opts []Optional, args ...any) Term {
	return construct(kind, from, args, opts)
}

func construct(kind TermKind, from int, args []any, extra []Optional) Term {
	pos, opts := splitOptionals(args)
	opts = append(opts, extra...)
	terms := make([]Term, len(pos))
	for i, a := range pos {
		if i >= from {
			terms[i] = funcWrap(a)
		} else {
			terms[i] = Expr(a)
		}
	}
	optTerms, err := optArgTerms(opts)
	if err != nil {
		return errTerm(kind, buildErrf(kind, ErrInvalidValue, "%v", err))
	}
	return newTerm(kind, terms, optTerms)
}

func (t Term) String() string {
	var buf strings.Builder
	t.format(&buf)
	return buf.String()
}

func (t Term) format(buf *strings.Builder) {
	switch t.kind {
	case 0:
		buf.WriteString("<invalid>")
		return
	case TermDatum:
		buf.WriteString(formatDatum(t.datum))
		return
	case TermImplicitVar:
		buf.WriteString("r.row")
		return
	case TermVar:
		if len(t.args) == 1 {
			if d, ok := t.args[0].Datum(); ok {
				fmt.Fprintf(buf, "var_%v", d.Interface())
				return
			}
		}
	case TermMakeArray:
		buf.WriteByte('[')
		for i, a := range t.args {
			if i > 0 {
				buf.WriteString(", ")
			}
			a.format(buf)
		}
		buf.WriteByte(']')
		return
	case TermMakeObj:
		buf.WriteByte('{')
		for i, k := range t.OptArgNames() {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(buf, "%q: ", k)
			t.opts[k].format(buf)
		}
		buf.WriteByte('}')
		return
	}
	buf.WriteString(strings.ToLower(t.kind.String()))
	buf.WriteByte('(')
	for i, a := range t.args {
		if i > 0 {
			buf.WriteString(", ")
		}
		a.format(buf)
	}
	for i, k := range t.OptArgNames() {
		if i > 0 || len(t.args) > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		t.opts[k].format(buf)
	}
	buf.WriteByte(')')
}

func formatDatum(d Datum) string {
	raw, err := json.Marshal(EncodeDatum(d))
	if err != nil {
		return fmt.Sprintf("%v", d.Interface())
	}
	return string(raw)
}
