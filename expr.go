package reql

import (
	"encoding"
	"reflect"
	"strings"
	"time"
)

// MaxNestingDepth bounds how deep Expr descends into Go values.
var MaxNestingDepth = 20

var (
	termType = reflect.TypeFor[Term]()
	timeType = reflect.TypeFor[time.Time]()
)

// Expr converts a Go value into a Term. Terms and Datums are used as is; nil,
// booleans, numbers, strings, []byte, time.Time, slices, maps with string keys,
// structs and functions taking and returning Terms are converted. Slices, maps
// and structs become a single DATUM unless they contain non-literal Terms.
func Expr(v any) Term {
	return exprValue(v, MaxNestingDepth)
}

// DatumOf converts a Go value into a Datum. Values that would need a query to
// compute, like Terms other than literals or functions, are rejected.
func DatumOf(v any) (Datum, error) {
	t := Expr(v)
	if err := t.Err(); err != nil {
		return nil, err
	}
	d, ok := t.Datum()
	if !ok {
		return nil, buildErrf(0, ErrInvalidValue, "%s is not a literal value", t)
	}
	return d, nil
}

func exprValue(v any, depth int) Term {
	if depth <= 0 {
		return errTerm(TermDatum, buildErrf(TermDatum, ErrInvalidValue, "nesting depth limit exceeded"))
	}
	switch v := v.(type) {
	case Term:
		return v
	case *Term:
		if v == nil {
			return datumTerm(NullDatum)
		}
		return *v
	case Datum:
		return datumTerm(v)
	case nil:
		return datumTerm(NullDatum)
	case bool:
		return datumTerm(Bool(v))
	case string:
		return datumTerm(String(v))
	case []byte:
		if v == nil {
			return datumTerm(NullDatum)
		}
		return datumTerm(Binary(v))
	case time.Time:
		return datumTerm(NewTime(v))
	case float64:
		return numberTerm(v)
	case int:
		return datumTerm(Number(v))
	case int64:
		return datumTerm(Number(v))
	case func(Term) Term:
		return Func1(v)
	case func(Term, Term) Term:
		return Func2(v)
	case func(Term, Term, Term) Term:
		return Func3(v)
	case encoding.TextMarshaler:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return datumTerm(NullDatum)
		}
		text, err := v.MarshalText()
		if err != nil {
			return errTerm(TermDatum, buildErrf(TermDatum, ErrInvalidValue, "%T: %v", v, err))
		}
		return datumTerm(String(text))
	}
	return exprReflect(reflect.ValueOf(v), depth)
}

func numberTerm(f float64) Term {
	if err := checkNumber(f); err != nil {
		return errTerm(TermDatum, buildErrf(TermDatum, ErrInvalidValue, "%v", err))
	}
	return datumTerm(Number(f))
}

func exprReflect(rv reflect.Value, depth int) Term {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return datumTerm(NullDatum)
		}
		return exprValue(rv.Elem().Interface(), depth)
	case reflect.Bool:
		return datumTerm(Bool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return datumTerm(Number(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return datumTerm(Number(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return numberTerm(rv.Float())
	case reflect.String:
		return datumTerm(String(rv.String()))
	case reflect.Slice:
		if rv.IsNil() {
			return datumTerm(NullDatum)
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return datumTerm(Binary(rv.Bytes()))
		}
		fallthrough
	case reflect.Array:
		elems := make([]Term, rv.Len())
		for i := range elems {
			elems[i] = exprValue(rv.Index(i).Interface(), depth-1)
		}
		return arrayTerm(elems)
	case reflect.Map:
		if rv.IsNil() {
			return datumTerm(NullDatum)
		}
		if rv.Type().Key().Kind() != reflect.String {
			return errTerm(TermMakeObj, buildErrf(TermMakeObj, ErrInvalidValue, "map keys must be strings, got %v", rv.Type().Key()))
		}
		fields := make(map[string]Term, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = exprValue(iter.Value().Interface(), depth-1)
		}
		return objectTerm(fields)
	case reflect.Struct:
		fields := make(map[string]Term)
		if err := structFields(rv, depth, fields); err != nil {
			return errTerm(TermMakeObj, err)
		}
		return objectTerm(fields)
	case reflect.Func:
		return funcFromReflect(rv)
	default:
		return errTerm(TermDatum, buildErrf(TermDatum, ErrInvalidValue, "cannot convert %v", rv.Type()))
	}
}

// arrayTerm folds literal elements into one DATUM and otherwise makes a
// MAKE_ARRAY.
func arrayTerm(elems []Term) Term {
	arr := make(Array, len(elems))
	for i, e := range elems {
		d, ok := e.Datum()
		if !ok || e.err != nil {
			return newTerm(TermMakeArray, elems, nil)
		}
		arr[i] = d
	}
	return datumTerm(arr)
}

func objectTerm(fields map[string]Term) Term {
	obj := make(Object, len(fields))
	for k, e := range fields {
		d, ok := e.Datum()
		if !ok || e.err != nil {
			return newTerm(TermMakeObj, nil, fields)
		}
		obj[k] = d
	}
	return datumTerm(obj)
}

func structFields(rv reflect.Value, depth int, fields map[string]Term) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		name, omitEmpty, skip := fieldName(sf)
		if skip || !sf.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if sf.Anonymous && name == "" {
			for fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					break
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct && fv.Type() != timeType {
				if err := structFields(fv, depth, fields); err != nil {
					return err
				}
				continue
			}
		}
		if name == "" {
			name = sf.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		fields[name] = exprValue(fv.Interface(), depth-1)
	}
	return nil
}

// fieldName reads the reql tag, falling back to the json tag.
func fieldName(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := sf.Tag.Lookup("reql")
	if !ok {
		tag, ok = sf.Tag.Lookup("json")
	}
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	name, rest, _ := strings.Cut(tag, ",")
	for rest != "" {
		var opt string
		opt, rest, _ = strings.Cut(rest, ",")
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// funcFromReflect accepts any func whose parameters are all Terms and which
// returns a single value convertible by Expr.
func funcFromReflect(rv reflect.Value) Term {
	ft := rv.Type()
	if ft.IsVariadic() || ft.NumOut() != 1 {
		return errTerm(TermFunc, buildErrf(TermFunc, ErrInvalidValue, "cannot use %v as a function", ft))
	}
	for i := 0; i < ft.NumIn(); i++ {
		if ft.In(i) != termType {
			return errTerm(TermFunc, buildErrf(TermFunc, ErrInvalidValue, "function parameters must be Terms, got %v", ft))
		}
	}
	return FuncN(ft.NumIn(), func(params ...Term) Term {
		in := make([]reflect.Value, len(params))
		for i, p := range params {
			in[i] = reflect.ValueOf(p)
		}
		return Expr(rv.Call(in)[0].Interface())
	})
}

// funcWrap converts an argument of a function-taking command. A value using Row
// becomes a one-parameter function; everything else is converted by Expr.
func funcWrap(v any) Term {
	t := Expr(v)
	if t.kind != TermFunc && t.rowFree && t.err == nil {
		return makeFunc([]int64{nextVarID()}, t)
	}
	return t
}

// splitOptionals separates Optional values from positional arguments.
func splitOptionals(args []any) ([]any, []Optional) {
	n := 0
	for _, a := range args {
		if _, ok := a.(Optional); ok {
			n++
		}
	}
	if n == 0 {
		return args, nil
	}
	pos := make([]any, 0, len(args)-n)
	opts := make([]Optional, 0, n)
	for _, a := range args {
		if o, ok := a.(Optional); ok {
			opts = append(opts, o)
		} else {
			pos = append(pos, a)
		}
	}
	return pos, opts
}
