package reql

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ParseTerm reads a query term in wire form, as produced by Build and
// MarshalJSON. Literal arrays and objects are folded back into DATUM terms, so
// parsing the output of Build yields the same tree that was built.
func ParseTerm(raw []byte) (Term, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Term{}, fmt.Errorf("reql: parse term: %w", err)
	}
	t, err := TermFromWire(v)
	if err != nil {
		return Term{}, err
	}
	return t, t.Err()
}

// TermFromWire converts an already decoded wire form into a Term.
func TermFromWire(v any) (Term, error) {
	switch v := v.(type) {
	case []any:
		return parseCommand(v)
	case map[string]any:
		fields := make(map[string]Term, len(v))
		for k, el := range v {
			t, err := TermFromWire(el)
			if err != nil {
				return Term{}, err
			}
			fields[k] = t
		}
		t := objectTerm(fields)
		if d, ok := t.Datum(); ok {
			obj := d.(Object)
			if obj.pseudoType() != "" {
				pd, err := decodePseudo(obj, nativeFormats)
				if err != nil {
					return Term{}, buildErrf(TermDatum, ErrInvalidValue, "%v", err)
				}
				return datumTerm(pd), nil
			}
		}
		return t, nil
	default:
		d, err := decodeDatum(v, nativeFormats)
		if err != nil {
			return Term{}, buildErrf(TermDatum, ErrInvalidValue, "%v", err)
		}
		return datumTerm(d), nil
	}
}

func parseCommand(v []any) (Term, error) {
	if len(v) < 1 || len(v) > 3 {
		return Term{}, buildErrf(0, ErrInvalidTerm, "command must have 1 to 3 elements, got %d", len(v))
	}
	n, err := decodeDatum(v[0], nativeFormats)
	if err != nil {
		return Term{}, buildErrf(0, ErrInvalidTerm, "%v", err)
	}
	num, ok := n.(Number)
	if !ok {
		return Term{}, buildErrf(0, ErrInvalidTerm, "command kind must be a number, got %s", n.TypeName())
	}
	kind := TermKind(num)
	if !kind.Valid() || kind == TermDatum {
		return Term{}, buildErrf(kind, ErrInvalidTerm, "unknown term kind %v", float64(num))
	}

	var args []Term
	if len(v) > 1 {
		rawArgs, ok := v[1].([]any)
		if !ok {
			return Term{}, buildErrf(kind, ErrInvalidTerm, "arguments must be an array")
		}
		args = make([]Term, len(rawArgs))
		for i, a := range rawArgs {
			if args[i], err = TermFromWire(a); err != nil {
				return Term{}, err
			}
		}
	}
	var opts map[string]Term
	if len(v) > 2 {
		rawOpts, ok := v[2].(map[string]any)
		if !ok {
			return Term{}, buildErrf(kind, ErrInvalidTerm, "optional arguments must be an object")
		}
		if len(rawOpts) > 0 {
			opts = make(map[string]Term, len(rawOpts))
			for k, o := range rawOpts {
				if opts[k], err = TermFromWire(o); err != nil {
					return Term{}, err
				}
			}
		}
	}

	if kind == TermMakeArray && len(opts) == 0 {
		return arrayTerm(args), nil
	}
	return newTerm(kind, args, opts), nil
}
