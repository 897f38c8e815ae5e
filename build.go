package reql

import (
	"github.com/goccy/go-json"
)

// Build converts a Term into its wire form: [kind, [args...], {optargs...}] for
// commands, plain JSON for literals, with arrays sent as MAKE_ARRAY commands.
// Row references are bound to the variable of their enclosing function.
//
// The result only holds []any, map[string]any, float64, string, bool and nil.
func Build(t Term) (any, error) {
	if err := t.Err(); err != nil {
		return nil, err
	}
	if t.rowFree {
		return nil, buildErrf(t.kind, ErrUnboundRow, "pass it to a command taking a function, or use Func1")
	}
	return build(t, 0), nil
}

func (t Term) MarshalJSON() ([]byte, error) {
	v, err := Build(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// build expects a validated tree. row is the parameter that Row binds to.
func build(t Term, row int64) any {
	switch t.kind {
	case TermDatum:
		return buildRaw(EncodeDatum(t.datum))
	case TermImplicitVar:
		return []any{int(TermVar), []any{float64(row)}}
	case TermMakeObj:
		m := make(map[string]any, len(t.opts))
		for k, v := range t.opts {
			m[k] = build(v, row)
		}
		return m
	case TermFunc:
		var inner int64
		if t.args[1].rowFree {
			ids, _ := funcParams(t.args[0])
			inner = ids[0]
		}
		return []any{int(TermFunc), []any{build(t.args[0], 0), build(t.args[1], inner)}}
	}

	args := make([]any, len(t.args))
	for i, a := range t.args {
		args[i] = build(a, row)
	}
	if len(t.opts) == 0 {
		return []any{int(t.kind), args}
	}
	opts := make(map[string]any, len(t.opts))
	for k, v := range t.opts {
		opts[k] = build(v, row)
	}
	return []any{int(t.kind), args, opts}
}

// buildRaw turns JSON arrays inside a literal into MAKE_ARRAY commands, since a
// bare array in a query would be read as a command.
func buildRaw(v any) any {
	switch v := v.(type) {
	case []any:
		elems := make([]any, len(v))
		for i, el := range v {
			elems[i] = buildRaw(el)
		}
		return []any{int(TermMakeArray), elems}
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, el := range v {
			m[k] = buildRaw(el)
		}
		return m
	default:
		return v
	}
}
