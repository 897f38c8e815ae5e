package testserver

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/andreyvit/reql"
)

func (e *evaluator) evalMath(t reql.Term) (any, bool, error) {
	var v any
	var err error
	switch t.Kind() {
	case reql.TermEq, reql.TermNe, reql.TermLt, reql.TermLe, reql.TermGt, reql.TermGe:
		v, err = e.evalCompare(t)
	case reql.TermAdd, reql.TermSub, reql.TermMul, reql.TermDiv:
		v, err = e.evalArith(t)
	case reql.TermMod:
		v, err = e.evalMod(t)
	case reql.TermFloor, reql.TermCeil, reql.TermRound:
		v, err = e.evalRounding(t)
	case reql.TermMatch:
		v, err = e.evalMatch(t)
	case reql.TermUpcase, reql.TermDowncase:
		var s string
		if s, err = e.argString(t, 0); err == nil {
			if t.Kind() == reql.TermUpcase {
				v = reql.String(strings.ToUpper(s))
			} else {
				v = reql.String(strings.ToLower(s))
			}
		}
	case reql.TermSplit:
		v, err = e.evalSplit(t)
	default:
		return nil, false, nil
	}
	return v, true, err
}

func (e *evaluator) evalCompare(t reql.Term) (any, error) {
	var prev reql.Datum
	result := true
	for i := range t.Args() {
		d, err := e.argDatum(t, i)
		if err != nil {
			return nil, err
		}
		if i > 0 && result {
			c := reql.Compare(prev, d)
			switch t.Kind() {
			case reql.TermEq:
				result = c == 0
			case reql.TermNe:
				result = c != 0
			case reql.TermLt:
				result = c < 0
			case reql.TermLe:
				result = c <= 0
			case reql.TermGt:
				result = c > 0
			case reql.TermGe:
				result = c >= 0
			}
		}
		prev = d
	}
	return reql.Bool(result), nil
}

func (e *evaluator) evalArith(t reql.Term) (any, error) {
	acc, err := e.argDatum(t, 0)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(t.Args()); i++ {
		d, err := e.argDatum(t, i)
		if err != nil {
			return nil, err
		}
		if acc, err = arith(t.Kind(), acc, d); err != nil {
			return nil, withFrame(err, i)
		}
	}
	if len(t.Args()) == 1 {
		if _, ok := acc.(reql.Number); !ok && t.Kind() != reql.TermAdd {
			return nil, logicErrf("Expected type NUMBER but found %s.", acc.TypeName())
		}
	}
	return acc, nil
}

func arith(kind reql.TermKind, a, b reql.Datum) (reql.Datum, error) {
	switch av := a.(type) {
	case reql.Number:
		bv, ok := b.(reql.Number)
		if !ok {
			return nil, logicErrf("Expected type NUMBER but found %s.", b.TypeName())
		}
		var r float64
		switch kind {
		case reql.TermAdd:
			r = float64(av) + float64(bv)
		case reql.TermSub:
			r = float64(av) - float64(bv)
		case reql.TermMul:
			r = float64(av) * float64(bv)
		case reql.TermDiv:
			if bv == 0 {
				return nil, logicErrf("Cannot divide by zero.")
			}
			r = float64(av) / float64(bv)
		}
		return finite(r)
	case reql.String:
		bv, ok := b.(reql.String)
		if kind != reql.TermAdd {
			return nil, logicErrf("Expected type NUMBER but found STRING.")
		} else if !ok {
			return nil, logicErrf("Expected type STRING but found %s.", b.TypeName())
		}
		return av + bv, nil
	case reql.Array:
		switch kind {
		case reql.TermAdd:
			bv, ok := b.(reql.Array)
			if !ok {
				return nil, logicErrf("Expected type ARRAY but found %s.", b.TypeName())
			}
			out := make(reql.Array, 0, len(av)+len(bv))
			return append(append(out, av...), bv...), nil
		case reql.TermMul:
			n, ok := b.(reql.Number)
			if !ok || n < 0 || n != reql.Number(int(n)) {
				return nil, logicErrf("Expected a non-negative integer but found %s.", b.TypeName())
			}
			out := make(reql.Array, 0, len(av)*int(n))
			for range int(n) {
				out = append(out, av...)
			}
			return out, nil
		}
	case reql.Time:
		switch bv := b.(type) {
		case reql.Number:
			d := time.Duration(float64(bv) * float64(time.Second))
			switch kind {
			case reql.TermAdd:
				return reql.NewTime(av.T.Add(d)), nil
			case reql.TermSub:
				return reql.NewTime(av.T.Add(-d)), nil
			}
		case reql.Time:
			if kind == reql.TermSub {
				return reql.Number(av.Epoch() - bv.Epoch()), nil
			}
		}
	}
	return nil, logicErrf("Expected type NUMBER but found %s.", a.TypeName())
}

func finite(f float64) (reql.Datum, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, logicErrf("Non-finite number: %v", f)
	}
	return reql.Number(f), nil
}

func (e *evaluator) evalMod(t reql.Term) (any, error) {
	a, err := e.argInt(t, 0)
	if err != nil {
		return nil, err
	}
	b, err := e.argInt(t, 1)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, logicErrf("Cannot take a number modulo 0.")
	}
	return reql.Number(a % b), nil
}

func (e *evaluator) evalRounding(t reql.Term) (any, error) {
	n, err := e.argNumber(t, 0)
	if err != nil {
		return nil, err
	}
	switch t.Kind() {
	case reql.TermFloor:
		return reql.Number(math.Floor(n)), nil
	case reql.TermCeil:
		return reql.Number(math.Ceil(n)), nil
	default:
		return reql.Number(math.Round(n)), nil
	}
}

func (e *evaluator) evalMatch(t reql.Term) (any, error) {
	s, err := e.argString(t, 0)
	if err != nil {
		return nil, err
	}
	pattern, err := e.argString(t, 1)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, withFrame(logicErrf("Error in regexp `%s` (portion `%s`): %v", pattern, pattern, err), 1)
	}
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return reql.NullDatum, nil
	}
	groups := reql.Array{}
	for g := 1; g < len(loc)/2; g++ {
		start, end := loc[2*g], loc[2*g+1]
		if start < 0 {
			groups = append(groups, reql.NullDatum)
			continue
		}
		groups = append(groups, matchObject(s, start, end))
	}
	m := matchObject(s, loc[0], loc[1])
	m["groups"] = groups
	return m, nil
}

func matchObject(s string, start, end int) reql.Object {
	return reql.Object{
		"str":   reql.String(s[start:end]),
		"start": reql.Number(start),
		"end":   reql.Number(end),
	}
}

func (e *evaluator) evalSplit(t reql.Term) (any, error) {
	s, err := e.argString(t, 0)
	if err != nil {
		return nil, err
	}
	var delim *string
	if len(t.Args()) > 1 {
		d, err := e.argDatum(t, 1)
		if err != nil {
			return nil, err
		}
		switch d := d.(type) {
		case reql.Null:
		case reql.String:
			ds := string(d)
			delim = &ds
		default:
			return nil, withFrame(logicErrf("Expected type STRING but found %s.", d.TypeName()), 1)
		}
	}
	limit := -1
	if len(t.Args()) > 2 {
		if limit, err = e.argInt(t, 2); err != nil {
			return nil, err
		}
	}

	var parts []string
	switch {
	case delim == nil:
		parts = splitFields(s, limit)
	case *delim == "":
		for _, r := range s {
			if limit >= 0 && len(parts) == limit {
				parts = append(parts, s[len(strings.Join(parts, "")):])
				break
			}
			parts = append(parts, string(r))
		}
	default:
		n := -1
		if limit >= 0 {
			n = limit + 1
		}
		parts = strings.SplitN(s, *delim, n)
	}
	out := make(reql.Array, len(parts))
	for i, p := range parts {
		out[i] = reql.String(p)
	}
	return out, nil
}

// splitFields splits on runs of whitespace, making at most limit splits.
func splitFields(s string, limit int) []string {
	var parts []string
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			return parts
		}
		if limit >= 0 && len(parts) == limit {
			return append(parts, s)
		}
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s = s[i:]
	}
}
