package reql

import "sync/atomic"

// Row refers to the argument of the enclosing one-parameter function. A Row
// expression passed where a command expects a function is wrapped into one.
var Row = Term{kind: TermImplicitVar, rowFree: true}

var lastVarID atomic.Int64

// nextVarID hands out function parameter ids. Ids are unique in the process,
// so nested functions never capture each other's parameters.
func nextVarID() int64 {
	return lastVarID.Add(1)
}

func varTerm(id int64) Term {
	return newTerm(TermVar, []Term{datumTerm(Number(id))}, nil)
}

func makeFunc(ids []int64, body any) Term {
	params := make(Array, len(ids))
	for i, id := range ids {
		params[i] = Number(id)
	}
	return newTerm(TermFunc, []Term{datumTerm(params), Expr(body)}, nil)
}

func Func1(fn func(Term) Term) Term {
	return FuncN(1, func(v ...Term) Term { return fn(v[0]) })
}

func Func2(fn func(a, b Term) Term) Term {
	return FuncN(2, func(v ...Term) Term { return fn(v[0], v[1]) })
}

func Func3(fn func(a, b, c Term) Term) Term {
	return FuncN(3, func(v ...Term) Term { return fn(v[0], v[1], v[2]) })
}

// FuncN makes a function of n parameters. fn is called once, with the
// parameter variables, to build the body.
func FuncN(n int, fn func(params ...Term) Term) Term {
	ids := make([]int64, n)
	vars := make([]Term, n)
	for i := range ids {
		ids[i] = nextVarID()
		vars[i] = varTerm(ids[i])
	}
	return makeFunc(ids, fn(vars...))
}
