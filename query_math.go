package reql

// Comparison, arithmetic, logic, strings and types.

func (t Term) Eq(values ...any) Term  { return mk(TermEq, append([]any{t}, values...)...) }
func (t Term) Ne(values ...any) Term  { return mk(TermNe, append([]any{t}, values...)...) }
func (t Term) Lt(values ...any) Term  { return mk(TermLt, append([]any{t}, values...)...) }
func (t Term) Le(values ...any) Term  { return mk(TermLe, append([]any{t}, values...)...) }
func (t Term) Gt(values ...any) Term  { return mk(TermGt, append([]any{t}, values...)...) }
func (t Term) Ge(values ...any) Term  { return mk(TermGe, append([]any{t}, values...)...) }
func (t Term) Add(values ...any) Term { return mk(TermAdd, append([]any{t}, values...)...) }
func (t Term) Sub(values ...any) Term { return mk(TermSub, append([]any{t}, values...)...) }
func (t Term) Mul(values ...any) Term { return mk(TermMul, append([]any{t}, values...)...) }
func (t Term) Div(values ...any) Term { return mk(TermDiv, append([]any{t}, values...)...) }
func (t Term) And(values ...any) Term { return mk(TermAnd, append([]any{t}, values...)...) }
func (t Term) Or(values ...any) Term  { return mk(TermOr, append([]any{t}, values...)...) }
func (t Term) Mod(n any) Term         { return mk(TermMod, t, n) }
func (t Term) Not() Term              { return mk(TermNot, t) }
func (t Term) Floor() Term            { return mk(TermFloor, t) }
func (t Term) Ceil() Term             { return mk(TermCeil, t) }
func (t Term) Round() Term            { return mk(TermRound, t) }

func Eq(values ...any) Term  { return mk(TermEq, values...) }
func Ne(values ...any) Term  { return mk(TermNe, values...) }
func Lt(values ...any) Term  { return mk(TermLt, values...) }
func Le(values ...any) Term  { return mk(TermLe, values...) }
func Gt(values ...any) Term  { return mk(TermGt, values...) }
func Ge(values ...any) Term  { return mk(TermGe, values...) }
func Add(values ...any) Term { return mk(TermAdd, values...) }
func Sub(values ...any) Term { return mk(TermSub, values...) }
func Mul(values ...any) Term { return mk(TermMul, values...) }
func Div(values ...any) Term { return mk(TermDiv, values...) }
func Mod(a, b any) Term      { return mk(TermMod, a, b) }
func Floor(v any) Term       { return mk(TermFloor, v) }
func Ceil(v any) Term        { return mk(TermCeil, v) }
func Round(v any) Term       { return mk(TermRound, v) }

// And of no values is true, Or of no values is false.
func And(values ...any) Term { return mk(TermAnd, values...) }
func Or(values ...any) Term  { return mk(TermOr, values...) }
func Not(v any) Term         { return mk(TermNot, v) }

// Random returns a random number: in [0, 1) without arguments, in [0, n) or
// [a, b) otherwise. Bounds are integers unless RandomOpts{Float: true} is given.
func Random(args ...any) Term { return mk(TermRandom, args...) }

// Match matches a string against an RE2 regular expression, returning null or
// an object describing the match.
func (t Term) Match(re any) Term { return mk(TermMatch, t, re) }
func (t Term) Upcase() Term      { return mk(TermUpcase, t) }
func (t Term) Downcase() Term    { return mk(TermDowncase, t) }

// Split splits on whitespace, or on a separator with an optional maximum
// number of splits.
func (t Term) Split(args ...any) Term {
	return mk(TermSplit, append([]any{t}, args...)...)
}

func (t Term) CoerceTo(typeName any) Term { return mk(TermCoerceTo, t, typeName) }
func (t Term) TypeOf() Term               { return mk(TermTypeOf, t) }
func (t Term) ToJSON() Term               { return mk(TermToJSONString, t) }

func Match(s Term, re any) Term            { return s.Match(re) }
func Upcase(s Term) Term                   { return s.Upcase() }
func Downcase(s Term) Term                 { return s.Downcase() }
func Split(s Term, args ...any) Term       { return s.Split(args...) }
func CoerceTo(v Term, typeName any) Term   { return v.CoerceTo(typeName) }
func TypeOf(v any) Term                    { return Expr(v).TypeOf() }
func ToJSON(v any) Term                    { return Expr(v).ToJSON() }
