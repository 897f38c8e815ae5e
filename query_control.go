package reql

// Control structures and special values.

var (
	// MinVal and MaxVal are the unbounded sides of Between and During.
	MinVal = Term{kind: TermMinVal}
	MaxVal = Term{kind: TermMaxVal}
)

// Do calls the function given as the last argument with the preceding ones.
func Do(args ...any) Term {
	if len(args) == 0 {
		return errTerm(TermFuncCall, buildErrf(TermFuncCall, ErrArity, "Do needs a function"))
	}
	last := len(args) - 1
	callArgs := make([]any, 0, len(args))
	callArgs = append(callArgs, args[last])
	callArgs = append(callArgs, args[:last]...)
	return mkf(TermFuncCall, 0, callArgs...)
}

// Do calls fn with t followed by args.
func (t Term) Do(args ...any) Term {
	return Do(append([]any{t}, args...)...)
}

// Branch takes test, then-value pairs followed by the else value.
func Branch(args ...any) Term { return mk(TermBranch, args...) }

// Branch is Branch with t as the first test.
func (t Term) Branch(args ...any) Term {
	return mk(TermBranch, append([]any{t}, args...)...)
}

// Error raises a user error, or re-raises the error being handled in Default.
func Error(msg ...any) Term { return mk(TermError, msg...) }

// Args splices an array into the argument list of its parent command.
func Args(arr any) Term { return mk(TermArgs, arr) }

// Range produces 0, 1, ... endlessly, up to end, or from start to end.
func Range(args ...any) Term { return mk(TermRange, args...) }

func JS(code any, opts ...Optional) Term { return mkOpts(TermJavaScript, opts, code) }
func JSON(s any) Term                    { return mk(TermJSON, s) }

// UUID returns a random UUID, or the SHA-1 based UUID of a string.
func UUID(name ...any) Term { return mk(TermUUID, name...) }

// MakeBinary wraps bytes, or converts a string term, into binary data.
func MakeBinary(data any) Term {
	if b, ok := data.([]byte); ok {
		return datumTerm(Binary(b))
	}
	return mk(TermBinary, data)
}
