package testserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/reql"
)

// queryError is an error reported to the client as an error response.
type queryError struct {
	Type    reql.ResponseType
	ErrType reql.ErrorType
	Msg     string
	// Frames is the backtrace: argument indexes and optarg names from the
	// root of the query to the failing term.
	Frames []any
}

func (e *queryError) Error() string {
	return e.Msg
}

func runtimeErrf(typ reql.ErrorType, format string, args ...any) error {
	return &queryError{Type: reql.ResponseRuntimeError, ErrType: typ, Msg: fmt.Sprintf(format, args...)}
}

func logicErrf(format string, args ...any) error {
	return runtimeErrf(reql.ErrorQueryLogic, format, args...)
}

func missingErrf(format string, args ...any) error {
	return runtimeErrf(reql.ErrorNonExistence, format, args...)
}

func opFailedErrf(format string, args ...any) error {
	return runtimeErrf(reql.ErrorOpFailed, format, args...)
}

func compileErrf(format string, args ...any) error {
	return &queryError{Type: reql.ResponseCompileError, Msg: fmt.Sprintf(format, args...)}
}

func clientErrf(format string, args ...any) error {
	return &queryError{Type: reql.ResponseClientError, Msg: fmt.Sprintf(format, args...)}
}

func isNonExistence(err error) bool {
	var qe *queryError
	return errors.As(err, &qe) && qe.Type == reql.ResponseRuntimeError && qe.ErrType == reql.ErrorNonExistence
}

// withFrame prepends a backtrace frame to a query error.
func withFrame(err error, frame any) error {
	var qe *queryError
	if errors.As(err, &qe) {
		qe.Frames = append([]any{frame}, qe.Frames...)
	}
	return err
}

// asQueryError converts any error into what is sent to the client. Storage
// and other internal failures become internal runtime errors.
func asQueryError(err error) *queryError {
	var qe *queryError
	if errors.As(err, &qe) {
		return qe
	}
	return &queryError{Type: reql.ResponseRuntimeError, ErrType: reql.ErrorInternal, Msg: err.Error()}
}

// dataError reports an undecodable stored document.
type dataError struct {
	Data []byte
	Err  error
	Msg  string
}

func dataErrf(data []byte, err error, format string, args ...any) error {
	return &dataError{data, err, fmt.Sprintf(format, args...)}
}

func (e *dataError) Unwrap() error {
	return e.Err
}

func (e *dataError) Error() string {
	const prefixLen = 64
	n := len(e.Data)
	data := e.Data
	if n > prefixLen {
		data = data[:prefixLen]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, data)
	}
	return fmt.Sprintf("%s: (%d) %x", e.Msg, n, data)
}

// tableError attributes a storage failure to a table.
type tableError struct {
	DB    string
	Table string
	Msg   string
	Err   error
}

func tableErrf(db, table string, err error, format string, args ...any) error {
	return &tableError{db, table, fmt.Sprintf(format, args...), err}
}

func (e *tableError) Unwrap() error {
	return e.Err
}

func (e *tableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.DB)
	buf.WriteByte('.')
	buf.WriteString(e.Table)
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}
