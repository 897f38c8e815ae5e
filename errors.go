package reql

import (
	"errors"
	"fmt"
	"strings"
)

// Construction errors, wrapped in *BuildError.
var (
	ErrArity         = errors.New("wrong number of arguments")
	ErrUnknownOptArg = errors.New("unknown optional argument")
	ErrNestedRow     = errors.New("Row cannot be used inside nested functions")
	ErrUnboundRow    = errors.New("Row used outside of a function")
	ErrInvalidValue  = errors.New("value cannot be used in a query")
	ErrInvalidTerm   = errors.New("invalid term")
)

var (
	// ErrServer matches every error reported by the server.
	ErrServer = errors.New("server error")
	// ErrNonExistence matches runtime errors caused by missing fields or documents.
	ErrNonExistence = errors.New("non-existence error")

	ErrConnectionClosed       = errors.New("reql: connection closed")
	ErrCursorEmpty            = errors.New("reql: cursor is empty")
	ErrCursorClosed           = errors.New("reql: cursor is closed")
	ErrTimeout                = errors.New("reql: timed out")
	ErrChangefeedDisconnected = errors.New("reql: changefeed disconnected")
	ErrNoResult               = errors.New("reql: query returned no result")
)

// BuildError is a construction error. It is stored in the Term that caused it
// and reported before the query is sent.
type BuildError struct {
	Kind TermKind
	Err  error
	Msg  string
}

func buildErrf(kind TermKind, err error, format string, args ...any) error {
	return &BuildError{kind, err, fmt.Sprintf(format, args...)}
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func (e *BuildError) Error() string {
	var buf strings.Builder
	buf.WriteString("reql: ")
	if e.Kind != 0 {
		buf.WriteString(e.Kind.String())
		buf.WriteString(": ")
	}
	if e.Msg != "" {
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

type ConnErrKind int

const (
	ConnErrTransport ConnErrKind = iota
	ConnErrHandshake
	ConnErrAuth
	ConnErrTimeout
	ConnErrClosed
	ConnErrUnsupportedProtocol
)

func (k ConnErrKind) String() string {
	switch k {
	case ConnErrHandshake:
		return "handshake failed"
	case ConnErrAuth:
		return "authentication failed"
	case ConnErrTimeout:
		return "timed out"
	case ConnErrClosed:
		return "connection closed"
	case ConnErrUnsupportedProtocol:
		return "unsupported protocol"
	default:
		return "transport error"
	}
}

// ConnectionError reports a failure to establish or keep a connection.
type ConnectionError struct {
	Kind    ConnErrKind
	Address string
	Code    int // handshake error_code, when the server sent one
	Msg     string
	Err     error
}

func connErrf(kind ConnErrKind, addr string, err error, format string, args ...any) error {
	return &ConnectionError{Kind: kind, Address: addr, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionClosed && e.Kind == ConnErrClosed
}

func (e *ConnectionError) Error() string {
	var buf strings.Builder
	buf.WriteString("reql: ")
	if e.Address != "" {
		buf.WriteString(e.Address)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Kind.String())
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

// IsAuthError reports whether err is a rejected-credentials failure.
func IsAuthError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Kind == ConnErrAuth
}

// serverError carries what every server-reported error has in common.
type serverError struct {
	Msg       string
	Backtrace []any
	Term      Term
}

func (e *serverError) describe(kind string) string {
	var buf strings.Builder
	buf.WriteString("reql: ")
	buf.WriteString(kind)
	buf.WriteString(": ")
	buf.WriteString(e.Msg)
	if e.Term.kind != 0 {
		buf.WriteString(" in: ")
		buf.WriteString(e.Term.String())
	}
	return buf.String()
}

// ClientError means the server believes the driver sent a malformed query.
type ClientError struct {
	serverError
}

func (e *ClientError) Error() string       { return e.describe("client error") }
func (e *ClientError) Is(target error) bool { return target == ErrServer }

// CompileError means the server rejected the query before running it.
type CompileError struct {
	serverError
}

func (e *CompileError) Error() string       { return e.describe("compile error") }
func (e *CompileError) Is(target error) bool { return target == ErrServer }

type RuntimeError struct {
	serverError
	Type ErrorType
}

func (e *RuntimeError) Error() string {
	return e.describe(e.Type.String() + " error")
}

func (e *RuntimeError) Is(target error) bool {
	return target == ErrServer || (target == ErrNonExistence && e.Type == ErrorNonExistence)
}

// ChangefeedDisconnectedError terminates a changefeed whose source became
// unavailable. The consumer has to subscribe again.
type ChangefeedDisconnectedError struct {
	RuntimeError
}

func (e *ChangefeedDisconnectedError) Error() string {
	return "reql: changefeed disconnected: " + e.Msg
}

func (e *ChangefeedDisconnectedError) Is(target error) bool {
	return target == ErrChangefeedDisconnected || e.RuntimeError.Is(target)
}

// TimeoutError is returned by Cursor.NextWait when nothing arrived in time.
type TimeoutError struct {
	Waited string
}

func (e *TimeoutError) Error() string {
	if e.Waited == "" {
		return "reql: no data available"
	}
	return "reql: no data within " + e.Waited
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func newResponseError(resp *Response, term Term) error {
	var msg string
	if len(resp.Results) > 0 {
		if s, ok := resp.Results[0].(string); ok {
			msg = s
		} else {
			msg = fmt.Sprint(resp.Results[0])
		}
	}
	se := serverError{Msg: msg, Backtrace: resp.Backtrace, Term: term}
	switch resp.Type {
	case ResponseClientError:
		return &ClientError{se}
	case ResponseCompileError:
		return &CompileError{se}
	case ResponseRuntimeError:
		rt := RuntimeError{serverError: se, Type: resp.ErrType}
		if rt.Type == ErrorOpFailed && strings.HasPrefix(msg, "Changefeed aborted") {
			return &ChangefeedDisconnectedError{rt}
		}
		return &rt
	default:
		return fmt.Errorf("reql: unexpected response type %v", resp.Type)
	}
}
