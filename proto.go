package reql

import "fmt"

// Handshake protocol magic numbers, sent as little-endian uint32.
const (
	ProtocolV0_4 uint32 = 0x400c2d20
	ProtocolV1_0 uint32 = 0x34c2bdc3
)

type QueryType int

const (
	QueryStart       QueryType = 1
	QueryContinue    QueryType = 2
	QueryStop        QueryType = 3
	QueryNoReplyWait QueryType = 4
	QueryServerInfo  QueryType = 5
)

type ResponseType int

const (
	ResponseSuccessAtom     ResponseType = 1
	ResponseSuccessSequence ResponseType = 2
	ResponseSuccessPartial  ResponseType = 3
	ResponseWaitComplete    ResponseType = 4
	ResponseServerInfo      ResponseType = 5
	ResponseClientError     ResponseType = 16
	ResponseCompileError    ResponseType = 17
	ResponseRuntimeError    ResponseType = 18
)

func (t ResponseType) IsError() bool {
	return t == ResponseClientError || t == ResponseCompileError || t == ResponseRuntimeError
}

func (t ResponseType) String() string {
	switch t {
	case ResponseSuccessAtom:
		return "SUCCESS_ATOM"
	case ResponseSuccessSequence:
		return "SUCCESS_SEQUENCE"
	case ResponseSuccessPartial:
		return "SUCCESS_PARTIAL"
	case ResponseWaitComplete:
		return "WAIT_COMPLETE"
	case ResponseServerInfo:
		return "SERVER_INFO"
	case ResponseClientError:
		return "CLIENT_ERROR"
	case ResponseCompileError:
		return "COMPILE_ERROR"
	case ResponseRuntimeError:
		return "RUNTIME_ERROR"
	default:
		return fmt.Sprintf("response type %d", int(t))
	}
}

// ErrorType refines a RUNTIME_ERROR response.
type ErrorType int

const (
	ErrorInternal        ErrorType = 1000000
	ErrorResourceLimit   ErrorType = 2000000
	ErrorQueryLogic      ErrorType = 3000000
	ErrorNonExistence    ErrorType = 3100000
	ErrorOpFailed        ErrorType = 4100000
	ErrorOpIndeterminate ErrorType = 4200000
	ErrorUser            ErrorType = 5000000
	ErrorPermission      ErrorType = 6000000
)

func (t ErrorType) String() string {
	switch t {
	case ErrorInternal:
		return "internal"
	case ErrorResourceLimit:
		return "resource limit"
	case ErrorQueryLogic:
		return "query logic"
	case ErrorNonExistence:
		return "non-existence"
	case ErrorOpFailed:
		return "op failed"
	case ErrorOpIndeterminate:
		return "op indeterminate"
	case ErrorUser:
		return "user"
	case ErrorPermission:
		return "permission"
	default:
		return "runtime"
	}
}

// ResponseNote annotates sequence responses, mostly to describe changefeeds.
type ResponseNote int

const (
	NoteSequenceFeed     ResponseNote = 1
	NoteAtomFeed         ResponseNote = 2
	NoteOrderByLimitFeed ResponseNote = 3
	NoteUnionedFeed      ResponseNote = 4
	NoteIncludesStates   ResponseNote = 5
)

func (n ResponseNote) IsFeed() bool {
	return n >= NoteSequenceFeed && n <= NoteUnionedFeed
}

// Response is one decoded response frame.
type Response struct {
	Token     uint64         `json:"-"`
	Type      ResponseType   `json:"t"`
	ErrType   ErrorType      `json:"e,omitempty"`
	Notes     []ResponseNote `json:"n,omitempty"`
	Results   []any          `json:"r"`
	Backtrace []any          `json:"b,omitempty"`
	Profile   any            `json:"p,omitempty"`
}

func (r *Response) hasNote(n ResponseNote) bool {
	for _, note := range r.Notes {
		if note == n {
			return true
		}
	}
	return false
}

// ServerInfo is the result of a SERVER_INFO query.
type ServerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Proxy bool   `json:"proxy"`
}
