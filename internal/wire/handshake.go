package wire

// Handshake messages of protocol V1_0.

const (
	ProtocolVersion = 0
	AuthMethodSCRAM = "SCRAM-SHA-256"
)

// ServerHello is the server's first message, sent right after the magic number
// is received.
type ServerHello struct {
	Success            bool   `json:"success"`
	MinProtocolVersion int    `json:"min_protocol_version"`
	MaxProtocolVersion int    `json:"max_protocol_version"`
	ServerVersion      string `json:"server_version,omitempty"`
	Error              string `json:"error,omitempty"`
	ErrorCode          int    `json:"error_code,omitempty"`
}

// ClientFirst carries the protocol version and the SCRAM client-first message.
type ClientFirst struct {
	ProtocolVersion      int    `json:"protocol_version"`
	AuthenticationMethod string `json:"authentication_method"`
	Authentication       string `json:"authentication"`
}

// ClientFinal carries the SCRAM client-final message.
type ClientFinal struct {
	Authentication string `json:"authentication"`
}

// AuthReply is the server's answer to ClientFirst and ClientFinal.
type AuthReply struct {
	Success        bool   `json:"success"`
	Authentication string `json:"authentication,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorCode      int    `json:"error_code,omitempty"`
}

// IsAuthErrorCode reports whether a handshake error_code means rejected
// credentials rather than a protocol failure.
func IsAuthErrorCode(code int) bool {
	return code >= 10 && code <= 20
}
