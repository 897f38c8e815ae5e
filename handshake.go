package reql

import (
	"bufio"
	"errors"
	"net"

	"github.com/goccy/go-json"

	"github.com/andreyvit/reql/internal/scram"
	"github.com/andreyvit/reql/internal/wire"
)

// handshake runs protocol V1_0 on a fresh transport: the magic number, the
// server hello, and a SCRAM-SHA-256 exchange. The client-first message is sent
// together with the magic number, before the hello arrives.
func handshake(conn net.Conn, user, password, addr string) (*bufio.Reader, string, error) {
	sc, err := scram.NewClient(user, password)
	if err != nil {
		return nil, "", connErrf(ConnErrHandshake, addr, err, "")
	}
	if err := wire.WriteMagic(conn, ProtocolV1_0); err != nil {
		return nil, "", ioErr(addr, err, "sending protocol version")
	}
	first := wire.ClientFirst{
		ProtocolVersion:      wire.ProtocolVersion,
		AuthenticationMethod: wire.AuthMethodSCRAM,
		Authentication:       sc.FirstMessage(),
	}
	if err := wire.WriteMessage(conn, first); err != nil {
		return nil, "", ioErr(addr, err, "sending authentication")
	}

	r := bufio.NewReader(conn)
	raw, err := wire.ReadMessageBytes(r)
	if err != nil {
		return nil, "", ioErr(addr, err, "reading server hello")
	}
	var hello wire.ServerHello
	if err := json.Unmarshal(raw, &hello); err != nil {
		// Servers predating V1_0 answer with a plain-text error.
		return nil, "", connErrf(ConnErrUnsupportedProtocol, addr, nil, "%s", raw)
	}
	if !hello.Success {
		return nil, "", handshakeFailure(addr, hello.Error, hello.ErrorCode)
	}
	if wire.ProtocolVersion < hello.MinProtocolVersion || wire.ProtocolVersion > hello.MaxProtocolVersion {
		return nil, "", connErrf(ConnErrUnsupportedProtocol, addr, nil,
			"server supports protocol versions %d to %d", hello.MinProtocolVersion, hello.MaxProtocolVersion)
	}

	var reply wire.AuthReply
	if err := wire.ReadMessage(r, &reply); err != nil {
		return nil, "", ioErr(addr, err, "reading authentication reply")
	}
	if !reply.Success {
		return nil, "", handshakeFailure(addr, reply.Error, reply.ErrorCode)
	}
	final, err := sc.FinalMessage(reply.Authentication)
	if err != nil {
		return nil, "", connErrf(ConnErrAuth, addr, err, "")
	}
	if err := wire.WriteMessage(conn, wire.ClientFinal{Authentication: final}); err != nil {
		return nil, "", ioErr(addr, err, "sending authentication proof")
	}

	reply = wire.AuthReply{}
	if err := wire.ReadMessage(r, &reply); err != nil {
		return nil, "", ioErr(addr, err, "reading authentication result")
	}
	if !reply.Success {
		return nil, "", handshakeFailure(addr, reply.Error, reply.ErrorCode)
	}
	if err := sc.Verify(reply.Authentication); err != nil {
		return nil, "", connErrf(ConnErrAuth, addr, err, "")
	}
	return r, hello.ServerVersion, nil
}

func handshakeFailure(addr, msg string, code int) error {
	kind := ConnErrHandshake
	if wire.IsAuthErrorCode(code) {
		kind = ConnErrAuth
	}
	err := connErrf(kind, addr, nil, "%s", msg)
	err.(*ConnectionError).Code = code
	return err
}

// ioErr classifies a transport failure during connect.
func ioErr(addr string, err error, doing string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return connErrf(ConnErrTimeout, addr, err, "%s", doing)
	}
	return connErrf(ConnErrHandshake, addr, err, "%s", doing)
}
