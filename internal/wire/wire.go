// Package wire reads and writes ReQL protocol frames.
//
// After the handshake, every message is a frame:
//
//	[token: uint64 LE][length: uint32 LE][body: JSON]
//
// The handshake itself exchanges a little-endian uint32 magic number followed
// by null-terminated JSON messages.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

const HeaderSize = 12

// MaxFrameSize bounds the body of a frame read from the network.
const MaxFrameSize = 64 << 20

var ErrFrameTooLarge = errors.New("frame too large")

var frameBufPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func releaseFrameBuf(b []byte) {
	if cap(b) <= 1<<20 {
		frameBufPool.Put(b[:0])
	}
}

// WriteFrame writes a frame with a single Write call, so frames written under a
// lock never interleave.
func WriteFrame(w io.Writer, token uint64, body []byte) error {
	buf := frameBufPool.Get().([]byte)
	defer func() { releaseFrameBuf(buf) }()
	buf = binary.LittleEndian.AppendUint64(buf, token)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. The returned body is owned by the caller.
func ReadFrame(r io.Reader) (token uint64, body []byte, err error) {
	var hdr [HeaderSize]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	token = binary.LittleEndian.Uint64(hdr[:8])
	n := binary.LittleEndian.Uint32(hdr[8:])
	if n > MaxFrameSize {
		return token, nil, fmt.Errorf("token %d: %w: %d bytes", token, ErrFrameTooLarge, n)
	}
	body = make([]byte, n)
	if _, err = io.ReadFull(r, body); err != nil {
		return token, nil, fmt.Errorf("token %d: short body: %w", token, err)
	}
	return token, body, nil
}

// EncodeQuery encodes a query body: [type] or [type, term, globalOptArgs].
func EncodeQuery(queryType int, term any, globalOpts map[string]any) ([]byte, error) {
	if term == nil {
		return json.Marshal([]any{queryType})
	}
	if globalOpts == nil {
		globalOpts = map[string]any{}
	}
	return json.Marshal([]any{queryType, term, globalOpts})
}

// Query is a decoded query body.
type Query struct {
	Type int
	Term any
	Opts map[string]any
}

func DecodeQuery(body []byte) (*Query, error) {
	var raw []any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed query: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("malformed query: empty array")
	}
	qt, ok := raw[0].(json.Number)
	if !ok {
		return nil, fmt.Errorf("malformed query: type is %T", raw[0])
	}
	n, err := qt.Int64()
	if err != nil {
		return nil, fmt.Errorf("malformed query: %w", err)
	}
	q := &Query{Type: int(n)}
	if len(raw) > 1 {
		q.Term = raw[1]
	}
	if len(raw) > 2 {
		if q.Opts, ok = raw[2].(map[string]any); !ok {
			return nil, fmt.Errorf("malformed query: global optargs are %T", raw[2])
		}
	}
	return q, nil
}

// WriteMagic sends a protocol magic number.
func WriteMagic(w io.Writer, magic uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], magic)
	_, err := w.Write(buf[:])
	return err
}

func ReadMagic(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteMessage writes v as a null-terminated JSON handshake message.
func WriteMessage(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(raw, 0))
	return err
}

// ReadMessage reads a null-terminated handshake message into v.
func ReadMessage(r *bufio.Reader, v any) error {
	raw, err := ReadMessageBytes(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ReadMessageBytes reads a null-terminated message without the terminator.
func ReadMessageBytes(r *bufio.Reader) ([]byte, error) {
	raw, err := r.ReadBytes(0)
	if err != nil {
		return nil, err
	}
	return raw[:len(raw)-1], nil
}
