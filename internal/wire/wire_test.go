package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 0x0102030405060708, []byte(`[1]`)))

	raw := buf.Bytes()
	require.Len(t, raw, HeaderSize+3)
	require.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(raw[:8]))
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(raw[8:12]))
	require.Equal(t, `[1]`, string(raw[12:]))

	token, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), token)
	require.Equal(t, `[1]`, string(body))
}

func TestReadFrameRejectsHugeLength(t *testing.T) {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:8], 7)
	binary.LittleEndian.PutUint32(hdr[8:], MaxFrameSize+1)
	_, _, err := ReadFrame(bytes.NewReader(hdr[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameShortBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 1, []byte(`[1,2,3]`)))
	_, _, err := ReadFrame(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestQueryEncoding(t *testing.T) {
	body, err := EncodeQuery(1, []any{15, []any{"users"}}, map[string]any{"db": []any{14, []any{"test"}}})
	require.NoError(t, err)
	require.JSONEq(t, `[1,[15,["users"]],{"db":[14,["test"]]}]`, string(body))

	q, err := DecodeQuery(body)
	require.NoError(t, err)
	require.Equal(t, 1, q.Type)
	require.Contains(t, q.Opts, "db")

	body, err = EncodeQuery(2, nil, nil)
	require.NoError(t, err)
	require.Equal(t, `[2]`, string(body))

	q, err = DecodeQuery(body)
	require.NoError(t, err)
	require.Equal(t, 2, q.Type)
	require.Nil(t, q.Term)
}

func TestDecodeQueryMalformed(t *testing.T) {
	for _, body := range []string{``, `[]`, `{"a":1}`, `["x"]`, `[1,[],"opts"]`} {
		_, err := DecodeQuery([]byte(body))
		require.Error(t, err, body)
	}
}

func TestHandshakeMessages(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMagic(&buf, 0x34c2bdc3))
	require.NoError(t, WriteMessage(&buf, ClientFirst{
		ProtocolVersion:      ProtocolVersion,
		AuthenticationMethod: AuthMethodSCRAM,
		Authentication:       "n,,n=admin,r=abc",
	}))
	require.Equal(t, []byte{0xc3, 0xbd, 0xc2, 0x34}, buf.Bytes()[:4])
	require.Equal(t, byte(0), buf.Bytes()[buf.Len()-1])

	r := bufio.NewReader(&buf)
	magic, err := ReadMagic(r)
	require.NoError(t, err)
	require.Equal(t, uint32(0x34c2bdc3), magic)

	var msg ClientFirst
	require.NoError(t, ReadMessage(r, &msg))
	require.Equal(t, "n,,n=admin,r=abc", msg.Authentication)
	require.Equal(t, AuthMethodSCRAM, msg.AuthenticationMethod)
}

func TestAuthErrorCodes(t *testing.T) {
	require.True(t, IsAuthErrorCode(12))
	require.False(t, IsAuthErrorCode(2))
}
