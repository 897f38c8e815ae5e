package testserver

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/reql"
)

// Documents are stored as msgpack of their response JSON form, so pseudo-types
// survive as tagged objects.

type bytesBuilder struct {
	Buf []byte
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	bb.Buf = append(bb.Buf, v)
	return nil
}

func encodeDoc(buf []byte, doc reql.Datum) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(reql.EncodeDatum(doc))
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return bb.Buf, nil
}

func decodeDoc(buf []byte) (reql.Datum, error) {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	v, err := dec.DecodeInterface()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(buf, err, "failed to decode msgpack document")
	}
	d, err := reql.DecodeDatum(v)
	if err != nil {
		return nil, dataErrf(buf, err, "invalid stored document")
	}
	return d, nil
}
