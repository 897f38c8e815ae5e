package testserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andreyvit/reql"
)

// Primary keys are stored in an order-preserving encoding, so that bucket
// order equals reql.Compare order and between() is a range scan. Each value
// starts with a tag byte ranked like the ReQL type order; arrays end with
// keyEnd, which sorts below every tag.
const (
	keyEnd    byte = 0x00
	tagArray  byte = 0x01
	tagBool   byte = 0x02
	tagNumber byte = 0x04
	tagBinary byte = 0x06
	tagTime   byte = 0x08
	tagString byte = 0x09

	maxKeyBytes = 127
)

// encodeKey appends the key encoding of d to buf.
func encodeKey(buf []byte, d reql.Datum) ([]byte, error) {
	switch v := d.(type) {
	case reql.Array:
		buf = append(buf, tagArray)
		for _, el := range v {
			var err error
			if buf, err = encodeKey(buf, el); err != nil {
				return nil, err
			}
		}
		return append(buf, keyEnd), nil
	case reql.Bool:
		if v {
			return append(buf, tagBool, 1), nil
		}
		return append(buf, tagBool, 0), nil
	case reql.Number:
		return appendFloat(append(buf, tagNumber), float64(v)), nil
	case reql.Binary:
		return appendEscaped(append(buf, tagBinary), v), nil
	case reql.Time:
		return appendFloat(append(buf, tagTime), v.Epoch()), nil
	case reql.String:
		return appendEscaped(append(buf, tagString), []byte(v)), nil
	default:
		return nil, fmt.Errorf("cannot use %s as a primary key", d.TypeName())
	}
}

func primaryKey(d reql.Datum) ([]byte, error) {
	if s, ok := d.(reql.String); ok && len(s) > maxKeyBytes {
		return nil, fmt.Errorf("Primary key too long (max %d characters): %q", maxKeyBytes, s)
	}
	return encodeKey(nil, d)
}

func epochTime(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// appendFloat maps IEEE 754 ordering onto unsigned byte ordering.
func appendFloat(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // -0 sorts with +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(buf, bits)
}

// appendEscaped writes s with 0x00 escaped as 0x00 0xFF and terminated by
// 0x00 0x01, so that a prefix sorts before its extensions.
func appendEscaped(buf, s []byte) []byte {
	for _, b := range s {
		if b == 0 {
			buf = append(buf, 0, 0xFF)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, 0, 1)
}

// decodeKey is the inverse of encodeKey. It returns the rest of buf.
func decodeKey(buf []byte) (reql.Datum, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, errShortKey
	}
	tag, buf := buf[0], buf[1:]
	switch tag {
	case tagArray:
		arr := reql.Array{}
		for {
			if len(buf) == 0 {
				return nil, nil, errShortKey
			}
			if buf[0] == keyEnd {
				return arr, buf[1:], nil
			}
			el, rest, err := decodeKey(buf)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, el)
			buf = rest
		}
	case tagBool:
		if len(buf) < 1 {
			return nil, nil, errShortKey
		}
		return reql.Bool(buf[0] == 1), buf[1:], nil
	case tagNumber, tagTime:
		if len(buf) < 8 {
			return nil, nil, errShortKey
		}
		bits := binary.BigEndian.Uint64(buf)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		if tag == tagTime {
			return reql.NewTime(epochTime(f)), buf[8:], nil
		}
		return reql.Number(f), buf[8:], nil
	case tagBinary, tagString:
		var out []byte
		for i := 0; i+1 < len(buf); i++ {
			if buf[i] != 0 {
				out = append(out, buf[i])
				continue
			}
			switch buf[i+1] {
			case 0xFF:
				out = append(out, 0)
				i++
			case 1:
				if tag == tagString {
					return reql.String(out), buf[i+2:], nil
				}
				return reql.Binary(out), buf[i+2:], nil
			default:
				return nil, nil, fmt.Errorf("invalid escape in key")
			}
		}
		return nil, nil, errShortKey
	default:
		return nil, nil, fmt.Errorf("invalid key tag 0x%02x", tag)
	}
}

var errShortKey = errors.New("truncated key")
