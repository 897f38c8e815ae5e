package testserver

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/andreyvit/reql"
)

func keyGen() *rapid.Generator[reql.Datum] {
	scalar := rapid.OneOf(
		rapid.Map(rapid.Float64Range(-1e12, 1e12), func(f float64) reql.Datum { return reql.Number(f) }),
		rapid.Map(rapid.Int64Range(-1e6, 1e6), func(n int64) reql.Datum { return reql.Number(n) }),
		rapid.Map(rapid.StringN(0, 12, -1), func(s string) reql.Datum { return reql.String(s) }),
		rapid.Map(rapid.Bool(), func(b bool) reql.Datum { return reql.Bool(b) }),
		rapid.Map(rapid.SliceOfN(rapid.Byte(), 0, 6), func(b []byte) reql.Datum { return reql.Binary(b) }),
	)
	return rapid.OneOf(scalar, rapid.Map(rapid.SliceOfN(scalar, 0, 3), func(a []reql.Datum) reql.Datum { return reql.Array(a) }))
}

func TestEncodeKey_PreservesOrder(t *testing.T) {
	gen := keyGen()
	rapid.Check(t, func(t *rapid.T) {
		a, b := gen.Draw(t, "a"), gen.Draw(t, "b")
		ka, err := encodeKey(nil, a)
		require.NoError(t, err)
		kb, err := encodeKey(nil, b)
		require.NoError(t, err)
		require.Equal(t, reql.Compare(a, b), bytes.Compare(ka, kb), "%v vs %v", a, b)
	})
}

func TestEncodeKey_RoundTrip(t *testing.T) {
	gen := keyGen()
	rapid.Check(t, func(t *rapid.T) {
		d := gen.Draw(t, "key")
		k, err := encodeKey(nil, d)
		require.NoError(t, err)
		got, rest, err := decodeKey(k)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.True(t, reql.Equal(d, got), "%v decoded as %v", d, got)
	})
}

func TestEncodeKey_Specials(t *testing.T) {
	neg, err := encodeKey(nil, reql.Number(math.Copysign(0, -1)))
	require.NoError(t, err)
	pos, err := encodeKey(nil, reql.Number(0))
	require.NoError(t, err)
	require.Equal(t, pos, neg)

	tm := reql.NewTime(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	k, err := encodeKey(nil, tm)
	require.NoError(t, err)
	got, _, err := decodeKey(k)
	require.NoError(t, err)
	require.True(t, reql.Equal(tm, got))

	_, err = encodeKey(nil, reql.Object{"a": reql.Number(1)})
	require.Error(t, err)
	_, err = encodeKey(nil, reql.NullDatum)
	require.Error(t, err)

	_, err = primaryKey(reql.String(strings.Repeat("x", maxKeyBytes+1)))
	require.ErrorContains(t, err, "Primary key too long")
}

func TestDocEncoding_RoundTrip(t *testing.T) {
	doc := reql.Object{
		"id":    reql.String("a"),
		"n":     reql.Number(1.5),
		"tags":  reql.Array{reql.String("x"), reql.Bool(true), reql.NullDatum},
		"bin":   reql.Binary("\x00\x01"),
		"when":  reql.NewTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("+03:00", 3*3600))),
		"inner": reql.Object{"k": reql.Number(-2)},
	}
	raw, err := encodeDoc(nil, doc)
	require.NoError(t, err)
	got, err := decodeDoc(raw)
	require.NoError(t, err)
	require.True(t, reql.Equal(doc, got), "got %v", got)

	_, err = decodeDoc([]byte{0xc1})
	require.Error(t, err)
}
