package testserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/reql"
)

func numbers(n int) []reql.Datum {
	out := make([]reql.Datum, n)
	for i := range out {
		out[i] = reql.Number(i)
	}
	return out
}

func TestParseBatchConfig(t *testing.T) {
	c, err := parseBatchConfig(nil)
	require.NoError(t, err)
	require.Equal(t, defaultBatchConfig(), c)

	c, err = parseBatchConfig(map[string]reql.Datum{
		"max_batch_rows":               reql.Number(10),
		"max_batch_seconds":            reql.Number(0.25),
		"first_batch_scaledown_factor": reql.Number(0),
	})
	require.NoError(t, err)
	require.Equal(t, 10, c.maxRows)
	require.Equal(t, 250*time.Millisecond, c.maxTime)
	require.Equal(t, 1, c.scaledown)

	_, err = parseBatchConfig(map[string]reql.Datum{"max_batch_rows": reql.Number(1.5)})
	require.ErrorContains(t, err, "Expected a non-negative integer for `max_batch_rows`")
	_, err = parseBatchConfig(map[string]reql.Datum{"max_batch_seconds": reql.String("1")})
	require.Error(t, err)
}

func TestBatcher_FirstBatchScaledDown(t *testing.T) {
	cfg := defaultBatchConfig()
	cfg.maxRows = 8
	b := newBatcher(cfg)
	rows := numbers(20)

	batch, rest := b.take(rows, time.Now())
	require.Len(t, batch, 2)
	batch, rest = b.take(rest, time.Now())
	require.Len(t, batch, 8)
	batch, rest = b.take(rest, time.Now())
	require.Len(t, batch, 8)
	batch, rest = b.take(rest, time.Now())
	require.Len(t, batch, 2)
	require.Nil(t, rest)
}

func TestBatcher_BytesBound(t *testing.T) {
	cfg := defaultBatchConfig()
	cfg.maxBytes = 3 * datumSize(reql.String("xxxxxxxxxx"))
	cfg.scaledown = 1
	b := newBatcher(cfg)
	rows := make([]reql.Datum, 10)
	for i := range rows {
		rows[i] = reql.String("xxxxxxxxxx")
	}
	batch, _ := b.take(rows, time.Now())
	require.Len(t, batch, 3)
}

func TestBatcher_TimeBoundKeepsMinRows(t *testing.T) {
	cfg := defaultBatchConfig()
	cfg.maxTime = time.Nanosecond
	cfg.minRows = 3
	cfg.scaledown = 1
	b := newBatcher(cfg)

	batch, rest := b.take(numbers(10), time.Now().Add(-time.Second))
	require.Len(t, batch, 3)
	require.Len(t, rest, 7)
}

func TestBatcher_AlwaysMakesProgress(t *testing.T) {
	cfg := defaultBatchConfig()
	cfg.maxBytes = 1
	b := newBatcher(cfg)
	batch, rest := b.take(numbers(2), time.Now())
	require.Len(t, batch, 1)
	require.Len(t, rest, 1)
}
