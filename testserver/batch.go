package testserver

import (
	"time"

	"github.com/andreyvit/reql"
)

// batchConfig holds the batching tunables a client sends as global optargs.
type batchConfig struct {
	minRows   int
	maxRows   int // 0 is unlimited
	maxBytes  int
	maxTime   time.Duration
	scaledown int
}

func defaultBatchConfig() batchConfig {
	return batchConfig{
		minRows:   8,
		maxBytes:  1 << 20,
		maxTime:   500 * time.Millisecond,
		scaledown: 4,
	}
}

func parseBatchConfig(opts map[string]reql.Datum) (batchConfig, error) {
	c := defaultBatchConfig()
	for name, dst := range map[string]*int{
		"min_batch_rows":               &c.minRows,
		"max_batch_rows":               &c.maxRows,
		"max_batch_bytes":              &c.maxBytes,
		"first_batch_scaledown_factor": &c.scaledown,
	} {
		d, ok := opts[name]
		if !ok {
			continue
		}
		n, ok := d.(reql.Number)
		if !ok || n < 0 || float64(n) != float64(int(n)) {
			return c, withFrame(logicErrf("Expected a non-negative integer for `%s` but found %s.", name, printDatum(d)), name)
		}
		*dst = int(n)
	}
	if d, ok := opts["max_batch_seconds"]; ok {
		n, ok := d.(reql.Number)
		if !ok || n < 0 {
			return c, withFrame(logicErrf("Expected a non-negative number for `max_batch_seconds` but found %s.", printDatum(d)), "max_batch_seconds")
		}
		c.maxTime = seconds(float64(n))
	}
	if c.scaledown < 1 {
		c.scaledown = 1
	}
	return c, nil
}

// first returns the bounds of the first batch of a response stream.
func (c batchConfig) first() batchConfig {
	f := c
	f.minRows = max(1, c.minRows/c.scaledown)
	if c.maxRows > 0 {
		f.maxRows = max(1, c.maxRows/c.scaledown)
	}
	f.maxBytes = max(1, c.maxBytes/c.scaledown)
	f.maxTime = c.maxTime / time.Duration(c.scaledown)
	return f
}

// batcher cuts a row stream into response batches.
type batcher struct {
	cfg   batchConfig
	first bool
}

func newBatcher(cfg batchConfig) *batcher {
	return &batcher{cfg: cfg, first: true}
}

func (b *batcher) bounds() batchConfig {
	if b.first {
		return b.cfg.first()
	}
	return b.cfg
}

// take splits off the next batch from rows that are all available now. A
// batch always holds at least one row when rows is non-empty, and the time
// bound only cuts batches holding at least minRows rows.
func (b *batcher) take(rows []reql.Datum, started time.Time) (batch, rest []reql.Datum) {
	cfg := b.bounds()
	b.first = false
	size := 0
	for i, d := range rows {
		if i > 0 {
			if cfg.maxRows > 0 && i >= cfg.maxRows {
				return rows[:i], rows[i:]
			}
			if size >= cfg.maxBytes || (i >= cfg.minRows && cfg.maxTime > 0 && time.Since(started) >= cfg.maxTime) {
				return rows[:i], rows[i:]
			}
		}
		size += datumSize(d)
	}
	return rows, nil
}

func datumSize(d reql.Datum) int {
	raw, err := reql.MarshalDatum(d)
	if err != nil {
		return 0
	}
	return len(raw)
}
