package testserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
)

// keyRange is a range of encoded keys. A nil bound is open; Reverse scans
// from the upper end.
type keyRange struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func rangeOO() keyRange { return keyRange{} }

func (r keyRange) reversed() keyRange { r.Reverse = true; return r }

// boundRange builds the range for between(): nil bounds are open, and
// closed bounds include keys equal to them.
func boundRange(lower, upper []byte, lowerClosed, upperClosed bool) keyRange {
	return keyRange{Lower: lower, Upper: upper, LowerInc: lowerClosed, UpperInc: upperClosed}
}

// empty reports whether no key can satisfy both bounds.
func (r keyRange) empty() bool {
	if r.Lower == nil || r.Upper == nil {
		return false
	}
	c := bytes.Compare(r.Lower, r.Upper)
	return c > 0 || (c == 0 && !(r.LowerInc && r.UpperInc))
}

func (r *keyRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	var skipInitial bool
	if r.Reverse {
		if r.Upper != nil {
			k, v = bcur.SeekLast(r.Upper)
			skipInitial = !r.UpperInc && bytes.Equal(k, r.Upper)
			logScan(logger, "SEEK to upper", r.Upper, k)
		} else {
			k, v = bcur.Last()
			logScan(logger, "LAST", nil, k)
		}
	} else {
		if r.Lower != nil {
			k, v = bcur.Seek(r.Lower)
			skipInitial = !r.LowerInc && bytes.Equal(k, r.Lower)
			logScan(logger, "SEEK to lower", r.Lower, k)
		} else {
			k, v = bcur.First()
			logScan(logger, "FIRST", nil, k)
		}
	}
	if skipInitial {
		return r.next(bcur, logger)
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

func (r *keyRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
	} else {
		k, v = bcur.Next()
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

func (r *keyRange) match(k []byte, logger *slog.Logger) bool {
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp == -1 || (cmp == 0 && !r.LowerInc) {
				logScan(logger, "BAIL on lower", lower, k)
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp == 1 || (cmp == 0 && !r.UpperInc) {
				logScan(logger, "BAIL on upper", upper, k)
				return false
			}
		}
	}
	return true
}

func logScan(logger *slog.Logger, msg string, bound, key []byte) {
	if logger == nil || !logger.Enabled(context.Background(), slog.LevelDebug-4) {
		return
	}
	logger.LogAttrs(context.Background(), slog.LevelDebug-4, msg, hexAttr("bound", bound), hexAttr("key", key))
}

func hexAttr(key string, b []byte) slog.Attr {
	if b == nil {
		return slog.String(key, "<nil>")
	}
	return slog.String(key, hex.EncodeToString(b))
}

// rangeCursor walks a keyRange over a bucket.
type rangeCursor struct {
	rang   keyRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (r keyRange) newCursor(bcur storageCursor, logger *slog.Logger) *rangeCursor {
	return &rangeCursor{rang: r, bcur: bcur, logger: logger}
}

func (c *rangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *rangeCursor) Key() []byte   { return c.k }
func (c *rangeCursor) Value() []byte { return c.v }
