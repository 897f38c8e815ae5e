package reql

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/goccy/go-json"
)

type FeedState string

const (
	FeedInitializing FeedState = "initializing"
	FeedReady        FeedState = "ready"
)

type ChangeKind int

const (
	ChangeData ChangeKind = iota
	ChangeState
	ChangeSkipped
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeState:
		return "state"
	case ChangeSkipped:
		return "skipped"
	default:
		return "data"
	}
}

// Change is one changefeed item. Data changes carry OldVal and NewVal, either
// of which is Null for inserts and deletes.
type Change struct {
	Kind ChangeKind

	OldVal    Datum
	NewVal    Datum
	OldOffset *int
	NewOffset *int
	Type      string

	State   FeedState
	Skipped int

	Raw Datum
}

// IsInsert and the like classify data changes by which side is null.
func (c Change) IsInsert() bool { return c.Kind == ChangeData && isNull(c.OldVal) && !isNull(c.NewVal) }
func (c Change) IsDelete() bool { return c.Kind == ChangeData && !isNull(c.OldVal) && isNull(c.NewVal) }
func (c Change) IsUpdate() bool { return c.Kind == ChangeData && !isNull(c.OldVal) && !isNull(c.NewVal) }

func isNull(d Datum) bool {
	return d == nil || d.Kind() == DatumNull
}

var skippedRe = regexp.MustCompile(`^Changefeed cache over array size limit, skipped (\d+) elements\.$`)

// SkippedMessage is the text of the overflow notification that reports n
// dropped changes.
func SkippedMessage(n int) string {
	return fmt.Sprintf("Changefeed cache over array size limit, skipped %d elements.", n)
}

func stateMarker(d Datum) (FeedState, bool) {
	obj, ok := d.(Object)
	if !ok || len(obj) != 1 {
		return "", false
	}
	s, ok := obj["state"].(String)
	if !ok {
		return "", false
	}
	return FeedState(s), true
}

// DecodeChange classifies a changefeed item.
func DecodeChange(d Datum) (Change, error) {
	c := Change{Raw: d}
	obj, ok := d.(Object)
	if !ok {
		return c, fmt.Errorf("reql: changefeed item is %s, not an object", d.TypeName())
	}
	if st, ok := stateMarker(d); ok {
		c.Kind, c.State = ChangeState, st
		return c, nil
	}
	if msg, ok := obj["error"].(String); ok && len(obj) == 1 {
		m := skippedRe.FindStringSubmatch(string(msg))
		if m == nil {
			return c, fmt.Errorf("reql: changefeed error item: %s", msg)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return c, fmt.Errorf("reql: changefeed skip count %q: %w", m[1], err)
		}
		c.Kind, c.Skipped = ChangeSkipped, n
		return c, nil
	}

	c.Kind = ChangeData
	c.OldVal, c.NewVal = NullDatum, NullDatum
	if v, ok := obj["old_val"]; ok {
		c.OldVal = v
	}
	if v, ok := obj["new_val"]; ok {
		c.NewVal = v
	}
	if n, ok := obj["old_offset"].(Number); ok {
		i := int(n)
		c.OldOffset = &i
	}
	if n, ok := obj["new_offset"].(Number); ok {
		i := int(n)
		c.NewOffset = &i
	}
	if s, ok := obj["type"].(String); ok {
		c.Type = string(s)
	}
	return c, nil
}

// WriteResponse summarizes the outcome of a write query.
type WriteResponse struct {
	Inserted      int            `json:"inserted"`
	Replaced      int            `json:"replaced"`
	Unchanged     int            `json:"unchanged"`
	Skipped       int            `json:"skipped"`
	Deleted       int            `json:"deleted"`
	Errors        int            `json:"errors"`
	FirstError    string         `json:"first_error,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	GeneratedKeys []any          `json:"generated_keys,omitempty"`
	Changes       []ChangeValues `json:"changes,omitempty"`
}

type ChangeValues struct {
	OldVal any `json:"old_val"`
	NewVal any `json:"new_val"`
}

// WriteError reports a write summary with a non-zero error count.
type WriteError struct {
	WriteResponse
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("reql: %d write errors, first: %s", e.Errors, e.FirstError)
}

func (e *WriteError) Is(target error) bool { return target == ErrServer }

func DecodeWriteResponse(d Datum) (WriteResponse, error) {
	var wr WriteResponse
	if _, ok := d.(Object); !ok {
		return wr, fmt.Errorf("reql: write result is %s, not an object", d.TypeName())
	}
	err := Decode(d, &wr)
	return wr, err
}

// Decode stores d into dst with JSON semantics: struct fields are matched by
// their json tags, times become RFC 3339 strings, and binary data becomes
// base64. Decoding into *Datum or *any needs no conversion.
func Decode(d Datum, dst any) error {
	switch p := dst.(type) {
	case *Datum:
		*p = d
		return nil
	case *any:
		*p = d.Interface()
		return nil
	}
	raw, err := json.Marshal(d.Interface())
	if err != nil {
		return fmt.Errorf("reql: decode %s: %w", d.TypeName(), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("reql: decode %s into %T: %w", d.TypeName(), dst, err)
	}
	return nil
}
