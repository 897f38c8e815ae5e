package reql

import (
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// Datum is a ReQL value. The set of implementations is closed: Null, Bool,
// Number, String, Array, Object, and the pseudo-types Binary, Time, Geometry
// and GroupedData.
//
// Datums are immutable; Array and Object must not be modified once they have
// been handed to a Term, a Cursor, or another Datum.
type Datum interface {
	Kind() DatumKind
	// TypeName returns the name reported by TYPE_OF.
	TypeName() string
	// Interface converts the datum into plain Go values.
	Interface() any
	isDatum()
}

type DatumKind int

// The order of kinds follows the ReQL sort order, which compares type names.
const (
	DatumArray DatumKind = iota
	DatumBool
	DatumNull
	DatumNumber
	DatumObject
	DatumBinary
	DatumGeometry
	DatumTime
	DatumString
	DatumGrouped
)

type (
	Null   struct{}
	Bool   bool
	Number float64
	String string
	Array  []Datum
	Object map[string]Datum
	Binary []byte

	Time struct {
		T time.Time
	}

	// Geometry keeps the GeoJSON object of a geometry pseudo-type.
	Geometry struct {
		GeoJSON Object
	}

	GroupPair struct {
		Group     Datum
		Reduction Datum
	}

	GroupedData []GroupPair
)

// Pseudo-type tagging.
const (
	PseudoTypeKey     = "$reql_type$"
	PseudoTime        = "TIME"
	PseudoBinary      = "BINARY"
	PseudoGeometry    = "GEOMETRY"
	PseudoGroupedData = "GROUPED_DATA"
	PseudoMinVal      = "MINVAL"
	PseudoMaxVal      = "MAXVAL"
)

var NullDatum Datum = Null{}

func (Null) Kind() DatumKind        { return DatumNull }
func (Bool) Kind() DatumKind        { return DatumBool }
func (Number) Kind() DatumKind      { return DatumNumber }
func (String) Kind() DatumKind      { return DatumString }
func (Array) Kind() DatumKind       { return DatumArray }
func (Object) Kind() DatumKind      { return DatumObject }
func (Binary) Kind() DatumKind      { return DatumBinary }
func (Time) Kind() DatumKind        { return DatumTime }
func (Geometry) Kind() DatumKind    { return DatumGeometry }
func (GroupedData) Kind() DatumKind { return DatumGrouped }

func (Null) TypeName() string        { return "NULL" }
func (Bool) TypeName() string        { return "BOOL" }
func (Number) TypeName() string      { return "NUMBER" }
func (String) TypeName() string      { return "STRING" }
func (Array) TypeName() string       { return "ARRAY" }
func (Object) TypeName() string      { return "OBJECT" }
func (Binary) TypeName() string      { return "PTYPE<BINARY>" }
func (Time) TypeName() string        { return "PTYPE<TIME>" }
func (Geometry) TypeName() string    { return "PTYPE<GEOMETRY>" }
func (GroupedData) TypeName() string { return "GROUPED_DATA" }

func (Null) isDatum()        {}
func (Bool) isDatum()        {}
func (Number) isDatum()      {}
func (String) isDatum()      {}
func (Array) isDatum()       {}
func (Object) isDatum()      {}
func (Binary) isDatum()      {}
func (Time) isDatum()        {}
func (Geometry) isDatum()    {}
func (GroupedData) isDatum() {}

func (Null) Interface() any     { return nil }
func (v Bool) Interface() any   { return bool(v) }
func (v Number) Interface() any { return float64(v) }
func (v String) Interface() any { return string(v) }
func (v Binary) Interface() any { return []byte(v) }
func (v Time) Interface() any   { return v.T }

func (v Array) Interface() any {
	out := make([]any, len(v))
	for i, el := range v {
		out[i] = el.Interface()
	}
	return out
}

func (v Object) Interface() any {
	out := make(map[string]any, len(v))
	for k, el := range v {
		out[k] = el.Interface()
	}
	return out
}

func (v Geometry) Interface() any {
	return v.GeoJSON.Interface()
}

func (v GroupedData) Interface() any {
	out := make([]any, len(v))
	for i, g := range v {
		out[i] = map[string]any{
			"group":     g.Group.Interface(),
			"reduction": g.Reduction.Interface(),
		}
	}
	return out
}

// Get returns the value of a field.
func (v Object) Get(field string) (Datum, bool) {
	d, ok := v[field]
	return d, ok
}

// With returns a copy of the object with field set to value.
func (v Object) With(field string, value Datum) Object {
	out := make(Object, len(v)+1)
	maps.Copy(out, v)
	out[field] = value
	return out
}

// SortedKeys returns the object's keys in byte order.
func (v Object) SortedKeys() []string {
	return slices.Sorted(maps.Keys(v))
}

func (v Object) pseudoType() string {
	if s, ok := v[PseudoTypeKey].(String); ok {
		return string(s)
	}
	return ""
}

// NewTime returns a time datum, truncated to millisecond precision as ReQL does.
func NewTime(t time.Time) Time {
	return Time{T: t.Round(time.Millisecond)}
}

func (v Time) Epoch() float64 {
	return float64(v.T.UnixNano()) / 1e9
}

// Timezone formats the offset of the time as "+hh:mm".
func (v Time) Timezone() string {
	_, off := v.T.Zone()
	sign := '+'
	if off < 0 {
		sign = '-'
		off = -off
	}
	return fmt.Sprintf("%c%02d:%02d", sign, off/3600, (off%3600)/60)
}

func timeFromEpoch(epoch float64, tz string) (Time, error) {
	sec, frac := math.Modf(epoch)
	t := time.Unix(int64(sec), int64(math.Round(frac*1e9)))
	loc, err := parseTimezone(tz)
	if err != nil {
		return Time{}, err
	}
	return NewTime(t.In(loc)), nil
}

func parseTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == "Z" || tz == "+00:00" || tz == "-00:00" {
		return time.UTC, nil
	}
	if len(tz) != 6 || (tz[0] != '+' && tz[0] != '-') || tz[3] != ':' {
		return nil, fmt.Errorf("invalid timezone %q", tz)
	}
	var h, m int
	if _, err := fmt.Sscanf(tz[1:], "%02d:%02d", &h, &m); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	off := h*3600 + m*60
	if tz[0] == '-' {
		off = -off
	}
	return time.FixedZone(tz, off), nil
}

// Equal reports whether two datums are equal under ReQL semantics.
func Equal(a, b Datum) bool {
	return Compare(a, b) == 0
}

// Compare orders datums the way ReQL sorts them: values of different types
// order by type name (ARRAY < BOOL < NULL < NUMBER < OBJECT < PTYPE<BINARY> <
// PTYPE<GEOMETRY> < PTYPE<TIME> < STRING), values of the same type by value.
func Compare(a, b Datum) int {
	if a == nil {
		a = NullDatum
	}
	if b == nil {
		b = NullDatum
	}
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	switch av := a.(type) {
	case Null:
		return 0
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Number:
		return cmp.Compare(float64(av), float64(b.(Number)))
	case String:
		return cmp.Compare(string(av), string(b.(String)))
	case Binary:
		return bytes.Compare(av, b.(Binary))
	case Time:
		return av.T.Compare(b.(Time).T)
	case Array:
		return compareArrays(av, b.(Array))
	case Object:
		return compareObjects(av, b.(Object))
	case Geometry:
		return compareObjects(av.GeoJSON, b.(Geometry).GeoJSON)
	case GroupedData:
		bv := b.(GroupedData)
		n := min(len(av), len(bv))
		for i := 0; i < n; i++ {
			if c := Compare(av[i].Group, bv[i].Group); c != 0 {
				return c
			}
			if c := Compare(av[i].Reduction, bv[i].Reduction); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(av), len(bv))
	default:
		panic(fmt.Errorf("unknown datum %T", a))
	}
}

func compareArrays(a, b Array) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareObjects(a, b Object) int {
	ak, bk := a.SortedKeys(), b.SortedKeys()
	n := min(len(ak), len(bk))
	for i := 0; i < n; i++ {
		if c := cmp.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(ak), len(bk))
}

// Truthy reports whether a datum counts as true in a branch: everything except
// false and null.
func Truthy(d Datum) bool {
	switch v := d.(type) {
	case nil, Null:
		return false
	case Bool:
		return bool(v)
	default:
		return true
	}
}
