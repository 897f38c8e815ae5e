package reql

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Format selects how pseudo-types in results are decoded.
type Format string

const (
	FormatNative Format = "native"
	FormatRaw    Format = "raw"
)

// formats is the decoding side of the time_format, group_format and
// binary_format run options.
type formats struct {
	time, group, binary Format
}

var nativeFormats = formats{FormatNative, FormatNative, FormatNative}

// EncodeDatum converts a datum into JSON-ready Go values as they appear in
// server responses: arrays stay JSON arrays and pseudo-types become tagged
// objects.
func EncodeDatum(d Datum) any {
	switch v := d.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(v)
	case Number:
		return float64(v)
	case String:
		return string(v)
	case Array:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = EncodeDatum(el)
		}
		return out
	case Object:
		out := make(map[string]any, len(v))
		for k, el := range v {
			out[k] = EncodeDatum(el)
		}
		return out
	case Binary:
		return map[string]any{
			PseudoTypeKey: PseudoBinary,
			"data":        base64.StdEncoding.EncodeToString(v),
		}
	case Time:
		return map[string]any{
			PseudoTypeKey: PseudoTime,
			"epoch_time":  v.Epoch(),
			"timezone":    v.Timezone(),
		}
	case Geometry:
		out := EncodeDatum(v.GeoJSON).(map[string]any)
		out[PseudoTypeKey] = PseudoGeometry
		return out
	case GroupedData:
		data := make([]any, len(v))
		for i, g := range v {
			data[i] = []any{EncodeDatum(g.Group), EncodeDatum(g.Reduction)}
		}
		return map[string]any{
			PseudoTypeKey: PseudoGroupedData,
			"data":        data,
		}
	default:
		panic(fmt.Errorf("unknown datum %T", d))
	}
}

// MarshalDatum encodes a datum as response JSON.
func MarshalDatum(d Datum) ([]byte, error) {
	return json.Marshal(EncodeDatum(d))
}

// DecodeDatum converts decoded JSON into a datum, turning tagged objects into
// pseudo-type datums.
func DecodeDatum(v any) (Datum, error) {
	return decodeDatum(v, nativeFormats)
}

// UnmarshalDatum parses response JSON into a datum.
func UnmarshalDatum(raw []byte) (Datum, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return DecodeDatum(v)
}

func decodeDatum(v any, f formats) (Datum, error) {
	switch v := v.(type) {
	case nil:
		return NullDatum, nil
	case bool:
		return Bool(v), nil
	case float64:
		return Number(v), nil
	case json.Number:
		n, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return nil, err
		}
		return Number(n), nil
	case int:
		return Number(v), nil
	case int64:
		return Number(v), nil
	case uint64:
		return Number(v), nil
	case string:
		return String(v), nil
	case []any:
		arr := make(Array, len(v))
		for i, el := range v {
			d, err := decodeDatum(el, f)
			if err != nil {
				return nil, err
			}
			arr[i] = d
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(v))
		for k, el := range v {
			d, err := decodeDatum(el, f)
			if err != nil {
				return nil, err
			}
			obj[k] = d
		}
		return decodePseudo(obj, f)
	default:
		return nil, fmt.Errorf("cannot decode %T as a datum", v)
	}
}

func decodePseudo(obj Object, f formats) (Datum, error) {
	switch obj.pseudoType() {
	case "":
		return obj, nil
	case PseudoTime:
		if f.time == FormatRaw {
			return obj, nil
		}
		epoch, ok := obj["epoch_time"].(Number)
		if !ok {
			return nil, fmt.Errorf("pseudo-type TIME object %v does not have expected field epoch_time", obj.Interface())
		}
		tz, _ := obj["timezone"].(String)
		return timeFromEpoch(float64(epoch), string(tz))
	case PseudoBinary:
		if f.binary == FormatRaw {
			return obj, nil
		}
		s, ok := obj["data"].(String)
		if !ok {
			return nil, fmt.Errorf("pseudo-type BINARY object does not have expected field data")
		}
		data, err := base64.StdEncoding.DecodeString(string(s))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 in BINARY pseudo-type: %w", err)
		}
		return Binary(data), nil
	case PseudoGeometry:
		geo := make(Object, len(obj)-1)
		for k, v := range obj {
			if k != PseudoTypeKey {
				geo[k] = v
			}
		}
		return Geometry{GeoJSON: geo}, nil
	case PseudoGroupedData:
		if f.group == FormatRaw {
			return obj, nil
		}
		data, ok := obj["data"].(Array)
		if !ok {
			return nil, fmt.Errorf("pseudo-type GROUPED_DATA object does not have expected field data")
		}
		groups := make(GroupedData, len(data))
		for i, el := range data {
			pair, ok := el.(Array)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("GROUPED_DATA entry %d is not a [group, reduction] pair", i)
			}
			groups[i] = GroupPair{Group: pair[0], Reduction: pair[1]}
		}
		return groups, nil
	default:
		return obj, nil
	}
}

func checkNumber(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}
	return nil
}
