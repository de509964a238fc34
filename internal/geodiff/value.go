package geodiff

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// decodeValue converts a raw changeset value into the Go type for datatype.
// Geometry values are returned as WKT strings.
func decodeValue(datatype string, raw json.RawMessage) (any, error) {
	if raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch datatype {
	case TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %s", raw)
		}
		return numberToInt(n)
	case TypeDouble:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %s", raw)
		}
		return n.Float64()
	case TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", raw)
		}
		return s, nil
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case json.Number:
			i, err := numberToInt(b)
			if err != nil {
				return nil, err
			}
			return i != 0, nil
		}
		return nil, fmt.Errorf("expected boolean, got %s", raw)
	case TypeDate, TypeDatetime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected time string, got %s", raw)
		}
		return parseTime(s)
	case TypeBlob, TypeGeometry:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string, got %s", raw)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decoding base64: %w", err)
		}
		if datatype == TypeGeometry {
			return GeometryWKT(b)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDatatype, datatype)
}

func numberToInt(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %s", n)
	}
	return int64(f), nil
}

// convertDBValue converts a value scanned from a reference database into the
// same Go type decodeValue yields for datatype.
func convertDBValue(datatype string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && datatype != TypeBlob && datatype != TypeGeometry {
		v = string(b)
	}

	switch datatype {
	case TypeInteger:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case TypeDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case TypeDate, TypeDatetime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return parseTime(x)
		}
	case TypeBlob:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	case TypeGeometry:
		if b, ok := v.([]byte); ok {
			return GeometryWKT(b)
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDatatype, datatype)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, datatype)
}
