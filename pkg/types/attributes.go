package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// NormalizeAttributes returns a copy of attrs in which the reserved Pix
// attributes carry their canonical Go types. Values that went through a JSON
// round trip (float64 numbers, []any slices, json.Number) are converted back.
//
// Free-form attributes are brought into their JSON shape: integral numbers
// become int64, other numbers float64, lists []any and objects
// map[string]any. A value therefore reads back the same after it was
// persisted.
//
// An error is returned when a reserved attribute holds a value that cannot be
// converted, e.g. a fractional width, or when a free-form value has no JSON
// representation (NaN, channels, functions).
func NormalizeAttributes(attrs Attributes) (Attributes, error) {
	out := attrs.Clone()
	for key, v := range attrs {
		var (
			nv  any
			err error
		)
		switch key {
		case AttrName, AttrFilename:
			s, ok := v.(string)
			if !ok {
				err = fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidAttribute, key, v)
			}
			nv = s
		case AttrFilesize:
			nv, err = toInt64(key, v)
		case AttrWidth, AttrHeight:
			var n int64
			n, err = toInt64(key, v)
			nv = int(n)
		case AttrColor:
			b, ok := v.(bool)
			if !ok {
				err = fmt.Errorf("%w: %s must be a bool, got %T", ErrInvalidAttribute, key, v)
			}
			nv = b
		case AttrKeywords:
			nv, err = toStrings(key, v)
		default:
			nv, err = freeForm(key, v)
		}
		if err != nil {
			return nil, err
		}
		out[key] = nv
	}
	return out, nil
}

func toInt64(key string, v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt64(key, uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt64(key, n)
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidAttribute, key, n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidAttribute, key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidAttribute, key, v)
}

func uintToInt64(key string, n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s: %d overflows int64", ErrInvalidAttribute, key, n)
	}
	return int64(n), nil
}

// freeForm converts v to its JSON shape. See [NormalizeAttributes].
func freeForm(key string, v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return v, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return toInt64(key, v)
	case float32:
		return jsonFloat(key, float64(x))
	case float64:
		return jsonFloat(key, x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAttribute, key, err)
		}
		return jsonFloat(key, f)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			nv, err := freeForm(fmt.Sprintf("%s[%d]", key, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			nv, err := freeForm(key+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	}

	// Anything else ([]string, structs, typed maps) goes through encoding/json
	// once and is decoded generically.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s cannot be stored: %v", ErrInvalidAttribute, key, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %s cannot be stored: %v", ErrInvalidAttribute, key, err)
	}
	return freeForm(key, generic)
}

func jsonFloat(key string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %s: %v has no JSON representation", ErrInvalidAttribute, key, f)
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), nil
	}
	return f, nil
}

func toStrings(key string, v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", ErrInvalidAttribute, key, i, item)
			}
			out = append(out, str)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidAttribute, key, v)
}
