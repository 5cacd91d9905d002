package tag

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coerce converts v to the Go representation of t.
//
// Accepted inputs per type:
//   - Int32: any integer kind, integral floats, json.Number, numeric strings (range-checked)
//   - Float: any integer or float kind, json.Number, numeric strings
//   - Boolean: bool, 0/1 numbers, "true"/"false"/"1"/"0" strings
//   - String: strings, and formatted numbers and booleans
//
// The returned error wraps ErrCoercion.
func Coerce(v any, t ValueType) (any, error) {
	switch t {
	case Int32:
		return toInt32(v)
	case Float:
		return toFloat32(v)
	case Boolean:
		return toBool(v)
	case String:
		return toString(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, string(t))
	}
}

func coercionError(v any, t ValueType) error {
	return fmt.Errorf("%w: %v (%T) is not a valid %s", ErrCoercion, v, v, t)
}

func toInt32(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case int32:
		return x, nil
	case int:
		f = float64(x)
	case int8:
		return int32(x), nil
	case int16:
		return int32(x), nil
	case int64:
		f = float64(x)
	case uint8:
		return int32(x), nil
	case uint16:
		return int32(x), nil
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil, coercionError(v, Int32)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, coercionError(v, Int32)
		}
		f = n
	default:
		return nil, coercionError(v, Int32)
	}

	if math.IsNaN(f) || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return nil, coercionError(v, Int32)
	}
	return int32(f), nil
}

func toFloat32(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case float32:
		return x, nil
	case float64:
		f = x
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil, coercionError(v, Float)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, coercionError(v, Float)
		}
		f = n
	default:
		return nil, coercionError(v, Float)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
		return nil, coercionError(v, Float)
	}
	return float32(f), nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, coercionError(v, Boolean)
		}
		return b, nil
	}

	// Numeric 0/1 only.
	n, err := toInt32(v)
	if err != nil {
		return nil, coercionError(v, Boolean)
	}
	switch n.(int32) {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return nil, coercionError(v, Boolean)
	}
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case json.Number:
		return x.String(), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, coercionError(v, String)
	}
}

// Equal reports whether a and b are equal after coercion to t.
// Values that cannot be coerced are never equal.
func Equal(a, b any, t ValueType) bool {
	ca, err := Coerce(a, t)
	if err != nil {
		return false
	}
	cb, err := Coerce(b, t)
	if err != nil {
		return false
	}
	return ca == cb
}
