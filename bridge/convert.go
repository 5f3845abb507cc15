package bridge

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// ConversionError is returned when a guest value has no string representation
type ConversionError struct {
	Value any
	// Reason describes values that have a type but no faithful text form
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot convert %s to a string", e.Reason)
	}
	if e.Value == nil {
		return "cannot convert null or undefined to a string"
	}

	return fmt.Sprintf("cannot convert value of type %T to a string", e.Value)
}

// Stringify is the single conversion rule from guest values to text. Engines first
// export their native values to Go values, then call Stringify.
func Stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", &ConversionError{}
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return formatFloat(float64(val)), nil
	case float64:
		return formatFloat(val), nil
	case fmt.Stringer:
		return val.String(), nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		b, err := json.Marshal(v)
		if err != nil {
			return "", &ConversionError{Value: v}
		}
		return string(b), nil
	}

	return "", &ConversionError{Value: v}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return strconv.FormatFloat(f, 'g', -1, 64)
}
