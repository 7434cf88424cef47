package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Truthy follows JSON-logic truthiness: null, false, 0, NaN, "" and [] are false.
func Truthy(v any) bool {
	switch value := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return value
	case float64:
		return value != 0 && !math.IsNaN(value)
	case string:
		return value != ""
	case []any:
		return len(value) > 0
	default:
		return true
	}
}

// normalize maps Go numeric types to float64 so comparisons see one number type.
func normalize(v any) any {
	switch value := v.(type) {
	case int:
		return float64(value)
	case int8:
		return float64(value)
	case int16:
		return float64(value)
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	case uint:
		return float64(value)
	case uint8:
		return float64(value)
	case uint16:
		return float64(value)
	case uint32:
		return float64(value)
	case uint64:
		return float64(value)
	case float32:
		return float64(value)
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return value.String()
		}

		return f
	case []string:
		out := make([]any, len(value))
		for i, s := range value {
			out[i] = s
		}

		return out
	default:
		return v
	}
}

// toNumber converts a value the way JavaScript's Number() does for the types JSON can carry.
func toNumber(v any) (float64, bool) {
	switch value := normalize(v).(type) {
	case float64:
		return value, true
	case bool:
		if value {
			return 1, true
		}

		return 0, true
	case nil:
		return 0, true
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, true
		}

		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN(), false
		}

		return f, true
	default:
		return math.NaN(), false
	}
}

func toString(v any) string {
	switch value := normalize(v).(type) {
	case nil:
		return "null"
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case []any:
		parts := make([]string, len(value))
		for i, item := range value {
			parts[i] = toString(item)
		}

		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(value)
	}
}

// looseEqual implements the == operator.
func looseEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	}

	_, aList := a.([]any)
	_, bList := b.([]any)

	if aList || bList {
		return toString(a) == toString(b)
	}

	an, aok := toNumber(a)
	bn, bok := toNumber(b)

	if aok && bok {
		return an == bn
	}

	return reflect.DeepEqual(a, b)
}

// strictEqual implements the === operator.
func strictEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}

	return reflect.DeepEqual(a, b)
}

// less compares strings lexically and everything else numerically.
func less(a, b any, orEqual bool) bool {
	as, aString := normalize(a).(string)
	bs, bString := normalize(b).(string)

	if aString && bString {
		if orEqual {
			return as <= bs
		}

		return as < bs
	}

	an, aok := toNumber(a)
	bn, bok := toNumber(b)

	if !aok || !bok {
		return false
	}

	if orEqual {
		return an <= bn
	}

	return an < bn
}

// lookup resolves a dotted path through maps and slices.
func lookup(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}
