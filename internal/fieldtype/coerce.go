package fieldtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errString   = errors.New("must be string")
	errInteger  = errors.New("must be integer")
	errIntRange = errors.New("out of int64 range")
	errNumber   = errors.New("must be number")
	errBool     = errors.New("must be boolean")
)

func toStringStrict(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		// числа не форматируем в строку молча
		return "", errString
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errNumber
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errNumber
		}
		return f, nil
	case []byte:
		return toFloatStrict(string(t))
	default:
		return 0, errNumber
	}
}

// toIntStrict: точные целые из строк и json.Number без потери через float64.
func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case json.Number:
		return toIntStrict(string(t))
	case []byte:
		return toIntStrict(string(t))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, strconv.ErrRange) {
			return 0, errIntRange
		}
		// "10.0" и "1e3" разбираются ниже как float
	}
	f, err := toFloatStrict(v)
	if err != nil || f != math.Trunc(f) {
		return 0, errInteger
	}
	if f >= 1<<63 || f < -(1<<63) {
		return 0, errIntRange
	}
	return int64(f), nil
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case []byte:
		return toBoolStrict(string(t))
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, errBool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// toTime понимает time.Time из драйвера и строки в типовых форматах СУБД.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case []byte:
		return toTime(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, l := range timeLayouts {
			if tm, err := time.Parse(l, s); err == nil {
				return tm, true
			}
		}
	}
	return time.Time{}, false
}

// isBlank: nil и пустая строка - отсутствие значения.
func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(t) == 0
	}
	return false
}

// AsTime: значение драйвера как время (time.Time, строка или байты).
func AsTime(v any) (time.Time, bool) { return toTime(v) }

// AsBool: значение драйвера как bool (bool, 0/1, "true"/"false").
func AsBool(v any) bool {
	b, err := toBoolStrict(v)
	return err == nil && b
}

// AsString - значение драйвера как строка; nil - пустая строка.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
