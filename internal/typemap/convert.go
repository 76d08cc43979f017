package typemap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Convert turns a raw source value into the canonical destination
// representation for t. nil converts to nil.
//
//	String, Time, JSON, Point -> string
//	Integer                   -> int64
//	Float                     -> float64
//	Decimal                   -> canonical decimal string
//	Boolean                   -> bool ('t'/'f', "true"/"false", 0/1)
//	Date                      -> time.Time at UTC midnight
//	DateTime                  -> time.Time
//	Binary                    -> []byte
func Convert(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Integer:
		return toInt(v)
	case Float:
		return toFloat(v)
	case Decimal:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	case Boolean:
		return toBool(v)
	case Date:
		ts, err := toTime(v)
		if err != nil {
			return nil, err
		}
		y, m, d := ts.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case DateTime:
		return toTime(v)
	case Time:
		if ts, ok := v.(time.Time); ok {
			return ts.Format("15:04:05.999999999"), nil
		}
		return toString(v), nil
	case Binary:
		switch x := v.(type) {
		case []byte:
			return bytes.Clone(x), nil
		case string:
			return []byte(x), nil
		}
		return nil, fmt.Errorf("typemap: cannot convert %T to BINARY", v)
	case JSON:
		switch x := v.(type) {
		case []byte:
			return string(x), nil
		case string:
			return x, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("typemap: cannot convert %T to JSON: %w", v, err)
		}
		return string(b), nil
	default:
		return toString(v), nil
	}
}

// Equal compares two values under t. Both sides are normalized first, so a
// stored "t" equals true and a stored "12.50" equals 12.5.
func Equal(t Type, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch t {
	case Binary:
		x, errA := Convert(Binary, a)
		y, errB := Convert(Binary, b)
		if errA != nil || errB != nil {
			return false
		}
		return bytes.Equal(x.([]byte), y.([]byte))
	case Boolean:
		x, errA := toBool(a)
		y, errB := toBool(b)
		return errA == nil && errB == nil && x == y
	case Date, DateTime:
		x, errA := Convert(t, a)
		y, errB := Convert(t, b)
		if errA != nil || errB != nil {
			return toString(a) == toString(b)
		}
		return x.(time.Time).Equal(y.(time.Time))
	case Integer, Float, Decimal:
		x, errA := toDecimal(a)
		y, errB := toDecimal(b)
		if errA != nil || errB != nil {
			return toString(a) == toString(b)
		}
		return x.Equal(y)
	}
	x, errA := Convert(t, a)
	y, errB := Convert(t, b)
	if errA != nil || errB != nil {
		return false
	}
	return x == y
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("typemap: %d overflows INTEGER", x)
		}
		return int64(x), nil
	case float32, float64:
		f, _ := toFloat(x)
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("typemap: %v is not an integer", f)
		}
		return int64(f), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	s := strings.TrimSpace(toString(v))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("typemap: cannot convert %q to INTEGER", s)
	}
	return n, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := toInt(x)
		return float64(n), err
	}
	s := strings.TrimSpace(toString(v))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("typemap: cannot convert %q to FLOAT", s)
	}
	return f, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := toInt(x)
		return decimal.NewFromInt(n), err
	}
	s := strings.TrimSpace(toString(v))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("typemap: cannot convert %q to DECIMAL", s)
	}
	return d, nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := toInt(x)
		return n != 0, err
	case []byte:
		// BIT(1) columns arrive as a single raw byte.
		if len(x) == 1 && x[0] <= 1 {
			return x[0] == 1, nil
		}
	}
	s := strings.ToLower(strings.TrimSpace(toString(v)))
	switch s {
	case "t", "true", "1", "y", "yes":
		return true, nil
	case "f", "false", "0", "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("typemap: cannot convert %q to BOOLEAN", s)
}

func toTime(v any) (time.Time, error) {
	if ts, ok := v.(time.Time); ok {
		return ts, nil
	}
	s := strings.TrimSpace(toString(v))
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("typemap: cannot parse %q as a date", s)
}
