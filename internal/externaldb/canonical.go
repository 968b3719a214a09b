package externaldb

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// canonical renders a scanned column value as the text that is digested.
// typeName is the database type of the column, upper-cased, and is only
// consulted for temporal values.
func canonical(v any, typeName string) string {
	switch v := v.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		return formatTime(v, typeName)
	default:
		return fmt.Sprint(v)
	}
}

// formatFloat uses the shortest representation that round-trips. Integral
// values keep a ".0" suffix, and very small or very large magnitudes switch
// to exponent notation.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

func formatTime(t time.Time, typeName string) string {
	switch typeName {
	case "DATE":
		return t.Format(time.DateOnly)
	case "TIME", "TIMETZ":
		return formatClock(t, "15:04:05")
	}

	s := formatClock(t, time.DateTime)
	if typeName == "TIMESTAMPTZ" {
		s += t.Format("-07:00")
	}
	return s
}

// formatClock appends microseconds only when they are non-zero.
func formatClock(t time.Time, layout string) string {
	if t.Nanosecond()/1000 != 0 {
		layout += ".000000"
	}
	return t.Format(layout)
}
