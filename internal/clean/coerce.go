package clean

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// toInt coerces v to an integer. Thousands separators are dropped and a
// fractional part is truncated, so "1,200,000" is 1200000 and "3.0" is 3.
// Anything unusable is absent.
func toInt(v any) *int64 {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		n := int64(x)
		return &n
	case int32:
		n := int64(x)
		return &n
	case int64:
		return &x
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		return parseInt(x.String())
	case string:
		return parseInt(x)
	}
	return nil
}

func parseInt(s string) *int64 {
	s = numericText(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return floatToInt(f)
}

func floatToInt(f float64) *int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int64(f)
	return &n
}

// toFloat coerces v to a finite float64.
func toFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number, string:
		s := numericText(fmt.Sprint(x))
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toString trims v; empty is absent.
func toString(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func numericText(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", "")
}
