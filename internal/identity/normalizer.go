// normalizer.go - Coerces a loosely-typed provider object into canonical Fields

package identity

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// nullMarkers are string values providers use to mean "no value".
var nullMarkers = map[string]struct{}{
	"":        {},
	"null":    {},
	"n/a":     {},
	"na":      {},
	"none":    {},
	"unknown": {},
	"-":       {},
}

// Normalize resolves synonym keys, coerces scalars, validates dates, clamps the confidence
// estimate and derives full_name. Keys that no canonical field accepts are dropped.
func Normalize(obj map[string]any) Fields {
	var f Fields
	for _, name := range FieldNames {
		v, _, ok := Resolve(obj, name)
		if !ok {
			continue
		}
		if name == FieldConfidenceEstimate {
			f.ConfidenceEstimate = coerceConfidence(v)
			continue
		}
		s, ok := coerceString(v)
		if !ok {
			continue
		}
		f.Set(name, s)
	}

	for _, name := range DateFields {
		if v := f.Get(name); v != "" && !IsValidDate(v) {
			f.Set(name, "")
		}
	}

	f.DeriveFullName()
	return f
}

// IsValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
// Parsing then re-serialising must give back the same text, which rejects "2024-2-30" etc.
func IsValidDate(s string) bool {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return false
	}
	return t.Format(DateLayout) == s
}

func coerceString(v any) (string, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	if _, isNull := nullMarkers[strings.ToLower(s)]; isNull {
		return "", false
	}
	return s, true
}

func coerceConfidence(v any) *float64 {
	var c float64
	switch val := v.(type) {
	case float64:
		c = val
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		c = parsed
	case int:
		c = float64(val)
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "%"))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		c = parsed
		if strings.HasSuffix(strings.TrimSpace(val), "%") {
			c /= 100
		}
	default:
		return nil
	}
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return nil
	}
	c = math.Max(0, math.Min(1, c))
	return &c
}
