package bluesky

import (
	"encoding/json"
	"math"
	"strconv"
)

// Document names understood by Router.
const (
	DocStart      = "start"
	DocDescriptor = "descriptor"
	DocEvent      = "event"
	DocEventPage  = "event_page"
	DocStop       = "stop"
	DocResource   = "resource"
	DocDatum      = "datum"
	DocDatumPage  = "datum_page"
)

// Document is a decoded acquisition document. Nested mappings decode as
// map[string]any (or Document when constructed in Go).
type Document map[string]any

// String returns the string stored under key, or "" when absent or not a
// string.
func (d Document) String(key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}

// Map returns the nested mapping stored under key, or nil.
func (d Document) Map(key string) Document {
	if d == nil {
		return nil
	}
	return asDocument(d[key])
}

// Strings returns the list of strings stored under key. Non-string entries
// are skipped.
func (d Document) Strings(key string) []string {
	if d == nil {
		return nil
	}
	switch v := d[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Float returns the number stored under key.
func (d Document) Float(key string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	f := toFloat(v)
	return f, !math.IsNaN(f)
}

func asDocument(v any) Document {
	switch m := v.(type) {
	case Document:
		return m
	case map[string]any:
		return Document(m)
	}
	return nil
}

// toFloat converts a decoded reading into a float64. Values that are not
// numeric (arrays, strings, nil) become NaN so that column lengths stay
// aligned.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}
