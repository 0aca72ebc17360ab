package facet

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Result is a materialized node: its selected slots in output order.
type Result struct {
	Items []ResultItem `json:"items"`
}

// ResultItem is one materialized slot.
type ResultItem struct {
	// Key is nil for the implicit slot of an unkeyed node.
	Key          *string  `json:"key"`
	Stats        Stats    `json:"stats"`
	SourceNumber int64    `json:"sourceNumber"`
	ErrorCount   int64    `json:"errorCount"`
	ErrorSamples []string `json:"errorSamples,omitempty"`
	Sub          *Result  `json:"sub,omitempty"`
}

// Find returns the item with the given key.
func (r *Result) Find(key string) (ResultItem, bool) {
	if r == nil {
		return ResultItem{}, false
	}
	for _, item := range r.Items {
		if item.Key != nil && *item.Key == key {
			return item, true
		}
	}
	return ResultItem{}, false
}

// Keys returns item keys in output order, skipping the implicit slot.
func (r *Result) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Key != nil {
			keys = append(keys, *item.Key)
		}
	}
	return keys
}

// Stats maps statistic names to values. Undefined statistics are NaN and
// encode as JSON null.
type Stats map[string]float64

// MarshalJSON writes keys in sorted order.
func (s Stats) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v := s[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads null values back as NaN.
func (s *Stats) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Stats, len(raw))
	for name, v := range raw {
		if v == nil {
			out[name] = math.NaN()
			continue
		}
		out[name] = *v
	}
	*s = out
	return nil
}
