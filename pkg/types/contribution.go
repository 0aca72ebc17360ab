// Package types provides the data types exchanged between facetd and the
// matching layer that feeds it.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NumberKind identifies the numeric kind of a value or of an aggregation tree.
type NumberKind int

const (
	KindInteger NumberKind = iota
	KindFloating
)

// String returns the canonical name of the kind.
func (k NumberKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloating:
		return "floating"
	default:
		return fmt.Sprintf("NumberKind(%d)", int(k))
	}
}

// ParseNumberKind converts a kind name to NumberKind. Both the long/double
// names and the integer/floating names are accepted.
func ParseNumberKind(name string) (NumberKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "integer", "int", "long":
		return KindInteger, nil
	case "floating", "float", "double":
		return KindFloating, nil
	default:
		return 0, fmt.Errorf("unknown number kind: %s", name)
	}
}

// Number is a tagged numeric value as produced by the matching layer.
type Number struct {
	Kind  NumberKind
	Int   int64
	Float float64
}

// Int returns an integer Number.
func Int(v int64) Number {
	return Number{Kind: KindInteger, Int: v}
}

// Float returns a floating Number.
func Float(v float64) Number {
	return Number{Kind: KindFloating, Float: v}
}

// Float64 returns the value as a float64 regardless of kind.
func (n Number) Float64() float64 {
	if n.Kind == KindInteger {
		return float64(n.Int)
	}
	return n.Float
}

// IsFinite reports whether the value is a usable number.
func (n Number) IsFinite() bool {
	if n.Kind == KindInteger {
		return true
	}
	return !math.IsNaN(n.Float) && !math.IsInf(n.Float, 0)
}

// String formats the number without losing integer precision.
func (n Number) String() string {
	if n.Kind == KindInteger {
		return strconv.FormatInt(n.Int, 10)
	}
	return strconv.FormatFloat(n.Float, 'g', -1, 64)
}

// MarshalJSON encodes the number as a bare JSON number.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.IsFinite() {
		return nil, fmt.Errorf("types: cannot encode non-finite number %v", n.Float)
	}
	if n.Kind == KindFloating && n.Float == math.Trunc(n.Float) && math.Abs(n.Float) < 1e15 {
		// keep the kind visible on the wire
		return []byte(strconv.FormatFloat(n.Float, 'f', 1, 64)), nil
	}
	return []byte(n.String()), nil
}

// UnmarshalJSON decodes a JSON number. Literals containing a fraction or an
// exponent decode as floating, everything else as integer.
func (n *Number) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("types: invalid number %q: %w", text, err)
		}
		*n = Float(f)
		return nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("types: invalid number %q: %w", text, err)
	}
	*n = Int(i)
	return nil
}

// Key is an optional grouping key. The zero value is the absent key.
type Key struct {
	Value   string
	Present bool
}

// NoKey is the absent key used to address the implicit slot of an unkeyed node.
var NoKey = Key{}

// K returns a present key.
func K(value string) Key {
	return Key{Value: value, Present: true}
}

// String returns the key value, or "<none>" for the absent key.
func (k Key) String() string {
	if !k.Present {
		return "<none>"
	}
	return k.Value
}

// MarshalJSON encodes a present key as a string and the absent key as null.
func (k Key) MarshalJSON() ([]byte, error) {
	if !k.Present {
		return []byte("null"), nil
	}
	return json.Marshal(k.Value)
}

// UnmarshalJSON decodes a string or null.
func (k *Key) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*k = NoKey
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = K(s)
	return nil
}

// Path is an ordered key path, one key per aggregation level.
type Path []Key

// ParsePath decodes a JSON array of strings and nulls.
func ParsePath(text string) (Path, error) {
	var p Path
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("types: invalid key path %q: %w", text, err)
	}
	return p, nil
}

// String returns the JSON form of the path.
func (p Path) String() string {
	if len(p) == 0 {
		return "[]"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Contribution is a single (key path, value, weight) record emitted by the
// matching layer for a matched document.
type Contribution struct {
	// DocID identifies the matched document within its partition
	DocID int64 `json:"doc_id"`

	// Path addresses the slot at each aggregation level
	Path Path `json:"path"`

	// Value is the contributed numeric value
	Value Number `json:"value"`

	// Weight is the number of times Value is counted (non-negative)
	Weight int64 `json:"weight"`

	// Fault is set when the source could not decode the record; the
	// contribution is then recorded as a data error instead of accumulated
	Fault string `json:"fault,omitempty"`
}
