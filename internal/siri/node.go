package siri

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Node is a read-only view over a decoded, untyped JSON value. Lookups on a
// missing key or a value of the wrong kind yield an absent Node instead of
// failing, so callers can chain paths and decide on defaults at the leaf.
type Node struct {
	v  any
	ok bool
}

// Wrap returns a Node around an already-decoded JSON value.
func Wrap(v any) Node { return Node{v: v, ok: true} }

// Decode parses a JSON document into a Node. Numbers are kept as json.Number
// so integer identifiers survive without float rounding.
func Decode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Node{}, fmt.Errorf("%w: decode json: %v", ErrEnvelope, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Node{}, fmt.Errorf("%w: trailing data after json payload", ErrEnvelope)
	}
	return Wrap(v), nil
}

// Exists reports whether the node holds a non-null value.
func (n Node) Exists() bool { return n.ok && n.v != nil }

// Raw returns the underlying decoded value.
func (n Node) Raw() any { return n.v }

// Get returns the member key of an object node.
func (n Node) Get(key string) Node {
	m, ok := n.v.(map[string]any)
	if !ok {
		return Node{}
	}
	v, ok := m[key]
	return Node{v: v, ok: ok}
}

// Path follows a chain of object keys.
func (n Node) Path(keys ...string) Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
		if !cur.Exists() {
			return Node{}
		}
	}
	return cur
}

// Index returns element i of an array node.
func (n Node) Index(i int) Node {
	arr, ok := n.v.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return Node{}
	}
	return Node{v: arr[i], ok: true}
}

// IsArray reports whether the node is a JSON array.
func (n Node) IsArray() bool {
	_, ok := n.v.([]any)
	return ok
}

// Items returns the elements of an array node, or nil.
func (n Node) Items() []Node {
	arr, ok := n.v.([]any)
	if !ok {
		return nil
	}
	out := make([]Node, len(arr))
	for i, v := range arr {
		out[i] = Node{v: v, ok: true}
	}
	return out
}

// Text returns the node as a string. Numbers and booleans are rendered in
// their JSON form; objects and arrays are not text.
func (n Node) Text() (string, bool) {
	switch v := n.v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// TextOr returns Text or def when absent.
func (n Node) TextOr(def string) string {
	if s, ok := n.Text(); ok {
		return s
	}
	return def
}

// Float returns the node as a float64. Numeric strings are accepted.
func (n Node) Float() (float64, bool) {
	var (
		f   float64
		err error
	)
	switch v := n.v.(type) {
	case json.Number:
		f, err = v.Float64()
	case float64:
		f = v
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FloatOr returns Float or def when absent.
func (n Node) FloatOr(def float64) float64 {
	if f, ok := n.Float(); ok {
		return f
	}
	return def
}

// Int returns the node as an int, truncating fractional values.
func (n Node) Int() (int, bool) {
	if num, ok := n.v.(json.Number); ok {
		if i, err := num.Int64(); err == nil {
			return int(i), true
		}
	}
	f, ok := n.Float()
	if !ok {
		return 0, false
	}
	return int(f), true
}

// IntOr returns Int or def when absent.
func (n Node) IntOr(def int) int {
	if i, ok := n.Int(); ok {
		return i
	}
	return def
}

// Bool returns the node as a bool. The strings "true"/"false" (any case) are accepted.
func (n Node) Bool() (bool, bool) {
	switch v := n.v.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// BoolOr returns Bool or def when absent.
func (n Node) BoolOr(def bool) bool {
	if b, ok := n.Bool(); ok {
		return b
	}
	return def
}
