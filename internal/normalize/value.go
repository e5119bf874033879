package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
)

// Value is a decoded JSON document that remembers the order of its top-level
// object keys, so "first match" rules follow the document rather than map
// iteration order.
type Value struct {
	Data any
	Keys []string
}

// Decode parses raw JSON. Numbers decode as float64.
func Decode(raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}, errors.New("empty body")
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Value{}, err
	}
	v := Value{Data: data}
	if _, ok := data.(map[string]any); ok {
		keys, err := topLevelKeys(raw)
		if err != nil {
			return Value{}, err
		}
		v.Keys = keys
	}
	return v, nil
}

// FromAny wraps an already decoded value. Object keys are sorted since their
// original order is unknown.
func FromAny(data any) Value {
	v := Value{Data: data}
	if m, ok := data.(map[string]any); ok {
		v.Keys = make([]string, 0, len(m))
		for k := range m {
			v.Keys = append(v.Keys, k)
		}
		sort.Strings(v.Keys)
	}
	return v
}

func (v Value) Object() (map[string]any, bool) {
	m, ok := v.Data.(map[string]any)
	return m, ok
}

func (v Value) field(key string) (any, bool) {
	m, ok := v.Object()
	if !ok {
		return nil, false
	}
	f, ok := m[key]
	if !ok || f == nil {
		return nil, false
	}
	return f, true
}

func topLevelKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("object key is not a string")
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil && err != io.EOF {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}
