package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Params is an ordered mapping of parameter name to value. Values are one of
// string, int64, float64, bool, nil, []interface{} or map[string]interface{}.
type Params struct {
	keys   []string
	values map[string]interface{}
}

// NewParams builds Params from name/value pairs in order.
func NewParams(pairs ...interface{}) Params {
	var p Params
	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			continue
		}
		p.Set(name, Normalize(pairs[i+1]))
	}
	return p
}

// ParamsFromMap builds Params from a map. Keys are ordered lexically.
func ParamsFromMap(m map[string]interface{}) Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var p Params
	for _, k := range keys {
		p.Set(k, Normalize(m[k]))
	}
	return p
}

// Set assigns a value, keeping the original position of an existing name.
func (p *Params) Set(name string, value interface{}) {
	if p.values == nil {
		p.values = make(map[string]interface{})
	}
	if _, exists := p.values[name]; !exists {
		p.keys = append(p.keys, name)
	}
	p.values[name] = value
}

// Get returns the value for name.
func (p Params) Get(name string) (interface{}, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Has reports whether name is present.
func (p Params) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.keys)
}

// Keys returns parameter names in order.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Map returns a copy of the parameters as a plain map.
func (p Params) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	var c Params
	for _, k := range p.keys {
		c.Set(k, p.values[k])
	}
	return c
}

// String returns a string parameter.
func (p Params) String(name string) (string, bool) {
	s, ok := p.values[name].(string)
	return s, ok
}

// StringOr returns a string parameter or def when absent or empty.
func (p Params) StringOr(name, def string) string {
	if s, ok := p.String(name); ok && s != "" {
		return s
	}
	return def
}

// Int returns an integral parameter.
func (p Params) Int(name string) (int64, bool) {
	switch v := p.values[name].(type) {
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Float returns a numeric parameter.
func (p Params) Float(name string) (float64, bool) {
	switch v := p.values[name].(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Bool returns a boolean parameter.
func (p Params) Bool(name string) (bool, bool) {
	b, ok := p.values[name].(bool)
	return b, ok
}

// Slice returns an array parameter.
func (p Params) Slice(name string) ([]interface{}, bool) {
	s, ok := p.values[name].([]interface{})
	return s, ok
}

// Object returns an object parameter.
func (p Params) Object(name string) (map[string]interface{}, bool) {
	m, ok := p.values[name].(map[string]interface{})
	return m, ok
}

// MarshalJSON writes parameters in their original order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	parsed, err := decodeOrderedObject(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalCBOR encodes parameters as a canonical CBOR map.
func (p Params) MarshalCBOR() ([]byte, error) {
	return cborEnc.Marshal(p.Map())
}
