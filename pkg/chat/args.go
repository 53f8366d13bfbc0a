package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Args is an ordered map of string argument names to string values.
//
// Values are never type-coerced; callers convert as needed. Iteration order is
// insertion order, which for parsed calls matches left-to-right declaration
// order in the source text.
//
// The zero value is not usable; create instances with [NewArgs].
type Args struct {
	keys []string
	vals map[string]string
}

// NewArgs returns an empty, ready-to-use Args.
func NewArgs() *Args {
	return &Args{vals: make(map[string]string)}
}

// Set stores value under key. Setting an existing key overwrites its value
// without changing its position.
func (a *Args) Set(key, value string) {
	if _, ok := a.vals[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.vals[key] = value
}

// Get returns the value stored under key and whether it was present.
func (a *Args) Get(key string) (string, bool) {
	v, ok := a.vals[key]
	return v, ok
}

// Keys returns the argument names in insertion order. The returned slice must
// not be mutated by the caller.
func (a *Args) Keys() []string {
	return a.keys
}

// Len returns the number of arguments.
func (a *Args) Len() int {
	return len(a.keys)
}

// Map returns a plain map copy of the arguments. Ordering is lost; use [Args.Keys]
// when order matters.
func (a *Args) Map() map[string]string {
	m := make(map[string]string, len(a.keys))
	for k, v := range a.vals {
		m[k] = v
	}
	return m
}

// JSONObject renders the arguments as a JSON object string, preserving key order.
func (a *Args) JSONObject() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(a.vals[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String()
}

// ParseJSONArgs decodes a JSON object string into Args, preserving the key
// order of the source document. Non-string values are kept as their literal
// JSON text (e.g. 5 → "5", true → "true", nested objects verbatim).
//
// Used by provider adapters that receive tool-call arguments as JSON.
func ParseJSONArgs(s string) (*Args, error) {
	args := NewArgs()
	if s == "" {
		return args, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("chat: parse args: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("chat: parse args: expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("chat: parse args: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("chat: parse args: non-string key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("chat: parse args: value for %q: %w", key, err)
		}

		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			// Not a JSON string: keep the literal text.
			str = string(raw)
		}
		args.Set(key, str)
	}

	return args, nil
}
