package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONBody is a loosely typed request body used on the direct path, where
// the client's payload is forwarded with only a few fields rewritten.
type JSONBody map[string]interface{}

// DecodeJSONBody parses raw into a JSONBody, keeping numbers exact
func DecodeJSONBody(raw []byte) (JSONBody, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body JSONBody
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("invalid JSON body: not an object")
	}
	return body, nil
}

// Object returns the nested object at key, creating it when absent
func (b JSONBody) Object(key string) map[string]interface{} {
	if m, ok := b[key].(map[string]interface{}); ok {
		return m
	}
	m := make(map[string]interface{})
	b[key] = m
	return m
}

// Encode marshals the body back to JSON
func (b JSONBody) Encode() ([]byte, error) {
	return json.Marshal(b)
}
