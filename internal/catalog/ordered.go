package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Keyboard documents are authored as JSON objects whose entry order defines
// button order, so they cannot be decoded into Go maps. entry is one
// key/value pair of such an object; Nested is non-nil when the value is
// itself an object (a multi-button row).
type entry struct {
	Key    string
	Value  string
	Nested []entry
}

// parseOrderedObject decodes a JSON object preserving entry order.
func parseOrderedObject(data []byte) ([]entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	return parseObjectBody(dec)
}

func parseObjectBody(dec *json.Decoder) ([]entry, error) {
	var out []entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := valTok.(type) {
		case string:
			out = append(out, entry{Key: key, Value: v})
		case json.Delim:
			if v != '{' {
				return nil, fmt.Errorf("key %q: unsupported value delimiter %v", key, v)
			}
			nested, err := parseObjectBody(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, entry{Key: key, Nested: nested})
		default:
			return nil, fmt.Errorf("key %q: unsupported value %v", key, valTok)
		}
	}
	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}
