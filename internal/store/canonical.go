package store

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// stateObject decodes a candidate state document, requiring a JSON
// object at the top level. Numbers decode through interface{} so two
// encodings of the same document compare equal regardless of key order
// or whitespace.
func stateObject(raw json.RawMessage) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// statesEquivalent reports whether two documents are structurally
// identical. Used to turn a benign duplicate write into a success
// instead of a conflict.
func statesEquivalent(a, b json.RawMessage) bool {
	da, ok := stateObject(a)
	if !ok {
		return false
	}
	db, ok := stateObject(b)
	if !ok {
		return false
	}
	return reflect.DeepEqual(da, db)
}
