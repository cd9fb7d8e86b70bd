package domain

import (
	"encoding/json"
	"strings"
)

// jsonStringField walks a dotted path ("sourceSystem.code") through a JSON
// object and returns the leaf value stringified, or ok=false if any segment
// is missing or not an object/scalar.
func jsonStringField(doc []byte, path string) (string, bool) {
	var root map[string]interface{}
	if err := json.Unmarshal(doc, &root); err != nil {
		return "", false
	}
	v, ok := walk(root, strings.Split(path, "."))
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return trimFloat(t), true
	default:
		return "", false
	}
}

func walk(obj map[string]interface{}, segments []string) (interface{}, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	v, ok := obj[segments[0]]
	if !ok {
		return nil, false
	}
	if len(segments) == 1 {
		return v, true
	}
	next, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return walk(next, segments[1:])
}

func trimFloat(f float64) string {
	// Logical ids that happen to be numeric are rare; render without a
	// trailing ".0" for the common whole-number case.
	if f == float64(int64(f)) {
		return jsonInt(int64(f))
	}
	b, _ := json.Marshal(f)
	return string(b)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
