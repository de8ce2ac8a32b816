package eventbus

import "strings"

// Kind restricts the shape of an extracted value.
type Kind int

const (
	// KindAny accepts a non-empty string or a non-empty list.
	KindAny Kind = iota
	// KindString accepts only a non-empty string.
	KindString
	// KindList accepts only a non-empty list.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "any"
	}
}

// Extract returns the first usable value in v. Objects are searched for keys
// in order, first at the top level and then inside a nested "data" object;
// a bare string or list is accepted as is. With a hint, string values must
// contain it.
func Extract(v interface{}, keys []string, kind Kind, hint string) (interface{}, bool) {
	if obj, ok := v.(map[string]interface{}); ok {
		return ExtractKeyed(obj, keys, kind, hint)
	}

	return acceptValue(v, kind, hint)
}

// ExtractKeyed is Extract restricted to objects carrying one of keys.
func ExtractKeyed(v interface{}, keys []string, kind Kind, hint string) (interface{}, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}

	if val, ok := extractFromObject(obj, keys, kind, hint); ok {
		return val, true
	}

	if data, ok := obj["data"].(map[string]interface{}); ok {
		return extractFromObject(data, keys, kind, hint)
	}

	return nil, false
}

func extractFromObject(obj map[string]interface{}, keys []string, kind Kind, hint string) (interface{}, bool) {
	for _, key := range keys {
		raw, present := obj[key]
		if !present {
			continue
		}

		if val, ok := acceptValue(raw, kind, hint); ok {
			return val, true
		}
	}

	return nil, false
}

func acceptValue(v interface{}, kind Kind, hint string) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		if kind == KindList || strings.TrimSpace(t) == "" {
			return nil, false
		}

		if hint != "" && !strings.Contains(t, hint) {
			return nil, false
		}

		return t, true
	case []interface{}:
		if kind == KindString || len(t) == 0 {
			return nil, false
		}

		return t, true
	default:
		return nil, false
	}
}
