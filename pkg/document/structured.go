package document

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Elem is a key-value pair of a structured description.
type Elem struct {
	Key   string
	Value any
}

// Elems converts a structured object (bson.D, bson.M or map[string]any) into an ordered list of
// key-value pairs. bson.D keeps its order, maps are sorted by key.
func Elems(v any) ([]Elem, bool) {
	switch x := v.(type) {
	case primitive.D:
		ret := make([]Elem, len(x))
		for i, e := range x {
			ret[i] = Elem{Key: e.Key, Value: e.Value}
		}
		return ret, true
	case primitive.M:
		return sortedElems(x), true
	case map[string]any:
		return sortedElems(x), true
	}
	return nil, false
}

// Ordered reports whether v is a structured object whose key order is meaningful.
func Ordered(v any) bool {
	_, ok := v.(primitive.D)
	return ok
}

func sortedElems(m map[string]any) []Elem {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ret := make([]Elem, len(keys))
	for i, k := range keys {
		ret[i] = Elem{Key: k, Value: m[k]}
	}
	return ret
}

// List converts a structured array (bson.A or []any) into a slice.
func List(v any) ([]any, bool) {
	switch x := v.(type) {
	case primitive.A:
		return []any(x), true
	case []any:
		return x, true
	}
	return nil, false
}
