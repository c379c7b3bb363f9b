// Package document implements the value model of the engine: untyped documents whose values
// belong to a closed set of kinds, plus the deep copy, equality, ordering and dotted-path helpers
// every other package builds on.
package document

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/l7mp/socialdb/pkg/dberrors"
)

// IDField is the name of the primary key field.
const IDField = "_id"

// Document represents an unstructured document as map[string]any. Values are one of the kinds
// listed by Kind; use Normalize to bring arbitrary Go values into this form.
type Document = map[string]any

// Kind is the closed set of value kinds a document may hold.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindInt
	KindDouble
	KindString
	KindTimestamp
	KindObjectID
	KindArray
	KindObject
)

var kindNames = map[Kind]string{
	KindInvalid:   "invalid",
	KindNull:      "null",
	KindBool:      "bool",
	KindInt:       "int",
	KindDouble:    "double",
	KindString:    "string",
	KindTimestamp: "timestamp",
	KindObjectID:  "objectId",
	KindArray:     "array",
	KindObject:    "object",
}

func (k Kind) String() string { return kindNames[k] }

// IsNumeric returns true for int and double kinds.
func (k Kind) IsNumeric() bool { return k == KindInt || k == KindDouble }

// KindOf returns the kind of a normalized value. Values that are not normalized yield
// KindInvalid.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindDouble
	case string:
		return KindString
	case time.Time:
		return KindTimestamp
	case primitive.ObjectID:
		return KindObjectID
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindInvalid
	}
}

// New creates a normalized deep copy of a document given as any supported map type.
func New(v any) (Document, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	doc, ok := n.(Document)
	if !ok {
		return nil, dberrors.NewValidation("expected a document, got %s", KindOf(n))
	}
	return doc, nil
}

// Normalize converts a Go value into the closed value model, returning a fresh copy for
// containers. Integers become int64, floats become float64, timestamps are moved to UTC, bson
// containers become plain maps and slices. Unsupported types are rejected with a validation
// error.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, primitive.ObjectID:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		return fromUint(uint64(x))
	case uint64:
		return fromUint(x)
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case time.Time:
		return x.UTC(), nil
	case primitive.DateTime:
		return x.Time().UTC(), nil
	case map[string]any:
		return normalizeMap(x)
	case primitive.M:
		return normalizeMap(x)
	case primitive.D:
		ret := make(Document, len(x))
		for _, e := range x {
			n, err := Normalize(e.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", e.Key, err)
			}
			ret[e.Key] = n
		}
		return ret, nil
	case []any:
		return normalizeSlice(x)
	case primitive.A:
		return normalizeSlice(x)
	}

	// typed slices and maps, e.g., []string or map[string]int64
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive
	case reflect.Slice, reflect.Array:
		ret := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			ret[i] = n
		}
		return ret, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, dberrors.NewValidation("unsupported map key type %s", rv.Type().Key())
		}
		ret := make(Document, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			ret[iter.Key().String()] = n
		}
		return ret, nil
	}

	return nil, dberrors.NewValidation("unsupported value type %T", v)
}

func fromUint(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, dberrors.NewValidation("integer %d overflows int64", u)
	}
	return int64(u), nil
}

func normalizeMap(m map[string]any) (Document, error) {
	ret := make(Document, len(m))
	for k, v := range m {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		ret[k] = n
	}
	return ret, nil
}

func normalizeSlice(s []any) ([]any, error) {
	ret := make([]any, len(s))
	for i, v := range s {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		ret[i] = n
	}
	return ret, nil
}

// DeepCopy copies a normalized value. Scalars, timestamps and object ids are immutable and are
// returned as is.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return DeepCopyDocument(x)
	case []any:
		ret := make([]any, len(x))
		for i := range x {
			ret[i] = DeepCopy(x[i])
		}
		return ret
	default:
		return x
	}
}

// DeepCopyDocument copies a document.
func DeepCopyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	ret := make(Document, len(doc))
	for k, v := range doc {
		ret[k] = DeepCopy(v)
	}
	return ret
}

// ShallowCopy copies the top level of a document.
func ShallowCopy(doc Document) Document {
	ret := make(Document, len(doc)+1)
	for k, v := range doc {
		ret[k] = v
	}
	return ret
}

// GetID returns the _id of a document.
func GetID(doc Document) (any, bool) {
	id, ok := doc[IDField]
	return id, ok
}

// NewID generates a fresh document id.
func NewID() primitive.ObjectID { return primitive.NewObjectID() }
