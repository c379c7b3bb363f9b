package document

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/socialdb/pkg/dberrors"
)

const (
	oidMarker  = "$oid"
	dateMarker = "$date"
)

// Decode parses a YAML or JSON text into the value model. Integral numbers decode to int64,
// extended-JSON markers are converted by FromExtendedJSON.
func Decode(data []byte) (any, error) {
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, dberrors.NewValidation("cannot parse input: %s", err)
	}

	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return nil, dberrors.NewValidation("cannot parse input: %s", err)
	}

	return FromExtendedJSON(v)
}

// FromExtendedJSON normalizes a decoded value, converting {"$oid": "<hex>"} objects to ObjectIDs
// and {"$date": "<RFC3339>"} objects to timestamps.
func FromExtendedJSON(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if hex, ok := x[oidMarker]; ok {
				s, ok := hex.(string)
				if !ok {
					return nil, dberrors.NewValidation("%s: expected a hex string, got %T", oidMarker, hex)
				}
				oid, err := primitive.ObjectIDFromHex(s)
				if err != nil {
					return nil, dberrors.NewValidation("%s: %s", oidMarker, err)
				}
				return oid, nil
			}
			if date, ok := x[dateMarker]; ok {
				return parseDate(date)
			}
		}
		ret := make(Document, len(x))
		for k, e := range x {
			n, err := FromExtendedJSON(e)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			ret[k] = n
		}
		return ret, nil
	case []any:
		ret := make([]any, len(x))
		for i := range x {
			n, err := FromExtendedJSON(x[i])
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			ret[i] = n
		}
		return ret, nil
	default:
		return Normalize(v)
	}
}

func parseDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, dberrors.NewValidation("%s: %s", dateMarker, err)
		}
		return t.UTC(), nil
	case int64:
		// milliseconds since the epoch
		return time.UnixMilli(x).UTC(), nil
	case time.Time:
		return x.UTC(), nil
	}
	return time.Time{}, dberrors.NewValidation("%s: unsupported value %v", dateMarker, v)
}

// ToExtendedJSON converts a value into a form that encodes to plain JSON or YAML: ObjectIDs and
// timestamps become $oid and $date objects.
func ToExtendedJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, e := range x {
			ret[k] = ToExtendedJSON(e)
		}
		return ret
	case []any:
		ret := make([]any, len(x))
		for i := range x {
			ret[i] = ToExtendedJSON(x[i])
		}
		return ret
	case primitive.ObjectID:
		return map[string]any{oidMarker: x.Hex()}
	case time.Time:
		return map[string]any{dateMarker: x.UTC().Format(time.RFC3339Nano)}
	default:
		return x
	}
}
