package document

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"k8s.io/apimachinery/pkg/util/json"
)

// sort order of kinds across types: numbers share a rank
func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 1
	case KindInt, KindDouble:
		return 2
	case KindString:
		return 3
	case KindObject:
		return 4
	case KindArray:
		return 5
	case KindObjectID:
		return 6
	case KindBool:
		return 7
	case KindTimestamp:
		return 8
	default:
		return 9
	}
}

// Compare defines a total order over normalized values: null < numbers < strings < objects <
// arrays < object ids < bools < timestamps. Numbers compare numerically regardless of int or
// double representation. Returns -1, 0 or 1.
func Compare(a, b any) int {
	ka, kb := KindOf(a), KindOf(b)
	if ra, rb := kindRank(ka), kindRank(kb); ra != rb {
		return cmpInt(ra, rb)
	}

	switch ka { //nolint:exhaustive
	case KindNull:
		return 0
	case KindInt, KindDouble:
		return CompareNumbers(a, b)
	case KindString:
		return cmpString(a.(string), b.(string))
	case KindBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case KindTimestamp:
		return a.(time.Time).Compare(b.(time.Time))
	case KindObjectID:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case KindArray:
		la, lb := a.([]any), b.([]any)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := Compare(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(la), len(lb))
	case KindObject:
		ma, mb := a.(map[string]any), b.(map[string]any)
		keysA, keysB := sortedKeys(ma), sortedKeys(mb)
		for i := 0; i < len(keysA) && i < len(keysB); i++ {
			if c := cmpString(keysA[i], keysB[i]); c != 0 {
				return c
			}
			if c := Compare(ma[keysA[i]], mb[keysB[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(keysA), len(keysB))
	}

	// not normalized: fall back to the string form
	return cmpString(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

// CompareMissing extends Compare with absent values, which sort before everything else.
func CompareMissing(a any, aFound bool, b any, bFound bool) int {
	switch {
	case !aFound && !bFound:
		return 0
	case !aFound:
		return -1
	case !bFound:
		return 1
	}
	return Compare(a, b)
}

// Equal returns true if two normalized values are equal under Compare.
func Equal(a, b any) bool { return Compare(a, b) == 0 }

// CompareNumbers compares two numeric values exactly: an int and a double are equal only if the
// double holds exactly the same integer. NaN sorts before every other number.
func CompareNumbers(a, b any) int {
	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return cmpInt64(ia, ib)
	case aInt:
		fb, _ := AsFloat(b)
		return -cmpFloatInt(fb, ia)
	case bInt:
		fa, _ := AsFloat(a)
		return cmpFloatInt(fa, ib)
	}
	fa, _ := AsFloat(a)
	fb, _ := AsFloat(b)
	return cmpFloat(fa, fb)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	default:
		return 1
	}
}

// cmpFloatInt compares a double to an int without rounding the int.
func cmpFloatInt(f float64, i int64) int {
	switch {
	case math.IsNaN(f):
		return -1
	case f >= 1<<63:
		return 1
	case f < -1<<63:
		return -1
	}
	t := math.Trunc(f)
	if c := cmpInt64(int64(t), i); c != 0 {
		return c
	}
	return cmpFloat(f, t)
}

// asInt64 returns the int64 holding exactly the value of an integral double.
func asInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f >= 1<<63 || f < -1<<63 {
		return 0, false
	}
	return int64(f), true
}

// AsFloat converts a numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Key returns a canonical string key of a normalized value such that two values have the same key
// iff they are Equal. Used for grouping and _id identity.
func Key(v any) string {
	b, err := json.Marshal(canonical(v))
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// canonical tags values whose JSON form would collide with another kind or lose precision.
// Objects are wrapped so that a user object never looks like a marker.
func canonical(v any) any {
	switch x := v.(type) {
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, e := range x {
			ret[k] = canonical(e)
		}
		return map[string]any{"$obj": ret}
	case []any:
		ret := make([]any, len(x))
		for i := range x {
			ret[i] = canonical(x[i])
		}
		return ret
	case time.Time:
		return map[string]any{"$date": x.UTC().Format(time.RFC3339Nano)}
	case primitive.ObjectID:
		return map[string]any{"$oid": x.Hex()}
	case float64:
		if i, ok := asInt64(x); ok {
			return i
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return map[string]any{"$double": strconv.FormatFloat(x, 'g', -1, 64)}
		}
		return x
	default:
		return x
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
