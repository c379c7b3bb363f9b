package predicate

import (
	"fmt"
	"math"
	"strings"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
)

// Parse converts a structured filter description into a Filter, e.g.,
// bson.D{{"metrics.likes", bson.M{"$gte": 10}}} or
// map[string]any{"$or": []any{map[string]any{"hashtags": "#mongodb"}, ...}}. A nil or empty
// description matches every document. Unknown operators are validation errors.
func Parse(spec any) (Filter, error) {
	if spec == nil {
		return All(), nil
	}
	if f, ok := spec.(Filter); ok {
		return f, f.Validate()
	}

	elems, ok := document.Elems(spec)
	if !ok {
		return Filter{}, dberrors.NewValidation("filter must be an object, got %T", spec)
	}

	filters := []Filter{}
	for _, e := range elems {
		var f Filter
		var err error
		if strings.HasPrefix(e.Key, "$") {
			f, err = parseLogical(Op(e.Key), e.Value)
		} else {
			f, err = parseField(e.Key, e.Value)
		}
		if err != nil {
			return Filter{}, err
		}
		filters = append(filters, f)
	}

	var ret Filter
	switch len(filters) {
	case 0:
		return All(), nil
	case 1:
		ret = filters[0]
	default:
		ret = And(filters...)
	}

	return ret, ret.Validate()
}

func parseLogical(op Op, v any) (Filter, error) {
	switch op {
	case OpAnd, OpOr, OpNor:
	default:
		return Filter{}, dberrors.NewValidation("unknown top-level operator %q", op)
	}

	list, ok := document.List(v)
	if !ok {
		return Filter{}, dberrors.NewValidation("%s expects an array of filters, got %T", op, v)
	}

	subs := make([]Filter, 0, len(list))
	for i, s := range list {
		f, err := Parse(s)
		if err != nil {
			return Filter{}, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		subs = append(subs, f)
	}

	return boolean(op, subs), nil
}

func parseField(path string, v any) (Filter, error) {
	elems, ok := document.Elems(v)
	if !ok || !isOperatorObject(elems) {
		val, err := literal(v)
		if err != nil {
			return Filter{}, err
		}
		return Eq(path, val), nil
	}

	filters := []Filter{}
	var regex, options string
	hasRegex := false
	for _, e := range elems {
		op := Op(e.Key)
		switch op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			val, err := literal(e.Value)
			if err != nil {
				return Filter{}, err
			}
			filters = append(filters, field(path, op, val))
		case OpIn, OpNin:
			val, err := literal(e.Value)
			if err != nil {
				return Filter{}, err
			}
			list, ok := val.([]any)
			if !ok {
				return Filter{}, dberrors.NewValidation("%s on %q expects an array, got %T",
					op, path, e.Value)
			}
			if op == OpIn {
				filters = append(filters, In(path, list...))
			} else {
				filters = append(filters, Nin(path, list...))
			}
		case OpExists:
			b, ok := e.Value.(bool)
			if !ok {
				return Filter{}, dberrors.NewValidation("$exists on %q expects a bool, got %T",
					path, e.Value)
			}
			filters = append(filters, Exists(path, b))
		case OpSize:
			n, err := document.Normalize(e.Value)
			if err != nil {
				return Filter{}, err
			}
			i, ok := n.(int64)
			if f, isDouble := n.(float64); isDouble && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				i, ok = int64(f), true
			}
			if !ok {
				return Filter{}, dberrors.NewValidation("$size on %q expects an integer, got %v",
					path, e.Value)
			}
			filters = append(filters, Size(path, int(i)))
		case OpRegex:
			s, ok := e.Value.(string)
			if !ok {
				return Filter{}, dberrors.NewValidation("$regex on %q expects a string, got %T",
					path, e.Value)
			}
			regex, hasRegex = s, true
		case "$options":
			s, ok := e.Value.(string)
			if !ok {
				return Filter{}, dberrors.NewValidation("$options on %q expects a string", path)
			}
			options = s
		case OpNot:
			sub, err := parseField(path, e.Value)
			if err != nil {
				return Filter{}, err
			}
			filters = append(filters, Not(sub))
		default:
			return Filter{}, dberrors.NewValidation("unknown operator %q on field %q", op, path)
		}
	}

	if hasRegex {
		if options != "" {
			regex = "(?" + options + ")" + regex
		}
		filters = append(filters, Regex(path, regex))
	} else if options != "" {
		return Filter{}, dberrors.NewValidation("$options on %q without $regex", path)
	}

	if len(filters) == 1 {
		return filters[0], nil
	}
	return And(filters...), nil
}

// literal normalizes a value and converts extended-JSON markers.
func literal(v any) (any, error) {
	n, err := document.Normalize(v)
	if err != nil {
		return nil, err
	}
	return document.FromExtendedJSON(n)
}

// isOperatorObject decides if an object is an operator object ({"$gt": 1}) or a literal. Mixing
// operators and plain keys is reported later as an unknown operator. Extended-JSON markers are
// literals.
func isOperatorObject(elems []document.Elem) bool {
	if len(elems) == 0 {
		return false
	}
	if len(elems) == 1 && (elems[0].Key == "$oid" || elems[0].Key == "$date") {
		return false
	}
	for _, e := range elems {
		if strings.HasPrefix(e.Key, "$") {
			return true
		}
	}
	return false
}
