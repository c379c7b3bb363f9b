// Package predicate implements filters: structured constraints over document fields that decide
// whether a single document matches.
package predicate

import (
	encodingjson "encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/util"
)

var _ encodingjson.Marshaler = Filter{}
var _ encodingjson.Unmarshaler = &Filter{}

// Op is a filter operator.
type Op string

const (
	OpEq     Op = "$eq"
	OpNe     Op = "$ne"
	OpGt     Op = "$gt"
	OpGte    Op = "$gte"
	OpLt     Op = "$lt"
	OpLte    Op = "$lte"
	OpIn     Op = "$in"
	OpNin    Op = "$nin"
	OpExists Op = "$exists"
	OpSize   Op = "$size"
	OpRegex  Op = "$regex"

	OpAnd Op = "$and"
	OpOr  Op = "$or"
	OpNor Op = "$nor"
	OpNot Op = "$not"
)

// FieldPredicate is an elemental constraint on the value at a dotted field path.
type FieldPredicate struct {
	Path  string
	Op    Op
	Value any

	re  *regexp.Regexp
	err error
}

// BoolPredicate is a logical combination of filters.
type BoolPredicate struct {
	Op      Op
	Filters []Filter
}

// Filter is the top level representation of a filter: either a field predicate or a bool
// predicate. The zero value matches every document.
type Filter struct {
	*FieldPredicate `json:",inline"`
	*BoolPredicate  `json:",inline"`
}

// All returns a filter that matches every document.
func All() Filter { return Filter{} }

func field(path string, op Op, value any) Filter {
	p := &FieldPredicate{Path: path, Op: op}
	if err := document.ValidatePath(path); err != nil {
		p.err = err
		return Filter{FieldPredicate: p}
	}
	v, err := document.Normalize(value)
	if err != nil {
		p.err = err
		return Filter{FieldPredicate: p}
	}
	p.Value = v
	return Filter{FieldPredicate: p}
}

func boolean(op Op, filters []Filter) Filter {
	return Filter{BoolPredicate: &BoolPredicate{Op: op, Filters: filters}}
}

// Eq matches documents whose field equals value. An array field also matches if any of its
// elements equals value.
func Eq(path string, value any) Filter { return field(path, OpEq, value) }

// Ne matches documents that do not match Eq(path, value), including documents without the field.
func Ne(path string, value any) Filter { return field(path, OpNe, value) }

// Gt matches documents whose field is greater than value.
func Gt(path string, value any) Filter { return field(path, OpGt, value) }

// Gte matches documents whose field is greater than or equal to value.
func Gte(path string, value any) Filter { return field(path, OpGte, value) }

// Lt matches documents whose field is less than value.
func Lt(path string, value any) Filter { return field(path, OpLt, value) }

// Lte matches documents whose field is less than or equal to value.
func Lte(path string, value any) Filter { return field(path, OpLte, value) }

// In matches documents whose field equals one of values.
func In(path string, values ...any) Filter { return field(path, OpIn, values) }

// Nin matches documents that do not match In(path, values...).
func Nin(path string, values ...any) Filter { return field(path, OpNin, values) }

// Exists matches documents where the field is present (exists=true) or absent (exists=false). A
// null value counts as present.
func Exists(path string, exists bool) Filter { return field(path, OpExists, exists) }

// Size matches documents whose field is an array of exactly n elements.
func Size(path string, n int) Filter { return field(path, OpSize, n) }

// Regex matches documents whose string field matches the RE2 pattern. The pattern is compiled
// once, a malformed pattern is reported by Validate and Match.
func Regex(path, pattern string) Filter {
	f := field(path, OpRegex, pattern)
	if f.FieldPredicate.err == nil {
		re, err := regexp.Compile(pattern)
		if err != nil {
			f.FieldPredicate.err = dberrors.NewValidation("invalid $regex %q: %s", pattern, err)
		}
		f.FieldPredicate.re = re
	}
	return f
}

// And matches documents that match all filters.
func And(filters ...Filter) Filter { return boolean(OpAnd, filters) }

// Or matches documents that match at least one of the filters.
func Or(filters ...Filter) Filter { return boolean(OpOr, filters) }

// Nor matches documents that match none of the filters.
func Nor(filters ...Filter) Filter { return boolean(OpNor, filters) }

// Not negates a filter.
func Not(filter Filter) Filter { return boolean(OpNot, []Filter{filter}) }

// IsAll returns true for the match-all filter.
func (f Filter) IsAll() bool { return f.FieldPredicate == nil && f.BoolPredicate == nil }

// Validate checks the filter for construction errors: malformed paths, values or patterns, and
// operator arguments of the wrong kind.
func (f Filter) Validate() error {
	switch {
	case f.FieldPredicate != nil:
		return f.FieldPredicate.validate()
	case f.BoolPredicate != nil:
		return f.BoolPredicate.validate()
	}
	return nil
}

func (p *FieldPredicate) validate() error {
	if p.err != nil {
		return p.err
	}
	switch p.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
	case OpIn, OpNin:
		if _, ok := p.Value.([]any); !ok {
			return dberrors.NewValidation("%s on %q expects an array, got %s", p.Op, p.Path,
				document.KindOf(p.Value))
		}
	case OpExists:
		if _, ok := p.Value.(bool); !ok {
			return dberrors.NewValidation("$exists on %q expects a bool, got %s", p.Path,
				document.KindOf(p.Value))
		}
	case OpSize:
		n, ok := p.Value.(int64)
		if !ok || n < 0 {
			return dberrors.NewValidation("$size on %q expects a non-negative integer, got %v",
				p.Path, p.Value)
		}
	case OpRegex:
		if p.re == nil {
			return dberrors.NewValidation("$regex on %q: pattern not compiled", p.Path)
		}
	default:
		return dberrors.NewValidation("unknown operator %q", p.Op)
	}
	return nil
}

func (p *BoolPredicate) validate() error {
	switch p.Op {
	case OpAnd, OpOr, OpNor:
		if len(p.Filters) == 0 {
			return dberrors.NewValidation("%s expects a non-empty list of filters", p.Op)
		}
	case OpNot:
		if len(p.Filters) != 1 {
			return dberrors.NewValidation("$not expects exactly one filter")
		}
	default:
		return dberrors.NewValidation("unknown logical operator %q", p.Op)
	}
	for _, sub := range p.Filters {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Match decides whether the document satisfies the filter. Comparing values of incomparable kinds
// is a type mismatch error.
func Match(f Filter, doc document.Document) (bool, error) {
	ok, err := f.match(doc)
	if err != nil {
		return false, NewPredicateError(f, err)
	}
	return ok, nil
}

func (f Filter) match(doc document.Document) (bool, error) {
	switch {
	case f.FieldPredicate != nil:
		return f.FieldPredicate.match(doc)
	case f.BoolPredicate != nil:
		return f.BoolPredicate.match(doc)
	}
	return true, nil
}

func (p *BoolPredicate) match(doc document.Document) (bool, error) {
	switch p.Op {
	case OpAnd:
		for _, sub := range p.Filters {
			ok, err := sub.match(doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OpOr, OpNor:
		matched := false
		for _, sub := range p.Filters {
			ok, err := sub.match(doc)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		return matched == (p.Op == OpOr), nil
	case OpNot:
		if len(p.Filters) != 1 {
			return false, dberrors.NewValidation("$not expects exactly one filter")
		}
		ok, err := p.Filters[0].match(doc)
		return !ok, err
	}
	return false, dberrors.NewValidation("unknown logical operator %q", p.Op)
}

func (p *FieldPredicate) match(doc document.Document) (bool, error) {
	if err := p.validate(); err != nil {
		return false, err
	}

	v, found := document.Get(doc, p.Path)

	switch p.Op {
	case OpExists:
		return found == p.Value.(bool), nil

	case OpNe:
		ok, err := matchEq(v, found, p.Value)
		return !ok, err

	case OpNin:
		ok, err := matchIn(v, found, p.Value.([]any))
		return !ok, err

	case OpIn:
		return matchIn(v, found, p.Value.([]any))

	case OpSize:
		arr, ok := v.([]any)
		return found && ok && int64(len(arr)) == p.Value.(int64), nil

	case OpRegex:
		if !found {
			return false, nil
		}
		return anyElem(v, func(e any) (bool, error) {
			s, ok := e.(string)
			return ok && p.re.MatchString(s), nil
		})

	case OpEq:
		return matchEq(v, found, p.Value)

	default:
		if !found {
			return false, nil
		}
		return anyElem(v, func(e any) (bool, error) { return Compare(p.Op, e, p.Value) })
	}
}

func matchEq(v any, found bool, value any) (bool, error) {
	if !found {
		return false, nil
	}
	if document.Equal(v, value) {
		return true, nil
	}
	return anyElem(v, func(e any) (bool, error) { return document.Equal(e, value), nil })
}

func matchIn(v any, found bool, values []any) (bool, error) {
	for _, value := range values {
		ok, err := matchEq(v, found, value)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// anyElem applies fn to the value, or to each element if the value is an array.
func anyElem(v any, fn func(any) (bool, error)) (bool, error) {
	arr, ok := v.([]any)
	if !ok {
		return fn(v)
	}
	for _, e := range arr {
		ok, err := fn(e)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Compare applies a comparison operator to two normalized values. $eq and $ne work on any kinds.
// Ordering operators accept two numbers, two strings, two timestamps, two object ids or two
// bools; a null operand yields false and any other mix is a type mismatch error.
func Compare(op Op, a, b any) (bool, error) {
	switch op {
	case OpEq:
		return document.Equal(a, b), nil
	case OpNe:
		return !document.Equal(a, b), nil
	case OpGt, OpGte, OpLt, OpLte:
	default:
		return false, dberrors.NewValidation("unknown comparison operator %q", op)
	}

	if a == nil || b == nil {
		return false, nil
	}

	if !orderable(a, b) {
		return false, dberrors.NewTypeMismatch(string(op), a, b)
	}

	c := document.Compare(a, b)
	switch op {
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	case OpLt:
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

func orderable(a, b any) bool {
	ka, kb := document.KindOf(a), document.KindOf(b)
	if ka.IsNumeric() && kb.IsNumeric() {
		return true
	}
	if ka != kb {
		return false
	}
	switch a.(type) {
	case string, bool, time.Time, primitive.ObjectID:
		return true
	}
	return false
}

// Spec renders the filter in its structured form, the inverse of Parse.
func (f Filter) Spec() map[string]any {
	switch {
	case f.FieldPredicate != nil:
		p := f.FieldPredicate
		v := document.ToExtendedJSON(p.Value)
		if p.Op == OpEq {
			if _, ok := p.Value.(map[string]any); !ok {
				return map[string]any{p.Path: v}
			}
		}
		return map[string]any{p.Path: map[string]any{string(p.Op): v}}
	case f.BoolPredicate != nil:
		p := f.BoolPredicate
		if p.Op == OpNot && len(p.Filters) == 1 {
			return map[string]any{string(OpNor): []any{p.Filters[0].Spec()}}
		}
		subs := make([]any, len(p.Filters))
		for i, sub := range p.Filters {
			subs[i] = sub.Spec()
		}
		return map[string]any{string(p.Op): subs}
	}
	return map[string]any{}
}

// String stringifies a filter.
func (f Filter) String() string { return util.Stringify(f.Spec()) }

// MarshalJSON encodes a filter in JSON format.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Spec())
}

// UnmarshalJSON decodes a filter from JSON format.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ext, err := document.FromExtendedJSON(raw)
	if err != nil {
		return err
	}
	ret, err := Parse(ext)
	if err != nil {
		return fmt.Errorf("cannot decode filter: %w", err)
	}
	*f = ret
	return nil
}
