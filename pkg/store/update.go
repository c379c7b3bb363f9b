package store

import (
	"fmt"
	"strings"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/util"
)

const (
	OpSet = "$set"
	OpInc = "$inc"
)

// Update is a modification applied to the documents matched by an update call: either a $set
// or an $inc, never both. Use Set, Inc or ParseUpdate to create one.
type Update struct {
	Op     string
	Fields []document.Elem
	err    error
}

// Set assigns values to dotted paths, creating missing intermediate objects. Fields are given as
// a bson.D, bson.M or map[string]any.
func Set(fields any) Update { return newUpdate(OpSet, fields) }

// Inc adds numeric amounts to dotted paths. An absent path is created with the amount.
func Inc(fields any) Update { return newUpdate(OpInc, fields) }

func newUpdate(op string, fields any) Update {
	elems, ok := document.Elems(fields)
	if !ok {
		return Update{Op: op, err: dberrors.NewValidation("%s: expected an object, got %T", op, fields)}
	}

	ret := Update{Op: op, Fields: make([]document.Elem, 0, len(elems))}
	for _, e := range elems {
		v, err := document.Normalize(e.Value)
		if err != nil {
			ret.err = fmt.Errorf("%s: field %q: %w", op, e.Key, err)
			return ret
		}
		ret.Fields = append(ret.Fields, document.Elem{Key: e.Key, Value: v})
	}
	return ret
}

// ParseUpdate converts a structured update like bson.D{{"$inc", bson.D{{"metrics.likes", 1}}}}.
func ParseUpdate(spec any) (Update, error) {
	if u, ok := spec.(Update); ok {
		return u, u.Validate()
	}

	elems, ok := document.Elems(spec)
	if !ok || len(elems) != 1 {
		return Update{}, dberrors.NewValidation("update must be a single-key object of $set or $inc, got %v", spec)
	}

	var u Update
	switch elems[0].Key {
	case OpSet:
		u = Set(elems[0].Value)
	case OpInc:
		u = Inc(elems[0].Value)
	default:
		return Update{}, dberrors.NewValidation("unknown update operator %q", elems[0].Key)
	}
	return u, u.Validate()
}

// Validate checks the update for malformed paths, updates of _id, conflicting paths and
// non-numeric increments.
func (u Update) Validate() error {
	if u.err != nil {
		return u.err
	}
	if u.Op != OpSet && u.Op != OpInc {
		return dberrors.NewValidation("unknown update operator %q", u.Op)
	}
	if len(u.Fields) == 0 {
		return dberrors.NewValidation("%s: no fields", u.Op)
	}

	for i, f := range u.Fields {
		if err := document.ValidatePath(f.Key); err != nil {
			return err
		}
		if f.Key == document.IDField || strings.HasPrefix(f.Key, document.IDField+".") {
			return dberrors.NewValidation("%s: %s cannot be modified", u.Op, document.IDField)
		}
		for _, g := range u.Fields[:i] {
			if overlaps(f.Key, g.Key) {
				return dberrors.NewValidation("%s: conflicting paths %q and %q", u.Op, g.Key, f.Key)
			}
		}
		if u.Op == OpInc && !document.KindOf(f.Value).IsNumeric() {
			return dberrors.NewValidation("%s: increment of %q must be numeric, got %s", u.Op,
				f.Key, document.KindOf(f.Value))
		}
	}

	return nil
}

func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

// apply returns an updated copy of the document.
func (u Update) apply(doc document.Document) (document.Document, error) {
	out := document.DeepCopyDocument(doc)
	for _, f := range u.Fields {
		v := document.DeepCopy(f.Value)
		if u.Op == OpInc {
			cur, found := document.Get(out, f.Key)
			if found {
				sum, err := increment(cur, f.Value)
				if err != nil {
					return nil, err
				}
				v = sum
			}
		}
		if err := document.Set(out, f.Key, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func increment(cur, by any) (any, error) {
	if a, ok := cur.(int64); ok {
		if b, ok := by.(int64); ok {
			return a + b, nil
		}
	}
	a, ok := document.AsFloat(cur)
	if !ok {
		return nil, dberrors.NewTypeMismatch(OpInc, cur, by)
	}
	b, _ := document.AsFloat(by)
	return a + b, nil
}

// Spec renders the update in its structured form.
func (u Update) Spec() map[string]any {
	fields := map[string]any{}
	for _, f := range u.Fields {
		fields[f.Key] = f.Value
	}
	return map[string]any{u.Op: fields}
}

// String stringifies an update.
func (u Update) String() string { return util.Stringify(document.ToExtendedJSON(u.Spec())) }
