package pipeline

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/expression"
	"github.com/l7mp/socialdb/pkg/predicate"
	"github.com/l7mp/socialdb/pkg/util"
)

// Resolver returns the collection handle for a collection name used in a lookup stage.
type Resolver func(name string) (CollectionRef, bool)

// Parse converts a structured pipeline, a list of single-key stage objects like
// bson.D{{"$unwind", "$hashtags"}}, into a Pipeline. Lookup collection names are resolved with
// the resolver; an unknown name is a validation error. Multi-key sort specs given as a map are
// sorted by key, use a bson.D or a list of single-key objects to set the key order.
func Parse(spec any, resolve Resolver) (Pipeline, error) {
	list, ok := document.List(spec)
	if !ok {
		switch stages := spec.(type) {
		case []primitive.D:
			list = util.Map(func(d primitive.D) any { return d }, stages)
		case []map[string]any:
			list = util.Map(func(m map[string]any) any { return m }, stages)
		case Pipeline:
			return stages, stages.Validate()
		default:
			return nil, NewUnmarshalError("pipeline", fmt.Sprintf("expected a list of stages, got %T", spec))
		}
	}

	ret := make(Pipeline, 0, len(list))
	for i, s := range list {
		stage, err := parseStage(s, resolve)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		ret = append(ret, stage)
	}

	return ret, ret.Validate()
}

func parseStage(spec any, resolve Resolver) (Stage, error) {
	if s, ok := spec.(Stage); ok {
		return s, nil
	}

	elems, ok := document.Elems(spec)
	if !ok || len(elems) != 1 {
		return Stage{}, NewUnmarshalError("stage", fmt.Sprintf("expected a single-key object, got %v", spec))
	}
	op, arg := elems[0].Key, elems[0].Value

	switch op {
	case "$match":
		f, err := predicate.Parse(arg)
		if err != nil {
			return Stage{}, err
		}
		return Match(f), nil

	case "$unwind":
		if fields, ok := document.Elems(arg); ok {
			for _, f := range fields {
				if f.Key == "path" {
					arg = f.Value
				}
			}
		}
		path, ok := arg.(string)
		if !ok || len(path) < 2 || path[0] != '$' {
			return Stage{}, NewInvalidArgumentsError(op, "expected a field reference, got %v", arg)
		}
		return Unwind(path), nil

	case "$group":
		fields, ok := document.Elems(arg)
		if !ok {
			return Stage{}, NewInvalidArgumentsError(op, "expected an object, got %T", arg)
		}
		var key *expression.Expression
		accs := []GroupField{}
		for _, f := range fields {
			if f.Key == document.IDField {
				e, err := expression.Parse(f.Value)
				if err != nil {
					return Stage{}, err
				}
				key = &e
				continue
			}
			acc, err := parseAccumulator(f.Value)
			if err != nil {
				return Stage{}, fmt.Errorf("field %q: %w", f.Key, err)
			}
			accs = append(accs, Acc(f.Key, acc))
		}
		if key == nil {
			return Stage{}, NewInvalidArgumentsError(op, "missing %s", document.IDField)
		}
		return Group(*key, accs...), nil

	case "$sort":
		keys, err := parseSortKeys(arg)
		if err != nil {
			return Stage{}, err
		}
		return Sort(keys...), nil

	case "$limit", "$skip":
		n, err := asInt(arg)
		if err != nil {
			return Stage{}, NewInvalidArgumentsError(op, "%s", err)
		}
		if op == "$limit" {
			return Limit(n), nil
		}
		return Skip(n), nil

	case "$project", "$addFields":
		fields, err := parseProjection(arg, op == "$addFields")
		if err != nil {
			return Stage{}, err
		}
		if op == "$project" {
			return Project(fields...), nil
		}
		return AddFields(fields...), nil

	case "$lookup":
		fields, ok := document.Elems(arg)
		if !ok {
			return Stage{}, NewInvalidArgumentsError(op, "expected an object, got %T", arg)
		}
		m := map[string]string{}
		for _, f := range fields {
			s, ok := f.Value.(string)
			if !ok {
				return Stage{}, NewInvalidArgumentsError(op, "%s must be a string", f.Key)
			}
			m[f.Key] = s
		}
		if resolve == nil {
			return Stage{}, NewInvalidArgumentsError(op, "no collection resolver")
		}
		from, ok := resolve(m["from"])
		if !ok {
			return Stage{}, dberrors.NewValidation("$lookup: unknown collection %q", m["from"])
		}
		return Lookup(from, m["localField"], m["foreignField"], m["as"]), nil

	case "$count":
		field, ok := arg.(string)
		if !ok {
			return Stage{}, NewInvalidArgumentsError(op, "expected a field name, got %T", arg)
		}
		return Count(field), nil
	}

	return Stage{}, dberrors.NewValidation("unknown stage %q", op)
}

func parseAccumulator(spec any) (Accumulator, error) {
	elems, ok := document.Elems(spec)
	if !ok || len(elems) != 1 {
		return Accumulator{}, NewInvalidArgumentsError("$group",
			"accumulator must be a single-key object, got %v", spec)
	}
	e, err := expression.Parse(elems[0].Value)
	if err != nil {
		return Accumulator{}, err
	}
	acc := Accumulator{Op: elems[0].Key, Expr: e}
	return acc, acc.validate()
}

func parseSortKeys(spec any) ([]SortKey, error) {
	if list, ok := document.List(spec); ok {
		ret := []SortKey{}
		for _, s := range list {
			keys, err := parseSortKeys(s)
			if err != nil {
				return nil, err
			}
			ret = append(ret, keys...)
		}
		return ret, nil
	}

	elems, ok := document.Elems(spec)
	if !ok {
		return nil, NewInvalidArgumentsError("$sort", "expected an object, got %T", spec)
	}
	if len(elems) > 1 && !document.Ordered(spec) {
		return nil, NewInvalidArgumentsError("$sort",
			"multi-key sort on an unordered map is ambiguous, use bson.D or a list of single-key objects")
	}
	ret := make([]SortKey, 0, len(elems))
	for _, e := range elems {
		dir, err := asInt(e.Value)
		if err != nil {
			return nil, NewInvalidArgumentsError("$sort", "direction of %q: %s", e.Key, err)
		}
		ret = append(ret, SortKey{Path: e.Key, Direction: int(dir)})
	}
	return ret, nil
}

func parseProjection(spec any, computeOnly bool) ([]ProjectField, error) {
	elems, ok := document.Elems(spec)
	if !ok {
		return nil, NewInvalidArgumentsError("projection", "expected an object, got %T", spec)
	}

	ret := make([]ProjectField, 0, len(elems))
	for _, el := range elems {
		if !computeOnly {
			switch v := el.Value.(type) {
			case bool:
				ret = append(ret, flag(el.Key, v))
				continue
			case int, int32, int64, float64:
				n, _ := document.Normalize(v)
				f, _ := document.AsFloat(n)
				ret = append(ret, flag(el.Key, f != 0))
				continue
			}
		}
		e, err := expression.Parse(el.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", el.Key, err)
		}
		ret = append(ret, Compute(el.Key, e))
	}
	return ret, nil
}

func flag(path string, include bool) ProjectField {
	if include {
		return Include(path)
	}
	return Exclude(path)
}

func asInt(v any) (int64, error) {
	n, err := document.Normalize(v)
	if err != nil {
		return 0, err
	}
	switch x := n.(type) {
	case int64:
		return x, nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
	}
	return 0, fmt.Errorf("expected an integer, got %v", v)
}
