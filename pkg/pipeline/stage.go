package pipeline

import (
	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/expression"
	"github.com/l7mp/socialdb/pkg/predicate"
	"github.com/l7mp/socialdb/pkg/util"
)

// CollectionRef is a typed handle to a collection that a lookup stage joins against.
type CollectionRef interface {
	// Name returns the name of the collection.
	Name() string
	// Documents returns a point-in-time snapshot of the documents of the collection. The
	// documents must not be modified.
	Documents() []document.Document
}

// UnwindSpec deconstructs an array field.
type UnwindSpec struct {
	Path string
}

// GroupSpec partitions the input by a key and computes accumulators per partition.
type GroupSpec struct {
	Key    expression.Expression
	Fields []GroupField
}

// SortKey is a sort key with direction 1 (ascending) or -1 (descending).
type SortKey struct {
	Path      string
	Direction int
}

// SortSpec is an ordered list of sort keys.
type SortSpec struct {
	Keys []SortKey
}

// ProjectMode tells how a projection field is produced.
type ProjectMode int

const (
	ProjectInclude ProjectMode = iota
	ProjectExclude
	ProjectCompute
)

// ProjectField is a single field of a projection or an addFields stage.
type ProjectField struct {
	Path string
	Mode ProjectMode
	Expr expression.Expression
}

// ProjectSpec reshapes documents.
type ProjectSpec struct {
	Fields []ProjectField
}

// AddFieldsSpec overlays computed fields.
type AddFieldsSpec struct {
	Fields []ProjectField
}

// LookupSpec joins documents of a foreign collection.
type LookupSpec struct {
	From         CollectionRef
	LocalField   string
	ForeignField string
	As           string
}

// CountSpec counts the input into a single document.
type CountSpec struct {
	Field string
}

// Stage is a single pipeline stage. Exactly one of the fields is set; use the constructors.
type Stage struct {
	Match     *predicate.Filter
	Unwind    *UnwindSpec
	Group     *GroupSpec
	Sort      *SortSpec
	Limit     *int64
	Skip      *int64
	Project   *ProjectSpec
	AddFields *AddFieldsSpec
	Lookup    *LookupSpec
	Count     *CountSpec
}

// Pipeline is an ordered list of stages.
type Pipeline []Stage

// Match filters the input with a filter. The stage holds a copy of the filter.
func Match(f predicate.Filter) Stage { return Stage{Match: f.DeepCopy()} }

// Unwind emits one document per element of the array at path. Documents where the path is
// absent, null or an empty array are dropped.
func Unwind(path string) Stage { return Stage{Unwind: &UnwindSpec{Path: trimRef(path)}} }

// Group partitions the input by key and computes the given fields per partition.
func Group(key expression.Expression, fields ...GroupField) Stage {
	return Stage{Group: &GroupSpec{Key: key, Fields: fields}}
}

// Sort orders the input by the given keys.
func Sort(keys ...SortKey) Stage { return Stage{Sort: &SortSpec{Keys: keys}} }

// Asc is an ascending sort key.
func Asc(path string) SortKey { return SortKey{Path: path, Direction: 1} }

// Desc is a descending sort key.
func Desc(path string) SortKey { return SortKey{Path: path, Direction: -1} }

// Limit keeps the first n documents.
func Limit(n int64) Stage { return Stage{Limit: &n} }

// Skip drops the first n documents.
func Skip(n int64) Stage { return Stage{Skip: &n} }

// Project reshapes the input.
func Project(fields ...ProjectField) Stage { return Stage{Project: &ProjectSpec{Fields: fields}} }

// AddFields adds computed fields to the input.
func AddFields(fields ...ProjectField) Stage {
	return Stage{AddFields: &AddFieldsSpec{Fields: fields}}
}

// Include keeps a field in a projection.
func Include(path string) ProjectField { return ProjectField{Path: path, Mode: ProjectInclude} }

// Exclude drops a field in a projection.
func Exclude(path string) ProjectField { return ProjectField{Path: path, Mode: ProjectExclude} }

// Compute sets a field to the value of an expression. The field is omitted if the value is
// absent.
func Compute(path string, e expression.Expression) ProjectField {
	return ProjectField{Path: path, Mode: ProjectCompute, Expr: e}
}

// Lookup attaches the documents of from whose foreignField equals localField as an array at as.
func Lookup(from CollectionRef, localField, foreignField, as string) Stage {
	return Stage{Lookup: &LookupSpec{From: from, LocalField: localField,
		ForeignField: foreignField, As: as}}
}

// Count replaces the input with a single document holding the number of input documents.
func Count(field string) Stage { return Stage{Count: &CountSpec{Field: field}} }

// Name returns the operator name of the stage.
func (s Stage) Name() string {
	switch {
	case s.Match != nil:
		return "$match"
	case s.Unwind != nil:
		return "$unwind"
	case s.Group != nil:
		return "$group"
	case s.Sort != nil:
		return "$sort"
	case s.Limit != nil:
		return "$limit"
	case s.Skip != nil:
		return "$skip"
	case s.Project != nil:
		return "$project"
	case s.AddFields != nil:
		return "$addFields"
	case s.Lookup != nil:
		return "$lookup"
	case s.Count != nil:
		return "$count"
	}
	return ""
}

func (s Stage) set() int {
	n := 0
	for _, set := range []bool{s.Match != nil, s.Unwind != nil, s.Group != nil, s.Sort != nil,
		s.Limit != nil, s.Skip != nil, s.Project != nil, s.AddFields != nil, s.Lookup != nil,
		s.Count != nil} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks a stage for malformed arguments.
func (s Stage) Validate() error {
	if n := s.set(); n != 1 {
		return dberrors.NewValidation("a stage must have exactly one operator, got %d", n)
	}

	switch {
	case s.Match != nil:
		return s.Match.Validate()

	case s.Unwind != nil:
		return document.ValidatePath(s.Unwind.Path)

	case s.Group != nil:
		if err := s.Group.Key.Validate(); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, f := range s.Group.Fields {
			if f.Name == "" || f.Name == document.IDField || seen[f.Name] {
				return NewInvalidArgumentsError("$group", "invalid or duplicate field name %q", f.Name)
			}
			if err := document.ValidatePath(f.Name); err != nil {
				return err
			}
			seen[f.Name] = true
			if err := f.Accumulator.validate(); err != nil {
				return err
			}
		}
		return nil

	case s.Sort != nil:
		if len(s.Sort.Keys) == 0 {
			return NewInvalidArgumentsError("$sort", "no sort keys")
		}
		for _, k := range s.Sort.Keys {
			if err := document.ValidatePath(k.Path); err != nil {
				return err
			}
			if k.Direction != 1 && k.Direction != -1 {
				return NewInvalidArgumentsError("$sort", "direction of %q must be 1 or -1, got %d",
					k.Path, k.Direction)
			}
		}
		return nil

	case s.Limit != nil:
		if *s.Limit < 0 {
			return NewInvalidArgumentsError("$limit", "negative limit %d", *s.Limit)
		}
		return nil

	case s.Skip != nil:
		if *s.Skip < 0 {
			return NewInvalidArgumentsError("$skip", "negative skip %d", *s.Skip)
		}
		return nil

	case s.Project != nil:
		return validateProjection(s.Project.Fields)

	case s.AddFields != nil:
		if len(s.AddFields.Fields) == 0 {
			return NewInvalidArgumentsError("$addFields", "no fields")
		}
		for _, f := range s.AddFields.Fields {
			if f.Mode != ProjectCompute {
				return NewInvalidArgumentsError("$addFields", "field %q must be computed", f.Path)
			}
			if err := document.ValidatePath(f.Path); err != nil {
				return err
			}
			if err := f.Expr.Validate(); err != nil {
				return err
			}
		}
		return nil

	case s.Lookup != nil:
		l := s.Lookup
		if l.From == nil {
			return NewInvalidArgumentsError("$lookup", "missing foreign collection")
		}
		for _, p := range []string{l.LocalField, l.ForeignField, l.As} {
			if err := document.ValidatePath(p); err != nil {
				return err
			}
		}
		return nil

	case s.Count != nil:
		if err := document.ValidatePath(s.Count.Field); err != nil {
			return err
		}
		if s.Count.Field == document.IDField {
			return NewInvalidArgumentsError("$count", "field cannot be %q", document.IDField)
		}
		return nil
	}

	return nil
}

func validateProjection(fields []ProjectField) error {
	if len(fields) == 0 {
		return NewInvalidArgumentsError("$project", "empty projection")
	}
	includes, excludes := 0, 0
	for _, f := range fields {
		if err := document.ValidatePath(f.Path); err != nil {
			return err
		}
		switch f.Mode {
		case ProjectInclude:
			includes++
		case ProjectCompute:
			includes++
			if err := f.Expr.Validate(); err != nil {
				return err
			}
		case ProjectExclude:
			if f.Path != document.IDField {
				excludes++
			}
		default:
			return NewInvalidArgumentsError("$project", "unknown mode for field %q", f.Path)
		}
	}
	if includes > 0 && excludes > 0 {
		return NewInvalidArgumentsError("$project", "cannot mix inclusion and exclusion")
	}
	return nil
}

// Validate checks every stage of the pipeline, failing at the first invalid stage.
func (p Pipeline) Validate() error {
	for i, s := range p {
		if err := s.Validate(); err != nil {
			return NewStageError(i, s, err)
		}
	}
	return nil
}

// LookupTargets returns the foreign collections the pipeline joins against.
func (p Pipeline) LookupTargets() []CollectionRef {
	ret := []CollectionRef{}
	for _, s := range p {
		if s.Lookup != nil && s.Lookup.From != nil {
			ret = append(ret, s.Lookup.From)
		}
	}
	return ret
}

// Spec renders the stage in its structured form.
func (s Stage) Spec() map[string]any {
	var arg any
	switch {
	case s.Match != nil:
		arg = s.Match.Spec()
	case s.Unwind != nil:
		arg = "$" + s.Unwind.Path
	case s.Group != nil:
		g := map[string]any{document.IDField: s.Group.Key.Spec()}
		for _, f := range s.Group.Fields {
			g[f.Name] = f.Accumulator.Spec()
		}
		arg = g
	case s.Sort != nil:
		keys := []any{}
		for _, k := range s.Sort.Keys {
			keys = append(keys, map[string]any{k.Path: k.Direction})
		}
		arg = keys
	case s.Limit != nil:
		arg = *s.Limit
	case s.Skip != nil:
		arg = *s.Skip
	case s.Project != nil:
		arg = projectionSpec(s.Project.Fields)
	case s.AddFields != nil:
		arg = projectionSpec(s.AddFields.Fields)
	case s.Lookup != nil:
		from := ""
		if s.Lookup.From != nil {
			from = s.Lookup.From.Name()
		}
		arg = map[string]any{"from": from, "localField": s.Lookup.LocalField,
			"foreignField": s.Lookup.ForeignField, "as": s.Lookup.As}
	case s.Count != nil:
		arg = s.Count.Field
	}
	return map[string]any{s.Name(): arg}
}

func projectionSpec(fields []ProjectField) map[string]any {
	ret := map[string]any{}
	for _, f := range fields {
		switch f.Mode {
		case ProjectInclude:
			ret[f.Path] = 1
		case ProjectExclude:
			ret[f.Path] = 0
		default:
			ret[f.Path] = f.Expr.Spec()
		}
	}
	return ret
}

// String stringifies a stage.
func (s Stage) String() string { return util.Stringify(s.Spec()) }

// String stringifies a pipeline.
func (p Pipeline) String() string {
	specs := make([]any, len(p))
	for i, s := range p {
		specs[i] = s.Spec()
	}
	return util.Stringify(specs)
}

func trimRef(path string) string {
	if len(path) > 0 && path[0] == '$' {
		return path[1:]
	}
	return path
}
