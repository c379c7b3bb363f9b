// Package pipeline implements aggregation pipelines: ordered lists of stages, each consuming the
// documents produced by the previous one.
package pipeline

import (
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/expression"
	"github.com/l7mp/socialdb/pkg/predicate"
	"github.com/l7mp/socialdb/pkg/util"
)

// Executor runs pipelines. Stages run strictly in order and never modify their input documents.
type Executor struct {
	snapshots map[string][]document.Document
	log       logr.Logger
}

// NewExecutor creates a new executor.
func NewExecutor(log logr.Logger) *Executor {
	return &Executor{snapshots: map[string][]document.Document{}, log: log}
}

// WithSnapshot makes lookups against the named collection read the given documents instead of
// calling Documents on the collection handle. Used to run a pipeline on a consistent
// multi-collection snapshot.
func (x *Executor) WithSnapshot(name string, docs []document.Document) *Executor {
	x.snapshots[name] = docs
	return x
}

// Run validates the pipeline and then applies it to the input.
func (x *Executor) Run(p Pipeline, input []document.Document) ([]document.Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	x.log.V(2).Info("running pipeline", "pipeline", p.String(), "input-size", len(input))

	docs := input
	for i, s := range p {
		res, err := x.runStage(s, docs)
		if err != nil {
			return nil, NewPipelineError(NewStageError(i, s, err))
		}
		x.log.V(5).Info("stage ready", "stage", i, "op", s.Name(), "spec", s.String(),
			"input-size", len(docs), "output-size", len(res))
		docs = res
	}

	x.log.V(2).Info("pipeline ready", "result-size", len(docs))

	return docs, nil
}

func (x *Executor) runStage(s Stage, docs []document.Document) ([]document.Document, error) {
	switch {
	case s.Match != nil:
		return x.match(*s.Match, docs)
	case s.Unwind != nil:
		return x.unwind(s.Unwind, docs)
	case s.Group != nil:
		return x.group(s.Group, docs)
	case s.Sort != nil:
		return SortDocuments(s.Sort.Keys, docs), nil
	case s.Limit != nil:
		n := int(min(*s.Limit, int64(len(docs))))
		return docs[:n:n], nil
	case s.Skip != nil:
		n := int(min(*s.Skip, int64(len(docs))))
		return docs[n:], nil
	case s.Project != nil:
		return util.MapErr(func(doc document.Document) (document.Document, error) {
			return x.Project(s.Project.Fields, doc)
		}, docs)
	case s.AddFields != nil:
		return util.MapErr(func(doc document.Document) (document.Document, error) {
			return x.addFields(s.AddFields.Fields, doc)
		}, docs)
	case s.Lookup != nil:
		return x.lookup(s.Lookup, docs)
	case s.Count != nil:
		if len(docs) == 0 {
			return []document.Document{}, nil
		}
		return []document.Document{{s.Count.Field: int64(len(docs))}}, nil
	}
	return nil, NewInvalidArgumentsError("stage", "empty stage")
}

func (x *Executor) evalCtx(doc document.Document) expression.EvalCtx {
	return expression.EvalCtx{Doc: doc, Log: x.log}
}

func (x *Executor) match(f predicate.Filter, docs []document.Document) ([]document.Document, error) {
	ret := []document.Document{}
	for _, doc := range docs {
		ok, err := predicate.Match(f, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			ret = append(ret, doc)
		}
	}
	return ret, nil
}

func (x *Executor) unwind(u *UnwindSpec, docs []document.Document) ([]document.Document, error) {
	ret := []document.Document{}
	for _, doc := range docs {
		v, found := document.Get(doc, u.Path)
		if !found || v == nil {
			continue
		}

		arr, ok := v.([]any)
		if !ok {
			// a scalar unwinds to itself
			ret = append(ret, doc)
			continue
		}

		for _, elem := range arr {
			out := document.DeepCopyDocument(doc)
			if err := document.Set(out, u.Path, document.DeepCopy(elem)); err != nil {
				return nil, err
			}
			ret = append(ret, out)
		}
	}
	return ret, nil
}

type group struct {
	key    any
	states []*accState
}

func (x *Executor) group(g *GroupSpec, docs []document.Document) ([]document.Document, error) {
	groups := map[string]*group{}
	order := []*group{}

	for _, doc := range docs {
		ctx := x.evalCtx(doc)
		key, found, err := g.Key.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			key = nil
		}

		k := document.Key(key)
		gr, ok := groups[k]
		if !ok {
			gr = &group{key: key, states: make([]*accState, len(g.Fields))}
			for i, f := range g.Fields {
				gr.states[i] = newAccState(f.Op)
			}
			groups[k] = gr
			order = append(order, gr)
		}

		for i := range g.Fields {
			v, found, err := g.Fields[i].Expr.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			gr.states[i].add(v, found)
		}
	}

	ret := make([]document.Document, 0, len(order))
	for _, gr := range order {
		out := document.Document{document.IDField: document.DeepCopy(gr.key)}
		for i, f := range g.Fields {
			if err := document.Set(out, f.Name, document.DeepCopy(gr.states[i].result())); err != nil {
				return nil, err
			}
		}
		ret = append(ret, out)
	}

	return ret, nil
}

// SortDocuments returns a stably sorted copy of the document list. Absent values sort first
// in ascending order.
func SortDocuments(keys []SortKey, docs []document.Document) []document.Document {
	ret := make([]document.Document, len(docs))
	copy(ret, docs)
	sort.SliceStable(ret, func(i, j int) bool {
		for _, k := range keys {
			a, aFound := document.Get(ret[i], k.Path)
			b, bFound := document.Get(ret[j], k.Path)
			if c := document.CompareMissing(a, aFound, b, bFound); c != 0 {
				return c*k.Direction < 0
			}
		}
		return false
	})
	return ret
}

// Project applies a projection to a single document, returning a new document.
func (x *Executor) Project(fields []ProjectField, doc document.Document) (document.Document, error) {
	exclusion := true
	keepID := true
	for _, f := range fields {
		switch {
		case f.Mode == ProjectExclude && f.Path == document.IDField:
			keepID = false
		case f.Mode != ProjectExclude:
			exclusion = false
		}
	}

	if exclusion {
		out := document.DeepCopyDocument(doc)
		for _, f := range fields {
			document.Remove(out, f.Path)
		}
		return out, nil
	}

	out := document.Document{}
	if id, ok := doc[document.IDField]; ok && keepID {
		out[document.IDField] = document.DeepCopy(id)
	}

	for _, f := range fields {
		switch f.Mode {
		case ProjectInclude:
			if v, ok := document.Get(doc, f.Path); ok {
				if err := document.Set(out, f.Path, document.DeepCopy(v)); err != nil {
					return nil, err
				}
			}
		case ProjectCompute:
			v, found, err := f.Expr.Evaluate(x.evalCtx(doc))
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			if err := document.Set(out, f.Path, document.DeepCopy(v)); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func (x *Executor) addFields(fields []ProjectField, doc document.Document) (document.Document, error) {
	out := document.DeepCopyDocument(doc)
	for _, f := range fields {
		// expressions see the input document, not the partially built output
		v, found, err := f.Expr.Evaluate(x.evalCtx(doc))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if err := document.Set(out, f.Path, document.DeepCopy(v)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (x *Executor) lookup(l *LookupSpec, docs []document.Document) ([]document.Document, error) {
	foreign, ok := x.snapshots[l.From.Name()]
	if !ok {
		foreign = l.From.Documents()
	}

	// index the foreign documents by the key of the foreign field and of its array elements
	index := map[string][]int{}
	for i, fd := range foreign {
		v, found := document.Get(fd, l.ForeignField)
		if !found {
			continue
		}
		keys := map[string]bool{document.Key(v): true}
		if arr, ok := v.([]any); ok {
			for _, e := range arr {
				keys[document.Key(e)] = true
			}
		}
		for k := range keys {
			index[k] = append(index[k], i)
		}
	}

	ret := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		matches := map[int]bool{}
		if v, found := document.Get(doc, l.LocalField); found {
			for _, i := range index[document.Key(v)] {
				matches[i] = true
			}
			if arr, ok := v.([]any); ok {
				for _, e := range arr {
					for _, i := range index[document.Key(e)] {
						matches[i] = true
					}
				}
			}
		}

		idx := make([]int, 0, len(matches))
		for i := range matches {
			idx = append(idx, i)
		}
		sort.Ints(idx)

		joined := make([]any, len(idx))
		for j, i := range idx {
			joined[j] = document.DeepCopyDocument(foreign[i])
		}

		out := document.DeepCopyDocument(doc)
		if err := document.Set(out, l.As, joined); err != nil {
			return nil, err
		}
		ret = append(ret, out)
	}

	return ret, nil
}
