package predicate

import "github.com/l7mp/socialdb/pkg/document"

// DeepCopyInto copies a filter into target filter.
func (f Filter) DeepCopyInto(d *Filter) {
	switch {
	case f.FieldPredicate != nil:
		p := *f.FieldPredicate
		p.Value = document.DeepCopy(p.Value)
		d.FieldPredicate, d.BoolPredicate = &p, nil
	case f.BoolPredicate != nil:
		subs := make([]Filter, len(f.BoolPredicate.Filters))
		for i := range f.BoolPredicate.Filters {
			f.BoolPredicate.Filters[i].DeepCopyInto(&subs[i])
		}
		d.FieldPredicate, d.BoolPredicate = nil, &BoolPredicate{Op: f.BoolPredicate.Op, Filters: subs}
	default:
		*d = Filter{}
	}
}

// DeepCopy copies a filter.
func (f *Filter) DeepCopy() *Filter {
	if f == nil {
		return nil
	}
	out := new(Filter)
	f.DeepCopyInto(out)
	return out
}
