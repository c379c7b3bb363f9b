package pipeline

import (
	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/expression"
)

const (
	AccSum   = "$sum"
	AccAvg   = "$avg"
	AccMin   = "$min"
	AccMax   = "$max"
	AccFirst = "$first"
	AccLast  = "$last"
	AccPush  = "$push"
)

// Accumulator is a per-group aggregate over the values of an expression.
type Accumulator struct {
	Op   string
	Expr expression.Expression
}

// GroupField is a named accumulator of a group stage.
type GroupField struct {
	Name string
	Accumulator
}

// Acc names an accumulator.
func Acc(name string, a Accumulator) GroupField { return GroupField{Name: name, Accumulator: a} }

// Sum totals the numeric values of e, ignoring absent and non-numeric values. Sum(Lit(1)) counts.
func Sum(e expression.Expression) Accumulator { return Accumulator{Op: AccSum, Expr: e} }

// Avg averages the numeric values of e; null if there are none.
func Avg(e expression.Expression) Accumulator { return Accumulator{Op: AccAvg, Expr: e} }

// Min is the smallest present non-null value of e; null if there are none.
func Min(e expression.Expression) Accumulator { return Accumulator{Op: AccMin, Expr: e} }

// Max is the largest present non-null value of e; null if there are none.
func Max(e expression.Expression) Accumulator { return Accumulator{Op: AccMax, Expr: e} }

// First is the value of e on the first document of the group.
func First(e expression.Expression) Accumulator { return Accumulator{Op: AccFirst, Expr: e} }

// Last is the value of e on the last document of the group.
func Last(e expression.Expression) Accumulator { return Accumulator{Op: AccLast, Expr: e} }

// Push collects the present values of e into an array.
func Push(e expression.Expression) Accumulator { return Accumulator{Op: AccPush, Expr: e} }

func (a *Accumulator) validate() error {
	switch a.Op {
	case AccSum, AccAvg, AccMin, AccMax, AccFirst, AccLast, AccPush:
	default:
		return dberrors.NewValidation("unknown accumulator %q", a.Op)
	}
	return a.Expr.Validate()
}

// Spec renders the accumulator in its structured form.
func (a Accumulator) Spec() map[string]any {
	return map[string]any{a.Op: a.Expr.Spec()}
}

// accState is the running state of an accumulator within one group.
type accState struct {
	op      string
	seen    bool
	intSum  int64
	fltSum  float64
	isFloat bool
	count   int64
	value   any
	values  []any
}

func newAccState(op string) *accState {
	return &accState{op: op, values: []any{}}
}

func (s *accState) add(v any, found bool) {
	switch s.op {
	case AccSum, AccAvg:
		switch x := v.(type) {
		case int64:
			if !found {
				return
			}
			s.intSum += x
			s.fltSum += float64(x)
		case float64:
			if !found {
				return
			}
			s.isFloat = true
			s.fltSum += x
		default:
			return
		}
		s.count++

	case AccMin, AccMax:
		if !found || v == nil {
			return
		}
		if !s.seen {
			s.value, s.seen = v, true
			return
		}
		c := document.Compare(v, s.value)
		if (s.op == AccMin && c < 0) || (s.op == AccMax && c > 0) {
			s.value = v
		}

	case AccFirst:
		if !s.seen {
			s.value, s.seen = v, true
		}

	case AccLast:
		s.value, s.seen = v, true

	case AccPush:
		if found {
			s.values = append(s.values, v)
		}
	}
}

func (s *accState) result() any {
	switch s.op {
	case AccSum:
		if s.isFloat {
			return s.fltSum
		}
		return s.intSum
	case AccAvg:
		if s.count == 0 {
			return nil
		}
		return s.fltSum / float64(s.count)
	case AccPush:
		return s.values
	}
	return s.value
}
