// Package expression implements computed values: arithmetic, comparison, conditional and
// date-part expressions evaluated against a single document.
package expression

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/socialdb/pkg/dberrors"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/predicate"
)

const (
	OpLiteral = "$literal"
	OpField   = "$field"
	OpObject  = "$object"
	OpArray   = "$array"

	OpAdd       = "$add"
	OpSubtract  = "$subtract"
	OpMultiply  = "$multiply"
	OpDivide    = "$divide"
	OpCond      = "$cond"
	OpHour      = "$hour"
	OpDayOfWeek = "$dayOfWeek"
	OpEq        = "$eq"
	OpNe        = "$ne"
	OpGt        = "$gt"
	OpGte       = "$gte"
	OpLt        = "$lt"
	OpLte       = "$lte"
	OpAnd       = "$and"
	OpOr        = "$or"
	OpNot       = "$not"
	OpSize      = "$size"
	OpIfNull    = "$ifNull"
)

// arity of operators: -1 is variadic with at least one argument, -2 is variadic
var arity = map[string]int{
	OpArray:     -2,
	OpAdd:       -1,
	OpSubtract:  2,
	OpMultiply:  -1,
	OpDivide:    2,
	OpCond:      3,
	OpHour:      1,
	OpDayOfWeek: 1,
	OpEq:        2,
	OpNe:        2,
	OpGt:        2,
	OpGte:       2,
	OpLt:        2,
	OpLte:       2,
	OpAnd:       -1,
	OpOr:        -1,
	OpNot:       1,
	OpSize:      1,
	OpIfNull:    2,
}

// EvalCtx is the evaluation context: the document field references resolve against and a logger.
type EvalCtx struct {
	Doc document.Document
	Log logr.Logger
}

// Expression is a computed value. Op selects the operator, Args holds operator arguments and
// Literal holds the value of literals, the path of field references and the fields of objects.
type Expression struct {
	Op      string
	Args    []Expression
	Literal any

	err error
}

// Validate checks the expression tree for unknown operators and wrong arities.
func (e *Expression) Validate() error {
	if e.err != nil {
		return e.err
	}

	switch e.Op {
	case OpLiteral, OpField:
		return nil
	case OpObject:
		fields, ok := e.Literal.(map[string]Expression)
		if !ok {
			return NewInvalidArgumentsError(e.Op, "expected a field map")
		}
		for _, f := range fields {
			if err := f.Validate(); err != nil {
				return err
			}
		}
		return nil
	case "":
		return dberrors.NewValidation("empty operator")
	}

	if err := e.checkArity(); err != nil {
		return err
	}

	for i := range e.Args {
		if err := e.Args[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (e *Expression) checkArity() error {
	n, ok := arity[e.Op]
	if !ok {
		return dberrors.NewValidation("unknown expression operator %q", e.Op)
	}
	switch {
	case n == -1 && len(e.Args) == 0:
		return NewInvalidArgumentsError(e.Op, "expected at least one argument")
	case n >= 0 && len(e.Args) != n:
		return NewInvalidArgumentsError(e.Op, fmt.Sprintf("expected %d arguments, got %d", n,
			len(e.Args)))
	}
	return nil
}

// Evaluate computes the expression on the document of the context. The second return value is
// false if the result is absent, e.g., a reference to a missing field or arithmetic on one.
func (e *Expression) Evaluate(ctx EvalCtx) (any, bool, error) {
	if e.err != nil {
		return nil, false, e.err
	}

	switch e.Op {
	case OpLiteral:
		return e.Literal, true, nil

	case OpField:
		path, ok := e.Literal.(string)
		if !ok {
			return nil, false, NewExpressionError(e, errors.New("field path must be a string"))
		}
		v, found := document.Get(ctx.Doc, path)
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v, "found", found)
		return v, found, nil

	case OpObject:
		fields, ok := e.Literal.(map[string]Expression)
		if !ok {
			return nil, false, NewExpressionError(e, errors.New("argument must be a field map"))
		}
		ret := document.Document{}
		for k, exp := range fields {
			v, found, err := exp.Evaluate(ctx)
			if err != nil {
				return nil, false, err
			}
			if found {
				ret[k] = v
			}
		}
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", ret)
		return ret, true, nil

	case OpCond:
		if err := e.checkArity(); err != nil {
			return nil, false, err
		}
		test, found, err := e.Args[0].Evaluate(ctx)
		if err != nil {
			return nil, false, err
		}
		// lazy: only the chosen branch is evaluated
		branch := &e.Args[2]
		if found && truthy(test) {
			branch = &e.Args[1]
		}
		v, found, err := branch.Evaluate(ctx)
		if err != nil {
			return nil, false, err
		}
		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)
		return v, found, nil

	case OpAnd, OpOr:
		if err := e.checkArity(); err != nil {
			return nil, false, err
		}
		want := e.Op == OpOr
		for i := range e.Args {
			v, found, err := e.Args[i].Evaluate(ctx)
			if err != nil {
				return nil, false, err
			}
			if (found && truthy(v)) == want {
				return want, true, nil
			}
		}
		return !want, true, nil

	case OpIfNull:
		if err := e.checkArity(); err != nil {
			return nil, false, err
		}
		v, found, err := e.Args[0].Evaluate(ctx)
		if err != nil {
			return nil, false, err
		}
		if found && v != nil {
			return v, true, nil
		}
		return e.Args[1].Evaluate(ctx)
	}

	// operators with eagerly evaluated arguments
	if err := e.checkArity(); err != nil {
		return nil, false, err
	}

	args := make([]any, len(e.Args))
	missing := false
	for i := range e.Args {
		v, found, err := e.Args[i].Evaluate(ctx)
		if err != nil {
			return nil, false, err
		}
		if !found {
			missing = true
		}
		args[i] = v
	}

	v, found, err := e.apply(args, missing)
	if err != nil {
		return nil, false, NewExpressionError(e, err)
	}

	ctx.Log.V(8).Info("eval ready", "expression", e.String(), "args", args, "result", v,
		"found", found)

	return v, found, nil
}

func (e *Expression) apply(args []any, missing bool) (any, bool, error) {
	switch e.Op {
	case OpArray:
		return args, true, nil

	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		v, err := predicate.Compare(predicate.Op(e.Op), args[0], args[1])
		if err != nil {
			return nil, false, err
		}
		return v, true, nil

	case OpNot:
		return !truthy(args[0]), true, nil
	}

	// the rest propagate absent and null operands
	if missing || hasNull(args) {
		return nil, false, nil
	}

	switch e.Op {
	case OpAdd:
		return fold(e.Op, args, func(a, b int64) int64 { return a + b },
			func(a, b float64) float64 { return a + b })

	case OpMultiply:
		return fold(e.Op, args, func(a, b int64) int64 { return a * b },
			func(a, b float64) float64 { return a * b })

	case OpSubtract:
		if ta, ok := args[0].(time.Time); ok {
			switch b := args[1].(type) {
			case time.Time:
				return ta.Sub(b).Milliseconds(), true, nil
			case int64:
				return ta.Add(-time.Duration(b) * time.Millisecond), true, nil
			}
			return nil, false, dberrors.NewTypeMismatch(e.Op, args[0], args[1])
		}
		return fold(e.Op, args, func(a, b int64) int64 { return a - b },
			func(a, b float64) float64 { return a - b })

	case OpDivide:
		a, okA := document.AsFloat(args[0])
		b, okB := document.AsFloat(args[1])
		if !okA || !okB {
			return nil, false, dberrors.NewTypeMismatch(e.Op, args[0], args[1])
		}
		if b == 0 {
			return nil, false, dberrors.NewDivisionByZero(args[0])
		}
		return a / b, true, nil

	case OpHour, OpDayOfWeek:
		t, ok := args[0].(time.Time)
		if !ok {
			return nil, false, dberrors.NewTypeMismatch(e.Op, args[0], time.Time{})
		}
		t = t.UTC()
		if e.Op == OpHour {
			return int64(t.Hour()), true, nil
		}
		return int64(t.Weekday()) + 1, true, nil

	case OpSize:
		arr, ok := args[0].([]any)
		if !ok {
			return nil, false, dberrors.NewTypeMismatch(e.Op, args[0], []any{})
		}
		return int64(len(arr)), true, nil
	}

	return nil, false, dberrors.NewValidation("unknown expression operator %q", e.Op)
}

// fold applies a binary arithmetic operator left to right. The result is an int if all operands
// are ints, a double otherwise.
func fold(op string, args []any, fi func(a, b int64) int64, ff func(a, b float64) float64) (any, bool, error) {
	var acc any
	for i, arg := range args {
		if !document.KindOf(arg).IsNumeric() {
			return nil, false, dberrors.NewTypeMismatch(op, acc, arg)
		}
		if i == 0 {
			acc = arg
			continue
		}
		ia, aInt := acc.(int64)
		ib, bInt := arg.(int64)
		if aInt && bInt {
			acc = fi(ia, ib)
			continue
		}
		fa, _ := document.AsFloat(acc)
		fb, _ := document.AsFloat(arg)
		acc = ff(fa, fb)
	}
	return acc, true, nil
}

func hasNull(args []any) bool {
	for _, a := range args {
		if a == nil {
			return true
		}
	}
	return false
}

// truthy: null, false and numeric zero are false, everything else is true
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}
