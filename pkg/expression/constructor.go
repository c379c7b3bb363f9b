package expression

import (
	"strings"

	"github.com/l7mp/socialdb/pkg/document"
)

// Lit creates a literal expression. Unsupported values are reported by Validate and Evaluate.
func Lit(value any) Expression {
	v, err := document.Normalize(value)
	if err != nil {
		return Expression{Op: OpLiteral, err: err}
	}
	return Expression{Op: OpLiteral, Literal: v}
}

// Field creates a reference to the value at a dotted path of the input document. The leading "$"
// is optional.
func Field(path string) Expression {
	path = strings.TrimPrefix(path, "$")
	e := Expression{Op: OpField, Literal: path}
	if err := document.ValidatePath(path); err != nil {
		e.err = err
	}
	return e
}

// Object creates an object whose fields are computed by expressions.
func Object(fields map[string]Expression) Expression {
	return Expression{Op: OpObject, Literal: fields}
}

// Array creates an array whose elements are computed by expressions.
func Array(elems ...Expression) Expression { return op(OpArray, elems...) }

func op(o string, args ...Expression) Expression {
	return Expression{Op: o, Args: args}
}

func Add(args ...Expression) Expression      { return op(OpAdd, args...) }
func Subtract(a, b Expression) Expression    { return op(OpSubtract, a, b) }
func Multiply(args ...Expression) Expression { return op(OpMultiply, args...) }

// Divide divides a by b. Dividing by zero is an error; guard it with Cond.
func Divide(a, b Expression) Expression { return op(OpDivide, a, b) }

// Cond evaluates test and then exactly one of the branches.
func Cond(test, then, otherwise Expression) Expression { return op(OpCond, test, then, otherwise) }

// Hour extracts the hour of the day (0-23, UTC) from a timestamp.
func Hour(e Expression) Expression { return op(OpHour, e) }

// DayOfWeek extracts the day of the week (1 for Sunday to 7 for Saturday, UTC) from a timestamp.
func DayOfWeek(e Expression) Expression { return op(OpDayOfWeek, e) }

func Eq(a, b Expression) Expression  { return op(OpEq, a, b) }
func Ne(a, b Expression) Expression  { return op(OpNe, a, b) }
func Gt(a, b Expression) Expression  { return op(OpGt, a, b) }
func Gte(a, b Expression) Expression { return op(OpGte, a, b) }
func Lt(a, b Expression) Expression  { return op(OpLt, a, b) }
func Lte(a, b Expression) Expression { return op(OpLte, a, b) }

func And(args ...Expression) Expression { return op(OpAnd, args...) }
func Or(args ...Expression) Expression  { return op(OpOr, args...) }
func Not(e Expression) Expression       { return op(OpNot, e) }

// Size returns the length of an array.
func Size(e Expression) Expression { return op(OpSize, e) }

// IfNull returns e unless it is null or absent, in which case it returns replacement.
func IfNull(e, replacement Expression) Expression { return op(OpIfNull, e, replacement) }
