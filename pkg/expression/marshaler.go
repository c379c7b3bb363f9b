package expression

import (
	encodingjson "encoding/json"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/json"

	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/util"
)

var _ encodingjson.Marshaler = Expression{}
var _ encodingjson.Unmarshaler = &Expression{}

// Parse converts a structured expression into an Expression. Strings starting with "$" are field
// references, objects with a single "$"-prefixed key are operators whose argument is a list or a
// single expression, other objects and arrays are composite literals and everything else is a
// literal value. Use {"$literal": v} to escape a string starting with "$".
func Parse(v any) (Expression, error) {
	if e, ok := v.(Expression); ok {
		return e, e.Validate()
	}

	if s, ok := v.(string); ok {
		if strings.HasPrefix(s, "$$") {
			return Expression{}, NewUnmarshalError("expression", s)
		}
		if strings.HasPrefix(s, "$") {
			e := Field(s)
			return e, e.Validate()
		}
		return Lit(s), nil
	}

	if list, ok := document.List(v); ok {
		args, err := parseList(list)
		if err != nil {
			return Expression{}, err
		}
		return Array(args...), nil
	}

	elems, ok := document.Elems(v)
	if !ok {
		e := Lit(v)
		return e, e.Validate()
	}

	if len(elems) == 1 && strings.HasPrefix(elems[0].Key, "$") {
		return parseOperator(elems[0].Key, elems[0].Value)
	}

	fields := make(map[string]Expression, len(elems))
	for _, el := range elems {
		if strings.HasPrefix(el.Key, "$") {
			return Expression{}, NewUnmarshalError("expression",
				fmt.Sprintf("operator %s mixed with other keys", el.Key))
		}
		e, err := Parse(el.Value)
		if err != nil {
			return Expression{}, fmt.Errorf("field %q: %w", el.Key, err)
		}
		fields[el.Key] = e
	}

	return Object(fields), nil
}

func parseOperator(op string, arg any) (Expression, error) {
	switch op {
	case OpLiteral:
		e := Lit(arg)
		return e, e.Validate()
	case "$oid", "$date":
		v, err := document.FromExtendedJSON(map[string]any{op: arg})
		if err != nil {
			return Expression{}, err
		}
		return Lit(v), nil
	case OpCond:
		// {"$cond": {"if": ..., "then": ..., "else": ...}}
		if elems, ok := document.Elems(arg); ok {
			m := map[string]any{}
			for _, el := range elems {
				m[el.Key] = el.Value
			}
			if _, ok := m["if"]; ok {
				arg = []any{m["if"], m["then"], m["else"]}
			}
		}
	}

	if _, ok := arity[op]; !ok || op == OpArray {
		return Expression{}, NewUnmarshalError("expression", fmt.Sprintf("unknown operator %s", op))
	}

	var args []Expression
	if list, ok := document.List(arg); ok {
		var err error
		if args, err = parseList(list); err != nil {
			return Expression{}, fmt.Errorf("%s: %w", op, err)
		}
	} else {
		e, err := Parse(arg)
		if err != nil {
			return Expression{}, fmt.Errorf("%s: %w", op, err)
		}
		args = []Expression{e}
	}

	e := Expression{Op: op, Args: args}
	return e, e.checkArity()
}

func parseList(list []any) ([]Expression, error) {
	ret := make([]Expression, len(list))
	for i, v := range list {
		e, err := Parse(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		ret[i] = e
	}
	return ret, nil
}

// Spec renders the expression in its structured form, the inverse of Parse.
func (e Expression) Spec() any {
	switch e.Op {
	case OpLiteral:
		switch v := e.Literal.(type) {
		case string:
			if strings.HasPrefix(v, "$") {
				return map[string]any{OpLiteral: v}
			}
			return v
		case map[string]any, []any:
			return map[string]any{OpLiteral: document.ToExtendedJSON(v)}
		default:
			return document.ToExtendedJSON(v)
		}
	case OpField:
		return fmt.Sprintf("$%v", e.Literal)
	case OpObject:
		fields, _ := e.Literal.(map[string]Expression)
		ret := make(map[string]any, len(fields))
		for k, f := range fields {
			ret[k] = f.Spec()
		}
		return ret
	}

	args := make([]any, len(e.Args))
	for i := range e.Args {
		args[i] = e.Args[i].Spec()
	}
	if e.Op == OpArray {
		return args
	}
	return map[string]any{e.Op: args}
}

// String stringifies an expression.
func (e Expression) String() string { return util.Stringify(e.Spec()) }

// MarshalJSON encodes an expression in JSON format.
func (e Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Spec())
}

// UnmarshalJSON decodes an expression from JSON format.
func (e *Expression) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return NewUnmarshalError("expression", string(b))
	}
	ret, err := Parse(raw)
	if err != nil {
		return err
	}
	*e = ret
	return nil
}
