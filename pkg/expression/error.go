package expression

import (
	"fmt"

	"github.com/l7mp/socialdb/pkg/dberrors"
)

type ErrInvalidArguments = error

func NewInvalidArgumentsError(op, content string) ErrInvalidArguments {
	return dberrors.NewValidation("invalid arguments to %s: %s", op, content)
}

type ErrUnmarshal = error

func NewUnmarshalError(kind, content string) ErrUnmarshal {
	return dberrors.NewValidation("parsing error in %s at %q", kind, content)
}

type ErrExpression = error

func NewExpressionError(e *Expression, err error) ErrExpression {
	return fmt.Errorf("failed to evaluate %s expression %s: %w", e.Op, e.String(), err)
}
