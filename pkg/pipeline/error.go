package pipeline

import (
	"fmt"

	"github.com/l7mp/socialdb/pkg/dberrors"
)

type ErrInvalidArguments = error

func NewInvalidArgumentsError(stage, format string, args ...any) ErrInvalidArguments {
	return dberrors.NewValidation("invalid arguments to %s: %s", stage, fmt.Sprintf(format, args...))
}

type ErrUnmarshal = error

func NewUnmarshalError(kind, content string) ErrUnmarshal {
	return dberrors.NewValidation("parsing error in %s at %q", kind, content)
}

type ErrStage = error

// NewStageError wraps an error with the position and the description of the stage that
// produced it.
func NewStageError(i int, s Stage, err error) ErrStage {
	return fmt.Errorf("stage %d %s: %w", i, s.String(), err)
}

type ErrPipeline = error

func NewPipelineError(err error) ErrPipeline {
	return fmt.Errorf("failed to evaluate pipeline: %w", err)
}
