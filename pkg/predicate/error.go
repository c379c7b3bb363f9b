package predicate

import "fmt"

type ErrPredicate = error

// NewPredicateError wraps an evaluation error with the filter that produced it.
func NewPredicateError(f Filter, err error) ErrPredicate {
	return fmt.Errorf("failed to evaluate filter %s: %w", f.String(), err)
}
