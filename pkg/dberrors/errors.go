// Package dberrors defines the error taxonomy of the document engine. Errors are apimachinery
// status errors with a reason so that callers can classify them with the IsX helpers even after
// they have been wrapped with additional context.
package dberrors

import (
	"fmt"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// ReasonDuplicateKey is returned when an insert collides with an existing _id.
	ReasonDuplicateKey = metav1.StatusReasonAlreadyExists
	// ReasonValidation is returned for malformed filters, pipelines, updates or documents.
	ReasonValidation = metav1.StatusReasonBadRequest
	// ReasonTypeMismatch is returned when two values of incomparable types are compared.
	ReasonTypeMismatch metav1.StatusReason = "TypeMismatch"
	// ReasonDivisionByZero is returned for an unguarded division by zero.
	ReasonDivisionByZero metav1.StatusReason = "DivisionByZero"
)

// StatusError is the concrete error type returned by the engine.
type StatusError = apierrors.StatusError

// NewDuplicateKey returns an error reporting that a document with the given id already exists.
func NewDuplicateKey(collection string, id any) *StatusError {
	return apierrors.NewAlreadyExists(schema.GroupResource{Resource: collection}, fmt.Sprint(id))
}

// NewValidation returns a validation error.
func NewValidation(format string, args ...any) *StatusError {
	return apierrors.NewBadRequest("validation error: " + fmt.Sprintf(format, args...))
}

// NewTypeMismatch returns an error reporting that two values cannot be compared or combined.
func NewTypeMismatch(op string, a, b any) *StatusError {
	return newStatusError(ReasonTypeMismatch, http.StatusUnprocessableEntity,
		fmt.Sprintf("type mismatch: cannot apply %s to %T and %T", op, a, b))
}

// NewDivisionByZero returns an error reporting a division by zero.
func NewDivisionByZero(dividend any) *StatusError {
	return newStatusError(ReasonDivisionByZero, http.StatusUnprocessableEntity,
		fmt.Sprintf("division by zero: cannot divide %v by 0", dividend))
}

func newStatusError(reason metav1.StatusReason, code int32, msg string) *StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    code,
		Reason:  reason,
		Message: msg,
	}}
}

// ReasonForError returns the reason of the first status error in the chain of err, or the empty
// reason.
func ReasonForError(err error) metav1.StatusReason { return apierrors.ReasonForError(err) }

// IsDuplicateKey returns true if err is or wraps a duplicate key error.
func IsDuplicateKey(err error) bool { return apierrors.IsAlreadyExists(err) }

// IsValidation returns true if err is or wraps a validation error.
func IsValidation(err error) bool { return apierrors.IsBadRequest(err) }

// IsTypeMismatch returns true if err is or wraps a type mismatch error.
func IsTypeMismatch(err error) bool { return ReasonForError(err) == ReasonTypeMismatch }

// IsDivisionByZero returns true if err is or wraps a division by zero error.
func IsDivisionByZero(err error) bool { return ReasonForError(err) == ReasonDivisionByZero }
