package store

import (
	"errors"
	"fmt"

	"github.com/artpar/livesync/core/validation"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation.error")

	// ErrNotArray is returned when an array operation targets a non-array value.
	ErrNotArray = errors.New("dataset is not an array")

	// ErrNotObject is returned when a keyed operation targets a non-object root.
	ErrNotObject = errors.New("dataset is not an object")

	// ErrUnknownFilter is returned when a named filter is not registered.
	ErrUnknownFilter = errors.New("filter not registered")

	// ErrNilFilter is returned when registering a nil filter.
	ErrNilFilter = errors.New("filter function is nil")
)

// ValidationError is returned when a mutation is rejected by validation.
type ValidationError struct {
	Failures []validation.Failure
}

func (e *ValidationError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("validation.error: %s", e.Failures[0].Error())
	}
	return fmt.Sprintf("validation.error: %d failures", len(e.Failures))
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Failures extracts the validation failures from err, or nil.
func Failures(err error) []validation.Failure {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Failures
	}
	return nil
}
