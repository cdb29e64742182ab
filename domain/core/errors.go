package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input errors
	ErrDegenerateInput  = errors.New("degenerate input")
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrLengthMismatch   = errors.New("column lengths differ")
	ErrInvalidTreatment = errors.New("treatment indicator must be 0 or 1")
	ErrInvalidOutcome   = errors.New("outcome must be binary (0 or 1)")
	ErrColumnNotFound   = errors.New("column not found")

	// Model fitting errors
	ErrSingularDesign = errors.New("design matrix is singular")
	ErrNotConverged   = errors.New("model fit did not converge")
)

// Error constructors with context
func NewDegenerateInputError(reason string) error {
	return fmt.Errorf("%w: %s", ErrDegenerateInput, reason)
}

func NewLengthMismatchError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has length %d, expected %d", ErrLengthMismatch, what, got, want)
}

func NewInsufficientDataError(what string, got, need int) error {
	return fmt.Errorf("%w: %s has %d observations, need at least %d", ErrInsufficientData, what, got, need)
}

func NewColumnNotFoundError(name string) error {
	return fmt.Errorf("%w: %s", ErrColumnNotFound, name)
}

// Error checking helpers
func IsDegenerateInput(err error) bool {
	return errors.Is(err, ErrDegenerateInput)
}

func IsInputError(err error) bool {
	return errors.Is(err, ErrDegenerateInput) ||
		errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrLengthMismatch) ||
		errors.Is(err, ErrInvalidTreatment) ||
		errors.Is(err, ErrInvalidOutcome) ||
		errors.Is(err, ErrColumnNotFound)
}

func IsFitError(err error) bool {
	return errors.Is(err, ErrSingularDesign) ||
		errors.Is(err, ErrNotConverged)
}
