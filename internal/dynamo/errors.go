package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for flow integration.
var (
	// ErrInvalidState indicates a state holding NaN or Inf values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrStepUnderflow indicates that t + dt rounds to t.
	ErrStepUnderflow = errors.New("dynamo: step size underflow")

	// ErrResizeExhausted indicates the step was rejected too many times.
	ErrResizeExhausted = errors.New("dynamo: maximal number of step resizing attempts reached")

	// ErrAccuracyDegraded indicates a step accepted at the minimal step size
	// with an error above tolerance while strict accuracy is requested.
	ErrAccuracyDegraded = errors.New("dynamo: step accepted above tolerance at minimal step size")

	// ErrInvalidIterStart indicates a resume index outside the persisted range.
	ErrInvalidIterStart = errors.New("dynamo: start iteration outside persisted range")

	// ErrInvalidConfig indicates inconsistent solver parameters.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")

	// ErrDimensionMismatch indicates states of different kind or shape.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between states")
)

// StepError wraps an error with the position in the flow where it happened.
type StepError struct {
	Iteration int
	Lambda    float64
	Wrapped   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("iteration %d (lambda=%.6g): %v", e.Iteration, e.Lambda, e.Wrapped)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
