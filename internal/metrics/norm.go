package metrics

import (
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/sim"
	"gonum.org/v1/gonum/floats"
)

// StateNorm reports the Euclidean norm of the latest state.
type StateNorm struct {
	last float64
}

func NewStateNorm() *StateNorm { return &StateNorm{} }

func (n *StateNorm) Name() string { return "state_norm" }

func (n *StateNorm) Observe(ev sim.StepEvent) {
	n.last = floats.Norm(ev.State.Flatten(), 2)
}

func (n *StateNorm) Value() float64 { return n.last }

func (n *StateNorm) Reset() { n.last = 0 }

// ExactError is the largest deviation from a known solution over the run,
// measured in the max norm.
type ExactError struct {
	name     string
	solution func(lambda float64) dynamo.State
	maxErr   float64
}

func NewExactError(solution func(lambda float64) dynamo.State) *ExactError {
	return &ExactError{
		name:     "exact_error",
		solution: solution,
	}
}

func (e *ExactError) Name() string { return e.name }

func (e *ExactError) Observe(ev sim.StepEvent) {
	want := e.solution(ev.Lambda).Flatten()
	got := ev.State.Flatten()
	if len(want) != len(got) {
		e.maxErr = math.Inf(1)
		return
	}
	e.maxErr = math.Max(e.maxErr, floats.Distance(got, want, math.Inf(1)))
}

func (e *ExactError) Value() float64 {
	return e.maxErr
}

func (e *ExactError) Reset() {
	e.maxErr = 0
}

// Standard returns the metrics attached to every CLI run.
func Standard() []sim.Metric {
	return []sim.Metric{
		NewMeanStep(),
		NewMinStep(),
		NewMaxStep(),
		NewRejectionRate(),
		NewDegraded(),
		NewStateNorm(),
	}
}
