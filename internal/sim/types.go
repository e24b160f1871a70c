package sim

import (
	"github.com/san-kum/flowode/internal/dynamo"
	"github.com/san-kum/flowode/internal/integrators"
)

// Status is the terminal state of a run.
type Status int

const (
	Running Status = iota
	Finished
	Exhausted
	Aborted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StepEvent is passed to hooks and metrics after every accepted iteration.
// State may be modified in place by a hook; Lambda and Trace are read-only.
type StepEvent struct {
	Iteration int
	Lambda    float64
	State     dynamo.State
	Trace     []float64
	Outcome   integrators.Outcome
	Converged bool
	Verbose   bool
}

// PostStepHook runs after an iteration has been persisted. A returned error
// aborts the run.
type PostStepHook interface {
	OnStep(ev StepEvent) error
}

// HookFunc adapts a function to PostStepHook.
type HookFunc func(ev StepEvent) error

func (f HookFunc) OnStep(ev StepEvent) error { return f(ev) }

// Metric accumulates a scalar over the accepted iterations of a run.
type Metric interface {
	Name() string
	Observe(ev StepEvent)
	Value() float64
	Reset()
}

// Recorder persists snapshots. Appending iteration j discards every stored
// iteration >= j.
type Recorder interface {
	Append(s dynamo.Snapshot) error
}

// Start is the point a run begins from. A fresh run needs only State; a
// resumed run also carries the persisted trace and, for exact resumption,
// the step-size memory of the start iteration.
type Start struct {
	State  dynamo.State
	Trace  []float64
	Cursor *dynamo.Cursor
}

// Stats counts the work done by a run.
type Stats struct {
	Accepted    int
	Rejected    int
	Forced      int
	Evaluations int
}

type Result struct {
	State   dynamo.State
	Lambda  float64
	Trace   []float64
	Status  Status
	Stats   Stats
	Metrics map[string]float64
}
