package metrics

import (
	"math"

	"github.com/san-kum/flowode/internal/sim"
)

// StepSize tracks the accepted λ increments.
type StepSize struct {
	name    string
	reduce  func(acc, h float64) float64
	acc     float64
	sum     float64
	samples int
	mean    bool
}

func NewMeanStep() *StepSize {
	return &StepSize{name: "mean_step", mean: true}
}

func NewMinStep() *StepSize {
	return &StepSize{name: "min_step", reduce: math.Min}
}

func NewMaxStep() *StepSize {
	return &StepSize{name: "max_step", reduce: math.Max}
}

func (s *StepSize) Name() string { return s.name }

func (s *StepSize) Observe(ev sim.StepEvent) {
	h := math.Abs(ev.Outcome.HDid)
	s.sum += h
	if s.reduce != nil {
		if s.samples == 0 {
			s.acc = h
		} else {
			s.acc = s.reduce(s.acc, h)
		}
	}
	s.samples++
}

func (s *StepSize) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	if s.mean {
		return s.sum / float64(s.samples)
	}
	return s.acc
}

func (s *StepSize) Reset() {
	s.acc = 0
	s.sum = 0
	s.samples = 0
}
