package metrics

import (
	"math"

	"github.com/san-kum/flowode/internal/sim"
	"gonum.org/v1/gonum/floats"
)

// Stability is the fraction of accepted iterations whose state stays within
// limit in the max norm.
type Stability struct {
	limit   float64
	bounded int
	total   int
	// FirstExceeded is the λ at which the limit was first crossed, or NaN.
	FirstExceeded float64
}

func NewStability(limit float64) *Stability {
	return &Stability{limit: limit, FirstExceeded: math.NaN()}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(ev sim.StepEvent) {
	s.total++
	if floats.Norm(ev.State.Flatten(), math.Inf(1)) <= s.limit {
		s.bounded++
		return
	}
	if math.IsNaN(s.FirstExceeded) {
		s.FirstExceeded = ev.Lambda
	}
}

func (s *Stability) Value() float64 {
	if s.total == 0 {
		return 1
	}
	return float64(s.bounded) / float64(s.total)
}

func (s *Stability) Reset() {
	s.bounded, s.total = 0, 0
	s.FirstExceeded = math.NaN()
}
