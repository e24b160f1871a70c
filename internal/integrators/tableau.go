// Package integrators implements embedded Runge-Kutta stepping: Butcher
// tableaus, a single-step [Stepper] and the accept/reject [Controller].
package integrators

import (
	"fmt"
	"math"
)

// Tableau holds the coefficients of an (embedded) explicit Runge-Kutta
// method.
//
// A is strictly lower triangular and stored ragged: A[s] has s entries.
// C holds the nodes of stages 1..Stages-1; the node of stage 0 is zero.
// BHigh advances the solution, BHigh-BLow estimates the local error.
// Order is the declared order of the low-order formula.
type Tableau struct {
	Name     string
	Stages   int
	Order    int
	A        [][]float64
	BHigh    []float64
	BLow     []float64
	C        []float64
	Adaptive bool
}

// Coeff returns a[row][col], zero outside the lower triangle.
func (t Tableau) Coeff(row, col int) float64 {
	if row <= 0 || col >= row || row >= len(t.A) {
		return 0
	}
	return t.A[row][col]
}

// Node returns c[stage].
func (t Tableau) Node(stage int) float64 {
	if stage == 0 {
		return 0
	}
	return t.C[stage-1]
}

// ErrorWeight returns BHigh[stage] - BLow[stage].
func (t Tableau) ErrorWeight(stage int) float64 {
	return t.BHigh[stage] - t.BLow[stage]
}

// Fixed returns a non-adaptive copy that integrates with BHigh only.
func (t Tableau) Fixed() Tableau {
	f := t
	f.Adaptive = false
	f.Name = t.Name + " (fixed)"
	return f
}

// Validate checks the shape of the coefficient arrays. The order
// conditions themselves are not checked.
func (t Tableau) Validate() error {
	if t.Stages < 1 {
		return fmt.Errorf("tableau %q: needs at least one stage", t.Name)
	}
	if len(t.A) != t.Stages {
		return fmt.Errorf("tableau %q: %d rows in A for %d stages", t.Name, len(t.A), t.Stages)
	}
	for s, row := range t.A {
		if len(row) != s {
			return fmt.Errorf("tableau %q: row %d of A has %d entries, want %d", t.Name, s, len(row), s)
		}
	}
	if len(t.BHigh) != t.Stages || len(t.BLow) != t.Stages {
		return fmt.Errorf("tableau %q: weights must have %d entries", t.Name, t.Stages)
	}
	if len(t.C) != t.Stages-1 {
		return fmt.Errorf("tableau %q: %d nodes, want %d", t.Name, len(t.C), t.Stages-1)
	}
	if t.Adaptive && t.Order < 1 {
		return fmt.Errorf("tableau %q: adaptive method needs a declared order", t.Name)
	}
	sum := 0.0
	for _, b := range t.BHigh {
		sum += b
	}
	if math.Abs(sum-1) > 1e-12 {
		return fmt.Errorf("tableau %q: weights sum to %g", t.Name, sum)
	}
	return nil
}
