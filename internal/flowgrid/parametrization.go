// Package flowgrid maps the flow parameter λ to the integration variable t
// and builds non-uniform λ grids that are uniform in t.
package flowgrid

import (
	"fmt"
	"math"
	"sort"
)

// Parametrization is a strictly monotonic bijection between λ and t.
type Parametrization interface {
	Name() string
	TFromLambda(lambda float64) float64
	LambdaFromT(t float64) float64
	// DLambdaDT is the derivative of LambdaFromT at t.
	DLambdaDT(t float64) float64
	// Contains reports whether lambda lies in the domain of TFromLambda.
	Contains(lambda float64) bool
}

// Linear uses t = λ.
type Linear struct{}

func (Linear) Name() string                       { return "linear" }
func (Linear) TFromLambda(lambda float64) float64 { return lambda }
func (Linear) LambdaFromT(t float64) float64      { return t }
func (Linear) DLambdaDT(float64) float64          { return 1 }
func (Linear) Contains(lambda float64) bool       { return !math.IsNaN(lambda) && !math.IsInf(lambda, 0) }

// Sqrt uses t = sign(λ)·sqrt(|λ|): uniform steps in t crowd λ near zero.
type Sqrt struct{}

func (Sqrt) Name() string { return "sqrt" }

func (Sqrt) TFromLambda(lambda float64) float64 {
	return math.Copysign(math.Sqrt(math.Abs(lambda)), lambda)
}

func (Sqrt) LambdaFromT(t float64) float64 {
	return math.Copysign(t*t, t)
}

func (Sqrt) DLambdaDT(t float64) float64 {
	return 2 * math.Abs(t)
}

func (Sqrt) Contains(lambda float64) bool { return !math.IsNaN(lambda) && !math.IsInf(lambda, 0) }

// Exp uses λ = exp(-t), so that equal steps in t shrink λ geometrically.
// Only positive λ are representable.
type Exp struct{}

func (Exp) Name() string                       { return "exp" }
func (Exp) TFromLambda(lambda float64) float64 { return -math.Log(lambda) }
func (Exp) LambdaFromT(t float64) float64      { return math.Exp(-t) }
func (Exp) DLambdaDT(t float64) float64        { return -math.Exp(-t) }
func (Exp) Contains(lambda float64) bool       { return lambda > 0 && !math.IsInf(lambda, 0) }

var parametrizations = map[string]Parametrization{
	"linear": Linear{},
	"sqrt":   Sqrt{},
	"exp":    Exp{},
}

// Lookup returns the parametrization registered under name.
func Lookup(name string) (Parametrization, error) {
	p, ok := parametrizations[name]
	if !ok {
		return nil, fmt.Errorf("unknown flow grid: %s (available: %v)", name, Names())
	}
	return p, nil
}

// Names lists the registered parametrizations in sorted order.
func Names() []string {
	names := make([]string, 0, len(parametrizations))
	for name := range parametrizations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
