package dynamo

import (
	"fmt"
	"math"
	"reflect"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// State is a vector-space element integrated by the solver.
//
// Add, Sub, Scale and Abs return new values. AddScaled is the only in-place
// operation and mutates the receiver.
type State interface {
	Clone() State
	Add(other State) State
	Sub(other State) State
	Scale(factor float64) State
	// AddScaled sets the receiver to receiver + alpha*x.
	AddScaled(alpha float64, x State)
	Abs() State
	// MaxRatio returns max_i |s_i| / (scale_i + floor).
	MaxRatio(scale State, floor float64) float64
	IsValid() bool
	Shape() []int
	Flatten() []float64
}

// StepContext identifies one right-hand-side evaluation. It replaces any
// counter a System would otherwise keep on itself.
type StepContext struct {
	Iteration int
	Attempt   int
	Stage     int
}

// System is the right-hand side of the flow equation dY/dλ = f(Y, λ).
// Derive must return identical results for identical input, since rejected
// steps evaluate the same point again.
type System interface {
	Derive(sc StepContext, y State, lambda float64) (State, error)
}

// SystemFunc adapts a function to the System interface.
type SystemFunc func(sc StepContext, y State, lambda float64) (State, error)

func (f SystemFunc) Derive(sc StepContext, y State, lambda float64) (State, error) {
	return f(sc, y, lambda)
}

// Vector is a flat state.
type Vector []float64

func (v Vector) Clone() State {
	c := make(Vector, len(v))
	copy(c, v)
	return c
}

func (v Vector) Add(other State) State {
	o := v.same(other)
	result := make(Vector, len(v))
	copy(result, v)
	floats.Add(result, o)
	return result
}

func (v Vector) Sub(other State) State {
	o := v.same(other)
	result := make(Vector, len(v))
	copy(result, v)
	floats.Sub(result, o)
	return result
}

func (v Vector) Scale(factor float64) State {
	result := make(Vector, len(v))
	copy(result, v)
	floats.Scale(factor, result)
	return result
}

func (v Vector) AddScaled(alpha float64, x State) {
	floats.AddScaled(v, alpha, v.same(x))
}

func (v Vector) Abs() State {
	result := make(Vector, len(v))
	for i, val := range v {
		result[i] = math.Abs(val)
	}
	return result
}

func (v Vector) MaxRatio(scale State, floor float64) float64 {
	s := v.same(scale)
	maxRatio := 0.0
	for i, val := range v {
		r := ratio(val, s[i]+floor)
		if math.IsNaN(r) {
			return r
		}
		if r > maxRatio {
			maxRatio = r
		}
	}
	return maxRatio
}

func (v Vector) IsValid() bool {
	for _, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return false
		}
	}
	return true
}

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	return floats.Norm(v, 2)
}

func (v Vector) Shape() []int { return []int{len(v)} }

func (v Vector) Flatten() []float64 {
	c := make([]float64, len(v))
	copy(c, v)
	return c
}

func (v Vector) same(other State) Vector {
	o, ok := other.(Vector)
	if !ok || len(o) != len(v) {
		panic(fmt.Errorf("%w: vector of length %d vs %T%v", ErrDimensionMismatch, len(v), other, other.Shape()))
	}
	return o
}

// ratio returns |num| / den and treats 0/0 as zero.
func ratio(num, den float64) float64 {
	num = math.Abs(num)
	if num == 0 {
		return 0
	}
	return num / den
}

// Conform returns ErrDimensionMismatch unless got is the same kind of state
// as want with the same shape.
func Conform(want, got State) error {
	if got == nil {
		return fmt.Errorf("%w: got nil state", ErrDimensionMismatch)
	}
	if v := reflect.ValueOf(got); v.Kind() == reflect.Pointer && v.IsNil() {
		return fmt.Errorf("%w: got nil %T", ErrDimensionMismatch, got)
	}
	if reflect.TypeOf(want) != reflect.TypeOf(got) {
		return fmt.Errorf("%w: %T vs %T", ErrDimensionMismatch, want, got)
	}
	if !slices.Equal(want.Shape(), got.Shape()) {
		return fmt.Errorf("%w: shape %v vs %v", ErrDimensionMismatch, want.Shape(), got.Shape())
	}
	return nil
}

// Restore rebuilds a state from its flattened form.
func Restore(shape []int, data []float64) (State, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if len(shape) == 0 || size != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrDimensionMismatch, shape, size, len(data))
	}

	switch len(shape) {
	case 1:
		v := make(Vector, len(data))
		copy(v, data)
		return v, nil
	case 2:
		return NewField(shape[0], shape[1], append([]float64(nil), data...)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported rank %d", ErrDimensionMismatch, len(shape))
	}
}

// Cursor is the driver's step-size memory after an accepted iteration.
type Cursor struct {
	NextStep      float64 `json:"next_step"`
	PrevStep      float64 `json:"prev_step"`
	HitCheckpoint bool    `json:"hit_checkpoint"`
}

// Snapshot is the persisted form of one accepted iteration.
type Snapshot struct {
	Iteration int       `json:"iteration"`
	Lambda    float64   `json:"lambda"`
	Converged bool      `json:"converged"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	Cursor    Cursor    `json:"cursor"`
}

func NewSnapshot(iteration int, lambda float64, y State) Snapshot {
	return Snapshot{
		Iteration: iteration,
		Lambda:    lambda,
		Shape:     y.Shape(),
		Data:      y.Flatten(),
	}
}

// State rebuilds the stored state.
func (s Snapshot) State() (State, error) {
	return Restore(s.Shape, s.Data)
}
