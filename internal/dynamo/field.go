package dynamo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Field is a two-dimensional state, e.g. a discretised field configuration.
type Field struct {
	m *mat.Dense
}

// NewField wraps data in row-major order. A nil data slice allocates zeros.
func NewField(rows, cols int, data []float64) *Field {
	return &Field{m: mat.NewDense(rows, cols, data)}
}

// FieldOf wraps an existing matrix without copying it.
func FieldOf(m *mat.Dense) *Field {
	return &Field{m: m}
}

func (f *Field) Dense() *mat.Dense { return f.m }

func (f *Field) Dims() (int, int) { return f.m.Dims() }

func (f *Field) At(i, j int) float64 { return f.m.At(i, j) }

func (f *Field) Set(i, j int, v float64) { f.m.Set(i, j, v) }

func (f *Field) Clone() State {
	return &Field{m: mat.DenseCopyOf(f.m)}
}

func (f *Field) Add(other State) State {
	var r mat.Dense
	r.Add(f.m, f.same(other).m)
	return &Field{m: &r}
}

func (f *Field) Sub(other State) State {
	var r mat.Dense
	r.Sub(f.m, f.same(other).m)
	return &Field{m: &r}
}

func (f *Field) Scale(factor float64) State {
	var r mat.Dense
	r.Scale(factor, f.m)
	return &Field{m: &r}
}

func (f *Field) AddScaled(alpha float64, x State) {
	var scaled mat.Dense
	scaled.Scale(alpha, f.same(x).m)
	f.m.Add(f.m, &scaled)
}

func (f *Field) Abs() State {
	var r mat.Dense
	r.Apply(func(_, _ int, v float64) float64 { return math.Abs(v) }, f.m)
	return &Field{m: &r}
}

func (f *Field) MaxRatio(scale State, floor float64) float64 {
	s := f.same(scale)
	rows, cols := f.m.Dims()
	maxRatio := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			r := ratio(f.m.At(i, j), s.m.At(i, j)+floor)
			if math.IsNaN(r) {
				return r
			}
			if r > maxRatio {
				maxRatio = r
			}
		}
	}
	return maxRatio
}

func (f *Field) IsValid() bool {
	rows, cols := f.m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := f.m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func (f *Field) Shape() []int {
	rows, cols := f.m.Dims()
	return []int{rows, cols}
}

func (f *Field) Flatten() []float64 {
	rows, cols := f.m.Dims()
	raw := f.m.RawMatrix()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+cols]...)
	}
	return out
}

func (f *Field) same(other State) *Field {
	o, ok := other.(*Field)
	if !ok {
		panic(fmt.Errorf("%w: field vs %T", ErrDimensionMismatch, other))
	}
	r1, c1 := f.m.Dims()
	r2, c2 := o.m.Dims()
	if r1 != r2 || c1 != c2 {
		panic(fmt.Errorf("%w: field %dx%d vs %dx%d", ErrDimensionMismatch, r1, c1, r2, c2))
	}
	return o
}
