package problems

import (
	"fmt"
	"math"

	"github.com/san-kum/flowode/internal/dynamo"
)

// Heat is the diffusion equation on the unit square with zero Dirichlet
// boundaries, discretised with the five-point Laplacian on a rows x cols
// interior grid. Rows are evaluated in parallel.
type Heat struct {
	Rows, Cols  int
	Diffusivity float64
	hx, hy      float64
}

func NewHeat(rows, cols int) *Heat {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return &Heat{
		Rows:        rows,
		Cols:        cols,
		Diffusivity: 0.1,
		hx:          1 / float64(rows+1),
		hy:          1 / float64(cols+1),
	}
}

func (h *Heat) Name() string { return "heat" }

func (h *Heat) Derive(_ dynamo.StepContext, y dynamo.State, _ float64) (dynamo.State, error) {
	u, ok := y.(*dynamo.Field)
	if !ok {
		return nil, fmt.Errorf("%w: heat needs a field, got %T", dynamo.ErrDimensionMismatch, y)
	}
	if r, c := u.Dims(); r != h.Rows || c != h.Cols {
		return nil, fmt.Errorf("%w: heat grid is %dx%d, state is %dx%d", dynamo.ErrDimensionMismatch, h.Rows, h.Cols, r, c)
	}

	out := dynamo.NewField(h.Rows, h.Cols, nil)
	ix, iy := 1/(h.hx*h.hx), 1/(h.hy*h.hy)
	at := func(i, j int) float64 {
		if i < 0 || j < 0 || i >= h.Rows || j >= h.Cols {
			return 0
		}
		return u.At(i, j)
	}

	err := dynamo.ParallelFor(h.Rows, 4, func(start, end int) error {
		for i := start; i < end; i++ {
			for j := 0; j < h.Cols; j++ {
				c := u.At(i, j)
				lap := (at(i-1, j)-2*c+at(i+1, j))*ix + (at(i, j-1)-2*c+at(i, j+1))*iy
				out.Set(i, j, h.Diffusivity*lap)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mode is the lowest eigenvector of the discrete Laplacian.
func (h *Heat) mode() *dynamo.Field {
	f := dynamo.NewField(h.Rows, h.Cols, nil)
	for i := 0; i < h.Rows; i++ {
		for j := 0; j < h.Cols; j++ {
			f.Set(i, j, math.Sin(math.Pi*float64(i+1)*h.hx)*math.Sin(math.Pi*float64(j+1)*h.hy))
		}
	}
	return f
}

// Rate is the decay rate of the lowest mode of the discretised system.
func (h *Heat) Rate() float64 {
	sx := math.Sin(math.Pi * h.hx / 2)
	sy := math.Sin(math.Pi * h.hy / 2)
	return h.Diffusivity * (4*sx*sx/(h.hx*h.hx) + 4*sy*sy/(h.hy*h.hy))
}

func (h *Heat) Initial(lambda float64) dynamo.State { return h.Solution(lambda) }

// Solution is exact for the discretised system.
func (h *Heat) Solution(lambda float64) dynamo.State {
	return h.mode().Scale(math.Exp(-h.Rate() * lambda))
}

func (h *Heat) GetParams() map[string]float64 {
	return map[string]float64{
		"diffusivity": h.Diffusivity,
		"rows":        float64(h.Rows),
		"cols":        float64(h.Cols),
	}
}

func (h *Heat) SetParam(name string, value float64) error {
	switch name {
	case "diffusivity":
		h.Diffusivity = value
	case "rows", "cols":
		n := int(value)
		if n < 1 {
			return fmt.Errorf("heat: %s must be positive, got %g", name, value)
		}
		rows, cols := h.Rows, h.Cols
		if name == "rows" {
			rows = n
		} else {
			cols = n
		}
		d := h.Diffusivity
		*h = *NewHeat(rows, cols)
		h.Diffusivity = d
	default:
		return unknownParam(h.Name(), name)
	}
	return nil
}
