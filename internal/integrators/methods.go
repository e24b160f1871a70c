package integrators

import (
	"fmt"
	"sort"
)

// CashKarp is the 5(4) pair of Cash and Karp (1990), the default method.
var CashKarp = Tableau{
	Name:   "cash-karp",
	Stages: 6,
	Order:  4,
	A: [][]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{3.0 / 10.0, -9.0 / 10.0, 6.0 / 5.0},
		{-11.0 / 54.0, 5.0 / 2.0, -70.0 / 27.0, 35.0 / 27.0},
		{1631.0 / 55296.0, 175.0 / 512.0, 575.0 / 13824.0, 44275.0 / 110592.0, 253.0 / 4096.0},
	},
	BHigh:    []float64{37.0 / 378.0, 0, 250.0 / 621.0, 125.0 / 594.0, 0, 512.0 / 1771.0},
	BLow:     []float64{2825.0 / 27648.0, 0, 18575.0 / 48384.0, 13525.0 / 55296.0, 277.0 / 14336.0, 1.0 / 4.0},
	C:        []float64{1.0 / 5.0, 3.0 / 10.0, 3.0 / 5.0, 1, 7.0 / 8.0},
	Adaptive: true,
}

// DormandPrince is the 5(4) pair of Dormand and Prince. The seventh stage is
// evaluated but not reused between steps.
var DormandPrince = Tableau{
	Name:   "dormand-prince",
	Stages: 7,
	Order:  4,
	A: [][]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
		{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	},
	BHigh:    []float64{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0, 0},
	BLow:     []float64{5179.0 / 57600.0, 0, 7571.0 / 16695.0, 393.0 / 640.0, -92097.0 / 339200.0, 187.0 / 2100.0, 1.0 / 40.0},
	C:        []float64{1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1, 1},
	Adaptive: true,
}

// BogackiShampine is the 3(2) pair of Bogacki and Shampine.
var BogackiShampine = Tableau{
	Name:   "bogacki-shampine",
	Stages: 4,
	Order:  2,
	A: [][]float64{
		{},
		{1.0 / 2.0},
		{0, 3.0 / 4.0},
		{2.0 / 9.0, 1.0 / 3.0, 4.0 / 9.0},
	},
	BHigh:    []float64{2.0 / 9.0, 1.0 / 3.0, 4.0 / 9.0, 0},
	BLow:     []float64{7.0 / 24.0, 1.0 / 4.0, 1.0 / 3.0, 1.0 / 8.0},
	C:        []float64{1.0 / 2.0, 3.0 / 4.0, 1},
	Adaptive: true,
}

// HeunEuler is the 2(1) pair formed by Heun's method and explicit Euler.
var HeunEuler = Tableau{
	Name:   "heun-euler",
	Stages: 2,
	Order:  1,
	A: [][]float64{
		{},
		{1},
	},
	BHigh:    []float64{1.0 / 2.0, 1.0 / 2.0},
	BLow:     []float64{1, 0},
	C:        []float64{1},
	Adaptive: true,
}

// RK4 is the classic fourth-order method. It has no embedded formula and
// always follows the precomputed flow grid.
var RK4 = Tableau{
	Name:   "rk4",
	Stages: 4,
	Order:  4,
	A: [][]float64{
		{},
		{1.0 / 2.0},
		{0, 1.0 / 2.0},
		{0, 0, 1},
	},
	BHigh:    []float64{1.0 / 6.0, 1.0 / 3.0, 1.0 / 3.0, 1.0 / 6.0},
	BLow:     []float64{1.0 / 6.0, 1.0 / 3.0, 1.0 / 3.0, 1.0 / 6.0},
	C:        []float64{1.0 / 2.0, 1.0 / 2.0, 1},
	Adaptive: false,
}

var methods = map[string]Tableau{
	CashKarp.Name:        CashKarp,
	DormandPrince.Name:   DormandPrince,
	BogackiShampine.Name: BogackiShampine,
	HeunEuler.Name:       HeunEuler,
	RK4.Name:             RK4,
}

// Lookup returns the tableau registered under name.
func Lookup(name string) (Tableau, error) {
	t, ok := methods[name]
	if !ok {
		return Tableau{}, fmt.Errorf("unknown method: %s (available: %v)", name, Names())
	}
	return t, nil
}

// Names lists the registered methods in sorted order.
func Names() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
