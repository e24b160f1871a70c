package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/san-kum/flowode/internal/analysis"
	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/experiment"
	"github.com/san-kum/flowode/internal/flowgrid"
	"github.com/san-kum/flowode/internal/integrators"
	"github.com/san-kum/flowode/internal/problems"
	"github.com/spf13/cobra"
)

// studyFlags are kept per command since the defaults differ.
type studyFlags struct {
	method      string
	grid        string
	lambdaI     float64
	lambdaF     float64
	params      []string
	resolutions []int
	tolerances  []float64
}

func (f *studyFlags) register(cmd *cobra.Command, grid string, lambdaF float64) {
	cmd.Flags().StringVar(&f.method, "method", config.DefaultMethod, "butcher tableau")
	cmd.Flags().StringVar(&f.grid, "grid", grid, "flow grid parametrization")
	cmd.Flags().Float64Var(&f.lambdaI, "lambda-i", 0, "initial lambda")
	cmd.Flags().Float64Var(&f.lambdaF, "lambda-f", lambdaF, "final lambda")
	cmd.Flags().StringSliceVar(&f.params, "param", nil, "problem parameter as name=value")
}

func newOrderCmd() *cobra.Command {
	f := &studyFlags{}
	cmd := &cobra.Command{
		Use:   "order [problem]",
		Short: "measure the convergence order of a method on fixed grids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return orderStudy(cmd, args[0], f)
		},
	}
	f.register(cmd, "linear", 1)
	cmd.Flags().IntSliceVar(&f.resolutions, "steps", []int{8, 16, 32, 64}, "grid resolutions")
	return cmd
}

func newSweepCmd() *cobra.Command {
	f := &studyFlags{}
	cmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "compare accuracy and work across tolerances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return toleranceSweep(cmd, args[0], f)
		},
	}
	f.register(cmd, config.DefaultGrid, 5)
	cmd.Flags().Float64SliceVar(&f.tolerances, "rtol", []float64{1e-3, 1e-5, 1e-7, 1e-9}, "relative tolerances")
	return cmd
}

func studySetup(name string, f *studyFlags) (problems.Problem, integrators.Tableau, flowgrid.Parametrization, config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Problem = name
	cfg.Method = f.method
	cfg.Grid = f.grid
	cfg.Flow.LambdaI = f.lambdaI
	cfg.Flow.LambdaF = f.lambdaF
	if err := cfg.Validate(); err != nil {
		return nil, integrators.Tableau{}, nil, config.Config{}, err
	}

	parsed, err := parseParams(f.params)
	if err != nil {
		return nil, integrators.Tableau{}, nil, config.Config{}, err
	}
	reg := experiment.NewRegistry()
	p, err := reg.GetProblem(name, parsed)
	if err != nil {
		return nil, integrators.Tableau{}, nil, config.Config{}, err
	}
	tab, err := reg.GetMethod(f.method, false)
	if err != nil {
		return nil, integrators.Tableau{}, nil, config.Config{}, err
	}
	g, err := reg.GetGrid(f.grid)
	if err != nil {
		return nil, integrators.Tableau{}, nil, config.Config{}, err
	}
	return p, tab, g, *cfg, nil
}

func orderStudy(cmd *cobra.Command, name string, f *studyFlags) error {
	p, tab, g, cfg, err := studySetup(name, f)
	if err != nil {
		return err
	}

	study, err := analysis.ConvergenceOrder(cmd.Context(), p, tab, g, cfg.ToSolver(), f.resolutions)
	if err != nil {
		return err
	}

	fmt.Printf("%s on %s, %s grid, order %d\n\n", p.Name(), study.Method, study.Grid, tab.Order)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEPS\tH\tERROR\tEVALUATIONS")
	for _, pt := range study.Points {
		fmt.Fprintf(w, "%d\t%.4g\t%.4e\t%d\n", pt.Steps, pt.H, pt.Error, pt.Evaluations)
	}
	w.Flush()
	fmt.Printf("\nobserved order: %.2f\n", study.Order)
	return nil
}

func toleranceSweep(cmd *cobra.Command, name string, f *studyFlags) error {
	p, tab, g, cfg, err := studySetup(name, f)
	if err != nil {
		return err
	}

	points, err := analysis.ToleranceSweep(cmd.Context(), p, tab, g, cfg.ToSolver(), f.tolerances)
	if err != nil {
		return err
	}

	fmt.Printf("%s on %s, %s grid\n\n", p.Name(), tab.Name, g.Name())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RTOL\tERROR\tACCEPTED\tREJECTED\tEVALUATIONS")
	for _, pt := range points {
		fmt.Fprintf(w, "%.0e\t%.4e\t%d\t%d\t%d\n", pt.Tolerance, pt.Error, pt.Accepted, pt.Rejected, pt.Evaluations)
	}
	return w.Flush()
}

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "list butcher tableaus",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTAGES\tORDER\tADAPTIVE")
			for _, name := range integrators.Names() {
				tab, _ := integrators.Lookup(name)
				fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", name, tab.Stages, tab.Order, tab.Adaptive)
			}
			return w.Flush()
		},
	}
}

func newGridsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grids",
		Short: "list flow grid parametrizations",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range flowgrid.Names() {
				fmt.Println(name)
			}
		},
	}
}

func newProblemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "problems",
		Short: "list problems and their parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEXACT\tPARAMS")
			for _, name := range problems.Names() {
				p, _ := problems.Lookup(name)
				_, exact := p.(problems.Solvable)
				fmt.Fprintf(w, "%s\t%v\t%v\n", name, exact, p.GetParams())
			}
			return w.Flush()
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for problem: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}
}
