package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/experiment"
	"github.com/san-kum/flowode/internal/sim"
	"github.com/san-kum/flowode/internal/tui"
	"github.com/spf13/cobra"
)

var (
	configFile      string
	preset          string
	method          string
	grid            string
	lambdaI         float64
	lambdaF         float64
	rtol            float64
	atol            float64
	checkpoints     []float64
	maxSteps        int
	gridSteps       int
	fixed           bool
	reparametrize   bool
	deriveExponents bool
	strict          bool
	params          []string
	live            bool

	resumeIteration int
	resumeMode      string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [problem]",
		Short: "integrate a flow and store every accepted step",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFlow,
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVar(&method, "method", config.DefaultMethod, "butcher tableau")
	cmd.Flags().StringVar(&grid, "grid", config.DefaultGrid, "flow grid parametrization")
	cmd.Flags().Float64Var(&lambdaI, "lambda-i", 0, "initial lambda")
	cmd.Flags().Float64Var(&lambdaF, "lambda-f", 5, "final lambda")
	cmd.Flags().Float64Var(&rtol, "rtol", 1e-6, "relative error tolerance")
	cmd.Flags().Float64Var(&atol, "atol", 1e-8, "absolute error tolerance")
	cmd.Flags().Float64SliceVar(&checkpoints, "checkpoint", nil, "lambda values to land on exactly")
	cmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "iteration limit")
	cmd.Flags().IntVar(&gridSteps, "grid-steps", config.DefaultGridSteps, "precomputed grid size")
	cmd.Flags().BoolVar(&fixed, "fixed", false, "follow the grid without step control")
	cmd.Flags().BoolVar(&reparametrize, "reparametrize", false, "integrate in the grid variable t")
	cmd.Flags().BoolVar(&deriveExponents, "derive-exponents", false, "derive control exponents from the method order")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail instead of forcing a step at the step floor")
	cmd.Flags().StringSliceVar(&params, "param", nil, "problem parameter as name=value")
	cmd.Flags().BoolVar(&live, "live", false, "show the live view")
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [run_id]",
		Short: "continue a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeFlow,
	}
	cmd.Flags().IntVar(&resumeIteration, "iteration", experiment.LatestIteration, "iteration to resume from (-1 for latest)")
	cmd.Flags().StringVar(&resumeMode, "mode", "", "resume mode (derive, exact)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "new iteration limit")
	cmd.Flags().BoolVar(&live, "live", false, "show the live view")
	return cmd
}

// loadConfig layers defaults, preset, config file and explicitly set flags.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	problem := cfg.Problem
	if len(args) > 0 {
		problem = args[0]
	}

	if preset != "" {
		p := config.GetPreset(problem, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(problem))
		}
		cfg = p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if len(args) > 0 {
		cfg.Problem = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("method") {
		cfg.Method = method
	}
	if flags.Changed("grid") {
		cfg.Grid = grid
	}
	if flags.Changed("lambda-i") {
		cfg.Flow.LambdaI = lambdaI
	}
	if flags.Changed("lambda-f") {
		cfg.Flow.LambdaF = lambdaF
	}
	if flags.Changed("rtol") {
		cfg.Tolerance.Relative = rtol
	}
	if flags.Changed("atol") {
		cfg.Tolerance.Absolute = atol
	}
	if flags.Changed("checkpoint") {
		cfg.Flow.Checkpoints = checkpoints
	}
	if flags.Changed("max-steps") {
		cfg.Steps.Max = maxSteps
	}
	if flags.Changed("grid-steps") {
		cfg.Steps.Grid = gridSteps
	}
	if flags.Changed("fixed") {
		cfg.Fixed = fixed
	}
	if flags.Changed("reparametrize") {
		cfg.Reparametrize = reparametrize
	}
	if flags.Changed("derive-exponents") {
		cfg.DeriveExponents = deriveExponents
	}
	if flags.Changed("strict") {
		cfg.StrictAccuracy = strict
	}
	if flags.Changed("verbose") {
		cfg.Log.Verbose = verbose
	}
	if flags.Changed("data") {
		cfg.Storage.Path = dataDir
	}
	if flags.Changed("backend") {
		cfg.Storage.Backend = backend
	}

	parsed, err := parseParams(params)
	if err != nil {
		return nil, err
	}
	if len(parsed) > 0 && cfg.Params == nil {
		cfg.Params = make(map[string]float64, len(parsed))
	}
	for k, v := range parsed {
		cfg.Params[k] = v
	}

	return cfg, cfg.Validate()
}

func parseParams(raw []string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q is not name=value", kv)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

func runFlow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	st, err := openStore(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	exp := experiment.New(cfg, st, log)
	if err := exp.Setup(); err != nil {
		return err
	}
	defer exp.Close()

	fmt.Printf("running %s with %s on the %s grid...\n", cfg.Problem, cfg.Method, cfg.Grid)
	return execute(cmd.Context(), exp)
}

func resumeFlow(cmd *cobra.Command, args []string) error {
	st, err := openStore(backend, dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := experiment.ResumeOptions{
		Iteration: resumeIteration,
		Mode:      sim.ResumeMode(resumeMode),
		MaxSteps:  maxSteps,
	}
	exp, err := experiment.Reopen(st, args[0], opts, log)
	if err != nil {
		return err
	}
	defer exp.Close()

	fmt.Printf("resuming %s...\n", exp.RunID())
	return execute(cmd.Context(), exp)
}

func execute(ctx context.Context, exp *experiment.Experiment) error {
	start := time.Now()

	var (
		result *sim.Result
		err    error
	)
	if live {
		cfg := exp.Config()
		log.SetOutput(io.Discard)
		title := fmt.Sprintf("%s / %s / %s", cfg.Problem, cfg.Method, cfg.Grid)
		model := tui.NewModel(title, cfg.Flow.LambdaI, cfg.Flow.LambdaF)
		result, err = tui.Run(ctx, model, exp.GetDriver(), exp.Run)
		log.SetOutput(os.Stderr)
	} else {
		result, err = exp.Run(ctx)
	}
	if result != nil {
		printResult(exp.RunID(), result, time.Since(start))
	}
	return err
}

func printResult(runID string, result *sim.Result, elapsed time.Duration) {
	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("status: %s\n", result.Status)
	fmt.Printf("lambda: %.10g\n", result.Lambda)
	fmt.Printf("steps: %d accepted, %d rejected, %d forced\n", result.Stats.Accepted, result.Stats.Rejected, result.Stats.Forced)
	fmt.Printf("evaluations: %d\n", result.Stats.Evaluations)

	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nmetrics:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%.6g\n", name, result.Metrics[name])
	}
	w.Flush()
}
