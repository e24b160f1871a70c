package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/san-kum/flowode/internal/automation"
	"github.com/san-kum/flowode/internal/config"
	"github.com/spf13/cobra"
)

var (
	sweepParam   string
	sweepMin     float64
	sweepMax     float64
	sweepCount   int
	perturbation float64
	trials       int
	seed         int64
	workers      int
)

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of flows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := automation.LoadScenario(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(backend, dataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			reports, err := automation.RunScenario(cmd.Context(), sc, st, log)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tRUN\tSTATUS\tLAMBDA\tACCEPTED\tREJECTED")
			for _, r := range reports {
				if r.Result == nil {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", r.Name, r.RunID)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.8g\t%d\t%d\n", r.Name, r.RunID, r.Result.Status, r.Result.Lambda, r.Result.Stats.Accepted, r.Result.Stats.Rejected)
			}
			w.Flush()
			return err
		},
	}
}

func newParamSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "param-sweep [problem]",
		Short: "run a flow for evenly spaced values of a problem parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := automationBase(cmd, args[0])
			if err != nil {
				return err
			}
			results, err := automation.RunSweep(cmd.Context(), &automation.ParameterSweep{
				Base:    base,
				Param:   sweepParam,
				Min:     sweepMin,
				Max:     sweepMax,
				Count:   sweepCount,
				Workers: workers,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "%s\tSTATUS\tNORM\tSTABLE\tACCEPTED\tREJECTED\tEVALUATIONS\n", sweepParam)
			for _, r := range results {
				fmt.Fprintf(w, "%.4g\t%s\t%.6g\t%v\t%d\t%d\t%d\n", r.Value, r.Status, r.Norm, r.Stable, r.Accepted, r.Rejected, r.Evaluations)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&sweepParam, "name", "", "parameter to sweep")
	cmd.Flags().Float64Var(&sweepMin, "min", 0, "first value")
	cmd.Flags().Float64Var(&sweepMax, "max", 1, "last value")
	cmd.Flags().IntVar(&sweepCount, "count", 5, "number of values")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent runs (default GOMAXPROCS)")
	cmd.Flags().StringVar(&preset, "preset", "", "base preset")
	cmd.Flags().StringVar(&configFile, "config", "", "base config file (yaml)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newMonteCarloCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "montecarlo [problem]",
		Short: "run flows from randomly perturbed initial states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := automationBase(cmd, args[0])
			if err != nil {
				return err
			}
			results, err := automation.RunMonteCarlo(cmd.Context(), &automation.MonteCarloConfig{
				Base:         base,
				Perturbation: perturbation,
				Trials:       trials,
				Seed:         seed,
				Workers:      workers,
			})
			if err != nil {
				return err
			}

			stable, unstable, mean, std := automation.MonteCarloStats(results)
			fmt.Printf("trials: %d (%d stable, %d unstable)\n", len(results), stable, unstable)
			fmt.Printf("final norm: %.6g ± %.3g\n", mean, std)
			return nil
		},
	}
	cmd.Flags().Float64Var(&perturbation, "perturb", 0.1, "uniform perturbation of each component")
	cmd.Flags().IntVar(&trials, "trials", 20, "number of trials")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 for time based)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent runs (default GOMAXPROCS)")
	cmd.Flags().StringVar(&preset, "preset", "", "base preset")
	cmd.Flags().StringVar(&configFile, "config", "", "base config file (yaml)")
	return cmd
}

func automationBase(cmd *cobra.Command, problem string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(problem, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(problem))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.Problem = problem
	return cfg, cfg.Validate()
}
