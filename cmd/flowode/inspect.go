package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/flowode/internal/storage"
	"github.com/spf13/cobra"
)

var (
	outputPath string
	maxPlots   int
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}
}

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace [run_id]",
		Short: "plot the lambda trace and state of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotTrace,
	}
	cmd.Flags().IntVar(&maxPlots, "components", 4, "number of state components to plot")
	return cmd
}

func newExportJSONCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default stdout)")
	return cmd
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore(backend, dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tMETHOD\tGRID\tLAMBDA\tSTATUS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%g -> %g\t%s\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Method,
			run.Grid,
			run.LambdaI,
			run.LambdaF,
			run.Status,
		)
	}
	return w.Flush()
}

func plotTrace(cmd *cobra.Command, args []string) error {
	st, err := openStore(backend, dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.Open(args[0])
	if err != nil {
		return err
	}
	defer run.Close()

	data, err := storage.Collect(run)
	if err != nil {
		return err
	}
	if data.Steps < 2 {
		return fmt.Errorf("run %s has %d snapshots, nothing to plot", args[0], data.Steps)
	}

	fmt.Printf("run: %s\n", data.Meta.ID)
	fmt.Printf("problem: %s (%s, %s grid)\n", data.Meta.Problem, data.Meta.Method, data.Meta.Grid)
	fmt.Printf("snapshots: %d, converged: %v\n\n", data.Steps, data.Converged)

	fmt.Println(asciigraph.Plot(data.Trace,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("lambda vs iteration"),
	))

	steps := make([]float64, len(data.Trace)-1)
	for i := range steps {
		steps[i] = data.Trace[i+1] - data.Trace[i]
	}
	fmt.Println()
	fmt.Println(asciigraph.Plot(steps,
		asciigraph.Height(8),
		asciigraph.Width(80),
		asciigraph.Caption("step size vs iteration"),
	))

	n := len(data.States[0])
	if n > maxPlots {
		n = maxPlots
	}
	for c := 0; c < n; c++ {
		series := make([]float64, len(data.States))
		for i, s := range data.States {
			series[i] = s[c]
		}
		fmt.Println()
		fmt.Println(asciigraph.Plot(series,
			asciigraph.Height(8),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("y[%d] vs iteration", c)),
		))
	}
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, err := openStore(backend, dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.Open(args[0])
	if err != nil {
		return err
	}
	defer run.Close()

	if err := storage.ExportJSON(outputPath, run); err != nil {
		return err
	}
	if outputPath != "" && outputPath != "-" {
		fmt.Fprintf(os.Stderr, "exported %s to %s\n", args[0], outputPath)
	}
	return nil
}
