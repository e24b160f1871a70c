package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/san-kum/flowode/internal/config"
	"github.com/san-kum/flowode/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dataDir   string
	backend   string
	logLevel  string
	logFormat string
	verbose   bool

	log = logrus.New()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "flowode",
		Short:         "adaptive runge-kutta flow integrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(os.Stderr)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultStoreDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "file", "storage backend (file, sqlite)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every accepted step")

	rootCmd.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newListCmd(),
		newTraceCmd(),
		newExportJSONCmd(),
		newOrderCmd(),
		newSweepCmd(),
		newScenarioCmd(),
		newParamSweepCmd(),
		newMonteCarloCmd(),
		newMethodsCmd(),
		newGridsCmd(),
		newProblemsCmd(),
		newPresetsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("command failed")
		stop()
		os.Exit(1)
	}
}

func setupLogger(out io.Writer) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	if verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(out)

	switch logFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q (available: text, json)", logFormat)
	}
	return nil
}

// openStore opens the selected backend. The sqlite backend keeps a single
// database file inside the data directory.
func openStore(kind, dir string) (storage.Backend, error) {
	path := dir
	if kind == "sqlite" {
		path = filepath.Join(dir, "runs.db")
	}
	st, err := storage.Open(kind, path)
	if err != nil {
		return nil, err
	}
	if err := st.Init(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
