// Package harness turns an instrumented target into a gradsan command.
//
// A fuzz-target-style program needs only:
//
//	func main() {
//		harness.Main(func(data []byte) {
//			// instrumented code using package taint
//		})
//	}
//
// The resulting binary takes one input file:
//
//	target [flags] INPUT
//
// and, by default, sweeps every input byte, selects bug targets and
// optimizes them, printing the trace on stderr.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/api"
	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/internal/grad/driver"
	"github.com/kolkov/gradsan/internal/grad/logging"
)

// Target is an instrumented program run on one input. It reports its
// operations through package taint.
type Target func(data []byte)

// Flags are the command-line settings of a harness command.
type Flags struct {
	ConfigPath string
	Verbose    bool
	LogLevel   string
	GradOnly   bool
	Single     bool
	ResultsDB  string
	TracePath  string
	Report     bool
}

// CommandOptions configures NewCommand.
type CommandOptions struct {
	// Use is the command name (the executable's base name if empty).
	Use   string
	Short string

	// Resolve returns the target to run; it is called after flags are
	// parsed.
	Resolve func() (Target, error)
}

// Main runs target as a command-line program and exits.
func Main(target Target) {
	cmd := NewCommand(CommandOptions{
		Resolve: func() (Target, error) { return target, nil },
	})
	os.Exit(Execute(cmd))
}

// Execute runs cmd with SIGINT and SIGTERM cancelling the pipeline between
// trials, and returns the exit status.
func Execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewCommand builds the command that runs a target on an input file.
func NewCommand(opts CommandOptions) *cobra.Command {
	use := opts.Use
	if use == "" {
		use = filepath.Base(os.Args[0])
	}
	short := opts.Short
	if short == "" {
		short = "Run a target under the gradient sanitizer"
	}

	var f Flags
	cmd := &cobra.Command{
		Use:   use + " [flags] INPUT",
		Short: short,
		Long: `Runs the target on INPUT with one input byte labeled at a time.

Modes:
  default      sweep every byte, select bug targets, optimize them
  --grad-only  sweep every byte and print every label (FILTER lines)
  --single     run the target once without labels

LIBFUZZER_BYTE_IDX=<n> labels byte n and runs the target once.
GRSAN_OPTIONS=key=value:... sets runtime flags; GRSAN_CONFIG names a
YAML configuration file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Resolve == nil {
				return errors.New("no target")
			}
			target, err := opts.Resolve()
			if err != nil {
				return err
			}
			return RunTarget(cmd.Context(), f, target, args[0], cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", os.Getenv("GRSAN_CONFIG"), "YAML configuration file")
	cmd.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Verbose diagnostics")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "", "Diagnostics level (debug, info, warn, error)")
	cmd.Flags().BoolVarP(&f.GradOnly, "grad-only", "g", false, "Only collect and print gradients")
	cmd.Flags().BoolVarP(&f.Single, "single", "s", false, "Run the target once without labels")
	cmd.Flags().StringVar(&f.ResultsDB, "results-db", "", "SQLite database to record the run in")
	cmd.Flags().StringVar(&f.TracePath, "trace", "", "Write the trace to a file instead of stderr")
	cmd.Flags().BoolVar(&f.Report, "report", false, "Print a runtime summary at exit")
	cmd.MarkFlagsMutuallyExclusive("grad-only", "single")

	return cmd
}

// RunTarget loads the configuration, applies f and runs the pipeline on
// input. stderr receives the trace (unless redirected) and the report.
func RunTarget(ctx context.Context, f Flags, target Target, input string, stderr io.Writer) (err error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.ResultsDB != "" {
		cfg.ResultsDB = f.ResultsDB
	}
	if f.TracePath != "" {
		cfg.Files.TraceLogfile = f.TracePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, f.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync(logger)

	trace := stderr
	if cfg.Files.TraceLogfile != "" {
		tf, err := os.Create(cfg.Files.TraceLogfile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer func() {
			if cerr := tf.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		trace = tf
	}

	var report io.Writer
	if f.Report {
		report = stderr
	}

	mode := ModeOptimize
	switch {
	case f.GradOnly:
		mode = ModeGradOnly
	case f.Single:
		mode = ModeSingle
	}

	sum, err := Run(ctx, Options{
		Config: cfg,
		Target: Adapt(target),
		Input:  input,
		Mode:   mode,
		Trace:  trace,
		Report: report,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info("run finished",
		zap.String("mode", string(sum.Mode)), zap.Int("targets", len(sum.Targets)),
		zap.String("run", sum.RunID))
	return nil
}

// Adapt returns target as a driver target. The state passed by the driver
// is the process default while the pipeline runs, so target reaches it
// through package taint.
func Adapt(target Target) driver.Target {
	return func(_ *api.State, data []byte) { target(data) }
}
