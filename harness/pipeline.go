package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/api"
	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/internal/grad/driver"
	"github.com/kolkov/gradsan/internal/grad/dump"
	"github.com/kolkov/gradsan/internal/grad/filter"
	"github.com/kolkov/gradsan/internal/grad/optimizer"
	"github.com/kolkov/gradsan/internal/grad/results"
)

// Mode selects what a run does with the input.
type Mode string

const (
	// ModeOptimize sweeps every byte, selects bug targets and optimizes
	// them.
	ModeOptimize Mode = "optimize"

	// ModeGradOnly sweeps every byte and prints every label.
	ModeGradOnly Mode = "grad-only"

	// ModeSingle runs the target once without labels.
	ModeSingle Mode = "single"

	// ModeByte labels the configured byte and runs the target once.
	ModeByte Mode = "byte"
)

// Options configures a pipeline run.
type Options struct {
	Config *config.Config
	Target driver.Target

	// Input is the path of the seed input.
	Input string

	// Mode is ModeOptimize if empty. A configured byte index
	// (LIBFUZZER_BYTE_IDX) selects ModeByte regardless.
	Mode Mode

	// Trace receives the pipeline trace (os.Stderr if nil).
	Trace io.Writer

	// Report receives the runtime summary (none if nil).
	Report io.Writer

	Logger *zap.Logger

	// Fatal overrides the runtime's fatal handler.
	Fatal api.FatalFunc
}

// Summary is the outcome of a run.
type Summary struct {
	// RunID identifies the run in the results store ("" without one).
	RunID string

	Mode Mode

	// Snapshots are the sweep trials, one per input byte.
	Snapshots []driver.Snapshot

	Targets []filter.BugTarget
	Results []optimizer.Result

	// Input is the input after optimization.
	Input []byte
}

// Run reads the input and runs the pipeline on it.
//
// Flow (ModeOptimize):
//  1. Sweep: one trial per input byte
//  2. Filter: select bug targets from each trial's labels
//  3. Optimize: run the Newton loop on every target in order
//  4. Finalize: write the configured dump files
//
// The runtime state becomes the process default for the duration of the
// run, so targets may use the package-level taint API. ctx is checked
// between trials.
func Run(ctx context.Context, opts Options) (sum *Summary, err error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	trace := opts.Trace
	if trace == nil {
		trace = os.Stderr
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeOptimize
	}
	if cfg.Driver.ByteIndex != config.NoByteIndex {
		mode = ModeByte
	}

	tracer := dump.NewTracer(trace, opts.Input)
	tracer.Info("reading")
	data, err := os.ReadFile(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	st := api.New(api.Options{Config: cfg, Logger: logger, Fatal: opts.Fatal, Report: opts.Report})
	prev := api.SetDefault(st)
	defer api.SetDefault(prev)

	d := driver.New(driver.Options{
		State:       st,
		Target:      opts.Target,
		Tracer:      tracer,
		EnableFread: cfg.Driver.EnableFread,
		Logger:      logger,
	})

	sum = &Summary{Mode: mode, Input: data}

	var store *results.Store
	if cfg.ResultsDB != "" {
		store, err = results.Open(cfg.ResultsDB)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		// Runs are recorded even when cancelled.
		run, berr := store.BeginRun(context.WithoutCancel(ctx), opts.Input, len(data), string(mode))
		if berr != nil {
			return nil, berr
		}
		sum.RunID = run.ID
		defer func() {
			if ferr := store.FinishRun(context.WithoutCancel(ctx), run.ID, len(sum.Targets), err); ferr != nil {
				logger.Warn("unable to record run", zap.String("run", run.ID), zap.Error(ferr))
			}
		}()
	}

	logger.Info("starting run",
		zap.String("input", opts.Input), zap.Int("size", len(data)), zap.String("mode", string(mode)),
		zap.String("run", sum.RunID))

	err = execute(ctx, cfg, mode, d, tracer, logger, sum)
	if ferr := st.Fini(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if store != nil && len(sum.Results) > 0 {
		if serr := store.SaveResults(context.WithoutCancel(ctx), sum.RunID, sum.Results); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return sum, err
}

func execute(ctx context.Context, cfg *config.Config, mode Mode, d *driver.Driver, tracer *dump.Tracer, logger *zap.Logger, sum *Summary) error {
	data := sum.Input

	switch mode {
	case ModeSingle:
		return d.RunSingle(data, driver.NoLabel)

	case ModeByte:
		return d.RunSingle(data, cfg.Driver.ByteIndex)

	case ModeGradOnly:
		snaps, err := d.Sweep(ctx, data)
		sum.Snapshots = snaps
		if err != nil {
			return err
		}
		filter.New(tracer, cfg.Optimizer.MaxBugTargets).PrintAll(snaps)
		return nil

	case ModeOptimize:
		snaps, err := d.Sweep(ctx, data)
		sum.Snapshots = snaps
		if err != nil {
			return err
		}

		targets, err := filter.New(tracer, cfg.Optimizer.MaxBugTargets).Select(snaps)
		if err != nil {
			return err
		}
		sum.Targets = targets
		logger.Info("selected bug targets", zap.Int("targets", len(targets)))

		opt := optimizer.New(optimizer.Options{
			Driver:       d,
			Epochs:       cfg.Optimizer.Epochs,
			LearningRate: cfg.Optimizer.LearningRate,
			Derivative:   cfg.Optimizer.Derivative,
			Tracer:       tracer,
			Logger:       logger,
		})
		sum.Results, err = opt.Run(ctx, targets, data)
		return err

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}
