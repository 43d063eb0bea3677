package api

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/internal/grad/dump"
	"github.com/kolkov/gradsan/internal/grad/logging"
)

// std is the process-default state.
var std atomic.Pointer[State]

// Default returns the process-default state. On first use it is created
// from the environment (GRSAN_CONFIG names an optional YAML file; see the
// config package for the variables that override it).
//
// Thread Safety: Safe for concurrent calls; exactly one state wins.
func Default() *State {
	if s := std.Load(); s != nil {
		return s
	}
	s := fromEnv()
	if std.CompareAndSwap(nil, s) {
		return s
	}
	return std.Load()
}

// SetDefault installs s as the process-default state and returns the
// previous one (nil if none was created yet).
func SetDefault(s *State) *State {
	return std.Swap(s)
}

// Init replaces the process-default state with a fresh one built from the
// environment.
//
// Thread Safety: NOT safe for concurrent calls. Call Init during program
// startup, before target code runs.
func Init() *State {
	s := fromEnv()
	std.Store(s)
	return s
}

// Fini finalizes the process-default state. See State.Fini.
func Fini() error {
	return Default().Fini()
}

func fromEnv() *State {
	cfg, err := config.Load(os.Getenv("GRSAN_CONFIG"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: gradsan: %v; using default configuration\n", err)
		cfg = config.DefaultConfig()
	}

	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		logger = zap.NewNop()
	}
	return New(Options{Config: cfg, Logger: logger})
}

// DumpLabels writes the label table as CSV.
func (s *State) DumpLabels(w io.Writer) error {
	return dump.Labels(w, s.table.Snapshot())
}

// DumpBranches writes the branch log as CSV.
func (s *State) DumpBranches(w io.Writer) error {
	return dump.Branches(w, s.log.Branches())
}

// DumpArgs writes the argument log as CSV.
func (s *State) DumpArgs(w io.Writer) error {
	return dump.Args(w, s.log.Args())
}

// Fini writes the configured dump files and, if the state has a report
// writer, a summary.
//
// Dumps:
//   - gradient_logfile: labels
//   - branch_logfile: branch records
//   - func_logfile: argument records
//
// Nothing is dumped in performance mode. A dump that cannot be written is
// logged and skipped; the errors are returned joined. Only the first call
// does anything.
//
// Thread Safety: NOT safe for concurrent access.
func (s *State) Fini() error {
	if !s.finished.CompareAndSwap(false, true) {
		return nil
	}
	defer s.writeReport()

	if s.cfg.Runtime.PerfMode {
		return nil
	}

	dumps := []struct {
		what  string
		path  string
		write func(io.Writer) error
	}{
		{"derivatives", s.cfg.Files.GradientLogfile, s.DumpLabels},
		{"branches", s.cfg.Files.BranchLogfile, s.DumpBranches},
		{"function arguments", s.cfg.Files.FuncLogfile, s.DumpArgs},
	}

	var errs []error
	for _, d := range dumps {
		if d.path == "" {
			continue
		}
		s.logger.Debug("dumping "+d.what, zap.String("path", d.path))
		if err := dump.ToFile(d.path, d.write); err != nil {
			s.logger.Warn("unable to write dump", zap.String("what", d.what), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeReport prints the runtime summary.
//
//nolint:errcheck // Error handling omitted for report output formatting
func (s *State) writeReport() {
	if s.report == nil {
		return
	}
	st := s.Stats()
	w := s.report

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "Gradient Sanitizer Report\n")
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "labels:       %d / %d\n", st.Labels, st.LabelCapacity)
	fmt.Fprintf(w, "combines:     %d (%d new, %d reused, %d unsupported)\n",
		st.Engine.Combines, st.Engine.Allocated, st.Engine.Reused, st.Engine.Unsupported)
	fmt.Fprintf(w, "branches:     %d / %d recorded", st.Branches, st.BranchCapacity)
	if st.BranchRate > 1 {
		fmt.Fprintf(w, " (1 in %d sampled)", st.BranchRate)
	}
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "arguments:    %d / %d recorded\n", st.Args, st.ArgCapacity)
	if st.Gate.Skipped > 0 {
		fmt.Fprintf(w, "skipped:      %d observations\n", st.Gate.Skipped)
	}
	fmt.Fprintf(w, "shadow pages: %d (%d tainted bytes)\n", st.Shadow.Pages, st.Shadow.TaintedBytes)
	if s.cfg.Runtime.PerfMode {
		fmt.Fprintf(w, "performance mode: nothing recorded\n")
	}
	fmt.Fprintf(w, "==================\n\n")
}
