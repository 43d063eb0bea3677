// Package api is the gradsan runtime: the state that instrumented code
// calls into and the entry points used by drivers and tests.
//
// A State owns one label table, one shadow memory, one derivative engine
// and one observation log. Instrumentation calls its callback methods
// (Combine, VisitBranch, Memcpy) at every arithmetic, comparison and copy
// site; drivers use the label entry points (CreateLabel, SetLabelBytes,
// Reset, Snapshot) between runs.
//
// A process-default State (Default, Init, Fini) serves code instrumented
// against the package-level functions of the public taint package.
//
// Fatal Conditions:
//   - label space exhausted
//   - branch or argument log full
//   - AddLabel on memory that does not carry the label
//
// These call the State's FatalFunc, which by default reports the error on
// stderr and exits with status 1. Tests install a FatalFunc that records
// the error instead; the failing call then returns label 0.
//
// Addresses:
// Shadow memory is keyed by address. Go never moves heap objects, so
// addresses of heap memory (input buffers, slices that escape) are stable
// for the lifetime of a run. Stack variables may move when a goroutine's
// stack grows and must not be labeled by address.
package api

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/internal/grad/deriv"
	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/logging"
	"github.com/kolkov/gradsan/internal/grad/record"
	"github.com/kolkov/gradsan/internal/grad/shadowmem"
)

// FatalFunc handles an unrecoverable runtime error.
//
// The default implementation never returns. An implementation that does
// return makes the failing entry point return its zero value.
type FatalFunc func(err error)

// Options configures a new State. Zero fields take defaults.
type Options struct {
	// Config is the runtime configuration (config.DefaultConfig if nil).
	Config *config.Config

	// Logger receives diagnostics (zap.NewNop if nil).
	Logger *zap.Logger

	// Fatal handles unrecoverable errors (report and exit if nil).
	Fatal FatalFunc

	// Report receives the Fini summary (no summary if nil).
	Report io.Writer
}

// State is one gradsan runtime instance.
//
// Thread Safety: The callback methods and label entry points may be called
// concurrently from a target's goroutines. Reset, Fini and the Dump methods
// require exclusive access.
type State struct {
	cfg    *config.Config
	table  *label.Table
	shadow *shadowmem.ShadowMemory
	engine *deriv.Engine
	log    *record.Log

	logger *zap.Logger
	fatal  FatalFunc
	report io.Writer

	// fatals counts fatal errors, for handlers that return.
	fatals atomic.Uint64

	// finished is set by Fini; the state stays usable but is not dumped
	// twice.
	finished atomic.Bool
}

// New creates a runtime state.
func New(opts Options) *State {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	table := label.NewTable(cfg.Runtime.LabelCapacity)
	s := &State{
		cfg:    cfg,
		table:  table,
		shadow: shadowmem.NewShadowMemory(),
		engine: deriv.NewEngine(table, cfg.DerivConfig()),
		log:    record.NewLog(cfg.RecordConfig()),
		logger: logger,
		fatal:  opts.Fatal,
		report: opts.Report,
	}
	if s.fatal == nil {
		s.fatal = exitFatal(logger)
	}
	return s
}

// exitFatal reports err the way the runtime always has (a FATAL line on
// stderr) and exits.
func exitFatal(logger *zap.Logger) FatalFunc {
	return func(err error) {
		fmt.Fprintf(os.Stderr, "FATAL: gradsan: %v\n", err)
		logging.Sync(logger)
		os.Exit(1)
	}
}

func (s *State) die(err error) {
	s.fatals.Add(1)
	s.logger.Error("fatal runtime error", zap.Error(err))
	s.fatal(err)
}

// Config returns the configuration the state was created with.
func (s *State) Config() *config.Config { return s.cfg }

// Logger returns the diagnostics logger.
func (s *State) Logger() *zap.Logger { return s.logger }

// Fatals returns the number of fatal errors handled so far.
func (s *State) Fatals() uint64 { return s.fatals.Load() }

// Stats is a snapshot of runtime counters.
type Stats struct {
	Labels         int
	LabelCapacity  int
	Branches       int
	BranchCapacity int
	Args           int
	ArgCapacity    int

	// BranchRate is the branch sampling rate (1 = every branch).
	BranchRate uint64

	Engine deriv.Stats
	Shadow shadowmem.Stats
	Gate   record.GateStats
}

// Stats returns the current runtime counters.
func (s *State) Stats() Stats {
	branchCap, argCap := s.log.Capacities()
	return Stats{
		Labels:         s.table.Count(),
		LabelCapacity:  s.table.Capacity(),
		Branches:       s.log.NumBranches(),
		BranchCapacity: branchCap,
		Args:           s.log.NumArgs(),
		ArgCapacity:    argCap,
		BranchRate:     s.log.SampleRate(),
		Engine:         s.engine.Stats(),
		Shadow:         s.shadow.Stats(),
		Gate:           s.log.GateStats(),
	}
}

// Reset forgets every label, shadow entry and record. The next
// CreateLabel returns label 1.
//
// Thread Safety: NOT safe for concurrent access. Drivers call Reset
// between runs, when no target code is executing.
func (s *State) Reset() {
	s.table.Reset()
	s.shadow.Reset()
	s.log.Reset()
	s.engine.ResetStats()
}
