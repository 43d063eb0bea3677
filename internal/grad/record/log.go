package record

import (
	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/opcode"
)

// Default capacities of the two logs.
const (
	DefaultBranchCapacity = 1048576
	DefaultArgCapacity    = 65535
)

// Branch is one observed comparison with at least one labeled operand.
type Branch struct {
	FileID   uint64
	BranchID uint64
	LHS, RHS label.Label

	LHSValue, RHSValue float64

	// Derivatives of each side's label at the time of the comparison,
	// after branch barriers (if enabled) were applied.
	LHSNeg, LHSPos float64
	RHSNeg, RHSPos float64

	Cond     bool
	Pred     opcode.Predicate
	IsPtr    bool
	Location string
}

// ZeroGradient reports whether all four recorded derivatives are zero.
func (b Branch) ZeroGradient() bool {
	return b.LHSNeg == 0 && b.LHSPos == 0 && b.RHSNeg == 0 && b.RHSPos == 0
}

// Arg is one observed labeled argument (call argument or divisor).
type Arg struct {
	FileID   uint64
	InstID   uint32
	ArgIndex uint32
	Label    label.Label
	Value    float64
	Neg, Pos float64
	Location string
}

// Config sizes a Log.
type Config struct {
	BranchCapacity int
	ArgCapacity    int
	Gate           GateConfig
}

// DefaultConfig returns the default log sizes with recording enabled.
func DefaultConfig() Config {
	return Config{
		BranchCapacity: DefaultBranchCapacity,
		ArgCapacity:    DefaultArgCapacity,
	}
}

// Log holds the branch and argument records of one trial.
type Log struct {
	branches *Buffer[Branch]
	args     *Buffer[Arg]
	gate     *Gate
}

// NewLog creates an empty log.
func NewLog(cfg Config) *Log {
	if cfg.BranchCapacity <= 0 {
		cfg.BranchCapacity = DefaultBranchCapacity
	}
	if cfg.ArgCapacity <= 0 {
		cfg.ArgCapacity = DefaultArgCapacity
	}
	return &Log{
		branches: NewBuffer[Branch]("branch records", cfg.BranchCapacity),
		args:     NewBuffer[Arg]("function argument records", cfg.ArgCapacity),
		gate:     NewGate(cfg.Gate),
	}
}

// RecordBranch appends b unless the gate drops it. The only error is
// ErrFull (wrapped).
func (l *Log) RecordBranch(b Branch) error {
	if !l.gate.AllowBranch() {
		return nil
	}
	_, err := l.branches.Append(b)
	return err
}

// RecordArg appends a unless the gate drops it.
func (l *Log) RecordArg(a Arg) error {
	if !l.gate.AllowArg() {
		return nil
	}
	_, err := l.args.Append(a)
	return err
}

// Enabled reports whether anything is being recorded.
func (l *Log) Enabled() bool { return !l.gate.Disabled() }

// Branches returns a copy of the branch records.
func (l *Log) Branches() []Branch { return l.branches.All() }

// Args returns a copy of the argument records.
func (l *Log) Args() []Arg { return l.args.All() }

// NumBranches returns the number of branch records.
func (l *Log) NumBranches() int { return l.branches.Len() }

// NumArgs returns the number of argument records.
func (l *Log) NumArgs() int { return l.args.Len() }

// Capacities returns the capacities of the branch and argument logs.
func (l *Log) Capacities() (branches, args int) {
	return l.branches.Cap(), l.args.Cap()
}

// SampleRate returns the branch sampling rate (1 = every branch).
func (l *Log) SampleRate() uint64 { return l.gate.EffectiveRate() }

// GateStats returns the gate counters.
func (l *Log) GateStats() GateStats { return l.gate.Stats() }

// Reset empties both logs and the gate counters.
func (l *Log) Reset() {
	l.branches.Reset()
	l.args.Reset()
	l.gate.Reset()
}
