package deriv

import (
	"fmt"
	"sync/atomic"

	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/value"
)

// Result describes the label produced by one combine.
type Result struct {
	Label label.Label
	Pair
	Value int64

	// Supported is false when the fallback derivative was used.
	Supported bool

	// Reused is true when an input label was returned instead of a new one.
	Reused bool
}

// Stats counts combine outcomes since the last ResetStats.
type Stats struct {
	Combines    uint64
	Allocated   uint64
	Reused      uint64
	Unsupported uint64
}

// Engine applies the combine rules against a label table.
//
// Thread Safety: Combine may be called concurrently; all shared state is in
// the label table (atomic allocation) and the atomic counters below.
type Engine struct {
	table *label.Table
	cfg   Config

	combines    atomic.Uint64
	allocated   atomic.Uint64
	reused      atomic.Uint64
	unsupported atomic.Uint64
}

// NewEngine returns an engine that allocates labels from table.
func NewEngine(table *label.Table, cfg Config) *Engine {
	if cfg.Samples <= 0 {
		cfg.Samples = 1
	}
	return &Engine{table: table, cfg: cfg}
}

// Config returns the rule configuration.
func (e *Engine) Config() Config { return e.cfg }

// Combine derives the label of op(x1, x2) from the operand labels l1, l2.
//
// Flow:
//  1. Both labels 0: return 0 without touching the table.
//  2. Label reuse, all input derivatives zero: return the nonzero input.
//  3. Apply the rule for op.
//  4. Label reuse, result equal to an input's derivative pair: return it.
//  5. Allocate a label recording parents, op, derivatives and value.
//
// The only error is label.ErrExhausted (wrapped).
func (e *Engine) Combine(l1, l2 label.Label, x1, x2 value.Operand, op opcode.Op, loc string) (Result, error) {
	if l1 == 0 && l2 == 0 {
		return Result{Supported: true}, nil
	}
	e.combines.Add(1)

	d1, d2 := e.Derivs(l1), e.Derivs(l2)
	if e.cfg.ReuseLabels && d1.IsZero() && d2.IsZero() {
		return e.reuse(firstNonZero(l1, l2)), nil
	}

	est := Apply(op, x1, x2, d1, d2, e.cfg)
	return e.finish(l1, l2, d1, d2, op, loc, est)
}

// CombineUnsupported derives a label for an operation whose operand types
// have no rule (vectors, aggregates). The derivative is the configured
// fallback.
func (e *Engine) CombineUnsupported(l1, l2 label.Label, op opcode.Op, loc string) (Result, error) {
	if l1 == 0 && l2 == 0 {
		return Result{Supported: true}, nil
	}
	e.combines.Add(1)
	e.unsupported.Add(1)

	est := Unsupported(e.cfg)
	l, err := e.table.Allocate(label.Info{
		Parent1:  l1,
		Parent2:  l2,
		Op:       op,
		NegDeriv: est.Neg,
		PosDeriv: est.Pos,
		Location: loc,
		Value:    est.Value,
	})
	if err != nil {
		return Result{}, fmt.Errorf("combine %v: %w", op, err)
	}
	e.allocated.Add(1)
	return Result{Label: l, Pair: est.Pair, Value: est.Value}, nil
}

func (e *Engine) finish(l1, l2 label.Label, d1, d2 Pair, op opcode.Op, loc string, est Estimate) (Result, error) {
	if !est.Supported {
		e.unsupported.Add(1)
	}
	if e.cfg.ReuseLabels {
		switch {
		case l1 != 0 && est.Pair == d1:
			r := e.reuse(l1)
			r.Supported = est.Supported
			return r, nil
		case l2 != 0 && est.Pair == d2:
			r := e.reuse(l2)
			r.Supported = est.Supported
			return r, nil
		}
	}

	l, err := e.table.Allocate(label.Info{
		Parent1:  l1,
		Parent2:  l2,
		Op:       op,
		NegDeriv: est.Neg,
		PosDeriv: est.Pos,
		Location: loc,
		Value:    est.Value,
	})
	if err != nil {
		return Result{}, fmt.Errorf("combine %v: %w", op, err)
	}
	e.allocated.Add(1)
	return Result{Label: l, Pair: est.Pair, Value: est.Value, Supported: est.Supported}, nil
}

func (e *Engine) reuse(l label.Label) Result {
	e.reused.Add(1)
	info := e.table.Lookup(l)
	return Result{
		Label:     l,
		Pair:      Pair{info.NegDeriv, info.PosDeriv},
		Value:     info.Value,
		Supported: true,
		Reused:    true,
	}
}

// Derivs returns the derivative pair of l (zero for label 0).
func (e *Engine) Derivs(l label.Label) Pair {
	neg, pos := e.table.Derivs(l)
	return Pair{neg, pos}
}

// Stats returns the combine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Combines:    e.combines.Load(),
		Allocated:   e.allocated.Load(),
		Reused:      e.reused.Load(),
		Unsupported: e.unsupported.Load(),
	}
}

// ResetStats zeroes the combine counters.
func (e *Engine) ResetStats() {
	e.combines.Store(0)
	e.allocated.Store(0)
	e.reused.Store(0)
	e.unsupported.Store(0)
}

func firstNonZero(l1, l2 label.Label) label.Label {
	if l1 != 0 {
		return l1
	}
	return l2
}
