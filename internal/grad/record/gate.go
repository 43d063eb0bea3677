package record

import (
	"sync/atomic"
)

// GateConfig decides which observations reach the log.
//
// Usage:
//
//	// Default: record everything
//	g := NewGate(GateConfig{})
//
//	// Performance mode: record nothing, keep only counters
//	g := NewGate(GateConfig{Disabled: true})
//
//	// Record 1 in 10 branch observations
//	g := NewGate(GateConfig{BranchRate: 10})
type GateConfig struct {
	// Disabled turns recording off entirely (performance mode).
	Disabled bool

	// BranchRate records one branch observation in every BranchRate.
	// 0 and 1 both mean every observation. Argument records are never
	// sampled.
	BranchRate uint64
}

// Gate filters observations before they are appended to a buffer.
//
// Uses an atomic position counter with modulo selection, so sampling is
// deterministic within one execution and needs no random source.
//
// Thread Safety: All methods are safe for concurrent calls.
type Gate struct {
	config GateConfig

	// tracePos counts branch observations and selects the sampled ones.
	tracePos atomic.Uint64

	stats gateCounters
}

type gateCounters struct {
	total    atomic.Uint64
	recorded atomic.Uint64
	skipped  atomic.Uint64
}

// GateStats counts gate decisions.
type GateStats struct {
	// Total counts all observations offered to the gate.
	Total uint64

	// Recorded counts observations passed on to the log.
	Recorded uint64

	// Skipped counts observations dropped by performance mode or sampling.
	Skipped uint64
}

// NewGate creates a Gate. A BranchRate of 0 is normalized to 1.
func NewGate(config GateConfig) *Gate {
	if config.BranchRate == 0 {
		config.BranchRate = 1
	}
	return &Gate{config: config}
}

// AllowBranch reports whether a branch observation should be recorded.
//
// Algorithm:
//  1. Performance mode: false.
//  2. Rate 1: true (fast path, no shared write).
//  3. Otherwise: increment the trace position, true every Rate-th call.
//
//go:nosplit
func (g *Gate) AllowBranch() bool {
	return g.count(g.decideBranch())
}

// AllowArg reports whether an argument observation should be recorded.
//
//go:nosplit
func (g *Gate) AllowArg() bool {
	return g.count(!g.config.Disabled)
}

func (g *Gate) decideBranch() bool {
	if g.config.Disabled {
		return false
	}
	if g.config.BranchRate <= 1 {
		return true
	}
	pos := g.tracePos.Add(1)
	return pos%g.config.BranchRate == 0
}

func (g *Gate) count(ok bool) bool {
	g.stats.total.Add(1)
	if ok {
		g.stats.recorded.Add(1)
	} else {
		g.stats.skipped.Add(1)
	}
	return ok
}

// Disabled reports whether the gate drops everything.
func (g *Gate) Disabled() bool {
	return g.config.Disabled
}

// EffectiveRate returns the branch sampling rate in use (1 = all).
func (g *Gate) EffectiveRate() uint64 {
	return g.config.BranchRate
}

// Stats returns a copy of the gate counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Total:    g.stats.total.Load(),
		Recorded: g.stats.recorded.Load(),
		Skipped:  g.stats.skipped.Load(),
	}
}

// Reset zeroes the counters and the trace position.
func (g *Gate) Reset() {
	g.tracePos.Store(0)
	g.stats.total.Store(0)
	g.stats.recorded.Store(0)
	g.stats.skipped.Store(0)
}
