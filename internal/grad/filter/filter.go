// Package filter selects bug targets from the labels observed during a
// sweep.
package filter

import (
	"errors"
	"fmt"

	"github.com/kolkov/gradsan/internal/grad/driver"
	"github.com/kolkov/gradsan/internal/grad/dump"
	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/opcode"
)

// DefaultMaxBugTargets bounds the number of targets one pipeline run may
// optimize.
const DefaultMaxBugTargets = 1000

// ErrTooManyTargets is returned when the rules select more targets than
// allowed.
var ErrTooManyTargets = errors.New("too many bug targets")

// LossFunc scores input byte x given the sink value fx; lower is closer to
// the bug.
type LossFunc func(x byte, fx int64) int64

// BugTarget is a (source byte, sink label) pair worth optimizing.
type BugTarget struct {
	// Source is the input byte offset.
	Source int

	// Sink is the label observed in the sweep trial of Source.
	Sink label.Label

	// Op is the sink's operation; a later run whose sink has a different
	// op has diverged.
	Op opcode.Op

	// Rule names the rule that selected the target.
	Rule string

	Loss LossFunc
}

// Rule inspects one label of one trial.
type Rule interface {
	Name() string

	// Match reports whether the label is a bug target and, if so, the
	// loss to optimize.
	Match(info label.Info) (LossFunc, bool)
}

// ByteOverflowLoss measures the distance of fx from overflowing a byte.
func ByteOverflowLoss(_ byte, fx int64) int64 {
	return 257 - fx
}

type intOverflow struct{}

// IntOverflow selects every integer addition; the loss drives its result
// past the byte range.
func IntOverflow() Rule { return intOverflow{} }

func (intOverflow) Name() string { return "int_overflow" }

func (intOverflow) Match(info label.Info) (LossFunc, bool) {
	if info.Op != opcode.Add {
		return nil, false
	}
	return ByteOverflowLoss, true
}

// Filter applies rules to sweep snapshots.
type Filter struct {
	rules  []Rule
	max    int
	tracer *dump.Tracer
}

// New creates a filter. With no rules, IntOverflow is used; limit <= 0 means
// DefaultMaxBugTargets. tracer may be nil.
func New(tracer *dump.Tracer, limit int, rules ...Rule) *Filter {
	if len(rules) == 0 {
		rules = []Rule{IntOverflow()}
	}
	if limit <= 0 {
		limit = DefaultMaxBugTargets
	}
	return &Filter{rules: rules, max: limit, tracer: tracer}
}

// Select runs every rule over every label of every snapshot, each trial
// against its own label table, and logs a FILTER line per label.
//
// Trials that observed at most the input label itself are skipped. When
// more targets match than the filter's limit, Select logs an overflow line
// with the full count and returns ErrTooManyTargets; otherwise it logs the
// target count.
func (f *Filter) Select(snaps []driver.Snapshot) ([]BugTarget, error) {
	var targets []BugTarget
	total := 0
	for _, s := range snaps {
		if len(s.Labels) <= 1 {
			continue
		}
		for i, info := range s.Labels {
			l := label.Label(i + 1)
			for _, r := range f.rules {
				loss, ok := r.Match(info)
				if !ok {
					continue
				}
				total++
				if len(targets) < f.max {
					targets = append(targets, BugTarget{
						Source: s.Offset,
						Sink:   l,
						Op:     info.Op,
						Rule:   r.Name(),
						Loss:   loss,
					})
				}
			}
			f.filterLine(s.Offset, l, info)
		}
		f.endGroup()
	}

	if total > f.max {
		if f.tracer != nil {
			f.tracer.OverflowBugTargets(total)
		}
		return nil, fmt.Errorf("%w: %d selected, limit %d", ErrTooManyTargets, total, f.max)
	}
	if f.tracer != nil {
		f.tracer.BugTargets(len(targets))
	}
	return targets, nil
}

// PrintAll logs a FILTER line for every label of every snapshot without
// selecting anything.
func (f *Filter) PrintAll(snaps []driver.Snapshot) {
	for _, s := range snaps {
		if len(s.Labels) <= 1 {
			continue
		}
		for i, info := range s.Labels {
			f.filterLine(s.Offset, label.Label(i+1), info)
		}
		f.endGroup()
	}
}

func (f *Filter) filterLine(iter int, l label.Label, info label.Info) {
	if f.tracer != nil {
		f.tracer.Filter(iter, l, info)
	}
}

func (f *Filter) endGroup() {
	if f.tracer != nil {
		f.tracer.EndGroup()
	}
}
