// Package optimizer mutates input bytes along recorded gradients to drive
// bug targets toward their bug.
//
// Each epoch re-runs the target with the source byte labeled, reads the
// sink label's value f(x) and derivative, and takes one Newton-style step:
//
//	step  = -ceil(f'(x) / f(x))
//	x_new = x - learningRate*step   (mod 256)
//
// A target stops early when its sink label no longer carries the expected
// operation (the execution path changed) or when the step is undefined.
package optimizer

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/internal/grad/driver"
	"github.com/kolkov/gradsan/internal/grad/dump"
	"github.com/kolkov/gradsan/internal/grad/filter"
	"github.com/kolkov/gradsan/internal/grad/label"
)

// StopReason tells why a target's optimization ended.
type StopReason int

const (
	// Completed means every epoch ran.
	Completed StopReason = iota
	// Diverged means the sink label's operation changed.
	Diverged
	// NoGradient means f(x) was zero or the derivative not finite.
	NoGradient
)

func (r StopReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case Diverged:
		return "diverged"
	case NoGradient:
		return "no_gradient"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Epoch is one optimization step.
type Epoch struct {
	Epoch    int
	OldX     byte
	NewX     byte
	FX       int64
	NegDeriv float64
	PosDeriv float64

	// Loss is the target's loss at OldX (0 without a loss function).
	Loss int64
}

// Result is the optimization history of one target.
type Result struct {
	Target filter.BugTarget
	Epochs []Epoch
	Stop   StopReason
}

// Options configures an Optimizer.
type Options struct {
	Driver *driver.Driver

	// Epochs per target (50 if <= 0).
	Epochs int

	// LearningRate scales each step (2 if 0).
	LearningRate float64

	// Derivative selects config.DerivativePos, DerivativeNeg or
	// DerivativeAuto (pos if empty).
	Derivative string

	Tracer *dump.Tracer
	Logger *zap.Logger
}

// Optimizer runs the Newton loop over bug targets.
type Optimizer struct {
	d      *driver.Driver
	epochs int
	lr     float64
	deriv  string
	tracer *dump.Tracer
	logger *zap.Logger
}

// New creates an optimizer.
func New(opts Options) *Optimizer {
	o := &Optimizer{
		d:      opts.Driver,
		epochs: opts.Epochs,
		lr:     opts.LearningRate,
		deriv:  opts.Derivative,
		tracer: opts.Tracer,
		logger: opts.Logger,
	}
	if o.epochs <= 0 {
		o.epochs = 50
	}
	if o.lr == 0 {
		o.lr = 2
	}
	if o.deriv == "" {
		o.deriv = config.DerivativePos
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Optimize runs up to Epochs epochs on bt, updating data[bt.Source] in
// place after each one.
//
// Errors come only from the driver (a panicking target) or from ctx,
// which is checked between epochs.
func (o *Optimizer) Optimize(ctx context.Context, bt filter.BugTarget, data []byte) (Result, error) {
	res := Result{Target: bt}
	for epoch := 0; epoch < o.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		snap, err := o.d.Trial(data, bt.Source)
		if err != nil {
			return res, fmt.Errorf("optimize byte %d, label %d: %w", bt.Source, bt.Sink, err)
		}

		info := snap.Info(bt.Sink)
		if info.Op != bt.Op {
			if o.tracer != nil {
				o.tracer.FailedOpcodeCheck()
			}
			o.logger.Info("sink operation changed",
				zap.Int("source", bt.Source), zap.Uint32("sink", uint32(bt.Sink)),
				zap.Stringer("want", bt.Op), zap.Stringer("got", info.Op), zap.Int("epoch", epoch))
			res.Stop = Diverged
			return res, nil
		}

		x := data[bt.Source]
		ep := Epoch{
			Epoch:    epoch,
			OldX:     x,
			FX:       info.Value,
			NegDeriv: info.NegDeriv,
			PosDeriv: info.PosDeriv,
		}
		if bt.Loss != nil {
			ep.Loss = bt.Loss(x, info.Value)
		}

		newX, ok := o.step(x, info)
		if !ok {
			o.logger.Info("no usable gradient",
				zap.Int("source", bt.Source), zap.Uint32("sink", uint32(bt.Sink)),
				zap.Int64("f_x", info.Value), zap.Float64("ndx", info.NegDeriv), zap.Float64("pdx", info.PosDeriv))
			res.Stop = NoGradient
			return res, nil
		}

		data[bt.Source] = newX
		ep.NewX = newX
		res.Epochs = append(res.Epochs, ep)

		if o.tracer != nil {
			o.tracer.Opt(bt.Source, bt.Sink, x, info.Value, info.NegDeriv, info.PosDeriv, newX, epoch, o.epochs)
		}
	}
	res.Stop = Completed
	return res, nil
}

// Run optimizes every target in order against the same input, which
// accumulates the updates. It stops at the first error.
func (o *Optimizer) Run(ctx context.Context, targets []filter.BugTarget, data []byte) ([]Result, error) {
	results := make([]Result, 0, len(targets))
	for _, bt := range targets {
		res, err := o.Optimize(ctx, bt, data)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// step computes the updated byte; ok is false when the step is undefined.
func (o *Optimizer) step(x byte, info label.Info) (byte, bool) {
	d := o.derivative(info)
	if info.Value == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return x, false
	}
	s := -math.Ceil(d / float64(info.Value))
	delta := math.Mod(o.lr*s, 256)
	if math.IsNaN(delta) {
		return x, false
	}
	return byte(int64(x) - int64(delta)), true
}

func (o *Optimizer) derivative(info label.Info) float64 {
	switch o.deriv {
	case config.DerivativeNeg:
		return info.NegDeriv
	case config.DerivativeAuto:
		if info.PosDeriv != 0 && !math.IsNaN(info.PosDeriv) && !math.IsInf(info.PosDeriv, 0) {
			return info.PosDeriv
		}
		return info.NegDeriv
	default:
		return info.PosDeriv
	}
}
