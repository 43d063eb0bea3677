// Package deriv estimates how an instruction's output moves when its
// labeled inputs move, and turns those estimates into new labels.
//
// Linear instructions use exact rules (sum, product and quotient rules);
// casts pass their source operand's derivative through unchanged.
// Remainders, shifts and bitwise instructions have no useful closed form, so
// their derivatives are estimated by finite differences: both operands are
// perturbed along their own derivatives and the change of the output is
// divided by the perturbation. The estimate is a heuristic; Config.Samples
// bounds the number of perturbations tried.
package deriv

import (
	"math"

	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/value"
)

// Pair is a one-sided derivative pair: left (negative direction) and right.
type Pair struct {
	Neg, Pos float64
}

// IsZero reports whether both sides are exactly zero.
func (p Pair) IsZero() bool { return p.Neg == 0 && p.Pos == 0 }

func (p Pair) finite() bool {
	return !math.IsNaN(p.Neg) && !math.IsInf(p.Neg, 0) &&
		!math.IsNaN(p.Pos) && !math.IsInf(p.Pos, 0)
}

// Estimate is the outcome of applying one combine rule.
type Estimate struct {
	Pair

	// Value is the concrete integer output, value.Unknown if there is none.
	Value int64

	// Supported is false when no rule exists for the opcode or operand
	// kinds; Pair then holds the configured fallback.
	Supported bool
}

// Config tunes the combine rules.
type Config struct {
	// Samples bounds the finite-difference perturbations per side.
	Samples int

	// ReuseLabels returns an input label instead of allocating when the
	// result would carry no new derivative information.
	ReuseLabels bool

	// GEPDefault and SelectDefault choose 1.0 (true) or 0.0 (false) as the
	// derivative of GetElementPtr and Select.
	GEPDefault    bool
	SelectDefault bool

	// DefaultNaN chooses NaN (true) or 0 (false) for unsupported rules.
	DefaultNaN bool
}

// DefaultConfig returns the default rule configuration.
func DefaultConfig() Config {
	return Config{
		Samples:       8,
		ReuseLabels:   true,
		GEPDefault:    true,
		SelectDefault: true,
		DefaultNaN:    true,
	}
}

// Apply evaluates the combine rule of op for operands x1, x2 whose labels
// carry derivatives d1, d2 (zero for unlabeled operands).
func Apply(op opcode.Op, x1, x2 value.Operand, d1, d2 Pair, cfg Config) Estimate {
	switch op {
	case opcode.GetElementPtr:
		return constant(cfg.GEPDefault)
	case opcode.Select:
		return constant(cfg.SelectDefault)
	}
	if op.IsCast() {
		return cast(op, x1, d1, cfg)
	}

	kind := x1.Kind()
	if kind != x2.Kind() || kind == value.Invalid {
		return Unsupported(cfg)
	}
	if op.IsFloat() {
		if !kind.IsFloat() {
			return Unsupported(cfg)
		}
		return applyFloat(op, x1, x2, d1, d2)
	}
	if !kind.IsInteger() {
		return Unsupported(cfg)
	}
	return applyInt(op, x1, x2, d1, d2, cfg)
}

// Unsupported returns the fallback estimate for operations without a rule.
func Unsupported(cfg Config) Estimate {
	e := Estimate{Value: value.Unknown}
	if cfg.DefaultNaN {
		e.Neg, e.Pos = math.NaN(), math.NaN()
	}
	return e
}

func constant(one bool) Estimate {
	e := Estimate{Value: value.Unknown, Supported: true}
	if one {
		e.Neg, e.Pos = 1, 1
	}
	return e
}

// cast is the identity rule: the result moves with its source operand x1.
// The value is x1 converted to an integer for integer-producing casts.
func cast(op opcode.Op, x1 value.Operand, d1 Pair, cfg Config) Estimate {
	if x1.Kind() == value.Invalid {
		return Unsupported(cfg)
	}
	e := Estimate{Pair: d1, Value: value.Unknown, Supported: true}
	switch op {
	case opcode.Trunc, opcode.ZExt, opcode.SExt, opcode.FPToUI, opcode.FPToSI:
		e.Value = x1.Int()
	}
	return e
}

func nanEstimate() Estimate {
	return Estimate{Pair: Pair{math.NaN(), math.NaN()}, Value: value.Unknown, Supported: true}
}

func applyInt(op opcode.Op, x1, x2 value.Operand, d1, d2 Pair, cfg Config) Estimate {
	switch op {
	case opcode.Add:
		return Estimate{
			Pair:      Pair{d1.Neg + d2.Neg, d1.Pos + d2.Pos},
			Value:     x1.Int() + x2.Int(),
			Supported: true,
		}
	case opcode.Sub:
		return Estimate{
			Pair:      Pair{d1.Neg - d2.Neg, d1.Pos - d2.Pos},
			Value:     x1.Int() - x2.Int(),
			Supported: true,
		}
	case opcode.Mul:
		return Estimate{
			Pair:      product(x1.Float(), x2.Float(), d1, d2),
			Value:     x1.Int() * x2.Int(),
			Supported: true,
		}
	case opcode.SDiv, opcode.UDiv:
		if x2.Raw() == 0 {
			return nanEstimate()
		}
		a, b := float64(x1.Signed()), float64(x2.Signed())
		if op == opcode.UDiv {
			a, b = float64(x1.Unsigned()), float64(x2.Unsigned())
		}
		y, _ := eval(op, x1, x2)
		return Estimate{Pair: quotient(a, b, d1, d2), Value: y.Int(), Supported: true}
	case opcode.URem, opcode.SRem:
		if x2.Raw() == 0 {
			return nanEstimate()
		}
		return finiteDiff(op, x1, x2, d1, d2, cfg.Samples, linear)
	case opcode.Shl, opcode.LShr, opcode.AShr, opcode.And, opcode.Or, opcode.Xor:
		return finiteDiff(op, x1, x2, d1, d2, cfg.Samples, geometric)
	}
	return Unsupported(cfg)
}

func applyFloat(op opcode.Op, x1, x2 value.Operand, d1, d2 Pair) Estimate {
	a, b := x1.Float(), x2.Float()
	e := Estimate{Value: value.Unknown, Supported: true}
	switch op {
	case opcode.FAdd:
		e.Pair = Pair{d1.Neg + d2.Neg, d1.Pos + d2.Pos}
	case opcode.FSub:
		e.Pair = Pair{d1.Neg - d2.Neg, d1.Pos - d2.Pos}
	case opcode.FMul:
		e.Pair = product(a, b, d1, d2)
	case opcode.FDiv:
		if b == 0 {
			return nanEstimate()
		}
		e.Pair = quotient(a, b, d1, d2)
	case opcode.FRem:
		// One sample: a full derivative step on each side.
		y := math.Mod(a, b)
		e.Neg = y - math.Mod(a-d1.Neg, b-d2.Neg)
		e.Pos = math.Mod(a+d1.Pos, b+d2.Pos) - y
	}
	return e
}

// product is the product rule: d(x1*x2) = x1*dx2 + x2*dx1.
func product(a, b float64, d1, d2 Pair) Pair {
	return Pair{
		Neg: a*d2.Neg + b*d1.Neg,
		Pos: a*d2.Pos + b*d1.Pos,
	}
}

// quotient is the quotient rule as applied per side: (x2*dx1 - x1*dx2)/x2.
func quotient(a, b float64, d1, d2 Pair) Pair {
	return Pair{
		Neg: (b*d1.Neg - a*d2.Neg) / b,
		Pos: (b*d1.Pos - a*d2.Pos) / b,
	}
}
