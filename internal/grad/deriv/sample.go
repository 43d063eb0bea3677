package deriv

import (
	"math"

	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/value"
)

// tolerance is the magnitude below which a side's estimate still counts as
// "no change observed yet" and another sample is taken.
const tolerance = 1e-5

type growth int

const (
	linear    growth = iota // offsets 1, 2, 3, ...
	geometric               // offsets 1, 2, 4, ...
)

// eval computes op on integer operands at their width. It returns false
// for a zero divisor.
func eval(op opcode.Op, a, b value.Operand) (value.Operand, bool) {
	k := a.Kind()
	switch op {
	case opcode.UDiv:
		if b.Raw() == 0 {
			return a, false
		}
		return value.FromBits(k, a.Unsigned()/b.Unsigned()), true
	case opcode.SDiv:
		if b.Raw() == 0 {
			return a, false
		}
		return value.FromBits(k, uint64(a.Signed()/b.Signed())), true
	case opcode.URem:
		if b.Raw() == 0 {
			return a, false
		}
		return value.FromBits(k, a.Unsigned()%b.Unsigned()), true
	case opcode.SRem:
		if b.Raw() == 0 {
			return a, false
		}
		return value.FromBits(k, uint64(a.Signed()%b.Signed())), true
	case opcode.Shl:
		return value.FromBits(k, a.Unsigned()<<b.Unsigned()), true
	case opcode.LShr:
		return value.FromBits(k, a.Unsigned()>>b.Unsigned()), true
	case opcode.AShr:
		return value.FromBits(k, uint64(a.Signed()>>b.Unsigned())), true
	case opcode.And:
		return value.FromBits(k, a.Raw()&b.Raw()), true
	case opcode.Or:
		return value.FromBits(k, a.Raw()|b.Raw()), true
	case opcode.Xor:
		return value.FromBits(k, a.Raw()^b.Raw()), true
	}
	return a, false
}

// numeric returns the number an output of op stands for when measuring
// differences: unsigned operations read results as unsigned, signed ones as
// signed, and bitwise ones by the natural signedness of the kind.
func numeric(op opcode.Op, o value.Operand) float64 {
	switch op {
	case opcode.URem, opcode.LShr, opcode.UDiv:
		return float64(o.Unsigned())
	case opcode.SRem, opcode.AShr, opcode.SDiv:
		return float64(o.Signed())
	}
	return float64(o.Int())
}

// finiteDiff estimates both one-sided derivatives of op at (x1, x2).
//
// Sample s perturbs x1 by off*d1 and x2 by off*d2 (rounded toward zero in
// the operand type) and measures the output change per unit of off. A side
// keeps sampling while its estimate is within tolerance of zero; if every
// sample leaves the output unchanged the derivative is 0. Samples whose
// perturbed divisor is zero are skipped.
func finiteDiff(op opcode.Op, x1, x2 value.Operand, d1, d2 Pair, samples int, g growth) Estimate {
	y, ok := eval(op, x1, x2)
	if !ok {
		return nanEstimate()
	}
	e := Estimate{Value: y.Int(), Supported: true}
	if !d1.finite() || !d2.finite() {
		e.Neg, e.Pos = math.NaN(), math.NaN()
		return e
	}

	yv := numeric(op, y)
	off := 1.0
	for s := 1; s <= samples; s++ {
		if math.Abs(e.Neg) < tolerance {
			if v, ok := perturbed(op, x1, x2, -1, off, d1.Neg, d2.Neg); ok {
				e.Neg = (yv - v) / off
			}
		}
		if math.Abs(e.Pos) < tolerance {
			if v, ok := perturbed(op, x1, x2, +1, off, d1.Pos, d2.Pos); ok {
				e.Pos = (v - yv) / off
			}
		}
		if g == geometric {
			off *= 2
		} else {
			off = float64(s + 1)
		}
	}
	return e
}

func perturbed(op opcode.Op, x1, x2 value.Operand, dir int, off, dx1, dx2 float64) (float64, bool) {
	a, ok1 := x1.Nudge(dir, off*dx1)
	b, ok2 := x2.Nudge(dir, off*dx2)
	if !ok1 || !ok2 {
		return 0, false
	}
	r, ok := eval(op, a, b)
	if !ok {
		return 0, false
	}
	return numeric(op, r), true
}
