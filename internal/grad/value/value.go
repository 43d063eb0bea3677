// Package value models the concrete operands passed to instrumentation
// callbacks as one tagged variant parameterised by width.
//
// Integer operands keep their raw bits truncated to the operand width.
// Char and Short are the unsigned 8- and 16-bit kinds, Int and Long the
// signed 32- and 64-bit kinds; Float and Double hold IEEE values.
package value

import (
	"fmt"
	"math"
)

// Kind is the machine type of an operand.
type Kind uint8

const (
	Invalid Kind = iota
	Char
	Short
	Int
	Long
	Float
	Double
)

// Unknown is the concrete value stored for labels whose operation produced
// no integer result (division by zero, unsupported operations, floats).
const Unknown int64 = -1

func (k Kind) String() string {
	switch k {
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Long:
		return "long"
	case Float:
		return "float"
	case Double:
		return "double"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Bits returns the operand width in bits, 0 for Invalid.
func (k Kind) Bits() uint {
	switch k {
	case Char:
		return 8
	case Short:
		return 16
	case Int, Float:
		return 32
	case Long, Double:
		return 64
	}
	return 0
}

// IsFloat reports whether k is a floating point kind.
func (k Kind) IsFloat() bool { return k == Float || k == Double }

// IsInteger reports whether k is an integer kind.
func (k Kind) IsInteger() bool { return k >= Char && k <= Long }

// IsSigned reports whether the natural interpretation of k is signed.
func (k Kind) IsSigned() bool { return k == Int || k == Long }

func (k Kind) mask() uint64 {
	if b := k.Bits(); b > 0 && b < 64 {
		return 1<<b - 1
	}
	return math.MaxUint64
}

// Operand is a concrete value observed at an instrumented operation.
type Operand struct {
	kind Kind
	bits uint64
}

// FromBits builds an integer operand of kind k, truncating raw to the width.
func FromBits(k Kind, raw uint64) Operand {
	return Operand{kind: k, bits: raw & k.mask()}
}

// FromFloat builds a floating point operand of kind k.
func FromFloat(k Kind, f float64) Operand {
	if k == Float {
		f = float64(float32(f))
	}
	return Operand{kind: k, bits: math.Float64bits(f)}
}

// Uint8 returns a Char operand.
func Uint8(v uint8) Operand { return FromBits(Char, uint64(v)) }

// Uint16 returns a Short operand.
func Uint16(v uint16) Operand { return FromBits(Short, uint64(v)) }

// Int32 returns an Int operand.
func Int32(v int32) Operand { return FromBits(Int, uint64(int64(v))) }

// Int64 returns a Long operand.
func Int64(v int64) Operand { return FromBits(Long, uint64(v)) }

// Float32 returns a Float operand.
func Float32(v float32) Operand { return FromFloat(Float, float64(v)) }

// Float64 returns a Double operand.
func Float64(v float64) Operand { return FromFloat(Double, v) }

// Kind returns the operand's machine type.
func (o Operand) Kind() Kind { return o.kind }

// Unsigned returns the operand zero-extended to 64 bits. Float operands
// are converted toward zero.
func (o Operand) Unsigned() uint64 {
	if o.kind.IsFloat() {
		return uint64(o.Float())
	}
	return o.bits
}

// Signed returns the operand sign-extended from its width.
func (o Operand) Signed() int64 {
	if o.kind.IsFloat() {
		return int64(o.Float())
	}
	b := o.kind.Bits()
	if b == 0 || b >= 64 {
		return int64(o.bits)
	}
	shift := 64 - b
	return int64(o.bits<<shift) >> shift
}

// Int returns the natural integer value: zero-extended for Char and
// Short, sign-extended for Int and Long.
func (o Operand) Int() int64 {
	if o.kind.IsSigned() {
		return o.Signed()
	}
	if o.kind.IsFloat() {
		return int64(o.Float())
	}
	return int64(o.bits)
}

// Float returns the numeric value of the operand as a float64.
func (o Operand) Float() float64 {
	if o.kind.IsFloat() {
		return math.Float64frombits(o.bits)
	}
	if o.kind.IsSigned() {
		return float64(o.Signed())
	}
	return float64(o.bits)
}

// Raw returns the width-truncated bit pattern of an integer operand.
func (o Operand) Raw() uint64 { return o.bits }

// Nudge moves the operand by amount in the given direction (+1 or -1),
// converting amount to the operand type first. Integer results wrap at the
// operand width. It returns false when amount has no integer conversion.
func (o Operand) Nudge(dir int, amount float64) (Operand, bool) {
	if o.kind.IsFloat() {
		return FromFloat(o.kind, o.Float()+float64(dir)*amount), true
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) ||
		amount >= math.MaxInt64 || amount <= math.MinInt64 {
		return o, false
	}
	delta := uint64(int64(amount))
	if dir < 0 {
		return FromBits(o.kind, o.bits-delta), true
	}
	return FromBits(o.kind, o.bits+delta), true
}

func (o Operand) String() string {
	switch {
	case o.kind.IsFloat():
		return fmt.Sprintf("%s(%g)", o.kind, o.Float())
	case o.kind.IsInteger():
		return fmt.Sprintf("%s(%d)", o.kind, o.Int())
	}
	return "invalid"
}
