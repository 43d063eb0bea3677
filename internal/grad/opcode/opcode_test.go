package opcode

import (
	"math"
	"testing"
)

// TestOpcodeNumbering verifies the opcode values match the instruction table
// used by instrumentation.
func TestOpcodeNumbering(t *testing.T) {
	tests := []struct {
		op   Op
		want uint16
		name string
	}{
		{Ret, 1, "Ret"},
		{Add, 11, "Add"},
		{FAdd, 12, "FAdd"},
		{Mul, 15, "Mul"},
		{SDiv, 18, "SDiv"},
		{SRem, 21, "SRem"},
		{Xor, 28, "Xor"},
		{Load, 30, "Load"},
		{GetElementPtr, 32, "GetElementPtr"},
		{ICmp, 51, "ICmp"},
		{Select, 55, "Select"},
		{LandingPad, 64, "LandingPad"},
	}

	for _, tt := range tests {
		if uint16(tt.op) != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, uint16(tt.op), tt.want)
		}
		if tt.op.String() != tt.name {
			t.Errorf("Op(%d).String() = %q, want %q", tt.want, tt.op.String(), tt.name)
		}
	}
}

func TestOpcodeOutOfRange(t *testing.T) {
	if Op(200).Valid() {
		t.Error("Op(200) should not be valid")
	}
	if got := Op(200).String(); got != "Op(200)" {
		t.Errorf("String() = %q", got)
	}
	if None.String() != "" {
		t.Errorf("None.String() = %q, want empty", None.String())
	}
}

func TestDivisionOps(t *testing.T) {
	for _, op := range []Op{UDiv, SDiv, FDiv, URem, SRem, FRem} {
		if !op.IsDivision() {
			t.Errorf("%v should be a division", op)
		}
	}
	if Add.IsDivision() || Shl.IsDivision() {
		t.Error("Add/Shl are not divisions")
	}
}

func TestCastOps(t *testing.T) {
	for _, op := range []Op{Trunc, ZExt, SExt, FPToUI, FPToSI, UIToFP, SIToFP, FPTrunc, FPExt} {
		if !op.IsCast() {
			t.Errorf("%v should be a cast", op)
		}
	}
	for _, op := range []Op{GetElementPtr, Load, PtrToInt, BitCast, Call} {
		if op.IsCast() {
			t.Errorf("%v is not a numeric cast", op)
		}
	}
}

// TestPredicateEval checks signed and unsigned interpretations differ where
// they should.
func TestPredicateEval(t *testing.T) {
	// 0xff as an 8-bit value: 255 unsigned, -1 signed.
	var u1, u2 uint64 = 0xff, 1
	var s1, s2 int64 = -1, 1

	if got, _ := ICmpUGT.EvalInt(u1, u2, s1, s2); !got {
		t.Error("ugt: 255 > 1 expected true")
	}
	if got, _ := ICmpSGT.EvalInt(u1, u2, s1, s2); got {
		t.Error("sgt: -1 > 1 expected false")
	}
	if _, ok := FCmpOEQ.EvalInt(1, 1, 1, 1); ok {
		t.Error("float predicate must not evaluate as integer")
	}

	nan := math.NaN()
	if got, _ := FCmpOLT.EvalFloat(nan, 1); got {
		t.Error("olt with NaN must be false")
	}
	if got, _ := FCmpULT.EvalFloat(nan, 1); !got {
		t.Error("ult with NaN must be true")
	}
	if !ICmpSLE.IsSigned() || ICmpULE.IsSigned() || !ICmpEQ.IsInt() || FCmpTrue.IsInt() {
		t.Error("predicate classification mismatch")
	}
}
