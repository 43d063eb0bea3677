package value

import (
	"math"
	"testing"
)

func TestExtension(t *testing.T) {
	tests := []struct {
		name     string
		op       Operand
		unsigned uint64
		signed   int64
		natural  int64
	}{
		{"char 0xff", Uint8(0xff), 0xff, -1, 255},
		{"short 0x8000", Uint16(0x8000), 0x8000, -32768, 32768},
		{"int -1", Int32(-1), 0xffffffff, -1, -1},
		{"long min", Int64(math.MinInt64), 1 << 63, math.MinInt64, math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.Unsigned(); got != tt.unsigned {
				t.Errorf("Unsigned() = %#x, want %#x", got, tt.unsigned)
			}
			if got := tt.op.Signed(); got != tt.signed {
				t.Errorf("Signed() = %d, want %d", got, tt.signed)
			}
			if got := tt.op.Int(); got != tt.natural {
				t.Errorf("Int() = %d, want %d", got, tt.natural)
			}
		})
	}
}

// TestNudgeWraps verifies integer nudges wrap at the operand width.
func TestNudgeWraps(t *testing.T) {
	got, ok := Uint8(250).Nudge(+1, 10)
	if !ok || got.Int() != 4 {
		t.Errorf("250+10 as char = %v, %v; want 4", got, ok)
	}

	got, ok = Int32(0).Nudge(-1, 2.9)
	if !ok || got.Int() != -2 {
		t.Errorf("0-trunc(2.9) as int = %v, %v; want -2", got, ok)
	}

	if _, ok := Int32(0).Nudge(+1, math.NaN()); ok {
		t.Error("NaN amount must not convert")
	}

	f, ok := Float64(1.5).Nudge(+1, 0.25)
	if !ok || f.Float() != 1.75 {
		t.Errorf("float nudge = %v", f)
	}
}

func TestFloat32Rounding(t *testing.T) {
	o := Float32(0.1)
	if o.Float() != float64(float32(0.1)) {
		t.Errorf("Float32 operand should keep float32 precision, got %v", o.Float())
	}
	if o.Kind().Bits() != 32 || !o.Kind().IsFloat() {
		t.Error("Float kind must be a 32-bit float")
	}
}
