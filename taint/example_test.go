package taint_test

import (
	"fmt"

	"github.com/kolkov/gradsan/taint"
)

// input lives on the heap, so its address is stable.
var input = []byte{0x01, 0x02}

// Example labels one input byte and follows it through y = 4*x.
func Example() {
	taint.Init()
	defer taint.Fini()

	x := taint.CreateLabel("input_byte")
	taint.SetLabelBytes(x, input[:1])

	lx := taint.ReadLabelBytes(input[:1])
	ly := taint.Combine(0, lx, taint.Int32(4), taint.Int32(int32(input[0])), 1, taint.Mul, "y = 4*x")

	info := taint.GetLabelInfo(ly)
	fmt.Println(info.Op, info.Value, info.NegDeriv, info.PosDeriv)
	fmt.Println(taint.HasLabelWithDescription(ly, "input_byte"))

	// Output:
	// Mul 4 4 4
	// true
}

// Example_untracked shows that values without labels cost nothing.
func Example_untracked() {
	taint.Init()
	defer taint.Fini()

	l := taint.Combine(0, 0, taint.Int32(3), taint.Int32(5), 1, taint.Add, "")
	fmt.Println(l, taint.LabelCount())

	// Output:
	// 0 0
}

// Example_branch records the comparison deciding a branch on a labeled
// byte.
func Example_branch() {
	taint.Init()
	defer taint.Fini()

	x := taint.CreateLabel("input_byte")
	taint.SetLabelBytes(x, input[1:2])
	lx := taint.ReadLabelBytes(input[1:2])

	v := int32(input[1])
	taint.VisitBranch(lx, 0, taint.Int32(v), taint.Int32(200), v > 200, taint.SGT, 1, 1, false, "")
	if v > 200 {
		fmt.Println("big")
	} else {
		fmt.Println("small")
	}

	// Output:
	// small
}

// Example_cast widens a labeled byte before using it; the cast keeps the
// byte's label, so the sum still depends on the input.
func Example_cast() {
	taint.Init()
	defer taint.Fini()

	x := taint.CreateLabel("input_byte")
	taint.SetLabelBytes(x, input[:1])
	lx := taint.ReadLabelBytes(input[:1])

	// Instrumented w := int32(input[0]); s := w + w
	lw := taint.Combine(lx, 0, taint.Uint8(input[0]), taint.Operand{}, 1, taint.ZExt, "")
	w := int32(input[0])
	ls := taint.Combine(lw, lw, taint.Int32(w), taint.Int32(w), 2, taint.Add, "")

	info := taint.GetLabelInfo(ls)
	fmt.Println(lw == lx)
	fmt.Println(info.Op, info.Value, info.PosDeriv)

	// Output:
	// true
	// Add 2 2
}
