// Package taint is the public API of the gradsan runtime.
//
// See doc.go for detailed documentation and examples.
package taint

import (
	internal "github.com/kolkov/gradsan/internal/grad/api"
	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/value"
)

// Label identifies a tracked value's derivative record; 0 means untracked.
type Label = label.Label

// LabelInfo is the record of one label.
type LabelInfo = label.Info

// Operand is the concrete value of one instruction operand.
type Operand = value.Operand

// Op is an instruction opcode.
type Op = opcode.Op

// Predicate is a comparison predicate.
type Predicate = opcode.Predicate

// Operations with derivative rules.
const (
	Add  = opcode.Add
	FAdd = opcode.FAdd
	Sub  = opcode.Sub
	FSub = opcode.FSub
	Mul  = opcode.Mul
	FMul = opcode.FMul
	UDiv = opcode.UDiv
	SDiv = opcode.SDiv
	FDiv = opcode.FDiv
	URem = opcode.URem
	SRem = opcode.SRem
	FRem = opcode.FRem
	Shl  = opcode.Shl
	LShr = opcode.LShr
	AShr = opcode.AShr
	And  = opcode.And
	Or   = opcode.Or
	Xor  = opcode.Xor
)

// Casts. The result carries the derivative of the converted operand (x1);
// x2 is ignored.
const (
	Trunc   = opcode.Trunc
	ZExt    = opcode.ZExt
	SExt    = opcode.SExt
	FPToUI  = opcode.FPToUI
	FPToSI  = opcode.FPToSI
	UIToFP  = opcode.UIToFP
	SIToFP  = opcode.SIToFP
	FPTrunc = opcode.FPTrunc
	FPExt   = opcode.FPExt
)

// GetElementPtr and Select carry a configured constant derivative
// (gep_default, select_default). Load and Call have no rule and carry the
// fallback derivative (default_nan).
const (
	GetElementPtr = opcode.GetElementPtr
	Select        = opcode.Select
	Load          = opcode.Load
	Call          = opcode.Call
)

// Integer comparison predicates.
const (
	EQ  = opcode.ICmpEQ
	NE  = opcode.ICmpNE
	UGT = opcode.ICmpUGT
	UGE = opcode.ICmpUGE
	ULT = opcode.ICmpULT
	ULE = opcode.ICmpULE
	SGT = opcode.ICmpSGT
	SGE = opcode.ICmpSGE
	SLT = opcode.ICmpSLT
	SLE = opcode.ICmpSLE
)

// Operand constructors.
var (
	Uint8   = value.Uint8
	Uint16  = value.Uint16
	Int32   = value.Int32
	Int64   = value.Int64
	Float32 = value.Float32
	Float64 = value.Float64
)

// Init initializes the runtime from the environment.
//
// The gradsan harness calls Init before running a target. For manual use,
// call Init at program startup:
//
//	func main() {
//		taint.Init()
//		defer taint.Fini()
//		// ... rest of program
//	}
func Init() {
	internal.Init()
}

// Fini writes the configured dump files (gradient, branch and function
// argument logs). Only the first call does anything.
func Fini() error {
	return internal.Fini()
}

// CreateLabel allocates an input label with unit derivatives; desc is
// reported as its location.
//
// Exhausting the label space is fatal.
func CreateLabel(desc string) Label {
	return internal.Default().CreateLabel(desc)
}

// SetLabel binds l to size bytes at addr. The memory must be heap memory.
func SetLabel(l Label, addr, size uintptr) {
	internal.Default().SetLabel(l, addr, size)
}

// SetLabelBytes binds l to every byte of b.
//
// Example:
//
//	buf := readInput()
//	x := taint.CreateLabel("input_byte")
//	taint.SetLabelBytes(x, buf[3:4])
func SetLabelBytes(l Label, b []byte) {
	internal.Default().SetLabelBytes(l, b)
}

// AddLabel asserts that size bytes at addr already carry l. Anything else
// is fatal.
func AddLabel(l Label, addr, size uintptr) {
	internal.Default().AddLabel(l, addr, size)
}

// ReadLabel returns the label of size bytes at addr. Distinct labels in
// the range are merged.
func ReadLabel(addr, size uintptr) Label {
	return internal.Default().ReadLabel(addr, size)
}

// ReadLabelBytes returns the label of b.
func ReadLabelBytes(b []byte) Label {
	return internal.Default().ReadLabelBytes(b)
}

// GetLabelInfo returns the record of l.
func GetLabelInfo(l Label) LabelInfo {
	return internal.Default().LabelInfo(l)
}

// HasLabel reports whether elem is l or one of its ancestors.
func HasLabel(l, elem Label) bool {
	return internal.Default().HasLabel(l, elem)
}

// HasLabelWithDescription reports whether an input label described by desc
// is l or one of its ancestors.
func HasLabelWithDescription(l Label, desc string) bool {
	return internal.Default().HasLabelWithDescription(l, desc)
}

// LabelCount returns the number of allocated labels.
func LabelCount() int {
	return internal.Default().LabelCount()
}

// Reset forgets every label, shadow entry and record.
func Reset() {
	internal.Default().Reset()
}

// Combine returns the label of op(x1, x2) given the operands' labels. An
// empty loc records the caller's file:line.
//
// Example (instrumented y := 4 * x):
//
//	ly := taint.Combine(0, lx, taint.Int32(4), taint.Int32(x), site, taint.Mul, "")
//	y := 4 * x
func Combine(l1, l2 Label, x1, x2 Operand, site uint64, op Op, loc string) Label {
	return internal.Default().CombineFrom(1, l1, l2, x1, x2, site, op, loc)
}

// CombineUnsupported returns a label carrying the fallback derivative for
// an operation without a derivative rule.
func CombineUnsupported(l1, l2 Label, site uint64, op Op, loc string) Label {
	return internal.Default().CombineUnsupportedFrom(1, l1, l2, site, op, loc)
}

// VisitBranch records a comparison that decides a branch.
//
// Example (instrumented if x > 200):
//
//	taint.VisitBranch(lx, 0, taint.Int32(x), taint.Int32(200), x > 200, taint.SGT, file, id, false, "")
//	if x > 200 {
func VisitBranch(lhs, rhs Label, lv, rv Operand, cond bool, pred Predicate, fileID, branchID uint64, isPtr bool, loc string) {
	internal.Default().VisitBranchFrom(1, lhs, rhs, lv, rv, cond, pred, fileID, branchID, isPtr, loc)
}

// Memcpy copies src into dst with its labels and returns the label of dst.
func Memcpy(dst, src []byte, dstL, srcL, nL Label, loc string) Label {
	return internal.Default().MemcpyFrom(1, dst, src, dstL, srcL, nL, loc)
}
