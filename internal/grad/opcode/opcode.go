// Package opcode enumerates the instruction opcodes and comparison
// predicates that instrumentation reports to the runtime.
//
// The numbering follows the LLVM instruction table so that opcode values
// emitted by a compiler pass can be passed through unchanged. Opcode 0 is
// reserved for labels that were not produced by an operation (input labels).
package opcode

import "fmt"

// Op identifies the instruction that produced a label.
type Op uint16

// Terminator, arithmetic, memory, cast and other instruction opcodes.
const (
	None Op = iota
	Ret
	Br
	Switch
	IndirectBr
	Invoke
	Resume
	Unreachable
	CleanupRet
	CatchRet
	CatchSwitch
	Add
	FAdd
	Sub
	FSub
	Mul
	FMul
	UDiv
	SDiv
	FDiv
	URem
	SRem
	FRem
	Shl
	LShr
	AShr
	And
	Or
	Xor
	Alloca
	Load
	Store
	GetElementPtr
	Fence
	AtomicCmpXchg
	AtomicRMW
	Trunc
	ZExt
	SExt
	FPToUI
	FPToSI
	UIToFP
	SIToFP
	FPTrunc
	FPExt
	PtrToInt
	IntToPtr
	BitCast
	AddrSpaceCast
	CleanupPad
	CatchPad
	ICmp
	FCmp
	PHI
	Call
	Select
	UserOp1
	UserOp2
	VAArg
	ExtractElement
	InsertElement
	ShuffleVector
	ExtractValue
	InsertValue
	LandingPad

	numOps
)

// MemcpyInst is the instruction id recorded for arguments of memcpy calls.
const MemcpyInst uint32 = 6

var names = [numOps]string{
	"", "Ret", "Br", "Switch", "IndirectBr", "Invoke", "Resume", "Unreachable",
	"CleanupRet", "CatchRet", "CatchSwitch",
	"Add", "FAdd", "Sub", "FSub", "Mul", "FMul", "UDiv", "SDiv", "FDiv",
	"URem", "SRem", "FRem", "Shl", "LShr", "AShr", "And", "Or", "Xor",
	"Alloca", "Load", "Store", "GetElementPtr", "Fence", "AtomicCmpXchg", "AtomicRMW",
	"Trunc", "ZExt", "SExt", "FPToUI", "FPToSI", "UIToFP", "SIToFP", "FPTrunc",
	"FPExt", "PtrToInt", "IntToPtr", "BitCast", "AddrSpaceCast",
	"CleanupPad", "CatchPad",
	"ICmp", "FCmp", "PHI", "Call", "Select", "UserOp1", "UserOp2", "VAArg",
	"ExtractElement", "InsertElement", "ShuffleVector", "ExtractValue", "InsertValue",
	"LandingPad",
}

// String returns the instruction name, or "" for None.
func (o Op) String() string {
	if o < numOps {
		return names[o]
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

// Valid reports whether o is a known opcode (None included).
func (o Op) Valid() bool {
	return o < numOps
}

// IsFloat reports whether o is a floating point arithmetic opcode.
func (o Op) IsFloat() bool {
	switch o {
	case FAdd, FSub, FMul, FDiv, FRem:
		return true
	}
	return false
}

// IsCast reports whether o converts its first operand between integer and
// floating point kinds or widths.
func (o Op) IsCast() bool {
	return o >= Trunc && o <= FPExt
}

// IsDivision reports whether o divides by its second operand. Divisions
// with a labeled divisor are recorded in the argument log.
func (o Op) IsDivision() bool {
	switch o {
	case UDiv, SDiv, FDiv, URem, SRem, FRem:
		return true
	}
	return false
}
