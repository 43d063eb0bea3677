// Package taint is the runtime API of gradsan, a gradient-guided taint
// tracker for Go programs.
//
// Every tracked value carries a Label. A label records which operation
// produced the value, the labels of its operands, its concrete result and
// two one-sided derivatives of the result with respect to the labeled
// input byte. Instrumented code reports each arithmetic operation with
// [Combine], each branch-deciding comparison with [VisitBranch] and each
// byte copy with [Memcpy]; the runtime propagates derivatives along the
// way.
//
// # Quick Start
//
// Targets are usually run by the gradsan harness, which labels one input
// byte at a time:
//
//	func main() {
//		harness.Main(func(data []byte) {
//			// instrumented target
//		})
//	}
//
// For manual instrumentation in advanced scenarios:
//
//	package main
//
//	import "github.com/kolkov/gradsan/taint"
//
//	var buf = []byte{7}
//
//	func main() {
//		taint.Init()
//		defer taint.Fini()
//
//		x := taint.CreateLabel("input_byte")
//		taint.SetLabelBytes(x, buf)
//		lx := taint.ReadLabelBytes(buf)
//
//		// Instrumented y := 4 * x
//		ly := taint.Combine(0, lx, taint.Int32(4), taint.Int32(int32(buf[0])), 1, taint.Mul, "")
//		y := 4 * int32(buf[0])
//		_, _ = ly, y
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Initialization and finalization: [Init], [Fini], [Reset]
//   - Labels: [CreateLabel], [SetLabel], [SetLabelBytes], [AddLabel],
//     [ReadLabel], [ReadLabelBytes], [GetLabelInfo], [LabelCount]
//   - Provenance: [HasLabel], [HasLabelWithDescription]
//   - Instrumentation callbacks: [Combine], [CombineUnsupported],
//     [VisitBranch], [Memcpy]
//   - Version information: [GetInfo], [Version]
//
// # Derivatives
//
// Addition, subtraction, multiplication and division use their closed-form
// rules; casts pass the converted operand's derivative through. Remainders,
// shifts and bitwise operations are probed with one-sided finite
// differences around the concrete operands: the operation is re-evaluated
// with the labeled operand nudged by a few small steps in each direction.
// Division by zero yields NaN. Loads, calls and operations on unsupported
// operand types yield the configured fallback.
//
// # Configuration
//
// The runtime reads an optional YAML file named by GRSAN_CONFIG and the
// environment variables GRSAN_OPTIONS (key=value:key=value runtime flags),
// GRSAN_DISABLE_LOGGING, LIBFUZZER_BYTE_IDX and ENABLE_FREAD.
//
// # Addresses
//
// Labels are bound to memory by address. Only heap memory has stable
// addresses in Go; do not label stack variables by address.
//
// # Fatal Conditions
//
// Exhausting the label space, overflowing the branch or argument log and
// a failed [AddLabel] assertion print a FATAL line and exit with status 1.
package taint
