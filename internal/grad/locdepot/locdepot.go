// Package locdepot resolves and interns the source locations of
// instrumentation call sites.
//
// Instrumentation normally passes a "file:line" string with every callback.
// Hand-instrumented targets may pass "" instead; the runtime then asks the
// depot for the caller's location. Resolution (runtime.CallersFrames) is
// slow, so each program counter is resolved once and the string is kept.
// The program counter doubles as the call-site id of argument records.
//
// Design:
//   - Global sync.Map storage: PC → location string
//   - Strings are interned, one allocation per distinct call site
//
// Usage:
//
//	pc, loc := locdepot.Caller(1) // location of our caller
//	...
//	loc = locdepot.Location(pc)
package locdepot

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
)

// Unknown is returned for program counters that cannot be resolved.
const Unknown = "<unknown>"

// depot is the global PC → location store.
//
// Memory: grows with the number of distinct call sites, which is bounded
// by the size of the instrumented program.
var depot sync.Map // uintptr (pc) → string

// Caller returns the program counter and "file:line" of the function skip
// frames above Caller's caller (skip 0 is the caller of Caller).
//
// Performance: ~500ns on first resolution of a call site (runtime.Callers
// + CallersFrames), ~50ns afterwards.
//
// Thread Safety: Safe for concurrent calls.
func Caller(skip int) (uintptr, string) {
	var pcs [1]uintptr
	// Skip runtime.Callers and Caller itself.
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0, Unknown
	}
	pc := pcs[0]
	return pc, Location(pc)
}

// Location returns the interned "file:line" for pc.
func Location(pc uintptr) string {
	if pc == 0 {
		return Unknown
	}
	if v, ok := depot.Load(pc); ok {
		return v.(string)
	}

	loc := resolve(pc)
	actual, _ := depot.LoadOrStore(pc, loc)
	return actual.(string)
}

// resolve formats the frame of pc as base(file):line.
//
// pc is a return address as produced by runtime.Callers, which
// CallersFrames adjusts back into the calling instruction.
func resolve(pc uintptr) string {
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return Unknown
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

// Reset clears the depot (for testing).
//
// Thread Safety: NOT safe for concurrent calls.
func Reset() {
	depot = sync.Map{}
}

// Stats returns the number of interned call sites. O(N).
func Stats() (sites int) {
	depot.Range(func(_, _ any) bool {
		sites++
		return true
	})
	return sites
}
