// Package label implements the fixed-capacity label table.
//
// A label is a small integer naming one node of a derivative DAG. Label 0
// means "untainted". Every other label records the (up to two) parent labels
// it was derived from, the instruction that derived it, the one-sided partial
// derivatives of that instruction's output with respect to the originally
// labeled input byte, and the last concrete output value.
//
// Design:
//   - Entries live in one preallocated slice indexed by label.
//   - Allocation is a single atomic increment of the last-label counter.
//   - Parents always have strictly smaller ids, so the graph is acyclic.
//   - Reset zeroes the used prefix and restarts allocation at 1.
//
// Thread Safety: Create may be called concurrently. An entry is written
// exactly once, by the goroutine that allocated it, before its label is
// returned. Reset must not race with anything.
package label

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kolkov/gradsan/internal/grad/opcode"
)

// DefaultCapacity is the number of allocatable labels (1..65536).
const DefaultCapacity = 1 << 16

// ErrExhausted is returned when no label is left to allocate.
var ErrExhausted = errors.New("label space exhausted")

// Label names a node of the derivative DAG. 0 is the untainted label.
type Label uint32

// Info describes one label.
type Info struct {
	// Parent1 and Parent2 are the input labels of the deriving operation.
	// Both are 0 for input labels.
	Parent1, Parent2 Label

	// NegDeriv and PosDeriv are the one-sided partial derivatives of the
	// output with respect to the labeled input (left and right).
	NegDeriv, PosDeriv float64

	// Op is the instruction that created the label, opcode.None for inputs.
	Op opcode.Op

	// Location is the source location or, for inputs, the description.
	Location string

	// Value is the concrete output last observed for this label.
	Value int64
}

// Table stores label infos.
type Table struct {
	entries []Info
	last    atomic.Uint32
}

// NewTable creates a table able to hold capacity labels. A capacity of 0
// selects DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{entries: make([]Info, capacity+1)}
}

// Capacity returns the number of allocatable labels.
func (t *Table) Capacity() int {
	return len(t.entries) - 1
}

// Create allocates an input label with unit derivatives and no parents.
func (t *Table) Create(desc string) (Label, error) {
	return t.Allocate(Info{NegDeriv: 1, PosDeriv: 1, Location: desc})
}

// Allocate reserves the next label and stores info for it.
//
// Returns ErrExhausted once more than Capacity labels have been requested
// since the last Reset. The caller is expected to treat that as fatal.
//
//go:nosplit
func (t *Table) Allocate(info Info) (Label, error) {
	l := t.last.Add(1)
	if int(l) >= len(t.entries) || l == 0 {
		return 0, fmt.Errorf("%w: label %d exceeds capacity %d", ErrExhausted, l, t.Capacity())
	}
	t.entries[l] = info
	return Label(l), nil
}

// Lookup returns the info of l. Label 0 and unallocated labels return the
// zero Info.
//
//go:nosplit
func (t *Table) Lookup(l Label) Info {
	if l == 0 || uint32(l) > t.last.Load() || int(l) >= len(t.entries) {
		return Info{}
	}
	return t.entries[l]
}

// Derivs returns the derivative pair of l, (0, 0) for label 0.
//
//go:nosplit
func (t *Table) Derivs(l Label) (neg, pos float64) {
	info := t.Lookup(l)
	return info.NegDeriv, info.PosDeriv
}

// Count returns the number of labels allocated since the last Reset.
func (t *Table) Count() int {
	n := int(t.last.Load())
	if n > t.Capacity() {
		n = t.Capacity()
	}
	return n
}

// Reset zeroes every used entry and restarts allocation at label 1.
//
// Thread Safety: NOT safe for concurrent use with any other method.
func (t *Table) Reset() {
	n := t.Count()
	clear(t.entries[:n+1])
	t.last.Store(0)
}

// Snapshot copies the entries of labels 1..Count. Index i of the result
// holds label i+1.
func (t *Table) Snapshot() []Info {
	n := t.Count()
	out := make([]Info, n)
	copy(out, t.entries[1:n+1])
	return out
}

// Has reports whether elem is l or one of l's ancestors.
func (t *Table) Has(l, elem Label) bool {
	if elem == 0 {
		return l == 0
	}
	return t.walk(l, func(cur Label, _ Info) bool { return cur == elem })
}

// HasDescription reports whether some input label (one without parents)
// reachable from l carries the description desc.
func (t *Table) HasDescription(l Label, desc string) bool {
	return t.walk(l, func(_ Label, info Info) bool {
		return info.Parent1 == 0 && info.Parent2 == 0 && info.Location == desc
	})
}

// walk visits l and its ancestors until match returns true. It uses an
// explicit work list so deep chains do not grow the goroutine stack.
func (t *Table) walk(l Label, match func(Label, Info) bool) bool {
	if l == 0 {
		return false
	}
	seen := make(map[Label]struct{})
	work := []Label{l}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		info := t.Lookup(cur)
		if match(cur, info) {
			return true
		}
		if info.Parent1 != 0 {
			work = append(work, info.Parent1)
		}
		if info.Parent2 != 0 {
			work = append(work, info.Parent2)
		}
	}
	return false
}
