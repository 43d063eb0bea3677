// Package shadowmem maps memory addresses to taint labels.
//
// Every byte of instrumented memory has a shadow cell holding the label of
// the value stored there, 0 when the byte is untainted. Targets label their
// input buffer, instrumented loads read the labels of the bytes they load,
// and instrumented stores write the label of the stored value.
//
// # Layout
//
// Shadow cells are grouped in pages of PageSize cells. A page is allocated
// the first time a nonzero label is stored into it, so untainted memory
// costs nothing. Pages are found through a sync.Map keyed by page number.
//
// # Concurrency
//
// Cells are atomic, so concurrent access never tears a label. Stores are
// otherwise unsynchronised: a store first loads the cell and skips the write
// when the label is unchanged, and two goroutines storing different labels
// to the same byte race with last-writer-wins semantics. Reset must not run
// concurrently with anything else.
//
// # Address stability
//
// Shadow entries are keyed by address. Go heap objects do not move, but
// goroutine stacks may; label memory that is heap allocated (input buffers,
// escaped variables).
//
// # Usage
//
//	sm := shadowmem.NewShadowMemory()
//	sm.StoreRange(addr, 4, l)
//	if got := sm.Load(addr + 2); got != l {
//	    ...
//	}
package shadowmem
