package shadowmem

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/gradsan/internal/grad/label"
)

// ShadowMemory is the address → label side table for one runtime state.
//
// Implementation: a sync.Map from page number to *page. sync.Map suits the
// access pattern well: pages are created rarely (once per 4KB region that
// ever holds a label) and looked up on every instrumented load and store.
//
// Thread Safety: Load, Store and the range helpers are safe for concurrent
// use (see the package documentation for the store race). Reset is not.
type ShadowMemory struct {
	pages sync.Map // map[uintptr]*page - shadow pages indexed by page number

	numPages atomic.Int64
	stores   atomic.Uint64 // stores that changed a cell
	skipped  atomic.Uint64 // stores that found the label already present
}

// NewShadowMemory creates an empty shadow memory.
func NewShadowMemory() *ShadowMemory {
	return &ShadowMemory{}
}

// Load returns the label stored for addr, 0 if none.
//
// Zero Allocations: Load never allocates, including for addresses whose
// page was never created.
//
//go:nosplit
func (sm *ShadowMemory) Load(addr uintptr) label.Label {
	num, off := pageOf(addr)
	val, ok := sm.pages.Load(num)
	if !ok {
		return 0
	}
	return val.(*page).load(off)
}

// Store records l as the label of addr.
//
// Behavior:
//   - Cell already holds l: no write (the common case inside loops).
//   - l is 0 and the page does not exist: nothing is allocated.
//   - Otherwise the page is created on demand and the cell written.
//
//go:nosplit
func (sm *ShadowMemory) Store(addr uintptr, l label.Label) {
	num, off := pageOf(addr)
	p := sm.lookup(num, l != 0)
	if p == nil {
		return
	}
	if p.store(off, l) {
		sm.stores.Add(1)
	} else {
		sm.skipped.Add(1)
	}
}

// StoreRange labels size consecutive bytes starting at addr with l.
func (sm *ShadowMemory) StoreRange(addr, size uintptr, l label.Label) {
	for i := uintptr(0); i < size; i++ {
		sm.Store(addr+i, l)
	}
}

// Labels returns the distinct nonzero labels of the size bytes starting at
// addr, in address order of first occurrence.
func (sm *ShadowMemory) Labels(addr, size uintptr) []label.Label {
	var out []label.Label
	var last label.Label
	for i := uintptr(0); i < size; i++ {
		l := sm.Load(addr + i)
		if l == 0 || l == last {
			continue
		}
		last = l
		dup := false
		for _, seen := range out {
			if seen == l {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, l)
		}
	}
	return out
}

// Copy copies the labels of n bytes from src to dst, as memmove would
// (overlapping ranges are handled).
func (sm *ShadowMemory) Copy(dst, src, n uintptr) {
	if n == 0 || dst == src {
		return
	}
	if dst < src || dst >= src+n {
		for i := uintptr(0); i < n; i++ {
			sm.Store(dst+i, sm.Load(src+i))
		}
		return
	}
	for i := n; i > 0; i-- {
		sm.Store(dst+i-1, sm.Load(src+i-1))
	}
}

// Reset forgets every label.
//
// Thread Safety: NOT safe for concurrent access. The driver calls Reset
// between trials, when no target code runs.
//
// Performance: O(1); old pages are left to the garbage collector.
func (sm *ShadowMemory) Reset() {
	sm.pages = sync.Map{}
	sm.numPages.Store(0)
	sm.stores.Store(0)
	sm.skipped.Store(0)
}

// Stats reports shadow memory usage.
type Stats struct {
	Pages        int    // allocated pages
	TaintedBytes int    // cells holding a nonzero label
	Stores       uint64 // stores that changed a cell
	Skipped      uint64 // stores skipped because the label was unchanged
}

// Stats returns usage statistics. O(pages).
func (sm *ShadowMemory) Stats() Stats {
	st := Stats{
		Pages:   int(sm.numPages.Load()),
		Stores:  sm.stores.Load(),
		Skipped: sm.skipped.Load(),
	}
	sm.pages.Range(func(_, v any) bool {
		st.TaintedBytes += int(v.(*page).tainted.Load())
		return true
	})
	return st
}

func (sm *ShadowMemory) lookup(num uintptr, create bool) *page {
	if val, ok := sm.pages.Load(num); ok {
		return val.(*page)
	}
	if !create {
		return nil
	}
	// LoadOrStore keeps exactly one page per number when goroutines race
	// to create it.
	actual, loaded := sm.pages.LoadOrStore(num, new(page))
	if !loaded {
		sm.numPages.Add(1)
	}
	return actual.(*page)
}
