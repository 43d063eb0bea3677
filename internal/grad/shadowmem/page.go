package shadowmem

import (
	"sync/atomic"

	"github.com/kolkov/gradsan/internal/grad/label"
)

const (
	// PageBits is log2 of the number of shadow cells per page.
	PageBits = 12

	// PageSize is the number of shadow cells (bytes of application memory)
	// covered by one page.
	PageSize = 1 << PageBits

	pageMask = PageSize - 1
)

// page holds the shadow cells of PageSize consecutive bytes.
//
// Memory layout: 4096 × 4 bytes = 16KB per page. The tainted counter tracks
// how many cells hold a nonzero label so Stats does not have to scan.
type page struct {
	cells   [PageSize]atomic.Uint32
	tainted atomic.Int32
}

// load returns the label of the cell at offset off.
//
//go:nosplit
func (p *page) load(off uintptr) label.Label {
	return label.Label(p.cells[off].Load())
}

// store writes l into the cell at offset off, skipping the write when the
// cell already holds l. It reports whether the cell changed.
//
//go:nosplit
func (p *page) store(off uintptr, l label.Label) bool {
	cell := &p.cells[off]
	old := cell.Load()
	if old == uint32(l) {
		return false
	}
	cell.Store(uint32(l))
	switch {
	case old == 0:
		p.tainted.Add(1)
	case l == 0:
		p.tainted.Add(-1)
	}
	return true
}

func pageOf(addr uintptr) (num, off uintptr) {
	return addr >> PageBits, addr & pageMask
}
