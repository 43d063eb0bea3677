package api

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/opcode"
)

// Addr returns the address of the first byte of b, 0 for an empty slice.
func Addr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// CreateLabel allocates an input label with unit derivatives. desc is
// recorded as the label's location.
//
// Exhausting the label space is fatal.
func (s *State) CreateLabel(desc string) label.Label {
	l, err := s.table.Create(desc)
	if err != nil {
		s.die(fmt.Errorf("create label %q: %w", desc, err))
		return 0
	}
	return l
}

// SetLabel binds l to size bytes starting at addr. l may be 0 to clear.
func (s *State) SetLabel(l label.Label, addr, size uintptr) {
	s.shadow.StoreRange(addr, size, l)
}

// SetLabelBytes binds l to every byte of b.
func (s *State) SetLabelBytes(l label.Label, b []byte) {
	s.SetLabel(l, Addr(b), uintptr(len(b)))
}

// AddLabel asserts that every one of the size bytes at addr already
// carries l. Anything else is fatal.
func (s *State) AddLabel(l label.Label, addr, size uintptr) {
	for i := uintptr(0); i < size; i++ {
		if got := s.shadow.Load(addr + i); got != l {
			s.die(fmt.Errorf("add label %d: byte %#x already labeled %d", l, addr+i, got))
			return
		}
	}
}

// ReadLabel returns the union of the labels of size bytes at addr.
//
// Unlabeled bytes do not contribute. When the range carries more than one
// label they are merged pairwise into Load labels with the fallback
// derivative, since no single byte's derivative describes the whole
// value; a warning is logged for each merge.
func (s *State) ReadLabel(addr, size uintptr) label.Label {
	labels := s.shadow.Labels(addr, size)
	if len(labels) == 0 {
		return 0
	}

	acc := labels[0]
	for _, next := range labels[1:] {
		s.logger.Warn("read of a range with mixed labels",
			zap.Uint32("label", uint32(acc)), zap.Uint32("next", uint32(next)),
			zap.Uintptr("addr", addr), zap.Uintptr("size", size))
		res, err := s.engine.CombineUnsupported(acc, next, opcode.Load, "")
		if err != nil {
			s.die(err)
			return 0
		}
		acc = res.Label
	}
	return acc
}

// ReadLabelBytes returns the union of the labels of b.
func (s *State) ReadLabelBytes(b []byte) label.Label {
	return s.ReadLabel(Addr(b), uintptr(len(b)))
}

// LabelInfo returns the info of l (the zero Info for label 0).
func (s *State) LabelInfo(l label.Label) label.Info {
	return s.table.Lookup(l)
}

// HasLabel reports whether elem is l or one of its ancestors.
func (s *State) HasLabel(l, elem label.Label) bool {
	return s.table.Has(l, elem)
}

// HasLabelWithDescription reports whether an input label described by
// desc is l or one of its ancestors.
func (s *State) HasLabelWithDescription(l label.Label, desc string) bool {
	return s.table.HasDescription(l, desc)
}

// LabelCount returns the number of allocated labels.
func (s *State) LabelCount() int {
	return s.table.Count()
}

// Snapshot returns a copy of every allocated label's info; element i
// describes label i+1.
func (s *State) Snapshot() []label.Info {
	return s.table.Snapshot()
}
