// Package record implements the bounded observation logs written during a
// trial: one for branch comparisons and one for function/instruction
// arguments.
//
// Appends reserve a slot with a single atomic increment and write it
// without further locking. Storage is split into fixed-size chunks that are
// allocated on first use, so a log sized for a million branches costs
// nothing until branches are actually recorded. Writing past the capacity is
// an error the runtime treats as fatal.
package record

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrFull is returned when an append would exceed a buffer's capacity.
var ErrFull = errors.New("record buffer full")

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

// Buffer is an append-only, fixed-capacity sequence.
//
// Thread Safety: Append is safe for concurrent calls. Len, At and All may
// be called concurrently with Append but only observe fully written entries
// once the appending goroutines are done (the driver reads after a trial).
// Reset is not concurrent-safe.
type Buffer[T any] struct {
	name     string
	capacity int
	next     atomic.Int64
	chunks   []atomic.Pointer[[chunkSize]T]
}

// NewBuffer creates a buffer holding at most capacity entries. The name is
// used in error messages.
func NewBuffer[T any](name string, capacity int) *Buffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer[T]{
		name:     name,
		capacity: capacity,
		chunks:   make([]atomic.Pointer[[chunkSize]T], (capacity+chunkSize-1)/chunkSize),
	}
}

// Append stores v and returns its index.
//
//go:nosplit
func (b *Buffer[T]) Append(v T) (int, error) {
	i := int(b.next.Add(1) - 1)
	if i >= b.capacity {
		return i, fmt.Errorf("%w: %s index %d, capacity %d", ErrFull, b.name, i, b.capacity)
	}
	b.chunk(i >> chunkBits)[i&chunkMask] = v
	return i, nil
}

// Len returns the number of stored entries.
func (b *Buffer[T]) Len() int {
	n := int(b.next.Load())
	if n > b.capacity {
		n = b.capacity
	}
	return n
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int { return b.capacity }

// All copies the stored entries into a new slice.
func (b *Buffer[T]) All() []T {
	n := b.Len()
	out := make([]T, 0, n)
	for c := 0; c*chunkSize < n; c++ {
		ch := b.chunks[c].Load()
		end := n - c*chunkSize
		if end > chunkSize {
			end = chunkSize
		}
		if ch == nil {
			var zero [chunkSize]T
			out = append(out, zero[:end]...)
			continue
		}
		out = append(out, ch[:end]...)
	}
	return out
}

// Reset empties the buffer. Chunks are kept and cleared for reuse.
func (b *Buffer[T]) Reset() {
	n := b.Len()
	for c := 0; c*chunkSize < n; c++ {
		if ch := b.chunks[c].Load(); ch != nil {
			clear(ch[:])
		}
	}
	b.next.Store(0)
}

func (b *Buffer[T]) chunk(c int) *[chunkSize]T {
	slot := &b.chunks[c]
	if ch := slot.Load(); ch != nil {
		return ch
	}
	fresh := new([chunkSize]T)
	if slot.CompareAndSwap(nil, fresh) {
		return fresh
	}
	return slot.Load()
}
