package shadowmem

import (
	"sync"
	"testing"

	"github.com/kolkov/gradsan/internal/grad/label"
)

// TestShadowMemoryNew verifies that a new shadow memory is empty.
func TestShadowMemoryNew(t *testing.T) {
	sm := NewShadowMemory()

	if got := sm.Load(0x1234); got != 0 {
		t.Errorf("Load on empty shadow = %d, want 0", got)
	}
	if st := sm.Stats(); st.Pages != 0 {
		t.Errorf("Stats().Pages = %d, want 0", st.Pages)
	}
}

// TestStoreZeroDoesNotAllocate verifies that untainting untouched memory
// never creates pages.
func TestStoreZeroDoesNotAllocate(t *testing.T) {
	sm := NewShadowMemory()

	sm.StoreRange(0x10000, 3*PageSize, 0)

	if st := sm.Stats(); st.Pages != 0 || st.Stores != 0 {
		t.Errorf("Stats() = %+v, want no pages and no stores", st)
	}
}

// TestStoreUnchangedIsSkipped verifies the unchanged-value write skip.
func TestStoreUnchangedIsSkipped(t *testing.T) {
	sm := NewShadowMemory()
	addr := uintptr(0x5678)

	sm.Store(addr, 7)
	sm.Store(addr, 7)
	sm.Store(addr, 7)

	st := sm.Stats()
	if st.Stores != 1 || st.Skipped != 2 {
		t.Errorf("Stores=%d Skipped=%d, want 1 and 2", st.Stores, st.Skipped)
	}
	if sm.Load(addr) != 7 {
		t.Errorf("Load = %d, want 7", sm.Load(addr))
	}
}

func TestStoreRangeAcrossPages(t *testing.T) {
	sm := NewShadowMemory()
	start := uintptr(PageSize - 2)

	sm.StoreRange(start, 4, 3)

	for i := uintptr(0); i < 4; i++ {
		if got := sm.Load(start + i); got != 3 {
			t.Errorf("Load(%#x) = %d, want 3", start+i, got)
		}
	}
	if sm.Load(start-1) != 0 || sm.Load(start+4) != 0 {
		t.Error("neighbouring bytes must stay untainted")
	}

	st := sm.Stats()
	if st.Pages != 2 || st.TaintedBytes != 4 {
		t.Errorf("Stats() = %+v, want 2 pages and 4 tainted bytes", st)
	}

	sm.Store(start, 0)
	if st := sm.Stats(); st.TaintedBytes != 3 {
		t.Errorf("TaintedBytes after untaint = %d, want 3", st.TaintedBytes)
	}
}

func TestLabels(t *testing.T) {
	sm := NewShadowMemory()
	base := uintptr(0x2000)
	sm.Store(base, 5)
	sm.Store(base+1, 5)
	sm.Store(base+3, 9)
	sm.Store(base+4, 5)

	got := sm.Labels(base, 6)
	want := []label.Label{5, 9}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Labels() = %v, want %v", got, want)
	}
	if ls := sm.Labels(0x900000, 8); len(ls) != 0 {
		t.Errorf("Labels on clean memory = %v", ls)
	}
}

func TestCopyOverlapping(t *testing.T) {
	sm := NewShadowMemory()
	base := uintptr(0x3000)
	for i := uintptr(0); i < 4; i++ {
		sm.Store(base+i, label.Label(i+1))
	}

	// memmove(base+1, base, 4)
	sm.Copy(base+1, base, 4)

	want := []label.Label{1, 1, 2, 3, 4}
	for i, w := range want {
		if got := sm.Load(base + uintptr(i)); got != w {
			t.Errorf("byte %d = %d, want %d", i, got, w)
		}
	}
}

// TestReset verifies that Reset forgets all labels.
func TestReset(t *testing.T) {
	sm := NewShadowMemory()
	sm.StoreRange(0x4000, 16, 2)

	sm.Reset()

	if sm.Load(0x4000) != 0 {
		t.Error("label survived Reset")
	}
	if st := sm.Stats(); st.Pages != 0 || st.TaintedBytes != 0 {
		t.Errorf("Stats() after Reset = %+v", st)
	}
}

// TestConcurrentStores verifies concurrent stores to distinct bytes of the
// same page are all kept.
func TestConcurrentStores(t *testing.T) {
	sm := NewShadowMemory()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sm.Store(0x8000+uintptr(i), label.Label(i+1))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if got := sm.Load(0x8000 + uintptr(i)); got != label.Label(i+1) {
			t.Errorf("byte %d = %d", i, got)
		}
	}
	if st := sm.Stats(); st.Pages != 1 {
		t.Errorf("Pages = %d, want 1", st.Pages)
	}
}
