package label

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kolkov/gradsan/internal/grad/opcode"
)

// TestCreate verifies input labels get unit derivatives and sequential ids.
func TestCreate(t *testing.T) {
	tbl := NewTable(8)

	l1, err := tbl.Create("x")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	l2, _ := tbl.Create("y")

	if l1 != 1 || l2 != 2 {
		t.Fatalf("labels = %d, %d; want 1, 2", l1, l2)
	}

	want := Info{NegDeriv: 1, PosDeriv: 1, Location: "x"}
	if diff := cmp.Diff(want, tbl.Lookup(l1)); diff != "" {
		t.Errorf("Lookup(1) mismatch (-want +got):\n%s", diff)
	}
	if tbl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", tbl.Count())
	}
}

func TestLookupZeroLabel(t *testing.T) {
	tbl := NewTable(4)
	if (tbl.Lookup(0) != Info{}) {
		t.Error("label 0 must map to the zero Info")
	}
	if (tbl.Lookup(3) != Info{}) {
		t.Error("unallocated label must map to the zero Info")
	}
	if neg, pos := tbl.Derivs(0); neg != 0 || pos != 0 {
		t.Errorf("Derivs(0) = %v, %v", neg, pos)
	}
}

// TestCapacityBoundary allocates exactly the capacity, then one more.
func TestCapacityBoundary(t *testing.T) {
	const capacity = 16
	tbl := NewTable(capacity)

	for i := 1; i <= capacity; i++ {
		l, err := tbl.Create("in")
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		if int(l) != i {
			t.Fatalf("allocation %d returned label %d", i, l)
		}
	}

	if _, err := tbl.Create("overflow"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("allocation %d: err = %v, want ErrExhausted", capacity+1, err)
	}
	if tbl.Count() != capacity {
		t.Errorf("Count() after exhaustion = %d, want %d", tbl.Count(), capacity)
	}
}

// TestReset verifies reset idempotence: after Reset the table behaves like
// a fresh one.
func TestReset(t *testing.T) {
	tbl := NewTable(8)
	for i := 0; i < 5; i++ {
		_, _ = tbl.Create("a")
	}

	tbl.Reset()

	if tbl.Count() != 0 {
		t.Errorf("Count() after Reset = %d", tbl.Count())
	}
	if (tbl.Lookup(3) != Info{}) {
		t.Error("entries must be zeroed by Reset")
	}
	l, _ := tbl.Create("b")
	if l != 1 {
		t.Errorf("first label after Reset = %d, want 1", l)
	}

	tbl.Reset()
	tbl.Reset()
	if l, _ := tbl.Create("c"); l != 1 {
		t.Errorf("double Reset: first label = %d, want 1", l)
	}
}

// TestConcurrentAllocation verifies labels are unique under contention.
func TestConcurrentAllocation(t *testing.T) {
	const goroutines, per = 8, 100
	tbl := NewTable(goroutines * per)

	var wg sync.WaitGroup
	results := make([][]Label, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				l, err := tbl.Create("c")
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				results[g] = append(results[g], l)
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[Label]bool)
	for _, ls := range results {
		for _, l := range ls {
			if seen[l] {
				t.Fatalf("label %d allocated twice", l)
			}
			seen[l] = true
		}
	}
	if len(seen) != goroutines*per {
		t.Errorf("allocated %d labels, want %d", len(seen), goroutines*per)
	}
}

func TestHasAndDescription(t *testing.T) {
	tbl := NewTable(16)
	x, _ := tbl.Create("x")
	y, _ := tbl.Create("y")
	sum, _ := tbl.Allocate(Info{Parent1: x, Parent2: y, Op: opcode.Add, Location: "x"})
	prod, _ := tbl.Allocate(Info{Parent1: sum, Op: opcode.Mul, Location: "m.go:3"})
	other, _ := tbl.Create("z")

	if !tbl.Has(prod, x) || !tbl.Has(prod, y) || !tbl.Has(prod, prod) {
		t.Error("prod must contain x, y and itself")
	}
	if tbl.Has(prod, other) {
		t.Error("prod must not contain z")
	}
	if !tbl.Has(0, 0) || tbl.Has(0, x) {
		t.Error("label 0 only contains itself")
	}

	if !tbl.HasDescription(prod, "y") {
		t.Error("prod derives from input y")
	}
	// sum carries location "x" but is not an input label.
	if tbl.HasDescription(prod, "m.go:3") {
		t.Error("descriptions are only compared on input labels")
	}
	if tbl.HasDescription(0, "x") {
		t.Error("label 0 has no descriptions")
	}
}

// TestDeepChain checks that membership works on chains longer than any
// reasonable recursion depth.
func TestDeepChain(t *testing.T) {
	const depth = 50000
	tbl := NewTable(depth + 1)
	root, _ := tbl.Create("root")
	cur := root
	for i := 0; i < depth; i++ {
		cur, _ = tbl.Allocate(Info{Parent1: cur, Op: opcode.Add})
	}
	if !tbl.HasDescription(cur, "root") || !tbl.Has(cur, root) {
		t.Error("deep chain must reach the root")
	}
}

func TestSnapshot(t *testing.T) {
	tbl := NewTable(4)
	_, _ = tbl.Create("a")
	_, _ = tbl.Create("b")

	snap := tbl.Snapshot()
	if len(snap) != 2 || snap[1].Location != "b" {
		t.Fatalf("Snapshot() = %+v", snap)
	}

	tbl.Reset()
	if snap[0].Location != "a" {
		t.Error("snapshot must not alias the table")
	}
}
