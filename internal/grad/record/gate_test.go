package record

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewGate_DefaultConfig(t *testing.T) {
	g := NewGate(GateConfig{})

	// Rate 0 should normalize to 1
	if g.EffectiveRate() != 1 {
		t.Errorf("Expected rate 1, got %d", g.EffectiveRate())
	}
	if g.Disabled() {
		t.Error("Expected gate to record by default")
	}
}

func TestGate_RecordsEverythingByDefault(t *testing.T) {
	g := NewGate(GateConfig{})

	for i := 0; i < 1000; i++ {
		if !g.AllowBranch() || !g.AllowArg() {
			t.Fatal("default gate must allow every observation")
		}
	}
}

// TestGate_PerfModeDropsEverything verifies performance mode skips both
// kinds of observation but still counts them.
func TestGate_PerfModeDropsEverything(t *testing.T) {
	g := NewGate(GateConfig{Disabled: true, BranchRate: 1})

	for i := 0; i < 100; i++ {
		if g.AllowBranch() || g.AllowArg() {
			t.Fatal("performance mode must drop observations")
		}
	}

	stats := g.Stats()
	if stats.Total != 200 || stats.Skipped != 200 || stats.Recorded != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestGate_BranchRate10(t *testing.T) {
	g := NewGate(GateConfig{BranchRate: 10})

	recorded := 0
	total := 10000
	for i := 0; i < total; i++ {
		if g.AllowBranch() {
			recorded++
		}
	}

	// Modulo selection is exact in a single goroutine.
	if recorded != total/10 {
		t.Errorf("Expected %d recorded branches, got %d", total/10, recorded)
	}

	// Arguments are not sampled.
	if !g.AllowArg() {
		t.Error("argument observations must not be sampled")
	}

	stats := g.Stats()
	if stats.Recorded != uint64(recorded+1) {
		t.Errorf("Expected %d recorded, got %d", recorded+1, stats.Recorded)
	}
}

func TestGate_ConcurrentAccess(t *testing.T) {
	g := NewGate(GateConfig{BranchRate: 10})

	var wg sync.WaitGroup
	var totalRecorded uint64

	goroutines := 10
	iterations := 10000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := uint64(0)
			for j := 0; j < iterations; j++ {
				if g.AllowBranch() {
					n++
				}
			}
			atomic.AddUint64(&totalRecorded, n)
		}()
	}
	wg.Wait()

	// Every 10th position is selected exactly once, whatever the interleaving.
	want := uint64(goroutines * iterations / 10)
	if totalRecorded != want {
		t.Errorf("Expected %d recorded, got %d", want, totalRecorded)
	}

	g.Reset()
	if g.Stats().Total != 0 {
		t.Error("Reset must zero the counters")
	}
}
