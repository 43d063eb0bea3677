package main

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/gradsan/harness"
	"github.com/kolkov/gradsan/taint"
)

// File ids of the bundled targets' branch records.
const (
	fileInt uint64 = iota + 1
	fileOverflow
)

type namedTarget struct {
	name string
	desc string
	run  harness.Target
}

var targets = []namedTarget{
	{"int", "y = 4*x, z = y%4 and a product loop over the first byte", intTarget},
	{"overflow", "per-byte x+x+10 with a byte overflow check", overflowTarget},
	{"parallel", "x*x+x for every byte, one goroutine per byte", parallelTarget},
	{"copy", "copies the input and divides 1000 by every byte", copyTarget},
}

func lookupTarget(name string) (harness.Target, error) {
	for _, t := range targets {
		if t.name == name {
			return t.run, nil
		}
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.name
	}
	return nil, fmt.Errorf("unknown target %q (available: %s)", name, strings.Join(names, ", "))
}

func intTarget(data []byte) {
	if len(data) == 0 {
		return
	}
	lx := taint.ReadLabelBytes(data[:1])
	x := int32(data[0])

	taint.VisitBranch(lx, 0, taint.Int32(x), taint.Int32(0), x > 0, taint.SGT, fileInt, 1, false, "")
	if x <= 0 {
		return
	}

	ly := taint.Combine(0, lx, taint.Int32(4), taint.Int32(x), 1, taint.Mul, "")
	y := 4 * x
	taint.Combine(ly, 0, taint.Int32(y), taint.Int32(4), 2, taint.SRem, "")

	loop, ll := y, ly
	for i := int32(1); i < 5; i++ {
		ll = taint.Combine(ll, 0, taint.Int32(loop), taint.Int32(i), 3, taint.Mul, "")
		loop *= i
	}
	taint.Combine(ll, lx, taint.Int32(loop), taint.Int32(x), 4, taint.Add, "")
}

func overflowTarget(data []byte) {
	for i := range data {
		l := taint.ReadLabelBytes(data[i : i+1])
		x := int32(data[i])

		ld := taint.Combine(l, l, taint.Int32(x), taint.Int32(x), 10, taint.Add, "")
		d := x + x
		ls := taint.Combine(ld, 0, taint.Int32(d), taint.Int32(10), 11, taint.Add, "")
		s := d + 10

		taint.VisitBranch(ls, 0, taint.Int32(s), taint.Int32(255), s > 255, taint.SGT, fileOverflow, uint64(i), false, "")
		if s > 255 {
			return
		}
	}
}

func parallelTarget(data []byte) {
	var g errgroup.Group
	g.SetLimit(4)
	for i := range data {
		g.Go(func() error {
			l := taint.ReadLabelBytes(data[i : i+1])
			x := int32(data[i])
			lsq := taint.Combine(l, l, taint.Int32(x), taint.Int32(x), 20, taint.Mul, "")
			taint.Combine(lsq, l, taint.Int32(x*x), taint.Int32(x), 21, taint.Add, "")
			return nil
		})
	}
	_ = g.Wait()
}

func copyTarget(data []byte) {
	buf := make([]byte, len(data))
	taint.Memcpy(buf, data, 0, 0, 0, "")
	for i := range buf {
		l := taint.ReadLabelBytes(buf[i : i+1])
		if l == 0 {
			continue
		}
		x := int32(buf[i])
		taint.Combine(0, l, taint.Int32(1000), taint.Int32(x), 30, taint.SDiv, "")
	}
}
