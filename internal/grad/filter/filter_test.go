package filter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/gradsan/internal/grad/driver"
	"github.com/kolkov/gradsan/internal/grad/dump"
	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/opcode"
)

var input = label.Info{NegDeriv: 1, PosDeriv: 1, Location: "input_byte"}

func add(parent label.Label, value int64, loc string) label.Info {
	return label.Info{Parent1: parent, Parent2: parent, NegDeriv: 2, PosDeriv: 2, Op: opcode.Add, Location: loc, Value: value}
}

func TestSelectIntOverflow(t *testing.T) {
	snaps := []driver.Snapshot{
		{Offset: 0, Labels: []label.Info{input, add(1, 10, "a.c:1")}},
		{Offset: 1, Labels: []label.Info{input}},
		{Offset: 2, Labels: []label.Info{
			input,
			{Parent1: 1, NegDeriv: 4, PosDeriv: 4, Op: opcode.Mul, Location: "a.c:2", Value: 8},
			add(2, 16, "a.c:3"),
		}},
	}

	targets, err := New(nil, 0).Select(snaps)
	require.NoError(t, err)

	want := []BugTarget{
		{Source: 0, Sink: 2, Op: opcode.Add, Rule: "int_overflow"},
		{Source: 2, Sink: 3, Op: opcode.Add, Rule: "int_overflow"},
	}
	if diff := cmp.Diff(want, targets, cmpopts.IgnoreFields(BugTarget{}, "Loss")); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	for _, bt := range targets {
		require.NotNil(t, bt.Loss)
		assert.Equal(t, int64(247), bt.Loss(5, 10))
	}
}

func TestSelectTrace(t *testing.T) {
	var buf bytes.Buffer
	snaps := []driver.Snapshot{
		{Offset: 0, Labels: []label.Info{input, add(1, 10, "a.c:1")}},
		{Offset: 1, Labels: []label.Info{input}},
	}

	_, err := New(dump.NewTracer(&buf, "seed"), 0).Select(snaps)
	require.NoError(t, err)

	want := "FILTER, 0, 1, 1.000000, 1.000000, -1.000000, 1.000000, input_byte, 0, , seed,\n" +
		"FILTER, 0, 2, 2.000000, 2.000000, 8.000000, 12.000000, a.c:1, 10, Add, seed,\n" +
		"\n" +
		"INFO, BugTargets 1, , , , , , , , , seed,\n"
	assert.Equal(t, want, buf.String())
}

func TestSelectTooManyTargets(t *testing.T) {
	var buf bytes.Buffer
	labels := []label.Info{input}
	for i := 0; i < 5; i++ {
		labels = append(labels, add(1, int64(i), "a.c:1"))
	}

	targets, err := New(dump.NewTracer(&buf, "seed"), 3).Select([]driver.Snapshot{{Offset: 0, Labels: labels}})
	require.ErrorIs(t, err, ErrTooManyTargets)
	assert.Nil(t, targets)
	assert.True(t, strings.HasSuffix(buf.String(), "INFO, ERROROverflowBugTargets 5, , , , , , , , , seed,\n"))
}

func TestSelectAtLimit(t *testing.T) {
	labels := []label.Info{input, add(1, 1, "a.c:1"), add(1, 2, "a.c:1")}

	targets, err := New(nil, 2).Select([]driver.Snapshot{{Offset: 0, Labels: labels}})
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

type mulRule struct{}

func (mulRule) Name() string { return "mul" }

func (mulRule) Match(info label.Info) (LossFunc, bool) {
	return func(_ byte, fx int64) int64 { return -fx }, info.Op == opcode.Mul
}

func TestSelectCustomRules(t *testing.T) {
	labels := []label.Info{
		input,
		{Parent1: 1, NegDeriv: 4, PosDeriv: 4, Op: opcode.Mul, Value: 8},
		add(2, 16, "a.c:3"),
	}

	targets, err := New(nil, 0, mulRule{}, IntOverflow()).Select([]driver.Snapshot{{Offset: 4, Labels: labels}})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "mul", targets[0].Rule)
	assert.Equal(t, label.Label(2), targets[0].Sink)
	assert.Equal(t, "int_overflow", targets[1].Rule)
	assert.Equal(t, 4, targets[1].Source)
}

func TestPrintAll(t *testing.T) {
	var buf bytes.Buffer
	snaps := []driver.Snapshot{
		{Offset: 0, Labels: []label.Info{input}},
		{Offset: 1, Labels: []label.Info{input, {Parent1: 1, Op: opcode.Mul, NegDeriv: 3, PosDeriv: 3, Location: "m.c:9", Value: 6}}},
	}

	New(dump.NewTracer(&buf, "seed"), 0).PrintAll(snaps)

	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "FILTER, 1, 1, "))
	assert.True(t, strings.HasPrefix(lines[1], "FILTER, 1, 2, 3.000000, 3.000000, 3.000000, 9.000000, m.c:9, 6, Mul,"))
	assert.Empty(t, lines[2])
}
