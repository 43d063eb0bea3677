package results

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/gradsan/internal/grad/filter"
	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/optimizer"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	run, err := s.BeginRun(ctx, "seed.bin", 4, "optimize")
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "seed.bin", got.Input)
	assert.Equal(t, 4, got.InputSize)
	assert.Equal(t, "optimize", got.Mode)
	assert.True(t, got.Finished.IsZero())

	require.NoError(t, s.FinishRun(ctx, run.ID, 2, errors.New("cancelled")))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Targets)
	assert.Equal(t, "cancelled", got.Err)
	assert.False(t, got.Finished.IsZero())
}

func TestGetRunMissing(t *testing.T) {
	_, err := openStore(t).GetRun(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSaveResults(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	run, err := s.BeginRun(ctx, "seed.bin", 1, "optimize")
	require.NoError(t, err)

	res := []optimizer.Result{
		{
			Target: filter.BugTarget{Source: 0, Sink: 2, Op: opcode.Add, Rule: "int_overflow"},
			Epochs: []optimizer.Epoch{
				{Epoch: 0, OldX: 5, NewX: 7, FX: 10, NegDeriv: 2, PosDeriv: 2, Loss: 247},
				{Epoch: 1, OldX: 7, NewX: 9, FX: 14, NegDeriv: math.NaN(), PosDeriv: math.Inf(1), Loss: 243},
			},
			Stop: optimizer.Diverged,
		},
		{
			Target: filter.BugTarget{Source: 3, Sink: 4, Op: opcode.Add, Rule: "int_overflow"},
			Stop:   optimizer.NoGradient,
		},
	}
	require.NoError(t, s.SaveResults(ctx, run.ID, res))

	targets, err := s.Targets(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, 0, targets[0].Index)
	assert.Equal(t, uint32(2), targets[0].Sink)
	assert.Equal(t, "Add", targets[0].Op)
	assert.Equal(t, "diverged", targets[0].Stop)
	assert.Equal(t, 2, targets[0].Epochs)
	assert.Equal(t, int64(9), targets[0].FinalX.Int64)

	assert.Equal(t, 3, targets[1].Source)
	assert.Equal(t, "no_gradient", targets[1].Stop)
	assert.Equal(t, 0, targets[1].Epochs)
	assert.False(t, targets[1].FinalX.Valid)
}

func TestSaveResultsRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	run, err := s.BeginRun(ctx, "seed.bin", 1, "optimize")
	require.NoError(t, err)

	dup := optimizer.Result{
		Target: filter.BugTarget{Sink: 1, Op: opcode.Add},
		Epochs: []optimizer.Epoch{{Epoch: 0}, {Epoch: 0}},
	}
	require.Error(t, s.SaveResults(ctx, run.ID, []optimizer.Result{dup}))

	targets, err := s.Targets(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.BeginRun(context.Background(), "x", 0, "single")
	assert.NoError(t, err)
	assert.Equal(t, ":memory:", s.Path())
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")

	s, err := Open(path)
	require.NoError(t, err)
	run, err := s.BeginRun(ctx, "seed.bin", 1, "grad-only")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "grad-only", got.Mode)
}
