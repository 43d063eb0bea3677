package harness

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/internal/grad/driver"
	"github.com/kolkov/gradsan/internal/grad/optimizer"
	"github.com/kolkov/gradsan/internal/grad/results"
	"github.com/kolkov/gradsan/taint"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// doubleFirst computes data[0] + data[0].
func doubleFirst(data []byte) {
	lx := taint.ReadLabelBytes(data[:1])
	x := int32(data[0])
	taint.Combine(lx, lx, taint.Int32(x), taint.Int32(x), 1, taint.Add, "h.c:1")
}

func writeInput(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Optimizer.Epochs = 3
	return cfg
}

func TestRunOptimize(t *testing.T) {
	var trace bytes.Buffer
	input := writeInput(t, []byte{5, 1})

	sum, err := Run(context.Background(), Options{
		Config: testConfig(),
		Target: Adapt(doubleFirst),
		Input:  input,
		Trace:  &trace,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeOptimize, sum.Mode)
	require.Len(t, sum.Snapshots, 2)
	require.Len(t, sum.Targets, 1)
	assert.Equal(t, 0, sum.Targets[0].Source)

	require.Len(t, sum.Results, 1)
	assert.Equal(t, optimizer.Completed, sum.Results[0].Stop)
	assert.Equal(t, []byte{11, 1}, sum.Input)

	out := trace.String()
	assert.True(t, strings.HasPrefix(out, "INFO, reading, , , , , , , , , "+input+",\n"))
	assert.Contains(t, out, "COLLECT, 2, 0, 2, ")
	assert.Contains(t, out, "INFO, BugTargets 1, ")
	assert.Equal(t, 3, strings.Count(out, "OPT, 0, 2, "))
}

func TestRunGradOnly(t *testing.T) {
	var trace bytes.Buffer
	sum, err := Run(context.Background(), Options{
		Config: testConfig(),
		Target: Adapt(doubleFirst),
		Input:  writeInput(t, []byte{5}),
		Mode:   ModeGradOnly,
		Trace:  &trace,
	})
	require.NoError(t, err)
	assert.Empty(t, sum.Results)
	assert.Contains(t, trace.String(), "FILTER, 0, 2, 2.000000, 2.000000, 8.000000, 12.000000, h.c:1, 10, Add,")
	assert.NotContains(t, trace.String(), "BugTargets")
}

func TestRunSingle(t *testing.T) {
	runs := 0
	sum, err := Run(context.Background(), Options{
		Config: testConfig(),
		Target: Adapt(func([]byte) { runs++ }),
		Input:  writeInput(t, []byte{5, 6, 7}),
		Mode:   ModeSingle,
		Trace:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.Empty(t, sum.Snapshots)
}

func TestRunByteIndex(t *testing.T) {
	cfg := testConfig()
	cfg.Driver.ByteIndex = 1
	var seen taint.Label

	sum, err := Run(context.Background(), Options{
		Config: cfg,
		Target: Adapt(func(data []byte) { seen = taint.ReadLabelBytes(data[1:2]) }),
		Input:  writeInput(t, []byte{5, 6}),
		Mode:   ModeSingle,
		Trace:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeByte, sum.Mode)
	assert.Equal(t, taint.Label(1), seen)

	cfg.Driver.ByteIndex = 5
	_, err = Run(context.Background(), Options{
		Config: cfg,
		Target: Adapt(doubleFirst),
		Input:  writeInput(t, []byte{5, 6}),
		Trace:  &bytes.Buffer{},
	})
	assert.ErrorIs(t, err, driver.ErrOffset)
}

func TestRunMissingInput(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Target: Adapt(doubleFirst),
		Input:  filepath.Join(t.TempDir(), "missing"),
		Trace:  &bytes.Buffer{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read input")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Options{
		Config: testConfig(),
		Target: Adapt(doubleFirst),
		Input:  writeInput(t, []byte{5}),
		Trace:  &bytes.Buffer{},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecordsResults(t *testing.T) {
	cfg := testConfig()
	cfg.ResultsDB = filepath.Join(t.TempDir(), "results.db")

	sum, err := Run(context.Background(), Options{
		Config: cfg,
		Target: Adapt(doubleFirst),
		Input:  writeInput(t, []byte{5}),
		Trace:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)

	store, err := results.Open(cfg.ResultsDB)
	require.NoError(t, err)
	defer store.Close()

	run, err := store.GetRun(context.Background(), sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Targets)
	assert.Equal(t, string(ModeOptimize), run.Mode)
	assert.Empty(t, run.Err)

	targets, err := store.Targets(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, 3, targets[0].Epochs)
	assert.Equal(t, int64(11), targets[0].FinalX.Int64)
}

func TestRunWritesDumps(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Files.GradientLogfile = filepath.Join(dir, "grad.csv")

	_, err := Run(context.Background(), Options{
		Config: cfg,
		Target: Adapt(doubleFirst),
		Input:  writeInput(t, []byte{5}),
		Mode:   ModeGradOnly,
		Trace:  &bytes.Buffer{},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(cfg.Files.GradientLogfile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(got), "label,ndx,pdx,location,f_val,opcode\n"))
	assert.Contains(t, string(got), "h.c:1,10,Add")
}

func TestCommand(t *testing.T) {
	t.Setenv("GRSAN_CONFIG", "")
	t.Setenv("GRSAN_OPTIONS", "")
	t.Setenv("LIBFUZZER_BYTE_IDX", "")
	dir := t.TempDir()
	input := writeInput(t, []byte{5})
	tracePath := filepath.Join(dir, "trace.txt")

	var stderr bytes.Buffer
	cmd := NewCommand(CommandOptions{
		Use:     "demo",
		Resolve: func() (Target, error) { return doubleFirst, nil },
	})
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--grad-only", "--trace", tracePath, "--log-level", "error", "--report", input})

	require.NoError(t, cmd.ExecuteContext(context.Background()))

	trace, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(trace), "FILTER, 0, 2, ")
	assert.Contains(t, stderr.String(), "Gradient Sanitizer Report")
}

func TestCommandArgs(t *testing.T) {
	cmd := NewCommand(CommandOptions{Use: "demo", Resolve: func() (Target, error) { return doubleFirst, nil }})
	cmd.SetArgs([]string{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())

	cmd = NewCommand(CommandOptions{Use: "demo", Resolve: func() (Target, error) { return doubleFirst, nil }})
	cmd.SetArgs([]string{"--grad-only", "--single", "x"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
