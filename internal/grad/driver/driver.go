// Package driver runs a target under the gradsan runtime, one trial at a
// time.
//
// Every trial follows the same protocol:
//
//	RESET         forget all labels, shadow entries and records
//	LABEL-INJECT  create one unit-derivative label, bind it to one byte
//	RUN           call the target once
//	OBSERVE       snapshot the label table
//
// RESET makes every derivative observed in a trial attributable to the one
// labeled byte. Trials never overlap.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/api"
	"github.com/kolkov/gradsan/internal/grad/dump"
	"github.com/kolkov/gradsan/internal/grad/label"
)

// InputLabel is the description of the label bound to the input byte.
const InputLabel = "input_byte"

// ByteIndexEnv is exported during sweeps with EnableFread set, for
// interceptors that label data as it is read.
const ByteIndexEnv = "GRSAN_BYTE_IDX"

// NoLabel runs a trial without labeling any byte.
const NoLabel = -1

var (
	// ErrOffset is returned for a byte offset outside the input.
	ErrOffset = errors.New("byte offset out of range")

	// ErrTargetPanic is returned when the target panics during a trial.
	ErrTargetPanic = errors.New("target panicked")
)

// Target is the program under test. It receives the runtime state to
// report operations to and the (possibly mutated) input.
type Target func(st *api.State, data []byte)

// Snapshot is the label table observed after one trial.
type Snapshot struct {
	// Offset is the labeled byte (NoLabel if none).
	Offset int

	// Labels holds the info of labels 1..len(Labels); Labels[i] is label i+1.
	Labels []label.Info
}

// Info returns the info of l in this snapshot (the zero Info if l was
// not allocated).
func (s Snapshot) Info(l label.Label) label.Info {
	if l == 0 || int(l) > len(s.Labels) {
		return label.Info{}
	}
	return s.Labels[l-1]
}

// Options configures a Driver.
type Options struct {
	State  *api.State
	Target Target

	// Tracer receives COLLECT lines (none if nil).
	Tracer *dump.Tracer

	// EnableFread exports the swept byte index as GRSAN_BYTE_IDX.
	EnableFread bool

	Logger *zap.Logger
}

// Driver runs trials of one target against one runtime state.
//
// Thread Safety: NOT safe for concurrent use. The target itself may start
// goroutines, but must not leave them running after it returns.
type Driver struct {
	st     *api.State
	target Target
	tracer *dump.Tracer
	fread  bool
	logger *zap.Logger
}

// New creates a driver.
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		st:     opts.State,
		target: opts.Target,
		tracer: opts.Tracer,
		fread:  opts.EnableFread,
		logger: logger,
	}
}

// State returns the runtime state trials run against.
func (d *Driver) State() *api.State { return d.st }

// Trial runs one trial with byte offset of data labeled (NoLabel for
// none) and returns the observed label table.
//
// data must be heap memory; the label is bound to the address of
// data[offset].
func (d *Driver) Trial(data []byte, offset int) (Snapshot, error) {
	if offset != NoLabel && (offset < 0 || offset >= len(data)) {
		return Snapshot{}, fmt.Errorf("%w: %d (input has %d bytes)", ErrOffset, offset, len(data))
	}

	// RESET
	d.st.Reset()

	// LABEL-INJECT
	if offset != NoLabel {
		l := d.st.CreateLabel(InputLabel)
		d.st.SetLabelBytes(l, data[offset:offset+1])
	}

	// RUN
	if err := d.run(data); err != nil {
		return Snapshot{}, err
	}

	// OBSERVE
	return Snapshot{Offset: offset, Labels: d.st.Snapshot()}, nil
}

func (d *Driver) run(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTargetPanic, r)
		}
	}()
	d.target(d.st, data)
	return nil
}

// Sweep runs one trial per input byte and returns the snapshots in byte
// order. Each trial logs a COLLECT line.
//
// ctx is checked between trials; a cancelled sweep returns the snapshots
// collected so far together with ctx.Err().
func (d *Driver) Sweep(ctx context.Context, data []byte) ([]Snapshot, error) {
	if d.fread {
		prev, had := os.LookupEnv(ByteIndexEnv)
		defer restoreEnv(ByteIndexEnv, prev, had)
	}

	snaps := make([]Snapshot, 0, len(data))
	for i := range data {
		if err := ctx.Err(); err != nil {
			return snaps, err
		}
		if d.fread {
			if err := os.Setenv(ByteIndexEnv, strconv.Itoa(i)); err != nil {
				return snaps, fmt.Errorf("failed to export %s: %w", ByteIndexEnv, err)
			}
		}

		snap, err := d.Trial(data, i)
		if err != nil {
			return snaps, fmt.Errorf("sweep byte %d: %w", i, err)
		}
		snaps = append(snaps, snap)

		if d.tracer != nil {
			d.tracer.Collect(len(snap.Labels), i, len(data))
		}
		d.logger.Debug("collected", zap.Int("byte", i), zap.Int("labels", len(snap.Labels)))
	}
	return snaps, nil
}

// RunSingle runs the target once with only byte offset labeled (NoLabel
// for none) and leaves the runtime state as the target left it, so that
// the caller can dump it.
func (d *Driver) RunSingle(data []byte, offset int) error {
	_, err := d.Trial(data, offset)
	return err
}

func restoreEnv(key, prev string, had bool) {
	if had {
		_ = os.Setenv(key, prev)
	} else {
		_ = os.Unsetenv(key)
	}
}
