package dump

import (
	"fmt"
	"io"
	"sync"

	"github.com/kolkov/gradsan/internal/grad/label"
)

// Tracer writes the pipeline trace: one comma-separated line per event,
// padded to a fixed column count and ending with the input name.
//
//	OPT,     src,        sink, old_x,      f_x,    ndx,    pdx,    new_x, epoch, epochs,  input,
//	COLLECT, num_labels, iter, total_iter, ,       ,       ,       ,      ,      ,        input,
//	FILTER,  iter,       lbl,  ndx,        pdx,    neg_bd, pos_bd, loc,   f_val, op_name, input,
//
// Thread Safety: Safe for concurrent calls; lines are never interleaved.
type Tracer struct {
	mu    sync.Mutex
	w     io.Writer
	input string
}

// NewTracer returns a tracer writing to w for the named input.
func NewTracer(w io.Writer, input string) *Tracer {
	return &Tracer{w: w, input: input}
}

// Collect logs the end of sweep trial iter of total.
func (t *Tracer) Collect(numLabels, iter, total int) {
	t.printf("COLLECT, %d, %d, %d, , , , , , , %s,\n", numLabels, iter, total, t.input)
}

// Filter logs one label visited by the bug-target filter. The bounds are
// the values one derivative step below and above f_val.
func (t *Tracer) Filter(iter int, l label.Label, info label.Info) {
	negBound := float64(info.Value) - info.NegDeriv
	posBound := float64(info.Value) + info.PosDeriv
	t.printf("FILTER, %d, %d, %s, %s, %s, %s, %s, %d, %s, %s,\n",
		iter, l, Float(info.NegDeriv), Float(info.PosDeriv), Float(negBound), Float(posBound),
		info.Location, info.Value, info.Op, t.input)
}

// EndGroup terminates the FILTER lines of one trial.
func (t *Tracer) EndGroup() {
	t.printf("\n")
}

// Opt logs one optimizer epoch.
func (t *Tracer) Opt(src int, sink label.Label, oldX byte, fx int64, ndx, pdx float64, newX byte, epoch, epochs int) {
	t.printf("OPT, %d, %d, %d, %d, %s, %s, %d, %d, %d, %s,\n",
		src, sink, oldX, fx, Float(ndx), Float(pdx), newX, epoch, epochs, t.input)
}

// Info logs a free-form INFO event.
func (t *Tracer) Info(msg string) {
	t.printf("INFO, %s, , , , , , , , , %s,\n", msg, t.input)
}

// FailedOpcodeCheck logs an optimizer trace divergence.
func (t *Tracer) FailedOpcodeCheck() { t.Info("FAILED OPCODECHECK") }

// BugTargets logs the number of selected bug targets.
func (t *Tracer) BugTargets(n int) { t.Info(fmt.Sprintf("BugTargets %d", n)) }

// OverflowBugTargets logs that the filter produced too many targets.
func (t *Tracer) OverflowBugTargets(n int) { t.Info(fmt.Sprintf("ERROROverflowBugTargets %d", n)) }

//nolint:errcheck // Trace output is best effort, like stderr reports.
func (t *Tracer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}
