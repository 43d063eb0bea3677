// Package dump writes the label, branch and argument tables as CSV and
// formats the pipeline trace lines.
//
// The CSV layouts are consumed by external analysis scripts and must not
// change:
//
//	labels:   label,ndx,pdx,location,f_val,opcode
//	branches: file_id,inst_id,lhs_label,rhs_label,lhs_val,rhs_val,lhs_ndx,lhs_pdx,rhs_ndx,rhs_pdx,cond_val,zero,is_ptr,location
//	args:     file_id,inst_id,arg_ind,label,val,ndx,pdx,location
//
// Floats are written with six decimals; NaN and infinities as nan, inf
// and -inf.
package dump

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/record"
)

// Column headers.
var (
	LabelHeader  = []string{"label", "ndx", "pdx", "location", "f_val", "opcode"}
	BranchHeader = []string{"file_id", "inst_id", "lhs_label", "rhs_label", "lhs_val", "rhs_val",
		"lhs_ndx", "lhs_pdx", "rhs_ndx", "rhs_pdx", "cond_val", "zero", "is_ptr", "location"}
	ArgHeader = []string{"file_id", "inst_id", "arg_ind", "label", "val", "ndx", "pdx", "location"}
)

// Labels writes one row per label. infos[i] describes label i+1, as
// returned by label.Table.Snapshot.
func Labels(w io.Writer, infos []label.Info) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LabelHeader); err != nil {
		return err
	}
	for i, info := range infos {
		row := []string{
			strconv.Itoa(i + 1),
			Float(info.NegDeriv),
			Float(info.PosDeriv),
			info.Location,
			strconv.FormatInt(info.Value, 10),
			info.Op.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return flush(cw)
}

// Branches writes one row per branch record.
func Branches(w io.Writer, branches []record.Branch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BranchHeader); err != nil {
		return err
	}
	for _, b := range branches {
		row := []string{
			strconv.FormatUint(b.FileID, 10),
			strconv.FormatUint(b.BranchID, 10),
			strconv.FormatUint(uint64(b.LHS), 10),
			strconv.FormatUint(uint64(b.RHS), 10),
			Float(b.LHSValue),
			Float(b.RHSValue),
			Float(b.LHSNeg),
			Float(b.LHSPos),
			Float(b.RHSNeg),
			Float(b.RHSPos),
			flag(b.Cond),
			flag(b.ZeroGradient()),
			flag(b.IsPtr),
			b.Location,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return flush(cw)
}

// Args writes one row per argument record.
func Args(w io.Writer, args []record.Arg) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ArgHeader); err != nil {
		return err
	}
	for _, a := range args {
		row := []string{
			strconv.FormatUint(a.FileID, 10),
			strconv.FormatUint(uint64(a.InstID), 10),
			strconv.FormatUint(uint64(a.ArgIndex), 10),
			strconv.FormatUint(uint64(a.Label), 10),
			Float(a.Value),
			Float(a.Neg),
			Float(a.Pos),
			a.Location,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return flush(cw)
}

// ToFile creates path (and its directory) and runs write on it.
func ToFile(path string, write func(io.Writer) error) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create dump directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close dump file: %w", cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Float formats f with six decimals.
func Float(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func flush(cw *csv.Writer) error {
	cw.Flush()
	return cw.Error()
}
