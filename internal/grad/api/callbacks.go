package api

import (
	"go.uber.org/zap"

	"github.com/kolkov/gradsan/internal/grad/label"
	"github.com/kolkov/gradsan/internal/grad/locdepot"
	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/record"
	"github.com/kolkov/gradsan/internal/grad/value"
)

// Instrumentation callbacks.
//
// Each callback has a ...From variant taking skip, the number of frames
// between the instrumented site and the call (0 when instrumented code
// calls the State directly). The caller's frame is only resolved when loc
// is empty or a call-site id is needed for an argument record.

// Combine derives the label of the result of op(x1, x2), where l1 and l2
// are the operands' labels. site identifies the instruction. Either label
// may be 0; when both are, Combine returns 0 without allocating.
//
// Divisions with a labeled divisor also record the divisor in the argument
// log (instruction id = opcode, argument index 0).
func (s *State) Combine(l1, l2 label.Label, x1, x2 value.Operand, site uint64, op opcode.Op, loc string) label.Label {
	return s.CombineFrom(1, l1, l2, x1, x2, site, op, loc)
}

// CombineFrom is Combine called through skip wrapper frames.
func (s *State) CombineFrom(skip int, l1, l2 label.Label, x1, x2 value.Operand, site uint64, op opcode.Op, loc string) label.Label {
	if l1 == 0 && l2 == 0 {
		return 0
	}

	divisor := l2 != 0 && op.IsDivision()
	var pc uintptr
	if loc == "" || divisor {
		pc, loc = s.site(skip, loc)
	}
	if divisor {
		s.recordArg(record.Arg{
			FileID:   uint64(pc),
			InstID:   uint32(op),
			ArgIndex: 0,
			Label:    l2,
			Value:    x2.Float(),
			Location: loc,
		})
	}

	res, err := s.engine.Combine(l1, l2, x1, x2, op, loc)
	if err != nil {
		s.die(err)
		return 0
	}
	if !res.Supported {
		s.logger.Debug("unsupported operation",
			zap.Stringer("op", op), zap.Uint64("site", site), zap.String("loc", loc),
			zap.Stringer("x1", x1), zap.Stringer("x2", x2), zap.Uint32("label", uint32(res.Label)))
	}
	return res.Label
}

// CombineUnsupported derives a label for an operation whose operand types
// have no derivative rule (vectors, aggregates). The label carries the
// configured fallback derivative.
func (s *State) CombineUnsupported(l1, l2 label.Label, site uint64, op opcode.Op, loc string) label.Label {
	return s.CombineUnsupportedFrom(1, l1, l2, site, op, loc)
}

// CombineUnsupportedFrom is CombineUnsupported called through skip
// wrapper frames.
func (s *State) CombineUnsupportedFrom(skip int, l1, l2 label.Label, site uint64, op opcode.Op, loc string) label.Label {
	if l1 == 0 && l2 == 0 {
		return 0
	}
	if loc == "" {
		_, loc = s.site(skip, loc)
	}

	res, err := s.engine.CombineUnsupported(l1, l2, op, loc)
	if err != nil {
		s.die(err)
		return 0
	}
	s.logger.Debug("unsupported operand types",
		zap.Stringer("op", op), zap.Uint64("site", site), zap.String("loc", loc),
		zap.Uint32("label", uint32(res.Label)))
	return res.Label
}

// VisitBranch records a comparison that decides a conditional branch.
// Comparisons without any labeled operand are ignored, as is everything
// in performance mode.
//
// With branch barriers enabled, integer comparisons record zero for every
// derivative whose one-step move would flip the outcome.
func (s *State) VisitBranch(lhs, rhs label.Label, lv, rv value.Operand, cond bool, pred opcode.Predicate,
	fileID, branchID uint64, isPtr bool, loc string) {
	s.VisitBranchFrom(1, lhs, rhs, lv, rv, cond, pred, fileID, branchID, isPtr, loc)
}

// VisitBranchFrom is VisitBranch called through skip wrapper frames.
func (s *State) VisitBranchFrom(skip int, lhs, rhs label.Label, lv, rv value.Operand, cond bool, pred opcode.Predicate,
	fileID, branchID uint64, isPtr bool, loc string) {
	if lhs == 0 && rhs == 0 {
		return
	}
	if !s.log.Enabled() {
		return
	}
	if loc == "" {
		_, loc = s.site(skip, loc)
	}

	ld, rd := s.engine.Derivs(lhs), s.engine.Derivs(rhs)
	if s.cfg.Runtime.BranchBarriers {
		ld, rd = record.Barrier(pred, lv, rv, cond, ld, rd)
	}

	err := s.log.RecordBranch(record.Branch{
		FileID:   fileID,
		BranchID: branchID,
		LHS:      lhs,
		RHS:      rhs,
		LHSValue: lv.Float(),
		RHSValue: rv.Float(),
		LHSNeg:   ld.Neg,
		LHSPos:   ld.Pos,
		RHSNeg:   rd.Neg,
		RHSPos:   rd.Pos,
		Cond:     cond,
		Pred:     pred,
		IsPtr:    isPtr,
		Location: loc,
	})
	if err != nil {
		s.die(err)
	}
}

// Memcpy copies src into dst (as the copy builtin does) together with the
// shadow labels of the copied bytes. Nonzero labels of the destination
// pointer, source pointer and length are recorded as arguments 0, 1 and 2
// of the memcpy instruction; the length argument carries the number of
// bytes copied.
//
// Memcpy returns the label of its result, the destination pointer.
func (s *State) Memcpy(dst, src []byte, dstL, srcL, nL label.Label, loc string) label.Label {
	return s.MemcpyFrom(1, dst, src, dstL, srcL, nL, loc)
}

// MemcpyFrom is Memcpy called through skip wrapper frames.
func (s *State) MemcpyFrom(skip int, dst, src []byte, dstL, srcL, nL label.Label, loc string) label.Label {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}

	if dstL != 0 || srcL != 0 || nL != 0 {
		pc, loc := s.site(skip, loc)
		args := [...]struct {
			l label.Label
			v float64
		}{{dstL, 0}, {srcL, 0}, {nL, float64(n)}}
		for i, a := range args {
			if a.l == 0 {
				continue
			}
			s.recordArg(record.Arg{
				FileID:   uint64(pc),
				InstID:   opcode.MemcpyInst,
				ArgIndex: uint32(i),
				Label:    a.l,
				Value:    a.v,
				Location: loc,
			})
		}
	}

	s.shadow.Copy(Addr(dst), Addr(src), uintptr(n))
	copy(dst, src)
	return dstL
}

// site returns the program counter and location of the instrumented site
// skip frames above the caller of site's caller. A non-empty loc is kept.
func (s *State) site(skip int, loc string) (uintptr, string) {
	pc, caller := locdepot.Caller(skip + 2)
	if loc == "" {
		loc = caller
	}
	return pc, loc
}

// recordArg fills in the derivatives of a.Label and appends a.
func (s *State) recordArg(a record.Arg) {
	d := s.engine.Derivs(a.Label)
	a.Neg, a.Pos = d.Neg, d.Pos
	if err := s.log.RecordArg(a); err != nil {
		s.die(err)
	}
}
