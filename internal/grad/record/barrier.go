package record

import (
	"github.com/kolkov/gradsan/internal/grad/deriv"
	"github.com/kolkov/gradsan/internal/grad/opcode"
	"github.com/kolkov/gradsan/internal/grad/value"
)

// Barrier applies a branch barrier to the derivatives recorded for an
// integer comparison.
//
// For each direction (left, right) both operands are moved one derivative
// step. If the comparison outcome would flip, the step crosses the branch
// boundary and the derivatives of that direction are zeroed on both sides.
// Float predicates are left unchanged.
func Barrier(pred opcode.Predicate, lv, rv value.Operand, cond bool, lhs, rhs deriv.Pair) (deriv.Pair, deriv.Pair) {
	if !pred.IsInt() {
		return lhs, rhs
	}
	if flips(pred, lv, rv, cond, -1, lhs.Neg, rhs.Neg) {
		lhs.Neg, rhs.Neg = 0, 0
	}
	if flips(pred, lv, rv, cond, +1, lhs.Pos, rhs.Pos) {
		lhs.Pos, rhs.Pos = 0, 0
	}
	return lhs, rhs
}

func flips(pred opcode.Predicate, lv, rv value.Operand, cond bool, dir int, dl, dr float64) bool {
	ls, ok1 := lv.Nudge(dir, dl)
	rs, ok2 := rv.Nudge(dir, dr)
	if !ok1 || !ok2 {
		return false
	}
	got, ok := pred.EvalInt(ls.Unsigned(), rs.Unsigned(), ls.Signed(), rs.Signed())
	return ok && got != cond
}
