package opcode

import (
	"fmt"
	"math"
)

// Predicate is the comparison performed by an ICmp or FCmp instruction.
type Predicate uint32

// Floating point predicates (FCmp).
const (
	FCmpFalse Predicate = iota
	FCmpOEQ
	FCmpOGT
	FCmpOGE
	FCmpOLT
	FCmpOLE
	FCmpONE
	FCmpORD
	FCmpUNO
	FCmpUEQ
	FCmpUGT
	FCmpUGE
	FCmpULT
	FCmpULE
	FCmpUNE
	FCmpTrue
)

// Integer predicates (ICmp).
const (
	ICmpEQ Predicate = iota + 32
	ICmpNE
	ICmpUGT
	ICmpUGE
	ICmpULT
	ICmpULE
	ICmpSGT
	ICmpSGE
	ICmpSLT
	ICmpSLE
)

var predicateNames = map[Predicate]string{
	FCmpFalse: "false", FCmpOEQ: "oeq", FCmpOGT: "ogt", FCmpOGE: "oge",
	FCmpOLT: "olt", FCmpOLE: "ole", FCmpONE: "one", FCmpORD: "ord",
	FCmpUNO: "uno", FCmpUEQ: "ueq", FCmpUGT: "ugt", FCmpUGE: "uge",
	FCmpULT: "ult", FCmpULE: "ule", FCmpUNE: "une", FCmpTrue: "true",
	ICmpEQ: "eq", ICmpNE: "ne", ICmpUGT: "ugt", ICmpUGE: "uge",
	ICmpULT: "ult", ICmpULE: "ule", ICmpSGT: "sgt", ICmpSGE: "sge",
	ICmpSLT: "slt", ICmpSLE: "sle",
}

func (p Predicate) String() string {
	if n, ok := predicateNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Predicate(%d)", uint32(p))
}

// IsInt reports whether p is an integer comparison.
func (p Predicate) IsInt() bool {
	return p >= ICmpEQ && p <= ICmpSLE
}

// IsSigned reports whether p compares integers as signed values.
func (p Predicate) IsSigned() bool {
	return p >= ICmpSGT && p <= ICmpSLE
}

// EvalInt evaluates an integer predicate. Unsigned predicates use u1/u2,
// signed predicates use s1/s2; callers pass both interpretations of the
// same operands.
func (p Predicate) EvalInt(u1, u2 uint64, s1, s2 int64) (bool, bool) {
	switch p {
	case ICmpEQ:
		return u1 == u2, true
	case ICmpNE:
		return u1 != u2, true
	case ICmpUGT:
		return u1 > u2, true
	case ICmpUGE:
		return u1 >= u2, true
	case ICmpULT:
		return u1 < u2, true
	case ICmpULE:
		return u1 <= u2, true
	case ICmpSGT:
		return s1 > s2, true
	case ICmpSGE:
		return s1 >= s2, true
	case ICmpSLT:
		return s1 < s2, true
	case ICmpSLE:
		return s1 <= s2, true
	}
	return false, false
}

// EvalFloat evaluates a floating point predicate.
func (p Predicate) EvalFloat(a, b float64) (bool, bool) {
	unordered := math.IsNaN(a) || math.IsNaN(b)
	switch p {
	case FCmpFalse:
		return false, true
	case FCmpTrue:
		return true, true
	case FCmpORD:
		return !unordered, true
	case FCmpUNO:
		return unordered, true
	case FCmpOEQ:
		return !unordered && a == b, true
	case FCmpOGT:
		return !unordered && a > b, true
	case FCmpOGE:
		return !unordered && a >= b, true
	case FCmpOLT:
		return !unordered && a < b, true
	case FCmpOLE:
		return !unordered && a <= b, true
	case FCmpONE:
		return !unordered && a != b, true
	case FCmpUEQ:
		return unordered || a == b, true
	case FCmpUGT:
		return unordered || a > b, true
	case FCmpUGE:
		return unordered || a >= b, true
	case FCmpULT:
		return unordered || a < b, true
	case FCmpULE:
		return unordered || a <= b, true
	case FCmpUNE:
		return unordered || a != b, true
	}
	return false, false
}
