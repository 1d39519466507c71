package optimizer

import (
	"math/bits"

	"github.com/fraylang/fcc/pkg/ir"
)

// Instcombine performs instruction combination: constant folding, strength
// reduction and the other local rewrites that merge or simplify single
// instructions. One top-down sweep per call; the driver re-runs the pass
// while it reports change.
//
// Contract: uses are removed *before* operand storage is overwritten.
// ToImmediate and ToBranch uphold this internally.
func Instcombine(f *ir.Function) bool {
	changed := false
	for _, b := range f.Blocks {
		insts := append([]*ir.Inst(nil), b.Insts...)
		for _, i := range insts {
			if i.Parent() == nil {
				continue // removed earlier in this sweep
			}
			switch i.Kind {
			case ir.Add:
				if reduceBinary(i, func(a, b uint64) uint64 { return a + b }) {
					changed = true
				} else if i.LHS.IsImm(0) {
					replaceWith(i, i.RHS)
					changed = true
				} else if i.RHS.IsImm(0) {
					replaceWith(i, i.LHS)
					changed = true
				}

			case ir.Sub:
				if reduceBinary(i, func(a, b uint64) uint64 { return a - b }) {
					changed = true
				} else if i.RHS.IsImm(0) {
					replaceWith(i, i.LHS)
					changed = true
				}

			case ir.Mul:
				if reduceBinary(i, func(a, b uint64) uint64 { return a * b }) {
					changed = true
				} else if i.LHS.IsImm(0) || i.RHS.IsImm(0) {
					i.ToImmediate(0)
					changed = true
				} else if i.LHS.IsImm(1) {
					replaceWith(i, i.RHS)
					changed = true
				} else if i.RHS.IsImm(1) {
					replaceWith(i, i.LHS)
					changed = true
				}

			case ir.Div:
				if i.RHS.Kind == ir.Immediate {
					divisor := i.RHS.Imm
					switch {
					case divisor == 0:
						// Never fold division by zero; leave the
						// instruction alone so the back end can trap.
					case i.LHS.Kind == ir.Immediate:
						lhs := i.LHS.Imm
						i.ToImmediate(lhs / divisor)
						changed = true
					case divisor == 1:
						replaceWith(i, i.LHS)
						changed = true
					case powerOfTwo(divisor):
						// Strength-reduce to an arithmetic shift right.
						shift := ir.NewImm(i.RHS.Type, uint64(bits.TrailingZeros64(divisor)))
						b.InsertBefore(shift, i)
						i.ReplaceOperand(i.RHS, shift)
						i.Kind = ir.Sar
						changed = true
					}
				}

			case ir.Mod:
				if i.RHS.Kind == ir.Immediate && i.RHS.Imm == 0 {
					break
				}
				if reduceBinary(i, func(a, b uint64) uint64 { return a % b }) {
					changed = true
				}

			case ir.Shl:
				if reduceBinary(i, func(a, b uint64) uint64 { return a << b }) {
					changed = true
				}
			case ir.Shr:
				if reduceBinary(i, func(a, b uint64) uint64 { return a >> b }) {
					changed = true
				}
			case ir.Sar:
				if reduceBinary(i, func(a, b uint64) uint64 { return uint64(int64(a) >> b) }) {
					changed = true
				}
			case ir.And:
				if reduceBinary(i, func(a, b uint64) uint64 { return a & b }) {
					changed = true
				}
			case ir.Or:
				if reduceBinary(i, func(a, b uint64) uint64 { return a | b }) {
					changed = true
				}
			case ir.Xor:
				if reduceBinary(i, func(a, b uint64) uint64 { return a ^ b }) {
					changed = true
				}

			case ir.Not:
				if i.Operand.Kind == ir.Immediate {
					v := i.Operand.Imm
					i.ToImmediate(^v)
					changed = true
				}

			case ir.CondBranch:
				// A conditional branch on a constant is unconditional.
				if i.Cond.Kind == ir.Immediate {
					if i.Cond.Imm != 0 {
						i.ToBranch(i.Then)
					} else {
						i.ToBranch(i.Else)
					}
					changed = true
				}

			case ir.Phi:
				// A phi with a single incoming pair is that value.
				if len(i.Incoming) == 1 {
					v := i.Incoming[0].Value
					i.ReplaceUsesWith(v)
					i.Remove()
					changed = true
				}

			case ir.Call:
				// A call through a constant function reference, possibly
				// behind a bitcast, is a direct call.
				if !i.Indirect {
					break
				}
				callee := i.CalleeVal
				switch callee.Kind {
				case ir.FuncRef:
					i.Callee = callee.Func
					i.Indirect = false
					i.RemoveUseOf(callee)
					i.CalleeVal = nil
					changed = true
				case ir.Bitcast:
					if callee.Operand.Kind == ir.FuncRef {
						i.Callee = callee.Operand.Func
						i.Indirect = false
						i.RemoveUseOf(callee)
						i.CalleeVal = nil
						changed = true
					}
				}
			}
		}
	}
	return changed
}

// reduceBinary folds a binary instruction whose operands are both integer
// constants into an immediate
func reduceBinary(i *ir.Inst, op func(a, b uint64) uint64) bool {
	if i.LHS.Kind != ir.Immediate || i.RHS.Kind != ir.Immediate {
		return false
	}
	lhs, rhs := i.LHS.Imm, i.RHS.Imm
	i.ToImmediate(op(lhs, rhs))
	return true
}

// replaceWith forwards all uses of i to v and removes i
func replaceWith(i, v *ir.Inst) {
	i.ReplaceUsesWith(v)
	i.Remove()
}

func powerOfTwo(v uint64) bool {
	return v > 0 && v&(v-1) == 0
}
