package lower

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/logger"
	"github.com/fraylang/fcc/pkg/mir"
	"github.com/fraylang/fcc/pkg/target"
)

// Lower translates the module into MIR. The ABI rewrite runs first so the
// opcode mapping only sees register-sized values.
func Lower(m *ir.Module, t target.Target) []*mir.Function {
	LowerABI(m, t)
	logger.LogPhase("lowering")

	var funcs []*mir.Function
	for _, f := range m.Functions {
		if f.Extern || len(f.Blocks) == 0 {
			continue
		}
		funcs = append(funcs, LowerFunction(f))
	}
	return funcs
}

// lowering carries the per-function state of the IR to MIR translation
type lowering struct {
	fn   *ir.Function
	mf   *mir.Function
	vreg map[*ir.Inst]uint32
	bid  map[*ir.Block]uint32

	// phiCopies maps a predecessor block to the copies that resolve the
	// phis of its successors: the copies run along the edge, placed
	// before the predecessor's terminator.
	phiCopies map[*ir.Block][]mir.Inst
}

// LowerFunction lowers one IR function into flat MIR.
//
// Virtual register assignment walks every value: the function itself,
// each block, and each non-void instruction get a fresh id; parameters get
// ids as operand handles. The opcode mapping then emits one or more machine
// instructions per IR instruction, with phis resolved into copies placed
// along predecessor edges.
func LowerFunction(f *ir.Function) *mir.Function {
	l := &lowering{
		fn:        f,
		mf:        mir.NewFunction(f.Name),
		vreg:      make(map[*ir.Inst]uint32),
		bid:       make(map[*ir.Block]uint32),
		phiCopies: make(map[*ir.Block][]mir.Inst),
	}

	// Virtual register assignment.
	l.mf.AllocVReg() // the function value itself
	for _, p := range f.Params {
		id := l.mf.AllocVReg()
		l.vreg[p] = id
		l.mf.Params = append(l.mf.Params, mir.Param{VReg: id, Size: regSize(p.Type)})
	}
	for _, b := range f.Blocks {
		l.bid[b] = l.mf.AllocVReg()
		for _, i := range b.Insts {
			if !i.Type.IsVoid() {
				l.vreg[i] = l.mf.AllocVReg()
			}
		}
	}

	// Resolve phis into edge copies before emitting any block.
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			if i.Kind != ir.Phi {
				continue
			}
			for _, inc := range i.Incoming {
				cp := mir.Inst{
					Opcode:   mir.OpCopy,
					Operands: []mir.Operand{l.operand(inc.Value)},
					Def:      l.vreg[i],
					DefSize:  regSize(i.Type),
				}
				l.phiCopies[inc.Pred] = append(l.phiCopies[inc.Pred], cp)
			}
		}
	}

	for _, b := range f.Blocks {
		l.lowerBlock(b)
	}

	logger.LogCodeGen("mir", f.Name, countInsts(l.mf))
	return l.mf
}

func countInsts(mf *mir.Function) int {
	n := 0
	for _, b := range mf.Blocks {
		n += len(b.Insts)
	}
	return n
}

// regSize returns the register width in bits used for values of type t
func regSize(t *ir.Type) int {
	bits := t.Bits()
	switch {
	case bits == 0:
		return 64
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	case bits <= 32:
		return 32
	default:
		return 64
	}
}

// operand converts an IR value reference into a MIR operand
func (l *lowering) operand(v *ir.Inst) mir.Operand {
	id, ok := l.vreg[v]
	if !ok {
		diag.ICEf("value %s has no virtual register", v.Kind)
	}
	return mir.Reg(id, regSize(v.Type))
}

func (l *lowering) lowerBlock(b *ir.Block) {
	mb := l.mf.NewBlock(b.Name, l.bid[b])

	emit := func(op mir.Opcode, def *ir.Inst, operands ...mir.Operand) {
		i := mir.Inst{Opcode: op, Operands: operands}
		if def != nil && !def.Type.IsVoid() {
			i.Def = l.vreg[def]
			i.DefSize = regSize(def.Type)
		}
		mb.Insts = append(mb.Insts, i)
	}
	flushEdgeCopies := func() {
		mb.Insts = append(mb.Insts, l.phiCopies[b]...)
	}

	for _, i := range b.Insts {
		switch i.Kind {
		case ir.Immediate:
			emit(mir.OpImmediate, i, mir.Imm(i.Imm))

		case ir.GlobalRef:
			emit(mir.OpGlobalAddr, i, mir.GlobalRef(i.Global.Name))

		case ir.FuncRef:
			emit(mir.OpFuncAddr, i, mir.FuncRef(i.Func.Name))

		case ir.Parameter:
			// Parameters are materialised by instruction selection.

		case ir.Copy:
			emit(mir.OpCopy, i, l.operand(i.Operand))

		case ir.Alloca:
			slot := l.mf.AddLocal(i.Allocated.Bytes())
			emit(mir.OpAlloca, i, mir.LocalRef(slot))

		case ir.Load:
			emit(mir.OpLoad, i, l.operand(i.Operand))

		case ir.Store:
			emit(mir.OpStore, nil, l.operand(i.Value), l.operand(i.Addr))

		case ir.GEP:
			// addr = base + index * sizeof(elem)
			tmp := l.mf.AllocVReg()
			mb.Insts = append(mb.Insts, mir.Inst{
				Opcode:   mir.OpMul,
				Operands: []mir.Operand{l.operand(i.Index), mir.Imm(uint64(i.Allocated.Bytes()))},
				Def:      tmp,
				DefSize:  64,
			})
			emit(mir.OpAdd, i, l.operand(i.Addr), mir.Reg(tmp, 64))

		case ir.Call:
			op := mir.OpCall
			if i.TailCall {
				op = mir.OpTailCall
			}
			operands := make([]mir.Operand, 0, len(i.Args)+1)
			if i.Indirect {
				operands = append(operands, l.operand(i.CalleeVal))
			} else {
				operands = append(operands, mir.FuncRef(i.Callee.Name))
			}
			for _, a := range i.Args {
				operands = append(operands, l.operand(a))
			}
			emit(op, i, operands...)

		case ir.Intrinsic:
			switch i.Intr {
			case ir.MemCopy:
				emit(mir.OpMemCopy, nil, l.operand(i.Args[0]), l.operand(i.Args[1]), l.operand(i.Args[2]))
			default:
				diag.ICEf("unknown intrinsic in lowering")
			}

		case ir.Phi:
			// Already resolved into edge copies.

		case ir.Branch:
			flushEdgeCopies()
			emit(mir.OpJump, nil, mir.BlockRef(l.bid[i.Target]))

		case ir.CondBranch:
			flushEdgeCopies()
			emit(mir.OpCondJump, nil, l.operand(i.Cond), mir.BlockRef(l.bid[i.Then]), mir.BlockRef(l.bid[i.Else]))

		case ir.Return:
			flushEdgeCopies()
			if i.Operand != nil {
				emit(mir.OpReturn, nil, l.operand(i.Operand))
			} else {
				emit(mir.OpReturn, nil)
			}

		case ir.Unreachable:
			flushEdgeCopies()
			emit(mir.OpUnreachable, nil)

		default:
			if i.Kind.IsUnary() {
				emit(unaryOpcode(i.Kind), i, l.operand(i.Operand))
			} else if i.Kind.IsBinary() {
				emit(binaryOpcode(i.Kind), i, l.operand(i.LHS), l.operand(i.RHS))
			} else {
				diag.ICEf("unhandled instruction kind %s in lowering", i.Kind)
			}
		}
	}
}

func unaryOpcode(k ir.Kind) mir.Opcode {
	switch k {
	case ir.Not:
		return mir.OpNot
	case ir.Neg:
		return mir.OpNeg
	case ir.ZExt:
		return mir.OpZExt
	case ir.SExt:
		return mir.OpSExt
	case ir.Trunc:
		return mir.OpTrunc
	case ir.Bitcast:
		return mir.OpBitcast
	}
	diag.ICEf("not a unary kind: %s", k)
	return mir.OpNone
}

func binaryOpcode(k ir.Kind) mir.Opcode {
	switch k {
	case ir.Add:
		return mir.OpAdd
	case ir.Sub:
		return mir.OpSub
	case ir.Mul:
		return mir.OpMul
	case ir.Div:
		return mir.OpDiv
	case ir.Mod:
		return mir.OpMod
	case ir.Shl:
		return mir.OpShl
	case ir.Shr:
		return mir.OpShr
	case ir.Sar:
		return mir.OpSar
	case ir.And:
		return mir.OpAnd
	case ir.Or:
		return mir.OpOr
	case ir.Xor:
		return mir.OpXor
	case ir.Eq:
		return mir.OpEq
	case ir.Ne:
		return mir.OpNe
	case ir.SLt:
		return mir.OpSLt
	case ir.SLe:
		return mir.OpSLe
	case ir.SGt:
		return mir.OpSGt
	case ir.SGe:
		return mir.OpSGe
	case ir.ULt:
		return mir.OpULt
	case ir.ULe:
		return mir.OpULe
	case ir.UGt:
		return mir.OpUGt
	case ir.UGe:
		return mir.OpUGe
	}
	diag.ICEf("not a binary kind: %s", k)
	return mir.OpNone
}
