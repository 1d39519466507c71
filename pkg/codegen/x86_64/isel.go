package x86_64

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/logger"
	"github.com/fraylang/fcc/pkg/mir"
	"github.com/fraylang/fcc/pkg/target"
)

// SelectInstructions rewrites the generic opcodes of one MIR function into
// x86-64 opcodes in place. Two-address arithmetic is normalised as
// "def = op rhs" with the def doubling as the left input, loads and stores
// become moves through memory operands, allocas become frame-slot
// addresses, and comparison-plus-branch pairs fuse into cmp + jcc when the
// comparison's only consumer is the branch.
func SelectInstructions(f *mir.Function, t target.Target) {
	s := &selector{f: f, t: t, uses: countVRegUses(f)}
	s.run()
	logger.LogCodeGen("x86_64", f.Name, countInsts(f))
}

func countInsts(f *mir.Function) int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Insts)
	}
	return n
}

// countVRegUses counts operand references per virtual register, used to
// decide compare/branch fusion
func countVRegUses(f *mir.Function) map[uint32]int {
	uses := make(map[uint32]int)
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			for _, op := range i.Operands {
				if op.Kind == mir.KindRegister && mir.IsVirtualReg(op.Reg) {
					uses[op.Reg]++
				}
			}
		}
	}
	return uses
}

type selector struct {
	f    *mir.Function
	t    target.Target
	uses map[uint32]int
	out  []mir.Inst
}

func (s *selector) emit(i mir.Inst) { s.out = append(s.out, i) }

func (s *selector) emitOp(op mir.Opcode, def uint32, defSize int, operands ...mir.Operand) {
	s.emit(mir.Inst{Opcode: op, Def: def, DefSize: defSize, Operands: operands})
}

func (s *selector) run() {
	for bi, b := range s.f.Blocks {
		s.out = make([]mir.Inst, 0, len(b.Insts))
		if bi == 0 {
			s.materializeParams()
		}
		for n := 0; n < len(b.Insts); n++ {
			n += s.selectInst(b, n)
		}
		b.Insts = s.out
	}
}

// materializeParams moves incoming arguments out of the ABI registers
// into their parameter vregs at the function entry
func (s *selector) materializeParams() {
	argRegs := argRegisters(s.t)
	if len(s.f.Params) > len(argRegs) {
		diag.ICEf("function %s takes more than %d parameters; stack arguments are not implemented", s.f.Name, len(argRegs))
	}
	for n, p := range s.f.Params {
		s.emitOp(OpMov, p.VReg, p.Size, mir.Reg(argRegs[n], p.Size))
	}
}

// selectInst rewrites the instruction at b.Insts[n]; the return value is
// how many extra source instructions were consumed (compare fusion also
// consumes the conditional jump that follows the compare).
func (s *selector) selectInst(b *mir.Block, n int) int {
	i := b.Insts[n]
	switch i.Opcode {
	case mir.OpImmediate:
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])

	case mir.OpCopy:
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])

	case mir.OpGlobalAddr, mir.OpFuncAddr:
		s.emitOp(OpLea, i.Def, 64, i.Operands[0])

	case mir.OpAlloca:
		s.emitOp(OpLea, i.Def, 64, i.Operands[0])

	case mir.OpLoad:
		s.emitOp(OpMovDerefSrc, i.Def, i.DefSize, i.Operands[0])

	case mir.OpStore:
		s.emitOp(OpMovDerefDst, 0, 0, i.Operands[0], i.Operands[1])

	case mir.OpJump:
		s.emitOp(OpJmp, 0, 0, i.Operands[0])

	case mir.OpCondJump:
		// The general shape: test the condition byte and fall into jz.
		cond := i.Operands[0]
		s.emitOp(OpTest, 0, 0, cond, cond)
		s.emitOp(OpJz, 0, 0, i.Operands[2])
		s.emitOp(OpJmp, 0, 0, i.Operands[1])

	case mir.OpReturn:
		if len(i.Operands) == 1 {
			s.emitOp(OpMov, RegReturn, i.Operands[0].Size, i.Operands[0])
		}
		s.emitOp(OpRet, 0, 0)

	case mir.OpUnreachable:
		// Nothing: control never reaches here.

	case mir.OpCall, mir.OpTailCall:
		s.selectCall(i)

	case mir.OpMemCopy:
		s.selectMemCopy(i)

	case mir.OpAdd, mir.OpSub, mir.OpMul, mir.OpAnd, mir.OpOr, mir.OpXor:
		op := map[mir.Opcode]mir.Opcode{
			mir.OpAdd: OpAdd, mir.OpSub: OpSub, mir.OpMul: OpIMul,
			mir.OpAnd: OpAnd, mir.OpOr: OpOr, mir.OpXor: OpXor,
		}[i.Opcode]
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])
		s.emitOp(op, i.Def, i.DefSize, i.Operands[1])

	case mir.OpDiv, mir.OpMod:
		// Dividend in rax, sign-extend into rdx, quotient in rax,
		// remainder in rdx.
		s.emitOp(OpMov, RAX, 64, i.Operands[0])
		s.emitOp(OpCqo, 0, 0)
		s.emitOp(OpIDiv, 0, 0, i.Operands[1])
		src := RAX
		if i.Opcode == mir.OpMod {
			src = RDX
		}
		s.emitOp(OpMov, i.Def, i.DefSize, mir.Reg(src, i.DefSize))

	case mir.OpShl, mir.OpShr, mir.OpSar:
		op := map[mir.Opcode]mir.Opcode{
			mir.OpShl: OpShl, mir.OpShr: OpShr, mir.OpSar: OpSar,
		}[i.Opcode]
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])
		if i.Operands[1].Kind == mir.KindImmediate {
			s.emitOp(op, i.Def, i.DefSize, i.Operands[1])
		} else {
			s.emitOp(OpMov, RCX, i.Operands[1].Size, i.Operands[1])
			s.emitOp(op, i.Def, i.DefSize, mir.Reg(RCX, 8))
		}

	case mir.OpNot:
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])
		s.emitOp(OpNot, i.Def, i.DefSize)

	case mir.OpNeg:
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])
		s.emitOp(OpNeg, i.Def, i.DefSize)

	case mir.OpSExt:
		s.emitOp(OpMovsx, i.Def, i.DefSize, i.Operands[0])

	case mir.OpZExt:
		s.emitOp(OpMovzx, i.Def, i.DefSize, i.Operands[0])

	case mir.OpTrunc, mir.OpBitcast:
		s.emitOp(OpMov, i.Def, i.DefSize, i.Operands[0])

	default:
		if i.Opcode.IsCompare() {
			return s.selectCompare(b, n)
		}
		diag.ICEf("instruction selection: unhandled opcode %s", OpcodeName(i.Opcode))
	}
	return 0
}

// selectCompare lowers a comparison. When its single consumer is the
// conditional jump that immediately follows, the pair fuses into
// cmp + jcc; otherwise the result materialises through setcc.
func (s *selector) selectCompare(b *mir.Block, n int) int {
	i := b.Insts[n]
	if next := n + 1; next < len(b.Insts) &&
		b.Insts[next].Opcode == mir.OpCondJump &&
		b.Insts[next].Operands[0].Kind == mir.KindRegister &&
		b.Insts[next].Operands[0].Reg == i.Def &&
		s.uses[i.Def] == 1 {
		jump := b.Insts[next]
		s.emitOp(OpCmp, 0, 0, i.Operands[0], i.Operands[1])
		s.emitOp(jccFor(i.Opcode), 0, 0, jump.Operands[1])
		s.emitOp(OpJmp, 0, 0, jump.Operands[2])
		return 1
	}

	s.emitOp(OpCmp, 0, 0, i.Operands[0], i.Operands[1])
	s.emitOp(setccFor(i.Opcode), i.Def, 8)
	if i.DefSize > 8 {
		s.emitOp(OpMovzx, i.Def, i.DefSize, mir.Reg(i.Def, 8))
	}
	return 0
}

func (s *selector) selectCall(i mir.Inst) {
	argRegs := argRegisters(s.t)
	args := i.Operands[1:]
	if len(args) > len(argRegs) {
		diag.ICEf("call with more than %d arguments; stack arguments are not implemented", len(argRegs))
	}
	for n, a := range args {
		size := 64
		if a.Kind == mir.KindRegister {
			size = a.Size
		}
		s.emitOp(OpMov, argRegs[n], size, a)
	}
	if i.Opcode == mir.OpTailCall {
		// The frame is torn down by the emitter before the jump.
		s.emitOp(OpJmp, 0, 0, i.Operands[0])
		return
	}
	s.emitOp(OpCall, 0, 0, i.Operands[0])
	if i.Def != 0 {
		s.emitOp(OpMov, i.Def, i.DefSize, mir.Reg(RAX, i.DefSize))
	}
}

func (s *selector) selectMemCopy(i mir.Inst) {
	// Lowered as a libc memcpy call.
	argRegs := argRegisters(s.t)
	for n, a := range i.Operands[:3] {
		s.emitOp(OpMov, argRegs[n], 64, a)
	}
	s.emitOp(OpCall, 0, 0, mir.FuncRef("memcpy"))
}

func jccFor(op mir.Opcode) mir.Opcode {
	switch op {
	case mir.OpEq:
		return OpJe
	case mir.OpNe:
		return OpJne
	case mir.OpSLt:
		return OpJl
	case mir.OpSLe:
		return OpJle
	case mir.OpSGt:
		return OpJg
	case mir.OpSGe:
		return OpJge
	case mir.OpULt:
		return OpJb
	case mir.OpULe:
		return OpJbe
	case mir.OpUGt:
		return OpJa
	case mir.OpUGe:
		return OpJae
	}
	diag.ICEf("not a comparison opcode")
	return OpPoison
}

func setccFor(op mir.Opcode) mir.Opcode {
	switch op {
	case mir.OpEq:
		return OpSete
	case mir.OpNe:
		return OpSetne
	case mir.OpSLt:
		return OpSetl
	case mir.OpSLe:
		return OpSetle
	case mir.OpSGt:
		return OpSetg
	case mir.OpSGe:
		return OpSetge
	case mir.OpULt:
		return OpSetb
	case mir.OpULe:
		return OpSetbe
	case mir.OpUGt:
		return OpSeta
	case mir.OpUGe:
		return OpSetae
	}
	diag.ICEf("not a comparison opcode")
	return OpPoison
}
