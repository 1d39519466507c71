package x86_64

import (
	"fmt"
	"io"

	"github.com/fraylang/fcc/pkg/codegen/regalloc"
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/mir"
)

// EmitAssembly serialises finalised MIR as GNU AS AT&T syntax. The MIR
// must be post-register-allocation: every register operand physical,
// every local resolved against the frame.
func EmitAssembly(w io.Writer, m *ir.Module, desc regalloc.MachineDescription, funcs []*mir.Function) error {
	if len(m.Globals) > 0 {
		fmt.Fprintf(w, "\t.data\n")
		for _, g := range m.Globals {
			fmt.Fprintf(w, "\t.globl %s\n", g.Name)
			fmt.Fprintf(w, "%s:\n", g.Name)
			if g.Init != nil && g.Init.Kind == ir.Immediate {
				fmt.Fprintf(w, "\t.quad %d\n", int64(g.Init.Imm))
			} else if g.Init != nil && g.Init.Kind == ir.FuncRef {
				fmt.Fprintf(w, "\t.quad %s\n", g.Init.Func.Name)
			} else {
				fmt.Fprintf(w, "\t.zero %d\n", g.Type.Bytes())
			}
		}
	}

	fmt.Fprintf(w, "\t.text\n")
	for _, f := range funcs {
		e := &asmEmitter{w: w, f: f}
		if err := e.emitFunction(); err != nil {
			return err
		}
	}
	return nil
}

type asmEmitter struct {
	w io.Writer
	f *mir.Function

	frameSize int
	offsets   []int // frame slot index -> negative rbp offset
}

func (e *asmEmitter) emitFunction() error {
	// Slot offsets grow downward from rbp; the frame is 16-byte aligned
	// as the System V ABI requires.
	off := 0
	e.offsets = make([]int, len(e.f.Locals))
	for n, l := range e.f.Locals {
		size := l.Size
		if size < 8 {
			size = 8
		}
		off += size
		e.offsets[n] = -off
	}
	e.frameSize = (off + 15) &^ 15

	fmt.Fprintf(e.w, "\t.globl %s\n", e.f.Name)
	fmt.Fprintf(e.w, "%s:\n", e.f.Name)
	fmt.Fprintf(e.w, "\tpushq %%rbp\n")
	fmt.Fprintf(e.w, "\tmovq %%rsp, %%rbp\n")
	if e.frameSize > 0 {
		fmt.Fprintf(e.w, "\tsubq $%d, %%rsp\n", e.frameSize)
	}

	for _, b := range e.f.Blocks {
		fmt.Fprintf(e.w, "%s:\n", e.blockLabel(b.ID))
		for _, i := range b.Insts {
			if err := e.emitInst(i); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(e.w, "\n")
	return nil
}

func (e *asmEmitter) blockLabel(id uint32) string {
	return fmt.Sprintf(".L%s_%d", e.f.Name, id)
}

func (e *asmEmitter) epilogue() {
	fmt.Fprintf(e.w, "\tmovq %%rbp, %%rsp\n")
	fmt.Fprintf(e.w, "\tpopq %%rbp\n")
}

func sizeSuffix(size int) string {
	switch size {
	case 8:
		return "b"
	case 16:
		return "w"
	case 0, 64:
		return "q"
	case 32:
		return "l"
	}
	diag.ICEf("invalid operand size %d", size)
	return ""
}

func (e *asmEmitter) operand(o mir.Operand, size int) string {
	switch o.Kind {
	case mir.KindRegister:
		s := o.Size
		if s == 0 {
			s = size
		}
		return "%" + RegName(o.Reg, s)
	case mir.KindImmediate:
		return fmt.Sprintf("$%d", int64(o.Imm))
	case mir.KindLocal:
		return fmt.Sprintf("%d(%%rbp)", e.offsets[o.Local])
	case mir.KindGlobal:
		return fmt.Sprintf("%s(%%rip)", o.Global)
	case mir.KindBlock:
		return e.blockLabel(o.Block)
	case mir.KindFunction:
		return o.Func
	}
	return "?"
}

func (e *asmEmitter) def(i mir.Inst) string {
	return "%" + RegName(i.Def, i.DefSize)
}

func (e *asmEmitter) emitInst(i mir.Inst) error {
	w := e.w
	switch i.Opcode {
	case OpRet:
		e.epilogue()
		fmt.Fprintf(w, "\tret\n")

	case OpJmp:
		target := i.Operands[0]
		if target.Kind == mir.KindFunction {
			// A tail call: tear the frame down, then jump.
			e.epilogue()
			fmt.Fprintf(w, "\tjmp %s\n", target.Func)
		} else {
			fmt.Fprintf(w, "\tjmp %s\n", e.operand(target, 64))
		}

	case OpJz, OpJe, OpJne, OpJl, OpJle, OpJg, OpJge, OpJb, OpJbe, OpJa, OpJae:
		fmt.Fprintf(w, "\t%s %s\n", opcodeNames[i.Opcode], e.operand(i.Operands[0], 64))

	case OpCall:
		t := i.Operands[0]
		if t.Kind == mir.KindFunction {
			fmt.Fprintf(w, "\tcall %s\n", t.Func)
		} else {
			fmt.Fprintf(w, "\tcall *%s\n", e.operand(t, 64))
		}

	case OpMov:
		src := i.Operands[0]
		size := i.DefSize
		if i.Def == 0 {
			// Store to a frame slot: mov reg, local.
			dst := src
			val := i.Operands[1]
			fmt.Fprintf(w, "\tmov%s %s, %s\n", sizeSuffix(val.Size), e.operand(val, val.Size), e.operand(dst, val.Size))
			break
		}
		if src.Kind == mir.KindImmediate && int64(src.Imm) != int64(int32(src.Imm)) {
			fmt.Fprintf(w, "\tmovabsq %s, %s\n", e.operand(src, 64), "%"+RegName(i.Def, 64))
			break
		}
		fmt.Fprintf(w, "\tmov%s %s, %s\n", sizeSuffix(size), e.operand(src, size), e.def(i))

	case OpMovDerefSrc:
		fmt.Fprintf(w, "\tmov%s (%s), %s\n", sizeSuffix(i.DefSize), e.operand(i.Operands[0], 64), e.def(i))

	case OpMovDerefDst:
		val := i.Operands[0]
		size := val.Size
		if val.Kind == mir.KindImmediate {
			size = 64
		}
		fmt.Fprintf(w, "\tmov%s %s, (%s)\n", sizeSuffix(size), e.operand(val, size), e.operand(i.Operands[1], 64))

	case OpMovsx, OpMovzx:
		src := i.Operands[0]
		if i.Opcode == OpMovzx && src.Size == 32 {
			// Writing the 32-bit register zero-extends on its own.
			fmt.Fprintf(w, "\tmovl %s, %s\n", e.operand(src, 32), "%"+RegName(i.Def, 32))
			break
		}
		mnemonic := "movs"
		if i.Opcode == OpMovzx {
			mnemonic = "movz"
		}
		fmt.Fprintf(w, "\t%s%s%s %s, %s\n", mnemonic, sizeSuffix(src.Size), sizeSuffix(i.DefSize), e.operand(src, src.Size), e.def(i))

	case OpLea:
		src := i.Operands[0]
		loc := e.operand(src, 64)
		if src.Kind == mir.KindFunction {
			loc = src.Func + "(%rip)"
		}
		fmt.Fprintf(w, "\tleaq %s, %s\n", loc, "%"+RegName(i.Def, 64))

	case OpAdd, OpSub, OpIMul, OpAnd, OpOr, OpXor:
		fmt.Fprintf(w, "\t%s%s %s, %s\n", opcodeNames[i.Opcode], sizeSuffix(i.DefSize), e.operand(i.Operands[0], i.DefSize), e.def(i))

	case OpShl, OpShr, OpSar:
		fmt.Fprintf(w, "\t%s%s %s, %s\n", opcodeNames[i.Opcode], sizeSuffix(i.DefSize), e.operand(i.Operands[0], 8), e.def(i))

	case OpNot, OpNeg:
		fmt.Fprintf(w, "\t%s%s %s\n", opcodeNames[i.Opcode], sizeSuffix(i.DefSize), e.def(i))

	case OpCqo:
		fmt.Fprintf(w, "\tcqto\n")

	case OpIDiv:
		op := i.Operands[0]
		size := 64
		if op.Kind == mir.KindRegister && op.Size != 0 {
			size = op.Size
		}
		fmt.Fprintf(w, "\tidiv%s %s\n", sizeSuffix(size), e.operand(op, size))

	case OpPush:
		fmt.Fprintf(w, "\tpushq %s\n", e.operand(i.Operands[0], 64))

	case OpPop:
		fmt.Fprintf(w, "\tpopq %s\n", e.operand(i.Operands[0], 64))

	case OpTest:
		a, b := i.Operands[0], i.Operands[1]
		size := a.Size
		if size == 0 {
			size = 64
		}
		fmt.Fprintf(w, "\ttest%s %s, %s\n", sizeSuffix(size), e.operand(a, size), e.operand(b, size))

	case OpCmp:
		a, b := i.Operands[0], i.Operands[1]
		size := a.Size
		if a.Kind == mir.KindImmediate {
			size = b.Size
		}
		if size == 0 {
			size = 64
		}
		// AT&T order: cmp rhs, lhs sets flags for lhs ? rhs.
		fmt.Fprintf(w, "\tcmp%s %s, %s\n", sizeSuffix(size), e.operand(b, size), e.operand(a, size))

	case OpSete, OpSetne, OpSetl, OpSetle, OpSetg, OpSetge, OpSetb, OpSetbe, OpSeta, OpSetae:
		fmt.Fprintf(w, "\t%s %s\n", opcodeNames[i.Opcode], "%"+RegName(i.Def, 8))

	default:
		return fmt.Errorf("assembly emitter: unhandled opcode %s", OpcodeName(i.Opcode))
	}
	return nil
}
