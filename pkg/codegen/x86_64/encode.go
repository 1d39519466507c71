package x86_64

import (
	"encoding/binary"
	"fmt"

	"github.com/fraylang/fcc/pkg/codegen/regalloc"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/mir"
	"github.com/fraylang/fcc/pkg/object"
)

// Machine encoding numbers of the physical registers
var encReg = map[uint32]byte{
	RAX: 0, RCX: 1, RDX: 2, RBX: 3, RSP: 4, RBP: 5, RSI: 6, RDI: 7,
	R8: 8, R9: 9, R10: 10, R11: 11, R12: 12, R13: 13, R14: 14, R15: 15,
}

// EmitObject encodes finalised MIR into a generic relocatable object:
// function bodies into .text with PC-relative call relocations, globals
// into .data.
func EmitObject(m *ir.Module, desc regalloc.MachineDescription, funcs []*mir.Function) (*object.GenericObject, error) {
	obj := &object.GenericObject{}
	text := obj.Section(".text", object.Text)

	for _, g := range m.Globals {
		data := obj.Section(".data", object.Data)
		obj.AddSymbol(object.Symbol{Name: g.Name, Section: ".data", Offset: uint64(len(data.Data)), Global: true})
		buf := make([]byte, 8)
		if g.Init != nil && g.Init.Kind == ir.Immediate {
			binary.LittleEndian.PutUint64(buf, g.Init.Imm)
		} else if g.Init != nil && g.Init.Kind == ir.FuncRef {
			obj.AddRelocation(object.Relocation{
				Section: ".data", Offset: uint64(len(data.Data)),
				Symbol: g.Init.Func.Name, Kind: object.RelocAbs64,
			})
		} else if n := g.Type.Bytes(); n > 8 {
			buf = make([]byte, n)
		}
		data.Data = append(data.Data, buf...)
	}

	for _, f := range funcs {
		e := &encoder{obj: obj, text: text, f: f}
		if err := e.encodeFunction(); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// encoder assembles one function into the text section
type encoder struct {
	obj  *object.GenericObject
	text *object.Section
	f    *mir.Function

	frameSize int
	offsets   []int

	blockOff map[uint32]int // block id -> offset in function body
	fixups   []fixup        // intra-function rel32 patches
	buf      []byte
}

type fixup struct {
	at    int    // offset of the rel32 field in buf
	block uint32 // target block id
}

func (e *encoder) encodeFunction() error {
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
	e.blockOff = make(map[uint32]int)

	e.obj.AddSymbol(object.Symbol{
		Name: e.f.Name, Section: ".text",
		Offset: uint64(len(e.text.Data)), Global: true,
	})

	// Prologue.
	e.emit(0x55)             // push rbp
	e.emit(0x48, 0x89, 0xe5) // mov rsp, rbp
	if e.frameSize > 0 {
		e.emit(0x48, 0x81, 0xec) // sub imm32, rsp
		e.imm32(int32(e.frameSize))
	}

	for _, b := range e.f.Blocks {
		e.blockOff[b.ID] = len(e.buf)
		for _, i := range b.Insts {
			if err := e.encodeInst(i); err != nil {
				return err
			}
		}
	}

	// Patch intra-function jumps.
	for _, fx := range e.fixups {
		target, ok := e.blockOff[fx.block]
		if !ok {
			return fmt.Errorf("encoding %s: jump to unknown block %d", e.f.Name, fx.block)
		}
		binary.LittleEndian.PutUint32(e.buf[fx.at:], uint32(int32(target-(fx.at+4))))
	}

	e.text.Data = append(e.text.Data, e.buf...)
	return nil
}

func (e *encoder) emit(bs ...byte) { e.buf = append(e.buf, bs...) }

func (e *encoder) imm32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.emit(b[:]...)
}

func (e *encoder) imm64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.emit(b[:]...)
}

// rex emits a REX prefix. w selects 64-bit operand size; r and b extend
// the reg and r/m fields.
func (e *encoder) rex(w bool, reg, rm byte) {
	p := byte(0x40)
	if w {
		p |= 8
	}
	if reg >= 8 {
		p |= 4
	}
	if rm >= 8 {
		p |= 1
	}
	e.emit(p)
}

func (e *encoder) modrmReg(reg, rm byte) {
	e.emit(0xc0 | (reg&7)<<3 | rm&7)
}

// modrmRBP addresses [rbp+disp32]; rm is fixed to rbp
func (e *encoder) modrmRBP(reg byte, disp int32) {
	e.emit(0x80 | (reg&7)<<3 | 5)
	e.imm32(disp)
}

// modrmDeref addresses [base] with no displacement
func (e *encoder) modrmDeref(reg, base byte) {
	if base&7 == 5 { // rbp/r13 need an explicit disp8 of zero
		e.emit(0x40|(reg&7)<<3|base&7, 0x00)
		return
	}
	if base&7 == 4 { // rsp/r12 need a SIB byte
		e.emit(0x00|(reg&7)<<3|4, 0x24)
		return
	}
	e.emit(0x00 | (reg&7)<<3 | base&7)
}

func (e *encoder) reg(op mir.Operand) byte { return encReg[op.Reg] }

// binaryALU maps two-address arithmetic to its r/m64,r64 opcode
var binaryALU = map[mir.Opcode]byte{
	OpAdd: 0x01,
	OpSub: 0x29,
	OpAnd: 0x21,
	OpOr:  0x09,
	OpXor: 0x31,
}

// extALU maps immediate-form arithmetic to its /digit in opcode 81
var extALU = map[mir.Opcode]byte{
	OpAdd: 0,
	OpSub: 5,
	OpAnd: 4,
	OpOr:  1,
	OpXor: 6,
}

var ccCodes = map[mir.Opcode]byte{
	OpJe: 0x4, OpJne: 0x5, OpJl: 0xc, OpJle: 0xe, OpJg: 0xf, OpJge: 0xd,
	OpJb: 0x2, OpJbe: 0x6, OpJa: 0x7, OpJae: 0x3, OpJz: 0x4,
	OpSete: 0x4, OpSetne: 0x5, OpSetl: 0xc, OpSetle: 0xe, OpSetg: 0xf,
	OpSetge: 0xd, OpSetb: 0x2, OpSetbe: 0x6, OpSeta: 0x7, OpSetae: 0x3,
}

func (e *encoder) epilogue() {
	e.emit(0x48, 0x89, 0xec) // mov rbp, rsp
	e.emit(0x5d)             // pop rbp
}

func (e *encoder) jumpTo(block uint32) {
	e.fixups = append(e.fixups, fixup{at: len(e.buf), block: block})
	e.imm32(0)
}

// callReloc records a PC-relative relocation for a named symbol at the
// next four bytes
func (e *encoder) callReloc(symbol string) {
	e.obj.AddRelocation(object.Relocation{
		Section: ".text",
		Offset:  uint64(len(e.text.Data) + len(e.buf)),
		Symbol:  symbol,
		Kind:    object.RelocPC32,
		Addend:  -4,
	})
	e.imm32(0)
}

func (e *encoder) encodeInst(i mir.Inst) error {
	switch i.Opcode {
	case OpRet:
		e.epilogue()
		e.emit(0xc3)

	case OpJmp:
		t := i.Operands[0]
		if t.Kind == mir.KindFunction {
			e.epilogue()
			e.emit(0xe9)
			e.callReloc(t.Func)
			break
		}
		e.emit(0xe9)
		e.jumpTo(t.Block)

	case OpJz, OpJe, OpJne, OpJl, OpJle, OpJg, OpJge, OpJb, OpJbe, OpJa, OpJae:
		e.emit(0x0f, 0x80|ccCodes[i.Opcode])
		e.jumpTo(i.Operands[0].Block)

	case OpCall:
		t := i.Operands[0]
		if t.Kind == mir.KindFunction {
			e.emit(0xe8)
			e.callReloc(t.Func)
		} else {
			r := e.reg(t)
			e.rex(false, 0, r)
			e.emit(0xff)
			e.modrmReg(2, r)
		}

	case OpMov:
		return e.encodeMov(i)

	case OpMovDerefSrc:
		src := e.reg(i.Operands[0])
		dst := encReg[i.Def]
		e.rex(true, dst, src)
		e.emit(0x8b)
		e.modrmDeref(dst, src)

	case OpMovDerefDst:
		val := i.Operands[0]
		addr := e.reg(i.Operands[1])
		if val.Kind == mir.KindImmediate {
			e.rex(true, 0, addr)
			e.emit(0xc7)
			e.modrmDeref(0, addr)
			e.imm32(int32(val.Imm))
			break
		}
		v := e.reg(val)
		e.rex(true, v, addr)
		e.emit(0x89)
		e.modrmDeref(v, addr)

	case OpMovsx, OpMovzx:
		src := i.Operands[0]
		s := e.reg(src)
		d := encReg[i.Def]
		// A 32-bit zero extension is a plain 32-bit mov, without REX.W.
		e.rex(!(i.Opcode == OpMovzx && src.Size == 32), d, s)
		switch {
		case i.Opcode == OpMovsx && src.Size == 8:
			e.emit(0x0f, 0xbe)
		case i.Opcode == OpMovsx && src.Size == 16:
			e.emit(0x0f, 0xbf)
		case i.Opcode == OpMovsx && src.Size == 32:
			e.emit(0x63)
		case i.Opcode == OpMovzx && src.Size == 8:
			e.emit(0x0f, 0xb6)
		case i.Opcode == OpMovzx && src.Size == 16:
			e.emit(0x0f, 0xb7)
		default:
			// Widening a 32-bit value zero-extends for free.
			e.emit(0x8b)
		}
		e.modrmReg(d, s)

	case OpLea:
		d := encReg[i.Def]
		src := i.Operands[0]
		switch src.Kind {
		case mir.KindLocal:
			e.rex(true, d, 0)
			e.emit(0x8d)
			e.modrmRBP(d, int32(e.offsets[src.Local]))
		case mir.KindGlobal, mir.KindFunction:
			// lea sym(%rip), reg
			e.rex(true, d, 0)
			e.emit(0x8d)
			e.emit((d&7)<<3 | 5)
			name := src.Global
			if src.Kind == mir.KindFunction {
				name = src.Func
			}
			e.callReloc(name)
		default:
			return fmt.Errorf("encode: unsupported lea operand")
		}

	case OpAdd, OpSub, OpAnd, OpOr, OpXor:
		d := encReg[i.Def]
		src := i.Operands[0]
		if src.Kind == mir.KindImmediate {
			e.rex(true, 0, d)
			e.emit(0x81)
			e.modrmReg(extALU[i.Opcode], d)
			e.imm32(int32(src.Imm))
			break
		}
		s := e.reg(src)
		e.rex(true, s, d)
		e.emit(binaryALU[i.Opcode])
		e.modrmReg(s, d)

	case OpIMul:
		d := encReg[i.Def]
		src := i.Operands[0]
		if src.Kind == mir.KindImmediate {
			e.rex(true, d, d)
			e.emit(0x69)
			e.modrmReg(d, d)
			e.imm32(int32(src.Imm))
			break
		}
		s := e.reg(src)
		e.rex(true, d, s)
		e.emit(0x0f, 0xaf)
		e.modrmReg(d, s)

	case OpShl, OpShr, OpSar:
		d := encReg[i.Def]
		digit := map[mir.Opcode]byte{OpShl: 4, OpShr: 5, OpSar: 7}[i.Opcode]
		src := i.Operands[0]
		if src.Kind == mir.KindImmediate {
			e.rex(true, 0, d)
			e.emit(0xc1)
			e.modrmReg(digit, d)
			e.emit(byte(src.Imm))
			break
		}
		// Count in cl.
		e.rex(true, 0, d)
		e.emit(0xd3)
		e.modrmReg(digit, d)

	case OpNot, OpNeg:
		d := encReg[i.Def]
		digit := byte(2)
		if i.Opcode == OpNeg {
			digit = 3
		}
		e.rex(true, 0, d)
		e.emit(0xf7)
		e.modrmReg(digit, d)

	case OpCqo:
		e.emit(0x48, 0x99)

	case OpIDiv:
		r := e.reg(i.Operands[0])
		e.rex(true, 0, r)
		e.emit(0xf7)
		e.modrmReg(7, r)

	case OpPush:
		r := e.reg(i.Operands[0])
		if r >= 8 {
			e.emit(0x41)
		}
		e.emit(0x50 + r&7)

	case OpPop:
		r := e.reg(i.Operands[0])
		if r >= 8 {
			e.emit(0x41)
		}
		e.emit(0x58 + r&7)

	case OpTest:
		a := e.reg(i.Operands[0])
		b := e.reg(i.Operands[1])
		e.rex(true, b, a)
		e.emit(0x85)
		e.modrmReg(b, a)

	case OpCmp:
		lhs := i.Operands[0]
		rhs := i.Operands[1]
		l := e.reg(lhs)
		if rhs.Kind == mir.KindImmediate {
			e.rex(true, 0, l)
			e.emit(0x81)
			e.modrmReg(7, l)
			e.imm32(int32(rhs.Imm))
			break
		}
		r := e.reg(rhs)
		e.rex(true, r, l)
		e.emit(0x39)
		e.modrmReg(r, l)

	case OpSete, OpSetne, OpSetl, OpSetle, OpSetg, OpSetge, OpSetb, OpSetbe, OpSeta, OpSetae:
		d := encReg[i.Def]
		e.rex(false, 0, d)
		e.emit(0x0f, 0x90|ccCodes[i.Opcode])
		e.modrmReg(0, d)

	default:
		return fmt.Errorf("encode: unhandled opcode %s", OpcodeName(i.Opcode))
	}
	return nil
}

// encodeMov covers register, immediate and frame-slot moves
func (e *encoder) encodeMov(i mir.Inst) error {
	if i.Def == 0 {
		// Spill store: mov reg, disp(rbp).
		slot := i.Operands[0]
		val := i.Operands[1]
		v := e.reg(val)
		e.rex(true, v, 0)
		e.emit(0x89)
		e.modrmRBP(v, int32(e.offsets[slot.Local]))
		return nil
	}

	d := encReg[i.Def]
	src := i.Operands[0]
	switch src.Kind {
	case mir.KindImmediate:
		if int64(src.Imm) == int64(int32(src.Imm)) {
			e.rex(true, 0, d)
			e.emit(0xc7)
			e.modrmReg(0, d)
			e.imm32(int32(src.Imm))
		} else {
			e.rex(true, 0, d)
			e.emit(0xb8 + d&7)
			e.imm64(src.Imm)
		}
	case mir.KindRegister:
		s := e.reg(src)
		e.rex(true, s, d)
		e.emit(0x89)
		e.modrmReg(s, d)
	case mir.KindLocal:
		// Spill reload: mov disp(rbp), reg.
		e.rex(true, d, 0)
		e.emit(0x8b)
		e.modrmRBP(d, int32(e.offsets[src.Local]))
	default:
		return fmt.Errorf("encode: unsupported mov operand")
	}
	return nil
}
