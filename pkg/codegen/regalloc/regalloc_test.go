package regalloc

import (
	"testing"

	"github.com/fraylang/fcc/pkg/mir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rPlaceholder = 99
	rA           = 1
	rB           = 2
	rC           = 3
	rD           = 4
	rE           = 5
)

const opMove = mir.ArchStart + 1
const opCall = mir.ArchStart + 2
const opRet = mir.ArchStart + 3

func desc() MachineDescription {
	return MachineDescription{
		Registers:               []uint32{rA, rB, rC, rD, rE},
		ReturnRegister:          rA,
		ReturnRegisterToReplace: rPlaceholder,
		MoveOpcode:              opMove,
		CallOpcodes:             []mir.Opcode{opCall},
	}
}

func assertAllocated(t *testing.T, f *mir.Function, d MachineDescription) {
	t.Helper()
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			assert.False(t, mir.IsVirtualReg(i.Def), "def %d is still virtual", i.Def)
			assert.NotEqual(t, uint32(rPlaceholder), i.Def)
			for _, op := range i.Operands {
				if op.Kind != mir.KindRegister {
					continue
				}
				assert.False(t, mir.IsVirtualReg(op.Reg), "operand %d is still virtual", op.Reg)
				assert.NotEqual(t, uint32(rPlaceholder), op.Reg)
			}
		}
	}
}

func TestAllocateSimple(t *testing.T) {
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	v1 := f.AllocVReg()
	v2 := f.AllocVReg()
	b.Append(mir.Inst{Opcode: opMove, Def: v1, DefSize: 64, Operands: []mir.Operand{mir.Imm(1)}})
	b.Append(mir.Inst{Opcode: opMove, Def: v2, DefSize: 64, Operands: []mir.Operand{mir.Reg(v1, 64)}})
	b.Append(mir.Inst{Opcode: opMove, Def: rPlaceholder, DefSize: 64, Operands: []mir.Operand{mir.Reg(v2, 64)}})
	b.Append(mir.Inst{Opcode: opRet})

	d := desc()
	require.NoError(t, Allocate(d, f))
	assertAllocated(t, f, d)

	// The placeholder became the return register.
	last := b.Insts[len(b.Insts)-2]
	assert.Equal(t, uint32(rA), last.Def)
}

func TestAllocateReusesExpiredRegisters(t *testing.T) {
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	// Many short-lived values in sequence fit in the register set.
	for n := 0; n < 20; n++ {
		v := f.AllocVReg()
		b.Append(mir.Inst{Opcode: opMove, Def: v, DefSize: 64, Operands: []mir.Operand{mir.Imm(uint64(n))}})
		b.Append(mir.Inst{Opcode: opMove, Def: rPlaceholder, DefSize: 64, Operands: []mir.Operand{mir.Reg(v, 64)}})
	}
	b.Append(mir.Inst{Opcode: opRet})

	d := desc()
	require.NoError(t, Allocate(d, f))
	assertAllocated(t, f, d)
	assert.Empty(t, f.Locals, "no spills needed for short ranges")
}

func TestAllocateSpillsUnderPressure(t *testing.T) {
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	// Eight simultaneously live values overflow three allocatable
	// registers (two of five are scratch).
	var regs []uint32
	for n := 0; n < 8; n++ {
		v := f.AllocVReg()
		regs = append(regs, v)
		b.Append(mir.Inst{Opcode: opMove, Def: v, DefSize: 64, Operands: []mir.Operand{mir.Imm(uint64(n))}})
	}
	for _, v := range regs {
		b.Append(mir.Inst{Opcode: opMove, Def: rPlaceholder, DefSize: 64, Operands: []mir.Operand{mir.Reg(v, 64)}})
	}
	b.Append(mir.Inst{Opcode: opRet})

	d := desc()
	require.NoError(t, Allocate(d, f))
	assertAllocated(t, f, d)
	assert.NotEmpty(t, f.Locals, "pressure must force spills")
}

func TestAllocateSpillsAcrossCalls(t *testing.T) {
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	v := f.AllocVReg()
	b.Append(mir.Inst{Opcode: opMove, Def: v, DefSize: 64, Operands: []mir.Operand{mir.Imm(7)}})
	b.Append(mir.Inst{Opcode: opCall, Operands: []mir.Operand{mir.FuncRef("g")}})
	b.Append(mir.Inst{Opcode: opMove, Def: rPlaceholder, DefSize: 64, Operands: []mir.Operand{mir.Reg(v, 64)}})
	b.Append(mir.Inst{Opcode: opRet})

	d := desc()
	require.NoError(t, Allocate(d, f))
	assertAllocated(t, f, d)

	// A value live across a call cannot sit in a volatile register.
	assert.NotEmpty(t, f.Locals)
}

func TestAllocateRespectsSizes(t *testing.T) {
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	v := f.AllocVReg()
	b.Append(mir.Inst{Opcode: opMove, Def: v, DefSize: 8, Operands: []mir.Operand{mir.Imm(1)}})
	b.Append(mir.Inst{Opcode: opMove, Def: rPlaceholder, DefSize: 8, Operands: []mir.Operand{mir.Reg(v, 8)}})
	b.Append(mir.Inst{Opcode: opRet})

	require.NoError(t, Allocate(desc(), f))
	for _, i := range b.Insts {
		for _, op := range i.Operands {
			if op.Kind == mir.KindRegister {
				assert.Equal(t, 8, op.Size, "operand widths survive allocation")
			}
		}
	}
}

func TestAllocateRejectsTinyRegisterSet(t *testing.T) {
	f := mir.NewFunction("f")
	f.NewBlock("entry", 1)
	d := desc()
	d.Registers = []uint32{rA, rB}
	assert.Error(t, Allocate(d, f))
}
