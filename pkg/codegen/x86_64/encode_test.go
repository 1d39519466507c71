package x86_64

import (
	"testing"

	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/mir"
	"github.com/fraylang/fcc/pkg/object"
	"github.com/fraylang/fcc/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeObject(t *testing.T, m *ir.Module, f *mir.Function) *object.GenericObject {
	t.Helper()
	obj, err := EmitObject(m, MachineDesc(target.X8664Linux), []*mir.Function{f})
	require.NoError(t, err)
	return obj
}

func TestEncodeEmptyFunction(t *testing.T) {
	m := ir.NewModule("test")
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	b.Append(mir.Inst{Opcode: OpRet})

	obj := encodeObject(t, m, f)
	text := obj.Section(".text", object.Text)

	// push rbp; mov rsp, rbp; mov rbp, rsp; pop rbp; ret.
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5, 0x48, 0x89, 0xec, 0x5d, 0xc3}, text.Data)

	sym, ok := obj.FindSymbol("f")
	require.True(t, ok)
	assert.EqualValues(t, 0, sym.Offset)
	assert.True(t, sym.Global)
}

func TestEncodeMovImmediate(t *testing.T) {
	m := ir.NewModule("test")
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	b.Append(mir.Inst{Opcode: OpMov, Def: RAX, DefSize: 64, Operands: []mir.Operand{mir.Imm(42)}})
	b.Append(mir.Inst{Opcode: OpRet})

	obj := encodeObject(t, m, f)
	text := obj.Section(".text", object.Text)
	// mov $42, %rax is REX.W c7 /0 imm32.
	assert.Contains(t, string(text.Data), string([]byte{0x48, 0xc7, 0xc0, 42, 0, 0, 0}))
}

func TestEncodeCallEmitsRelocation(t *testing.T) {
	m := ir.NewModule("test")
	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	b.Append(mir.Inst{Opcode: OpCall, Operands: []mir.Operand{mir.FuncRef("putchar")}})
	b.Append(mir.Inst{Opcode: OpRet})

	obj := encodeObject(t, m, f)
	require.Len(t, obj.Relocations, 1)
	r := obj.Relocations[0]
	assert.Equal(t, "putchar", r.Symbol)
	assert.Equal(t, object.RelocPC32, r.Kind)
	assert.EqualValues(t, -4, r.Addend)
}

func TestEncodeBackwardJumpResolves(t *testing.T) {
	m := ir.NewModule("test")
	f := mir.NewFunction("f")
	entry := f.NewBlock("entry", 1)
	loop := f.NewBlock("loop", 2)
	entry.Append(mir.Inst{Opcode: OpJmp, Operands: []mir.Operand{mir.BlockRef(2)}})
	loop.Append(mir.Inst{Opcode: OpJmp, Operands: []mir.Operand{mir.BlockRef(2)}})

	obj := encodeObject(t, m, f)
	text := obj.Section(".text", object.Text)

	// The self-jump at the end targets its own start: rel32 = -5.
	n := len(text.Data)
	assert.Equal(t, byte(0xe9), text.Data[n-5])
	assert.Equal(t, []byte{0xfb, 0xff, 0xff, 0xff}, text.Data[n-4:])
}

func TestEncodeGlobals(t *testing.T) {
	m := ir.NewModule("test")
	m.NewGlobal("counter", ir.I64, ir.NewImm(ir.I64, 7))

	f := mir.NewFunction("f")
	b := f.NewBlock("entry", 1)
	b.Append(mir.Inst{Opcode: OpRet})

	obj := encodeObject(t, m, f)
	data := obj.Section(".data", object.Data)
	require.Len(t, data.Data, 8)
	assert.Equal(t, byte(7), data.Data[0])

	_, ok := obj.FindSymbol("counter")
	assert.True(t, ok)
}
