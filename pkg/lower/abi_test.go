package lower

import (
	"testing"

	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLargeReturn builds f() -> [3 x i64] { v = alloca T; return v }
// (the returned aggregate is addressed through a pointer).
func buildLargeReturn() (*ir.Module, *ir.Function) {
	t24 := ir.ArrayType(ir.I64, 3)
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(t24))
	b := f.NewBlock("entry")
	v := b.Append(ir.NewAlloca(t24))
	b.Append(ir.NewReturn(v))
	return m, f
}

func TestLargeReturnBecomesHiddenPointer(t *testing.T) {
	m, f := buildLargeReturn()
	require.Len(t, f.Params, 0)

	LowerABI(m, target.X8664Linux)

	// 24 bytes exceeds the two-register limit even on Linux: the
	// function gains a hidden pointer parameter and returns void.
	require.Len(t, f.Params, 1)
	assert.True(t, f.Params[0].Type.IsPtr())
	assert.Equal(t, 0, f.Params[0].ParamIdx)
	assert.True(t, f.Type.Ret.IsVoid())
	require.Len(t, f.Type.Params, 1)

	// Every return is preceded by a memcpy of 24 bytes and returns void.
	var sawMemcpy bool
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			switch i.Kind {
			case ir.Intrinsic:
				require.Equal(t, ir.MemCopy, i.Intr)
				assert.True(t, i.Args[2].IsImm(24))
				sawMemcpy = true
			case ir.Return:
				assert.Nil(t, i.Operand)
			}
		}
	}
	assert.True(t, sawMemcpy)
	require.Empty(t, ir.Validate(f))
}

func TestLargeReturnShiftsParameterIndices(t *testing.T) {
	t24 := ir.ArrayType(ir.I64, 3)
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(t24, ir.I64, ir.I64))
	b := f.NewBlock("entry")
	v := b.Append(ir.NewAlloca(t24))
	b.Append(ir.NewReturn(v))

	LowerABI(m, target.X8664Linux)

	require.Len(t, f.Params, 3)
	for n, p := range f.Params {
		assert.Equal(t, n, p.ParamIdx)
	}
	assert.True(t, f.Params[0].Type.IsPtr())
	assert.Equal(t, ir.I64, f.Params[1].Type)
}

func TestTwoRegisterReturnLeftAloneOnLinux(t *testing.T) {
	t16 := ir.ArrayType(ir.I64, 2)
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(t16))
	b := f.NewBlock("entry")
	v := b.Append(ir.NewAlloca(t16))
	b.Append(ir.NewReturn(v))

	LowerABI(m, target.X8664Linux)

	// 16 bytes fits the SysV two-register return.
	assert.Len(t, f.Params, 0)
	assert.False(t, f.Type.Ret.IsVoid())
}

func TestTwoRegisterReturnRewrittenOnWindows(t *testing.T) {
	t16 := ir.ArrayType(ir.I64, 2)
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(t16))
	b := f.NewBlock("entry")
	v := b.Append(ir.NewAlloca(t16))
	b.Append(ir.NewReturn(v))

	LowerABI(m, target.X8664Windows)

	require.Len(t, f.Params, 1)
	assert.True(t, f.Type.Ret.IsVoid())
}

func TestLargeLoadIntoStoreBecomesMemcpy(t *testing.T) {
	t24 := ir.ArrayType(ir.I64, 3)
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.VoidTy, ir.PtrTy, ir.PtrTy))
	b := f.NewBlock("entry")
	load := b.Append(ir.NewLoad(t24, f.Params[0]))
	b.Append(ir.NewStore(load, f.Params[1]))
	b.Append(ir.NewReturn(nil))

	LowerABI(m, target.X8664Linux)

	require.Len(t, f.Entry().Insts, 3)
	cp := f.Entry().Insts[1]
	require.Equal(t, ir.Intrinsic, cp.Kind)
	assert.Same(t, f.Params[1], cp.Args[0])
	assert.Same(t, f.Params[0], cp.Args[1])
	assert.True(t, cp.Args[2].IsImm(24))
	require.Empty(t, ir.Validate(f))
}

func TestLargeLoadWithOtherUsersBecomesCopy(t *testing.T) {
	t24 := ir.ArrayType(ir.I64, 3)
	m := ir.NewModule("test")
	sink := m.NewFunction("sink", ir.FunctionType(ir.VoidTy, ir.PtrTy))
	sink.Extern = true

	f := m.NewFunction("f", ir.FunctionType(ir.VoidTy, ir.PtrTy))
	b := f.NewBlock("entry")
	load := b.Append(ir.NewLoad(t24, f.Params[0]))
	b.Append(ir.NewCall(sink, load))
	b.Append(ir.NewReturn(nil))

	LowerABI(m, target.X8664Linux)

	// Consumers now observe the source pointer.
	call := f.Entry().Insts[1]
	require.Equal(t, ir.Call, call.Kind)
	arg := call.Args[0]
	require.Equal(t, ir.Copy, arg.Kind)
	assert.Same(t, f.Params[0], arg.Operand)
	require.Empty(t, ir.Validate(f))
}
