package optimizer

import (
	"testing"

	"github.com/fraylang/fcc/pkg/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConstantFoldAndDCE: f() -> i64 { return mul(3,4) + sub(5,5) }
// optimises to a single constant return.
func TestConstantFoldAndDCE(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64))
	b := f.NewBlock("entry")
	three := b.Append(ir.NewImm(ir.I64, 3))
	four := b.Append(ir.NewImm(ir.I64, 4))
	mul := b.Append(ir.NewBinary(ir.Mul, ir.I64, three, four))
	five1 := b.Append(ir.NewImm(ir.I64, 5))
	five2 := b.Append(ir.NewImm(ir.I64, 5))
	sub := b.Append(ir.NewBinary(ir.Sub, ir.I64, five1, five2))
	add := b.Append(ir.NewBinary(ir.Add, ir.I64, mul, sub))
	b.Append(ir.NewReturn(add))
	m.Entry = f

	Optimize(m, quietEngine())

	f = m.FindFunction("f")
	require.NotNil(t, f)
	require.Len(t, f.Blocks, 1)
	insts := f.Entry().Insts
	require.Len(t, insts, 2, "one constant and the return")
	ret := f.Entry().Terminator()
	assert.True(t, ret.Operand.IsImm(12))
	require.Empty(t, ir.Validate(f))
}

// TestMem2RegPipeline: f(x) { a = alloca; store x; y = load a; return y+1 }
// loses its alloca entirely.
func TestMem2RegPipeline(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	b.Append(ir.NewStore(f.Params[0], slot))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	one := b.Append(ir.NewImm(ir.I64, 1))
	add := b.Append(ir.NewBinary(ir.Add, ir.I64, load, one))
	b.Append(ir.NewReturn(add))
	m.Entry = f

	Optimize(m, quietEngine())

	f = m.FindFunction("f")
	require.NotNil(t, f)
	for _, blk := range f.Blocks {
		for _, i := range blk.Insts {
			assert.NotEqual(t, ir.Alloca, i.Kind, "no alloca may remain")
		}
	}
	ret := f.Entry().Terminator()
	require.Equal(t, ir.Return, ret.Kind)
	assert.Equal(t, ir.Add, ret.Operand.Kind)
	assert.Same(t, f.Params[0], ret.Operand.LHS)
}

// TestDivByPowerOfTwoPipeline: f(x) { return x / 8 } strength-reduces to
// an arithmetic shift right by 3.
func TestDivByPowerOfTwoPipeline(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	eight := b.Append(ir.NewImm(ir.I64, 8))
	div := b.Append(ir.NewBinary(ir.Div, ir.I64, f.Params[0], eight))
	b.Append(ir.NewReturn(div))
	m.Entry = f

	Optimize(m, quietEngine())

	f = m.FindFunction("f")
	ret := f.Entry().Terminator()
	require.Equal(t, ir.Sar, ret.Operand.Kind)
	assert.True(t, ret.Operand.RHS.IsImm(3))
}

func TestOptimizeIsQuiescent(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	two := b.Append(ir.NewImm(ir.I64, 2))
	mul := b.Append(ir.NewBinary(ir.Mul, ir.I64, f.Params[0], two))
	b.Append(ir.NewReturn(mul))
	m.Entry = f

	Optimize(m, quietEngine())
	f = m.FindFunction("f")

	// A second full run reports no further change anywhere.
	assert.False(t, Instcombine(f))
	assert.False(t, DCE(f))
	assert.False(t, Mem2Reg(f, quietEngine()))
	assert.False(t, JumpThreading(f))
	assert.False(t, StoreForwarding(f))
	assert.False(t, TailCallElim(f))
}

func TestOptimizeBlocksThreadsJumps(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64))
	entry := f.NewBlock("entry")
	hop := f.NewBlock("hop")
	exit := f.NewBlock("exit")
	entry.Append(ir.NewBranch(hop))
	hop.Append(ir.NewBranch(exit))
	zero := exit.Append(ir.NewImm(ir.I64, 0))
	exit.Append(ir.NewReturn(zero))
	m.Entry = f

	OptimizeBlocks(m)
	assert.Len(t, f.Blocks, 2)
}
