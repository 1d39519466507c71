package optimizer

import (
	"io"
	"testing"

	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietEngine() *diag.Engine {
	e := diag.NewEngine()
	e.Out = io.Discard
	return e
}

func TestMem2RegPromotesSingleStore(t *testing.T) {
	// f(x) { a = alloca i64; store x, a; y = load a; return y + 1 }
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	b.Append(ir.NewStore(f.Params[0], slot))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	one := b.Append(ir.NewImm(ir.I64, 1))
	add := b.Append(ir.NewBinary(ir.Add, ir.I64, load, one))
	b.Append(ir.NewReturn(add))

	require.True(t, Mem2Reg(f, quietEngine()))

	for _, i := range f.Entry().Insts {
		assert.NotEqual(t, ir.Alloca, i.Kind)
		assert.NotEqual(t, ir.Store, i.Kind)
		assert.NotEqual(t, ir.Load, i.Kind)
	}
	assert.Same(t, f.Params[0], add.LHS, "loads forward to the stored value")
	require.Empty(t, ir.Validate(f))
}

func TestMem2RegConstantStore(t *testing.T) {
	// { a = alloca i64; store c, a; r = load a; return r } returns c.
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	c := b.Append(ir.NewImm(ir.I64, 42))
	b.Append(ir.NewStore(c, slot))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	b.Append(ir.NewReturn(load))

	require.True(t, Mem2Reg(f, quietEngine()))
	assert.Same(t, c, f.Entry().Terminator().Operand)
	assert.Len(t, f.Entry().Insts, 2)
}

func TestMem2RegWarnsOnLoadBeforeStore(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	b.Append(ir.NewStore(load, slot))
	b.Append(ir.NewReturn(load))

	e := quietEngine()
	assert.False(t, Mem2Reg(f, e))

	var warned bool
	for _, d := range e.Diagnostics() {
		if d.Severity == diag.Warning {
			warned = true
		}
	}
	assert.True(t, warned, "use before store must warn")
	assert.Equal(t, ir.Alloca, f.Entry().Insts[0].Kind, "the variable is left alone")
}

func TestMem2RegSkipsMultiStore(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	b.Append(ir.NewStore(f.Params[0], slot))
	one := b.Append(ir.NewImm(ir.I64, 1))
	b.Append(ir.NewStore(one, slot))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	b.Append(ir.NewReturn(load))

	assert.False(t, Mem2Reg(f, quietEngine()), "multi-store variables belong to store forwarding")
}

func TestStoreForwardingForwardsLoad(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	b.Append(ir.NewStore(f.Params[0], slot))
	one := b.Append(ir.NewImm(ir.I64, 1))
	b.Append(ir.NewStore(one, slot))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	b.Append(ir.NewReturn(load))

	require.True(t, StoreForwarding(f))
	assert.Same(t, one, f.Entry().Terminator().Operand, "the load takes the most recent store's value")
	require.Empty(t, ir.Validate(f))
}

func TestStoreForwardingErasesShadowedStore(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.VoidTy, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	first := b.Append(ir.NewStore(f.Params[0], slot))
	one := b.Append(ir.NewImm(ir.I64, 1))
	b.Append(ir.NewStore(one, slot))
	b.Append(ir.NewReturn(nil))

	require.True(t, StoreForwarding(f))
	assert.Nil(t, first.Parent(), "the shadowed store is erased")
	require.Empty(t, ir.Validate(f))
}

func TestStoreForwardingKeepsStoreWithInterveningUse(t *testing.T) {
	m := ir.NewModule("test")
	sink := m.NewFunction("sink", ir.FunctionType(ir.VoidTy, ir.PtrTy))
	sink.Extern = true

	f := m.NewFunction("f", ir.FunctionType(ir.VoidTy, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	first := b.Append(ir.NewStore(f.Params[0], slot))
	b.Append(ir.NewCall(sink, slot)) // the address escapes between the stores
	one := b.Append(ir.NewImm(ir.I64, 1))
	b.Append(ir.NewStore(one, slot))
	b.Append(ir.NewReturn(nil))

	StoreForwarding(f)
	assert.NotNil(t, first.Parent(), "a store with an intervening address use stays")
}

func TestStoreForwardingIsBlockLocal(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	entry := f.NewBlock("entry")
	next := f.NewBlock("next")

	slot := entry.Append(ir.NewAlloca(ir.I64))
	entry.Append(ir.NewStore(f.Params[0], slot))
	entry.Append(ir.NewBranch(next))

	load := next.Append(ir.NewLoad(ir.I64, slot))
	next.Append(ir.NewReturn(load))

	assert.False(t, StoreForwarding(f), "no cross-block forwarding")
	assert.NotNil(t, load.Parent())
}
