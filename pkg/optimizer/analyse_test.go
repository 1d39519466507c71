package optimizer

import (
	"testing"

	"github.com/fraylang/fcc/pkg/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leafAdd builds add(a, b) -> a + b, the simplest pure leaf
func leafAdd(m *ir.Module) *ir.Function {
	f := m.NewFunction("add", ir.FunctionType(ir.I64, ir.I64, ir.I64))
	b := f.NewBlock("entry")
	sum := b.Append(ir.NewBinary(ir.Add, ir.I64, f.Params[0], f.Params[1]))
	b.Append(ir.NewReturn(sum))
	return f
}

func TestAnalysePureLeaf(t *testing.T) {
	m := ir.NewModule("test")
	add := leafAdd(m)

	main := m.NewFunction("main", ir.FunctionType(ir.I64))
	b := main.NewBlock("entry")
	one := b.Append(ir.NewImm(ir.I64, 1))
	two := b.Append(ir.NewImm(ir.I64, 2))
	call := b.Append(ir.NewCall(add, one, two))
	b.Append(ir.NewReturn(call))
	m.Entry = main

	AnalyseFunctions(m)

	assert.True(t, add.Pure)
	assert.True(t, add.Leaf)
	assert.False(t, add.NoReturn)

	// main calls a pure function, so it is pure; the non-tail call makes
	// it no leaf.
	assert.True(t, main.Pure)
	assert.False(t, main.Leaf)
}

func TestAnalyseStoreToLocalIsPure(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	b := f.NewBlock("entry")
	slot := b.Append(ir.NewAlloca(ir.I64))
	b.Append(ir.NewStore(f.Params[0], slot))
	load := b.Append(ir.NewLoad(ir.I64, slot))
	b.Append(ir.NewReturn(load))
	m.Entry = f

	AnalyseFunctions(m)
	assert.True(t, f.Pure, "a store to a local alloca is a local effect")
}

func TestAnalyseStoreToGlobalIsImpure(t *testing.T) {
	m := ir.NewModule("test")
	g := m.NewGlobal("counter", ir.I64, nil)
	f := m.NewFunction("f", ir.FunctionType(ir.VoidTy, ir.I64))
	b := f.NewBlock("entry")
	addr := b.Append(ir.NewGlobalRef(g))
	b.Append(ir.NewStore(f.Params[0], addr))
	b.Append(ir.NewReturn(nil))
	m.Entry = f

	AnalyseFunctions(m)
	assert.False(t, f.Pure)
}

func TestAnalyseNoReturn(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("spin", ir.FunctionType(ir.VoidTy))
	entry := f.NewBlock("entry")
	entry.Append(ir.NewBranch(entry))
	m.Entry = f

	AnalyseFunctions(m)
	assert.True(t, f.NoReturn)
}

func TestAnalyseRemovesDeadFunctions(t *testing.T) {
	// main calls a; b is unused and must go.
	m := ir.NewModule("test")
	a := m.NewFunction("a", ir.FunctionType(ir.I64))
	ab := a.NewBlock("entry")
	zero := ab.Append(ir.NewImm(ir.I64, 0))
	ab.Append(ir.NewReturn(zero))

	bfn := m.NewFunction("b", ir.FunctionType(ir.I64))
	bb := bfn.NewBlock("entry")
	one := bb.Append(ir.NewImm(ir.I64, 1))
	bb.Append(ir.NewReturn(one))

	main := m.NewFunction("main", ir.FunctionType(ir.I64))
	mb := main.NewBlock("entry")
	call := mb.Append(ir.NewCall(a))
	mb.Append(ir.NewReturn(call))
	m.Entry = main

	require.True(t, AnalyseFunctions(m))

	names := make([]string, 0, len(m.Functions))
	for _, f := range m.Functions {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a", "main"}, names)
}

func TestAnalyseKeepsFunctionReferencedByGlobal(t *testing.T) {
	m := ir.NewModule("test")
	handler := m.NewFunction("handler", ir.FunctionType(ir.VoidTy))
	hb := handler.NewBlock("entry")
	hb.Append(ir.NewReturn(nil))

	m.NewGlobal("callback", ir.PtrTy, ir.NewFuncRef(handler))

	main := m.NewFunction("main", ir.FunctionType(ir.VoidTy))
	mb := main.NewBlock("entry")
	mb.Append(ir.NewReturn(nil))
	m.Entry = main

	AnalyseFunctions(m)

	assert.NotNil(t, m.FindFunction("handler"), "global initialisers keep their referents alive")
}

func TestAnalyseKeepsEverythingWithoutEntry(t *testing.T) {
	m := ir.NewModule("test")
	leafAdd(m)
	AnalyseFunctions(m)
	assert.NotNil(t, m.FindFunction("add"))
}
