package optimizer

import (
	"testing"

	"github.com/fraylang/fcc/pkg/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJumpThreadingRemovesForwardingBlock(t *testing.T) {
	// entry -> hop -> exit, with hop a bare branch.
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64))
	entry := f.NewBlock("entry")
	hop := f.NewBlock("hop")
	exit := f.NewBlock("exit")

	entry.Append(ir.NewBranch(hop))
	hop.Append(ir.NewBranch(exit))
	zero := exit.Append(ir.NewImm(ir.I64, 0))
	exit.Append(ir.NewReturn(zero))

	require.True(t, JumpThreading(f))
	assert.Len(t, f.Blocks, 2)
	assert.Same(t, exit, entry.Terminator().Target)
	require.Empty(t, ir.Validate(f))
}

func TestJumpThreadingRewritesPhiPreds(t *testing.T) {
	// entry -condbr-> (hop -> join | join); hop forwards, and the phi's
	// incoming from hop must move to entry.
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	entry := f.NewBlock("entry")
	hop := f.NewBlock("hop")
	join := f.NewBlock("join")

	entry.Append(ir.NewCondBranch(f.Params[0], hop, join))
	hop.Append(ir.NewBranch(join))

	phi := ir.NewPhi(ir.I64)
	phi.AddIncoming(hop, f.Params[0])
	phi.AddIncoming(entry, f.Params[0])
	join.Append(phi)
	join.Append(ir.NewReturn(phi))

	require.True(t, JumpThreading(f))
	assert.Len(t, f.Blocks, 2)

	// Both incomings now name entry; the phi's predecessor multiset
	// matches the CFG (entry reaches join on both arms, collapsed by the
	// condbranch simplification into one edge on the next run).
	for _, inc := range phi.Incoming {
		assert.Same(t, entry, inc.Pred)
	}
}

func TestJumpThreadingSimplifiesSameTargetCondBranch(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	entry := f.NewBlock("entry")
	next := f.NewBlock("next")

	br := entry.Append(ir.NewCondBranch(f.Params[0], next, next))
	zero := next.Append(ir.NewImm(ir.I64, 0))
	next.Append(ir.NewReturn(zero))

	require.True(t, JumpThreading(f))
	assert.Equal(t, ir.Branch, br.Kind)
	assert.Same(t, next, br.Target)
	assert.Empty(t, f.Params[0].Users(), "the condition use is removed")
	require.Empty(t, ir.Validate(f))
}

func TestReorderPrefersFallthrough(t *testing.T) {
	// Lay the preferred successor directly after its branch.
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	entry := f.NewBlock("entry")
	els := f.NewBlock("else") // deliberately before "then" in the list
	then := f.NewBlock("then")

	entry.Append(ir.NewCondBranch(f.Params[0], then, els))
	one := then.Append(ir.NewImm(ir.I64, 1))
	then.Append(ir.NewReturn(one))
	zero := els.Append(ir.NewImm(ir.I64, 0))
	els.Append(ir.NewReturn(zero))

	ReorderBlocks(f, ir.BuildDomTree(f))
	require.Len(t, f.Blocks, 3)
	assert.Same(t, entry, f.Blocks[0])
	assert.Same(t, then, f.Blocks[1], "the then-target is the preferred fallthrough")
	assert.Same(t, els, f.Blocks[2])
}

func TestReorderIdempotent(t *testing.T) {
	f, _, _, _, _ := reorderFixture()
	ReorderBlocks(f, ir.BuildDomTree(f))
	first := append([]*ir.Block(nil), f.Blocks...)
	ReorderBlocks(f, ir.BuildDomTree(f))
	assert.Equal(t, first, f.Blocks, "reordering must be idempotent")
}

func reorderFixture() (*ir.Function, *ir.Block, *ir.Block, *ir.Block, *ir.Block) {
	m := ir.NewModule("test")
	f := m.NewFunction("f", ir.FunctionType(ir.I64, ir.I64))
	entry := f.NewBlock("entry")
	a := f.NewBlock("a")
	b := f.NewBlock("b")
	join := f.NewBlock("join")

	entry.Append(ir.NewCondBranch(f.Params[0], a, b))
	a.Append(ir.NewBranch(join))
	b.Append(ir.NewBranch(join))
	zero := join.Append(ir.NewImm(ir.I64, 0))
	join.Append(ir.NewReturn(zero))
	return f, entry, a, b, join
}

func TestReorderDropsUnreachableBlocks(t *testing.T) {
	f, _, _, _, _ := reorderFixture()
	dead := f.NewBlock("dead")
	nine := dead.Append(ir.NewImm(ir.I64, 9))
	dead.Append(ir.NewReturn(nine))

	ReorderBlocks(f, ir.BuildDomTree(f))
	assert.Len(t, f.Blocks, 4)
	for _, b := range f.Blocks {
		assert.NotEqual(t, "dead", b.Name)
	}
	require.Empty(t, ir.Validate(f))
}
