package optimizer

import (
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/logger"
)

// Inline expands call sites whose callee is direct, non-recursive,
// non-extern and whose body fits the size budget (in IR instructions).
// Returns whether any call was expanded; the driver re-runs attribute
// analysis on change.
func Inline(m *ir.Module, budget int) bool {
	type candidate struct {
		caller *ir.Function
		call   *ir.Inst
	}
	var candidates []candidate
	for _, f := range m.Functions {
		for _, b := range f.Blocks {
			for _, i := range b.Insts {
				if i.Kind == ir.Call && shouldInline(f, i, budget) {
					candidates = append(candidates, candidate{caller: f, call: i})
				}
			}
		}
	}

	changed := false
	for _, c := range candidates {
		if c.call.Parent() == nil {
			continue // removed by an earlier expansion
		}
		logger.Debug("Inlining call", "caller", c.caller.Name, "callee", c.call.Callee.Name)
		inlineCall(c.caller, c.call)
		changed = true
	}
	return changed
}

func shouldInline(caller *ir.Function, call *ir.Inst, budget int) bool {
	if call.Indirect || call.TailCall || call.Callee == nil {
		return false
	}
	callee := call.Callee
	if callee.Extern || callee == caller || len(callee.Blocks) == 0 {
		return false
	}
	size := 0
	for _, b := range callee.Blocks {
		size += len(b.Insts)
		for _, i := range b.Insts {
			// Direct recursion disqualifies the callee.
			if i.Kind == ir.Call && !i.Indirect && i.Callee == callee {
				return false
			}
		}
	}
	return size <= budget
}

// inlineCall splices a clone of the callee's body into the caller at the
// call site. The host block is split after the call; the callee's returns
// become branches to the continuation, with a phi merging the returned
// values when there is more than one.
func inlineCall(caller *ir.Function, call *ir.Inst) {
	callee := call.Callee
	host := call.Parent()

	// Split the host block: everything after the call, including the
	// terminator, moves to the continuation block.
	idx := -1
	for n, i := range host.Insts {
		if i == call {
			idx = n
			break
		}
	}
	contBlock := newBlockLike(caller, host.Name+".cont")
	moved := append([]*ir.Inst(nil), host.Insts[idx+1:]...)
	host.Insts = host.Insts[:idx+1]
	for _, i := range moved {
		contBlock.Append(i)
	}

	// Phis in the continuation's successors named the host as predecessor;
	// the terminator now lives in the continuation.
	for _, s := range contBlock.Succs() {
		for _, i := range s.Insts {
			if i.Kind != ir.Phi {
				continue
			}
			for n := range i.Incoming {
				if i.Incoming[n].Pred == host {
					i.Incoming[n].Pred = contBlock
				}
			}
		}
	}

	// Clone the callee body, substituting arguments for parameters.
	valueMap := make(map[*ir.Inst]*ir.Inst)
	for n, p := range callee.Params {
		valueMap[p] = call.Args[n]
	}
	blockMap := ir.CloneBlocks(callee, caller, valueMap)

	// Rewrite cloned returns into branches to the continuation.
	type retEdge struct {
		block *ir.Block
		value *ir.Inst
	}
	var rets []retEdge
	for _, cb := range callee.Blocks {
		nb := blockMap[cb]
		if t := nb.Terminator(); t != nil && t.Kind == ir.Return {
			rets = append(rets, retEdge{block: nb, value: t.Operand})
			t.ToBranch(contBlock)
		}
	}

	// The call's value is the merged return value.
	if !call.Type.IsVoid() && len(call.Users()) > 0 {
		var result *ir.Inst
		switch len(rets) {
		case 0:
			// The callee never returns; the continuation is unreachable
			// and any users of the call along with it.
			result = ir.NewImm(call.Type, 0)
			contBlock.InsertBefore(result, contBlock.Insts[0])
		case 1:
			result = rets[0].value
		default:
			phi := ir.NewPhi(call.Type)
			for _, r := range rets {
				phi.AddIncoming(r.block, r.value)
			}
			contBlock.InsertBefore(phi, contBlock.Insts[0])
			result = phi
		}
		call.ReplaceUsesWith(result)
	} else if len(call.Users()) > 0 {
		call.ReplaceUsesWith(ir.NewImm(call.Type, 0))
	}
	call.Remove()
	host.Append(ir.NewBranch(blockMap[callee.Entry()]))

	// Lay the cloned blocks and the continuation after the host block.
	pos := -1
	for n, b := range caller.Blocks {
		if b == host {
			pos = n
			break
		}
	}
	inserted := make([]*ir.Block, 0, len(callee.Blocks)+1)
	for _, cb := range callee.Blocks {
		inserted = append(inserted, blockMap[cb])
	}
	inserted = append(inserted, contBlock)
	rest := append([]*ir.Block(nil), caller.Blocks[pos+1:]...)
	caller.Blocks = append(caller.Blocks[:pos+1], append(inserted, rest...)...)
}

func newBlockLike(f *ir.Function, name string) *ir.Block {
	b := f.NewBlock(name)
	// NewBlock appends; the caller re-inserts at the right position.
	f.Blocks = f.Blocks[:len(f.Blocks)-1]
	return b
}
