package optimizer

import "github.com/fraylang/fcc/pkg/ir"

// JumpThreading removes blocks other than the entry block that consist of a
// single unconditional branch and simplifies conditional branches whose arms coincide.
//
// When a forwarding block is deleted, every terminator that targeted it is
// redirected to its target, and phi incomings whose predecessor was the
// deleted block are rewritten to the block's former predecessors so that
// phi predecessor sets keep matching the CFG.
func JumpThreading(f *ir.Function) bool {
	changed := false
	var toRemove []*ir.Block

	for _, b := range f.Blocks {
		term := b.Terminator()
		if term == nil {
			continue
		}

		if len(b.Insts) == 1 && term.Kind == ir.Branch && term.Target != b && b != f.Entry() {
			target := term.Target
			preds := b.Preds()

			for _, other := range f.Blocks {
				if other == b {
					continue
				}
				t := other.Terminator()
				if t == nil {
					continue
				}
				switch t.Kind {
				case ir.Branch:
					if t.Target == b {
						t.Target = target
						changed = true
					}
				case ir.CondBranch:
					if t.Then == b {
						t.Then = target
						changed = true
					}
					if t.Else == b {
						t.Else = target
						changed = true
					}
				}
			}

			// Phis that named b as a predecessor now receive the value
			// along each of b's former predecessor edges.
			for _, other := range f.Blocks {
				for _, i := range other.Insts {
					if i.Kind != ir.Phi {
						continue
					}
					for _, inc := range append([]ir.PhiIncoming(nil), i.Incoming...) {
						if inc.Pred != b {
							continue
						}
						i.RemoveIncoming(b)
						for _, p := range preds {
							i.AddIncoming(p, inc.Value)
						}
						changed = true
					}
				}
			}

			toRemove = append(toRemove, b)
			changed = true
			continue
		}

		if term.Kind == ir.CondBranch && term.Then == term.Else {
			target := term.Then
			term.ToBranch(target)
			changed = true
		}
	}

	for _, b := range toRemove {
		b.Destroy()
		removeBlock(f, b)
	}
	return changed
}

func removeBlock(f *ir.Function, b *ir.Block) {
	for n, x := range f.Blocks {
		if x == b {
			f.Blocks = append(f.Blocks[:n], f.Blocks[n+1:]...)
			return
		}
	}
}

// ReorderBlocks lays the blocks out by a pre-order traversal of the
// dominator tree that prefers falling through to the terminator's primary
// successor: when a block is visited, its dominator children are pushed in
// reverse, with the child matching the preferred successor hoisted to the
// top of the stack so it is visited next. Already-visited nodes are
// skipped so the preferred child is never emitted twice.
//
// Blocks not in the dominator tree are unreachable and are dropped; phi
// incomings from dropped predecessors are removed with them.
func ReorderBlocks(f *ir.Function, dt *ir.DomTree) {
	if dt.Root == nil {
		return
	}

	visited := make(map[*ir.Block]bool)
	var order []*ir.Block
	stack := []*ir.Block{dt.Root}

	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[b] {
			continue
		}
		visited[b] = true
		order = append(order, b)

		// Preferred fallthrough successor of this block's terminator.
		var next *ir.Block
		if term := b.Terminator(); term != nil {
			switch term.Kind {
			case ir.Branch:
				next = term.Target
			case ir.CondBranch:
				next = term.Then
			}
		}

		children := dt.Children(b)
		var nextChild *ir.Block
		for n := len(children) - 1; n >= 0; n-- {
			c := children[n]
			if c == next {
				nextChild = c
				continue
			}
			if !visited[c] {
				stack = append(stack, c)
			}
		}
		if nextChild != nil && !visited[nextChild] {
			stack = append(stack, nextChild)
		}
	}

	// Drop unreachable blocks.
	if len(order) != len(f.Blocks) {
		kept := make(map[*ir.Block]bool, len(order))
		for _, b := range order {
			kept[b] = true
		}
		for _, b := range f.Blocks {
			if !kept[b] {
				b.Destroy()
			}
		}
		for _, b := range order {
			for _, i := range b.Insts {
				if i.Kind != ir.Phi {
					continue
				}
				for _, inc := range append([]ir.PhiIncoming(nil), i.Incoming...) {
					if !kept[inc.Pred] {
						i.RemoveIncoming(inc.Pred)
					}
				}
			}
		}
	}
	f.Blocks = order
}
