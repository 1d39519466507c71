package optimizer

import "github.com/fraylang/fcc/pkg/ir"

// tailCallCheck carries the state of one admissibility check: the call and
// the phis already admitted as passing its value through.
type tailCallCheck struct {
	call    *ir.Inst
	phis    []*ir.Inst
	visited map[*ir.Block]int // 0 unseen, 1 in progress, 2 admitted, 3 rejected
}

const (
	blockInProgress = 1
	blockAdmitted   = 2
	blockRejected   = 3
)

// TailCallElim marks calls whose value flows unmodified to a return as
// tail calls. A call is a tail call iff every path from it to a return
// passes only through phis fed by the call (or an admitted phi), branches,
// and a final return of the call or such a phi. At most one call per block
// is converted per run. On admission the call's block is marked
// unreachable from normal flow; the back end emits a jump.
func TailCallElim(f *ir.Function) bool {
	changed := false
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			if i.Kind != ir.Call || i.TailCall {
				continue
			}
			if tryConvertToTailCall(i) {
				changed = true
				break // no second tail call in this block
			}
		}
	}
	return changed
}

func tryConvertToTailCall(call *ir.Inst) bool {
	tc := &tailCallCheck{call: call, visited: make(map[*ir.Block]int)}
	if !tc.possibleFrom(call.Parent()) {
		return false
	}
	call.TailCall = true
	call.Parent().MarkUnreachable()
	return true
}

// possibleFrom checks admissibility starting right after the call in its
// own block, or from the first instruction of any other block. Blocks are
// memoised: a block reached again while still in progress lies on a cycle
// that cannot reach a return, so it rejects.
func (tc *tailCallCheck) possibleFrom(b *ir.Block) bool {
	switch tc.visited[b] {
	case blockInProgress, blockRejected:
		return false
	case blockAdmitted:
		return true
	}
	tc.visited[b] = blockInProgress
	ok := tc.walk(b)
	if ok {
		tc.visited[b] = blockAdmitted
	} else {
		tc.visited[b] = blockRejected
	}
	return ok
}

func (tc *tailCallCheck) walk(b *ir.Block) bool {
	insts := b.Insts
	if b == tc.call.Parent() {
		idx := -1
		for n, i := range insts {
			if i == tc.call {
				idx = n
				break
			}
		}
		insts = insts[idx+1:]
	}

	for _, i := range insts {
		switch i.Kind {
		case ir.Phi:
			// The call, or an already-admitted phi, must feed this phi.
			if !tc.feeds(i) {
				return false
			}
			tc.phis = append(tc.phis, i)

		case ir.Return:
			if i.Operand == tc.call {
				return true
			}
			for _, p := range tc.phis {
				if i.Operand == p {
					return true
				}
			}
			return false

		case ir.Branch:
			return tc.possibleFrom(i.Target)

		case ir.CondBranch:
			return tc.possibleFrom(i.Then) && tc.possibleFrom(i.Else)

		default:
			// Any other instruction means the call is not the last
			// relevant computation before the return.
			return false
		}
	}
	return false
}

func (tc *tailCallCheck) feeds(phi *ir.Inst) bool {
	for _, inc := range phi.Incoming {
		if inc.Value == tc.call {
			return true
		}
		for _, p := range tc.phis {
			if inc.Value == p {
				return true
			}
		}
	}
	return false
}
