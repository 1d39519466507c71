package optimizer

import (
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/logger"
)

// checkPure recomputes the pure attribute of f and reports whether the
// attribute changed, not whether the function is pure. A function is pure
// when no instruction has a non-local side effect: a store to a local
// alloca is local, and so is a direct call to a pure function.
func checkPure(f *ir.Function) bool {
	pure := true
scan:
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			if !i.HasSideEffects() || i.Kind.IsTerminator() {
				continue
			}
			switch i.Kind {
			case ir.Store:
				if i.Addr.Kind == ir.Alloca {
					continue
				}
			case ir.Call:
				if !i.Indirect && i.Callee.Pure {
					continue
				}
			}
			pure = false
			break scan
		}
	}
	if f.Pure == pure {
		return false
	}
	f.Pure = pure
	return true
}

// checkLeaf recomputes the leaf attribute. A leaf function contains no
// calls except recursive tail calls or tail calls to other leaf functions.
// Reports whether the attribute changed.
func checkLeaf(f *ir.Function) bool {
	leaf := true
scan:
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			if i.Kind != ir.Call {
				continue
			}
			if !i.Indirect && i.TailCall {
				if i.Callee == f || i.Callee.Leaf {
					continue
				}
			}
			leaf = false
			break scan
		}
	}
	if f.Leaf == leaf {
		return false
	}
	f.Leaf = leaf
	return true
}

// checkNoReturn recomputes the noreturn attribute. A noreturn function
// never returns: it contains no return reachable as a non-tail exit and no
// tail call whose known callee may return. Indirect tail calls disqualify,
// since nothing is known about the target. Reports whether the attribute
// changed.
func checkNoReturn(f *ir.Function) bool {
	noreturn := true
scan:
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			if i.Kind == ir.Call && i.TailCall {
				// A tail call is a return unless the callee never returns.
				if i.Indirect || !i.Callee.NoReturn {
					noreturn = false
					break scan
				}
			} else if i.Kind == ir.Return {
				noreturn = false
				break scan
			}
		}
	}
	if f.NoReturn == noreturn {
		return false
	}
	f.NoReturn = noreturn
	return true
}

// markFunctionReferences marks the referent of a function reference or a
// direct call as ever referenced
func markFunctionReferences(i *ir.Inst) {
	switch i.Kind {
	case ir.FuncRef:
		i.Func.EverReferenced = true
	case ir.Call:
		if !i.Indirect {
			i.Callee.EverReferenced = true
		}
	}
}

// AnalyseFunctions runs the whole-program attribute fixed point: recompute
// pure/leaf/noreturn for every non-extern function, re-mark as referenced
// the entry function and every function named by a direct call or function
// reference in any function body or by a global initialiser, and delete
// functions that are never referenced. A function referenced only from a
// deleted function goes on a later iteration; functions that reference
// only each other are kept.
// Returns whether anything ever changed.
//
// The loop terminates because attribute flips are monotone within one
// iteration's computation and deletions strictly shrink the function set.
func AnalyseFunctions(m *ir.Module) bool {
	everChanged := false
	for {
		changed := false

		for _, f := range m.Functions {
			if f.Extern {
				continue
			}
			f.EverReferenced = false
			if checkPure(f) {
				changed = true
			}
			if checkLeaf(f) {
				changed = true
			}
			if checkNoReturn(f) {
				changed = true
			}
		}

		// The entry point is always referenced. Without a designated
		// entry, reachability-based deletion is meaningless (a library
		// module), so keep everything.
		if m.Entry == nil {
			for _, f := range m.Functions {
				f.EverReferenced = true
			}
		} else {
			m.Entry.EverReferenced = true
		}

		for _, f := range m.Functions {
			for _, b := range f.Blocks {
				for _, i := range b.Insts {
					markFunctionReferences(i)
				}
			}
		}
		for _, g := range m.Globals {
			if g.Init != nil {
				markFunctionReferences(g.Init)
			}
		}

		var kept []*ir.Function
		for _, f := range m.Functions {
			if f.EverReferenced {
				kept = append(kept, f)
				continue
			}
			logger.Debug("Removing unreferenced function", "function", f.Name)
			for _, b := range f.Blocks {
				b.Destroy()
			}
			f.Blocks = nil
			changed = true
		}
		m.Functions = kept

		if !changed {
			break
		}
		everChanged = true
	}
	return everChanged
}
