// Package optimizer implements the machine-independent optimisation
// pipeline over the SSA IR.
//
// Design: a library of passes that each take a function or the module and
// report whether anything changed, plus a fixed-point driver. Per-function
// passes iterate until quiescent under a freshly built dominator tree;
// the interprocedural attribute/inlining loop iterates over the program.
package optimizer

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/logger"
)

// DefaultInlineBudget is the callee size limit, in IR instructions, for
// the inliner.
const DefaultInlineBudget = 20

// Optimize runs the full optimisation pipeline on the module to a fixed
// point. Termination: each intraprocedural pass only removes or simplifies;
// each inlining grows at most one function by the budget and unreferences
// others, which the next analysis pass deletes.
func Optimize(m *ir.Module, diags *diag.Engine) {
	logger.LogPhase("optimize")
	AnalyseFunctions(m)

	for {
		for _, f := range m.Functions {
			if f.Extern {
				continue
			}
			OptimizeFunction(f, diags)
		}
		if !Inline(m, DefaultInlineBudget) && !AnalyseFunctions(m) {
			break
		}
	}
}

// OptimizeFunction iterates the intraprocedural passes on one function
// until none reports change. The dominator tree is rebuilt and the blocks
// relaid each round, since the passes invalidate both.
func OptimizeFunction(f *ir.Function, diags *diag.Engine) {
	for {
		dt := ir.BuildDomTree(f)
		ReorderBlocks(f, dt)

		changed := false
		for _, p := range []struct {
			name string
			run  func() bool
		}{
			{"instcombine", func() bool { return Instcombine(f) }},
			{"dce", func() bool { return DCE(f) }},
			{"mem2reg", func() bool { return Mem2Reg(f, diags) }},
			{"jump-threading", func() bool { return JumpThreading(f) }},
			{"store-forwarding", func() bool { return StoreForwarding(f) }},
			{"tail-call-elim", func() bool { return TailCallElim(f) }},
		} {
			if p.run() {
				logger.LogPass(p.name, f.Name, true)
				changed = true
				break // restart with a fresh dominator tree
			}
		}
		if !changed {
			return
		}
	}
}

// OptimizeBlocks relays and threads the blocks of every function until
// jump threading finds nothing more to do; only terminators and phi
// incomings change. The driver pipeline does not call it.
func OptimizeBlocks(m *ir.Module) {
	for _, f := range m.Functions {
		if f.Extern {
			continue
		}
		for {
			dt := ir.BuildDomTree(f)
			ReorderBlocks(f, dt)
			if !JumpThreading(f) {
				break
			}
		}
	}
}
