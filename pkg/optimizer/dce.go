package optimizer

import "github.com/fraylang/fcc/pkg/ir"

// DCE removes instructions that have no users and no side effects.
// Terminators are never removed here; unreachable blocks are handled by
// reordering. Removal frees the operands' user-list entries, so operands
// that become dead are picked up when the driver re-runs the pass.
func DCE(f *ir.Function) bool {
	changed := false
	for _, b := range f.Blocks {
		insts := append([]*ir.Inst(nil), b.Insts...)
		for _, i := range insts {
			if i.Kind.IsTerminator() {
				continue
			}
			if len(i.Users()) == 0 && !i.HasSideEffects() {
				i.Remove()
				changed = true
			}
		}
	}
	return changed
}
