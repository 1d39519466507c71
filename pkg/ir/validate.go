package ir

import (
	"fmt"
	"sort"
)

// Validate checks the structural invariants of a function and returns one
// error per violation. Run after every pass in tests; the driver runs it
// behind a debug flag. A violation is a compiler bug.
//
// Checked:
//   - every operand edge is mirrored in the operand's user list, and vice versa
//   - every block ends with exactly one terminator
//   - phi predecessor sets match the CFG predecessor sets
//   - every value used in the function is dominated by its definition
func Validate(f *Function) []error {
	var errs []error
	if f.Extern || len(f.Blocks) == 0 {
		return nil
	}

	member := make(map[*Inst]bool)
	for _, p := range f.Params {
		member[p] = true
	}
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			member[i] = true
		}
	}

	// Def-use symmetry.
	countUses := func(u *Inst, v *Inst) int {
		n := 0
		u.forEachOperandPtr(func(p **Inst) {
			if *p == v {
				n++
			}
		})
		return n
	}
	countUsers := func(v *Inst, u *Inst) int {
		n := 0
		for _, x := range v.users {
			if x == u {
				n++
			}
		}
		return n
	}
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			for _, op := range i.Operands() {
				if got, want := countUsers(op, i), countUses(i, op); got != want {
					errs = append(errs, fmt.Errorf("%s: operand edge to %s recorded %d times in user list, used %d times", i.Kind, op.Kind, got, want))
				}
			}
			for _, u := range i.users {
				if countUses(u, i) == 0 {
					errs = append(errs, fmt.Errorf("%s: user %s does not use it", i.Kind, u.Kind))
				}
			}
		}
	}

	// Terminator discipline.
	for _, b := range f.Blocks {
		if len(b.Insts) == 0 {
			errs = append(errs, fmt.Errorf("block %q is empty", b.Name))
			continue
		}
		if b.Terminator() == nil {
			errs = append(errs, fmt.Errorf("block %q does not end with a terminator", b.Name))
		}
		for _, i := range b.Insts[:len(b.Insts)-1] {
			if i.Kind.IsTerminator() {
				errs = append(errs, fmt.Errorf("block %q has interior terminator %s", b.Name, i.Kind))
			}
		}
	}

	// Phi predecessor sets.
	for _, b := range f.Blocks {
		preds := b.Preds()
		for _, i := range b.Insts {
			if i.Kind != Phi {
				continue
			}
			if !samePredSet(i, preds) {
				errs = append(errs, fmt.Errorf("phi in block %q: incoming blocks do not match CFG predecessors", b.Name))
			}
		}
	}

	// SSA dominance.
	dt := BuildDomTree(f)
	pos := make(map[*Inst]int)
	for _, b := range f.Blocks {
		for n, i := range b.Insts {
			pos[i] = n
		}
	}
	dominates := func(def *Inst, user *Inst, useBlock *Block) bool {
		defBlock := def.block
		if defBlock == nil {
			// Parameters and detached constants dominate everything.
			return true
		}
		if !dt.Reachable(useBlock) {
			return true
		}
		if defBlock == useBlock {
			return pos[def] < pos[user] || user.Kind == Phi
		}
		return dt.Dominates(defBlock, useBlock)
	}
	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			if i.Kind == Phi {
				// A phi's use point is at the end of the incoming edge.
				for _, inc := range i.Incoming {
					v := inc.Value
					if v.block != nil && member[v] && !dominatesEdge(dt, v, inc.Pred, pos) {
						errs = append(errs, fmt.Errorf("phi in block %q: incoming value from %q not dominated by its definition", b.Name, inc.Pred.Name))
					}
				}
				continue
			}
			for _, op := range i.Operands() {
				if !member[op] && op.block == nil {
					continue
				}
				if !dominates(op, i, b) {
					errs = append(errs, fmt.Errorf("%s in block %q uses %s before its definition dominates it", i.Kind, b.Name, op.Kind))
				}
			}
		}
	}

	return errs
}

func dominatesEdge(dt *DomTree, def *Inst, pred *Block, pos map[*Inst]int) bool {
	if !dt.Reachable(pred) {
		return true
	}
	if def.block == pred {
		return true
	}
	return dt.Dominates(def.block, pred)
}

func samePredSet(phi *Inst, preds []*Block) bool {
	if len(phi.Incoming) != len(preds) {
		return false
	}
	a := make([]*Block, 0, len(phi.Incoming))
	for _, inc := range phi.Incoming {
		a = append(a, inc.Pred)
	}
	b := append([]*Block(nil), preds...)
	byPtr := func(s []*Block) func(i, j int) bool {
		return func(i, j int) bool { return fmt.Sprintf("%p", s[i]) < fmt.Sprintf("%p", s[j]) }
	}
	sort.Slice(a, byPtr(a))
	sort.Slice(b, byPtr(b))
	for n := range a {
		if a[n] != b[n] {
			return false
		}
	}
	return true
}
