package optimizer

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
)

// stackVar tracks one alloca while classifying it for promotion
type stackVar struct {
	alloca        *ir.Inst
	store         *ir.Inst
	loads         []*ir.Inst
	unoptimisable bool
}

// Mem2Reg promotes stack slots to SSA values. An alloca is promotable iff
// exactly one store targets it, every other user is a load, no use exists
// beyond those (the address is never taken), and no load precedes the
// store in traversal order. A load before the single store means the
// variable is read uninitialised: warn and skip. Multi-store and
// address-taken variables are left to store forwarding.
func Mem2Reg(f *ir.Function, diags *diag.Engine) bool {
	changed := false
	var vars []*stackVar

	find := func(alloca *ir.Inst) *stackVar {
		for _, v := range vars {
			if v.alloca == alloca {
				return v
			}
		}
		return nil
	}

	for _, b := range f.Blocks {
		for _, i := range b.Insts {
			switch i.Kind {
			case ir.Alloca:
				vars = append(vars, &stackVar{alloca: i})

			case ir.Store:
				if v := find(i.Addr); v != nil && !v.unoptimisable {
					if v.store != nil {
						v.unoptimisable = true
					} else {
						v.store = i
					}
				}

			case ir.Load:
				if v := find(i.Operand); v != nil && !v.unoptimisable {
					if v.store == nil {
						v.unoptimisable = true
						if diags != nil {
							diags.Warn(diag.Loc{}, "load of uninitialised variable in function %s", f.Name)
						}
					} else {
						v.loads = append(v.loads, i)
					}
				}
			}
		}
	}

	for _, v := range vars {
		// The user count check is the address-taken proxy: the only
		// permitted users are the single store plus the loads.
		if v.unoptimisable || v.store == nil || len(v.alloca.Users()) != len(v.loads)+1 {
			continue
		}

		changed = true
		stored := v.store.Value
		for _, load := range v.loads {
			load.ReplaceUsesWith(stored)
			load.Remove()
		}
		v.store.Remove()
		v.alloca.Remove()
	}

	return changed
}

// StoreForwarding forwards block-local stores to loads. Per block it
// tracks the most recent store to each alloca; a load from a tracked
// alloca takes the stored value directly, and a store that completely
// shadows a previous one (no intervening use of the address) erases it.
// The table resets at block boundaries: no cross-block forwarding.
func StoreForwarding(f *ir.Function) bool {
	type entry struct {
		store *ir.Inst
		pos   int
	}
	changed := false

	for _, b := range f.Blocks {
		table := make(map[*ir.Inst]entry)
		insts := append([]*ir.Inst(nil), b.Insts...)
		pos := make(map[*ir.Inst]int, len(insts))
		for n, i := range insts {
			pos[i] = n
		}

		for n, i := range insts {
			if i.Parent() == nil {
				continue
			}
			switch i.Kind {
			case ir.Store:
				if i.Addr.Kind != ir.Alloca {
					break
				}
				if prev, ok := table[i.Addr]; ok {
					// Erase the previous store if nothing between the two
					// touches the address.
					used := false
					for _, u := range i.Addr.Users() {
						if p, in := pos[u]; in && u.Parent() == b && p > prev.pos && p < n && u != i {
							used = true
							break
						}
					}
					if !used {
						prev.store.Remove()
						changed = true
					}
				}
				table[i.Addr] = entry{store: i, pos: n}

			case ir.Load:
				if i.Operand.Kind != ir.Alloca {
					break
				}
				if e, ok := table[i.Operand]; ok {
					i.ReplaceUsesWith(e.store.Value)
					i.Remove()
					changed = true
				}
			}
		}
	}
	return changed
}
