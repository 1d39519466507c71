// Package regalloc implements linear scan register allocation over MIR.
//
// Design: Poletto & Sarkar style linear scan over a flat numbering of the
// function's instructions. The allocator is driven entirely by a
// MachineDescription, so it stays target-independent: the target names the
// allocatable registers, the return register and its pre-allocation
// placeholder, the move opcode used for spill code, and the implicit
// clobbers of special opcodes.
package regalloc

import (
	"fmt"
	"sort"

	"github.com/fraylang/fcc/pkg/logger"
	"github.com/fraylang/fcc/pkg/mir"
)

// MachineDescription declares what the allocator may use
type MachineDescription struct {
	// Registers is the allocatable set, volatile registers only. The
	// allocator holds out the final two entries as spill scratch.
	Registers []uint32

	// ReturnRegister replaces every operand whose id equals
	// ReturnRegisterToReplace.
	ReturnRegister          uint32
	ReturnRegisterToReplace uint32

	// MoveOpcode is the target's register move, used for spill stores
	// and reloads.
	MoveOpcode mir.Opcode

	// Clobbers lists physical registers implicitly written by an opcode.
	Clobbers map[mir.Opcode][]uint32

	// CallOpcodes are treated as clobbering every allocatable register.
	CallOpcodes []mir.Opcode
}

// interval is the live range of one virtual register
type interval struct {
	vreg  uint32
	start int
	end   int
	size  int

	reg     uint32 // assigned physical register
	spilled bool
	slot    uint64
}

// Allocate rewrites every register operand of f to a physical register or
// a spill slot. Spill reloads and stores are inserted around the uses.
// After it returns, no operand carries a virtual id and no operand carries
// the return-register placeholder.
func Allocate(desc MachineDescription, f *mir.Function) error {
	if len(desc.Registers) < 3 {
		return fmt.Errorf("machine description needs at least three allocatable registers")
	}
	a := &allocator{desc: desc, f: f}
	a.number()
	a.buildIntervals()
	a.scan()
	a.rewrite()
	return a.verify()
}

type allocator struct {
	desc MachineDescription
	f    *mir.Function

	flat      []*mir.Inst // pointers into block inst storage, in layout order
	intervals map[uint32]*interval
	order     []*interval
	physUse   map[uint32][]int // physical register -> positions it is live at
}

func (a *allocator) number() {
	for _, b := range a.f.Blocks {
		for n := range b.Insts {
			a.flat = append(a.flat, &b.Insts[n])
		}
	}
}

func (a *allocator) isCall(op mir.Opcode) bool {
	for _, c := range a.desc.CallOpcodes {
		if op == c {
			return true
		}
	}
	return false
}

func (a *allocator) buildIntervals() {
	a.intervals = make(map[uint32]*interval)
	a.physUse = make(map[uint32][]int)

	touch := func(id uint32, size, pos int) {
		if !mir.IsVirtualReg(id) {
			if id != a.desc.ReturnRegisterToReplace {
				a.physUse[id] = append(a.physUse[id], pos)
			}
			return
		}
		iv, ok := a.intervals[id]
		if !ok {
			iv = &interval{vreg: id, start: pos, end: pos, size: size}
			a.intervals[id] = iv
			return
		}
		if pos < iv.start {
			iv.start = pos
		}
		if pos > iv.end {
			iv.end = pos
		}
		if size > iv.size {
			iv.size = size
		}
	}

	for pos, i := range a.flat {
		if i.Def != 0 {
			touch(i.Def, i.DefSize, pos)
		}
		for _, op := range i.Operands {
			if op.Kind == mir.KindRegister {
				touch(op.Reg, op.Size, pos)
			}
		}
		for _, c := range a.desc.Clobbers[i.Opcode] {
			a.physUse[c] = append(a.physUse[c], pos)
		}
		if a.isCall(i.Opcode) {
			for _, r := range a.desc.Registers {
				a.physUse[r] = append(a.physUse[r], pos)
			}
		}
	}

	for _, iv := range a.intervals {
		a.order = append(a.order, iv)
	}
	sort.Slice(a.order, func(x, y int) bool { return a.order[x].start < a.order[y].start })
}

// physConflict reports whether reg is pinned anywhere inside [start, end]
func (a *allocator) physConflict(reg uint32, start, end int) bool {
	for _, p := range a.physUse[reg] {
		if p >= start && p <= end {
			return true
		}
	}
	return false
}

func (a *allocator) allocatable() []uint32 {
	// The last two registers are the spill scratch pair.
	return a.desc.Registers[:len(a.desc.Registers)-2]
}

func (a *allocator) scratch() (uint32, uint32) {
	n := len(a.desc.Registers)
	return a.desc.Registers[n-2], a.desc.Registers[n-1]
}

func (a *allocator) scan() {
	var active []*interval
	regs := a.allocatable()

	for _, iv := range a.order {
		// Expire intervals that ended before this one starts.
		live := active[:0]
		for _, act := range active {
			if act.end >= iv.start {
				live = append(live, act)
			}
		}
		active = live

		inUse := make(map[uint32]bool)
		for _, act := range active {
			if !act.spilled {
				inUse[act.reg] = true
			}
		}

		assigned := false
		for _, r := range regs {
			if inUse[r] || a.physConflict(r, iv.start, iv.end) {
				continue
			}
			iv.reg = r
			assigned = true
			break
		}
		if !assigned {
			iv.spilled = true
			iv.slot = a.f.AddLocal((iv.size + 7) / 8)
			logger.Debug("Spilled interval", "vreg", iv.vreg, "slot", iv.slot)
		}
		active = append(active, iv)
	}
}

// rewrite substitutes assignments into the instruction stream and inserts
// spill code. Spilled uses reload through the scratch pair; a spilled def
// is computed in scratch and stored back after the instruction.
func (a *allocator) rewrite() {
	s1, s2 := a.scratch()
	move := a.desc.MoveOpcode

	for _, b := range a.f.Blocks {
		out := make([]mir.Inst, 0, len(b.Insts))
		for _, inst := range b.Insts {
			i := inst
			// scratchFor hands out the two scratch registers per spilled
			// vreg in this instruction.
			taken := make(map[uint32]uint32)
			scratchFor := func(vreg uint32) uint32 {
				if r, ok := taken[vreg]; ok {
					return r
				}
				var r uint32
				switch len(taken) {
				case 0:
					r = s1
				case 1:
					r = s2
				default:
					logger.Error("Too many spilled values in one instruction", "function", a.f.Name)
					r = s1
				}
				taken[vreg] = r
				return r
			}

			resolve := func(id uint32, size int) uint32 {
				if id == a.desc.ReturnRegisterToReplace {
					return a.desc.ReturnRegister
				}
				if !mir.IsVirtualReg(id) {
					return id
				}
				iv := a.intervals[id]
				if iv == nil {
					return id
				}
				if !iv.spilled {
					return iv.reg
				}
				r := scratchFor(id)
				out = append(out, mir.Inst{
					Opcode:   move,
					Def:      r,
					DefSize:  size,
					Operands: []mir.Operand{mir.LocalRef(iv.slot)},
				})
				return r
			}

			// The def doubles as an input on two-address targets, so a
			// spilled def is reloaded like a use and stored back after.
			var spilledDef *interval
			ops := append([]mir.Operand(nil), i.Operands...)
			for n := range ops {
				if ops[n].Kind == mir.KindRegister {
					ops[n].Reg = resolve(ops[n].Reg, ops[n].Size)
				}
			}
			i.Operands = ops
			if i.Def != 0 {
				if iv := a.intervals[i.Def]; iv != nil && iv.spilled {
					spilledDef = iv
				}
				i.Def = resolve(i.Def, i.DefSize)
			}

			out = append(out, i)

			if spilledDef != nil {
				out = append(out, mir.Inst{
					Opcode: move,
					Operands: []mir.Operand{
						mir.LocalRef(spilledDef.slot),
						mir.Reg(taken[spilledDef.vreg], i.DefSize),
					},
				})
			}
		}
		b.Insts = out
	}
}

// verify checks the allocator's postconditions: no virtual ids and no
// return-register placeholders survive.
func (a *allocator) verify() error {
	for _, b := range a.f.Blocks {
		for _, i := range b.Insts {
			if mir.IsVirtualReg(i.Def) || i.Def == a.desc.ReturnRegisterToReplace {
				return fmt.Errorf("register allocation left %d unresolved in %s", i.Def, a.f.Name)
			}
			for _, op := range i.Operands {
				if op.Kind != mir.KindRegister {
					continue
				}
				if mir.IsVirtualReg(op.Reg) || op.Reg == a.desc.ReturnRegisterToReplace {
					return fmt.Errorf("register allocation left operand %d unresolved in %s", op.Reg, a.f.Name)
				}
			}
		}
	}
	return nil
}
