// Package lower translates optimised IR into the machine instruction
// representation: an ABI rewrite on the IR, virtual register assignment,
// and per-opcode mapping into flat MIR.
package lower

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/logger"
	"github.com/fraylang/fcc/pkg/target"
)

// LowerABI applies the x86-64 calling convention adjustments to the IR
// before opcode mapping.
//
// Return values wider than 8 bytes that do not qualify for the SysV
// two-register return (Linux, <= 16 bytes) are rewritten to return through
// a hidden pointer parameter prepended to the signature. Loads wider than
// 8 bytes are rewritten into memcpy when immediately stored, or into a
// copy of the source pointer otherwise.
func LowerABI(m *ir.Module, t target.Target) {
	logger.LogPhase("abi-lowering")
	for _, f := range m.Functions {
		if f.Extern || len(f.Blocks) == 0 {
			continue
		}
		lowerFunctionABI(f, t)
	}
}

func lowerFunctionABI(f *ir.Function, t target.Target) {
	retBytes := f.Type.Ret.Bytes()
	retTwoReg := t.IsLinux() && retBytes > 8 && retBytes <= 16
	retLarge := retBytes > 8

	var retSlot *ir.Inst
	if retLarge && !retTwoReg {
		// Prepend the hidden pointer parameter and renumber the rest.
		f.Type.Params = append([]*ir.Type{ir.PtrTy}, f.Type.Params...)
		hidden := &ir.Inst{Kind: ir.Parameter, Type: ir.PtrTy}
		f.Params = append([]*ir.Inst{hidden}, f.Params...)
		for n, p := range f.Params {
			p.ParamIdx = n
		}

		// Stash the hidden pointer in a slot at the function entry.
		entry := f.Entry()
		retSlot = ir.NewAlloca(ir.PtrTy)
		store := ir.NewStore(hidden, retSlot)
		entry.InsertBefore(retSlot, entry.Insts[0])
		entry.InsertAfter(store, retSlot)
	}

	retType := f.Type.Ret
	for _, b := range f.Blocks {
		insts := append([]*ir.Inst(nil), b.Insts...)
		for _, i := range insts {
			if i.Parent() == nil {
				continue // removed earlier in this sweep
			}
			switch i.Kind {
			case ir.Return:
				if retLarge && !retTwoReg && i.Operand != nil {
					// The returned value must already be in memory; copy it
					// through the hidden pointer and return nothing.
					src := i.Operand
					if !src.Type.IsPtr() {
						diag.ICEf("large return value is not addressed through a pointer")
					}
					dst := ir.NewLoad(ir.PtrTy, retSlot)
					count := ir.NewImm(ir.I64, uint64(retType.Bytes()))
					cp := ir.NewIntrinsic(ir.MemCopy, dst, src, count)
					b.InsertBefore(dst, i)
					b.InsertBefore(count, i)
					b.InsertBefore(cp, i)
					i.RemoveUseOf(src)
					i.Operand = nil
				}

			case ir.Load:
				if i.Type.Bits() <= 64 {
					continue
				}
				users := i.Users()
				if len(users) == 1 && users[0].Kind == ir.Store && users[0].Value == i {
					store := users[0]
					count := ir.NewImm(ir.I64, uint64(i.Type.Bytes()))
					cp := ir.NewIntrinsic(ir.MemCopy, store.Addr, i.Operand, count)
					b.InsertBefore(count, i)
					b.InsertBefore(cp, i)
					store.Remove()
					i.Remove()
				} else {
					// Consumers observe the pointer instead of the value.
					cp := ir.NewCopy(i.Operand)
					b.InsertBefore(cp, i)
					i.ReplaceUsesWith(cp)
					i.Remove()
				}

			case ir.Store:
				if i.Value.Type.Bits() > 64 {
					diag.ICEf("store of value wider than 8 bytes survived ABI lowering")
				}
			}
		}
	}

	if retLarge && !retTwoReg {
		f.Type.Ret = ir.VoidTy
	}
}
