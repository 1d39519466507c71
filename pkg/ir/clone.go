package ir

// CloneBlocks clones the body of src into fresh blocks owned by dst,
// substituting values through valueMap (seeded by the caller, typically
// parameter -> argument). Returns the block mapping. The clones are not
// inserted into dst.Blocks; the caller decides placement.
//
// Cloning is two-phase so that forward references (phis, branch targets)
// resolve: shells for every instruction first, operand wiring second.
// User lists are rebuilt from scratch on the clones.
func CloneBlocks(src, dst *Function, valueMap map[*Inst]*Inst) map[*Block]*Block {
	blockMap := make(map[*Block]*Block, len(src.Blocks))

	for _, b := range src.Blocks {
		nb := &Block{Name: b.Name, fn: dst}
		blockMap[b] = nb
		for _, i := range b.Insts {
			ni := &Inst{
				Kind:      i.Kind,
				Type:      i.Type,
				Imm:       i.Imm,
				Global:    i.Global,
				Func:      i.Func,
				ParamIdx:  i.ParamIdx,
				Allocated: i.Allocated,
				Callee:    i.Callee,
				Indirect:  i.Indirect,
				TailCall:  i.TailCall,
				Intr:      i.Intr,
			}
			valueMap[i] = ni
			nb.Append(ni)
		}
	}

	resolve := func(v *Inst) *Inst {
		if v == nil {
			return nil
		}
		if nv, ok := valueMap[v]; ok {
			return nv
		}
		return v
	}
	resolveBlock := func(b *Block) *Block {
		if b == nil {
			return nil
		}
		if nb, ok := blockMap[b]; ok {
			return nb
		}
		return b
	}

	for _, b := range src.Blocks {
		for n, i := range b.Insts {
			ni := blockMap[b].Insts[n]
			wire := func(v *Inst) *Inst {
				nv := resolve(v)
				if nv != nil {
					nv.addUser(ni)
				}
				return nv
			}
			ni.Operand = wire(i.Operand)
			ni.LHS = wire(i.LHS)
			ni.RHS = wire(i.RHS)
			ni.Addr = wire(i.Addr)
			ni.Value = wire(i.Value)
			ni.Index = wire(i.Index)
			ni.CalleeVal = wire(i.CalleeVal)
			ni.Cond = wire(i.Cond)
			if len(i.Args) > 0 {
				ni.Args = make([]*Inst, len(i.Args))
				for k, a := range i.Args {
					ni.Args[k] = wire(a)
				}
			}
			if len(i.Incoming) > 0 {
				ni.Incoming = make([]PhiIncoming, len(i.Incoming))
				for k, inc := range i.Incoming {
					ni.Incoming[k] = PhiIncoming{Pred: resolveBlock(inc.Pred), Value: wire(inc.Value)}
				}
			}
			ni.Target = resolveBlock(i.Target)
			ni.Then = resolveBlock(i.Then)
			ni.Else = resolveBlock(i.Else)
		}
	}

	return blockMap
}
