// Package llvm emits textual LLVM IR from the compiler's own IR. The
// output targets the current LLVM syntax with opaque pointers.
package llvm

import (
	"fmt"
	"strings"

	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
)

// Emit renders the whole module
func Emit(m *ir.Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; ModuleID = '%s'\n\n", m.Name)

	for _, g := range m.Globals {
		init := "zeroinitializer"
		if g.Init != nil && g.Init.Kind == ir.Immediate {
			init = fmt.Sprintf("%d", int64(g.Init.Imm))
		}
		fmt.Fprintf(&sb, "@%s = global %s %s\n", g.Name, typeName(g.Type), init)
	}
	if len(m.Globals) > 0 {
		sb.WriteString("\n")
	}

	for _, f := range m.Functions {
		e := &emitter{names: map[*ir.Inst]string{}, blocks: map[*ir.Block]string{}}
		sb.WriteString(e.function(f))
		sb.WriteString("\n")
	}
	return sb.String()
}

func typeName(t *ir.Type) string {
	switch t.Kind {
	case ir.VoidTypeKind:
		return "void"
	case ir.PtrTypeKind:
		return "ptr"
	case ir.IntegerTypeKind:
		return fmt.Sprintf("i%d", t.IntBits)
	case ir.ArrayTypeKind:
		return fmt.Sprintf("[%d x %s]", t.Len, typeName(t.Elem))
	case ir.FunctionTypeKind:
		params := make([]string, len(t.Params))
		for n, p := range t.Params {
			params[n] = typeName(p)
		}
		return fmt.Sprintf("%s (%s)", typeName(t.Ret), strings.Join(params, ", "))
	}
	return "void"
}

type emitter struct {
	sb     strings.Builder
	names  map[*ir.Inst]string
	blocks map[*ir.Block]string
	next   int
}

func (e *emitter) function(f *ir.Function) string {
	params := make([]string, len(f.Params))
	for n, p := range f.Params {
		e.names[p] = fmt.Sprintf("%%%d", e.next)
		params[n] = fmt.Sprintf("%s %s", typeName(p.Type), e.names[p])
		e.next++
	}

	if f.Extern || len(f.Blocks) == 0 {
		types := make([]string, len(f.Type.Params))
		for n, p := range f.Type.Params {
			types[n] = typeName(p)
		}
		return fmt.Sprintf("declare %s @%s(%s)\n", typeName(f.Type.Ret), f.Name, strings.Join(types, ", "))
	}

	for n, b := range f.Blocks {
		e.blocks[b] = fmt.Sprintf("bb%d", n)
		for _, i := range b.Insts {
			if needsName(i) {
				e.names[i] = fmt.Sprintf("%%v%d", e.next)
				e.next++
			}
		}
	}

	fmt.Fprintf(&e.sb, "define %s @%s(%s) {\n", typeName(f.Type.Ret), f.Name, strings.Join(params, ", "))
	for _, b := range f.Blocks {
		fmt.Fprintf(&e.sb, "%s:\n", e.blocks[b])
		for _, i := range b.Insts {
			e.inst(i)
		}
	}
	e.sb.WriteString("}\n")
	return e.sb.String()
}

// needsName reports whether the instruction produces an SSA name in the
// output. Immediates and references fold into their use sites.
func needsName(i *ir.Inst) bool {
	if i.Type.IsVoid() {
		return false
	}
	switch i.Kind {
	case ir.Immediate, ir.GlobalRef, ir.FuncRef:
		return false
	}
	return true
}

// value renders an operand reference
func (e *emitter) value(i *ir.Inst) string {
	switch i.Kind {
	case ir.Immediate:
		return fmt.Sprintf("%d", int64(i.Imm))
	case ir.GlobalRef:
		return "@" + i.Global.Name
	case ir.FuncRef:
		return "@" + i.Func.Name
	}
	return e.names[i]
}

func (e *emitter) typed(i *ir.Inst) string {
	return typeName(i.Type) + " " + e.value(i)
}

func (e *emitter) inst(i *ir.Inst) {
	switch i.Kind {
	case ir.Immediate, ir.GlobalRef, ir.FuncRef:
		// Folded into uses.

	case ir.Parameter:

	case ir.Alloca:
		fmt.Fprintf(&e.sb, "  %s = alloca %s\n", e.names[i], typeName(i.Allocated))

	case ir.Load:
		fmt.Fprintf(&e.sb, "  %s = load %s, ptr %s\n", e.names[i], typeName(i.Type), e.value(i.Operand))

	case ir.Store:
		fmt.Fprintf(&e.sb, "  store %s, ptr %s\n", e.typed(i.Value), e.value(i.Addr))

	case ir.GEP:
		fmt.Fprintf(&e.sb, "  %s = getelementptr %s, ptr %s, i64 %s\n",
			e.names[i], typeName(i.Allocated), e.value(i.Addr), e.value(i.Index))

	case ir.Copy:
		// LLVM has no copy; emit an add of zero for integers and a
		// zero-offset getelementptr for everything else.
		if i.Type.IsInteger() {
			fmt.Fprintf(&e.sb, "  %s = add %s, 0\n", e.names[i], e.typed(i.Operand))
		} else {
			fmt.Fprintf(&e.sb, "  %s = getelementptr i8, ptr %s, i64 0\n", e.names[i], e.value(i.Operand))
		}

	case ir.Call:
		args := make([]string, len(i.Args))
		for n, a := range i.Args {
			args[n] = e.typed(a)
		}
		var callee string
		if i.Indirect {
			callee = e.value(i.CalleeVal)
		} else {
			callee = "@" + i.Callee.Name
		}
		tail := ""
		if i.TailCall {
			tail = "tail "
		}
		if i.Type.IsVoid() {
			fmt.Fprintf(&e.sb, "  %scall void %s(%s)\n", tail, callee, strings.Join(args, ", "))
		} else {
			fmt.Fprintf(&e.sb, "  %s = %scall %s %s(%s)\n", e.names[i], tail, typeName(i.Type), callee, strings.Join(args, ", "))
		}

	case ir.Intrinsic:
		switch i.Intr {
		case ir.MemCopy:
			fmt.Fprintf(&e.sb, "  call void @llvm.memcpy.p0.p0.i64(ptr %s, ptr %s, i64 %s, i1 false)\n",
				e.value(i.Args[0]), e.value(i.Args[1]), e.value(i.Args[2]))
		}

	case ir.Phi:
		pairs := make([]string, len(i.Incoming))
		for n, inc := range i.Incoming {
			pairs[n] = fmt.Sprintf("[ %s, %%%s ]", e.value(inc.Value), e.blocks[inc.Pred])
		}
		fmt.Fprintf(&e.sb, "  %s = phi %s %s\n", e.names[i], typeName(i.Type), strings.Join(pairs, ", "))

	case ir.Branch:
		fmt.Fprintf(&e.sb, "  br label %%%s\n", e.blocks[i.Target])

	case ir.CondBranch:
		cond := e.value(i.Cond)
		if i.Cond.Type != ir.I1 {
			name := fmt.Sprintf("%%c%d", e.next)
			e.next++
			fmt.Fprintf(&e.sb, "  %s = icmp ne %s, 0\n", name, e.typed(i.Cond))
			cond = name
		}
		fmt.Fprintf(&e.sb, "  br i1 %s, label %%%s, label %%%s\n", cond, e.blocks[i.Then], e.blocks[i.Else])

	case ir.Return:
		if i.Operand == nil {
			e.sb.WriteString("  ret void\n")
		} else {
			fmt.Fprintf(&e.sb, "  ret %s\n", e.typed(i.Operand))
		}

	case ir.Unreachable:
		e.sb.WriteString("  unreachable\n")

	case ir.Not:
		fmt.Fprintf(&e.sb, "  %s = xor %s, -1\n", e.names[i], e.typed(i.Operand))
	case ir.Neg:
		fmt.Fprintf(&e.sb, "  %s = sub %s 0, %s\n", e.names[i], typeName(i.Type), e.value(i.Operand))
	case ir.ZExt:
		fmt.Fprintf(&e.sb, "  %s = zext %s to %s\n", e.names[i], e.typed(i.Operand), typeName(i.Type))
	case ir.SExt:
		fmt.Fprintf(&e.sb, "  %s = sext %s to %s\n", e.names[i], e.typed(i.Operand), typeName(i.Type))
	case ir.Trunc:
		fmt.Fprintf(&e.sb, "  %s = trunc %s to %s\n", e.names[i], e.typed(i.Operand), typeName(i.Type))
	case ir.Bitcast:
		fmt.Fprintf(&e.sb, "  %s = bitcast %s to %s\n", e.names[i], e.typed(i.Operand), typeName(i.Type))

	default:
		if op, cmp := binaryName(i.Kind); op != "" {
			if cmp {
				fmt.Fprintf(&e.sb, "  %s = icmp %s %s, %s\n", e.names[i], op, e.typed(i.LHS), e.value(i.RHS))
			} else {
				fmt.Fprintf(&e.sb, "  %s = %s %s, %s\n", e.names[i], op, e.typed(i.LHS), e.value(i.RHS))
			}
			return
		}
		diag.ICEf("LLVM emission: unhandled instruction kind %s", i.Kind)
	}
}

func binaryName(k ir.Kind) (string, bool) {
	switch k {
	case ir.Add:
		return "add", false
	case ir.Sub:
		return "sub", false
	case ir.Mul:
		return "mul", false
	case ir.Div:
		return "udiv", false
	case ir.Mod:
		return "urem", false
	case ir.Shl:
		return "shl", false
	case ir.Shr:
		return "lshr", false
	case ir.Sar:
		return "ashr", false
	case ir.And:
		return "and", false
	case ir.Or:
		return "or", false
	case ir.Xor:
		return "xor", false
	case ir.Eq:
		return "eq", true
	case ir.Ne:
		return "ne", true
	case ir.SLt:
		return "slt", true
	case ir.SLe:
		return "sle", true
	case ir.SGt:
		return "sgt", true
	case ir.SGe:
		return "sge", true
	case ir.ULt:
		return "ult", true
	case ir.ULe:
		return "ule", true
	case ir.UGt:
		return "ugt", true
	case ir.UGe:
		return "uge", true
	}
	return "", false
}
