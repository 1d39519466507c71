package ir

import (
	"fmt"
	"strings"
)

// printer assigns stable per-function value numbers for textual output
type printer struct {
	sb    strings.Builder
	names map[*Inst]string
	bnum  map[*Block]string
	next  int
}

// String renders the module as text. The format is for humans, dumps and
// golden tests; it is not parsed back.
func (m *Module) String() string {
	var sb strings.Builder
	for _, g := range m.Globals {
		fmt.Fprintf(&sb, "global @%s : %s", g.Name, g.Type)
		if g.Init != nil {
			p := &printer{names: map[*Inst]string{}, bnum: map[*Block]string{}}
			fmt.Fprintf(&sb, " = %s", p.operand(g.Init))
		}
		sb.WriteString("\n")
	}
	for _, f := range m.Functions {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// String renders one function as text
func (f *Function) String() string {
	p := &printer{names: map[*Inst]string{}, bnum: map[*Block]string{}}
	return p.function(f)
}

func (p *printer) function(f *Function) string {
	for _, param := range f.Params {
		p.names[param] = fmt.Sprintf("%%%d", p.next)
		p.next++
	}
	for n, b := range f.Blocks {
		if b.Name != "" {
			p.bnum[b] = b.Name
		} else {
			p.bnum[b] = fmt.Sprintf("bb%d", n)
		}
		for _, i := range b.Insts {
			if !i.Type.IsVoid() {
				p.names[i] = fmt.Sprintf("%%%d", p.next)
				p.next++
			}
		}
	}

	var attrs []string
	if f.Pure {
		attrs = append(attrs, "pure")
	}
	if f.Leaf {
		attrs = append(attrs, "leaf")
	}
	if f.NoReturn {
		attrs = append(attrs, "noreturn")
	}
	if f.Extern {
		attrs = append(attrs, "extern")
	}
	attrStr := ""
	if len(attrs) > 0 {
		attrStr = " " + strings.Join(attrs, " ")
	}

	params := make([]string, len(f.Params))
	for n, param := range f.Params {
		params[n] = fmt.Sprintf("%s %s", param.Type, p.names[param])
	}
	fmt.Fprintf(&p.sb, "defun %s(%s) -> %s%s", f.Name, strings.Join(params, ", "), f.Type.Ret, attrStr)
	if f.Extern || len(f.Blocks) == 0 {
		p.sb.WriteString("\n")
		return p.sb.String()
	}
	p.sb.WriteString(" {\n")
	for _, b := range f.Blocks {
		fmt.Fprintf(&p.sb, "%s:\n", p.bnum[b])
		for _, i := range b.Insts {
			fmt.Fprintf(&p.sb, "  %s\n", p.inst(i))
		}
	}
	p.sb.WriteString("}\n")
	return p.sb.String()
}

func (p *printer) operand(i *Inst) string {
	if i == nil {
		return "void"
	}
	switch i.Kind {
	case Immediate:
		return fmt.Sprintf("%d", int64(i.Imm))
	case GlobalRef:
		return "@" + i.Global.Name
	case FuncRef:
		return "@" + i.Func.Name
	}
	if name, ok := p.names[i]; ok {
		return name
	}
	return "%?"
}

func (p *printer) inst(i *Inst) string {
	def := ""
	if name, ok := p.names[i]; ok {
		def = name + " = "
	}
	switch i.Kind {
	case Immediate:
		return fmt.Sprintf("%simm %s %d", def, i.Type, int64(i.Imm))
	case GlobalRef:
		return fmt.Sprintf("%sglobalref @%s", def, i.Global.Name)
	case FuncRef:
		return fmt.Sprintf("%sfuncref @%s", def, i.Func.Name)
	case Copy:
		return fmt.Sprintf("%scopy %s", def, p.operand(i.Operand))
	case Alloca:
		return fmt.Sprintf("%salloca %s", def, i.Allocated)
	case Load:
		return fmt.Sprintf("%sload %s, %s", def, i.Type, p.operand(i.Operand))
	case Store:
		return fmt.Sprintf("store %s, %s", p.operand(i.Value), p.operand(i.Addr))
	case GEP:
		return fmt.Sprintf("%sgep %s, %s, %s", def, i.Allocated, p.operand(i.Addr), p.operand(i.Index))
	case Call:
		args := make([]string, len(i.Args))
		for n, a := range i.Args {
			args[n] = p.operand(a)
		}
		tail := ""
		if i.TailCall {
			tail = "tail "
		}
		if i.Indirect {
			return fmt.Sprintf("%s%scall %s(%s)", def, tail, p.operand(i.CalleeVal), strings.Join(args, ", "))
		}
		return fmt.Sprintf("%s%scall @%s(%s)", def, tail, i.Callee.Name, strings.Join(args, ", "))
	case Intrinsic:
		args := make([]string, len(i.Args))
		for n, a := range i.Args {
			args[n] = p.operand(a)
		}
		return fmt.Sprintf("%sintrinsic memcpy(%s)", def, strings.Join(args, ", "))
	case Phi:
		var pairs []string
		for _, inc := range i.Incoming {
			pairs = append(pairs, fmt.Sprintf("[%s, %s]", p.bnum[inc.Pred], p.operand(inc.Value)))
		}
		return fmt.Sprintf("%sphi %s %s", def, i.Type, strings.Join(pairs, ", "))
	case Branch:
		return fmt.Sprintf("branch %s", p.bnum[i.Target])
	case CondBranch:
		return fmt.Sprintf("condbranch %s, %s, %s", p.operand(i.Cond), p.bnum[i.Then], p.bnum[i.Else])
	case Return:
		if i.Operand == nil {
			return "return"
		}
		return fmt.Sprintf("return %s", p.operand(i.Operand))
	case Unreachable:
		return "unreachable"
	default:
		if i.Kind.IsBinary() {
			return fmt.Sprintf("%s%s %s %s, %s", def, i.Kind, i.Type, p.operand(i.LHS), p.operand(i.RHS))
		}
		if i.Kind.IsUnary() {
			return fmt.Sprintf("%s%s %s %s", def, i.Kind, i.Type, p.operand(i.Operand))
		}
	}
	return fmt.Sprintf("%s%s", def, i.Kind)
}
