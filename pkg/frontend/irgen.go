package frontend

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
)

// Generate lowers a type-checked file into an IR module. Locals live in
// allocas with explicit loads and stores; the optimiser's mem2reg and
// store forwarding passes promote them, so no phi construction happens
// here. The entry function is "main" when the file defines one.
func Generate(f *File) *ir.Module {
	g := &irgen{file: f, m: ir.NewModule(f.Name)}
	g.run()
	return g.m
}

type irgen struct {
	file *File
	m    *ir.Module

	fn      *ir.Function
	block   *ir.Block
	nblocks int

	funcs   map[string]*ir.Function
	globals map[string]*ir.GlobalVar
	locals  []map[string]*ir.Inst // name -> alloca
}

func (g *irgen) run() {
	g.funcs = make(map[string]*ir.Function)
	g.globals = make(map[string]*ir.GlobalVar)

	for _, vd := range g.file.Globals {
		var init *ir.Inst
		if lit, ok := vd.Init.(*IntLit); ok {
			init = ir.NewImm(ir.I64, lit.Value)
		}
		g.globals[vd.Name] = g.m.NewGlobal(vd.Name, typeOf(vd.Type), init)
	}

	for _, fd := range g.file.Funcs {
		params := make([]*ir.Type, len(fd.Params))
		for n, p := range fd.Params {
			params[n] = typeOf(p.Type)
		}
		fn := g.m.NewFunction(fd.Name, ir.FunctionType(typeOf(fd.Ret), params...))
		fn.Extern = fd.Extern
		g.funcs[fd.Name] = fn
	}

	for _, fd := range g.file.Funcs {
		if fd.Body == nil {
			continue
		}
		g.genFunc(fd)
	}

	if main := g.m.FindFunction("main"); main != nil {
		g.m.Entry = main
	}
}

// typeOf mirrors sema's type resolution; sema already rejected anything
// unknown
func typeOf(t *TypeExpr) *ir.Type {
	switch t.Name {
	case "void":
		return ir.VoidTy
	case "ptr":
		return ir.PtrTy
	case "bool":
		return ir.I1
	case "i32":
		return ir.I32
	case "i16":
		return ir.I16
	case "i8", "char":
		return ir.I8
	default:
		return ir.I64
	}
}

func (g *irgen) newBlock() *ir.Block {
	g.nblocks++
	return g.fn.NewBlock("")
}

func (g *irgen) emit(i *ir.Inst) *ir.Inst {
	return g.block.Append(i)
}

func (g *irgen) genFunc(fd *FuncDecl) {
	g.fn = g.funcs[fd.Name]
	g.nblocks = 0
	g.block = g.newBlock()
	g.locals = nil

	// Parameters live in stack slots like any other local; mem2reg
	// promotes the ones that are never reassigned.
	g.pushScope()
	for n, p := range fd.Params {
		slot := g.emit(ir.NewAlloca(g.fn.Params[n].Type))
		g.emit(ir.NewStore(g.fn.Params[n], slot))
		g.locals[0][p.Name] = slot
	}
	g.genBlock(fd.Body)
	g.popScope()

	// Fall off the end: synthesise the implicit return.
	if g.block.Terminator() == nil {
		if g.fn.Type.Ret.IsVoid() {
			g.emit(ir.NewReturn(nil))
		} else {
			zero := g.emit(ir.NewImm(g.fn.Type.Ret, 0))
			g.emit(ir.NewReturn(zero))
		}
	}
}

func (g *irgen) pushScope() { g.locals = append(g.locals, map[string]*ir.Inst{}) }
func (g *irgen) popScope()  { g.locals = g.locals[:len(g.locals)-1] }

func (g *irgen) lookupLocal(name string) (*ir.Inst, bool) {
	for n := len(g.locals) - 1; n >= 0; n-- {
		if a, ok := g.locals[n][name]; ok {
			return a, true
		}
	}
	return nil, false
}

func (g *irgen) genBlock(b *BlockStmt) {
	g.pushScope()
	for _, s := range b.Stmts {
		g.genStmt(s)
		if g.block.Terminator() != nil {
			break // statements after a return are unreachable
		}
	}
	g.popScope()
}

func (g *irgen) genStmt(s Stmt) {
	switch s := s.(type) {
	case *BlockStmt:
		g.genBlock(s)

	case *VarStmt:
		t := typeOf(s.Type)
		slot := g.emit(ir.NewAlloca(t))
		g.locals[len(g.locals)-1][s.Name] = slot
		if s.Init != nil {
			v := g.genExpr(s.Init, t)
			g.emit(ir.NewStore(v, slot))
		}

	case *AssignStmt:
		if slot, ok := g.lookupLocal(s.Name); ok {
			v := g.genExpr(s.Value, slot.Allocated)
			g.emit(ir.NewStore(v, slot))
			return
		}
		if gv, ok := g.globals[s.Name]; ok {
			v := g.genExpr(s.Value, gv.Type)
			addr := g.emit(ir.NewGlobalRef(gv))
			g.emit(ir.NewStore(v, addr))
			return
		}
		diag.ICEf("assignment to unresolved name %q", s.Name)

	case *IfStmt:
		cond := g.genExpr(s.Cond, nil)
		then := g.newBlock()
		var els *ir.Block
		end := g.newBlock()
		if s.Else != nil {
			els = g.newBlock()
			g.emit(ir.NewCondBranch(cond, then, els))
		} else {
			g.emit(ir.NewCondBranch(cond, then, end))
		}

		g.block = then
		g.genBlock(s.Then)
		if g.block.Terminator() == nil {
			g.emit(ir.NewBranch(end))
		}

		if els != nil {
			g.block = els
			g.genBlock(s.Else)
			if g.block.Terminator() == nil {
				g.emit(ir.NewBranch(end))
			}
		}
		g.block = end

	case *WhileStmt:
		header := g.newBlock()
		body := g.newBlock()
		end := g.newBlock()
		g.emit(ir.NewBranch(header))

		g.block = header
		cond := g.genExpr(s.Cond, nil)
		g.emit(ir.NewCondBranch(cond, body, end))

		g.block = body
		g.genBlock(s.Body)
		if g.block.Terminator() == nil {
			g.emit(ir.NewBranch(header))
		}
		g.block = end

	case *ReturnStmt:
		if s.Value == nil {
			g.emit(ir.NewReturn(nil))
			return
		}
		v := g.genExpr(s.Value, g.fn.Type.Ret)
		g.emit(ir.NewReturn(v))

	case *ExprStmt:
		g.genExpr(s.X, nil)
	}
}

// genExpr emits code for an expression. When want is non-nil the result
// is coerced to that integer width.
func (g *irgen) genExpr(e Expr, want *ir.Type) *ir.Inst {
	v := g.genExprRaw(e)
	if want == nil || v.Type.Equal(want) || !want.IsInteger() || !v.Type.IsInteger() {
		return v
	}
	if v.Type.Bits() < want.Bits() {
		return g.emit(ir.NewUnary(ir.ZExt, want, v))
	}
	return g.emit(ir.NewUnary(ir.Trunc, want, v))
}

func (g *irgen) genExprRaw(e Expr) *ir.Inst {
	switch e := e.(type) {
	case *IntLit:
		return g.emit(ir.NewImm(e.Type(), e.Value))

	case *Ident:
		if slot, ok := g.lookupLocal(e.Name); ok {
			return g.emit(ir.NewLoad(slot.Allocated, slot))
		}
		if gv, ok := g.globals[e.Name]; ok {
			addr := g.emit(ir.NewGlobalRef(gv))
			return g.emit(ir.NewLoad(gv.Type, addr))
		}
		diag.ICEf("unresolved name %q survived analysis", e.Name)

	case *CallExpr:
		callee := g.funcs[e.Name]
		args := make([]*ir.Inst, len(e.Args))
		for n, a := range e.Args {
			var want *ir.Type
			if n < len(callee.Type.Params) {
				want = callee.Type.Params[n]
			}
			args[n] = g.genExpr(a, want)
		}
		return g.emit(ir.NewCall(callee, args...))

	case *BinaryExpr:
		lhs := g.genExpr(e.L, ir.I64)
		rhs := g.genExpr(e.R, ir.I64)
		if kind, isCmp := binKind(e.Op); isCmp {
			cmp := g.emit(ir.NewBinary(kind, ir.I1, lhs, rhs))
			return g.emit(ir.NewUnary(ir.ZExt, ir.I64, cmp))
		} else {
			return g.emit(ir.NewBinary(kind, ir.I64, lhs, rhs))
		}

	case *UnaryExpr:
		x := g.genExpr(e.X, ir.I64)
		switch e.Op {
		case MINUS:
			return g.emit(ir.NewUnary(ir.Neg, ir.I64, x))
		case TILDE:
			return g.emit(ir.NewUnary(ir.Not, ir.I64, x))
		case BANG:
			zero := g.emit(ir.NewImm(ir.I64, 0))
			cmp := g.emit(ir.NewBinary(ir.Eq, ir.I1, x, zero))
			return g.emit(ir.NewUnary(ir.ZExt, ir.I64, cmp))
		}
	}
	diag.ICEf("unhandled expression in IR generation")
	return nil
}

// binKind maps a binary operator token to an IR kind; the second result
// reports whether it is a comparison
func binKind(op TokenType) (ir.Kind, bool) {
	switch op {
	case PLUS:
		return ir.Add, false
	case MINUS:
		return ir.Sub, false
	case STAR:
		return ir.Mul, false
	case SLASH:
		return ir.Div, false
	case PERCENT:
		return ir.Mod, false
	case SHL:
		return ir.Shl, false
	case SHR:
		return ir.Shr, false
	case AMP:
		return ir.And, false
	case PIPE:
		return ir.Or, false
	case CARET:
		return ir.Xor, false
	case EQ:
		return ir.Eq, true
	case NE:
		return ir.Ne, true
	case LT:
		return ir.SLt, true
	case LE:
		return ir.SLe, true
	case GT:
		return ir.SGt, true
	case GE:
		return ir.SGe, true
	}
	diag.ICEf("not a binary operator token")
	return ir.Add, false
}
