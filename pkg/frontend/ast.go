package frontend

import (
	"fmt"
	"strings"

	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
)

// File is a parsed source file, the common AST all three parsers produce
type File struct {
	Name    string
	Funcs   []*FuncDecl
	Globals []*VarDecl
}

// FuncDecl is a function definition or an extern declaration
type FuncDecl struct {
	Name   string
	Params []Param
	Ret    *TypeExpr
	Body   *BlockStmt // nil for extern declarations
	Extern bool
	Loc    diag.Loc
}

// Param is one declared parameter
type Param struct {
	Name string
	Type *TypeExpr
	Loc  diag.Loc
}

// VarDecl is a module-level variable
type VarDecl struct {
	Name string
	Type *TypeExpr
	Init Expr // nil or an integer literal
	Loc  diag.Loc
}

// TypeExpr is a surface type annotation
type TypeExpr struct {
	Name string // "int", "i8".."i64", "ptr", "void", "bool"
	Loc  diag.Loc
}

// Stmt is a statement node
type Stmt interface{ stmt() }

// BlockStmt is a braced statement list
type BlockStmt struct {
	Stmts []Stmt
}

// VarStmt declares a local variable, optionally initialised
type VarStmt struct {
	Name string
	Type *TypeExpr
	Init Expr
	Loc  diag.Loc
}

// AssignStmt stores into a named variable
type AssignStmt struct {
	Name  string
	Value Expr
	Loc   diag.Loc
}

// IfStmt branches on a condition
type IfStmt struct {
	Cond Expr
	Then *BlockStmt
	Else *BlockStmt // nil when absent
}

// WhileStmt loops while the condition holds
type WhileStmt struct {
	Cond Expr
	Body *BlockStmt
}

// ReturnStmt leaves the function
type ReturnStmt struct {
	Value Expr // nil for void returns
	Loc   diag.Loc
}

// ExprStmt evaluates an expression for its effects
type ExprStmt struct {
	X Expr
}

func (*BlockStmt) stmt()  {}
func (*VarStmt) stmt()    {}
func (*AssignStmt) stmt() {}
func (*IfStmt) stmt()     {}
func (*WhileStmt) stmt()  {}
func (*ReturnStmt) stmt() {}
func (*ExprStmt) stmt()   {}

// Expr is an expression node. Semantic analysis fills in the IR type.
type Expr interface {
	expr()
	Type() *ir.Type
	setType(*ir.Type)
	Pos() diag.Loc
}

// ExprBase carries the pieces every expression shares
type ExprBase struct {
	Typ *ir.Type
	Loc diag.Loc
}

func (e *ExprBase) expr()              {}
func (e *ExprBase) Type() *ir.Type     { return e.Typ }
func (e *ExprBase) setType(t *ir.Type) { e.Typ = t }
func (e *ExprBase) Pos() diag.Loc      { return e.Loc }

// IntLit is an integer literal
type IntLit struct {
	ExprBase
	Value uint64
}

// Ident references a parameter, local or global by name
type Ident struct {
	ExprBase
	Name string
}

// CallExpr calls a named function
type CallExpr struct {
	ExprBase
	Name string
	Args []Expr
}

// BinaryExpr applies a binary operator
type BinaryExpr struct {
	ExprBase
	Op   TokenType
	L, R Expr
}

// UnaryExpr applies a prefix operator (-, ~, !)
type UnaryExpr struct {
	ExprBase
	Op TokenType
	X  Expr
}

// Dump renders the AST for --ast output
func (f *File) Dump() string {
	var sb strings.Builder
	for _, g := range f.Globals {
		fmt.Fprintf(&sb, "global %s: %s\n", g.Name, g.Type.Name)
	}
	for _, fn := range f.Funcs {
		params := make([]string, len(fn.Params))
		for n, p := range fn.Params {
			params[n] = fmt.Sprintf("%s: %s", p.Name, p.Type.Name)
		}
		kind := "func"
		if fn.Extern {
			kind = "extern func"
		}
		fmt.Fprintf(&sb, "%s %s(%s): %s\n", kind, fn.Name, strings.Join(params, ", "), fn.Ret.Name)
		if fn.Body != nil {
			dumpBlock(&sb, fn.Body, 1)
		}
	}
	return sb.String()
}

func indent(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
}

func dumpBlock(sb *strings.Builder, b *BlockStmt, depth int) {
	for _, s := range b.Stmts {
		dumpStmt(sb, s, depth)
	}
}

func dumpStmt(sb *strings.Builder, s Stmt, depth int) {
	indent(sb, depth)
	switch s := s.(type) {
	case *BlockStmt:
		sb.WriteString("block\n")
		dumpBlock(sb, s, depth+1)
	case *VarStmt:
		fmt.Fprintf(sb, "var %s: %s = %s\n", s.Name, s.Type.Name, dumpExpr(s.Init))
	case *AssignStmt:
		fmt.Fprintf(sb, "assign %s = %s\n", s.Name, dumpExpr(s.Value))
	case *IfStmt:
		fmt.Fprintf(sb, "if %s\n", dumpExpr(s.Cond))
		dumpBlock(sb, s.Then, depth+1)
		if s.Else != nil {
			indent(sb, depth)
			sb.WriteString("else\n")
			dumpBlock(sb, s.Else, depth+1)
		}
	case *WhileStmt:
		fmt.Fprintf(sb, "while %s\n", dumpExpr(s.Cond))
		dumpBlock(sb, s.Body, depth+1)
	case *ReturnStmt:
		fmt.Fprintf(sb, "return %s\n", dumpExpr(s.Value))
	case *ExprStmt:
		fmt.Fprintf(sb, "expr %s\n", dumpExpr(s.X))
	}
}

func dumpExpr(e Expr) string {
	switch e := e.(type) {
	case nil:
		return "<none>"
	case *IntLit:
		return fmt.Sprintf("%d", e.Value)
	case *Ident:
		return e.Name
	case *CallExpr:
		args := make([]string, len(e.Args))
		for n, a := range e.Args {
			args[n] = dumpExpr(a)
		}
		return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", "))
	case *BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", dumpExpr(e.L), e.Op, dumpExpr(e.R))
	case *UnaryExpr:
		return fmt.Sprintf("(%s%s)", e.Op, dumpExpr(e.X))
	}
	return "?"
}
