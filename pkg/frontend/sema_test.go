package frontend

import (
	"io"
	"testing"

	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *diag.Engine {
	e := diag.NewEngine()
	e.Out = io.Discard
	return e
}

// funcFile constructs a one-function AST: fn name(params): ret { body }
func funcFile(fn *FuncDecl) *File {
	return &File{Name: "test.int", Funcs: []*FuncDecl{fn}}
}

func intType() *TypeExpr { return &TypeExpr{Name: "int"} }

func TestAnalyseResolvesTypes(t *testing.T) {
	ret := &ReturnStmt{Value: &BinaryExpr{
		Op: PLUS,
		L:  &Ident{Name: "x"},
		R:  &IntLit{Value: 1},
	}}
	fn := &FuncDecl{
		Name:   "addone",
		Params: []Param{{Name: "x", Type: intType()}},
		Ret:    intType(),
		Body:   &BlockStmt{Stmts: []Stmt{ret}},
	}

	e := quiet()
	require.True(t, Analyse(funcFile(fn), e))
	assert.Equal(t, ir.I64, ret.Value.Type())
}

func TestAnalyseUndeclaredName(t *testing.T) {
	fn := &FuncDecl{
		Name: "f",
		Ret:  intType(),
		Body: &BlockStmt{Stmts: []Stmt{
			&ReturnStmt{Value: &Ident{Name: "ghost"}},
		}},
	}
	e := quiet()
	assert.False(t, Analyse(funcFile(fn), e))
}

func TestAnalyseCallArity(t *testing.T) {
	callee := &FuncDecl{
		Name:   "g",
		Params: []Param{{Name: "a", Type: intType()}},
		Ret:    intType(),
		Extern: true,
	}
	fn := &FuncDecl{
		Name: "f",
		Ret:  intType(),
		Body: &BlockStmt{Stmts: []Stmt{
			&ReturnStmt{Value: &CallExpr{Name: "g"}},
		}},
	}
	e := quiet()
	assert.False(t, Analyse(&File{Funcs: []*FuncDecl{callee, fn}}, e))
}

func TestAnalyseVoidReturnMismatch(t *testing.T) {
	fn := &FuncDecl{
		Name: "f",
		Ret:  &TypeExpr{Name: "void"},
		Body: &BlockStmt{Stmts: []Stmt{
			&ReturnStmt{Value: &IntLit{Value: 1}},
		}},
	}
	e := quiet()
	assert.False(t, Analyse(funcFile(fn), e))
}

func TestAnalyseRedeclaredFunction(t *testing.T) {
	a := &FuncDecl{Name: "f", Ret: intType(), Extern: true}
	b := &FuncDecl{Name: "f", Ret: intType(), Extern: true}
	e := quiet()
	assert.False(t, Analyse(&File{Funcs: []*FuncDecl{a, b}}, e))
}

func TestAnalyseShadowingScopes(t *testing.T) {
	// var x in an inner block shadows the parameter legally.
	fn := &FuncDecl{
		Name:   "f",
		Params: []Param{{Name: "x", Type: intType()}},
		Ret:    intType(),
		Body: &BlockStmt{Stmts: []Stmt{
			&BlockStmt{Stmts: []Stmt{
				&VarStmt{Name: "x", Type: intType(), Init: &IntLit{Value: 1}},
			}},
			&ReturnStmt{Value: &Ident{Name: "x"}},
		}},
	}
	e := quiet()
	assert.True(t, Analyse(funcFile(fn), e))
}
