package frontend

import (
	"testing"

	"github.com/fraylang/fcc/pkg/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generate runs sema and irgen over an AST file
func generate(t *testing.T, f *File) *ir.Module {
	t.Helper()
	e := quiet()
	require.True(t, Analyse(f, e), "analysis must succeed")
	m := Generate(f)
	for _, fn := range m.Functions {
		require.Empty(t, ir.Validate(fn), "generated IR must be valid for %s", fn.Name)
	}
	return m
}

func TestGenerateSimpleFunction(t *testing.T) {
	fn := &FuncDecl{
		Name:   "addone",
		Params: []Param{{Name: "x", Type: intType()}},
		Ret:    intType(),
		Body: &BlockStmt{Stmts: []Stmt{
			&ReturnStmt{Value: &BinaryExpr{Op: PLUS, L: &Ident{Name: "x"}, R: &IntLit{Value: 1}}},
		}},
	}
	m := generate(t, funcFile(fn))

	f := m.FindFunction("addone")
	require.NotNil(t, f)
	require.Len(t, f.Blocks, 1)

	// Parameters spill to a slot at entry; mem2reg promotes them later.
	insts := f.Entry().Insts
	assert.Equal(t, ir.Alloca, insts[0].Kind)
	assert.Equal(t, ir.Store, insts[1].Kind)
	assert.Equal(t, ir.Return, insts[len(insts)-1].Kind)
}

func TestGenerateIfElse(t *testing.T) {
	fn := &FuncDecl{
		Name:   "pick",
		Params: []Param{{Name: "n", Type: intType()}},
		Ret:    intType(),
		Body: &BlockStmt{Stmts: []Stmt{
			&IfStmt{
				Cond: &BinaryExpr{Op: EQ, L: &Ident{Name: "n"}, R: &IntLit{Value: 0}},
				Then: &BlockStmt{Stmts: []Stmt{&ReturnStmt{Value: &IntLit{Value: 1}}}},
				Else: &BlockStmt{Stmts: []Stmt{&ReturnStmt{Value: &IntLit{Value: 2}}}},
			},
		}},
	}
	m := generate(t, funcFile(fn))
	f := m.FindFunction("pick")
	require.NotNil(t, f)

	// entry + then + else + join (the join holds the implicit return).
	assert.GreaterOrEqual(t, len(f.Blocks), 3)
	term := f.Entry().Terminator()
	require.Equal(t, ir.CondBranch, term.Kind)
}

func TestGenerateWhileLoop(t *testing.T) {
	fn := &FuncDecl{
		Name:   "sum",
		Params: []Param{{Name: "n", Type: intType()}},
		Ret:    intType(),
		Body: &BlockStmt{Stmts: []Stmt{
			&VarStmt{Name: "acc", Type: intType(), Init: &IntLit{Value: 0}},
			&WhileStmt{
				Cond: &BinaryExpr{Op: GT, L: &Ident{Name: "n"}, R: &IntLit{Value: 0}},
				Body: &BlockStmt{Stmts: []Stmt{
					&AssignStmt{Name: "acc", Value: &BinaryExpr{Op: PLUS, L: &Ident{Name: "acc"}, R: &Ident{Name: "n"}}},
					&AssignStmt{Name: "n", Value: &BinaryExpr{Op: MINUS, L: &Ident{Name: "n"}, R: &IntLit{Value: 1}}},
				}},
			},
			&ReturnStmt{Value: &Ident{Name: "acc"}},
		}},
	}
	m := generate(t, funcFile(fn))
	f := m.FindFunction("sum")
	require.NotNil(t, f)
	require.Len(t, f.Blocks, 4, "entry, header, body, exit")

	header := f.Blocks[1]
	require.Equal(t, ir.CondBranch, header.Terminator().Kind)
	body := f.Blocks[2]
	assert.Equal(t, ir.Branch, body.Terminator().Kind)
	assert.Same(t, header, body.Terminator().Target, "the loop back-edge")
}

func TestGenerateGlobals(t *testing.T) {
	file := &File{
		Name:    "test.int",
		Globals: []*VarDecl{{Name: "counter", Type: intType(), Init: &IntLit{Value: 5}}},
		Funcs: []*FuncDecl{{
			Name: "bump",
			Ret:  &TypeExpr{Name: "void"},
			Body: &BlockStmt{Stmts: []Stmt{
				&AssignStmt{Name: "counter", Value: &BinaryExpr{Op: PLUS, L: &Ident{Name: "counter"}, R: &IntLit{Value: 1}}},
			}},
		}},
	}
	m := generate(t, file)

	require.Len(t, m.Globals, 1)
	assert.EqualValues(t, 5, m.Globals[0].Init.Imm)

	f := m.FindFunction("bump")
	var sawGlobalStore bool
	for _, i := range f.Entry().Insts {
		if i.Kind == ir.Store && i.Addr.Kind == ir.GlobalRef {
			sawGlobalStore = true
		}
	}
	assert.True(t, sawGlobalStore)
}

func TestGenerateEntryIsMain(t *testing.T) {
	file := funcFile(&FuncDecl{
		Name: "main",
		Ret:  intType(),
		Body: &BlockStmt{Stmts: []Stmt{&ReturnStmt{Value: &IntLit{Value: 0}}}},
	})
	m := generate(t, file)
	require.NotNil(t, m.Entry)
	assert.Equal(t, "main", m.Entry.Name)
}

func TestGenerateImplicitReturn(t *testing.T) {
	file := funcFile(&FuncDecl{
		Name: "noop",
		Ret:  &TypeExpr{Name: "void"},
		Body: &BlockStmt{},
	})
	m := generate(t, file)
	f := m.FindFunction("noop")
	term := f.Entry().Terminator()
	require.NotNil(t, term)
	assert.Equal(t, ir.Return, term.Kind)
	assert.Nil(t, term.Operand)
}
