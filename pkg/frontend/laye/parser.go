// Package laye parses the F-Laye dialect (.laye files): C-flavoured
// type-first declarations with optional parentheses around conditions.
//
//	int fact(int n) {
//	    if n == 0 { return 1; }
//	    return n * fact(n - 1);
//	}
//
//	foreign int putchar(int c);
package laye

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/frontend"
)

// Parse parses one F-Laye source file into the shared AST
func Parse(name, source string, diags *diag.Engine) *frontend.File {
	p := &parser{diags: diags, name: name, lexer: frontend.NewLexer(name, source, diags)}
	p.advance()
	return p.file(name)
}

// typeWords are the spellings that start a declaration
var typeWords = map[string]bool{
	"void": true, "int": true, "bool": true, "ptr": true,
	"i8": true, "i16": true, "i32": true, "i64": true,
}

type parser struct {
	diags *diag.Engine
	name  string
	lexer *frontend.Lexer
	tok   frontend.Token
	bad   bool
}

func (p *parser) advance() { p.tok = p.lexer.Next() }

func (p *parser) loc() diag.Loc {
	return diag.Loc{File: p.name, Line: p.tok.Line, Col: p.tok.Col}
}

func (p *parser) errorf(format string, args ...any) {
	if p.bad {
		return
	}
	p.bad = true
	p.diags.Errorf(p.loc(), format, args...)
}

func (p *parser) expect(t frontend.TokenType) frontend.Token {
	if p.tok.Type != t {
		p.errorf("expected %s, found %s", t, p.tok.Type)
		tok := p.tok
		// Skip the offending token so error recovery always makes
		// progress.
		if p.tok.Type != frontend.EOF {
			p.advance()
		}
		return tok
	}
	tok := p.tok
	p.advance()
	return tok
}

func (p *parser) typeExpr() *frontend.TypeExpr {
	t := &frontend.TypeExpr{Loc: p.loc()}
	if p.tok.Type != frontend.IDENT || !typeWords[p.tok.Lexeme] {
		p.errorf("expected a type, found %s", p.tok.Type)
		t.Name = "int"
		return t
	}
	t.Name = p.tok.Lexeme
	p.advance()
	return t
}

func (p *parser) file(name string) *frontend.File {
	f := &frontend.File{Name: name}
	for p.tok.Type != frontend.EOF {
		p.bad = false
		extern := false
		if p.tok.Is("foreign") {
			extern = true
			p.advance()
		}
		if p.tok.Type != frontend.IDENT || !typeWords[p.tok.Lexeme] {
			switch {
			case p.tok.Is("struct") || p.tok.Is("enum"):
				p.diags.Sorryf(p.loc(), "%s declarations are not supported yet", p.tok.Lexeme)
			default:
				p.errorf("expected a declaration, found %s", p.tok.Type)
			}
			p.advance()
			continue
		}
		ty := p.typeExpr()
		nameTok := p.expect(frontend.IDENT)
		if p.tok.Type == frontend.LPAREN {
			f.Funcs = append(f.Funcs, p.funcDecl(ty, nameTok, extern))
		} else {
			vd := &frontend.VarDecl{Name: nameTok.Lexeme, Type: ty, Loc: p.loc()}
			if p.tok.Type == frontend.ASSIGN {
				p.advance()
				vd.Init = p.expression()
			}
			p.expect(frontend.SEMI)
			f.Globals = append(f.Globals, vd)
		}
	}
	return f
}

func (p *parser) funcDecl(ret *frontend.TypeExpr, nameTok frontend.Token, extern bool) *frontend.FuncDecl {
	fd := &frontend.FuncDecl{
		Name: nameTok.Lexeme, Ret: ret, Extern: extern,
		Loc: diag.Loc{File: p.name, Line: nameTok.Line, Col: nameTok.Col},
	}
	p.expect(frontend.LPAREN)
	for p.tok.Type != frontend.RPAREN && p.tok.Type != frontend.EOF {
		if len(fd.Params) > 0 {
			p.expect(frontend.COMMA)
		}
		param := frontend.Param{Loc: p.loc()}
		param.Type = p.typeExpr()
		param.Name = p.expect(frontend.IDENT).Lexeme
		fd.Params = append(fd.Params, param)
	}
	p.expect(frontend.RPAREN)

	if extern || p.tok.Type == frontend.SEMI {
		fd.Extern = true
		p.expect(frontend.SEMI)
		return fd
	}
	fd.Body = p.blockStmt()
	return fd
}

func (p *parser) blockStmt() *frontend.BlockStmt {
	p.expect(frontend.LBRACE)
	b := &frontend.BlockStmt{}
	for p.tok.Type != frontend.RBRACE && p.tok.Type != frontend.EOF {
		b.Stmts = append(b.Stmts, p.statement())
	}
	p.expect(frontend.RBRACE)
	return b
}

// condition parses an optionally parenthesised condition
func (p *parser) condition() frontend.Expr {
	return p.expression()
}

func (p *parser) statement() frontend.Stmt {
	switch {
	case p.tok.Type == frontend.IDENT && typeWords[p.tok.Lexeme]:
		vs := &frontend.VarStmt{Loc: p.loc()}
		vs.Type = p.typeExpr()
		vs.Name = p.expect(frontend.IDENT).Lexeme
		if p.tok.Type == frontend.ASSIGN {
			p.advance()
			vs.Init = p.expression()
		}
		p.expect(frontend.SEMI)
		return vs

	case p.tok.Is("if"):
		p.advance()
		st := &frontend.IfStmt{}
		st.Cond = p.condition()
		st.Then = p.blockStmt()
		if p.tok.Is("else") {
			p.advance()
			if p.tok.Is("if") {
				st.Else = &frontend.BlockStmt{Stmts: []frontend.Stmt{p.statement()}}
			} else {
				st.Else = p.blockStmt()
			}
		}
		return st

	case p.tok.Is("while"):
		p.advance()
		st := &frontend.WhileStmt{}
		st.Cond = p.condition()
		st.Body = p.blockStmt()
		return st

	case p.tok.Is("for"):
		p.diags.Sorryf(p.loc(), "for loops are not supported yet")
		for p.tok.Type != frontend.LBRACE && p.tok.Type != frontend.EOF {
			p.advance()
		}
		p.blockStmt()
		return &frontend.BlockStmt{}

	case p.tok.Is("return"):
		p.advance()
		st := &frontend.ReturnStmt{Loc: p.loc()}
		if p.tok.Type != frontend.SEMI {
			st.Value = p.expression()
		}
		p.expect(frontend.SEMI)
		return st

	case p.tok.Type == frontend.LBRACE:
		return p.blockStmt()

	default:
		if p.tok.Type == frontend.IDENT {
			ident := p.tok
			loc := p.loc()
			p.advance()
			if p.tok.Type == frontend.ASSIGN {
				p.advance()
				st := &frontend.AssignStmt{Name: ident.Lexeme, Loc: loc}
				st.Value = p.expression()
				p.expect(frontend.SEMI)
				return st
			}
			x := p.continueExpression(ident)
			p.expect(frontend.SEMI)
			return &frontend.ExprStmt{X: x}
		}
		x := p.expression()
		p.expect(frontend.SEMI)
		return &frontend.ExprStmt{X: x}
	}
}

var precedence = map[frontend.TokenType]int{
	frontend.PIPE:    1,
	frontend.CARET:   2,
	frontend.AMP:     3,
	frontend.EQ:      4,
	frontend.NE:      4,
	frontend.LT:      5,
	frontend.LE:      5,
	frontend.GT:      5,
	frontend.GE:      5,
	frontend.SHL:     6,
	frontend.SHR:     6,
	frontend.PLUS:    7,
	frontend.MINUS:   7,
	frontend.STAR:    8,
	frontend.SLASH:   8,
	frontend.PERCENT: 8,
}

func (p *parser) expression() frontend.Expr {
	return p.binary(p.unary(), 1)
}

func (p *parser) continueExpression(ident frontend.Token) frontend.Expr {
	var lhs frontend.Expr
	if p.tok.Type == frontend.LPAREN {
		lhs = p.callExpr(ident)
	} else {
		lhs = &frontend.Ident{Name: ident.Lexeme, ExprBase: frontend.ExprBase{Loc: diag.Loc{File: p.name, Line: ident.Line, Col: ident.Col}}}
	}
	return p.binary(lhs, 1)
}

func (p *parser) binary(lhs frontend.Expr, minPrec int) frontend.Expr {
	for {
		prec, ok := precedence[p.tok.Type]
		if !ok || prec < minPrec {
			return lhs
		}
		op := p.tok.Type
		p.advance()
		rhs := p.unary()
		for {
			nextPrec, ok := precedence[p.tok.Type]
			if !ok || nextPrec <= prec {
				break
			}
			rhs = p.binary(rhs, prec+1)
		}
		lhs = &frontend.BinaryExpr{Op: op, L: lhs, R: rhs, ExprBase: frontend.ExprBase{Loc: lhs.Pos()}}
	}
}

func (p *parser) unary() frontend.Expr {
	switch p.tok.Type {
	case frontend.MINUS, frontend.TILDE, frontend.BANG:
		op := p.tok.Type
		loc := p.loc()
		p.advance()
		return &frontend.UnaryExpr{Op: op, X: p.unary(), ExprBase: frontend.ExprBase{Loc: loc}}
	}
	return p.primary()
}

func (p *parser) primary() frontend.Expr {
	switch p.tok.Type {
	case frontend.INT:
		e := &frontend.IntLit{Value: p.tok.Value, ExprBase: frontend.ExprBase{Loc: p.loc()}}
		p.advance()
		return e

	case frontend.IDENT:
		ident := p.tok
		p.advance()
		if p.tok.Type == frontend.LPAREN {
			return p.callExpr(ident)
		}
		return &frontend.Ident{Name: ident.Lexeme, ExprBase: frontend.ExprBase{Loc: diag.Loc{File: p.name, Line: ident.Line, Col: ident.Col}}}

	case frontend.LPAREN:
		p.advance()
		e := p.expression()
		p.expect(frontend.RPAREN)
		return e
	}

	p.errorf("expected an expression, found %s", p.tok.Type)
	e := &frontend.IntLit{ExprBase: frontend.ExprBase{Loc: p.loc()}}
	p.advance()
	return e
}

func (p *parser) callExpr(ident frontend.Token) frontend.Expr {
	call := &frontend.CallExpr{Name: ident.Lexeme, ExprBase: frontend.ExprBase{Loc: diag.Loc{File: p.name, Line: ident.Line, Col: ident.Col}}}
	p.expect(frontend.LPAREN)
	for p.tok.Type != frontend.RPAREN && p.tok.Type != frontend.EOF {
		if len(call.Args) > 0 {
			p.expect(frontend.COMMA)
		}
		call.Args = append(call.Args, p.expression())
	}
	p.expect(frontend.RPAREN)
	return call
}
