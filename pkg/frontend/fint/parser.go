// Package fint parses the F-Int dialect (.int files): keyword-led
// declarations with trailing type annotations.
//
//	fn fact(n: int): int {
//	    if n == 0 { return 1; };
//	    return n * fact(n - 1);
//	}
//
//	extern fn putchar(c: int): int;
//	global counter: int = 0;
package fint

import (
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/frontend"
)

// Parse parses one F-Int source file into the shared AST
func Parse(name, source string, diags *diag.Engine) *frontend.File {
	p := &parser{diags: diags, name: name, lexer: frontend.NewLexer(name, source, diags)}
	p.advance()
	return p.file(name)
}

type parser struct {
	diags *diag.Engine
	name  string
	lexer *frontend.Lexer
	tok   frontend.Token

	// bad is set once a parse error makes the rest of the file suspect;
	// parsing continues for error recovery but nothing else is reported
	// against the same region.
	bad bool
}

func (p *parser) advance() {
	p.tok = p.lexer.Next()
}

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

func (p *parser) expectWord(word string) {
	if !p.tok.Is(word) {
		p.errorf("expected %q, found %s", word, p.tok.Type)
		return
	}
	p.advance()
}

func (p *parser) file(name string) *frontend.File {
	f := &frontend.File{Name: name}
	for p.tok.Type != frontend.EOF {
		p.bad = false
		switch {
		case p.tok.Is("fn"):
			f.Funcs = append(f.Funcs, p.funcDecl(false))
		case p.tok.Is("extern"):
			p.advance()
			p.expectWord("fn")
			fn := p.funcDeclAfterKeyword(true)
			f.Funcs = append(f.Funcs, fn)
		case p.tok.Is("global"):
			f.Globals = append(f.Globals, p.globalDecl())
		default:
			p.errorf("expected a declaration, found %s", p.tok.Type)
			p.advance()
		}
	}
	return f
}

func (p *parser) funcDecl(extern bool) *frontend.FuncDecl {
	p.expectWord("fn")
	return p.funcDeclAfterKeyword(extern)
}

func (p *parser) funcDeclAfterKeyword(extern bool) *frontend.FuncDecl {
	fd := &frontend.FuncDecl{Extern: extern, Loc: p.loc()}
	fd.Name = p.expect(frontend.IDENT).Lexeme

	p.expect(frontend.LPAREN)
	for p.tok.Type != frontend.RPAREN && p.tok.Type != frontend.EOF {
		if len(fd.Params) > 0 {
			p.expect(frontend.COMMA)
		}
		param := frontend.Param{Loc: p.loc()}
		param.Name = p.expect(frontend.IDENT).Lexeme
		p.expect(frontend.COLON)
		param.Type = p.typeExpr()
		fd.Params = append(fd.Params, param)
	}
	p.expect(frontend.RPAREN)

	if p.tok.Type == frontend.COLON {
		p.advance()
		fd.Ret = p.typeExpr()
	} else {
		fd.Ret = &frontend.TypeExpr{Name: "void", Loc: p.loc()}
	}

	if extern {
		p.expect(frontend.SEMI)
		return fd
	}
	fd.Body = p.blockStmt()
	return fd
}

func (p *parser) globalDecl() *frontend.VarDecl {
	p.expectWord("global")
	vd := &frontend.VarDecl{Loc: p.loc()}
	vd.Name = p.expect(frontend.IDENT).Lexeme
	p.expect(frontend.COLON)
	vd.Type = p.typeExpr()
	if p.tok.Type == frontend.ASSIGN {
		p.advance()
		vd.Init = p.expression()
	}
	p.expect(frontend.SEMI)
	return vd
}

func (p *parser) typeExpr() *frontend.TypeExpr {
	t := &frontend.TypeExpr{Loc: p.loc()}
	t.Name = p.expect(frontend.IDENT).Lexeme
	return t
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

func (p *parser) statement() frontend.Stmt {
	switch {
	case p.tok.Is("var"):
		p.advance()
		vs := &frontend.VarStmt{Loc: p.loc()}
		vs.Name = p.expect(frontend.IDENT).Lexeme
		p.expect(frontend.COLON)
		vs.Type = p.typeExpr()
		if p.tok.Type == frontend.ASSIGN {
			p.advance()
			vs.Init = p.expression()
		}
		p.expect(frontend.SEMI)
		return vs

	case p.tok.Is("if"):
		p.advance()
		st := &frontend.IfStmt{}
		st.Cond = p.expression()
		st.Then = p.blockStmt()
		if p.tok.Is("else") {
			p.advance()
			if p.tok.Is("if") {
				inner := p.statement()
				st.Else = &frontend.BlockStmt{Stmts: []frontend.Stmt{inner}}
			} else {
				st.Else = p.blockStmt()
			}
			return st
		}
		p.optionalSemi()
		return st

	case p.tok.Is("while"):
		p.advance()
		st := &frontend.WhileStmt{}
		st.Cond = p.expression()
		st.Body = p.blockStmt()
		p.optionalSemi()
		return st

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
		// Assignment or expression statement.
		if p.tok.Type == frontend.IDENT {
			name := p.tok.Lexeme
			loc := p.loc()
			saved := p.tok
			p.advance()
			if p.tok.Type == frontend.ASSIGN {
				p.advance()
				st := &frontend.AssignStmt{Name: name, Loc: loc}
				st.Value = p.expression()
				p.expect(frontend.SEMI)
				return st
			}
			// Not an assignment: re-parse as an expression starting from
			// the identifier we already consumed.
			x := p.continueExpression(saved)
			p.expect(frontend.SEMI)
			return &frontend.ExprStmt{X: x}
		}
		x := p.expression()
		p.expect(frontend.SEMI)
		return &frontend.ExprStmt{X: x}
	}
}

func (p *parser) optionalSemi() {
	if p.tok.Type == frontend.SEMI {
		p.advance()
	}
}

// Expression parsing: precedence climbing, lowest first.

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

// continueExpression resumes expression parsing when the first token (an
// identifier) was already consumed by the statement dispatcher
func (p *parser) continueExpression(ident frontend.Token) frontend.Expr {
	var lhs frontend.Expr
	if p.tok.Type == frontend.LPAREN {
		lhs = p.callExpr(ident)
	} else {
		lhs = &frontend.Ident{Name: ident.Lexeme, ExprBase: frontend.ExprBase{Loc: diag.Loc{Line: ident.Line, Col: ident.Col}}}
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
		return &frontend.Ident{Name: ident.Lexeme, ExprBase: frontend.ExprBase{Loc: diag.Loc{Line: ident.Line, Col: ident.Col}}}

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
	call := &frontend.CallExpr{Name: ident.Lexeme, ExprBase: frontend.ExprBase{Loc: diag.Loc{Line: ident.Line, Col: ident.Col}}}
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
