package syntax

import (
	"fmt"

	appErr "ojdriver/pkg/errors"
)

// Parse parses an interface definition. On failure it returns an
// *errors.Error with code ParseError whose Err is a *syntax.Error.
func Parse(name string, src []byte) (*File, error) {
	p := &parser{lex: newLexer(src), file: &File{Name: name}}
	if err := p.parseFile(); err != nil {
		return nil, p.wrap(err)
	}
	return p.file, nil
}

// bail aborts parsing; it is recovered in parseFile.
type bail struct{ err *Error }

type parser struct {
	lex  *lexer
	file *File
	tok  item
}

func (p *parser) wrap(err *Error) error {
	return appErr.Wrapf(err, appErr.ParseError, "%s:%s", p.file.Name, err.Error()).
		WithDetail("line", err.Pos.Line).
		WithDetail("col", err.Pos.Col)
}

func (p *parser) failf(pos Pos, format string, args ...interface{}) {
	panic(bail{&Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) lexNext() item {
	it, err := p.lex.next()
	if err != nil {
		panic(bail{err.(*Error)})
	}
	return it
}

func (p *parser) next() {
	p.tok = p.lexNext()
}

func (p *parser) got(t Token) bool {
	if p.tok.tok == t {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(t Token) Pos {
	pos := p.tok.pos
	if p.tok.tok != t {
		p.failf(pos, "expected %s, found %s", t, p.describe())
	}
	p.next()
	return pos
}

func (p *parser) describe() string {
	switch p.tok.tok {
	case IDENT:
		return fmt.Sprintf("identifier %q", p.tok.lit)
	case INT:
		return fmt.Sprintf("int literal %s", p.tok.lit)
	}
	if p.tok.tok.IsKeyword() {
		return fmt.Sprintf("keyword %q", p.tok.tok.String())
	}
	return fmt.Sprintf("%q", p.tok.tok.String())
}

func (p *parser) ident() (string, Pos) {
	pos := p.tok.pos
	if p.tok.tok != IDENT {
		p.failf(pos, "expected identifier, found %s", p.describe())
	}
	name := p.tok.lit
	p.next()
	return name, pos
}

func (p *parser) parseFile() (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bail)
			if !ok {
				panic(r)
			}
			err = b.err
		}
	}()

	p.next()
	for p.tok.tok != EOF {
		switch p.tok.tok {
		case CONST:
			p.file.Constants = append(p.file.Constants, p.constDecl())
		case VAR:
			p.file.Globals = append(p.file.Globals, p.varStmt())
		case FUNCTION, PROCEDURE:
			procedure := p.tok.tok == PROCEDURE
			p.next()
			sig := p.signature(procedure)
			p.expect(SEMI)
			p.file.Functions = append(p.file.Functions, sig)
		case CALLBACK:
			p.next()
			sig := p.signature(false)
			p.file.Callbacks = append(p.file.Callbacks, &CallbackDecl{Signature: sig, Body: p.block()})
		case MAIN:
			pos := p.tok.pos
			p.next()
			if p.file.Main != nil {
				p.failf(pos, "main block already defined at %s", p.file.Main.Pos)
			}
			p.file.Main = p.block()
		default:
			p.failf(p.tok.pos, "unexpected %s at top level", p.describe())
		}
	}
	if p.file.Main == nil {
		p.failf(p.tok.pos, "missing main block")
	}
	return nil
}

func (p *parser) constDecl() *ConstDecl {
	pos := p.expect(CONST)
	name, _ := p.ident()
	p.expect(ASSIGN)
	lit := p.intLit()
	p.expect(SEMI)
	return &ConstDecl{Pos: pos, Name: name, Value: lit.Value}
}

func (p *parser) intLit() *IntLit {
	pos := p.tok.pos
	neg := p.got(MINUS)
	if p.tok.tok != INT {
		p.failf(p.tok.pos, "expected int literal, found %s", p.describe())
	}
	v := p.tok.val
	p.next()
	if neg {
		v = -v
	}
	return &IntLit{Pos: pos, Value: v}
}

// typeDims parses `int` followed by `[]` pairs.
func (p *parser) typeDims() int {
	p.expect(INT_TYPE)
	return p.brackets()
}

func (p *parser) brackets() int {
	n := 0
	for p.tok.tok == LBRACK {
		p.next()
		p.expect(RBRACK)
		n++
	}
	return n
}

func (p *parser) declarator(typeDims int) *Declarator {
	name, pos := p.ident()
	return &Declarator{Pos: pos, Name: name, Dimensions: typeDims + p.brackets()}
}

func (p *parser) varStmt() *VarStmt {
	pos := p.expect(VAR)
	dims := p.typeDims()
	s := &VarStmt{Pos: pos}
	for {
		s.Decls = append(s.Decls, p.declarator(dims))
		if !p.got(COMMA) {
			break
		}
	}
	p.expect(SEMI)
	return s
}

// param accepts both `int a[]` and the untyped `a[]` form.
func (p *parser) param() *Declarator {
	dims := 0
	if p.tok.tok == INT_TYPE {
		dims = p.typeDims()
	}
	return p.declarator(dims)
}

func (p *parser) params() []*Declarator {
	p.expect(LPAREN)
	var params []*Declarator
	if p.tok.tok != RPAREN {
		for {
			params = append(params, p.param())
			if !p.got(COMMA) {
				break
			}
		}
	}
	p.expect(RPAREN)
	return params
}

func (p *parser) signature(procedure bool) *Signature {
	name, pos := p.ident()
	sig := &Signature{Pos: pos, Name: name, Params: p.params()}
	if p.tok.tok == ARROW {
		arrow := p.tok.pos
		if procedure {
			p.failf(arrow, "procedure %s cannot return a value", name)
		}
		p.next()
		sig.ReturnPos = p.tok.pos
		sig.Returns = true
		sig.ReturnDimensions = p.typeDims()
	}
	if p.got(CALLBACKS) {
		p.expect(LBRACE)
		for p.tok.tok != RBRACE {
			switch p.tok.tok {
			case FUNCTION, PROCEDURE, CALLBACK:
				proc := p.tok.tok == PROCEDURE
				p.next()
				sig.Callbacks = append(sig.Callbacks, p.signature(proc))
				p.expect(SEMI)
			default:
				p.failf(p.tok.pos, "expected callback prototype, found %s", p.describe())
			}
		}
		p.expect(RBRACE)
	}
	return sig
}

func (p *parser) block() *Block {
	b := &Block{Pos: p.expect(LBRACE)}
	for p.tok.tok != RBRACE {
		if p.tok.tok == EOF {
			p.failf(p.tok.pos, "block opened at %s is not closed", b.Pos)
		}
		b.Stmts = append(b.Stmts, p.stmt())
	}
	b.End = p.tok.pos
	p.next()
	return b
}

func (p *parser) exprList() []Expr {
	var list []Expr
	for {
		list = append(list, p.expr())
		if !p.got(COMMA) {
			return list
		}
	}
}

func (p *parser) stmt() Stmt {
	pos := p.tok.pos
	switch p.tok.tok {
	case VAR:
		return p.varStmt()
	case READ:
		p.next()
		s := &ReadStmt{Pos: pos, Args: p.exprList()}
		p.expect(SEMI)
		return s
	case WRITE:
		p.next()
		s := &WriteStmt{Pos: pos, Args: p.exprList()}
		p.expect(SEMI)
		return s
	case CHECKPOINT:
		p.next()
		p.expect(SEMI)
		return &CheckpointStmt{Pos: pos}
	case ALLOC:
		p.next()
		s := &AllocStmt{Pos: pos, Arrays: p.exprList()}
		p.expect(COLON)
		s.Size = p.expr()
		p.expect(SEMI)
		return s
	case CALL:
		return p.callStmt()
	case RETURN:
		p.next()
		s := &ReturnStmt{Pos: pos, Value: p.expr()}
		p.expect(SEMI)
		return s
	case EXIT:
		p.next()
		p.expect(SEMI)
		return &ExitStmt{Pos: pos}
	case FOR:
		p.next()
		p.expect(LPAREN)
		index, indexPos := p.ident()
		p.expect(COLON)
		rng := p.expr()
		p.expect(RPAREN)
		return &ForStmt{Pos: pos, Index: index, IndexPos: indexPos, Range: rng, Body: p.block()}
	case IF:
		return p.ifStmt()
	case SWITCH:
		return p.switchStmt()
	case LOOP:
		p.next()
		return &LoopStmt{Pos: pos, Body: p.block()}
	case BREAK:
		p.next()
		p.expect(SEMI)
		return &BreakStmt{Pos: pos}
	case CONTINUE:
		p.next()
		p.expect(SEMI)
		return &ContinueStmt{Pos: pos}
	}
	p.failf(pos, "expected statement, found %s", p.describe())
	return nil
}

func (p *parser) callStmt() *CallStmt {
	pos := p.expect(CALL)
	name, _ := p.ident()
	s := &CallStmt{Pos: pos, Name: name}
	p.expect(LPAREN)
	if p.tok.tok != RPAREN {
		s.Args = p.exprList()
	}
	p.expect(RPAREN)
	if p.got(ARROW) {
		s.Return = p.expr()
	}
	if p.got(CALLBACKS) {
		p.expect(LBRACE)
		for p.tok.tok != RBRACE {
			switch p.tok.tok {
			case CALLBACK, FUNCTION, PROCEDURE:
				proc := p.tok.tok == PROCEDURE
				p.next()
				sig := p.signature(proc)
				s.Callbacks = append(s.Callbacks, &CallbackDecl{Signature: sig, Body: p.block()})
			default:
				p.failf(p.tok.pos, "expected callback implementation, found %s", p.describe())
			}
		}
		p.expect(RBRACE)
		p.got(SEMI)
		return s
	}
	p.expect(SEMI)
	return s
}

func (p *parser) ifStmt() *IfStmt {
	pos := p.expect(IF)
	p.expect(LPAREN)
	s := &IfStmt{Pos: pos, Cond: p.expr()}
	p.expect(RPAREN)
	s.Then = p.block()
	if p.got(ELSE) {
		if p.tok.tok == IF {
			inner := p.ifStmt()
			s.Else = &Block{Pos: inner.Pos, Stmts: []Stmt{inner}}
		} else {
			s.Else = p.block()
		}
	}
	return s
}

func (p *parser) switchStmt() *SwitchStmt {
	pos := p.expect(SWITCH)
	p.expect(LPAREN)
	s := &SwitchStmt{Pos: pos, Value: p.expr()}
	p.expect(RPAREN)
	p.expect(LBRACE)
	for p.tok.tok != RBRACE {
		switch p.tok.tok {
		case CASE:
			cpos := p.tok.pos
			p.next()
			c := &Case{Pos: cpos, Labels: p.exprList()}
			c.Body = p.block()
			s.Cases = append(s.Cases, c)
		case DEFAULT:
			dpos := p.tok.pos
			p.next()
			if s.Default != nil {
				p.failf(dpos, "multiple default clauses in switch")
			}
			s.Default = p.block()
		default:
			p.failf(p.tok.pos, "expected case or default, found %s", p.describe())
		}
	}
	p.next()
	return s
}

func (p *parser) expr() Expr {
	switch p.tok.tok {
	case INT, MINUS:
		return p.intLit()
	case IDENT:
		name, pos := p.ident()
		var e Expr = &Ident{Pos: pos, Name: name}
		for p.tok.tok == LBRACK {
			lpos := p.tok.pos
			p.next()
			idx := p.expr()
			p.expect(RBRACK)
			e = &Subscript{Pos: lpos, Array: e, Index: idx}
		}
		return e
	}
	p.failf(p.tok.pos, "expected expression, found %s", p.describe())
	return nil
}
