package syntax

import (
	"fmt"
	"strconv"
)

// Error is a lexical or syntactic error at a source position.
type Error struct {
	Pos Pos
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

type item struct {
	tok Token
	pos Pos
	lit string
	val int64
}

// lexer produces tokens from source text on demand.
type lexer struct {
	src  []byte
	off  int
	line int
	col  int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peekByte(ahead int) byte {
	if l.off+ahead < len(l.src) {
		return l.src[l.off+ahead]
	}
	return 0
}

func (l *lexer) advance() {
	if l.off >= len(l.src) {
		return
	}
	if l.src[l.off] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.off++
}

func (l *lexer) pos() Pos { return Pos{Line: l.line, Col: l.col} }

// skip consumes whitespace and comments.
func (l *lexer) skip() error {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekByte(1) == '/':
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance()
			}
		case c == '/' && l.peekByte(1) == '*':
			start := l.pos()
			l.advance()
			l.advance()
			for {
				if l.off >= len(l.src) {
					return &Error{Pos: start, Msg: "comment not terminated"}
				}
				if l.src[l.off] == '*' && l.peekByte(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() (item, error) {
	if err := l.skip(); err != nil {
		return item{}, err
	}
	p := l.pos()
	if l.off >= len(l.src) {
		return item{tok: EOF, pos: p}, nil
	}
	c := l.src[l.off]
	switch {
	case isLetter(c):
		start := l.off
		for l.off < len(l.src) && (isLetter(l.src[l.off]) || isDigit(l.src[l.off])) {
			l.advance()
		}
		word := string(l.src[start:l.off])
		if kw, ok := keywords[word]; ok {
			return item{tok: kw, pos: p, lit: word}, nil
		}
		return item{tok: IDENT, pos: p, lit: word}, nil
	case isDigit(c):
		start := l.off
		for l.off < len(l.src) && isDigit(l.src[l.off]) {
			l.advance()
		}
		if l.off < len(l.src) && isLetter(l.src[l.off]) {
			return item{}, &Error{Pos: p, Msg: fmt.Sprintf("invalid int literal %q", string(l.src[start:l.off+1]))}
		}
		lit := string(l.src[start:l.off])
		v, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return item{}, &Error{Pos: p, Msg: fmt.Sprintf("int literal %s out of range", lit)}
		}
		return item{tok: INT, pos: p, lit: lit, val: v}, nil
	}

	l.advance()
	switch c {
	case '{':
		return item{tok: LBRACE, pos: p}, nil
	case '}':
		return item{tok: RBRACE, pos: p}, nil
	case '(':
		return item{tok: LPAREN, pos: p}, nil
	case ')':
		return item{tok: RPAREN, pos: p}, nil
	case '[':
		return item{tok: LBRACK, pos: p}, nil
	case ']':
		return item{tok: RBRACK, pos: p}, nil
	case ';':
		return item{tok: SEMI, pos: p}, nil
	case ',':
		return item{tok: COMMA, pos: p}, nil
	case ':':
		return item{tok: COLON, pos: p}, nil
	case '=':
		return item{tok: ASSIGN, pos: p}, nil
	case '-':
		if l.off < len(l.src) && l.src[l.off] == '>' {
			l.advance()
			return item{tok: ARROW, pos: p}, nil
		}
		return item{tok: MINUS, pos: p}, nil
	}
	return item{}, &Error{Pos: p, Msg: fmt.Sprintf("unexpected character %q", c)}
}
