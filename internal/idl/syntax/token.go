package syntax

import "fmt"

// Token is the kind of a lexical token.
type Token int8

const (
	ILLEGAL Token = iota
	EOF

	IDENT
	INT

	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACK   // [
	RBRACK   // ]
	SEMI     // ;
	COMMA    // ,
	COLON    // :
	ARROW    // ->
	ASSIGN   // =
	MINUS    // -

	// keywords
	keywordStart
	ALLOC
	BREAK
	CALL
	CALLBACK
	CALLBACKS
	CASE
	CHECKPOINT
	CONST
	CONTINUE
	DEFAULT
	ELSE
	EXIT
	FOR
	FUNCTION
	IF
	INT_TYPE
	LOOP
	MAIN
	PROCEDURE
	READ
	RETURN
	SWITCH
	VAR
	WRITE
	keywordEnd
)

var tokenNames = [...]string{
	ILLEGAL:    "illegal token",
	EOF:        "end of file",
	IDENT:      "identifier",
	INT:        "int literal",
	LBRACE:     "{",
	RBRACE:     "}",
	LPAREN:     "(",
	RPAREN:     ")",
	LBRACK:     "[",
	RBRACK:     "]",
	SEMI:       ";",
	COMMA:      ",",
	COLON:      ":",
	ARROW:      "->",
	ASSIGN:     "=",
	MINUS:      "-",
	ALLOC:      "alloc",
	BREAK:      "break",
	CALL:       "call",
	CALLBACK:   "callback",
	CALLBACKS:  "callbacks",
	CASE:       "case",
	CHECKPOINT: "checkpoint",
	CONST:      "const",
	CONTINUE:   "continue",
	DEFAULT:    "default",
	ELSE:       "else",
	EXIT:       "exit",
	FOR:        "for",
	FUNCTION:   "function",
	IF:         "if",
	INT_TYPE:   "int",
	LOOP:       "loop",
	MAIN:       "main",
	PROCEDURE:  "procedure",
	READ:       "read",
	RETURN:     "return",
	SWITCH:     "switch",
	VAR:        "var",
	WRITE:      "write",
}

func (t Token) String() string {
	if int(t) >= 0 && int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsKeyword reports whether t is a reserved word.
func (t Token) IsKeyword() bool { return t > keywordStart && t < keywordEnd }

var keywords map[string]Token

func init() {
	keywords = make(map[string]Token, keywordEnd-keywordStart)
	for t := keywordStart + 1; t < keywordEnd; t++ {
		keywords[tokenNames[t]] = t
	}
}

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

// Position returns p itself so that nodes embedding Pos implement Node.
func (p Pos) Position() Pos { return p }

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// IsValid reports whether the position was set.
func (p Pos) IsValid() bool { return p.Line > 0 }
