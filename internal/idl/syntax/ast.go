// Package syntax defines the abstract syntax tree of the interface
// definition language and a recursive-descent parser producing it.
package syntax

// A Node is a syntax tree node carrying its source position.
type Node interface {
	Position() Pos
}

// File is a parsed interface definition.
type File struct {
	Name      string
	Constants []*ConstDecl
	Globals   []*VarStmt
	Functions []*Signature
	Callbacks []*CallbackDecl
	Main      *Block
}

// ConstDecl is a top-level `const N = 5;`.
type ConstDecl struct {
	Pos
	Name  string
	Value int64
}

// Declarator names a variable; Dimensions counts both the type's and the name's brackets.
type Declarator struct {
	Pos
	Name       string
	Dimensions int
}

// Signature is a function, procedure or callback prototype.
type Signature struct {
	Pos
	Name             string
	Params           []*Declarator
	Returns          bool
	ReturnDimensions int
	ReturnPos        Pos
	Callbacks        []*Signature
}

// CallbackDecl is a callback prototype with its body.
type CallbackDecl struct {
	Signature *Signature
	Body      *Block
}

func (c *CallbackDecl) Position() Pos { return c.Signature.Pos }

// Block is a braced statement list. End is the closing brace.
type Block struct {
	Pos
	Stmts []Stmt
	End   Pos
}

// ---- statements ----

// Stmt is implemented by all statement nodes.
type Stmt interface {
	Node
	stmt()
}

type (
	VarStmt struct {
		Pos
		Decls []*Declarator
	}

	ReadStmt struct {
		Pos
		Args []Expr
	}

	WriteStmt struct {
		Pos
		Args []Expr
	}

	CheckpointStmt struct {
		Pos
	}

	AllocStmt struct {
		Pos
		Arrays []Expr
		Size   Expr
	}

	// CallStmt invokes a declared function. Return is nil when no `->` is given.
	CallStmt struct {
		Pos
		Name      string
		Args      []Expr
		Return    Expr
		Callbacks []*CallbackDecl
	}

	ReturnStmt struct {
		Pos
		Value Expr
	}

	ExitStmt struct {
		Pos
	}

	ForStmt struct {
		Pos
		Index    string
		IndexPos Pos
		Range    Expr
		Body     *Block
	}

	// IfStmt holds `else if` chains as an Else block containing a single IfStmt.
	IfStmt struct {
		Pos
		Cond Expr
		Then *Block
		Else *Block
	}

	SwitchStmt struct {
		Pos
		Value   Expr
		Cases   []*Case
		Default *Block
	}

	LoopStmt struct {
		Pos
		Body *Block
	}

	BreakStmt struct {
		Pos
	}

	ContinueStmt struct {
		Pos
	}
)

// Case is one `case L1, L2 { ... }` arm.
type Case struct {
	Pos
	Labels []Expr
	Body   *Block
}

func (*VarStmt) stmt()        {}
func (*ReadStmt) stmt()       {}
func (*WriteStmt) stmt()      {}
func (*CheckpointStmt) stmt() {}
func (*AllocStmt) stmt()      {}
func (*CallStmt) stmt()       {}
func (*ReturnStmt) stmt()     {}
func (*ExitStmt) stmt()       {}
func (*ForStmt) stmt()        {}
func (*IfStmt) stmt()         {}
func (*SwitchStmt) stmt()     {}
func (*LoopStmt) stmt()       {}
func (*BreakStmt) stmt()      {}
func (*ContinueStmt) stmt()   {}

// ---- expressions ----

// Expr is implemented by all expression nodes.
type Expr interface {
	Node
	expr()
}

type (
	IntLit struct {
		Pos
		Value int64
	}

	Ident struct {
		Pos
		Name string
	}

	Subscript struct {
		Pos
		Array Expr
		Index Expr
	}
)

func (*IntLit) expr()    {}
func (*Ident) expr()     {}
func (*Subscript) expr() {}

// Root returns the identifier at the base of a subscript chain and the
// subscripts in source order. It returns nil for literals.
func Root(e Expr) (*Ident, []Expr) {
	var indices []Expr
	for {
		switch x := e.(type) {
		case *Ident:
			for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
				indices[i], indices[j] = indices[j], indices[i]
			}
			return x, indices
		case *Subscript:
			indices = append(indices, x.Index)
			e = x.Array
		default:
			return nil, nil
		}
	}
}
