// Package compile lowers a checked syntax tree into the executable node
// tree driven by the engine, and groups nodes into steps.
package compile

import (
	"ojdriver/internal/idl/ref"
	"ojdriver/internal/idl/syntax"
)

// Signature is a compiled function or callback prototype.
type Signature struct {
	Name         string
	Parameters   []*ref.Variable
	ReturnsValue bool
	Callbacks    []*Signature
}

// Expr is a compiled expression: a literal or a variable reference.
type Expr interface {
	expr()
}

// Lit is an integer literal.
type Lit struct {
	Value int64
}

// VarRef is a variable subscripted by Indexes.
type VarRef struct {
	Variable *ref.Variable
	Indexes  []Expr
	Text     string
}

func (*Lit) expr()    {}
func (*VarRef) expr() {}

// Reference returns the static shape of r.
func (r *VarRef) Reference() ref.Reference {
	return ref.Reference{Variable: r.Variable, IndexCount: len(r.Indexes)}
}

// Node is implemented by every executable node. The set is closed.
type Node interface {
	Base() *NodeBase
}

// NodeBase carries what every node has: a tree-unique ID and the source
// position it was lowered from.
type NodeBase struct {
	ID  int
	Pos syntax.Pos
}

func (b *NodeBase) Base() *NodeBase { return b }

type (
	// Read sends values down to the process.
	Read struct {
		NodeBase
		Args []*VarRef
	}

	// Write receives values up from the process.
	Write struct {
		NodeBase
		Args []Expr
	}

	Checkpoint struct {
		NodeBase
	}

	Alloc struct {
		NodeBase
		Arrays []*VarRef
		Size   Expr
	}

	// RequestLookahead reads the next driver request if none is pending.
	RequestLookahead struct {
		NodeBase
	}

	// ValueResolve infers an unresolved condition from the pending request.
	ValueResolve struct {
		NodeBase
		Value      Expr
		Candidates []Candidate
	}

	CallArgumentsResolve struct {
		NodeBase
		Signature *Signature
		Args      []Expr
	}

	AcceptCallbacks struct {
		NodeBase
		Callbacks []*Callback
	}

	CallCompleted struct {
		NodeBase
	}

	CallReturn struct {
		NodeBase
		Value *VarRef
	}

	CallbackStart struct {
		NodeBase
		Signature  *Signature
		Parameters []*ref.Variable
	}

	Return struct {
		NodeBase
		Value Expr
	}

	CallbackEnd struct {
		NodeBase
	}

	Exit struct {
		NodeBase
		// Implicit marks the exit appended at the end of main.
		Implicit bool
	}

	Break struct {
		NodeBase
	}

	Continue struct {
		NodeBase
	}

	// For repeats Body with a fresh frame per iteration owning Locals.
	For struct {
		NodeBase
		Index  *ref.Variable
		Range  Expr
		Locals []*ref.Variable
		Body   []Node
	}

	If struct {
		NodeBase
		Cond Expr
		Then []Node
		Else []Node
	}

	Switch struct {
		NodeBase
		Value        Expr
		Cases        []*Case
		Default      []Node
		HasDefault   bool
		DefaultValue int64
	}

	// Loop repeats Body until a break, with a fresh frame per iteration.
	Loop struct {
		NodeBase
		Locals []*ref.Variable
		Body   []Node
	}

	// Step is a run of nodes executed phase by phase.
	Step struct {
		NodeBase
		Direction ref.Direction
		Children  []Node
	}
)

// Case is one switch arm.
type Case struct {
	Labels []int64
	Body   []Node
}

// Callback is a callback body driven when the process invokes it.
type Callback struct {
	Index     int
	Signature *Signature
	Locals    []*ref.Variable // parameters first
	Body      []Node
}

// RequestKey identifies what a driver request starts. The zero key stands
// for "no request".
type RequestKey struct {
	Command string
	Name    string
}

func (k RequestKey) String() string {
	switch {
	case k.Command == "":
		return "<none>"
	case k.Name != "":
		return k.Command + " " + k.Name
	default:
		return k.Command
	}
}

// Candidate tells ValueResolve which value to pick when the pending
// request matches Request.
type Candidate struct {
	Request RequestKey
	Value   int64
}

// Kind names a node's type, for logs and error details.
func Kind(n Node) string {
	switch n.(type) {
	case *Read:
		return "read"
	case *Write:
		return "write"
	case *Checkpoint:
		return "checkpoint"
	case *Alloc:
		return "alloc"
	case *RequestLookahead:
		return "request_lookahead"
	case *ValueResolve:
		return "value_resolve"
	case *CallArgumentsResolve:
		return "call_arguments_resolve"
	case *AcceptCallbacks:
		return "accept_callbacks"
	case *CallCompleted:
		return "call_completed"
	case *CallReturn:
		return "call_return"
	case *CallbackStart:
		return "callback_start"
	case *Return:
		return "return"
	case *CallbackEnd:
		return "callback_end"
	case *Exit:
		return "exit"
	case *Break:
		return "break"
	case *Continue:
		return "continue"
	case *For:
		return "for"
	case *If:
		return "if"
	case *Switch:
		return "switch"
	case *Loop:
		return "loop"
	case *Step:
		return "step"
	}
	panic("compile: unknown node type")
}
