package compile

import (
	"fmt"

	"ojdriver/internal/idl/ref"
	"ojdriver/internal/idl/sema"
	"ojdriver/internal/idl/syntax"
)

// Constant is a named compile-time value, bound before main starts.
type Constant struct {
	Variable *ref.Variable
	Value    int64
}

// Program is the executable form of one interface.
type Program struct {
	Constants []Constant
	Globals   []*ref.Variable
	Functions []*Signature
	// Locals are the variables of main's own frame.
	Locals []*ref.Variable
	Main   []Node
	// NodeCount is one more than the largest node ID.
	NodeCount int
}

// Function returns the signature named name, or nil.
func (p *Program) Function(name string) *Signature {
	for _, f := range p.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Compile lowers file, which must have been checked without blocking
// diagnostics, into a grouped node tree.
func Compile(file *syntax.File, info *sema.Info) (*Program, error) {
	if !info.Compilable() {
		return nil, fmt.Errorf("compile: %s has blocking diagnostics", file.Name)
	}
	c := &compiler{
		info: info,
		vars: make(map[*sema.Symbol]*ref.Variable),
		sigs: make(map[*syntax.Signature]*Signature),
	}
	p := &Program{}
	for _, sym := range info.Constants {
		p.Constants = append(p.Constants, Constant{Variable: c.variable(sym), Value: sym.Value})
	}
	for _, sym := range info.Globals {
		p.Globals = append(p.Globals, c.variable(sym))
	}
	for _, sig := range file.Functions {
		if info.Functions[sig.Name] == sig {
			p.Functions = append(p.Functions, c.signature(sig))
		}
	}

	c.locals = &p.Locals
	main := c.block(file.Main.Stmts)
	// Reaching the end of main behaves like an explicit exit.
	if !endsWithExit(main) {
		end := file.Main.End
		main = append(main, &RequestLookahead{NodeBase{Pos: end}}, &Exit{NodeBase: NodeBase{Pos: end}, Implicit: true})
	}
	p.Main = Group(main)
	p.NodeCount = number(p.Main, 0)
	return p, nil
}

func endsWithExit(nodes []Node) bool {
	if len(nodes) == 0 {
		return false
	}
	_, ok := nodes[len(nodes)-1].(*Exit)
	return ok
}

type compiler struct {
	info   *sema.Info
	vars   map[*sema.Symbol]*ref.Variable
	sigs   map[*syntax.Signature]*Signature
	locals *[]*ref.Variable // frame owner of the block being lowered
}

func (c *compiler) variable(sym *sema.Symbol) *ref.Variable {
	v, ok := c.vars[sym]
	if !ok {
		v = &ref.Variable{Name: sym.Name, Dimensions: sym.Dimensions}
		c.vars[sym] = v
	}
	return v
}

func (c *compiler) signature(sig *syntax.Signature) *Signature {
	if s, ok := c.sigs[sig]; ok {
		return s
	}
	s := &Signature{Name: sig.Name, ReturnsValue: sig.Returns}
	for _, p := range sig.Params {
		s.Parameters = append(s.Parameters, &ref.Variable{Name: p.Name, Dimensions: p.Dimensions})
	}
	for _, cb := range sig.Callbacks {
		s.Callbacks = append(s.Callbacks, c.signature(cb))
	}
	c.sigs[sig] = s
	return s
}

// frame lowers stmts as the body of a new frame and returns the body with
// the variables the frame owns.
func (c *compiler) frame(stmts []syntax.Stmt) ([]Node, []*ref.Variable) {
	saved := c.locals
	var locals []*ref.Variable
	c.locals = &locals
	body := c.block(stmts)
	c.locals = saved
	return body, locals
}

func (c *compiler) block(stmts []syntax.Stmt) []Node {
	var out []Node
	for _, s := range stmts {
		out = append(out, c.stmt(s)...)
	}
	return out
}

func at(pos syntax.Pos) NodeBase { return NodeBase{Pos: pos} }

func (c *compiler) stmt(s syntax.Stmt) []Node {
	switch s := s.(type) {
	case *syntax.VarStmt:
		for _, d := range s.Decls {
			*c.locals = append(*c.locals, c.variable(c.info.Defs[d]))
		}
		return nil

	case *syntax.ReadStmt:
		n := &Read{NodeBase: at(s.Pos)}
		for _, e := range s.Args {
			n.Args = append(n.Args, c.reference(e))
		}
		return []Node{n}

	case *syntax.WriteStmt:
		return []Node{&Write{NodeBase: at(s.Pos), Args: c.exprs(s.Args)}}

	case *syntax.CheckpointStmt:
		return []Node{&RequestLookahead{at(s.Pos)}, &Checkpoint{at(s.Pos)}}

	case *syntax.AllocStmt:
		n := &Alloc{NodeBase: at(s.Pos), Size: c.expr(s.Size)}
		for _, e := range s.Arrays {
			n.Arrays = append(n.Arrays, c.reference(e))
		}
		return []Node{n}

	case *syntax.CallStmt:
		return c.call(s)

	case *syntax.ReturnStmt:
		return []Node{&RequestLookahead{at(s.Pos)}, &Return{NodeBase: at(s.Pos), Value: c.expr(s.Value)}}

	case *syntax.ExitStmt:
		return []Node{&RequestLookahead{at(s.Pos)}, &Exit{NodeBase: at(s.Pos)}}

	case *syntax.ForStmt:
		index := c.variable(c.info.Indexes[s])
		body, locals := c.frame(s.Body.Stmts)
		return []Node{&For{NodeBase: at(s.Pos), Index: index, Range: c.expr(s.Range), Locals: locals, Body: body}}

	case *syntax.IfStmt:
		cond := c.expr(s.Cond)
		n := &If{NodeBase: at(s.Pos), Cond: cond, Then: c.block(s.Then.Stmts)}
		cands := candidates(n.Then, 1)
		if s.Else != nil {
			n.Else = c.block(s.Else.Stmts)
			cands = append(cands, candidates(n.Else, 0)...)
		} else {
			cands = append(cands, Candidate{Value: 0})
		}
		return []Node{
			&RequestLookahead{at(s.Pos)},
			&ValueResolve{NodeBase: at(s.Pos), Value: cond, Candidates: cands},
			n,
		}

	case *syntax.SwitchStmt:
		return c.switchStmt(s)

	case *syntax.LoopStmt:
		body, locals := c.frame(s.Body.Stmts)
		return []Node{&Loop{NodeBase: at(s.Pos), Locals: locals, Body: body}}

	case *syntax.BreakStmt:
		return []Node{&Break{at(s.Pos)}}

	case *syntax.ContinueStmt:
		return []Node{&Continue{at(s.Pos)}}
	}
	panic(fmt.Sprintf("compile: unknown statement %T", s))
}

func (c *compiler) switchStmt(s *syntax.SwitchStmt) []Node {
	value := c.expr(s.Value)
	n := &Switch{NodeBase: at(s.Pos), Value: value}
	var cands []Candidate
	labels := make(map[int64]bool)
	for _, cs := range s.Cases {
		arm := &Case{Body: c.block(cs.Body.Stmts)}
		for _, l := range cs.Labels {
			v := l.(*syntax.IntLit).Value
			arm.Labels = append(arm.Labels, v)
			labels[v] = true
		}
		n.Cases = append(n.Cases, arm)
		cands = append(cands, candidates(arm.Body, arm.Labels[0])...)
	}
	if s.Default != nil {
		n.HasDefault = true
		n.Default = c.block(s.Default.Stmts)
		for labels[n.DefaultValue] {
			n.DefaultValue++
		}
		cands = append(cands, candidates(n.Default, n.DefaultValue)...)
	}
	return []Node{
		&RequestLookahead{at(s.Pos)},
		&ValueResolve{NodeBase: at(s.Pos), Value: value, Candidates: cands},
		n,
	}
}

func candidates(body []Node, value int64) []Candidate {
	keys := FirstRequests(body)
	out := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, Candidate{Request: k, Value: value})
	}
	return out
}

func (c *compiler) call(s *syntax.CallStmt) []Node {
	proto := c.info.Functions[s.Name]
	sig := c.signature(proto)
	out := []Node{
		&RequestLookahead{at(s.Pos)},
		&CallArgumentsResolve{NodeBase: at(s.Pos), Signature: sig, Args: c.exprs(s.Args)},
	}
	if len(sig.Callbacks) > 0 {
		accept := &AcceptCallbacks{NodeBase: at(s.Pos)}
		for i, impl := range c.info.Implementations[s] {
			accept.Callbacks = append(accept.Callbacks, c.callback(i, sig.Callbacks[i], impl, s.Pos))
		}
		out = append(out, accept)
	}
	out = append(out, &CallCompleted{at(s.Pos)})
	if s.Return != nil {
		out = append(out, &CallReturn{NodeBase: at(s.Pos), Value: c.reference(s.Return)})
	}
	return out
}

// callback lowers the body driving callback i of a call. A nil decl gets
// the default body, which hands the parameters to the driver and, when a
// value is expected, reads the answer back.
func (c *compiler) callback(i int, proto *Signature, decl *syntax.CallbackDecl, pos syntax.Pos) *Callback {
	cb := &Callback{Index: i, Signature: proto}
	saved := c.locals
	c.locals = &cb.Locals
	defer func() { c.locals = saved }()

	var params []*ref.Variable
	var body []Node
	if decl != nil {
		pos = decl.Position()
		for _, p := range decl.Signature.Params {
			params = append(params, c.variable(c.info.Defs[p]))
		}
		cb.Locals = append(cb.Locals, params...)
		body = c.block(decl.Body.Stmts)
	} else {
		for _, p := range proto.Parameters {
			params = append(params, &ref.Variable{Name: p.Name})
		}
		cb.Locals = append(cb.Locals, params...)
		if len(params) > 0 {
			w := &Write{NodeBase: at(pos)}
			for _, p := range params {
				w.Args = append(w.Args, &VarRef{Variable: p, Text: p.Name})
			}
			body = append(body, w)
		}
		if proto.ReturnsValue {
			ans := &ref.Variable{Name: "ans"}
			cb.Locals = append(cb.Locals, ans)
			r := &VarRef{Variable: ans, Text: ans.Name}
			body = append(body,
				&Read{NodeBase: at(pos), Args: []*VarRef{r}},
				&RequestLookahead{at(pos)},
				&Return{NodeBase: at(pos), Value: r},
			)
		}
	}

	start := &CallbackStart{NodeBase: at(pos), Signature: proto, Parameters: params}
	cb.Body = append([]Node{start}, body...)
	if !proto.ReturnsValue {
		cb.Body = append(cb.Body, &RequestLookahead{at(pos)}, &CallbackEnd{at(pos)})
	}
	return cb
}

func (c *compiler) exprs(es []syntax.Expr) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = c.expr(e)
	}
	return out
}

func (c *compiler) expr(e syntax.Expr) Expr {
	if lit, ok := e.(*syntax.IntLit); ok {
		return &Lit{Value: lit.Value}
	}
	return c.reference(e)
}

func (c *compiler) reference(e syntax.Expr) *VarRef {
	root, indices := syntax.Root(e)
	r := &VarRef{
		Variable: c.variable(c.info.Uses[root]),
		Indexes:  c.exprs(indices),
		Text:     syntax.ExprString(e),
	}
	return r
}

// number assigns IDs in pre-order, starting from next, and returns the
// next free ID.
func number(nodes []Node, next int) int {
	for _, n := range nodes {
		n.Base().ID = next
		next++
		next = number(Children(n), next)
		if a, ok := n.(*AcceptCallbacks); ok {
			for _, cb := range a.Callbacks {
				next = number(cb.Body, next)
			}
		}
	}
	return next
}

// Children returns the nested blocks of a control node, flattened. Callback
// bodies are not included.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *Step:
		return n.Children
	case *For:
		return n.Body
	case *Loop:
		return n.Body
	case *If:
		out := append([]Node(nil), n.Then...)
		return append(out, n.Else...)
	case *Switch:
		var out []Node
		for _, cs := range n.Cases {
			out = append(out, cs.Body...)
		}
		return append(out, n.Default...)
	}
	return nil
}
