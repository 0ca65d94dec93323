package compile

import "ojdriver/internal/idl/ref"

// Actions returns what n does to the references it names. Reads declare
// their targets to the process; writes, call arguments and return values
// become resolved in the engine.
func Actions(n Node) []ref.Action {
	var out []ref.Action
	add := func(e Expr, st ref.Status) {
		if r, ok := e.(*VarRef); ok {
			out = append(out, ref.Action{Reference: r.Reference(), Status: st})
		}
	}
	switch n := n.(type) {
	case *Read:
		for _, a := range n.Args {
			add(a, ref.Declared)
		}
	case *Write:
		for _, a := range n.Args {
			add(a, ref.Resolved)
		}
	case *Alloc:
		for _, a := range n.Arrays {
			add(a, ref.Declared)
		}
	case *CallArgumentsResolve:
		for _, a := range n.Args {
			add(a, ref.Resolved)
		}
	case *CallReturn:
		add(n.Value, ref.Declared)
	case *CallbackStart:
		for _, p := range n.Parameters {
			out = append(out, ref.Action{Reference: ref.Reference{Variable: p}, Status: ref.Resolved})
		}
	case *Return:
		add(n.Value, ref.Resolved)
	}
	return out
}
