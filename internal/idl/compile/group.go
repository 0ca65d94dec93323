package compile

import "ojdriver/internal/idl/ref"

// Group partitions nodes into steps. A step is a maximal run of groupable
// nodes that never moves data both up and down. A node that cannot be
// grouped stands alone between steps. Nested blocks are grouped too.
func Group(nodes []Node) []Node {
	var out []Node
	var run []Node
	var dir ref.Direction
	flush := func() {
		if len(run) > 0 {
			out = append(out, &Step{NodeBase: run[0].Base().copyPos(), Direction: dir, Children: run})
		}
		run, dir = nil, ref.NoDirection
	}

	for _, n := range nodes {
		groupInside(n)
		if !Groupable(n) {
			flush()
			if _, ok := n.(*Checkpoint); ok {
				// A checkpoint still needs the upward then request phases.
				out = append(out, &Step{NodeBase: n.Base().copyPos(), Direction: ref.Upward, Children: []Node{n}})
				continue
			}
			out = append(out, n)
			continue
		}
		d := NodeDirection(n)
		if d != ref.NoDirection && dir != ref.NoDirection && d != dir {
			flush()
		}
		run = append(run, n)
		if d != ref.NoDirection {
			dir = d
		}
		// Nothing after an exit or a return may share its step.
		if terminal(n) {
			flush()
		}
	}
	flush()
	return out
}

func (b *NodeBase) copyPos() NodeBase { return NodeBase{Pos: b.Pos} }

func groupInside(n Node) {
	switch n := n.(type) {
	case *For:
		n.Body = Group(n.Body)
	case *Loop:
		n.Body = Group(n.Body)
	case *If:
		n.Then = Group(n.Then)
		n.Else = Group(n.Else)
	case *Switch:
		for _, cs := range n.Cases {
			cs.Body = Group(cs.Body)
		}
		n.Default = Group(n.Default)
	case *AcceptCallbacks:
		for _, cb := range n.Callbacks {
			cb.Body = Group(cb.Body)
		}
	}
}

// Groupable reports whether n may be part of a step.
func Groupable(n Node) bool {
	switch n := n.(type) {
	case *Loop, *AcceptCallbacks, *Checkpoint, *Break, *Continue:
		return false
	case *Step:
		return allGroupable(n.Children)
	case *For:
		// Locals need a frame per iteration, which a phase-by-phase walk
		// cannot give them.
		return len(n.Locals) == 0 && allGroupable(n.Body) && !mixed(n)
	case *If:
		return allGroupable(n.Then) && allGroupable(n.Else) && !mixed(n)
	case *Switch:
		if !allGroupable(n.Default) {
			return false
		}
		for _, cs := range n.Cases {
			if !allGroupable(cs.Body) {
				return false
			}
		}
		return !mixed(n)
	}
	return true
}

func allGroupable(nodes []Node) bool {
	for _, n := range nodes {
		if !Groupable(n) {
			return false
		}
	}
	return true
}

// NodeDirection returns the one direction data moves in n, or NoDirection.
// It panics on a node moving data both ways; such nodes are not groupable.
func NodeDirection(n Node) ref.Direction {
	up, down := directions(n)
	switch {
	case up && down:
		panic("compile: node moves data both ways")
	case up:
		return ref.Upward
	case down:
		return ref.Downward
	}
	return ref.NoDirection
}

func mixed(n Node) bool {
	up, down := directions(n)
	return up && down
}

func directions(n Node) (up, down bool) {
	switch n.(type) {
	case *Read:
		return false, true
	case *Write, *Checkpoint, *CallReturn, *CallbackStart:
		return true, false
	}
	for _, c := range Children(n) {
		u, d := directions(c)
		up, down = up || u, down || d
	}
	return up, down
}

func terminal(n Node) bool {
	switch n.(type) {
	case *Exit, *Return:
		return true
	}
	for _, c := range Children(n) {
		if terminal(c) {
			return true
		}
	}
	return false
}
