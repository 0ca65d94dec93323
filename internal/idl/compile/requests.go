package compile

// FirstRequests returns the driver requests that can be the first one
// consumed by body, in first-seen order. The zero key is included when
// body can complete without consuming any request.
func FirstRequests(body []Node) []RequestKey {
	var s requestSet
	s.block(body)
	return s.keys
}

type requestSet struct {
	keys []RequestKey
}

func (s *requestSet) add(k RequestKey) {
	for _, have := range s.keys {
		if have == k {
			return
		}
	}
	s.keys = append(s.keys, k)
}

// block adds the first requests of body and reports whether body can end
// without consuming one.
func (s *requestSet) block(body []Node) bool {
	for _, n := range body {
		if !s.node(n) {
			return false
		}
	}
	s.add(RequestKey{})
	return true
}

// node adds the first requests of n and reports whether control can pass
// through n without consuming one.
func (s *requestSet) node(n Node) bool {
	switch n := n.(type) {
	case *CallArgumentsResolve:
		s.add(RequestKey{Command: "call", Name: n.Signature.Name})
		return false
	case *Checkpoint:
		s.add(RequestKey{Command: "checkpoint"})
		return false
	case *Exit:
		s.add(RequestKey{Command: "exit"})
		return false
	case *Return, *CallbackEnd:
		s.add(RequestKey{Command: "callback_return"})
		return false
	case *For:
		// The range may be zero.
		s.branches(n.Body)
		return true
	case *Loop:
		return s.branches(n.Body)
	case *If:
		return s.branches(n.Then, n.Else)
	case *Switch:
		bodies := make([][]Node, 0, len(n.Cases)+1)
		for _, cs := range n.Cases {
			bodies = append(bodies, cs.Body)
		}
		if n.HasDefault {
			bodies = append(bodies, n.Default)
		} else {
			bodies = append(bodies, nil)
		}
		return s.branches(bodies...)
	case *Step:
		for _, c := range n.Children {
			if !s.node(c) {
				return false
			}
		}
		return true
	}
	return true
}

// branches merges alternative bodies. Passing through any of them without
// a request counts as passing through the whole.
func (s *requestSet) branches(bodies ...[]Node) bool {
	through := false
	for _, b := range bodies {
		var inner requestSet
		if inner.block(b) {
			through = true
		}
		for _, k := range inner.keys {
			if k != (RequestKey{}) {
				s.add(k)
			}
		}
	}
	return through
}
