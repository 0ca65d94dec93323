package sema

import "ojdriver/internal/idl/syntax"

// SymbolKind tells where a name was declared.
type SymbolKind uint8

const (
	SymConst SymbolKind = iota
	SymGlobal
	SymLocal
	SymParam
	SymIndex
)

func (k SymbolKind) String() string {
	switch k {
	case SymConst:
		return "constant"
	case SymGlobal:
		return "global"
	case SymLocal:
		return "local"
	case SymParam:
		return "parameter"
	case SymIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Symbol is one declared name. Each declaration yields a distinct symbol.
type Symbol struct {
	Name       string
	Kind       SymbolKind
	Dimensions int
	Pos        syntax.Pos
	Value      int64 // constants only
}

const nilList int32 = -1

type link struct {
	sym  *Symbol
	next int32
}

// arena stores the cons cells of every persistent list built during one
// validation. Cells are append-only, so a list head stays valid forever
// and sibling contexts share their common tails.
type arena struct {
	links []link
}

func (a *arena) push(head int32, s *Symbol) int32 {
	a.links = append(a.links, link{sym: s, next: head})
	return int32(len(a.links) - 1)
}

func (a *arena) contains(head int32, s *Symbol) bool {
	for i := head; i != nilList; i = a.links[i].next {
		if a.links[i].sym == s {
			return true
		}
	}
	return false
}

func (a *arena) lookup(head int32, name string) *Symbol {
	for i := head; i != nilList; i = a.links[i].next {
		if a.links[i].sym.Name == name {
			return a.links[i].sym
		}
	}
	return nil
}

func (a *arena) slice(head int32) []*Symbol {
	var out []*Symbol
	for i := head; i != nilList; i = a.links[i].next {
		out = append(out, a.links[i].sym)
	}
	return out
}

// intersect returns the symbols of x that are also in y.
func (a *arena) intersect(x, y int32) int32 {
	if x == y {
		return x
	}
	out := nilList
	for _, s := range a.slice(x) {
		if a.contains(y, s) {
			out = a.push(out, s)
		}
	}
	return out
}

// Context is an immutable static context. Every method that changes
// something returns a new Context and leaves the receiver untouched.
type Context struct {
	a *arena

	scope       int32 // visible symbols, innermost first
	indexes     int32 // enclosing for-indexes, innermost first
	initialized int32
	allocated   int32

	// callback is the prototype of the enclosing callback body, if any.
	callback *syntax.Signature

	inLoop     bool
	terminated bool

	// hasBreak is set once a break of the innermost loop was seen.
	// brkInit and brkAlloc hold what every such break has in common.
	hasBreak bool
	brkInit  int32
	brkAlloc int32
}

func newRootContext() Context {
	return Context{
		a:           &arena{},
		scope:       nilList,
		indexes:     nilList,
		initialized: nilList,
		allocated:   nilList,
		brkInit:     nilList,
		brkAlloc:    nilList,
	}
}

// Lookup resolves a name lexically.
func (c Context) Lookup(name string) *Symbol { return c.a.lookup(c.scope, name) }

// Visible reports whether s is in scope.
func (c Context) Visible(s *Symbol) bool { return c.a.contains(c.scope, s) }

func (c Context) IsInitialized(s *Symbol) bool { return c.a.contains(c.initialized, s) }

func (c Context) IsAllocated(s *Symbol) bool { return c.a.contains(c.allocated, s) }

// Indexes returns the enclosing index variables, innermost first.
func (c Context) Indexes() []*Symbol { return c.a.slice(c.indexes) }

func (c Context) InLoop() bool { return c.inLoop }

func (c Context) Terminated() bool { return c.terminated }

func (c Context) declare(s *Symbol) Context {
	c.scope = c.a.push(c.scope, s)
	return c
}

func (c Context) pushIndex(s *Symbol) Context {
	c.scope = c.a.push(c.scope, s)
	c.indexes = c.a.push(c.indexes, s)
	c.initialized = c.a.push(c.initialized, s)
	return c
}

func (c Context) initialize(s *Symbol) Context {
	if s == nil || c.IsInitialized(s) {
		return c
	}
	c.initialized = c.a.push(c.initialized, s)
	return c
}

func (c Context) allocate(s *Symbol) Context {
	if s == nil || c.IsAllocated(s) {
		return c
	}
	c.allocated = c.a.push(c.allocated, s)
	return c
}

func (c Context) terminate() Context {
	c.terminated = true
	return c
}

// callbackContext starts the body of a callback: only the global symbols
// of root stay visible.
func callbackContext(root Context, sig *syntax.Signature) Context {
	root.callback = sig
	return root
}

// loopBody enters a loop body, resetting the break tracking.
func (c Context) loopBody() Context {
	c.inLoop = true
	c.hasBreak = false
	c.brkInit, c.brkAlloc = nilList, nilList
	c.terminated = false
	return c
}

// forBody enters a for body. A break or continue inside it acts on the
// enclosing loop.
func (c Context) forBody(index *Symbol) Context {
	return c.pushIndex(index)
}

// breakOut records c as one of the states leaving the innermost loop.
func (c Context) breakOut() Context {
	if c.hasBreak {
		c.brkInit = c.a.intersect(c.brkInit, c.initialized)
		c.brkAlloc = c.a.intersect(c.brkAlloc, c.allocated)
	} else {
		c.brkInit, c.brkAlloc = c.initialized, c.allocated
		c.hasBreak = true
	}
	return c.terminate()
}

// mergeBreaks gives out the break states of every branch.
func mergeBreaks(out Context, branches []Context) Context {
	out.hasBreak = false
	for _, b := range branches {
		if !b.hasBreak {
			continue
		}
		if !out.hasBreak {
			out.brkInit, out.brkAlloc = b.brkInit, b.brkAlloc
			out.hasBreak = true
			continue
		}
		out.brkInit = out.a.intersect(out.brkInit, b.brkInit)
		out.brkAlloc = out.a.intersect(out.brkAlloc, b.brkAlloc)
	}
	return out
}

// leave restores the lexical state of outer after a nested block, keeping
// the data-flow state of c.
func (c Context) leave(outer Context) Context {
	c.scope = outer.scope
	c.indexes = outer.indexes
	c.callback = outer.callback
	c.inLoop = outer.inLoop
	return c
}

// join merges the contexts reaching the end of alternative branches.
// A branch that terminated does not reach the join point.
func join(branches ...Context) Context {
	var live []Context
	for _, b := range branches {
		if !b.terminated {
			live = append(live, b)
		}
	}
	if len(live) == 0 {
		return mergeBreaks(branches[0], branches)
	}
	out := live[0]
	for _, b := range live[1:] {
		out.initialized = out.a.intersect(out.initialized, b.initialized)
		out.allocated = out.a.intersect(out.allocated, b.allocated)
	}
	return mergeBreaks(out, branches)
}

// afterFor computes the context following a for statement. The body may run
// zero times, so the only thing escaping it is the initialization of outer
// arrays, which can only happen element-wise through index subscripts.
// Breaks in the body leave the enclosing loop, so their states carry over.
func afterFor(before, body Context) Context {
	out := before
	for _, s := range body.a.slice(body.initialized) {
		if s.Dimensions > 0 && before.Visible(s) {
			out = out.initialize(s)
		}
	}
	out.hasBreak = body.hasBreak
	out.brkInit, out.brkAlloc = body.brkInit, body.brkAlloc
	return out
}

// afterLoop computes the context following a loop statement. Control only
// leaves the body through a break, so what follows sees what every break
// had in common.
func afterLoop(before, body Context) Context {
	if !body.hasBreak {
		return before
	}
	out := before
	out.initialized = body.brkInit
	out.allocated = body.brkAlloc
	return out
}
