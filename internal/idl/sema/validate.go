package sema

import (
	"sort"

	"ojdriver/internal/idl/syntax"
)

// Info is the outcome of checking one file. Besides the diagnostics it
// records how every name was resolved, for use by the node compiler.
type Info struct {
	Diagnostics []Diagnostic

	Constants []*Symbol
	Globals   []*Symbol

	// Functions and Callbacks hold the first declaration of each name.
	Functions map[string]*syntax.Signature
	Callbacks map[string]*syntax.CallbackDecl

	Uses    map[*syntax.Ident]*Symbol
	Defs    map[*syntax.Declarator]*Symbol
	Indexes map[*syntax.ForStmt]*Symbol

	// Implementations lists, for each call, the body driving each callback
	// the callee declares, in declaration order. A nil entry means no body
	// was given and the default one applies.
	Implementations map[*syntax.CallStmt][]*syntax.CallbackDecl
}

// Valid reports whether checking found nothing to complain about.
func (info *Info) Valid() bool { return len(info.Diagnostics) == 0 }

// Compilable reports whether no diagnostic blocks compilation.
func (info *Info) Compilable() bool {
	for _, d := range info.Diagnostics {
		if d.Kind.Blocking() {
			return false
		}
	}
	return true
}

// Validate returns the diagnostics of file in source order.
func Validate(file *syntax.File) []Diagnostic {
	return Check(file).Diagnostics
}

// Check resolves names and validates data flow. It never fails; problems
// are reported as diagnostics.
func Check(file *syntax.File) *Info {
	c := &checker{
		file: file,
		root: newRootContext(),
		info: &Info{
			Functions:       make(map[string]*syntax.Signature),
			Callbacks:       make(map[string]*syntax.CallbackDecl),
			Uses:            make(map[*syntax.Ident]*Symbol),
			Defs:            make(map[*syntax.Declarator]*Symbol),
			Indexes:         make(map[*syntax.ForStmt]*Symbol),
			Implementations: make(map[*syntax.CallStmt][]*syntax.CallbackDecl),
		},
	}
	c.declareGlobals()
	c.declareMethods()
	for _, cb := range file.Callbacks {
		c.callbackBody(cb)
	}
	if file.Main != nil {
		c.block(c.root, file.Main)
	}

	sort.SliceStable(c.info.Diagnostics, func(i, j int) bool {
		a, b := c.info.Diagnostics[i].Pos, c.info.Diagnostics[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
	return c.info
}

type checker struct {
	file *syntax.File
	info *Info
	root Context // constants and globals
}

func (c *checker) report(kind Kind, pos syntax.Pos, args ...interface{}) {
	c.info.Diagnostics = append(c.info.Diagnostics, newDiagnostic(kind, pos, args...))
}

func (c *checker) declareGlobals() {
	for _, k := range c.file.Constants {
		if c.root.Lookup(k.Name) != nil {
			c.report(VariableRedeclared, k.Pos, k.Name)
		}
		sym := &Symbol{Name: k.Name, Kind: SymConst, Pos: k.Pos, Value: k.Value}
		c.info.Constants = append(c.info.Constants, sym)
		c.root = c.root.declare(sym).initialize(sym)
	}
	for _, v := range c.file.Globals {
		for _, d := range v.Decls {
			if c.root.Lookup(d.Name) != nil {
				c.report(VariableRedeclared, d.Pos, d.Name)
			}
			sym := &Symbol{Name: d.Name, Kind: SymGlobal, Dimensions: d.Dimensions, Pos: d.Pos}
			c.info.Globals = append(c.info.Globals, sym)
			c.info.Defs[d] = sym
			// The driver supplies globals before main starts.
			c.root = c.root.declare(sym).initialize(sym)
			if sym.Dimensions > 0 {
				c.root = c.root.allocate(sym)
			}
		}
	}
}

func (c *checker) declareMethods() {
	for _, sig := range c.file.Functions {
		if _, dup := c.info.Functions[sig.Name]; dup {
			c.report(MethodRedeclared, sig.Pos, sig.Name)
		} else {
			c.info.Functions[sig.Name] = sig
		}
		c.checkParams(sig)
		if sig.Returns && sig.ReturnDimensions > 0 {
			c.report(ReturnTypeMustBeScalar, sig.ReturnPos, sig.Name)
		}
		seen := make(map[string]bool)
		for _, cb := range sig.Callbacks {
			if seen[cb.Name] {
				c.report(MethodRedeclared, cb.Pos, cb.Name)
			}
			seen[cb.Name] = true
			c.checkPrototype(cb)
		}
	}
	for _, decl := range c.file.Callbacks {
		sig := decl.Signature
		if _, dup := c.info.Callbacks[sig.Name]; dup {
			c.report(MethodRedeclared, sig.Pos, sig.Name)
		} else {
			c.info.Callbacks[sig.Name] = decl
		}
		c.checkPrototype(sig)
	}
}

func (c *checker) checkParams(sig *syntax.Signature) {
	seen := make(map[string]bool)
	for _, p := range sig.Params {
		if seen[p.Name] {
			c.report(VariableRedeclared, p.Pos, p.Name)
		}
		seen[p.Name] = true
	}
}

// checkPrototype applies the shape restrictions of callbacks.
func (c *checker) checkPrototype(sig *syntax.Signature) {
	c.checkParams(sig)
	for _, p := range sig.Params {
		if p.Dimensions > 0 {
			c.report(CallbackParametersScalars, p.Pos, p.Name)
		}
	}
	if sig.Returns && sig.ReturnDimensions > 0 {
		c.report(ReturnTypeMustBeScalar, sig.ReturnPos, sig.Name)
	}
	if len(sig.Callbacks) > 0 {
		c.report(NestedCallbacks, sig.Pos, sig.Name)
	}
}

func (c *checker) callbackBody(decl *syntax.CallbackDecl) {
	sig := decl.Signature
	ctx := callbackContext(c.root, sig)
	for _, p := range sig.Params {
		ctx = c.declare(ctx, p, SymParam)
		ctx = ctx.initialize(c.info.Defs[p])
	}
	out := c.stmts(ctx, decl.Body.Stmts)
	if sig.Returns && !out.terminated {
		c.report(MissingReturn, sig.Pos, sig.Name)
	}
}

func (c *checker) declare(ctx Context, d *syntax.Declarator, kind SymbolKind) Context {
	if ctx.Lookup(d.Name) != nil {
		c.report(VariableRedeclared, d.Pos, d.Name)
	}
	sym := &Symbol{Name: d.Name, Kind: kind, Dimensions: d.Dimensions, Pos: d.Pos}
	c.info.Defs[d] = sym
	return ctx.declare(sym)
}

func (c *checker) block(ctx Context, b *syntax.Block) Context {
	return c.stmts(ctx, b.Stmts).leave(ctx)
}

func (c *checker) stmts(ctx Context, stmts []syntax.Stmt) Context {
	reported := false
	for _, s := range stmts {
		if ctx.terminated && !reported {
			c.report(UnreachableCode, s.Position())
			reported = true
		}
		ctx = c.stmt(ctx, s)
	}
	return ctx
}

func (c *checker) stmt(ctx Context, s syntax.Stmt) Context {
	switch s := s.(type) {
	case *syntax.VarStmt:
		for _, d := range s.Decls {
			ctx = c.declare(ctx, d, SymLocal)
		}
		return ctx

	case *syntax.ReadStmt:
		for _, e := range s.Args {
			sym, rest := c.lvalue(ctx, e)
			if sym == nil {
				continue
			}
			if rest != 0 {
				c.report(ExpressionNotScalar, e.Position(), syntax.ExprString(e))
				continue
			}
			ctx = ctx.initialize(sym)
		}
		return ctx

	case *syntax.WriteStmt:
		for _, e := range s.Args {
			c.scalar(ctx, e)
		}
		return ctx

	case *syntax.CheckpointStmt:
		return ctx

	case *syntax.AllocStmt:
		c.scalar(ctx, s.Size)
		for _, e := range s.Arrays {
			sym, rest := c.lvalue(ctx, e)
			if sym == nil {
				continue
			}
			if rest == 0 {
				c.report(ExpressionNotArray, e.Position(), syntax.ExprString(e))
				continue
			}
			ctx = ctx.allocate(sym)
		}
		return ctx

	case *syntax.CallStmt:
		return c.call(ctx, s)

	case *syntax.ReturnStmt:
		if ctx.callback == nil || !ctx.callback.Returns {
			c.report(UnexpectedReturn, s.Pos)
		}
		c.scalar(ctx, s.Value)
		return ctx.terminate()

	case *syntax.ExitStmt:
		return ctx.terminate()

	case *syntax.ForStmt:
		c.scalar(ctx, s.Range)
		if ctx.Lookup(s.Index) != nil {
			c.report(VariableRedeclared, s.IndexPos, s.Index)
		}
		index := &Symbol{Name: s.Index, Kind: SymIndex, Pos: s.IndexPos}
		c.info.Indexes[s] = index
		body := c.block(ctx.forBody(index), s.Body)
		return afterFor(ctx, body)

	case *syntax.IfStmt:
		c.scalar(ctx, s.Cond)
		then := c.block(ctx, s.Then)
		els := ctx
		if s.Else != nil {
			els = c.block(ctx, s.Else)
		}
		return join(then, els)

	case *syntax.SwitchStmt:
		return c.switchStmt(ctx, s)

	case *syntax.LoopStmt:
		body := c.block(ctx.loopBody(), s.Body)
		if !body.hasBreak {
			c.report(InfiniteLoop, s.Pos)
		}
		return afterLoop(ctx, body)

	case *syntax.BreakStmt:
		if !ctx.inLoop {
			c.report(UnexpectedBreak, s.Pos)
			return ctx
		}
		return ctx.breakOut()

	case *syntax.ContinueStmt:
		if !ctx.inLoop {
			c.report(UnexpectedContinue, s.Pos)
			return ctx
		}
		return ctx.terminate()
	}
	panic("sema: unknown statement type")
}

func (c *checker) switchStmt(ctx Context, s *syntax.SwitchStmt) Context {
	c.scalar(ctx, s.Value)
	if len(s.Cases) == 0 && s.Default == nil {
		c.report(EmptySwitchBody, s.Pos)
		return ctx
	}
	seen := make(map[int64]bool)
	branches := make([]Context, 0, len(s.Cases)+1)
	for _, cs := range s.Cases {
		for _, l := range cs.Labels {
			lit, ok := l.(*syntax.IntLit)
			if !ok {
				c.report(InvalidCaseExpression, l.Position(), syntax.ExprString(l))
				continue
			}
			if seen[lit.Value] {
				c.report(DuplicatedCaseLabel, lit.Pos, lit.Value)
			}
			seen[lit.Value] = true
		}
		branches = append(branches, c.block(ctx, cs.Body))
	}
	if s.Default != nil {
		branches = append(branches, c.block(ctx, s.Default))
	} else {
		branches = append(branches, ctx)
	}
	return join(branches...)
}

func (c *checker) call(ctx Context, s *syntax.CallStmt) Context {
	sig := c.info.Functions[s.Name]
	if sig == nil {
		c.report(MethodNotDeclared, s.Pos, s.Name)
		for _, a := range s.Args {
			c.rvalue(ctx, a)
		}
		for _, cb := range s.Callbacks {
			c.checkPrototype(cb.Signature)
			c.callbackBody(cb)
		}
		if s.Return != nil {
			if sym, _ := c.lvalue(ctx, s.Return); sym != nil {
				ctx = ctx.initialize(sym)
			}
		}
		return ctx
	}

	if len(s.Args) != len(sig.Params) {
		c.report(CallWrongArgsNumber, s.Pos, sig.Name, len(sig.Params), len(s.Args))
	}
	for i, a := range s.Args {
		dims := c.rvalue(ctx, a)
		if i >= len(sig.Params) || dims < 0 {
			continue
		}
		if p := sig.Params[i]; dims != p.Dimensions {
			c.report(CallWrongArgsType, a.Position(), p.Name, sig.Name, p.Dimensions, syntax.ExprString(a))
		}
	}

	c.implementations(s, sig)

	switch {
	case sig.Returns && s.Return == nil:
		c.report(CallNoReturnExpression, s.Pos, sig.Name)
	case !sig.Returns && s.Return != nil:
		c.report(FunctionDoesNotReturnValue, s.Return.Position(), sig.Name)
	case s.Return != nil:
		if root, _ := syntax.Root(s.Return); root == nil {
			c.report(CallWrongReturnExpression, s.Return.Position(), sig.Name, syntax.ExprString(s.Return))
			break
		}
		sym, rest := c.lvalue(ctx, s.Return)
		if sym == nil {
			break
		}
		if rest != 0 || sym.Kind == SymConst || sym.Kind == SymIndex {
			c.report(CallWrongReturnExpression, s.Return.Position(), sig.Name, syntax.ExprString(s.Return))
			break
		}
		ctx = ctx.initialize(sym)
	}
	return ctx
}

// implementations pairs the callbacks declared by sig with their bodies:
// inline bodies first, then top-level callbacks of the same name.
func (c *checker) implementations(s *syntax.CallStmt, sig *syntax.Signature) {
	impls := make([]*syntax.CallbackDecl, len(sig.Callbacks))
	seen := make(map[string]bool)
	for _, cb := range s.Callbacks {
		name := cb.Signature.Name
		c.checkPrototype(cb.Signature)
		c.callbackBody(cb)
		if seen[name] {
			c.report(CallbackAlreadyImplemented, cb.Position(), name)
			continue
		}
		seen[name] = true
		i := callbackIndex(sig, name)
		if i < 0 {
			c.report(CallbackNotDeclared, cb.Position(), sig.Name, name)
			continue
		}
		c.matchPrototype(cb.Signature, sig.Callbacks[i], sig.Name, cb.Position())
		impls[i] = cb
	}
	for i, proto := range sig.Callbacks {
		if impls[i] != nil {
			continue
		}
		if top := c.info.Callbacks[proto.Name]; top != nil {
			c.matchPrototype(top.Signature, proto, sig.Name, s.Pos)
			impls[i] = top
		}
	}
	c.info.Implementations[s] = impls
}

func callbackIndex(sig *syntax.Signature, name string) int {
	for i, cb := range sig.Callbacks {
		if cb.Name == name {
			return i
		}
	}
	return -1
}

func (c *checker) matchPrototype(impl, proto *syntax.Signature, method string, pos syntax.Pos) {
	if len(impl.Params) != len(proto.Params) || impl.Returns != proto.Returns {
		c.report(CallbackSignatureMismatch, pos, impl.Name, method)
	}
}

func (c *checker) use(ctx Context, id *syntax.Ident) *Symbol {
	sym := ctx.Lookup(id.Name)
	if sym == nil {
		c.report(VariableNotDeclared, id.Pos, id.Name)
		return nil
	}
	c.info.Uses[id] = sym
	return sym
}

// lvalue checks a reference the statement assigns through. It returns the
// root symbol and the number of dimensions left after subscripting, or a
// nil symbol when the reference is unusable.
func (c *checker) lvalue(ctx Context, e syntax.Expr) (*Symbol, int) {
	root, indices := syntax.Root(e)
	if root == nil {
		c.report(ExpressionNotReference, e.Position(), syntax.ExprString(e))
		return nil, 0
	}
	sym := c.use(ctx, root)
	if sym == nil {
		return nil, 0
	}
	if len(indices) > sym.Dimensions {
		extra := indices[sym.Dimensions]
		c.report(ArrayIndexNotValid, extra.Position(), syntax.ExprString(extra))
		return nil, 0
	}
	if len(indices) > 0 && !ctx.IsAllocated(sym) {
		c.report(VariableNotAllocated, root.Pos, sym.Name)
	}
	c.indexRule(ctx, indices)
	return sym, sym.Dimensions - len(indices)
}

// indexRule requires A[i1]...[ik] to use the k innermost for-indexes in
// nesting order, ik being the innermost.
func (c *checker) indexRule(ctx Context, indices []syntax.Expr) {
	enclosing := ctx.Indexes()
	k := len(indices)
	for p, e := range indices {
		var expected *Symbol
		if depth := k - 1 - p; depth < len(enclosing) {
			expected = enclosing[depth]
		}
		id, ok := e.(*syntax.Ident)
		if !ok {
			c.report(ArrayIndexNotValid, e.Position(), syntax.ExprString(e))
			continue
		}
		got := c.use(ctx, id)
		switch {
		case got == nil:
		case got == expected:
		case got.Kind == SymIndex && expected != nil:
			c.report(ArrayIndexWrongOrder, id.Pos, id.Name, expected.Name)
		default:
			c.report(ArrayIndexNotValid, id.Pos, id.Name)
		}
	}
}

// rvalue checks a value the statement uses and returns its remaining
// dimensions, or -1 when they cannot be told.
func (c *checker) rvalue(ctx Context, e syntax.Expr) int {
	if _, ok := e.(*syntax.IntLit); ok {
		return 0
	}
	root, indices := syntax.Root(e)
	sym := c.use(ctx, root)
	if sym == nil {
		return -1
	}
	if len(indices) > sym.Dimensions {
		extra := indices[sym.Dimensions]
		c.report(ArrayIndexNotValid, extra.Position(), syntax.ExprString(extra))
		return -1
	}
	for _, idx := range indices {
		c.scalar(ctx, idx)
	}
	if !ctx.IsInitialized(sym) {
		c.report(VariableNotInitialized, root.Pos, sym.Name)
	}
	return sym.Dimensions - len(indices)
}

func (c *checker) scalar(ctx Context, e syntax.Expr) {
	if dims := c.rvalue(ctx, e); dims > 0 {
		c.report(ExpressionNotScalar, e.Position(), syntax.ExprString(e))
	}
}
