package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ojdriver/internal/idl/compile"
	"ojdriver/internal/idl/ref"
	appErr "ojdriver/pkg/errors"
	"ojdriver/pkg/utils/logger"
)

// phase is the part of a step being walked. Outside steps there is none.
type phase int8

const (
	noPhase phase = iota
	upwardPhase
	requestPhase
	downwardPhase
)

func (p phase) String() string {
	switch p {
	case upwardPhase:
		return "upward"
	case requestPhase:
		return "request"
	case downwardPhase:
		return "downward"
	default:
		return "none"
	}
}

// phases lists the phases a step walks, in order.
func phases(d ref.Direction) []phase {
	if d == ref.Upward {
		return []phase{upwardPhase, requestPhase}
	}
	return []phase{requestPhase, downwardPhase}
}

// outcome is how control leaves a node.
type outcome int8

const (
	next outcome = iota
	brk
	cont
	// returned ends the callback body once the current step is done.
	returned
	// exited and stopped end the session at once.
	exited
	stopped
)

type executor struct {
	ctx      context.Context
	prog     *compile.Program
	max      int64
	maxSteps int64
	maxTrace int
	drv      *driverConn
	sb       sandboxChannel
	res      *Result

	// root holds the constants and globals; callbacks run below it.
	root *ref.Bindings

	lookahead compile.RequestKey
	pending   bool
}

func (x *executor) run() error {
	main, out, err := x.mainBegin()
	if err != nil {
		return err
	}
	if out == next {
		if out, err = x.block(x.prog.Main, main, noPhase); err != nil {
			return err
		}
	}
	if out != exited && out != stopped {
		return appErr.Newf(appErr.InternalServerError, "main ended without an exit")
	}
	return x.drv.flush()
}

// guardedRun runs an interface that compiled with diagnostics. Its data
// flow was not proven, so the bindings may be asked for something they
// cannot do; that ends the session as a protocol error.
func (x *executor) guardedRun() (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ce, ok := r.(*ref.ConsistencyError)
		if !ok {
			panic(r)
		}
		err = appErr.InterfaceErrorf("%s", ce.Error()).WithDetail("request", x.request().String())
	}()
	return x.run()
}

// mainBegin takes the main_begin request, which carries the globals, and
// returns the bindings main runs in.
func (x *executor) mainBegin() (*ref.Bindings, outcome, error) {
	cmd, err := x.drv.receive()
	if err != nil {
		return nil, next, err
	}
	x.res.Counters.Requests++
	if cmd == "stop" {
		return nil, stopped, x.stop()
	}
	if cmd != "main_begin" {
		return nil, next, appErr.InterfaceErrorf("expected main_begin, got %q", cmd).WithDetail("request", cmd)
	}
	count, err := x.drv.receiveInt()
	if err != nil {
		return nil, next, err
	}
	if count != int64(len(x.prog.Globals)) {
		return nil, next, appErr.InterfaceErrorf("interface has %d global variables, driver sent %d", len(x.prog.Globals), count)
	}

	x.root = ref.New(x.prog.Globals...)
	for _, c := range x.prog.Constants {
		x.root.Declare(c.Variable)
		if err := x.root.Resolve(ref.Location{Variable: c.Variable}, ref.Int(c.Value)); err != nil {
			return nil, next, err
		}
	}
	for _, g := range x.prog.Globals {
		v, err := x.drv.receiveValue(g.Dimensions, x.max)
		if err != nil {
			return nil, next, appErr.GetError(err).WithDetail("global", g.Name)
		}
		if err := x.root.Resolve(ref.Location{Variable: g}, v); err != nil {
			return nil, next, err
		}
	}
	if err := x.reportReady(); err != nil {
		return nil, next, err
	}
	return x.root.Child(x.prog.Locals), next, nil
}

func (x *executor) block(nodes []compile.Node, b *ref.Bindings, ph phase) (outcome, error) {
	for _, n := range nodes {
		out, err := x.execute(n, b, ph)
		if err != nil || out != next {
			return out, err
		}
	}
	return next, nil
}

func (x *executor) execute(n compile.Node, b *ref.Bindings, ph phase) (outcome, error) {
	x.res.Steps++
	if x.res.Steps > x.maxSteps {
		return next, x.fail(n, appErr.Newf(appErr.StepLimitExceeded, "session went past %d steps", x.maxSteps))
	}
	if len(x.res.Trace) < x.maxTrace {
		x.res.Trace = append(x.res.Trace, n.Base().ID)
	} else {
		x.res.TraceTruncated = true
	}
	out, err := x.dispatch(n, b, ph)
	if err != nil {
		return out, x.fail(n, err)
	}
	return out, nil
}

func (x *executor) dispatch(n compile.Node, b *ref.Bindings, ph phase) (outcome, error) {
	switch n := n.(type) {
	case *compile.Step:
		return x.step(n, b, ph)
	case *compile.Read:
		return next, x.read(n, b, ph)
	case *compile.Write:
		return next, x.write(n, b, ph)
	case *compile.Checkpoint:
		return next, x.checkpoint(ph)
	case *compile.Alloc:
		return next, x.alloc(n, b, ph)
	case *compile.RequestLookahead:
		return x.requestLookahead(ph)
	case *compile.ValueResolve:
		return next, x.valueResolve(n, b, ph)
	case *compile.CallArgumentsResolve:
		return next, x.callArguments(n, b, ph)
	case *compile.AcceptCallbacks:
		return x.acceptCallbacks(n)
	case *compile.CallCompleted:
		if ph != requestPhase {
			return next, nil
		}
		if err := x.reportReady(); err != nil {
			return next, err
		}
		return next, x.drv.send(0)
	case *compile.CallReturn:
		return next, x.callReturn(n, b, ph)
	case *compile.CallbackStart:
		return next, x.callbackStart(n, b, ph)
	case *compile.Return:
		return returned, x.ret(n, b, ph)
	case *compile.CallbackEnd:
		return next, x.callbackEnd(ph)
	case *compile.Exit:
		return x.exit(n, ph)
	case *compile.Break:
		return brk, nil
	case *compile.Continue:
		return cont, nil
	case *compile.For:
		return x.forLoop(n, b, ph)
	case *compile.If:
		return x.ifElse(n, b, ph)
	case *compile.Switch:
		return x.switchCase(n, b, ph)
	case *compile.Loop:
		return x.loop(n, b)
	}
	panic("engine: unknown node " + compile.Kind(n))
}

func (x *executor) step(n *compile.Step, b *ref.Bindings, ph phase) (outcome, error) {
	if ph != noPhase {
		return x.block(n.Children, b, ph)
	}
	if err := x.ctx.Err(); err != nil {
		return next, canceled(err)
	}
	result := next
	for _, p := range phases(n.Direction) {
		out, err := x.block(n.Children, b, p)
		if err != nil {
			return out, err
		}
		switch out {
		case exited, stopped:
			return out, nil
		case returned:
			result = returned
		}
	}
	return result, x.sb.flush()
}

func canceled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return appErr.Wrapf(err, appErr.SessionTimeout, "session deadline exceeded")
	}
	return appErr.Wrapf(err, appErr.SessionFailed, "session canceled")
}

func (x *executor) read(n *compile.Read, b *ref.Bindings, ph phase) error {
	if ph != downwardPhase {
		return nil
	}
	values := make([]int64, len(n.Args))
	for i, a := range n.Args {
		v, err := x.evalInt(a, b)
		if err != nil {
			return err
		}
		values[i] = v
	}
	return x.sb.send(values)
}

func (x *executor) write(n *compile.Write, b *ref.Bindings, ph phase) error {
	if ph != upwardPhase {
		return nil
	}
	hint := make([]int64, len(n.Args))
	for i, a := range n.Args {
		if v, err := x.evalInt(a, b); err == nil {
			hint[i] = v
		}
	}
	values, err := x.sb.receive(len(n.Args), hint)
	if err != nil {
		return err
	}
	for i, a := range n.Args {
		if err := x.assign(a, b, values[i], appErr.CommunicationBroken); err != nil {
			return err
		}
	}
	return nil
}

// assign resolves e to v. A value conflicting with what is already known
// is reported with code.
func (x *executor) assign(e compile.Expr, b *ref.Bindings, v int64, code appErr.ErrorCode) error {
	switch e := e.(type) {
	case *compile.Lit:
		if e.Value != v {
			return appErr.Newf(code, "got %d, expected %d", v, e.Value)
		}
		return nil
	case *compile.VarRef:
		return x.assignValue(e, b, ref.Int(v), code)
	}
	panic("engine: unknown expression")
}

func (x *executor) assignValue(r *compile.VarRef, b *ref.Bindings, v ref.Value, code appErr.ErrorCode) error {
	loc, err := x.locate(r, b)
	if err != nil {
		return err
	}
	ok, err := b.Compatible(loc, v)
	if err != nil {
		return err
	}
	if !ok {
		current, _ := b.Get(loc)
		return appErr.Newf(code, "got %s for %s, which is already %s", v, loc, current).
			WithDetail("reference", loc.String())
	}
	return b.Resolve(loc, v)
}

func (x *executor) checkpoint(ph phase) error {
	switch ph {
	case upwardPhase:
		values, err := x.sb.receive(1, []int64{0})
		if err != nil {
			return err
		}
		if values[0] != 0 {
			return appErr.Broken(nil, "expected checkpoint 0, got %d", values[0])
		}
	case requestPhase:
		if err := x.expect("checkpoint"); err != nil {
			return err
		}
		x.pending = false
		return x.reportReady()
	}
	return nil
}

func (x *executor) alloc(n *compile.Alloc, b *ref.Bindings, ph phase) error {
	size, err := x.evalInt(n.Size, b)
	if err != nil {
		if isUnresolved(err) && ph != downwardPhase && ph != noPhase {
			return nil
		}
		return err
	}
	if size > x.max {
		return appErr.Newf(appErr.IndexOutOfBounds, "array size %d exceeds the limit of %d", size, x.max)
	}
	for _, a := range n.Arrays {
		loc, err := x.locate(a, b)
		if err != nil {
			return err
		}
		if have, err := b.Len(loc); err == nil {
			if int64(have) != size {
				return appErr.InterfaceErrorf("%s has %d items, allocated with size %d", loc, have, size)
			}
			continue
		}
		if err := b.Alloc(loc, size); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) requestLookahead(ph phase) (outcome, error) {
	if ph != requestPhase || x.pending {
		return next, nil
	}
	cmd, err := x.drv.receive()
	if err != nil {
		return next, err
	}
	x.res.Counters.Requests++
	key := compile.RequestKey{Command: cmd}
	switch cmd {
	case "stop":
		return stopped, x.stop()
	case "call":
		if key.Name, err = x.drv.receive(); err != nil {
			return next, err
		}
	}
	x.lookahead, x.pending = key, true
	logger.Debug(x.ctx, "driver request", zap.String("request", key.String()))
	return next, nil
}

func (x *executor) stop() error {
	x.res.End = EndStop
	if err := x.reportReady(); err != nil {
		return err
	}
	return x.drv.flush()
}

// expect checks that the pending request is cmd.
func (x *executor) expect(cmd string) error {
	if !x.pending || x.lookahead.Command != cmd {
		return appErr.InterfaceErrorf("expected %s, got %s", cmd, x.request())
	}
	return nil
}

func (x *executor) request() compile.RequestKey {
	if !x.pending {
		return compile.RequestKey{}
	}
	return x.lookahead
}

func (x *executor) valueResolve(n *compile.ValueResolve, b *ref.Bindings, ph phase) error {
	if ph != requestPhase {
		return nil
	}
	r, ok := n.Value.(*compile.VarRef)
	if !ok {
		return nil
	}
	if _, err := x.evalInt(r, b); err == nil || !isUnresolved(err) {
		return err
	}
	req := x.request()
	values := pick(n.Candidates, req)
	if len(values) == 0 {
		values = pick(n.Candidates, compile.RequestKey{})
	}
	if len(values) != 1 {
		return appErr.InterfaceErrorf("request %s does not select one branch for %s", req, r.Text).
			WithDetail("values", values)
	}
	return x.assignValue(r, b, ref.Int(values[0]), appErr.InterfaceError)
}

// pick returns the distinct candidate values expecting req.
func pick(cands []compile.Candidate, req compile.RequestKey) []int64 {
	var out []int64
	for _, c := range cands {
		if c.Request != req {
			continue
		}
		dup := false
		for _, v := range out {
			dup = dup || v == c.Value
		}
		if !dup {
			out = append(out, c.Value)
		}
	}
	return out
}

func (x *executor) callArguments(n *compile.CallArgumentsResolve, b *ref.Bindings, ph phase) error {
	if ph != requestPhase {
		return nil
	}
	sig := n.Signature
	if err := x.expect("call"); err != nil {
		return err
	}
	if x.lookahead.Name != sig.Name {
		return appErr.InterfaceErrorf("expected call to %s, got call to %s", sig.Name, x.lookahead.Name)
	}
	count, err := x.drv.receiveInt()
	if err != nil {
		return err
	}
	if count != int64(len(sig.Parameters)) {
		return appErr.InterfaceErrorf("%s expects %d arguments, got %d", sig.Name, len(sig.Parameters), count)
	}
	for i, a := range n.Args {
		v, err := x.drv.receiveValue(sig.Parameters[i].Dimensions, x.max)
		if err != nil {
			return err
		}
		var aerr error
		switch a := a.(type) {
		case *compile.Lit:
			aerr = x.assign(a, b, v.Int, appErr.InterfaceError)
		case *compile.VarRef:
			aerr = x.assignValue(a, b, v, appErr.InterfaceError)
		}
		if aerr != nil {
			return appErr.GetError(aerr).WithDetail("argument", sig.Parameters[i].Name)
		}
	}

	hasReturn, err := x.drv.receiveFlag()
	if err != nil {
		return err
	}
	if hasReturn != sig.ReturnsValue {
		names := [2]string{"procedure", "function"}
		return appErr.InterfaceErrorf("%s is a %s, got call to a %s", sig.Name, names[b2i(sig.ReturnsValue)], names[b2i(hasReturn)])
	}
	cbCount, err := x.drv.receiveInt()
	if err != nil {
		return err
	}
	if cbCount != int64(len(sig.Callbacks)) {
		return appErr.InterfaceErrorf("%s has %d callbacks, got %d", sig.Name, len(sig.Callbacks), cbCount)
	}
	for _, cb := range sig.Callbacks {
		params, err := x.drv.receiveInt()
		if err != nil {
			return err
		}
		if params != int64(len(cb.Parameters)) {
			return appErr.InterfaceErrorf("callback %s has %d parameters, got %d", cb.Name, len(cb.Parameters), params)
		}
	}
	x.pending = false
	x.res.Counters.Calls++
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (x *executor) acceptCallbacks(n *compile.AcceptCallbacks) (outcome, error) {
	for {
		values, err := x.sb.receive(-1, []int64{0})
		if err != nil {
			return next, err
		}
		switch {
		case values[0] == 0 && len(values) <= 2:
			return next, nil
		case values[0] == 1 && len(values) == 2:
		default:
			return next, appErr.Broken(nil, "expected a callback marker, got %v", values)
		}
		idx := values[1]
		if idx < 0 || idx >= int64(len(n.Callbacks)) {
			return next, appErr.Broken(nil, "process invoked callback %d of %d", idx, len(n.Callbacks))
		}
		cb := n.Callbacks[idx]
		x.res.Counters.Callbacks++
		if err := x.reportReady(); err != nil {
			return next, err
		}
		if err := x.drv.send(1); err != nil {
			return next, err
		}
		if err := x.drv.send(idx); err != nil {
			return next, err
		}
		logger.Debug(x.ctx, "callback invoked", zap.String("callback", cb.Signature.Name), zap.Int64("index", idx))
		out, err := x.block(cb.Body, x.root.Child(cb.Locals), noPhase)
		if err != nil {
			return out, err
		}
		if out == exited || out == stopped {
			return out, nil
		}
	}
}

func (x *executor) callReturn(n *compile.CallReturn, b *ref.Bindings, ph phase) error {
	if ph != requestPhase {
		return nil
	}
	v, err := x.evalInt(n.Value, b)
	if err != nil {
		return err
	}
	if err := x.reportReady(); err != nil {
		return err
	}
	return x.drv.send(v)
}

func (x *executor) callbackStart(n *compile.CallbackStart, b *ref.Bindings, ph phase) error {
	if ph != requestPhase {
		return nil
	}
	for _, p := range n.Parameters {
		v, err := b.Get(ref.Location{Variable: p})
		if err != nil {
			return err
		}
		if err := x.drv.sendValue(v); err != nil {
			return err
		}
	}
	return nil
}

// callbackReturn takes the pending callback_return request and its flag.
func (x *executor) callbackReturn() (bool, error) {
	if err := x.expect("callback_return"); err != nil {
		return false, err
	}
	x.pending = false
	return x.drv.receiveFlag()
}

func (x *executor) ret(n *compile.Return, b *ref.Bindings, ph phase) error {
	if ph != requestPhase {
		return nil
	}
	has, err := x.callbackReturn()
	if err != nil {
		return err
	}
	if !has {
		return appErr.InterfaceErrorf("callback is a function, but the driver returned nothing")
	}
	v, err := x.drv.receiveInt()
	if err != nil {
		return err
	}
	return x.assign(n.Value, b, v, appErr.InterfaceError)
}

func (x *executor) callbackEnd(ph phase) error {
	if ph != requestPhase {
		return nil
	}
	has, err := x.callbackReturn()
	if err != nil {
		return err
	}
	if has {
		return appErr.InterfaceErrorf("callback is a procedure, but the driver returned a value")
	}
	return nil
}

func (x *executor) exit(n *compile.Exit, ph phase) (outcome, error) {
	if ph != requestPhase {
		return next, nil
	}
	if err := x.expect("exit"); err != nil {
		return next, err
	}
	x.pending = false
	x.res.End = EndExit
	if n.Implicit {
		x.res.End = EndMainEnd
	}
	if err := x.sendUsage(); err != nil {
		return next, err
	}
	if err := x.drv.send(stateMainEnd); err != nil {
		return next, err
	}
	return exited, nil
}

func (x *executor) forLoop(n *compile.For, b *ref.Bindings, ph phase) (outcome, error) {
	count, err := x.evalInt(n.Range, b)
	if err != nil {
		if skippable(err, ph) {
			return next, nil
		}
		return next, err
	}
	for i := int64(0); i < count; i++ {
		out, err := x.block(n.Body, b.WithIndex(n.Index, i, n.Locals), ph)
		if err != nil || out != next {
			return out, err
		}
	}
	return next, nil
}

func (x *executor) ifElse(n *compile.If, b *ref.Bindings, ph phase) (outcome, error) {
	cond, err := x.evalInt(n.Cond, b)
	if err != nil {
		if skippable(err, ph) {
			return next, nil
		}
		return next, err
	}
	if cond != 0 {
		return x.block(n.Then, b, ph)
	}
	return x.block(n.Else, b, ph)
}

func (x *executor) switchCase(n *compile.Switch, b *ref.Bindings, ph phase) (outcome, error) {
	v, err := x.evalInt(n.Value, b)
	if err != nil {
		if skippable(err, ph) {
			return next, nil
		}
		return next, err
	}
	for _, cs := range n.Cases {
		for _, l := range cs.Labels {
			if l == v {
				return x.block(cs.Body, b, ph)
			}
		}
	}
	if n.HasDefault {
		return x.block(n.Default, b, ph)
	}
	return next, appErr.InterfaceErrorf("no case matches %d", v)
}

func (x *executor) loop(n *compile.Loop, b *ref.Bindings) (outcome, error) {
	for {
		if err := x.ctx.Err(); err != nil {
			return next, canceled(err)
		}
		out, err := x.block(n.Body, b.Child(n.Locals), noPhase)
		if err != nil {
			return out, err
		}
		switch out {
		case next, cont:
		case brk:
			return next, nil
		default:
			return out, nil
		}
	}
}

// skippable reports whether a control node may be passed over because its
// value is not known yet. Later phases must know it.
func skippable(err error, ph phase) bool {
	return isUnresolved(err) && (ph == upwardPhase || ph == requestPhase)
}

func isUnresolved(err error) bool {
	var ue *ref.UnresolvedError
	return errors.As(err, &ue)
}

func (x *executor) reportReady() error {
	if err := x.sendUsage(); err != nil {
		return err
	}
	return x.drv.send(stateReady)
}

func (x *executor) sendUsage() error {
	u := x.sb.usage()
	x.res.Usage = u
	for _, v := range []int64{stateResourceUsage, u.TimeMs, u.PeakKB, u.CurrentKB} {
		if err := x.drv.send(v); err != nil {
			return err
		}
	}
	return nil
}

// fail gives err a session error code and the details of the node it
// happened in. The innermost node wins.
func (x *executor) fail(n compile.Node, err error) error {
	var (
		ae *appErr.Error
		ue *ref.UnresolvedError
		be *ref.BoundsError
	)
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &ue):
		ae = appErr.Wrapf(err, appErr.UnresolvedValue, "%s", err.Error())
	case errors.As(err, &be):
		ae = appErr.Wrapf(err, appErr.IndexOutOfBounds, "%s", err.Error())
	default:
		ae = appErr.Wrap(err, appErr.SessionFailed)
	}
	if _, ok := ae.Details["node"]; ok {
		return ae
	}
	pos := n.Base().Pos
	return ae.WithDetails(map[string]interface{}{
		"node":    compile.Kind(n),
		"line":    pos.Line,
		"col":     pos.Col,
		"request": x.request().String(),
	})
}
