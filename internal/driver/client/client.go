// Package client is the driver side of the driver channel. It turns calls
// into requests for an engine and answers the callbacks the solution
// invokes.
package client

import (
	"errors"
	"io"

	"ojdriver/internal/driver/channel"
	"ojdriver/internal/idl/ref"
	"ojdriver/internal/sandbox"
	appErr "ojdriver/pkg/errors"
)

const maxResponseLine = 4096

// Engine states, as sent ahead of responses.
const (
	stateReady         = 0
	stateResourceUsage = 1
	stateMainEnd       = 2
)

// Callback answers one callback of a call.
type Callback struct {
	// Params is the number of arguments the callback takes.
	Params int
	// Returns tells whether Func's result is sent back.
	Returns bool
	Func    func(args []int64) int64
}

// Client drives one session. It is not safe for concurrent use.
type Client struct {
	in  *channel.LineReader
	out *channel.LineWriter

	usage   sandbox.Usage
	peakKB  int64
	started bool
	ended   bool
}

// New returns a client reading responses from r and writing requests to w.
func New(r io.Reader, w io.Writer) *Client {
	return &Client{
		in:  channel.NewLineReader(r, maxResponseLine),
		out: channel.NewLineWriter(w),
	}
}

// Usage returns the resource usage last reported by the engine.
func (c *Client) Usage() sandbox.Usage { return c.usage }

// PeakKB returns the highest peak memory reported so far.
func (c *Client) PeakKB() int64 { return c.peakKB }

// Started reports whether MainBegin was sent.
func (c *Client) Started() bool { return c.started }

// Ended reports whether the session is over.
func (c *Client) Ended() bool { return c.ended }

// MainBegin starts the session with the values of the global variables,
// in declaration order.
func (c *Client) MainBegin(globals ...ref.Value) error {
	if c.started {
		return appErr.New(appErr.InvalidParams).WithMessage("session already started")
	}
	c.started = true
	c.send("main_begin")
	c.sendInt(int64(len(globals)))
	for _, g := range globals {
		c.sendValue(g)
	}
	return c.waitReady()
}

// Call invokes a function of the interface and returns its result, which
// is zero for a procedure. Callbacks run as the solution invokes them.
func (c *Client) Call(name string, args []ref.Value, returns bool, callbacks []Callback) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	c.send("call")
	c.send(name)
	c.sendInt(int64(len(args)))
	for _, a := range args {
		c.sendValue(a)
	}
	c.sendInt(b2i(returns))
	c.sendInt(int64(len(callbacks)))
	for _, cb := range callbacks {
		c.sendInt(int64(cb.Params))
	}

	for {
		if err := c.waitReady(); err != nil {
			return 0, err
		}
		marker, err := c.receiveInt()
		if err != nil {
			return 0, err
		}
		if marker == 0 {
			break
		}
		if marker != 1 {
			return 0, appErr.Broken(nil, "unexpected callback marker %d", marker)
		}
		if err := c.callback(callbacks); err != nil {
			return 0, err
		}
	}
	if !returns {
		return 0, nil
	}
	if err := c.waitReady(); err != nil {
		return 0, err
	}
	return c.receiveInt()
}

func (c *Client) callback(callbacks []Callback) error {
	idx, err := c.receiveInt()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= int64(len(callbacks)) {
		return appErr.Broken(nil, "engine invoked callback %d of %d", idx, len(callbacks))
	}
	cb := callbacks[idx]
	args := make([]int64, cb.Params)
	for i := range args {
		if args[i], err = c.receiveInt(); err != nil {
			return err
		}
	}
	var ret int64
	if cb.Func != nil {
		ret = cb.Func(args)
	}
	c.send("callback_return")
	if cb.Returns {
		c.sendInt(1)
		c.sendInt(ret)
	} else {
		c.sendInt(0)
	}
	return nil
}

// Checkpoint asks the solution to confirm it is in sync.
func (c *Client) Checkpoint() error {
	if err := c.check(); err != nil {
		return err
	}
	c.send("checkpoint")
	return c.waitReady()
}

// Exit ends the session at an exit point of the interface.
func (c *Client) Exit() error {
	if err := c.check(); err != nil {
		return err
	}
	c.send("exit")
	state, err := c.waitState()
	if err != nil {
		return err
	}
	if state != stateMainEnd {
		return appErr.Broken(nil, "expected the end of main, got state %d", state)
	}
	c.ended = true
	return nil
}

// Stop ends the session early.
func (c *Client) Stop() error {
	if err := c.check(); err != nil {
		return err
	}
	c.send("stop")
	err := c.waitReady()
	c.ended = true
	return err
}

func (c *Client) check() error {
	switch {
	case c.ended:
		return appErr.New(appErr.DriverStopped).WithMessage("session is over")
	case !c.started:
		return appErr.New(appErr.InvalidParams).WithMessage("session not started, call MainBegin first")
	}
	return nil
}

func (c *Client) waitReady() error {
	state, err := c.waitState()
	if err != nil {
		return err
	}
	if state != stateReady {
		c.ended = true
		return appErr.New(appErr.DriverStopped).WithMessage("session ended")
	}
	return nil
}

// waitState consumes resource usage reports up to the next state.
func (c *Client) waitState() (int64, error) {
	for {
		state, err := c.receiveInt()
		if err != nil {
			return 0, err
		}
		if state != stateResourceUsage {
			return state, nil
		}
		var u [3]int64
		for i := range u {
			if u[i], err = c.receiveInt(); err != nil {
				return 0, err
			}
		}
		c.usage = sandbox.Usage{TimeMs: u[0], PeakKB: u[1], CurrentKB: u[2]}
		c.peakKB = max(c.peakKB, u[1])
	}
}

func (c *Client) receiveInt() (int64, error) {
	if err := c.out.Flush(); err != nil {
		return 0, appErr.Wrapf(err, appErr.SessionFailed, "send request")
	}
	line, err := c.in.ReadLine()
	if err != nil {
		c.ended = true
		if errors.Is(err, io.EOF) {
			return 0, appErr.New(appErr.SessionFailed).WithMessage("engine closed the channel")
		}
		return 0, appErr.Wrapf(err, appErr.SessionFailed, "read response")
	}
	v, err := channel.ParseInt(line)
	if err != nil {
		return 0, appErr.Broken(err, "invalid response %q", line)
	}
	return v, nil
}

// Write errors surface at the next Flush.
func (c *Client) send(s string) { _ = c.out.WriteLine(s) }

func (c *Client) sendInt(v int64) { _ = c.out.WriteInt(v) }

func (c *Client) sendValue(v ref.Value) {
	if !v.Array {
		c.sendInt(v.Int)
		return
	}
	c.sendInt(int64(len(v.Items)))
	for _, it := range v.Items {
		c.sendValue(it)
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
