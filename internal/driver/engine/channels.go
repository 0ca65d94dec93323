package engine

import (
	"errors"
	"io"

	"ojdriver/internal/driver/channel"
	"ojdriver/internal/idl/ref"
	"ojdriver/internal/sandbox"
	appErr "ojdriver/pkg/errors"
)

// Driver states sent ahead of responses.
const (
	stateReady         = 0
	stateResourceUsage = 1
	stateMainEnd       = 2
)

// driverConn is the engine side of the driver channel: one token per line
// in both directions.
type driverConn struct {
	in  *channel.LineReader
	out *channel.LineWriter
	rec *channel.Recorder
}

func newDriverConn(r io.Reader, w io.Writer, rec *channel.Recorder) *driverConn {
	return &driverConn{
		in:  channel.NewLineReader(r, maxDriverLine),
		out: channel.NewLineWriter(w),
		rec: rec,
	}
}

// receive flushes pending responses, then reads one line.
func (d *driverConn) receive() (string, error) {
	if err := d.flush(); err != nil {
		return "", err
	}
	line, err := d.in.ReadLine()
	switch {
	case errors.Is(err, io.EOF):
		return "", appErr.InterfaceErrorf("driver closed the channel")
	case errors.Is(err, channel.ErrLineTooLong):
		return "", appErr.InterfaceErrorf("driver line exceeds %d bytes", maxDriverLine)
	case err != nil:
		return "", appErr.Wrapf(err, appErr.SessionFailed, "read driver channel")
	}
	if err := d.rec.Record(line); err != nil {
		return "", appErr.Wrapf(err, appErr.SessionFailed, "record driver transcript")
	}
	return line, nil
}

func (d *driverConn) receiveInt() (int64, error) {
	line, err := d.receive()
	if err != nil {
		return 0, err
	}
	v, err := channel.ParseInt(line)
	if err != nil {
		return 0, appErr.InterfaceErrorf("expected an integer from the driver, got %q", line)
	}
	return v, nil
}

// receiveFlag reads a 0/1 line.
func (d *driverConn) receiveFlag() (bool, error) {
	v, err := d.receiveInt()
	if err != nil {
		return false, err
	}
	if v != 0 && v != 1 {
		return false, appErr.InterfaceErrorf("expected 0 or 1 from the driver, got %d", v)
	}
	return v == 1, nil
}

// receiveValue reads a value of the given array depth: a scalar is one
// line, an array is its size followed by its items.
func (d *driverConn) receiveValue(depth int, max int64) (ref.Value, error) {
	v, err := d.receiveInt()
	if err != nil {
		return ref.Value{}, err
	}
	if depth == 0 {
		return ref.Int(v), nil
	}
	if v < 0 {
		return ref.Value{}, appErr.InterfaceErrorf("array size %d is negative", v)
	}
	if v > max {
		return ref.Value{}, appErr.Newf(appErr.IndexOutOfBounds, "array size %d exceeds the limit of %d", v, max)
	}
	items := make([]ref.Value, v)
	for i := range items {
		if items[i], err = d.receiveValue(depth-1, max); err != nil {
			return ref.Value{}, err
		}
	}
	return ref.Array(items...), nil
}

func (d *driverConn) send(v int64) error {
	if err := d.out.WriteInt(v); err != nil {
		return appErr.Wrapf(err, appErr.SessionFailed, "write driver channel")
	}
	return nil
}

func (d *driverConn) sendValue(v ref.Value) error {
	if !v.Array {
		return d.send(v.Int)
	}
	if err := d.send(int64(len(v.Items))); err != nil {
		return err
	}
	for _, it := range v.Items {
		if err := d.sendValue(it); err != nil {
			return err
		}
	}
	return nil
}

func (d *driverConn) flush() error {
	if err := d.out.Flush(); err != nil {
		return appErr.Wrapf(err, appErr.SessionFailed, "flush driver channel")
	}
	return nil
}

func (d *driverConn) lines() int { return d.in.Lines() + d.out.Lines() }

// sandboxChannel is the engine side of the sandbox channel. Downward
// lines are buffered until flush; receive flushes first.
type sandboxChannel interface {
	send(values []int64) error
	flush() error
	// receive reads one upward line of want values, or of any non-zero
	// count when want is negative. hint is what a made-up line would hold.
	receive(want int, hint []int64) ([]int64, error)
	usage() sandbox.Usage
	lines() int
}

// streamChannel reads upward lines from a stream: the pipes of a live
// process or a recorded transcript.
type streamChannel struct {
	in     *channel.LineReader
	out    *channel.LineWriter
	rec    *channel.Recorder
	status func() sandbox.Status
}

func newPipeChannel(p sandbox.Process, rec *channel.Recorder) *streamChannel {
	return &streamChannel{
		in:     channel.NewLineReader(p.Upward(), channel.MaxUpwardLine),
		out:    channel.NewLineWriter(p.Downward()),
		rec:    rec,
		status: p.Status,
	}
}

func newScriptChannel(r io.Reader) *streamChannel {
	return &streamChannel{
		in:  channel.NewLineReader(r, channel.MaxUpwardLine),
		out: channel.NewLineWriter(io.Discard),
	}
}

func (c *streamChannel) send(values []int64) error {
	if err := c.out.WriteInts(values); err != nil {
		return c.broken(err, "downward pipe broken")
	}
	return nil
}

func (c *streamChannel) flush() error {
	if err := c.out.Flush(); err != nil {
		return c.broken(err, "downward pipe broken")
	}
	return nil
}

func (c *streamChannel) receive(want int, _ []int64) ([]int64, error) {
	if err := c.flush(); err != nil {
		return nil, err
	}
	line, err := c.in.ReadLine()
	switch {
	case errors.Is(err, io.EOF):
		return nil, c.broken(nil, "process stopped sending data")
	case errors.Is(err, channel.ErrLineTooLong):
		return nil, c.broken(err, "process sent a line longer than %d bytes", channel.MaxUpwardLine)
	case err != nil:
		return nil, c.broken(err, "upward pipe broken")
	}
	if err := c.rec.Record(line); err != nil {
		return nil, appErr.Wrapf(err, appErr.SessionFailed, "record sandbox transcript")
	}
	return parseUpward(line, want)
}

func (c *streamChannel) broken(err error, format string, args ...interface{}) error {
	e := appErr.Broken(err, format, args...)
	if c.status != nil {
		st := c.status()
		e.WithDetail("process", st.State.String())
	}
	return e
}

func (c *streamChannel) usage() sandbox.Usage {
	if c.status == nil {
		return sandbox.Usage{}
	}
	return c.status().Usage
}

func (c *streamChannel) lines() int { return c.in.Lines() + c.out.Lines() }

func parseUpward(line string, want int) ([]int64, error) {
	if line == "" {
		return nil, appErr.Broken(nil, "process stopped sending data")
	}
	values, err := channel.ParseInts(line)
	if err != nil {
		return nil, appErr.Broken(err, "process sent invalid data %q", line)
	}
	if want >= 0 && len(values) != want {
		return nil, appErr.Broken(nil, "process sent %d values, expected %d", len(values), want)
	}
	return values, nil
}

// syntheticChannel stands in for a process that always answers with the
// hinted values.
type syntheticChannel struct {
	sent, received int
}

func (c *syntheticChannel) send(values []int64) error {
	c.sent++
	return nil
}

func (c *syntheticChannel) flush() error { return nil }

func (c *syntheticChannel) receive(want int, hint []int64) ([]int64, error) {
	c.received++
	out := make([]int64, len(hint))
	copy(out, hint)
	if want > len(out) {
		out = append(out, make([]int64, want-len(out))...)
	}
	return out, nil
}

func (c *syntheticChannel) usage() sandbox.Usage { return sandbox.Usage{} }

func (c *syntheticChannel) lines() int { return c.sent + c.received }
