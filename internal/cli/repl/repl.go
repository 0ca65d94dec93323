// Package repl is an interactive console that plays the driver of a
// session: every line becomes a request to the engine.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"ojdriver/internal/driver/client"
	"ojdriver/internal/idl"
	"ojdriver/internal/idl/ref"
)

// LineSource yields input lines without their newline. io.EOF ends the
// console.
type LineSource interface {
	Readline() (string, error)
}

// Session holds REPL state.
type Session struct {
	client *client.Client
	iface  *idl.Interface
	out    *bufio.Writer
	in     LineSource
}

func New(c *client.Client, iface *idl.Interface, out io.Writer) *Session {
	return &Session{client: c, iface: iface, out: bufio.NewWriter(out)}
}

// Run reads commands from in until the session is over or the input ends.
func (s *Session) Run(ctx context.Context, in LineSource) error {
	s.in = in
	for !s.client.Ended() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		quit, err := s.handleCommand(line)
		if err != nil {
			s.printLine("error: %v", err)
		}
		if quit {
			return nil
		}
	}
	return nil
}

func (s *Session) handleCommand(line string) (bool, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}
	switch tokens[0] {
	case "help":
		s.printHelp()
	case "quit":
		return true, nil
	case "usage":
		u := s.client.Usage()
		s.printLine("time %d ms, memory %d KB (peak %d KB)", u.TimeMs, u.CurrentKB, s.client.PeakKB())
	case "begin":
		return false, s.begin(tokens[1:])
	case "call":
		return false, s.call(tokens[1:])
	case "checkpoint":
		if err := s.ensureBegun(); err != nil {
			return false, err
		}
		if err := s.client.Checkpoint(); err != nil {
			return false, err
		}
		s.printLine("ok")
	case "exit":
		if err := s.ensureBegun(); err != nil {
			return false, err
		}
		if err := s.client.Exit(); err != nil {
			return false, err
		}
		s.printUsage("session ended")
	case "stop":
		if err := s.ensureBegun(); err != nil {
			return false, err
		}
		if err := s.client.Stop(); err != nil {
			return false, err
		}
		s.printUsage("session stopped")
	default:
		return false, fmt.Errorf("unknown command: %s", tokens[0])
	}
	return false, nil
}

func (s *Session) begin(args []string) error {
	globals := s.iface.Program.Globals
	if len(args) != len(globals) {
		return fmt.Errorf("expected %d global values, got %d", len(globals), len(args))
	}
	values := make([]ref.Value, len(args))
	for i, arg := range args {
		v, err := ParseValue(arg, globals[i].Dimensions)
		if err != nil {
			return fmt.Errorf("global %s: %w", globals[i].Name, err)
		}
		values[i] = v
	}
	if err := s.client.MainBegin(values...); err != nil {
		return err
	}
	s.printLine("ok")
	return nil
}

// ensureBegun starts the session on its own when there are no globals.
func (s *Session) ensureBegun() error {
	if s.client.Started() {
		return nil
	}
	if len(s.iface.Program.Globals) > 0 {
		return fmt.Errorf("session not started, use: begin %s", s.globalNames())
	}
	return s.client.MainBegin()
}

func (s *Session) call(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: call <function> <args...>")
	}
	sig := s.iface.Function(args[0])
	if sig == nil {
		return fmt.Errorf("unknown function: %s", args[0])
	}
	if len(args)-1 != len(sig.Parameters) {
		return fmt.Errorf("%s takes %d arguments, got %d", sig.Name, len(sig.Parameters), len(args)-1)
	}
	values := make([]ref.Value, len(sig.Parameters))
	for i, p := range sig.Parameters {
		v, err := ParseValue(args[i+1], p.Dimensions)
		if err != nil {
			return fmt.Errorf("argument %s: %w", p.Name, err)
		}
		values[i] = v
	}
	if err := s.ensureBegun(); err != nil {
		return err
	}

	var promptErr error
	callbacks := make([]client.Callback, len(sig.Callbacks))
	for i, cb := range sig.Callbacks {
		cb := cb
		callbacks[i] = client.Callback{
			Params:  len(cb.Parameters),
			Returns: cb.ReturnsValue,
			Func: func(params []int64) int64 {
				s.printLine("callback %s(%s)", cb.Name, channelInts(params))
				if !cb.ReturnsValue || promptErr != nil {
					return 0
				}
				v, err := s.promptInt(cb.Name)
				if err != nil {
					promptErr = err
				}
				return v
			},
		}
	}
	ret, err := s.client.Call(sig.Name, values, sig.ReturnsValue, callbacks)
	if err != nil {
		return err
	}
	if promptErr != nil {
		return promptErr
	}
	if sig.ReturnsValue {
		s.printLine("%s returned %d", sig.Name, ret)
	} else {
		s.printLine("ok")
	}
	return nil
}

func (s *Session) promptInt(name string) (int64, error) {
	for {
		s.printLine("%s returns:", name)
		line, err := s.in.Readline()
		if err != nil {
			return 0, fmt.Errorf("read callback result failed: %w", err)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err == nil {
			return v, nil
		}
		s.printLine("not an integer: %q", strings.TrimSpace(line))
	}
}

func (s *Session) globalNames() string {
	names := make([]string, len(s.iface.Program.Globals))
	for i, g := range s.iface.Program.Globals {
		names[i] = "<" + g.Name + ">"
	}
	return strings.Join(names, " ")
}

func (s *Session) printUsage(msg string) {
	u := s.client.Usage()
	s.printLine("%s: time %d ms, peak memory %d KB", msg, u.TimeMs, s.client.PeakKB())
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  begin <globals...>     start the session, arrays as [1,2,3]")
	s.printLine("  call <function> <args...>")
	s.printLine("  checkpoint | exit | stop | usage | help | quit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
	_ = s.out.Flush()
}

func channelInts(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ", ")
}
