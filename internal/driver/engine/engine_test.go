package engine_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ojdriver/internal/driver/channel"
	"ojdriver/internal/driver/engine"
	"ojdriver/internal/idl"
	"ojdriver/internal/sandbox"
	"ojdriver/internal/sandbox/sandboxtest"
	appErr "ojdriver/pkg/errors"
)

const sumIDL = `
function sum(int a, int b) -> int;
main {
	var int a, b, c;
	read a, b;
	call sum(a, b) -> c;
	write c;
}`

const totalIDL = `
var int n;
var int[] A;
function total(int m, int[] B) -> int;
main {
	var int r;
	read n;
	for (i : n) { read A[i]; }
	call total(n, A) -> r;
	write r;
}`

const callbacksIDL = `
procedure f() callbacks {
	procedure cb(int x);
	function g(int y) -> int;
};
main { call f(); }`

const loopIDL = `
procedure f();
main {
	loop {
		var int c;
		read c;
		if (c) { call f(); } else { break; }
	}
}`

var usage = sandbox.Usage{TimeMs: 5, PeakKB: 100, CurrentKB: 50}

const (
	ready   = "1\n5\n100\n50\n0\n"
	mainEnd = "1\n5\n100\n50\n2\n"
)

// script turns comma separated tokens into driver lines.
func script(tokens string) string {
	return strings.ReplaceAll(tokens, ",", "\n") + "\n"
}

func compileIDL(t *testing.T, src string) *engine.Engine {
	t.Helper()
	iface, err := idl.Compile("test.idl", []byte(src))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !iface.Valid() {
		t.Fatalf("unexpected diagnostics: %v", iface.Diagnostics())
	}
	e, err := engine.New(iface, engine.Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

type driverPipe struct {
	io.Reader
	io.Writer
}

func startFake(t *testing.T, solve sandboxtest.Solution) *sandboxtest.Process {
	t.Helper()
	p := sandboxtest.Start(usage, solve)
	t.Cleanup(p.Wait)
	return p
}

func sumSolution(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
	line, ok := p.Next(in)
	if !ok {
		return
	}
	var a, b int
	fmt.Sscan(line, &a, &b)
	fmt.Fprintln(out, a+b)
}

func TestRunSum(t *testing.T) {
	e := compileIDL(t, sumIDL)
	p := startFake(t, sumSolution)
	var out bytes.Buffer
	res, err := e.Run(context.Background(), driverPipe{strings.NewReader(script("main_begin,0,call,sum,2,3,4,1,0,exit")), &out}, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p.Wait()

	want := ready + ready + "0\n" + ready + "7\n" + mainEnd
	if out.String() != want {
		t.Fatalf("unexpected driver output\nwant: %q\ngot:  %q", want, out.String())
	}
	if diff := cmp.Diff([]string{"3 4"}, p.Received()); diff != "" {
		t.Fatalf("downward lines mismatch (-want +got):\n%s", diff)
	}
	if res.End != engine.EndMainEnd {
		t.Fatalf("expected main end, got %s", res.End)
	}
	if res.Counters.Requests != 3 || res.Counters.Calls != 1 {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
	if res.Usage != usage {
		t.Fatalf("unexpected usage %+v", res.Usage)
	}
}

func TestRunArraysAndLoops(t *testing.T) {
	e := compileIDL(t, totalIDL)
	p := startFake(t, func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
		line, ok := p.Next(in)
		if !ok {
			return
		}
		var n, sum int
		fmt.Sscan(line, &n)
		for i := 0; i < n; i++ {
			line, ok := p.Next(in)
			if !ok {
				return
			}
			var v int
			fmt.Sscan(line, &v)
			sum += v
		}
		fmt.Fprintln(out, sum)
	})
	var out bytes.Buffer
	drv := script("main_begin,2,3,3,1,2,3,call,total,2,3,3,1,2,3,1,0,exit")
	if _, err := e.Run(context.Background(), driverPipe{strings.NewReader(drv), &out}, p); err != nil {
		t.Fatalf("run: %v", err)
	}
	p.Wait()
	if want := ready + ready + "0\n" + ready + "6\n" + mainEnd; out.String() != want {
		t.Fatalf("unexpected driver output\nwant: %q\ngot:  %q", want, out.String())
	}
	if diff := cmp.Diff([]string{"3", "1", "2", "3"}, p.Received()); diff != "" {
		t.Fatalf("downward lines mismatch (-want +got):\n%s", diff)
	}
}

func TestCallbackOrdering(t *testing.T) {
	e := compileIDL(t, callbacksIDL)
	p := startFake(t, func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
		fmt.Fprintln(out, "1 0")
		fmt.Fprintln(out, "5")
		fmt.Fprintln(out, "1 1")
		fmt.Fprintln(out, "6")
		if _, ok := p.Next(in); !ok {
			return
		}
		fmt.Fprintln(out, "0")
	})
	var out bytes.Buffer
	drv := script("main_begin,0,call,f,0,0,2,1,1,callback_return,0,callback_return,1,42,exit")
	res, err := e.Run(context.Background(), driverPipe{strings.NewReader(drv), &out}, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p.Wait()

	want := ready +
		ready + "1\n0\n5\n" +
		ready + "1\n1\n6\n" +
		ready + "0\n" +
		mainEnd
	if out.String() != want {
		t.Fatalf("unexpected driver output\nwant: %q\ngot:  %q", want, out.String())
	}
	if diff := cmp.Diff([]string{"42"}, p.Received()); diff != "" {
		t.Fatalf("downward lines mismatch (-want +got):\n%s", diff)
	}
	if res.Counters.Callbacks != 2 {
		t.Fatalf("expected 2 callbacks, got %d", res.Counters.Callbacks)
	}
}

// drain reads everything sent down and answers nothing.
func drain(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
	for {
		if _, ok := p.Next(in); !ok {
			return
		}
	}
}

func TestConditionResolvedFromRequest(t *testing.T) {
	e := compileIDL(t, loopIDL)
	p := startFake(t, drain)
	var out bytes.Buffer
	drv := script("main_begin,0,call,f,0,0,0,call,f,0,0,0,exit")
	res, err := e.Run(context.Background(), driverPipe{strings.NewReader(drv), &out}, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p.Wait()
	if want := ready + ready + "0\n" + ready + "0\n" + mainEnd; out.String() != want {
		t.Fatalf("unexpected driver output\nwant: %q\ngot:  %q", want, out.String())
	}
	if diff := cmp.Diff([]string{"1", "1", "0"}, p.Received()); diff != "" {
		t.Fatalf("downward lines mismatch (-want +got):\n%s", diff)
	}
	if res.Counters.Calls != 2 {
		t.Fatalf("expected 2 calls, got %d", res.Counters.Calls)
	}
}

func TestLoopIterations(t *testing.T) {
	e := compileIDL(t, loopIDL)
	prev := 0
	for n := 0; n <= 2; n++ {
		t.Run(fmt.Sprintf("%d iterations", n), func(t *testing.T) {
			drv := "main_begin,0" + strings.Repeat(",call,f,0,0,0", n) + ",exit"
			p := startFake(t, drain)
			var out bytes.Buffer
			res, err := e.Run(context.Background(), driverPipe{strings.NewReader(script(drv)), &out}, p)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			p.Wait()
			want := ready + strings.Repeat(ready+"0\n", n) + mainEnd
			if out.String() != want {
				t.Fatalf("unexpected driver output\nwant: %q\ngot:  %q", want, out.String())
			}
			received := append(slices.Repeat([]string{"1"}, n), "0")
			if diff := cmp.Diff(received, p.Received()); diff != "" {
				t.Fatalf("downward lines mismatch (-want +got):\n%s", diff)
			}
			if res.Counters.Calls != n || res.End != engine.EndMainEnd {
				t.Fatalf("unexpected result %+v", res)
			}
			if len(res.Trace) <= prev {
				t.Fatalf("trace of %d iterations has %d nodes, not more than %d", n, len(res.Trace), prev)
			}
			prev = len(res.Trace)
		})
	}
}

func TestValueSetInsideLoopIsKeptAfterBreak(t *testing.T) {
	e := compileIDL(t, `
function f() -> int;
main {
	var int r;
	loop {
		call f() -> r;
		break;
	}
	write r;
}`)
	p := startFake(t, func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
		fmt.Fprintln(out, "5")
		fmt.Fprintln(out, "5")
	})
	res, err := e.Run(context.Background(), driverPipe{strings.NewReader(script("main_begin,0,call,f,0,1,0,exit")), io.Discard}, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.End != engine.EndMainEnd || res.Counters.Calls != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStepBudget(t *testing.T) {
	iface, err := idl.Compile("spin.idl", []byte(`var int g; main { loop { write g; if (g) { break; } } }`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e, err := engine.New(iface, engine.Options{MaxSteps: 1000, MaxTrace: 100})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.Preflight(ctx, strings.NewReader(script("main_begin,1,0,exit")), nil)
	if !appErr.Is(err, appErr.StepLimitExceeded) {
		t.Fatalf("expected the step budget to stop the session, got %v", err)
	}
	if _, ok := appErr.GetError(err).Details["node"]; !ok {
		t.Fatalf("expected the node in the details, got %v", err)
	}
	if res.Steps != 1001 || len(res.Trace) != 100 || !res.TraceTruncated {
		t.Fatalf("unexpected result: %d steps, %d nodes, truncated %v", res.Steps, len(res.Trace), res.TraceTruncated)
	}
}

func TestTraceCap(t *testing.T) {
	iface, err := idl.Compile("test.idl", []byte(sumIDL))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e, err := engine.New(iface, engine.Options{MaxTrace: 3})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := e.Preflight(context.Background(), strings.NewReader(script("main_begin,0,call,sum,2,3,4,1,0,exit")), nil)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if len(res.Trace) != 3 || !res.TraceTruncated || res.Steps <= 3 {
		t.Fatalf("unexpected result: %d steps, %d nodes, truncated %v", res.Steps, len(res.Trace), res.TraceTruncated)
	}
}

func TestStop(t *testing.T) {
	e := compileIDL(t, sumIDL)
	p := startFake(t, sumSolution)
	var out bytes.Buffer
	res, err := e.Run(context.Background(), driverPipe{strings.NewReader(script("main_begin,0,stop")), &out}, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.End != engine.EndStop {
		t.Fatalf("expected stop, got %s", res.End)
	}
	if want := ready + ready; out.String() != want {
		t.Fatalf("unexpected driver output\nwant: %q\ngot:  %q", want, out.String())
	}
}

func TestPreflightMatchesRun(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		drv   string
		solve sandboxtest.Solution
	}{
		{name: "sum", src: sumIDL, drv: "main_begin,0,call,sum,2,3,4,1,0,exit", solve: sumSolution},
		{name: "loop once", src: loopIDL, drv: "main_begin,0,call,f,0,0,0,exit", solve: drain},
		{name: "loop twice", src: loopIDL, drv: "main_begin,0,call,f,0,0,0,call,f,0,0,0,exit", solve: drain},
		{
			name: "callbacks",
			src:  callbacksIDL,
			drv:  "main_begin,0,call,f,0,0,2,1,1,callback_return,0,exit",
			solve: func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
				fmt.Fprintln(out, "1 0")
				fmt.Fprintln(out, "9")
				fmt.Fprintln(out, "0")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var drvRec, sbRec bytes.Buffer
			drvT, err := channel.NewRecorder(&drvRec)
			if err != nil {
				t.Fatalf("recorder: %v", err)
			}
			sbT, err := channel.NewRecorder(&sbRec)
			if err != nil {
				t.Fatalf("recorder: %v", err)
			}
			iface, err := idl.Compile("test.idl", []byte(tt.src))
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			e, err := engine.New(iface, engine.Options{DriverTranscript: drvT, SandboxTranscript: sbT})
			if err != nil {
				t.Fatalf("new engine: %v", err)
			}

			p := startFake(t, tt.solve)
			run, err := e.Run(context.Background(), driverPipe{strings.NewReader(script(tt.drv)), io.Discard}, p)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			p.Wait()
			drvT.Close()
			sbT.Close()

			pre, err := e.Preflight(context.Background(), &drvRec, &sbRec)
			if err != nil {
				t.Fatalf("preflight: %v", err)
			}
			if diff := cmp.Diff(run.Trace, pre.Trace); diff != "" {
				t.Fatalf("trace mismatch (-run +preflight):\n%s", diff)
			}
			if run.End != pre.End {
				t.Fatalf("end mismatch: run %s, preflight %s", run.End, pre.End)
			}
		})
	}
}

func TestPreflightSynthetic(t *testing.T) {
	e := compileIDL(t, sumIDL)
	res, err := e.Preflight(context.Background(), strings.NewReader(script("main_begin,0,call,sum,2,3,4,1,0,exit")), nil)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if res.End != engine.EndMainEnd || res.Counters.Calls != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSessionErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		drv      string
		upward   string
		code     appErr.ErrorCode
		nodeKind string
	}{
		{name: "missing main_begin", src: sumIDL, drv: "call,sum", code: appErr.InterfaceError},
		{name: "wrong global count", src: sumIDL, drv: "main_begin,1,5", code: appErr.InterfaceError},
		{name: "wrong function", src: sumIDL, drv: "main_begin,0,call,prod,2,3,4,1,0", code: appErr.InterfaceError, nodeKind: "call_arguments_resolve"},
		{name: "wrong argument count", src: sumIDL, drv: "main_begin,0,call,sum,3", code: appErr.InterfaceError, nodeKind: "call_arguments_resolve"},
		{name: "procedure call to a function", src: sumIDL, drv: "main_begin,0,call,sum,2,3,4,0,0", code: appErr.InterfaceError},
		{name: "exit expected", src: sumIDL, drv: "main_begin,0,call,sum,2,3,4,1,0,checkpoint", upward: "7", code: appErr.InterfaceError, nodeKind: "exit"},
		{name: "driver hangs up", src: sumIDL, drv: "main_begin,0", code: appErr.InterfaceError},
		{
			name:     "argument conflicts with a global",
			src:      totalIDL,
			drv:      "main_begin,2,3,3,1,2,3,call,total,2,4",
			code:     appErr.InterfaceError,
			nodeKind: "call_arguments_resolve",
		},
		{
			name:     "bounds error at runtime",
			src:      "var int[] A;\nmain { write A[0]; }",
			drv:      "main_begin,1,0",
			upward:   "5",
			code:     appErr.IndexOutOfBounds,
			nodeKind: "write",
		},
		{
			name:     "checkpoint expects zero",
			src:      "main { checkpoint; }",
			drv:      "main_begin,0,checkpoint",
			upward:   "1",
			code:     appErr.CommunicationBroken,
			nodeKind: "checkpoint",
		},
		{
			name:   "too many values",
			src:    sumIDL,
			drv:    "main_begin,0,call,sum,2,3,4,1,0,exit",
			upward: "7 8",
			code:   appErr.CommunicationBroken,
		},
		{
			name:   "line too long",
			src:    sumIDL,
			drv:    "main_begin,0,call,sum,2,3,4,1,0,exit",
			upward: strings.Repeat("1", channel.MaxUpwardLine+10),
			code:   appErr.CommunicationBroken,
		},
		{
			name:   "process stopped",
			src:    sumIDL,
			drv:    "main_begin,0,call,sum,2,3,4,1,0,exit",
			upward: "",
			code:   appErr.CommunicationBroken,
		},
		{
			name:     "callback index out of range",
			src:      callbacksIDL,
			drv:      "main_begin,0,call,f,0,0,2,1,1",
			upward:   "1 5",
			code:     appErr.CommunicationBroken,
			nodeKind: "accept_callbacks",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := compileIDL(t, tt.src)
			_, err := e.Preflight(context.Background(), strings.NewReader(script(tt.drv)), strings.NewReader(tt.upward))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if code := appErr.GetCode(err); code != tt.code {
				t.Fatalf("expected code %d, got %d: %v", tt.code, code, err)
			}
			if tt.nodeKind != "" {
				if got := appErr.GetError(err).Details["node"]; got != tt.nodeKind {
					t.Fatalf("expected the error at %s, got %v", tt.nodeKind, got)
				}
			}
		})
	}
}

func TestRunProcessCrash(t *testing.T) {
	e := compileIDL(t, sumIDL)
	p := startFake(t, func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {})
	_, err := e.Run(context.Background(), driverPipe{strings.NewReader(script("main_begin,0,call,sum,2,3,4,1,0,exit")), io.Discard}, p)
	if !appErr.Is(err, appErr.CommunicationBroken) {
		t.Fatalf("expected communication broken, got %v", err)
	}
}

func TestDiagnostics(t *testing.T) {
	tests := []struct {
		name         string
		src          string
		requireValid bool
		code         appErr.ErrorCode
	}{
		{name: "blocking", src: `main { write a; }`, code: appErr.InterfaceInvalid},
		{name: "data flow", src: `main { var int a; write a; }`},
		{name: "data flow refused", src: `main { var int a; write a; }`, requireValid: true, code: appErr.InterfaceInvalid},
		{name: "valid with require", src: sumIDL, requireValid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iface, err := idl.Compile("test.idl", []byte(tt.src))
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			e, err := engine.New(iface, engine.Options{RequireValid: tt.requireValid})
			if tt.code != 0 {
				if !appErr.Is(err, tt.code) {
					t.Fatalf("expected code %d, got %v", tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("new engine: %v", err)
			}
			if e.Interface() != iface {
				t.Fatalf("engine runs another interface")
			}
		})
	}
}

func TestRunWithDataFlowDiagnostics(t *testing.T) {
	iface, err := idl.Compile("warn.idl", []byte(`main { var int a; write a; }`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e, err := engine.New(iface, engine.Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	p := startFake(t, func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
		fmt.Fprintln(out, "4")
	})
	res, err := e.Run(context.Background(), driverPipe{strings.NewReader(script("main_begin,0,exit")), io.Discard}, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.End != engine.EndMainEnd {
		t.Fatalf("expected main end, got %s", res.End)
	}
}
