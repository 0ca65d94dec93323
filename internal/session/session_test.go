package session_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"ojdriver/internal/driver/client"
	"ojdriver/internal/driver/engine"
	"ojdriver/internal/idl"
	"ojdriver/internal/idl/ref"
	"ojdriver/internal/sandbox"
	"ojdriver/internal/sandbox/sandboxtest"
	"ojdriver/internal/session"
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

type transport struct {
	io.Reader
	io.Writer
}

func sumSolution(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {
	line, ok := p.Next(in)
	if !ok {
		return
	}
	var a, b int64
	fmt.Sscan(line, &a, &b)
	fmt.Fprintln(out, a+b)
}

func compileSum(t *testing.T) *idl.Interface {
	t.Helper()
	iface, err := idl.Compile("sum.idl", []byte(sumIDL))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return iface
}

// drive runs one session of sumIDL with script playing the driver. It
// returns the outcome and the error of the script.
func drive(t *testing.T, r *session.Runner, script func(c *client.Client) error) (*session.Outcome, error) {
	t.Helper()
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	scriptErr := make(chan error, 1)
	go func() {
		err := script(client.New(upR, downW))
		downW.Close()
		_, _ = io.Copy(io.Discard, upR)
		scriptErr <- err
	}()
	out, err := r.Run(context.Background(), compileSum(t), sandbox.Command{Args: []string{"./solution"}}, transport{downR, upW})
	upW.Close()
	downR.Close()
	serr := <-scriptErr
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out, serr
}

func callSum(c *client.Client) error {
	if err := c.MainBegin(); err != nil {
		return err
	}
	got, err := c.Call("sum", []ref.Value{ref.Int(3), ref.Int(4)}, true, nil)
	if err != nil {
		return err
	}
	if got != 7 {
		return fmt.Errorf("expected 7, got %d", got)
	}
	return c.Exit()
}

func TestRunOK(t *testing.T) {
	spawner := &sandboxtest.Spawner{
		Usage:    sandbox.Usage{TimeMs: 4, PeakKB: 256, CurrentKB: 128},
		Solution: sumSolution,
	}
	r, err := session.NewRunner(session.Config{
		Spawner: spawner,
		Limits:  sandbox.Limits{WallTimeMs: 1000, MemoryMB: 64},
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	out, err := drive(t, r, callSum)
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	if out.Verdict != session.VerdictOK {
		t.Fatalf("expected OK, got %s (%s)", out.Verdict, out.ErrorMessage)
	}
	if _, err := uuid.Parse(out.SessionID); err != nil {
		t.Fatalf("session id %q is not a uuid: %v", out.SessionID, err)
	}
	if out.End != "main_end" || out.Counters.Calls != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.TimeMs != 4 || out.MemoryKB != 256 {
		t.Fatalf("unexpected usage %d ms, %d KB", out.TimeMs, out.MemoryKB)
	}
	want := []sandbox.Command{{
		Args:   []string{"./solution"},
		Limits: sandbox.Limits{WallTimeMs: 1000, MemoryMB: 64},
	}}
	if diff := cmp.Diff(want, spawner.Commands); diff != "" {
		t.Fatalf("spawned commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRunVerdicts(t *testing.T) {
	cases := []struct {
		name     string
		solution sandboxtest.Solution
		script   func(c *client.Client) error
		verdict  session.Verdict
		code     appErr.ErrorCode
	}{
		{
			name:     "solution exits early",
			solution: func(p *sandboxtest.Process, in *bufio.Scanner, out io.Writer) {},
			script:   callSum,
			verdict:  session.VerdictCB,
			code:     appErr.CommunicationBroken,
		},
		{
			name:     "wrong argument count",
			solution: sumSolution,
			script: func(c *client.Client) error {
				if err := c.MainBegin(); err != nil {
					return err
				}
				_, err := c.Call("sum", []ref.Value{ref.Int(1)}, true, nil)
				return err
			},
			verdict: session.VerdictIE,
			code:    appErr.InterfaceError,
		},
		{
			name:     "unknown function",
			solution: sumSolution,
			script: func(c *client.Client) error {
				if err := c.MainBegin(); err != nil {
					return err
				}
				_, err := c.Call("product", nil, true, nil)
				return err
			},
			verdict: session.VerdictIE,
			code:    appErr.InterfaceError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := session.NewRunner(session.Config{Spawner: &sandboxtest.Spawner{Solution: tc.solution}})
			if err != nil {
				t.Fatalf("new runner: %v", err)
			}
			out, _ := drive(t, r, tc.script)
			if out.Verdict != tc.verdict {
				t.Fatalf("expected %s, got %s (%s)", tc.verdict, out.Verdict, out.ErrorMessage)
			}
			if out.ErrorCode != int(tc.code) {
				t.Fatalf("expected code %d, got %d", tc.code, out.ErrorCode)
			}
		})
	}
}

func TestTranscriptsReplay(t *testing.T) {
	dir := t.TempDir()
	r, err := session.NewRunner(session.Config{
		Spawner:       &sandboxtest.Spawner{Solution: sumSolution},
		TranscriptDir: dir,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	out, err := drive(t, r, callSum)
	if err != nil || out.Verdict != session.VerdictOK {
		t.Fatalf("driver: %v, outcome %+v", err, out)
	}
	if out.Transcripts == nil {
		t.Fatalf("expected transcripts")
	}

	drv, err := os.Open(out.Transcripts.Driver)
	if err != nil {
		t.Fatalf("open driver transcript: %v", err)
	}
	defer drv.Close()
	sb, err := os.Open(out.Transcripts.Sandbox)
	if err != nil {
		t.Fatalf("open sandbox transcript: %v", err)
	}
	defer sb.Close()

	e, err := engine.New(compileSum(t), engine.Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	replay, err := e.Preflight(context.Background(), drv, sb)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if diff := cmp.Diff(out.Result.Trace, replay.Trace); diff != "" {
		t.Fatalf("replayed trace mismatch (-run +replay):\n%s", diff)
	}
}

func TestRunRejectsMissingDriver(t *testing.T) {
	r, err := session.NewRunner(session.Config{Spawner: &sandboxtest.Spawner{}})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := r.Run(context.Background(), nil, sandbox.Command{}, nil); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestNewRunnerRequiresSpawner(t *testing.T) {
	if _, err := session.NewRunner(session.Config{}); err == nil {
		t.Fatalf("expected an error without a spawner")
	}
}
