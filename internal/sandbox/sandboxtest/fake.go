// Package sandboxtest provides in-memory processes for tests.
package sandboxtest

import (
	"bufio"
	"context"
	"io"
	"sync"

	"ojdriver/internal/sandbox"
)

// Solution plays the solution: it reads downward lines through p.Next and
// writes upward lines to out.
type Solution func(p *Process, in *bufio.Scanner, out io.Writer)

// Process is a sandbox.Process backed by a goroutine and in-memory pipes.
type Process struct {
	downR *io.PipeReader
	downW *io.PipeWriter
	upR   *io.PipeReader
	upW   *io.PipeWriter
	done  chan struct{}
	once  sync.Once

	// Usage is reported by Status.
	Usage sandbox.Usage

	mu       sync.Mutex
	received []string
	exited   bool
	killed   bool
}

// Start runs solve as a new process.
func Start(usage sandbox.Usage, solve Solution) *Process {
	p := &Process{done: make(chan struct{}), Usage: usage}
	p.downR, p.downW = io.Pipe()
	p.upR, p.upW = io.Pipe()
	go func() {
		defer close(p.done)
		defer p.upW.Close()
		solve(p, bufio.NewScanner(p.downR), p.upW)
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
		_, _ = io.Copy(io.Discard, p.downR)
	}()
	return p
}

// Next returns the next downward line and remembers it.
func (p *Process) Next(in *bufio.Scanner) (string, bool) {
	if !in.Scan() {
		return "", false
	}
	line := in.Text()
	p.mu.Lock()
	p.received = append(p.received, line)
	p.mu.Unlock()
	return line, true
}

// Received returns the downward lines read through Next.
func (p *Process) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func (p *Process) Downward() io.Writer { return p.downW }
func (p *Process) Upward() io.Reader   { return p.upR }

func (p *Process) Status() sandbox.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := sandbox.Status{State: sandbox.Running, Usage: p.Usage}
	switch {
	case p.killed:
		st.State, st.Signal = sandbox.Signaled, "killed"
	case p.exited:
		st.State = sandbox.Exited
	}
	return st
}

func (p *Process) Kill() {
	p.mu.Lock()
	p.killed = !p.exited
	p.mu.Unlock()
	p.upR.Close()
	p.downR.Close()
}

func (p *Process) Wait() {
	p.once.Do(func() {
		p.downW.Close()
		p.upR.Close()
		<-p.done
	})
}

// Spawner starts a Solution for every command.
type Spawner struct {
	Usage    sandbox.Usage
	Solution Solution

	mu       sync.Mutex
	Commands []sandbox.Command
}

func (s *Spawner) Spawn(ctx context.Context, cmd sandbox.Command) (sandbox.Process, error) {
	s.mu.Lock()
	s.Commands = append(s.Commands, cmd)
	s.mu.Unlock()
	return Start(s.Usage, s.Solution), nil
}
