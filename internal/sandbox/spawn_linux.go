//go:build linux

package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	appErr "ojdriver/pkg/errors"
	"ojdriver/pkg/utils/logger"
)

type rlimitSpawner struct {
	cfg Config
}

// NewSpawner returns a spawner applying rlimits and a wall-clock timer.
// Rlimits are applied by the init binary before it executes the command,
// so commands with any limit besides the wall time need one.
func NewSpawner(cfg Config) Spawner {
	return &rlimitSpawner{cfg: cfg}
}

func (s *rlimitSpawner) Spawn(ctx context.Context, command Command) (Process, error) {
	if len(command.Args) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is required")
	}
	limits := MergeLimits(s.cfg.Defaults, command.Limits)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "create stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "create stdout pipe")
	}

	cmd := exec.Command(command.Args[0], command.Args[1:]...)
	if cmd.Err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, appErr.Wrapf(cmd.Err, appErr.SandboxSpawnFailed, "resolve %s", command.Args[0])
	}
	if needsInit(limits) {
		initPath, err := findInit(s.cfg.InitPath)
		if err != nil {
			closeAll(stdinR, stdinW, stdoutR, stdoutW)
			return nil, appErr.Wrapf(err, appErr.SandboxLimitFailed, "find %s", InitName)
		}
		reqR, reqW, err := os.Pipe()
		if err != nil {
			closeAll(stdinR, stdinW, stdoutR, stdoutW)
			return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "create request pipe")
		}
		payload := initRequest{Path: cmd.Path, Args: command.Args, Limits: limits}
		cmd = exec.Command(initPath)
		cmd.ExtraFiles = []*os.File{reqR}
		defer reqR.Close()
		go func() {
			_ = json.NewEncoder(reqW).Encode(payload)
			reqW.Close()
		}()
	}
	cmd.Dir = command.Dir
	if cmd.Dir == "" {
		cmd.Dir = s.cfg.WorkDir
	}
	cmd.Env = command.Env
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = command.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	start := time.Now()
	err = cmd.Start()
	// The child owns its ends now.
	stdinR.Close()
	stdoutW.Close()
	if err != nil {
		closeAll(stdinW, stdoutR)
		return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "start %s", command.Args[0])
	}

	p := &process{
		cmd:   cmd,
		pid:   cmd.Process.Pid,
		stdin: stdinW,
		out:   stdoutR,
		start: start,
		done:  make(chan struct{}),
	}
	go p.wait()
	go p.watch(ctx, durationFromMs(limits.WallTimeMs))
	logger.Debug(ctx, "sandbox process started",
		zap.Int("pid", p.pid),
		zap.Strings("args", command.Args),
		zap.Int64("wallTimeMs", limits.WallTimeMs),
	)
	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

type process struct {
	cmd   *exec.Cmd
	pid   int
	stdin *os.File
	out   *os.File
	start time.Time

	done     chan struct{}
	timedOut atomic.Bool
	release  sync.Once

	mu    sync.Mutex
	state *os.ProcessState
}

func (p *process) Downward() io.Writer { return p.stdin }
func (p *process) Upward() io.Reader   { return p.out }

func (p *process) wait() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	p.state = p.cmd.ProcessState
	p.mu.Unlock()
	close(p.done)
}

func (p *process) watch(ctx context.Context, wallLimit time.Duration) {
	var wallTimer <-chan time.Time
	if wallLimit > 0 {
		timer := time.NewTimer(wallLimit)
		defer timer.Stop()
		wallTimer = timer.C
	}
	select {
	case <-ctx.Done():
		p.Kill()
	case <-wallTimer:
		p.timedOut.Store(true)
		p.Kill()
	case <-p.done:
	}
}

func (p *process) Kill() {
	if p.pid <= 0 {
		return
	}
	_ = unix.Kill(-p.pid, unix.SIGKILL)
}

// Wait closes stdin, waits for the exit and releases the pipes.
func (p *process) Wait() {
	p.release.Do(func() {
		p.stdin.Close()
		<-p.done
		p.out.Close()
	})
}

func (p *process) Status() Status {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	st := Status{TimedOut: p.timedOut.Load(), WallTimeMs: time.Since(p.start).Milliseconds()}
	if state == nil {
		st.State = Running
		st.Usage = procUsage(p.pid)
		return st
	}
	st.Usage = Usage{TimeMs: cpuTimeMs(state), PeakKB: maxRSSKB(state)}
	ws, ok := state.Sys().(syscall.WaitStatus)
	switch {
	case ok && ws.Signaled():
		st.State = Signaled
		st.Signal = ws.Signal().String()
		st.CPUExceeded = ws.Signal() == syscall.SIGXCPU
	default:
		st.State = Exited
		st.ExitCode = state.ExitCode()
	}
	return st
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func cpuTimeMs(state *os.ProcessState) int64 {
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	utime := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
	stime := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
	return (utime + stime).Milliseconds()
}

func maxRSSKB(state *os.ProcessState) int64 {
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}
