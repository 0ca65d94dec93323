// Package sandbox starts solution processes under resource limits and
// exposes their pipes to the protocol engine.
package sandbox

import (
	"context"
	"io"
	"strings"

	"github.com/google/shlex"

	appErr "ojdriver/pkg/errors"
)

// State is the lifecycle state of a process.
type State int8

const (
	Running State = iota
	Exited
	Signaled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// Usage is the resource usage of a process so far.
type Usage struct {
	TimeMs    int64
	PeakKB    int64
	CurrentKB int64
}

// Status is a snapshot of a process.
type Status struct {
	State    State
	ExitCode int
	Signal   string
	Usage    Usage
	// TimedOut is set when the wall-clock limit killed the process.
	TimedOut bool
	// CPUExceeded is set when the CPU time limit stopped the process.
	CPUExceeded bool
	WallTimeMs  int64
}

// Process is a running solution seen through its pipes.
type Process interface {
	// Downward is the process's stdin.
	Downward() io.Writer
	// Upward is the process's stdout.
	Upward() io.Reader
	Status() Status
	// Kill terminates the whole process group.
	Kill()
	// Wait blocks until the process has exited and its pipes are closed.
	Wait()
}

// Limits bound a process. Zero means unlimited.
type Limits struct {
	WallTimeMs int64 `yaml:"wallTimeMs" json:"wallTimeMs"`
	CPUTimeMs  int64 `yaml:"cpuTimeMs" json:"cpuTimeMs"`
	MemoryMB   int64 `yaml:"memoryMB" json:"memoryMB"`
	StackMB    int64 `yaml:"stackMB" json:"stackMB"`
	PIDs       int64 `yaml:"pids" json:"pids"`
}

// Command describes the process to start.
type Command struct {
	Args   []string
	Dir    string
	Env    []string
	Limits Limits
	// Stderr receives the process's stderr; nil discards it.
	Stderr io.Writer
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// BuildCommand expands {name} placeholders in a command template and splits
// it with shell quoting rules.
func BuildCommand(tpl string, vars map[string]string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	for k, v := range vars {
		expanded = strings.ReplaceAll(expanded, "{"+k+"}", v)
	}
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}
