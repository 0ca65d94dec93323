//go:build linux

package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// InitName is the file name of the init binary looked up when
// Config.InitPath is empty.
const InitName = "sandbox-init"

// initFD is the descriptor the init process reads its request from.
const initFD = 3

// initRequest is what the spawner hands to the init process.
type initRequest struct {
	Path   string   `json:"path"`
	Args   []string `json:"args"`
	Limits Limits   `json:"limits"`
}

// RunInit reads a request from descriptor 3, applies its limits to the
// current process and replaces the process with the requested command.
// It only returns on failure.
func RunInit() error {
	f := os.NewFile(initFD, "init-request")
	if f == nil {
		return fmt.Errorf("no request on descriptor %d", initFD)
	}
	var req initRequest
	err := json.NewDecoder(f).Decode(&req)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if req.Path == "" || len(req.Args) == 0 {
		return fmt.Errorf("command is required")
	}
	if err := setRlimits(req.Limits); err != nil {
		return err
	}
	return unix.Exec(req.Path, req.Args, os.Environ())
}

// needsInit reports whether limits holds anything only the process itself
// can apply before exec. The wall time is watched from outside.
func needsInit(limits Limits) bool {
	return limits.CPUTimeMs > 0 || limits.MemoryMB > 0 || limits.StackMB > 0 || limits.PIDs > 0
}

// findInit resolves the init binary: path when set, otherwise InitName
// next to the running executable, then on PATH.
func findInit(path string) (string, error) {
	if path != "" {
		return exec.LookPath(path)
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), InitName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath(InitName)
}

func setRlimits(limits Limits) error {
	set := func(name string, resource int, value uint64) error {
		if value == 0 {
			return nil
		}
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
			return fmt.Errorf("set %s limit: %w", name, err)
		}
		return nil
	}
	if limits.CPUTimeMs > 0 {
		// RLIMIT_CPU has second granularity.
		secs := uint64((limits.CPUTimeMs + 999) / 1000)
		if err := set("cpu", unix.RLIMIT_CPU, secs); err != nil {
			return err
		}
	}
	if err := set("address space", unix.RLIMIT_AS, uint64(limits.MemoryMB)<<20); err != nil {
		return err
	}
	if err := set("stack", unix.RLIMIT_STACK, uint64(limits.StackMB)<<20); err != nil {
		return err
	}
	return set("process", unix.RLIMIT_NPROC, uint64(limits.PIDs))
}
