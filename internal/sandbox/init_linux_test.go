//go:build linux

package sandbox

import (
	"context"
	"io"
	"os"
	"testing"

	appErr "ojdriver/pkg/errors"
)

const initEnv = "SANDBOX_INIT_TEST"

// TestMain lets the test binary stand in for sandbox-init.
func TestMain(m *testing.M) {
	if os.Getenv(initEnv) == "1" {
		err := RunInit()
		_, _ = io.WriteString(os.Stderr, err.Error()+"\n")
		os.Exit(127)
	}
	os.Exit(m.Run())
}

func TestInitAppliesLimitsBeforeExec(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	sp := NewSpawner(Config{InitPath: os.Args[0]})
	p, err := sp.Spawn(context.Background(), Command{
		Args:   []string{"/bin/sh", "-c", "ulimit -v; ulimit -s"},
		Env:    []string{initEnv + "=1", "PATH=" + os.Getenv("PATH")},
		Limits: Limits{WallTimeMs: 5000, MemoryMB: 512, StackMB: 16},
		Stderr: os.Stderr,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, err := io.ReadAll(p.Upward())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	p.Wait()
	if want := "524288\n16384\n"; string(out) != want {
		t.Fatalf("limits seen by the command: want %q, got %q", want, out)
	}
	if st := p.Status(); st.State != Exited || st.ExitCode != 0 {
		t.Fatalf("expected a clean exit, got %+v", st)
	}
}

func TestSpawnWithoutInit(t *testing.T) {
	sp := NewSpawner(Config{InitPath: "/nonexistent/sandbox-init"})
	_, err := sp.Spawn(context.Background(), Command{
		Args:   []string{"/bin/sh", "-c", "true"},
		Limits: Limits{CPUTimeMs: 1000},
	})
	if !appErr.Is(err, appErr.SandboxLimitFailed) {
		t.Fatalf("expected a limit failure, got %v", err)
	}
}

func TestNeedsInit(t *testing.T) {
	tests := []struct {
		limits Limits
		want   bool
	}{
		{Limits{}, false},
		{Limits{WallTimeMs: 100}, false},
		{Limits{CPUTimeMs: 1}, true},
		{Limits{MemoryMB: 1}, true},
		{Limits{StackMB: 1}, true},
		{Limits{PIDs: 1}, true},
	}
	for _, tt := range tests {
		if got := needsInit(tt.limits); got != tt.want {
			t.Fatalf("needsInit(%+v) = %v, want %v", tt.limits, got, tt.want)
		}
	}
}
