//go:build !linux

package sandbox

import (
	"context"

	appErr "ojdriver/pkg/errors"
)

type stubSpawner struct{}

func NewSpawner(cfg Config) Spawner {
	return stubSpawner{}
}

func (stubSpawner) Spawn(ctx context.Context, cmd Command) (Process, error) {
	return nil, appErr.New(appErr.SandboxUnsupported).WithMessage("sandbox is only supported on linux")
}

// RunInit is only supported on linux.
func RunInit() error {
	return appErr.New(appErr.SandboxUnsupported).WithMessage("sandbox init is only supported on linux")
}
