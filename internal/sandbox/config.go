package sandbox

// Config controls the spawner.
type Config struct {
	// Defaults apply to every command for the limits it leaves at zero.
	Defaults Limits `yaml:"defaults"`
	// WorkDir is used when a command names no directory.
	WorkDir string `yaml:"workDir"`
	// InitPath names the init binary applying rlimits before exec. Empty
	// looks for sandbox-init next to the running executable, then on PATH.
	InitPath string `yaml:"initPath"`
}

// MergeLimits returns base with the non-zero limits of override applied.
func MergeLimits(base, override Limits) Limits {
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}
