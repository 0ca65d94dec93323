package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ojdriver/internal/sandbox"
	"ojdriver/pkg/utils/logger"
)

const (
	defaultSessionTimeout = 60 * time.Second
	defaultHistoryFile    = ".ojdriver_history"
	defaultWallTimeMs     = 10000
)

// SandboxConfig holds solution process settings.
type SandboxConfig struct {
	// Command is a template such as "{bin}" or "python3 {bin}".
	Command string         `yaml:"command"`
	WorkDir string         `yaml:"workDir"`
	Env     []string       `yaml:"env"`
	Limits  sandbox.Limits `yaml:"limits"`
	// InitPath names the sandbox-init binary applying the limits.
	InitPath string `yaml:"initPath"`
}

// DriverConfig holds settings for the driver side.
type DriverConfig struct {
	// Command is a template for an external driver program, with {idl}
	// replaced by the interface path. Empty means stdin and stdout.
	Command     string `yaml:"command"`
	HistoryFile string `yaml:"historyFile"`
}

// SessionConfig holds session settings.
type SessionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	TranscriptDir string        `yaml:"transcriptDir"`
	MaxArraySize  int64         `yaml:"maxArraySize"`
	MaxSteps      int64         `yaml:"maxSteps"`
	RequireValid  bool          `yaml:"requireValid"`
}

// AppConfig holds the drive configuration.
type AppConfig struct {
	Logger  logger.Config `yaml:"logger"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Driver  DriverConfig  `yaml:"driver"`
	Session SessionConfig `yaml:"session"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path when it is set and fills in defaults.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	// stdout may carry the driver channel.
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "warn"
	}
	if cfg.Sandbox.Command == "" {
		cfg.Sandbox.Command = "{bin}"
	}
	if cfg.Sandbox.Limits.WallTimeMs == 0 {
		cfg.Sandbox.Limits.WallTimeMs = defaultWallTimeMs
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = defaultSessionTimeout
	}
	if cfg.Driver.HistoryFile == "" {
		cfg.Driver.HistoryFile = defaultHistoryFile
	}
	return &cfg, nil
}
