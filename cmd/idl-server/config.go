package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ojdriver/pkg/utils/logger"
)

const (
	defaultHTTPAddr         = "0.0.0.0:8090"
	defaultReadTimeout      = 5 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxHeaderBytes   = 1 << 20
	defaultMaxBodyBytes     = 2 << 20
	defaultCacheSize        = 256
	defaultPreflightTimeout = 10 * time.Second
	defaultPreflightSteps   = 1_000_000
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes int           `yaml:"maxHeaderBytes"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
	AccessLog      bool          `yaml:"accessLog"`
}

// CacheConfig holds compiled-interface cache settings.
type CacheConfig struct {
	MaxEntries int           `yaml:"maxEntries"`
	TTL        time.Duration `yaml:"ttl"`
}

// PreflightConfig holds preflight session settings.
type PreflightConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxArraySize int64         `yaml:"maxArraySize"`
	MaxSteps     int64         `yaml:"maxSteps"`
	MaxTrace     int           `yaml:"maxTrace"`
	// RequireValid refuses interfaces with data flow diagnostics too.
	RequireValid bool `yaml:"requireValid"`
}

// AppConfig holds the server configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    logger.Config   `yaml:"logger"`
	Cache     CacheConfig     `yaml:"cache"`
	Preflight PreflightConfig `yaml:"preflight"`
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

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = defaultCacheSize
	}
	if cfg.Preflight.Timeout == 0 {
		cfg.Preflight.Timeout = defaultPreflightTimeout
	}
	if cfg.Preflight.MaxSteps == 0 {
		cfg.Preflight.MaxSteps = defaultPreflightSteps
	}
	return &cfg, nil
}
