// Package config resolves the runtime configuration of the trace host:
// defaults, then an optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VladMinzatu/xdp-plugins/internal/aie"
	"github.com/VladMinzatu/xdp-plugins/internal/hal"
	"github.com/VladMinzatu/xdp-plugins/internal/opencl"
)

const (
	// EnvConfigFile names the configuration file of processes without a
	// command line, such as a loaded trace module.
	EnvConfigFile = "XDP_CONFIG"
	EnvPluginPath = "XDP_PLUGIN_PATH"
	EnvLogLevel   = "XDP_LOG_LEVEL"
	EnvTraceDir   = "XDP_TRACE_DIR"
)

// Plugins holds one enable flag per trace module. A disabled module is
// never opened, exactly as if it were not installed.
type Plugins struct {
	OpenCLTrace      bool `yaml:"opencl_trace"`
	DeviceTrace      bool `yaml:"device_trace"`
	OpenCLSummary    bool `yaml:"opencl_summary"`
	AIETrace         bool `yaml:"aie_trace"`
	HALDeviceOffload bool `yaml:"hal_device_offload"`
}

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// PluginPath lists the directories searched for module files, in order.
	PluginPath []string `yaml:"plugin_path"`
	Plugins    Plugins  `yaml:"plugins"`

	TraceDir      string        `yaml:"trace_dir"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// StaticBackend links the reference backend into the host so the
	// modules resolve without any file on disk.
	StaticBackend bool `yaml:"static_backend"`
}

func Default() Config {
	return Config{
		LogLevel:   "info",
		LogFormat:  "text",
		PluginPath: []string{"."},
		Plugins: Plugins{
			OpenCLTrace:      true,
			DeviceTrace:      true,
			OpenCLSummary:    true,
			AIETrace:         true,
			HALDeviceOffload: true,
		},
		TraceDir:      ".",
		FlushInterval: time.Second,
	}
}

// Load resolves the configuration. An empty path skips the file; a path that
// cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv(EnvPluginPath); v != "" {
		cfg.PluginPath = filepath.SplitList(v)
	}
	cfg.LogLevel = strings.ToLower(envOrDefault(EnvLogLevel, cfg.LogLevel))
	cfg.TraceDir = envOrDefault(EnvTraceDir, cfg.TraceDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log_format %q", c.LogFormat))
	}
	if len(c.PluginPath) == 0 {
		errs = append(errs, errors.New("plugin_path must not be empty"))
	}
	for _, dir := range c.PluginPath {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, errors.New("plugin_path contains an empty entry"))
			break
		}
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be positive, got %s", c.FlushInterval))
	}
	if c.TraceDir == "" {
		errs = append(errs, errors.New("trace_dir must not be empty"))
	}
	return errors.Join(errs...)
}

// Allow reports whether the module with the given logical name may be
// opened. Names it does not know about are allowed.
func (c Config) Allow(name string) bool {
	switch name {
	case opencl.TraceModuleName:
		return c.Plugins.OpenCLTrace
	case opencl.OffloadModuleName:
		return c.Plugins.DeviceTrace
	case opencl.CountersModuleName:
		return c.Plugins.OpenCLSummary
	case aie.ModuleName:
		return c.Plugins.AIETrace
	case hal.ModuleName:
		return c.Plugins.HALDeviceOffload
	default:
		return true
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
