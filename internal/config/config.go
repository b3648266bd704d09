// Package config loads logger settings from defaults, an optional YAML
// file, and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxLogSize   = 10 * 1024 * 1024
	defaultSubAgentTool = "Task"
	defaultListenAddr   = "127.0.0.1:8421"
	configFileName      = "agent-logger.yaml"
)

// Environment variables.
const (
	EnvRoot       = "AGENT_LOGGER_ROOT"
	EnvMaxSize    = "AGENT_LOGGER_MAX_SIZE"
	EnvAddr       = "AGENT_LOGGER_ADDR"
	EnvConfigFile = "AGENT_LOGGER_CONFIG"
	EnvVerbose    = "CLAUDE_DEBUG_VERBOSE"
)

// Config holds logger configuration.
type Config struct {
	// LogsRoot is the directory holding the date partitions.
	LogsRoot string `yaml:"logs_root"`
	// MaxLogSize is the rotation threshold in bytes.
	MaxLogSize int64 `yaml:"max_log_size"`
	// Verbose appends the raw event to every entry.
	Verbose bool `yaml:"verbose"`
	// SubAgentTool is the tool name that delegates to a sub-agent.
	SubAgentTool string `yaml:"subagent_tool"`
	// ListenAddr is the serve-mode HTTP address.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration for the given home directory.
func Default(home string) Config {
	return Config{
		LogsRoot:     filepath.Join(home, ".claude", "logs", "sessions"),
		MaxLogSize:   defaultMaxLogSize,
		SubAgentTool: defaultSubAgentTool,
		ListenAddr:   defaultListenAddr,
	}
}

// Load builds the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv, os.UserHomeDir)
}

// LoadFrom builds the configuration using getenv and home in place of the
// process environment. A broken config file or an unknown home directory is
// reported, but the returned Config still carries the defaults and
// environment overrides so callers that must not fail can keep going.
func LoadFrom(getenv func(string) string, home func() (string, error)) (Config, error) {
	var loadErr error
	cfg := Config{MaxLogSize: defaultMaxLogSize, SubAgentTool: defaultSubAgentTool, ListenAddr: defaultListenAddr}
	homeDir, err := home()
	if err != nil {
		// Without a home directory only an explicit root can be used.
		homeDir = ""
		loadErr = fmt.Errorf("resolve home directory: %w", err)
	} else {
		cfg = Default(homeDir)
	}
	fallback := cfg

	path := getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit && homeDir != "" {
		path = filepath.Join(homeDir, ".claude", "logs", configFileName)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				loadErr = errors.Join(loadErr, err)
				cfg = fallback
			}
		}
	}

	if v := getenv(EnvRoot); v != "" {
		cfg.LogsRoot = expandHome(v, homeDir)
	}
	if v := getenv(EnvMaxSize); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxLogSize = n
		}
	}
	if v := getenv(EnvAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv(EnvVerbose); v != "" {
		cfg.Verbose = true
	}

	cfg.LogsRoot = expandHome(cfg.LogsRoot, homeDir)
	if cfg.MaxLogSize <= 0 {
		cfg.MaxLogSize = defaultMaxLogSize
	}
	if cfg.SubAgentTool == "" {
		cfg.SubAgentTool = defaultSubAgentTool
	}
	return cfg, loadErr
}

// loadFile overlays values set in the YAML file at path.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
