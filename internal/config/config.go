// Package config loads and watches the bridge configuration: which
// adapters are enabled, where their binaries live, and how logging
// behaves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mcpdap/internal/adapters"
)

// Config holds all mcpdap configuration.
type Config struct {
	// DefaultAdapter is used when a tool call names no adapter.
	DefaultAdapter string `yaml:"default_adapter"`

	// Adapters maps adapter name to its settings.
	Adapters map[string]AdapterSettings `yaml:"adapters"`

	// Logging controls the zap logger.
	Logging LoggingConfig `yaml:"logging"`
}

// AdapterSettings configures one debug adapter.
type AdapterSettings struct {
	// Enabled defaults to true; set false to hide the adapter.
	Enabled *bool `yaml:"enabled"`

	// Path points at the adapter's binary or entry point: the Python
	// interpreter for debugpy, dlv for delve, dapDebugServer.js for
	// jsdebug, the codelldb binary for codelldb.
	Path string `yaml:"path"`

	// NodePath overrides the Node.js runtime (jsdebug only).
	NodePath string `yaml:"node_path"`
}

// IsEnabled treats a missing enabled flag as true.
func (s AdapterSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // empty logs to stderr
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultAdapter: "debugpy",
		Adapters:       map[string]AdapterSettings{},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the first config path that exists, or the standard
// user path when none does: ./mcpdap.yaml, then
// ~/.config/mcpdap/config.yaml.
func DefaultPath() string {
	local := "mcpdap.yaml"
	if _, err := os.Stat(local); err == nil {
		return local
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return local
	}
	return filepath.Join(home, ".config", "mcpdap", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file, creating directories as
// needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies MCPDAP_ environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MCPDAP_DEFAULT_ADAPTER"); v != "" {
		c.DefaultAdapter = v
	}
	if v := os.Getenv("MCPDAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MCPDAP_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	// Per-adapter binary paths: MCPDAP_DEBUGPY_PATH, MCPDAP_DELVE_PATH, ...
	for _, name := range []string{"debugpy", "delve", "jsdebug", "codelldb"} {
		envKey := "MCPDAP_" + strings.ToUpper(name) + "_PATH"
		if v := os.Getenv(envKey); v != "" {
			settings := c.Adapters[name]
			settings.Path = v
			c.setAdapter(name, settings)
		}
	}
	if v := os.Getenv("MCPDAP_JSDEBUG_NODE_PATH"); v != "" {
		settings := c.Adapters["jsdebug"]
		settings.NodePath = v
		c.setAdapter("jsdebug", settings)
	}
}

func (c *Config) setAdapter(name string, settings AdapterSettings) {
	if c.Adapters == nil {
		c.Adapters = map[string]AdapterSettings{}
	}
	c.Adapters[name] = settings
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for mistakes worth failing on.
func (c *Config) Validate() error {
	level := strings.ToLower(c.Logging.Level)
	valid := false
	for _, l := range validLogLevels {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, validLogLevels)
	}

	known := map[string]bool{"debugpy": true, "delve": true, "jsdebug": true, "codelldb": true}
	for name := range c.Adapters {
		if !known[strings.ToLower(name)] {
			return fmt.Errorf("unknown adapter in config: %s", name)
		}
	}
	return nil
}

// AdapterSettingsFor translates the config into registry settings.
func (c *Config) AdapterSettingsFor() adapters.Settings {
	settings := adapters.Settings{}
	for name, s := range c.Adapters {
		switch strings.ToLower(name) {
		case "debugpy":
			settings.PythonPath = s.Path
		case "delve":
			settings.DlvPath = s.Path
		case "jsdebug":
			settings.JsDebugPath = s.Path
			settings.NodePath = s.NodePath
		case "codelldb":
			settings.CodeLLDBPath = s.Path
		}
		if !s.IsEnabled() {
			settings.Disabled = append(settings.Disabled, strings.ToLower(name))
		}
	}
	return settings
}

// BuildRegistry constructs the adapter registry this config describes.
func (c *Config) BuildRegistry() *adapters.Registry {
	return adapters.DefaultRegistry(c.AdapterSettingsFor())
}

// Sources lists where configuration was loaded from, for diagnostics.
func (c *Config) Sources(path string) []string {
	sources := []string{"defaults"}
	if _, err := os.Stat(path); err == nil {
		sources = append(sources, "file:"+path)
	}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "MCPDAP_") {
			sources = append(sources, "environment")
			break
		}
	}
	return sources
}
