package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/scriptdeck/internal/env"
	"github.com/loykin/scriptdeck/internal/logger"
	"github.com/loykin/scriptdeck/internal/process"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. SCRIPTDECK_PATHS_SCRIPTS_DIR.
const EnvPrefix = "SCRIPTDECK"

// DefaultPort matches the dashboard's historical port; PORT overrides it.
const DefaultPort = 7447

// Config represents the top-level TOML structure.
type Config struct {
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Paths      PathsConfig      `toml:"paths" mapstructure:"paths"`
	Runtime    RuntimeConfig    `toml:"runtime" mapstructure:"runtime"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    []HistoryConfig  `toml:"history" mapstructure:"history"`

	// Extra environment for every script: OS env (when UseOSEnv), then
	// env_files in order, then env entries.
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`
}

type ServerConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig selects the server certificate: explicit cert_file/key_file, or
// tls.crt/tls.key inside dir, generated on first start when auto_generate is set.
type TLSConfig struct {
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"` // "1.2" (default) or "1.3"
}

// Enabled reports whether a certificate source is configured.
func (t TLSConfig) Enabled() bool {
	return (t.CertFile != "" && t.KeyFile != "") || t.Dir != ""
}

type PathsConfig struct {
	ScriptsDir string `toml:"scripts_dir" mapstructure:"scripts_dir"`
	LogsDir    string `toml:"logs_dir" mapstructure:"logs_dir"`
	VenvDir    string `toml:"venv_dir" mapstructure:"venv_dir"`
}

type RuntimeConfig struct {
	Interpreter   string `toml:"interpreter" mapstructure:"interpreter"`
	HomeVar       string `toml:"home_var" mapstructure:"home_var"`
	ModulePathVar string `toml:"module_path_var" mapstructure:"module_path_var"`
	Unbuffered    bool   `toml:"unbuffered" mapstructure:"unbuffered"`
}

type SupervisorConfig struct {
	StopGrace     time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	WatchScripts  bool          `toml:"watch_scripts" mapstructure:"watch_scripts"`
	WatchDebounce time.Duration `toml:"watch_debounce" mapstructure:"watch_debounce"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
	// SampleInterval enables periodic CPU/memory sampling of running scripts.
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
	HistorySize    int           `toml:"history_size" mapstructure:"history_size"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":"+strconv.Itoa(DefaultPort))
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("paths.scripts_dir", "/scripts")
	v.SetDefault("paths.logs_dir", "/logs")
	v.SetDefault("paths.venv_dir", "/venv")
	v.SetDefault("runtime.interpreter", "python")
	v.SetDefault("runtime.home_var", "VIRTUAL_ENV")
	v.SetDefault("runtime.module_path_var", "PYTHONPATH")
	v.SetDefault("runtime.unbuffered", true)
	v.SetDefault("supervisor.stop_grace", process.DefaultStopGrace)
	v.SetDefault("supervisor.watch_scripts", true)
	v.SetDefault("supervisor.watch_debounce", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.sample_interval", 15*time.Second)
	v.SetDefault("metrics.history_size", 60)
	v.SetDefault("use_os_env", true)
}

// Load reads the TOML file at path (optional: "" uses defaults only) and
// applies SCRIPTDECK_* environment overrides and PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_SERVER_LISTEN") == "" {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid PORT %q", port)
		}
		cfg.Server.Listen = ":" + port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.Paths.ScriptsDir == "" {
		return fmt.Errorf("paths.scripts_dir is required")
	}
	if c.Paths.LogsDir == "" {
		return fmt.Errorf("paths.logs_dir is required")
	}
	if c.Supervisor.StopGrace < 0 {
		return fmt.Errorf("supervisor.stop_grace must not be negative")
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires both cert_file and key_file")
	}
	for i, h := range c.History {
		if strings.TrimSpace(h.DSN) == "" {
			return fmt.Errorf("history[%d]: dsn is required", i)
		}
	}
	return nil
}

// ScriptEnv builds the base environment shared by every script and pip run.
func (c *Config) ScriptEnv() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv {
		// cache now; the result is shared by concurrent launches
		e.FromOS()
	} else {
		e = e.WithBase(nil)
	}
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			k, val, _ := strings.Cut(kv, "=")
			e = e.WithSet(k, val)
		}
	}
	for _, kv := range c.Env {
		if k, val, ok := strings.Cut(kv, "="); ok {
			e = e.WithSet(k, val)
		}
	}
	return e, nil
}

// ProcessRuntime converts the config into the launch runtime for scripts.
func (c *Config) ProcessRuntime(e *env.Env) process.Runtime {
	return process.Runtime{
		ScriptsDir:    c.Paths.ScriptsDir,
		ToolRoot:      c.Paths.VenvDir,
		Interpreter:   c.Runtime.Interpreter,
		HomeVar:       c.Runtime.HomeVar,
		ModulePathVar: c.Runtime.ModulePathVar,
		Unbuffered:    c.Runtime.Unbuffered,
		Env:           e,
	}
}

// EnsureDirs creates the scripts, logs and venv directories.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Paths.ScriptsDir, c.Paths.LogsDir, c.Paths.VenvDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}
