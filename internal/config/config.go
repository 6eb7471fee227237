package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/healthsup/internal/env"
	"github.com/loykin/healthsup/internal/health"
	"github.com/loykin/healthsup/internal/logger"
	"github.com/loykin/healthsup/internal/process"
	"github.com/loykin/healthsup/internal/supervisor"
)

// EnvPrefix is the prefix for environment overrides, e.g. HEALTHSUP_LOG_LEVEL.
const EnvPrefix = "HEALTHSUP"

// Health defaults applied when a service leaves the field unset.
const (
	DefaultHealthTimeout    = 500 * time.Millisecond
	DefaultHealthInterval   = time.Second
	DefaultFailureThreshold = 3
)

// Config represents the top-level configuration file (TOML or YAML).
type Config struct {
	Env      []string        `mapstructure:"env"`
	EnvFiles []string        `mapstructure:"env_files"`
	Log      logger.Config   `mapstructure:"log"`
	Daemon   DaemonConfig    `mapstructure:"daemon"`
	Server   ServerConfig    `mapstructure:"server"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	History  HistoryConfig   `mapstructure:"history"`
	Services []ServiceConfig `mapstructure:"services"`

	// Path is the file the config was read from.
	Path string `mapstructure:"-"`
}

type DaemonConfig struct {
	PIDFile string `mapstructure:"pidfile"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

// ServiceConfig is one [[services]] entry.
type ServiceConfig struct {
	Name    string                   `mapstructure:"name"`
	Command []string                 `mapstructure:"command"`
	WorkDir string                   `mapstructure:"workdir"`
	Env     []string                 `mapstructure:"env"` // KEY=VALUE; a list keeps key case intact
	Health  health.Config            `mapstructure:"health"`
	Restart supervisor.RestartPolicy `mapstructure:"restart"`
	Log     logger.OutputConfig      `mapstructure:"log"`
}

// Spec converts the entry into a process spec.
func (s ServiceConfig) Spec() process.Spec {
	return process.Spec{
		Name:    s.Name,
		Command: s.Command,
		WorkDir: s.WorkDir,
		Env:     env.ParsePairs(s.Env),
		Log:     s.Log,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("daemon.pidfile", "")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:9180")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("history.sinks", []string{})
}

// Load reads path (format chosen by extension), applies defaults and
// HEALTHSUP_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Clean(path))
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("toml")
	}
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToArgv(),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Path = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Services {
		s := &c.Services[i]
		if s.Health.Timeout == 0 {
			s.Health.Timeout = DefaultHealthTimeout
		}
		if s.Health.Interval == 0 {
			s.Health.Interval = DefaultHealthInterval
		}
		if s.Health.FailureThreshold == 0 {
			s.Health.FailureThreshold = DefaultFailureThreshold
		}
		s.Restart = s.Restart.WithDefaults()
	}
}

// Validate checks every section; the error names the offending field.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json", "color":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("server.listen: required when server is enabled")
	}
	if len(c.Services) == 0 {
		return errors.New("services: at least one service is required")
	}
	seen := make(map[string]struct{}, len(c.Services))
	for i, s := range c.Services {
		if err := s.Spec().Validate(); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("services[%d].name: duplicate service %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if err := s.Health.Validate(); err != nil {
			return fmt.Errorf("services[%d].health (%s): %w", i, s.Name, err)
		}
		if err := s.Restart.Validate(); err != nil {
			return fmt.Errorf("services[%d].restart (%s): %w", i, s.Name, err)
		}
	}
	return nil
}

// stringToArgv lets list fields such as command be written as one string.
// The string becomes a single element instead of being split on commas.
func stringToArgv() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if s == "" {
			return []string{}, nil
		}
		return []string{s}, nil
	}
}

// GlobalEnv builds the child environment base: OS env, then env_files in
// order, then the top-level env list.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New()
	e.FromOS()
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env_files: %w", err)
		}
		for k, v := range pairs {
			e.Var[k] = v
		}
	}
	for k, v := range env.ParsePairs(c.Env) {
		e.Var[k] = v
	}
	return e, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
