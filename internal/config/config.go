package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/craftvisor/internal/auth"
	"github.com/loykin/craftvisor/internal/logger"
	"github.com/loykin/craftvisor/internal/manager"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/process"
	"github.com/loykin/craftvisor/internal/scheduler"
	"github.com/loykin/craftvisor/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. CRAFTVISOR_SERVER_LISTEN.
const EnvPrefix = "CRAFTVISOR"

// Config is the application configuration file.
type Config struct {
	ProfilesDir      string        `mapstructure:"profiles_dir"`
	WatchProfiles    bool          `mapstructure:"watch_profiles"`
	JavaPath         string        `mapstructure:"java_path"`
	DefaultMemoryGB  int           `mapstructure:"default_memory_gb"`
	JarName          string        `mapstructure:"jar_name"`
	ExtraJVMArgs     []string      `mapstructure:"extra_jvm_args"`
	ConfigEditPolicy string        `mapstructure:"config_edit_policy"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	// Env entries apply to every server; [[profiles]] env entries override them.
	Env []string `mapstructure:"env"`

	Console   ConsoleConfig          `mapstructure:"console"`
	Server    ServerConfig           `mapstructure:"server"`
	Log       logger.Settings        `mapstructure:"log"`
	Metrics   metrics.ResourceConfig `mapstructure:"metrics"`
	History   HistoryConfig          `mapstructure:"history"`
	Auth      auth.Config            `mapstructure:"auth"`
	Schedules []scheduler.Schedule   `mapstructure:"schedules"`
	Profiles  []ProfileConfig        `mapstructure:"profiles"`
}

type ConsoleConfig struct {
	Capacity            int `mapstructure:"capacity"`
	logger.MirrorConfig `mapstructure:",squash"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	TLSCert  string `mapstructure:"tls_cert"`
	TLSKey   string `mapstructure:"tls_key"`
	// TLSDir holds tls.crt and tls.key when no explicit pair is given.
	TLSDir          string `mapstructure:"tls_dir"`
	TLSAutoGenerate bool   `mapstructure:"tls_auto_generate"`

	LockFile string `mapstructure:"lock_file"`
}

// TLSOptions returns the listener certificate settings.
func (s ServerConfig) TLSOptions() tls.Options {
	return tls.Options{
		CertFile:     s.TLSCert,
		KeyFile:      s.TLSKey,
		Dir:          s.TLSDir,
		AutoGenerate: s.TLSAutoGenerate,
		Listen:       s.Listen,
	}
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

// ProfileConfig overrides launch options for one profile, matched by
// directory name.
type ProfileConfig struct {
	Name        string        `mapstructure:"name"`
	MemoryGB    int           `mapstructure:"memory_gb"`
	Jar         string        `mapstructure:"jar"`
	JVMArgs     []string      `mapstructure:"jvm_args"`
	ServerArgs  []string      `mapstructure:"server_args"`
	Command     []string      `mapstructure:"command"`
	Env         []string      `mapstructure:"env"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profiles_dir", "servers")
	v.SetDefault("watch_profiles", true)
	v.SetDefault("default_memory_gb", 2)
	v.SetDefault("jar_name", process.DefaultJar)
	v.SetDefault("config_edit_policy", string(manager.ConfigWarn))
	v.SetDefault("stop_timeout", "0s")
	v.SetDefault("console.capacity", 500)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", "5s")
	v.SetDefault("auth.token_ttl", "24h")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c, _ := load(viper.New())
	return c
}

// Load reads the TOML file at path, applies defaults and environment
// overrides and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if path != "" {
		cfg.ProfilesDir = relativeTo(path, cfg.ProfilesDir)
		cfg.Server.TLSDir = relativeTo(path, cfg.Server.TLSDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// relativeTo anchors a relative dir at the directory of the config file.
func relativeTo(configPath, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(filepath.Dir(configPath), dir)
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultMemoryGB < process.MinMemoryGB || c.DefaultMemoryGB > process.MaxMemoryGB {
		errs = append(errs, fmt.Errorf("default_memory_gb must be within %d..%d", process.MinMemoryGB, process.MaxMemoryGB))
	}
	if _, err := manager.ParseConfigPolicy(c.ConfigEditPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.StopTimeout < 0 {
		errs = append(errs, errors.New("stop_timeout must not be negative"))
	}
	if c.Console.Capacity <= 0 {
		errs = append(errs, errors.New("console.capacity must be positive"))
	}
	if err := c.Server.TLSOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, errors.New("server.base_path must start with /"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.Enabled && len(c.Auth.Users) == 0 {
		errs = append(errs, errors.New("auth.users required when auth is enabled"))
	}
	seen := map[string]bool{}
	for i, p := range c.Profiles {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("profiles[%d]: name required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("profiles[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.MemoryGB != 0 && (p.MemoryGB < process.MinMemoryGB || p.MemoryGB > process.MaxMemoryGB) {
			errs = append(errs, fmt.Errorf("profiles[%d]: memory_gb must be within %d..%d", i, process.MinMemoryGB, process.MaxMemoryGB))
		}
	}
	for i, s := range c.Schedules {
		if s.Profile == "" || s.Spec == "" || s.Command == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: profile, spec and command are required", i))
		}
	}
	return errors.Join(errs...)
}

// Policy returns the parsed config edit policy.
func (c *Config) Policy() manager.ConfigPolicy {
	p, err := manager.ParseConfigPolicy(c.ConfigEditPolicy)
	if err != nil {
		return manager.ConfigWarn
	}
	return p
}

// ProfileOverride returns the [[profiles]] entry for name, if any.
func (c *Config) ProfileOverride(name string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

// Options merges the global launch settings with the override for name.
func (c *Config) Options(name string, base manager.Options) manager.Options {
	o := base
	o.MemoryGB = c.DefaultMemoryGB
	o.Jar = c.JarName
	o.JVMArgs = append([]string(nil), c.ExtraJVMArgs...)
	o.StopTimeout = c.StopTimeout
	o.ConsoleCapacity = c.Console.Capacity
	o.Env = append([]string(nil), c.Env...)
	p, ok := c.ProfileOverride(name)
	if !ok {
		return o
	}
	if p.MemoryGB != 0 {
		o.MemoryGB = p.MemoryGB
	}
	if p.Jar != "" {
		o.Jar = p.Jar
	}
	if len(p.JVMArgs) > 0 {
		o.JVMArgs = append(o.JVMArgs, p.JVMArgs...)
	}
	if len(p.ServerArgs) > 0 {
		o.ServerArgs = p.ServerArgs
	}
	if len(p.Command) > 0 {
		o.Command = p.Command
	}
	o.Env = append(o.Env, p.Env...)
	if p.StopTimeout != 0 {
		o.StopTimeout = p.StopTimeout
	}
	return o
}
