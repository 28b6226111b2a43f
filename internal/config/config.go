// Package config provides configuration management for flowtree using
// Viper: a .flowtree.yml file in the working directory, FLOWTREE_
// environment overrides, and command-line flag bindings, validated
// before anything runs.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/flowtree/internal/client"
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Plugins PluginsConfig `mapstructure:"plugins" yaml:"plugins"`
	Explode ExplodeConfig `mapstructure:"explode" yaml:"explode"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServerConfig describes the remote flows endpoint and its credential.
type ServerConfig struct {
	URL                string        `mapstructure:"url" yaml:"url"`
	AuthType           string        `mapstructure:"auth_type" yaml:"auth_type"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password"`
	Token              string        `mapstructure:"token" yaml:"token"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PathsConfig locates the document and the exploded tree.
type PathsConfig struct {
	FlowsFile string `mapstructure:"flows_file" yaml:"flows_file"`
	SrcDir    string `mapstructure:"src_dir" yaml:"src_dir"`
}

// WatchConfig tunes the watch loop.
type WatchConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Debounce           time.Duration `mapstructure:"debounce" yaml:"debounce"`
	ConvergenceLimit   int           `mapstructure:"convergence_limit" yaml:"convergence_limit"`
	ConvergenceWindow  time.Duration `mapstructure:"convergence_window" yaml:"convergence_window"`
	MaxRebuildFailures int           `mapstructure:"max_rebuild_failures" yaml:"max_rebuild_failures"`
	EnableComms        bool          `mapstructure:"enable_comms" yaml:"enable_comms"`
}

// PluginsConfig selects and configures plugins.
type PluginsConfig struct {
	Enabled          []string `mapstructure:"enabled" yaml:"enabled"`
	Disabled         []string `mapstructure:"disabled" yaml:"disabled"`
	DisableAll       bool     `mapstructure:"disable_all" yaml:"disable_all"`
	FormatterCommand []string `mapstructure:"formatter_command" yaml:"formatter_command"`
}

// ExplodeConfig tunes the explode/rebuild engines.
type ExplodeConfig struct {
	DeleteOrphaned bool `mapstructure:"delete_orphaned" yaml:"delete_orphaned"`
	Workers        int  `mapstructure:"workers" yaml:"workers"`
	Tolerant       bool `mapstructure:"tolerant" yaml:"tolerant"`
	OrphanNew      bool `mapstructure:"orphan_new" yaml:"orphan_new"`
	DeleteNew      bool `mapstructure:"delete_new" yaml:"delete_new"`
}

// LogConfig tunes logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load unmarshals the viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.AuthType == "" {
		c.Server.AuthType = "none"
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = client.DefaultTimeout
	}
	if c.Paths.FlowsFile == "" {
		c.Paths.FlowsFile = "flows.json"
	}
	if c.Paths.SrcDir == "" {
		c.Paths.SrcDir = "src"
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = time.Second
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 2 * time.Second
	}
	if c.Watch.ConvergenceLimit <= 0 {
		c.Watch.ConvergenceLimit = 5
	}
	if c.Watch.ConvergenceWindow <= 0 {
		c.Watch.ConvergenceWindow = time.Minute
	}
	if c.Watch.MaxRebuildFailures <= 0 {
		c.Watch.MaxRebuildFailures = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.URL, is.URL),
		validation.Field(&c.Server.AuthType, validation.In("none", "basic", "bearer")),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Server.AuthType == "basic" && (c.Server.Username == "" || c.Server.Password == "") {
		return fmt.Errorf("server: auth_type basic requires username and password")
	}
	if c.Server.AuthType == "bearer" && c.Server.Token == "" {
		return fmt.Errorf("server: auth_type bearer requires token")
	}
	if err := validation.ValidateStruct(&c.Paths,
		validation.Field(&c.Paths.FlowsFile, validation.Required),
		validation.Field(&c.Paths.SrcDir, validation.Required),
	); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, validation.In("text", "json")),
	); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Credential builds the resolved credential value the remote client
// consumes.
func (c *Config) Credential() client.Credential {
	return client.Credential{
		Type:     c.Server.AuthType,
		Token:    c.Server.Token,
		Username: c.Server.Username,
		Password: c.Server.Password,
	}
}

// WriteDefault writes a commented starter config to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := Config{}
	cfg.applyDefaults()
	cfg.Server.URL = "http://localhost:1880"

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	header := []byte("# flowtree configuration.\n# Values may be overridden with FLOWTREE_* environment variables.\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
