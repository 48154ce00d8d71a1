// Package config loads assetbuild.yaml: where sources, objects, the content index and
// the event journal live, how builds run and how the daemon and workers behave.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "assetbuild.yaml"

// Config is the application configuration.
type Config struct {
	SourceDir string `yaml:"source_dir"`
	Plan      string `yaml:"plan"`
	StateDir  string `yaml:"state_dir"`

	Build   BuildConfig   `yaml:"build"`
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`
	Events  EventsConfig  `yaml:"events"`
	Remote  RemoteConfig  `yaml:"remote"`
	Watch   WatchConfig   `yaml:"watch"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

// BuildConfig tunes build runs.
type BuildConfig struct {
	Parallelism  int    `yaml:"parallelism,omitempty"`
	ResultCache  *bool  `yaml:"result_cache,omitempty"`
	FileVersions string `yaml:"file_versions,omitempty"`
}

// ResultCacheEnabled reports whether stored command results may be reused.
func (b BuildConfig) ResultCacheEnabled() bool {
	return b.ResultCache == nil || *b.ResultCache
}

// StorageType selects the object store backend.
type StorageType string

const (
	StorageFS     StorageType = "fs"
	StorageS3     StorageType = "s3"
	StorageMemory StorageType = "memory"
)

// StorageConfig configures the object store.
type StorageConfig struct {
	Type StorageType `yaml:"type"`
	Path string      `yaml:"path,omitempty"`
	S3   S3Config    `yaml:"s3,omitempty"`
}

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// IndexType selects the content index backend.
type IndexType string

const (
	IndexMemory IndexType = "memory"
	IndexSQLite IndexType = "sqlite"
)

// IndexConfig configures the content index.
type IndexConfig struct {
	Type IndexType `yaml:"type"`
	Path string    `yaml:"path,omitempty"`
}

// EventsConfig configures the build event journal.
type EventsConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Retention string `yaml:"retention,omitempty"` // duration, e.g. "720h"
}

// IsEnabled reports whether builds are journaled. Defaults to true.
func (e EventsConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// RemoteConfig configures remote execution over NATS.
type RemoteConfig struct {
	Enabled     bool        `yaml:"enabled"`
	URL         string      `yaml:"url,omitempty"`
	Subject     string      `yaml:"subject,omitempty"`
	Queue       string      `yaml:"queue,omitempty"`
	Timeout     string      `yaml:"timeout,omitempty"`
	Concurrency int         `yaml:"concurrency,omitempty"`
	Retry       RetryConfig `yaml:"retry,omitempty"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce string   `yaml:"debounce,omitempty"`
	Ignore   []string `yaml:"ignore,omitempty"` // glob patterns matched against base names
}

// DaemonConfig configures the daemon command.
type DaemonConfig struct {
	Interval        string `yaml:"interval,omitempty"`
	CompactInterval string `yaml:"compact_interval,omitempty"`
	HTTPAddr        string `yaml:"http_addr,omitempty"`
	HistorySize     int    `yaml:"history_size,omitempty"`
}

// Load reads configPath after loading .env files, expands ${VAR} references, applies
// defaults and validates the result. Relative paths resolve against the file's directory.
func Load(configPath string) (*Config, error) {
	loadEnvFiles(filepath.Dir(configPath))

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(configPath))
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Build()
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.SourceDir = abs(c.SourceDir)
	c.Plan = abs(c.Plan)
	c.StateDir = abs(c.StateDir)
	c.Build.FileVersions = abs(c.Build.FileVersions)
	c.Storage.Path = abs(c.Storage.Path)
	c.Index.Path = abs(c.Index.Path)
	c.Events.Path = abs(c.Events.Path)
}
