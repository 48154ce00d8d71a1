package config

import (
	"path/filepath"

	"git.home.luguber.info/inful/assetbuild/internal/remote"
)

const (
	defaultParallelism     = 4
	defaultStateDir        = ".assetbuild"
	defaultPlan            = "assetbuild.plan.yaml"
	defaultRetention       = "720h"
	defaultRemoteTimeout   = "30s"
	defaultDebounce        = "300ms"
	defaultInterval        = "10m"
	defaultCompactInterval = "1h"
	defaultHTTPAddr        = ":9090"
	defaultHistorySize     = 100
)

func (c *Config) applyDefaults() {
	if c.SourceDir == "" {
		c.SourceDir = "."
	}
	if c.Plan == "" {
		c.Plan = defaultPlan
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}

	if c.Build.Parallelism <= 0 {
		c.Build.Parallelism = defaultParallelism
	}
	if c.Build.FileVersions == "" {
		c.Build.FileVersions = filepath.Join(c.StateDir, "file-versions.txt")
	}

	if c.Storage.Type == "" {
		c.Storage.Type = StorageFS
	}
	if c.Storage.Type == StorageFS && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.StateDir, "objects")
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "us-east-1"
	}

	if c.Index.Type == "" {
		c.Index.Type = IndexSQLite
	}
	if c.Index.Type == IndexSQLite && c.Index.Path == "" {
		c.Index.Path = filepath.Join(c.StateDir, "index.db")
	}

	if c.Events.Path == "" {
		c.Events.Path = filepath.Join(c.StateDir, "events.db")
	}
	if c.Events.Retention == "" {
		c.Events.Retention = defaultRetention
	}

	if c.Remote.Subject == "" {
		c.Remote.Subject = remote.DefaultSubject
	}
	if c.Remote.Queue == "" {
		c.Remote.Queue = remote.DefaultQueue
	}
	if c.Remote.Timeout == "" {
		c.Remote.Timeout = defaultRemoteTimeout
	}
	if c.Remote.Concurrency <= 0 {
		c.Remote.Concurrency = c.Build.Parallelism
	}
	c.Remote.Retry.applyDefaults()

	if c.Watch.Debounce == "" {
		c.Watch.Debounce = defaultDebounce
	}

	if c.Daemon.Interval == "" {
		c.Daemon.Interval = defaultInterval
	}
	if c.Daemon.CompactInterval == "" {
		c.Daemon.CompactInterval = defaultCompactInterval
	}
	if c.Daemon.HTTPAddr == "" {
		c.Daemon.HTTPAddr = defaultHTTPAddr
	}
	if c.Daemon.HistorySize <= 0 {
		c.Daemon.HistorySize = defaultHistorySize
	}

	if c.Logging.Level == "" {
		c.Logging.Level = LogLevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
}
