package config

import (
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateStorage,
		c.validateIndex,
		c.validateDurations,
		c.validateRemote,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Type {
	case StorageFS:
		if c.Storage.Path == "" {
			return errors.ConfigError("storage.path is required for fs storage").Build()
		}
	case StorageS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return errors.ConfigError("storage.s3 requires endpoint and bucket").Build()
		}
	case StorageMemory:
	default:
		return errors.ConfigError("unknown storage type").
			WithContext("type", string(c.Storage.Type)).
			Build()
	}
	return nil
}

func (c *Config) validateIndex() error {
	switch c.Index.Type {
	case IndexMemory, IndexSQLite:
		return nil
	default:
		return errors.ConfigError("unknown index type").
			WithContext("type", string(c.Index.Type)).
			Build()
	}
}

func (c *Config) validateDurations() error {
	fields := map[string]string{
		"events.retention":        c.Events.Retention,
		"remote.timeout":          c.Remote.Timeout,
		"remote.retry.initial":    c.Remote.Retry.InitialDelay,
		"remote.retry.max_delay":  c.Remote.Retry.MaxDelay,
		"watch.debounce":          c.Watch.Debounce,
		"daemon.interval":         c.Daemon.Interval,
		"daemon.compact_interval": c.Daemon.CompactInterval,
	}
	for field, raw := range fields {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "invalid duration").
				WithContext("field", field).
				WithContext("value", raw).
				Build()
		}
		if d <= 0 {
			return errors.ConfigError("duration must be positive").
				WithContext("field", field).
				WithContext("value", raw).
				Build()
		}
	}
	return nil
}

func (c *Config) validateRemote() error {
	if _, err := backoffNormalizer.NormalizeWithValidation(c.Remote.Retry.Backoff); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid remote.retry.backoff").Build()
	}
	if c.Remote.Retry.MaxRetries != nil && *c.Remote.Retry.MaxRetries < 0 {
		return errors.ConfigError("remote.retry.max_retries must not be negative").Build()
	}
	if c.Remote.Enabled && c.Remote.URL == "" {
		return errors.ConfigError("remote.url is required when remote execution is enabled").Build()
	}
	return nil
}

func (c *Config) validateLogging() error {
	if _, err := logLevelNormalizer.NormalizeWithValidation(string(c.Logging.Level)); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid logging.level").Build()
	}
	if _, err := logFormatNormalizer.NormalizeWithValidation(string(c.Logging.Format)); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid logging.format").Build()
	}
	return nil
}

// Duration parses a duration field already checked by Validate.
func Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}
