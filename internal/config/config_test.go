package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/remote"
	"git.home.luguber.info/inful/assetbuild/internal/retry"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".", cfg.SourceDir)
	assert.Equal(t, 4, cfg.Build.Parallelism)
	assert.True(t, cfg.Build.ResultCacheEnabled())
	assert.Equal(t, StorageFS, cfg.Storage.Type)
	assert.Equal(t, filepath.Join(".assetbuild", "objects"), cfg.Storage.Path)
	assert.Equal(t, IndexSQLite, cfg.Index.Type)
	assert.True(t, cfg.Events.IsEnabled())
	assert.Equal(t, remote.DefaultSubject, cfg.Remote.Subject)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Remote.Retry.Policy())
	assert.Equal(t, 300*time.Millisecond, Duration(cfg.Watch.Debounce))
}

func TestLoadResolvesPathsAndExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ASSETBUILD_TEST_BUCKET", "assets")
	content := `
source_dir: site
state_dir: /var/lib/assetbuild
build:
  parallelism: 8
  result_cache: false
storage:
  type: s3
  s3:
    endpoint: minio:9000
    bucket: ${ASSETBUILD_TEST_BUCKET}
index:
  type: memory
remote:
  enabled: true
  url: nats://localhost:4222
  retry:
    max_retries: 0
    backoff: Exponential
logging:
  level: debug
  format: json
`
	path := filepath.Join(dir, DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "site"), cfg.SourceDir)
	assert.Equal(t, filepath.Join(dir, "assetbuild.plan.yaml"), cfg.Plan)
	assert.Equal(t, "/var/lib/assetbuild/file-versions.txt", cfg.Build.FileVersions)
	assert.Equal(t, 8, cfg.Build.Parallelism)
	assert.Equal(t, 8, cfg.Remote.Concurrency)
	assert.False(t, cfg.Build.ResultCacheEnabled())
	assert.Equal(t, "assets", cfg.Storage.S3.Bucket)
	assert.Empty(t, cfg.Index.Path)

	policy := cfg.Remote.Retry.Policy()
	assert.Equal(t, retry.BackoffExponential, policy.Mode)
	assert.Zero(t, policy.MaxRetries)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	key := "ASSETBUILD_TEST_DOTENV_DIR"
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPath), []byte("source_dir: ${"+key+"}\n"), 0o644))

	cfg, err := Load(filepath.Join(dir, DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "from-dotenv"), cfg.SourceDir)
}

func TestLogLevelEnvOverride(t *testing.T) {
	t.Setenv(LogLevelEnv, "WARNING")
	cfg := Default()
	assert.Equal(t, slog.LevelWarn, cfg.Logging.SlogLevel())
}

func TestInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown storage", "storage: {type: ftp}\n"},
		{"s3 without bucket", "storage: {type: s3, s3: {endpoint: x}}\n"},
		{"unknown index", "index: {type: redis}\n"},
		{"bad duration", "watch: {debounce: soon}\n"},
		{"negative duration", "daemon: {interval: -1s}\n"},
		{"remote without url", "remote: {enabled: true}\n"},
		{"bad backoff", "remote: {retry: {backoff: random}}\n"},
		{"negative retries", "remote: {retry: {max_retries: -1}}\n"},
		{"bad log level", "logging: {level: loud}\n"},
		{"bad yaml", "storage: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}
