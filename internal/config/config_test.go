package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8188", cfg.Comfy.Host)
	assert.Equal(t, 500, cfg.Comfy.ReadyMaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Comfy.ReadyInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.Comfy.PollInterval())
	assert.Equal(t, 500, cfg.Comfy.PollMaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.WaitTimeoutDuration())
	assert.Equal(t, 3, cfg.Worker.SubmitAttempts)
	assert.False(t, cfg.Worker.RefreshWorker)
	assert.False(t, cfg.Worker.AllowPartialOutput)
	assert.Equal(t, "us-east-1", cfg.Bucket.Region)
	assert.Empty(t, cfg.Bucket.EndpointURL)
	assert.Equal(t, 8000, cfg.Local.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[comfy]
host = "gpu-box:8188"

[worker]
wait_timeout = "5m"
allow_partial_output = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpu-box:8188", cfg.Comfy.Host)
	assert.Equal(t, 5*time.Minute, cfg.WaitTimeoutDuration())
	assert.True(t, cfg.Worker.AllowPartialOutput)
	// untouched sections keep their defaults
	assert.Equal(t, 250, cfg.Comfy.PollIntervalMS)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_COMFY_HOST", "10.0.0.5:8188")
	t.Setenv("WORKER_WORKER_WAIT_TIMEOUT", "90s")
	t.Setenv("WORKER_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:8188", cfg.Comfy.Host)
	assert.Equal(t, 90*time.Second, cfg.WaitTimeoutDuration())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Setenv("COMFY_HOST", "192.168.1.10:8188")
	t.Setenv("COMFY_POLLING_INTERVAL_MS", "100")
	t.Setenv("COMFY_POLLING_MAX_RETRIES", "40")
	t.Setenv("REFRESH_WORKER", "true")
	t.Setenv("BUCKET_ENDPOINT_URL", "https://s3.example.com")
	t.Setenv("BUCKET_NAME", "artifacts")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10:8188", cfg.Comfy.Host)
	assert.Equal(t, 100*time.Millisecond, cfg.Comfy.PollInterval())
	assert.Equal(t, 40, cfg.Comfy.PollMaxRetries)
	assert.True(t, cfg.Worker.RefreshWorker)
	assert.Equal(t, "https://s3.example.com", cfg.Bucket.EndpointURL)
	assert.Equal(t, "artifacts", cfg.Bucket.Name)
}

func TestLegacyEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[comfy]
host = "from-file:8188"
`), 0o644))
	t.Setenv("COMFY_HOST", "from-env:8188")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:8188", cfg.Comfy.Host)
}

func TestWaitTimeoutDurationFallsBackOnGarbage(t *testing.T) {
	cfg := &Config{Worker: WorkerConfig{WaitTimeout: "soon"}}
	assert.Equal(t, 2*time.Minute, cfg.WaitTimeoutDuration())

	cfg.Worker.WaitTimeout = "-5s"
	assert.Equal(t, 2*time.Minute, cfg.WaitTimeoutDuration())
}
