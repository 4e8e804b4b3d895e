package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Comfy   ComfyConfig   `koanf:"comfy"`
	Worker  WorkerConfig  `koanf:"worker"`
	Bucket  BucketConfig  `koanf:"bucket"`
	Local   LocalConfig   `koanf:"local"`
	Logging LoggingConfig `koanf:"logging"`
}

type ComfyConfig struct {
	Host string `koanf:"host"`
	// Readiness gate at startup.
	ReadyIntervalMS int `koanf:"ready_interval_ms"`
	ReadyMaxRetries int `koanf:"ready_max_retries"`
	// History polling when the notification channel is down: cadence and the
	// maximum number of polls per wait.
	PollIntervalMS int    `koanf:"poll_interval_ms"`
	PollMaxRetries int    `koanf:"poll_max_retries"`
	OutputPath     string `koanf:"output_path"`
}

type WorkerConfig struct {
	WaitTimeout        string `koanf:"wait_timeout"`
	SubmitAttempts     int    `koanf:"submit_attempts"`
	FetchAttempts      int    `koanf:"fetch_attempts"`
	BackoffInitialMS   int    `koanf:"backoff_initial_ms"`
	BackoffMaxMS       int    `koanf:"backoff_max_ms"`
	AllowPartialOutput bool   `koanf:"allow_partial_output"`
	RefreshWorker      bool   `koanf:"refresh_worker"`
}

type BucketConfig struct {
	EndpointURL     string `koanf:"endpoint_url"`
	Name            string `koanf:"name"`
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

type LocalConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// WaitTimeoutDuration parses worker.wait_timeout, falling back to the
// default on a malformed value.
func (c *Config) WaitTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Worker.WaitTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

func (c *ComfyConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *ComfyConfig) ReadyInterval() time.Duration {
	return time.Duration(c.ReadyIntervalMS) * time.Millisecond
}

// Load reads config from defaults, then a TOML file (if provided), then
// environment variables: WORKER_COMFY_HOST -> comfy.host, plus the legacy
// flat names the original container images used (COMFY_HOST, REFRESH_WORKER,
// BUCKET_ENDPOINT_URL, ...).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue("WORKER_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		mapped := strings.Replace(
			strings.ToLower(strings.TrimPrefix(key, "WORKER_")),
			"_", ".", 1,
		)
		return mapped, value
	}), nil); err != nil {
		return nil, err
	}

	// legacy flat env names, kept verbatim from the original images
	legacy := map[string]string{
		"COMFY_HOST":                "comfy.host",
		"COMFY_POLLING_INTERVAL_MS": "comfy.poll_interval_ms",
		"COMFY_POLLING_MAX_RETRIES": "comfy.poll_max_retries",
		"COMFY_OUTPUT_PATH":         "comfy.output_path",
		"REFRESH_WORKER":            "worker.refresh_worker",
		"BUCKET_ENDPOINT_URL":       "bucket.endpoint_url",
		"BUCKET_NAME":               "bucket.name",
		"BUCKET_ACCESS_KEY_ID":      "bucket.access_key_id",
		"BUCKET_SECRET_ACCESS_KEY":  "bucket.secret_access_key",
	}
	for name, path := range legacy {
		if v := os.Getenv(name); v != "" {
			k.Set(path, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
