package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"comfy.host":              "127.0.0.1:8188",
		"comfy.ready_interval_ms": 50,
		"comfy.ready_max_retries": 500,
		"comfy.poll_interval_ms":  250,
		"comfy.poll_max_retries":  500,
		"comfy.output_path":       "",

		"worker.wait_timeout":         "2m",
		"worker.submit_attempts":      3,
		"worker.fetch_attempts":       3,
		"worker.backoff_initial_ms":   250,
		"worker.backoff_max_ms":       2000,
		"worker.allow_partial_output": false,
		"worker.refresh_worker":       false,

		"bucket.region": "us-east-1",

		"local.host": "0.0.0.0",
		"local.port": 8000,

		"logging.level": "info",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
