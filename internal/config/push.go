package config

import "github.com/caarlos0/env/v11"

type PushConfig struct {
	Enabled     bool   `env:"NOTIFY_PUSH_ENABLED" envDefault:"false"`
	TargetsPath string `env:"NOTIFY_PUSH_TARGETS_PATH"`
	TargetsJSON string `env:"NOTIFY_PUSH_TARGETS_JSON"`
	Workers     int    `env:"NOTIFY_PUSH_WORKERS" envDefault:"2"`
	RetryMax    int    `env:"NOTIFY_PUSH_RETRY_MAX" envDefault:"3"`
	RetryBaseMS int    `env:"NOTIFY_PUSH_RETRY_BASE_MS" envDefault:"500"`
	PollMS      int    `env:"NOTIFY_PUSH_POLL_MS" envDefault:"2000"`
	BatchSize   int    `env:"NOTIFY_PUSH_BATCH_SIZE" envDefault:"50"`
}

func LoadPush() (PushConfig, error) {
	var cfg PushConfig
	err := env.Parse(&cfg)
	return cfg, err
}
