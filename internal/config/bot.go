package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type BotConfig struct {
	BaseURL     string        `env:"BOT_BASE_URL" envDefault:"http://localhost:8080"`
	APIKey      string        `env:"BOT_API_KEY"`
	DisplayName string        `env:"BOT_NAME" envDefault:"duel-bot"`
	Subject     string        `env:"BOT_SUBJECT" envDefault:"math"`
	Level       string        `env:"BOT_LEVEL" envDefault:"A1"`
	SelfPlay    bool          `env:"BOT_SELF_PLAY" envDefault:"false"`
	PollEvery   time.Duration `env:"BOT_POLL_INTERVAL" envDefault:"1s"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	err := env.Parse(&cfg)
	return cfg, err
}
