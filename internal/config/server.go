package config

import (
	"errors"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

var ErrMissingPostgresDSN = errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")

type ServerConfig struct {
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	AdminAPIKey   string `env:"ADMIN_API_KEY"`
	AllowSelfPlay bool   `env:"ALLOW_SELF_PLAY" envDefault:"false"`

	QuestionBankPath string `env:"QUESTION_BANK_PATH"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	ArchiveBucket    string `env:"ARCHIVE_S3_BUCKET"`
	ArchiveEndpoint  string `env:"ARCHIVE_S3_ENDPOINT"`
	ArchiveRegion    string `env:"ARCHIVE_S3_REGION" envDefault:"auto"`
	ArchiveAccessKey string `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	ArchiveSecretKey string `env:"ARCHIVE_S3_SECRET_ACCESS_KEY"`
	ArchivePrefix    string `env:"ARCHIVE_S3_PREFIX" envDefault:"matches/"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	if cfg.StoreDriver == StoreDriverPostgres && strings.TrimSpace(cfg.PostgresDSN) == "" {
		return cfg, ErrMissingPostgresDSN
	}
	return cfg, nil
}
