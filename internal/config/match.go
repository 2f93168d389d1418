package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// MatchConfig holds the timing and scoring knobs shared by matchmaking,
// the round engine and the sweeper.
type MatchConfig struct {
	OfferTimeout        time.Duration `env:"OFFER_TIMEOUT" envDefault:"10s"`
	PairPollInterval    time.Duration `env:"PAIR_POLL_INTERVAL" envDefault:"1s"`
	QueueTTL            time.Duration `env:"QUEUE_TTL" envDefault:"30s"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	DeadlineSweep       time.Duration `env:"DEADLINE_SWEEP_INTERVAL" envDefault:"1s"`
	ThinkingDuration    time.Duration `env:"THINKING_DURATION" envDefault:"5s"`
	ChoosingDuration    time.Duration `env:"CHOOSING_DURATION" envDefault:"15s"`
	ResultDuration      time.Duration `env:"RESULT_DURATION" envDefault:"4s"`
	TotalRounds         int           `env:"TOTAL_ROUNDS" envDefault:"5"`
	TargetScore         int           `env:"TARGET_SCORE" envDefault:"0"`
	PointsPerStep       int           `env:"POINTS_PER_STEP" envDefault:"10"`
	ForfeitGrace        time.Duration `env:"FORFEIT_GRACE" envDefault:"30s"`
	PresenceAwayAfter   time.Duration `env:"PRESENCE_AWAY_AFTER" envDefault:"20s"`
	PresenceDropAfter   time.Duration `env:"PRESENCE_DROP_AFTER" envDefault:"60s"`
	PresenceSweepPeriod time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"5s"`
}

func LoadMatch() (MatchConfig, error) {
	var cfg MatchConfig
	err := env.Parse(&cfg)
	return cfg, err
}
