package sweeper

import (
	"context"
	"expvar"
	"time"

	"quizduel/internal/config"
	"quizduel/internal/store"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

var (
	metricQueueRemoved = expvar.NewInt("sweeper_queue_removed_total")
	metricOffersExpire = expvar.NewInt("sweeper_offers_expired_total")
	metricRoundsMoved  = expvar.NewInt("sweeper_rounds_advanced_total")
)

// RoundAdvancer pushes rounds whose deadline passed.
type RoundAdvancer interface {
	AdvanceOverdue(ctx context.Context) (int, error)
}

// GraceSweeper forfeits players whose reconnect window elapsed.
type GraceSweeper interface {
	Sweep(ctx context.Context, now time.Time) int
}

// PresenceSweeper marks idle presence records away or drops them.
type PresenceSweeper interface {
	Sweep(now time.Time) int
}

type Config struct {
	QueueTTL        time.Duration
	SweepInterval   time.Duration
	DeadlineSweep   time.Duration
	PresenceSweep   time.Duration
	GraceSweepEvery time.Duration
}

func ConfigFrom(cfg config.MatchConfig) Config {
	return Config{
		QueueTTL:        cfg.QueueTTL,
		SweepInterval:   cfg.SweepInterval,
		DeadlineSweep:   cfg.DeadlineSweep,
		PresenceSweep:   cfg.PresenceSweepPeriod,
		GraceSweepEvery: time.Second,
	}
}

// Sweeper is the janitor for queue entries and offers. Both sweeps are
// conditional updates, so running them concurrently or on several nodes is
// safe.
type Sweeper struct {
	repo store.Repository
	cfg  Config
	now  func() time.Time

	rounds   RoundAdvancer
	grace    GraceSweeper
	presence PresenceSweeper
}

type Option func(*Sweeper)

func WithRounds(r RoundAdvancer) Option     { return func(s *Sweeper) { s.rounds = r } }
func WithGrace(g GraceSweeper) Option       { return func(s *Sweeper) { s.grace = g } }
func WithPresence(p PresenceSweeper) Option { return func(s *Sweeper) { s.presence = p } }

func New(repo store.Repository, cfg Config, opts ...Option) *Sweeper {
	if cfg.QueueTTL <= 0 {
		cfg.QueueTTL = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.DeadlineSweep <= 0 {
		cfg.DeadlineSweep = time.Second
	}
	if cfg.PresenceSweep <= 0 {
		cfg.PresenceSweep = 5 * time.Second
	}
	if cfg.GraceSweepEvery <= 0 {
		cfg.GraceSweepEvery = time.Second
	}
	s := &Sweeper{repo: repo, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepQueue removes entries whose heartbeat is older than the queue TTL.
func (s *Sweeper) SweepQueue(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteStaleQueueEntries(ctx, s.now().Add(-s.cfg.QueueTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metricQueueRemoved.Add(int64(n))
		log.Info().Int("removed", n).Msg("stale queue entries removed")
	}
	return n, nil
}

// SweepOffers expires pending offers past their deadline and returns the
// queue entries they still hold to waiting.
func (s *Sweeper) SweepOffers(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireOffers(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metricOffersExpire.Add(int64(n))
		log.Info().Int("expired", n).Msg("offers expired")
	}
	return n, nil
}

type job struct {
	name  string
	every time.Duration
	fn    func()
}

// Run schedules every sweep and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	jobs := []job{
		{"sweep_queue", s.cfg.SweepInterval, func() {
			if _, err := s.SweepQueue(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("sweep queue failed")
			}
		}},
		{"sweep_offers", s.cfg.SweepInterval, func() {
			if _, err := s.SweepOffers(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("sweep offers failed")
			}
		}},
	}
	if s.rounds != nil {
		jobs = append(jobs, job{"advance_overdue_rounds", s.cfg.DeadlineSweep, func() {
			n, err := s.rounds.AdvanceOverdue(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("advance overdue rounds failed")
			}
			metricRoundsMoved.Add(int64(n))
		}})
	}
	if s.grace != nil {
		jobs = append(jobs, job{"sweep_reconnect_grace", s.cfg.GraceSweepEvery, func() { s.grace.Sweep(ctx, s.now()) }})
	}
	if s.presence != nil {
		jobs = append(jobs, job{"sweep_presence", s.cfg.PresenceSweep, func() { s.presence.Sweep(s.now()) }})
	}

	for _, j := range jobs {
		if _, err := sched.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(j.fn),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = sched.Shutdown()
			return err
		}
	}
	sched.Start()
	log.Info().Int("jobs", len(jobs)).Msg("sweeper started")
	<-ctx.Done()
	return sched.Shutdown()
}
