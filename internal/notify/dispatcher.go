package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"quizduel/internal/notify/platforms"
	"quizduel/internal/store"

	"github.com/rs/zerolog/log"
)

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// delivery tracks the outstanding target pushes of one notification row.
type delivery struct {
	remaining int
	sent      int
	lost      bool
}

// Dispatcher polls undelivered match notifications and pushes them to the
// configured webhook targets. A row is marked delivered once every matching
// target either accepted it or ran out of retries. Rows whose pushes were
// lost to shutdown or a full queue stay undelivered for the next poll.
type Dispatcher struct {
	repo     Repository
	cfg      Config
	adapters map[string]platforms.Adapter
	now      func() time.Time

	dispatchCh chan pushJob
	retryQ     *retryQueue
	done       chan struct{}

	mu           sync.Mutex
	started      bool
	inflight     map[string]*delivery
	breakerByKey map[string]breakerState
}

func NewDispatcher(repo Repository, cfg Config) *Dispatcher {
	client := platforms.NewHTTPClient(cfg.RequestTimeout)
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CircuitOpenDuration <= 0 {
		cfg.CircuitOpenDuration = 30 * time.Second
	}
	d := &Dispatcher{
		repo: repo,
		cfg:  cfg,
		adapters: map[string]platforms.Adapter{
			"discord": platforms.NewDiscordAdapter(client),
			"webhook": platforms.NewWebhookAdapter(client),
		},
		now:          time.Now,
		dispatchCh:   make(chan pushJob, cfg.DispatchBuffer),
		done:         make(chan struct{}),
		inflight:     map[string]*delivery{},
		breakerByKey: map[string]breakerState{},
	}
	d.retryQ = newRetryQueue(d.dispatchCh, d.done, func(job pushJob) { d.settle(job, false, true) })
	return d
}

// Run starts the workers and polls until ctx is done. A disabled dispatcher
// returns immediately.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.cfg.Enabled {
		return nil
	}
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()
	defer close(d.done)

	for i := 0; i < d.cfg.Workers; i++ {
		go d.worker(ctx)
	}
	log.Info().Int("targets", len(d.cfg.Targets)).Int("workers", d.cfg.Workers).Msg("notify dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.PollOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("notify poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce dispatches one batch of undelivered notifications and returns how
// many rows were handed to workers.
func (d *Dispatcher) PollOnce(ctx context.Context) (int, error) {
	rows, err := d.repo.ListUndeliveredNotifications(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, n := range rows {
		if d.isInflight(n.ID) {
			continue
		}
		targets := matchTargets(d.cfg.Targets, n)
		if len(targets) == 0 {
			d.markDelivered(ctx, n.ID)
			continue
		}
		msg, err := formatMatchCreated(ctx, d.repo, n)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.markDelivered(ctx, n.ID)
				continue
			}
			log.Warn().Err(err).Str("notification_id", n.ID).Msg("format notification")
			continue
		}

		d.mu.Lock()
		d.inflight[n.ID] = &delivery{remaining: len(targets)}
		d.mu.Unlock()
		for _, target := range targets {
			job := pushJob{Target: target, NotificationID: n.ID, Message: msg}
			if !d.enqueue(job) {
				metricNotifyDroppedTotal.Add(1)
				d.settle(job, false, true)
			}
		}
		dispatched++
	}
	return dispatched, nil
}

func (d *Dispatcher) enqueue(job pushJob) bool {
	select {
	case <-d.done:
		return false
	case d.dispatchCh <- job:
		metricNotifyQueuedTotal.Add(1)
		metricNotifyQueueLen.Set(int64(len(d.dispatchCh)))
		return true
	default:
		return false
	}
}

func (d *Dispatcher) isInflight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

// settle records the final outcome of one target push.
func (d *Dispatcher) settle(job pushJob, sent, lost bool) {
	d.mu.Lock()
	del := d.inflight[job.NotificationID]
	if del == nil {
		d.mu.Unlock()
		return
	}
	del.remaining--
	if sent {
		del.sent++
	}
	if lost {
		del.lost = true
	}
	if del.remaining > 0 {
		d.mu.Unlock()
		return
	}
	delete(d.inflight, job.NotificationID)
	d.mu.Unlock()

	if del.lost && del.sent == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.markDelivered(ctx, job.NotificationID)
}

func (d *Dispatcher) markDelivered(ctx context.Context, id string) {
	if err := d.repo.MarkNotificationDelivered(ctx, id, d.now().UTC()); err != nil {
		log.Warn().Err(err).Str("notification_id", id).Msg("mark notification delivered")
		return
	}
	metricNotifyDeliveredTotal.Add(1)
}
