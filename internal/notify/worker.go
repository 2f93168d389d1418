package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var errCircuitOpen = errors.New("circuit_open")

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case job := <-d.dispatchCh:
			metricNotifyQueueLen.Set(int64(len(d.dispatchCh)))
			d.processJob(ctx, job)
		}
	}
}

func (d *Dispatcher) processJob(ctx context.Context, job pushJob) {
	adapter := d.adapters[job.Target.Platform]
	if adapter == nil {
		metricNotifyDroppedTotal.Add(1)
		d.settle(job, false, false)
		return
	}

	if err := d.beforeSend(job.key(), d.now()); err != nil {
		metricNotifyCircuitOpenTotal.Add(1)
		if !d.retryOrDrop(job, err) {
			d.settle(job, false, false)
		}
		return
	}

	if err := adapter.Send(ctx, job.Target.Endpoint, job.Target.Secret, job.Message); err != nil {
		metricNotifyFailedTotal.Add(1)
		d.afterFailure(job.key(), d.now())
		if !d.retryOrDrop(job, err) {
			d.settle(job, false, false)
		}
		return
	}

	metricNotifySentTotal.Add(1)
	d.afterSuccess(job.key())
	d.settle(job, true, false)
}

func (d *Dispatcher) retryOrDrop(job pushJob, err error) bool {
	if job.Attempt >= d.cfg.RetryMax {
		metricNotifyRetryDroppedTotal.Add(1)
		log.Warn().Err(err).
			Str("notification_id", job.NotificationID).
			Str("platform", job.Target.Platform).
			Int("attempts", job.Attempt+1).
			Msg("notify push abandoned")
		return false
	}
	job.Attempt++
	metricNotifyRetryTotal.Add(1)
	delay := d.cfg.RetryBase * time.Duration(1<<(job.Attempt-1))
	d.retryQ.Enqueue(job, delay)
	return true
}

func (d *Dispatcher) beforeSend(key string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.breakerByKey[key]
	if !state.openUntil.IsZero() && now.Before(state.openUntil) {
		return errCircuitOpen
	}
	return nil
}

func (d *Dispatcher) afterFailure(key string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.breakerByKey[key]
	state.consecutiveFailures++
	if state.consecutiveFailures >= d.cfg.FailureThreshold {
		state.openUntil = now.Add(d.cfg.CircuitOpenDuration)
		state.consecutiveFailures = 0
	}
	d.breakerByKey[key] = state
}

func (d *Dispatcher) afterSuccess(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakerByKey[key] = breakerState{}
}
