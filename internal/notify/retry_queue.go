package notify

import "time"

type retryQueue struct {
	out  chan<- pushJob
	done <-chan struct{}
	// lost is called when the job can no longer be delivered.
	lost func(pushJob)
}

func newRetryQueue(out chan<- pushJob, done <-chan struct{}, lost func(pushJob)) *retryQueue {
	return &retryQueue{out: out, done: done, lost: lost}
}

func (q *retryQueue) Enqueue(job pushJob, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		select {
		case <-q.done:
			q.lost(job)
		case q.out <- job:
			metricNotifyQueueLen.Set(int64(len(q.out)))
		}
	})
}
