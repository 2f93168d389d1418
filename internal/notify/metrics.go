package notify

import "expvar"

var (
	metricNotifyQueuedTotal       = expvar.NewInt("notify_push_queued_total")
	metricNotifyDroppedTotal      = expvar.NewInt("notify_push_dropped_total")
	metricNotifyRetryTotal        = expvar.NewInt("notify_push_retry_total")
	metricNotifyRetryDroppedTotal = expvar.NewInt("notify_push_retry_dropped_total")
	metricNotifySentTotal         = expvar.NewInt("notify_push_sent_total")
	metricNotifyFailedTotal       = expvar.NewInt("notify_push_failed_total")
	metricNotifyCircuitOpenTotal  = expvar.NewInt("notify_push_circuit_open_total")
	metricNotifyDeliveredTotal    = expvar.NewInt("notify_delivered_total")
	metricNotifyQueueLen          = expvar.NewInt("notify_push_queue_len")
)
