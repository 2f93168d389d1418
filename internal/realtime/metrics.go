package realtime

import "expvar"

var (
	metricPublishTotal        = expvar.NewInt("realtime_publish_total")
	metricPublishStaleDropped = expvar.NewInt("realtime_publish_stale_dropped")
	metricPublishOverflow     = expvar.NewInt("realtime_publish_overflow")
	metricWSConnectionsActive = expvar.NewInt("realtime_ws_connections_active")
	metricGraceStarted        = expvar.NewInt("realtime_grace_started_total")
	metricGraceForfeits       = expvar.NewInt("realtime_grace_forfeits_total")
	metricClientMsgInvalid    = expvar.NewInt("realtime_client_msg_invalid_total")
)
