package httptransport

import "expvar"

var (
	metricAdvanceRequests = expvar.NewInt("http_advance_requests_total")
	metricFenceConflicts  = expvar.NewInt("http_fence_conflicts_total")
	metricAnswerRequests  = expvar.NewInt("http_answer_requests_total")
	metricAcceptRequests  = expvar.NewInt("http_accept_requests_total")
)
