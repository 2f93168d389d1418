package matchround

import "expvar"

var (
	metricAdvanceTotal     = expvar.NewInt("matchround_advance_total")
	metricAdvanceConflicts = expvar.NewInt("matchround_advance_conflicts_total")
	metricAnswersTotal     = expvar.NewInt("matchround_answers_total")
	metricAnswerDuplicates = expvar.NewInt("matchround_answer_duplicates_total")
	metricMatchesEnded     = expvar.NewInt("matchround_matches_ended_total")
	metricArchiveErrors    = expvar.NewInt("matchround_archive_errors_total")
)
