package matchround

import (
	"time"

	"quizduel/internal/realtime"
	"quizduel/internal/store"
)

// State is the REST view of a match. Correct answers only appear once the
// round reached result.
type State struct {
	MatchID     string      `json:"match_id"`
	P1          string      `json:"p1"`
	P2          string      `json:"p2"`
	Subject     string      `json:"subject"`
	Level       string      `json:"level"`
	P1Score     int         `json:"p1_score"`
	P2Score     int         `json:"p2_score"`
	RoundCount  int         `json:"round_count"`
	TotalRounds int         `json:"total_rounds"`
	Ended       bool        `json:"ended"`
	WinnerID    string      `json:"winner_id,omitempty"`
	EndReason   string      `json:"end_reason,omitempty"`
	Round       *RoundState `json:"round,omitempty"`
}

type RoundState struct {
	RoundID         string               `json:"round_id"`
	RoundIndex      int                  `json:"round_index"`
	Phase           string               `json:"phase"`
	PhaseSeq        int64                `json:"phase_seq"`
	EndsAt          time.Time            `json:"ends_at"`
	Completed       bool                 `json:"completed"`
	QuestionID      string               `json:"question_id"`
	Stem            string               `json:"stem"`
	Steps           []realtime.StepView  `json:"steps"`
	CorrectOptionID string               `json:"correct_option_id,omitempty"`
	Results         []store.PlayerResult `json:"results,omitempty"`
}

func BuildState(m store.Match, r *store.MatchRound) State {
	st := State{
		MatchID:     m.ID,
		P1:          m.P1,
		P2:          m.P2,
		Subject:     m.Subject,
		Level:       m.Level,
		P1Score:     m.P1Score,
		P2Score:     m.P2Score,
		RoundCount:  m.RoundCount,
		TotalRounds: m.TotalRounds,
		Ended:       m.Ended(),
		WinnerID:    m.WinnerID,
		EndReason:   m.EndReason,
	}
	if r == nil {
		return st
	}
	rs := &RoundState{
		RoundID:    r.ID,
		RoundIndex: r.RoundIndex,
		Phase:      r.Phase,
		PhaseSeq:   r.PhaseSeq,
		EndsAt:     r.EndsAt,
		Completed:  r.Closed(),
		QuestionID: r.QuestionID,
		Stem:       r.Question.Stem,
	}
	revealed := r.Phase != store.PhaseThinking
	for _, s := range r.Question.Steps {
		sv := realtime.StepView{ID: s.ID, Prompt: s.Prompt}
		if revealed {
			sv.Options = optionViews(s.Options)
		}
		rs.Steps = append(rs.Steps, sv)
	}
	if r.Phase == store.PhaseResult {
		rs.CorrectOptionID = r.Question.CorrectOptionID()
		rs.Results = r.Results
	}
	st.Round = rs
	return st
}
