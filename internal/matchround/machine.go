package matchround

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizduel/internal/config"
	"quizduel/internal/questions"
	"quizduel/internal/store"

	"github.com/rs/zerolog/log"
)

// Match end reasons.
const (
	ReasonRoundsComplete      = "rounds_complete"
	ReasonTargetScore         = "target_score"
	ReasonQuestionUnavailable = "question_unavailable"
	ReasonForfeit             = "forfeit"
	ReasonDisconnect          = "disconnect"
)

// Rules are the per-match timing and scoring parameters.
type Rules struct {
	ThinkingDuration time.Duration
	ChoosingDuration time.Duration
	ResultDuration   time.Duration
	TotalRounds      int
	TargetScore      int
	PointsPerStep    int
}

func RulesFromConfig(cfg config.MatchConfig) Rules {
	return Rules{
		ThinkingDuration: cfg.ThinkingDuration,
		ChoosingDuration: cfg.ChoosingDuration,
		ResultDuration:   cfg.ResultDuration,
		TotalRounds:      cfg.TotalRounds,
		TargetScore:      cfg.TargetScore,
		PointsPerStep:    cfg.PointsPerStep,
	}
}

// planner computes the transition for a fenced round. It runs inside the
// store transaction and must not publish anything.
type planner struct {
	ctx    context.Context
	rules  Rules
	source questions.Source
	now    time.Time
}

func (p planner) plan(snap store.RoundSnapshot) (store.RoundTransition, error) {
	m, r := snap.Match, snap.Round
	tr := store.RoundTransition{P1Score: m.P1Score, P2Score: m.P2Score}
	switch r.Phase {
	case store.PhaseThinking:
		if !r.Question.HasOptions() {
			log.Warn().Str("match_id", m.ID).Str("round_id", r.ID).Str("question_id", r.QuestionID).Msg("question has no usable options, skipping to result")
			return p.grade(snap, tr), nil
		}
		started := p.now
		tr.Phase = store.PhaseChoosing
		tr.EndsAt = p.now.Add(p.rules.ChoosingDuration)
		tr.ChoosingStartedAt = &started
		return tr, nil
	case store.PhaseChoosing:
		return p.grade(snap, tr), nil
	case store.PhaseResult:
		tr.Phase = store.PhaseResult
		tr.EndsAt = r.EndsAt
		tr.Complete = true
		if reason := p.finished(m); reason != "" {
			end := finishByScore(m, reason, snap.Ratings)
			tr.End = &end
			return tr, nil
		}
		q, err := p.source.Pick(p.ctx, m.Subject, m.Level, snap.UsedQuestionIDs)
		if err != nil {
			if !errors.Is(err, questions.ErrNoQuestion) {
				log.Error().Err(err).Str("match_id", m.ID).Msg("pick next question failed")
			}
			end := finishByScore(m, ReasonQuestionUnavailable, snap.Ratings)
			tr.End = &end
			return tr, nil
		}
		tr.NextRound = &store.MatchRound{
			ID:         store.NewID(),
			MatchID:    m.ID,
			RoundIndex: r.RoundIndex + 1,
			Phase:      store.PhaseThinking,
			PhaseSeq:   0,
			EndsAt:     p.now.Add(p.rules.ThinkingDuration),
			QuestionID: q.ID,
			Question:   q,
			CreatedAt:  p.now,
		}
		return tr, nil
	default:
		return tr, fmt.Errorf("unknown phase %q", r.Phase)
	}
}

// finished returns the end reason once the match has played its last round
// or a seat reached the target score.
func (p planner) finished(m store.Match) string {
	total := m.TotalRounds
	if total <= 0 {
		total = p.rules.TotalRounds
	}
	target := m.TargetScore
	if target <= 0 {
		target = p.rules.TargetScore
	}
	if target > 0 && (m.P1Score >= target || m.P2Score >= target) {
		return ReasonTargetScore
	}
	if m.RoundCount >= total {
		return ReasonRoundsComplete
	}
	return ""
}

// grade moves the round to result. Unanswered steps and steps that fail to
// grade count as incorrect.
func (p planner) grade(snap store.RoundSnapshot, tr store.RoundTransition) store.RoundTransition {
	m, r := snap.Match, snap.Round
	byPlayer := map[string]map[string]store.RoundAnswer{}
	for _, a := range snap.Answers {
		if byPlayer[a.PlayerID] == nil {
			byPlayer[a.PlayerID] = map[string]store.RoundAnswer{}
		}
		byPlayer[a.PlayerID][a.StepID] = a
	}

	results := make([]store.PlayerResult, 0, 2)
	deltas := map[string]int{}
	for _, playerID := range m.Participants() {
		res := store.PlayerResult{PlayerID: playerID, Steps: make([]store.StepResult, 0, len(r.Question.Steps))}
		var last time.Time
		for _, step := range r.Question.Steps {
			sr := store.StepResult{StepID: step.ID}
			if a, ok := byPlayer[playerID][step.ID]; ok {
				idx := a.OptionIndex
				sr.OptionIndex = &idx
				correct, err := p.source.Grade(r.Question, step.ID, a.OptionIndex)
				if err != nil {
					log.Warn().Err(err).Str("match_id", m.ID).Str("round_id", r.ID).Str("step_id", step.ID).Msg("grading failed, scoring step incorrect")
				}
				sr.Correct = err == nil && correct
				if a.SubmittedAt.After(last) {
					last = a.SubmittedAt
				}
			}
			if sr.Correct {
				res.CorrectSteps++
			}
			res.Steps = append(res.Steps, sr)
		}
		res.Correct = len(r.Question.Steps) > 0 && res.CorrectSteps == len(r.Question.Steps)
		if r.ChoosingStartedAt != nil && !last.IsZero() {
			res.TimeTakenMS = max(last.Sub(*r.ChoosingStartedAt).Milliseconds(), 0)
		}
		res.ScoreDelta = res.CorrectSteps * p.rules.PointsPerStep
		deltas[playerID] = res.ScoreDelta
		results = append(results, res)
	}

	tr.Phase = store.PhaseResult
	tr.EndsAt = p.now.Add(p.rules.ResultDuration)
	tr.Results = results
	tr.P1Delta = deltas[m.P1]
	tr.P2Delta = deltas[m.P2]
	tr.P1Score = m.P1Score + tr.P1Delta
	tr.P2Score = m.P2Score + tr.P2Delta
	return tr
}

// finishByScore ends a match on points. Ties and self-play have no winner.
func finishByScore(m store.Match, reason string, ratings map[string]int) store.MatchEnd {
	winner := ""
	if !m.SelfPlay() {
		switch {
		case m.P1Score > m.P2Score:
			winner = m.P1
		case m.P2Score > m.P1Score:
			winner = m.P2
		}
	}
	return store.MatchEnd{WinnerID: winner, Reason: reason, RatingChanges: EloChanges(m, winner, ratings)}
}

// finishByForfeit awards the match to the other seat.
func finishByForfeit(m store.Match, loserID, reason string, ratings map[string]int) store.MatchEnd {
	winner := ""
	if !m.SelfPlay() {
		winner = m.P1
		if loserID == m.P1 {
			winner = m.P2
		}
	}
	return store.MatchEnd{WinnerID: winner, Reason: reason, RatingChanges: EloChanges(m, winner, ratings)}
}
