package matchround

import (
	"time"

	"quizduel/internal/questions"
	"quizduel/internal/realtime"
	"quizduel/internal/store"
)

func stemView(q questions.Question) realtime.QuestionView {
	steps := make([]realtime.StepView, 0, len(q.Steps))
	for _, s := range q.Steps {
		steps = append(steps, realtime.StepView{ID: s.ID, Prompt: s.Prompt})
	}
	return realtime.QuestionView{ID: q.ID, Stem: q.Stem, Steps: steps}
}

func optionViews(opts []questions.Option) []realtime.OptionView {
	out := make([]realtime.OptionView, 0, len(opts))
	for _, o := range opts {
		out = append(out, realtime.OptionView{ID: o.ID, Text: o.Text})
	}
	return out
}

func roundStartEvent(m store.Match, r store.MatchRound, thinkingEndsAt time.Time) realtime.RoundStart {
	return realtime.RoundStart{
		Type:           realtime.EventRoundStart,
		MatchID:        m.ID,
		RoundID:        r.ID,
		RoundIndex:     r.RoundIndex,
		TotalRounds:    m.TotalRounds,
		PhaseSeq:       r.PhaseSeq,
		Question:       stemView(r.Question),
		ThinkingEndsAt: thinkingEndsAt,
	}
}

// phaseChangeEvent reveals the options of a round that entered choosing.
func phaseChangeEvent(m store.Match, r store.MatchRound) realtime.PhaseChange {
	ev := realtime.PhaseChange{
		Type:       realtime.EventPhaseChange,
		MatchID:    m.ID,
		RoundID:    r.ID,
		RoundIndex: r.RoundIndex,
		Phase:      r.Phase,
		PhaseSeq:   r.PhaseSeq,
	}
	if r.Phase != store.PhaseChoosing {
		return ev
	}
	endsAt := r.EndsAt
	ev.ChoosingEndsAt = &endsAt
	steps := make([]realtime.StepView, 0, len(r.Question.Steps))
	for _, s := range r.Question.Steps {
		steps = append(steps, realtime.StepView{ID: s.ID, Prompt: s.Prompt, Options: optionViews(s.Options)})
	}
	ev.Steps = steps
	if len(steps) > 0 {
		ev.Options = steps[0].Options
	}
	current, total := 0, len(steps)
	ev.CurrentStepIndex = &current
	ev.TotalSteps = &total
	return ev
}

func roundResultEvent(m store.Match, r store.MatchRound) realtime.RoundResult {
	results := make([]realtime.PlayerResult, 0, len(r.Results))
	for _, pr := range r.Results {
		results = append(results, realtime.PlayerResult{
			PlayerID:     pr.PlayerID,
			Correct:      pr.Correct,
			CorrectSteps: pr.CorrectSteps,
			TimeTakenMS:  pr.TimeTakenMS,
			ScoreDelta:   pr.ScoreDelta,
		})
	}
	return realtime.RoundResult{
		Type:            realtime.EventRoundResult,
		MatchID:         m.ID,
		RoundID:         r.ID,
		RoundIndex:      r.RoundIndex,
		PhaseSeq:        r.PhaseSeq,
		QuestionID:      r.QuestionID,
		CorrectOptionID: r.Question.CorrectOptionID(),
		PlayerResults:   results,
		TugOfWar:        r.P1Delta - r.P2Delta,
		P1Score:         m.P1Score,
		P2Score:         m.P2Score,
		NextAt:          r.EndsAt,
	}
}

func matchEndEvent(m store.Match, ratingChanges map[string]int) realtime.MatchEnd {
	ev := realtime.MatchEnd{
		Type:    realtime.EventMatchEnd,
		MatchID: m.ID,
		Summary: realtime.MatchSummary{
			P1:           m.P1,
			P2:           m.P2,
			P1Score:      m.P1Score,
			P2Score:      m.P2Score,
			RoundsPlayed: m.RoundCount,
			Reason:       m.EndReason,
		},
		MMRChanges: ratingChanges,
	}
	if m.WinnerID != "" {
		winner := m.WinnerID
		ev.WinnerPlayerID = &winner
	}
	return ev
}
