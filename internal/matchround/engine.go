package matchround

import (
	"context"
	"errors"
	"sync"
	"time"

	"quizduel/internal/questions"
	"quizduel/internal/realtime"
	"quizduel/internal/store"

	"github.com/rs/zerolog/log"
)

// Advance triggers, logged with each transition.
const (
	TriggerTimer   = "timer"
	TriggerReady   = "ready"
	TriggerAnswers = "answers"
	TriggerClient  = "client"
	TriggerSweep   = "sweep"
)

const (
	defaultTopicLinger  = time.Minute
	overdueBatch        = 100
	timerAdvanceTimeout = 10 * time.Second
	archiveTimeout      = 30 * time.Second
)

// Archiver stores a finished match somewhere outside the primary store.
type Archiver interface {
	ArchiveMatch(ctx context.Context, m store.Match, rounds []store.MatchRound) error
}

type AdvanceInput struct {
	MatchID          string
	RoundID          string
	ExpectedPhaseSeq int64
	ClientSeenAt     *time.Time
	Trigger          string
}

type AnswerInput struct {
	MatchID     string
	RoundID     string
	PlayerID    string
	StepID      string
	OptionIndex int
}

type roundTimer struct {
	t   *time.Timer
	seq int64
}

type readyKey struct {
	roundID string
	seq     int64
}

// Engine drives match rounds. Every state change goes through the store's
// fenced AdvanceRound; the engine only decides when to try and what to
// publish after a transition commits.
type Engine struct {
	repo     store.Repository
	source   questions.Source
	rules    Rules
	hub      *realtime.Hub
	archiver Archiver
	now      func() time.Time
	linger   time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	stopped bool
	timers  map[string]roundTimer
	ready   map[readyKey]map[string]struct{}
}

type Option func(*Engine)

func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archiver = a } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithTopicLinger sets how long a finished match topic stays open.
func WithTopicLinger(d time.Duration) Option { return func(e *Engine) { e.linger = d } }

func NewEngine(repo store.Repository, source questions.Source, rules Rules, hub *realtime.Hub, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		source:  source,
		rules:   rules,
		hub:     hub,
		now:     time.Now,
		linger:  defaultTopicLinger,
		baseCtx: context.Background(),
		timers:  map[string]roundTimer{},
		ready:   map[readyKey]map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start binds timer callbacks to ctx and stops every timer when it ends.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()
	go func() {
		<-ctx.Done()
		e.Stop()
	}()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, rt := range e.timers {
		rt.t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) Rules() Rules { return e.rules }

// SeedMatch picks the first question of a match being created from offer.
func (e *Engine) SeedMatch(ctx context.Context, offer store.MatchOffer) (store.MatchSeed, error) {
	q, err := e.source.Pick(ctx, offer.Subject, offer.Level, nil)
	if err != nil {
		return store.MatchSeed{}, err
	}
	return store.MatchSeed{
		TotalRounds: e.rules.TotalRounds,
		TargetScore: e.rules.TargetScore,
		Question:    q,
		EndsAt:      e.now().Add(e.rules.ThinkingDuration),
	}, nil
}

// MatchStarted announces the first round and arms its deadline.
func (e *Engine) MatchStarted(ctx context.Context, m store.Match, r store.MatchRound) {
	e.publish(m.ID, realtime.OrderKey(r.RoundIndex, r.PhaseSeq), roundStartEvent(m, r, r.EndsAt))
	e.schedule(m.ID, r)
	log.Info().Str("match_id", m.ID).Str("round_id", r.ID).Str("p1", m.P1).Str("p2", m.P2).Msg("match started")
}

// AdvancePhase applies one transition if the round is still at the expected
// phase_seq. A caller that lost the race gets store.ErrPhaseConflict (or
// store.ErrRoundClosed) together with the current state. Client triggers that
// arrive before the round is due get ErrNotDue the same way.
func (e *Engine) AdvancePhase(ctx context.Context, in AdvanceInput) (*store.AdvanceOutcome, error) {
	now := e.now()
	if in.Trigger == TriggerClient {
		if out, err := e.checkDue(ctx, in, now); err != nil {
			return out, err
		}
	}
	p := planner{ctx: ctx, rules: e.rules, source: e.source, now: now}
	out, err := e.repo.AdvanceRound(ctx, store.AdvanceParams{
		MatchID:     in.MatchID,
		RoundID:     in.RoundID,
		ExpectedSeq: in.ExpectedPhaseSeq,
		Now:         now,
	}, p.plan)
	if err != nil {
		if isFenceLoss(err) {
			metricAdvanceConflicts.Add(1)
			log.Debug().Str("match_id", in.MatchID).Str("round_id", in.RoundID).Int64("phase_seq", in.ExpectedPhaseSeq).Str("trigger", in.Trigger).Str("reason", err.Error()).Msg("advance lost fence")
		}
		return out, err
	}
	metricAdvanceTotal.Add(1)
	ev := log.Info().Str("match_id", in.MatchID).Str("round_id", in.RoundID).Str("phase", out.Round.Phase).Int64("phase_seq", out.Round.PhaseSeq).Bool("completed", out.Round.Closed()).Str("trigger", in.Trigger)
	if in.ClientSeenAt != nil {
		ev = ev.Dur("client_lag", now.Sub(*in.ClientSeenAt))
	}
	ev.Msg("round advanced")
	e.afterAdvance(out)
	return out, nil
}

// checkDue refuses a client advance while the round is still at the expected
// phase_seq but neither its deadline has passed nor, in thinking, every seat
// has signalled ready. Stale or closed rounds fall through to the fence.
func (e *Engine) checkDue(ctx context.Context, in AdvanceInput, now time.Time) (*store.AdvanceOutcome, error) {
	m, err := e.repo.GetMatch(ctx, in.MatchID)
	if err != nil {
		return nil, err
	}
	r, err := e.repo.GetRound(ctx, in.RoundID)
	if err != nil {
		return nil, err
	}
	if r.MatchID != m.ID || r.Closed() || r.PhaseSeq != in.ExpectedPhaseSeq || m.Ended() {
		return nil, nil
	}
	if !now.Before(r.EndsAt) {
		return nil, nil
	}
	if r.Phase == store.PhaseThinking && e.readyCount(r.ID, r.PhaseSeq) >= len(m.Participants()) {
		return nil, nil
	}
	metricAdvanceConflicts.Add(1)
	log.Debug().Str("match_id", in.MatchID).Str("round_id", in.RoundID).Int64("phase_seq", in.ExpectedPhaseSeq).Dur("remaining", r.EndsAt.Sub(now)).Msg("client advance not due")
	return &store.AdvanceOutcome{Match: *m, Round: *r}, ErrNotDue
}

func (e *Engine) afterAdvance(out *store.AdvanceOutcome) {
	m, r := out.Match, out.Round
	e.clearReady(r.ID)
	if !r.Closed() {
		switch r.Phase {
		case store.PhaseChoosing:
			e.publish(m.ID, realtime.OrderKey(r.RoundIndex, r.PhaseSeq), phaseChangeEvent(m, r))
		case store.PhaseResult:
			e.publish(m.ID, realtime.OrderKey(r.RoundIndex, r.PhaseSeq), roundResultEvent(m, r))
		}
		e.schedule(m.ID, r)
		return
	}
	e.cancelTimer(r.ID)
	if out.NextRound != nil {
		next := *out.NextRound
		e.publish(m.ID, realtime.OrderKey(next.RoundIndex, next.PhaseSeq), roundStartEvent(m, next, next.EndsAt))
		e.schedule(m.ID, next)
	}
	if out.End != nil {
		e.matchEnded(m, out.End.RatingChanges)
	}
}

func (e *Engine) matchEnded(m store.Match, ratingChanges map[string]int) {
	metricMatchesEnded.Add(1)
	ev := matchEndEvent(m, ratingChanges)
	e.publish(m.ID, realtime.FinalKey, ev)
	for _, id := range m.Participants() {
		if _, _, err := e.hub.PublishEvent(realtime.UserTopic(id), realtime.Unordered, ev); err != nil {
			log.Error().Err(err).Str("match_id", m.ID).Msg("publish lobby match end failed")
		}
	}
	log.Info().Str("match_id", m.ID).Str("winner_id", m.WinnerID).Str("reason", m.EndReason).Int("p1_score", m.P1Score).Int("p2_score", m.P2Score).Msg("match ended")

	topic := realtime.MatchTopic(m.ID)
	time.AfterFunc(e.linger, func() { e.hub.Close(topic) })
	if e.archiver != nil {
		go e.archive(m)
	}
}

func (e *Engine) archive(m store.Match) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	rounds, err := e.repo.ListMatchRounds(ctx, m.ID)
	if err == nil {
		err = e.archiver.ArchiveMatch(ctx, m, rounds)
	}
	if err != nil {
		metricArchiveErrors.Add(1)
		log.Error().Err(err).Str("match_id", m.ID).Msg("archive match failed")
	}
}

func (e *Engine) publish(matchID string, key int64, ev realtime.Event) {
	if _, ok, err := e.hub.PublishEvent(realtime.MatchTopic(matchID), key, ev); err != nil {
		log.Error().Err(err).Str("match_id", matchID).Str("event", ev.EventType()).Msg("publish failed")
	} else if !ok {
		log.Debug().Str("match_id", matchID).Str("event", ev.EventType()).Msg("stale publication dropped")
	}
}

func (e *Engine) schedule(matchID string, r store.MatchRound) {
	delay := max(r.EndsAt.Sub(e.now()), 0)
	in := AdvanceInput{MatchID: matchID, RoundID: r.ID, ExpectedPhaseSeq: r.PhaseSeq, Trigger: TriggerTimer}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if rt, ok := e.timers[r.ID]; ok {
		rt.t.Stop()
	}
	e.timers[r.ID] = roundTimer{t: time.AfterFunc(delay, func() { e.fire(in) }), seq: r.PhaseSeq}
}

func (e *Engine) cancelTimer(roundID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rt, ok := e.timers[roundID]; ok {
		rt.t.Stop()
		delete(e.timers, roundID)
	}
}

// dropTimer forgets a fired timer unless a later phase already re-armed the
// round.
func (e *Engine) dropTimer(roundID string, seq int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rt, ok := e.timers[roundID]; ok && rt.seq == seq {
		delete(e.timers, roundID)
	}
}

func (e *Engine) fire(in AdvanceInput) {
	e.mu.Lock()
	base := e.baseCtx
	e.mu.Unlock()
	if base.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, timerAdvanceTimeout)
	defer cancel()
	_, err := e.AdvancePhase(ctx, in)
	if isFenceLoss(err) {
		e.dropTimer(in.RoundID, in.ExpectedPhaseSeq)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("match_id", in.MatchID).Str("round_id", in.RoundID).Int64("phase_seq", in.ExpectedPhaseSeq).Msg("timer advance failed")
	}
}

// PendingTimers reports how many round deadlines are armed.
func (e *Engine) PendingTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// AdvanceOverdue pushes every round whose deadline passed. It backs up the
// in-process timers and re-arms rounds after a restart.
func (e *Engine) AdvanceOverdue(ctx context.Context) (int, error) {
	rounds, err := e.repo.ListOverdueRounds(ctx, e.now(), overdueBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rounds {
		_, err := e.AdvancePhase(ctx, AdvanceInput{MatchID: r.MatchID, RoundID: r.ID, ExpectedPhaseSeq: r.PhaseSeq, Trigger: TriggerSweep})
		switch {
		case err == nil:
			n++
		case isFenceLoss(err):
		default:
			log.Error().Err(err).Str("match_id", r.MatchID).Str("round_id", r.ID).Msg("overdue advance failed")
		}
	}
	return n, nil
}

// SubmitAnswer records one answer for a step. A repeated answer returns the
// first one with duplicate set and no error.
func (e *Engine) SubmitAnswer(ctx context.Context, in AnswerInput) (*store.RoundAnswer, bool, error) {
	r, err := e.repo.GetRound(ctx, in.RoundID)
	if err != nil {
		return nil, false, err
	}
	if r.MatchID != in.MatchID {
		return nil, false, store.ErrNotFound
	}
	step, ok := r.Question.Step(in.StepID)
	if !ok || in.OptionIndex < 0 || in.OptionIndex >= len(step.Options) {
		return nil, false, ErrInvalidAnswer
	}
	a, err := e.repo.InsertRoundAnswer(ctx, store.AnswerParams{
		MatchID:     in.MatchID,
		RoundID:     in.RoundID,
		PlayerID:    in.PlayerID,
		StepID:      in.StepID,
		OptionIndex: in.OptionIndex,
		Now:         e.now(),
	})
	if errors.Is(err, store.ErrDuplicateAnswer) {
		metricAnswerDuplicates.Add(1)
		return a, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	metricAnswersTotal.Add(1)
	log.Debug().Str("match_id", in.MatchID).Str("round_id", in.RoundID).Str("player_id", in.PlayerID).Str("step_id", in.StepID).Msg("answer recorded")
	e.advanceIfAllAnswered(ctx, *r)
	return a, false, nil
}

// advanceIfAllAnswered ends choosing early once every participant answered
// every step.
func (e *Engine) advanceIfAllAnswered(ctx context.Context, r store.MatchRound) {
	m, err := e.repo.GetMatch(ctx, r.MatchID)
	if err != nil {
		return
	}
	answers, err := e.repo.ListRoundAnswers(ctx, r.ID)
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, a := range answers {
		counts[a.PlayerID]++
	}
	for _, id := range m.Participants() {
		if counts[id] < len(r.Question.Steps) {
			return
		}
	}
	_, err = e.AdvancePhase(ctx, AdvanceInput{MatchID: r.MatchID, RoundID: r.ID, ExpectedPhaseSeq: r.PhaseSeq, Trigger: TriggerAnswers})
	if err != nil && !isFenceLoss(err) {
		log.Error().Err(err).Str("match_id", r.MatchID).Str("round_id", r.ID).Msg("advance after answers failed")
	}
}

// MarkReady records that playerID saw the stem. Once every participant is
// ready the round moves to choosing without waiting for the deadline.
func (e *Engine) MarkReady(ctx context.Context, matchID, playerID string) error {
	m, err := e.activeMatchFor(ctx, matchID, playerID)
	if err != nil {
		return err
	}
	r, err := e.repo.GetRound(ctx, m.CurrentRoundID)
	if err != nil {
		return err
	}
	if r.Phase != store.PhaseThinking || r.Closed() {
		return nil
	}
	k := readyKey{roundID: r.ID, seq: r.PhaseSeq}
	e.mu.Lock()
	set := e.ready[k]
	if set == nil {
		set = map[string]struct{}{}
		e.ready[k] = set
	}
	set[playerID] = struct{}{}
	n := len(set)
	e.mu.Unlock()
	if n < len(m.Participants()) {
		return nil
	}
	_, err = e.AdvancePhase(ctx, AdvanceInput{MatchID: m.ID, RoundID: r.ID, ExpectedPhaseSeq: r.PhaseSeq, Trigger: TriggerReady})
	if isFenceLoss(err) {
		return nil
	}
	return err
}

func (e *Engine) readyCount(roundID string, seq int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ready[readyKey{roundID: roundID, seq: seq}])
}

func (e *Engine) clearReady(roundID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.ready {
		if k.roundID == roundID {
			delete(e.ready, k)
		}
	}
}

// Forfeit ends the match in favour of the other seat.
func (e *Engine) Forfeit(ctx context.Context, matchID, playerID, reason string) (*store.ForfeitOutcome, error) {
	if reason == "" {
		reason = ReasonForfeit
	}
	out, err := e.repo.ForfeitMatch(ctx, store.ForfeitParams{
		MatchID:  matchID,
		PlayerID: playerID,
		Reason:   reason,
		Now:      e.now(),
	}, func(m store.Match, ratings map[string]int) store.MatchEnd {
		return finishByForfeit(m, playerID, reason, ratings)
	})
	if err != nil {
		return nil, err
	}
	if out.Round != nil {
		e.cancelTimer(out.Round.ID)
		e.clearReady(out.Round.ID)
	}
	log.Info().Str("match_id", matchID).Str("player_id", playerID).Str("reason", reason).Msg("match forfeited")
	e.matchEnded(out.Match, out.End.RatingChanges)
	return out, nil
}

func (e *Engine) ForfeitDisconnected(ctx context.Context, matchID, playerID string) error {
	_, err := e.Forfeit(ctx, matchID, playerID, ReasonDisconnect)
	return err
}

// State returns the participant's view of the match.
func (e *Engine) State(ctx context.Context, matchID, playerID string) (*State, error) {
	m, err := e.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(playerID) {
		return nil, store.ErrNotAParticipant
	}
	var r *store.MatchRound
	if m.CurrentRoundID != "" {
		r, err = e.repo.GetRound(ctx, m.CurrentRoundID)
		if err != nil {
			return nil, err
		}
	}
	st := BuildState(*m, r)
	return &st, nil
}

// StateOf builds a view from an advance or forfeit outcome without another
// read.
func StateOf(m store.Match, r store.MatchRound) State {
	return BuildState(m, &r)
}

// Resync rebuilds the events a reconnecting client needs. Only the last
// message carries an order key so newer live events still get through.
func (e *Engine) Resync(ctx context.Context, matchID, playerID string) ([]realtime.Message, error) {
	m, err := e.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(playerID) {
		return nil, store.ErrNotAParticipant
	}
	if m.Ended() {
		msg, err := realtime.Encode(realtime.FinalKey, matchEndEvent(*m, nil))
		if err != nil {
			return nil, err
		}
		return []realtime.Message{msg}, nil
	}
	r, err := e.repo.GetRound(ctx, m.CurrentRoundID)
	if err != nil {
		return nil, err
	}
	return snapshotMessages(*m, *r)
}

func snapshotMessages(m store.Match, r store.MatchRound) ([]realtime.Message, error) {
	key := realtime.OrderKey(r.RoundIndex, r.PhaseSeq)
	thinkingEndsAt := r.EndsAt
	if r.ChoosingStartedAt != nil {
		thinkingEndsAt = *r.ChoosingStartedAt
	}
	start := roundStartEvent(m, r, thinkingEndsAt)

	var events []realtime.Event
	switch r.Phase {
	case store.PhaseChoosing:
		events = []realtime.Event{start, phaseChangeEvent(m, r)}
	case store.PhaseResult:
		events = []realtime.Event{start, roundResultEvent(m, r)}
	default:
		events = []realtime.Event{start}
	}
	out := make([]realtime.Message, 0, len(events))
	for i, ev := range events {
		k := realtime.Unordered
		if i == len(events)-1 {
			k = key
		}
		msg, err := realtime.Encode(k, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// HandleAnswer serves answer_submit from the gateway.
func (e *Engine) HandleAnswer(ctx context.Context, matchID, playerID string, msg realtime.AnswerSubmit) (realtime.Event, error) {
	m, err := e.activeMatchFor(ctx, matchID, playerID)
	if err != nil {
		return nil, err
	}
	r, err := e.repo.GetRound(ctx, m.CurrentRoundID)
	if err != nil {
		return nil, err
	}
	if msg.QuestionID != "" && msg.QuestionID != r.QuestionID {
		return nil, ErrStaleQuestion
	}
	a, dup, err := e.SubmitAnswer(ctx, AnswerInput{
		MatchID:     matchID,
		RoundID:     r.ID,
		PlayerID:    playerID,
		StepID:      msg.StepID,
		OptionIndex: msg.Answer,
	})
	if err != nil {
		return nil, err
	}
	return realtime.AnswerAck{
		Type:      realtime.EventAnswerAck,
		MatchID:   matchID,
		RoundID:   r.ID,
		StepID:    a.StepID,
		Answer:    a.OptionIndex,
		Duplicate: dup,
	}, nil
}

func (e *Engine) HandleReady(ctx context.Context, matchID, playerID string) error {
	return e.MarkReady(ctx, matchID, playerID)
}

func (e *Engine) MatchActive(ctx context.Context, matchID string) bool {
	m, err := e.repo.GetMatch(ctx, matchID)
	return err == nil && !m.Ended()
}

func (e *Engine) activeMatchFor(ctx context.Context, matchID, playerID string) (*store.Match, error) {
	m, err := e.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(playerID) {
		return nil, store.ErrNotAParticipant
	}
	if m.Ended() {
		return nil, store.ErrMatchEnded
	}
	return m, nil
}

func isFenceLoss(err error) bool {
	return errors.Is(err, store.ErrPhaseConflict) || errors.Is(err, store.ErrRoundClosed)
}
