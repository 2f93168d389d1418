package duel

import (
	"context"
	"errors"
	"strings"

	"quizduel/internal/matchmaking"
	"quizduel/internal/matchround"
	"quizduel/internal/store"
	"quizduel/internal/sweeper"
)

const maxNotifications = 200

// Service is the player-facing surface shared by the HTTP API and the MCP
// tools. The caller's player id always comes from authentication, never
// from the request body.
type Service struct {
	repo       store.Repository
	queue      *matchmaking.Queue
	negotiator *matchmaking.Negotiator
	engine     *matchround.Engine
	sweeper    *sweeper.Sweeper
}

func NewService(repo store.Repository, queue *matchmaking.Queue, negotiator *matchmaking.Negotiator, engine *matchround.Engine, sw *sweeper.Sweeper) *Service {
	return &Service{repo: repo, queue: queue, negotiator: negotiator, engine: engine, sweeper: sw}
}

// JoinQueue enqueues the caller and immediately tries to pair the bucket.
// When that produces an offer for the caller it is returned inline.
func (s *Service) JoinQueue(ctx context.Context, playerID, subject, level string) (*QueueResponse, error) {
	e, err := s.queue.Join(ctx, playerID, subject, level)
	if err != nil {
		return nil, err
	}
	resp := queueResponse(*e)
	if e.Status != store.QueueWaiting {
		if o, err := s.negotiator.PendingOffer(ctx, playerID); err == nil {
			resp.Offer = offerView(*o)
		}
		return resp, nil
	}
	offer, err := s.negotiator.TryPair(ctx, e.Subject, e.Level)
	if err != nil {
		return nil, err
	}
	if offer != nil && offer.IsParticipant(playerID) {
		resp.Status = store.QueueMatched
		resp.Offer = offerView(*offer)
	}
	return resp, nil
}

func (s *Service) Heartbeat(ctx context.Context, playerID string) (*QueueResponse, error) {
	ok, err := s.queue.Heartbeat(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	e, err := s.queue.Status(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return queueResponse(*e), nil
}

func (s *Service) LeaveQueue(ctx context.Context, playerID string) (bool, error) {
	return s.queue.Leave(ctx, playerID)
}

func (s *Service) PendingOffer(ctx context.Context, playerID string) (*OfferView, error) {
	o, err := s.negotiator.PendingOffer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return offerView(*o), nil
}

func (s *Service) AcceptOffer(ctx context.Context, playerID, offerID string) (*AcceptResponse, error) {
	offerID = strings.TrimSpace(offerID)
	if offerID == "" {
		return nil, ErrInvalidRequest
	}
	res, err := s.negotiator.Accept(ctx, offerID, playerID)
	if err != nil {
		return nil, err
	}
	resp := &AcceptResponse{Status: res.Status, OfferID: res.Offer.ID}
	if res.Match != nil {
		resp.MatchID = res.Match.ID
	}
	if res.Round != nil {
		resp.RoundID = res.Round.ID
	}
	return resp, nil
}

func (s *Service) StartSelfPlay(ctx context.Context, playerID, subject, level string) (*OfferView, error) {
	o, err := s.negotiator.StartSelfPlay(ctx, playerID, subject, level)
	if err != nil {
		return nil, err
	}
	return offerView(*o), nil
}

func (s *Service) MatchState(ctx context.Context, playerID, matchID string) (*matchround.State, error) {
	return s.engine.State(ctx, matchID, playerID)
}

// AdvancePhase runs one fenced transition on behalf of a participant.
func (s *Service) AdvancePhase(ctx context.Context, playerID string, in AdvanceInput) (*AdvanceResponse, error) {
	if in.MatchID == "" || in.RoundID == "" || in.ExpectedPhaseSeq < 0 {
		return nil, ErrInvalidRequest
	}
	m, err := s.repo.GetMatch(ctx, in.MatchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(playerID) {
		return nil, store.ErrNotAParticipant
	}
	out, err := s.engine.AdvancePhase(ctx, matchround.AdvanceInput{
		MatchID:          in.MatchID,
		RoundID:          in.RoundID,
		ExpectedPhaseSeq: in.ExpectedPhaseSeq,
		ClientSeenAt:     in.ClientSeenAt,
		Trigger:          matchround.TriggerClient,
	})
	if err != nil {
		if out != nil && (errors.Is(err, store.ErrPhaseConflict) || errors.Is(err, store.ErrRoundClosed) || errors.Is(err, matchround.ErrNotDue)) {
			return nil, &ConflictError{Err: err, State: matchround.StateOf(out.Match, out.Round)}
		}
		return nil, err
	}
	resp := &AdvanceResponse{
		MatchID:    out.Match.ID,
		RoundID:    out.Round.ID,
		Phase:      out.Round.Phase,
		PhaseSeq:   out.Round.PhaseSeq,
		EndsAt:     out.Round.EndsAt,
		Completed:  out.Round.Closed(),
		MatchEnded: out.Match.Ended(),
		EndReason:  out.Match.EndReason,
		WinnerID:   out.Match.WinnerID,
	}
	if nr := out.NextRound; nr != nil {
		resp.NextRound = &NextRoundView{RoundID: nr.ID, RoundIndex: nr.RoundIndex, Phase: nr.Phase, PhaseSeq: nr.PhaseSeq, EndsAt: nr.EndsAt}
	}
	return resp, nil
}

func (s *Service) SubmitAnswer(ctx context.Context, playerID string, in AnswerInput) (*AnswerResponse, error) {
	if in.MatchID == "" || in.RoundID == "" || in.StepID == "" || in.OptionIndex == nil {
		return nil, ErrInvalidRequest
	}
	a, dup, err := s.engine.SubmitAnswer(ctx, matchround.AnswerInput{
		MatchID:     in.MatchID,
		RoundID:     in.RoundID,
		PlayerID:    playerID,
		StepID:      in.StepID,
		OptionIndex: *in.OptionIndex,
	})
	if err != nil {
		return nil, err
	}
	return &AnswerResponse{
		RoundID:     a.RoundID,
		StepID:      a.StepID,
		OptionIndex: a.OptionIndex,
		Duplicate:   dup,
		SubmittedAt: a.SubmittedAt,
	}, nil
}

func (s *Service) ReadyForOptions(ctx context.Context, playerID, matchID string) error {
	if matchID == "" {
		return ErrInvalidRequest
	}
	return s.engine.MarkReady(ctx, matchID, playerID)
}

func (s *Service) Forfeit(ctx context.Context, playerID, matchID string) (*ForfeitResponse, error) {
	out, err := s.engine.Forfeit(ctx, matchID, playerID, matchround.ReasonForfeit)
	if err != nil {
		return nil, err
	}
	return &ForfeitResponse{MatchID: out.Match.ID, WinnerID: out.Match.WinnerID, EndReason: out.Match.EndReason}, nil
}

func (s *Service) Notifications(ctx context.Context, playerID string, limit int) ([]NotificationView, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxNotifications {
		limit = maxNotifications
	}
	rows, err := s.repo.ListNotifications(ctx, playerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationView, 0, len(rows))
	for _, n := range rows {
		out = append(out, NotificationView{ID: n.ID, MatchID: n.MatchID, CreatedAt: n.CreatedAt, DeliveredAt: n.DeliveredAt})
	}
	return out, nil
}

func (s *Service) SweepQueue(ctx context.Context) (*QueueSweepResponse, error) {
	n, err := s.sweeper.SweepQueue(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueSweepResponse{RemovedCount: n}, nil
}

func (s *Service) SweepOffers(ctx context.Context) (*OfferSweepResponse, error) {
	n, err := s.sweeper.SweepOffers(ctx)
	if err != nil {
		return nil, err
	}
	return &OfferSweepResponse{ExpiredCount: n}, nil
}

func queueResponse(e store.QueueEntry) *QueueResponse {
	return &QueueResponse{
		PlayerID:      e.PlayerID,
		Subject:       e.Subject,
		Level:         e.Level,
		Status:        e.Status,
		JoinedAt:      e.JoinedAt,
		LastHeartbeat: e.LastHeartbeat,
	}
}
