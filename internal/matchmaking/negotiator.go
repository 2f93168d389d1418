package matchmaking

import (
	"context"
	"errors"
	"strings"
	"time"

	"quizduel/internal/config"
	"quizduel/internal/realtime"
	"quizduel/internal/store"

	"github.com/rs/zerolog/log"
)

var ErrSelfPlayDisabled = errors.New("self_play_disabled")

// Accept statuses returned to the caller.
const (
	StatusWaitingForOpponent = "waiting_for_opponent"
	StatusMatched            = "matched"
)

// MatchStarter seeds and launches the match created by an accepted offer.
type MatchStarter interface {
	SeedMatch(ctx context.Context, offer store.MatchOffer) (store.MatchSeed, error)
	MatchStarted(ctx context.Context, m store.Match, r store.MatchRound)
}

type NegotiatorConfig struct {
	OfferTimeout  time.Duration
	PollInterval  time.Duration
	QueueTTL      time.Duration
	AllowSelfPlay bool
}

func NegotiatorConfigFrom(cfg config.MatchConfig, allowSelfPlay bool) NegotiatorConfig {
	return NegotiatorConfig{
		OfferTimeout:  cfg.OfferTimeout,
		PollInterval:  cfg.PairPollInterval,
		QueueTTL:      cfg.QueueTTL,
		AllowSelfPlay: allowSelfPlay,
	}
}

// Negotiator turns waiting pairs into offers and accepted offers into
// matches. All exclusion is done by conditional updates in the store, so
// several negotiators may run against the same database.
type Negotiator struct {
	repo    store.Repository
	starter MatchStarter
	hub     *realtime.Hub
	cfg     NegotiatorConfig
	now     func() time.Time
}

func NewNegotiator(repo store.Repository, starter MatchStarter, hub *realtime.Hub, cfg NegotiatorConfig) *Negotiator {
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.QueueTTL <= 0 {
		cfg.QueueTTL = 30 * time.Second
	}
	return &Negotiator{repo: repo, starter: starter, hub: hub, cfg: cfg, now: time.Now}
}

type AcceptResult struct {
	Status  string
	Offer   store.MatchOffer
	Match   *store.Match
	Round   *store.MatchRound
	Created bool
}

// TryPair offers a match to the two oldest fresh waiting players of a
// bucket. It returns nil when fewer than two are waiting.
func (n *Negotiator) TryPair(ctx context.Context, subject, level string) (*store.MatchOffer, error) {
	now := n.now()
	offer, err := n.repo.CreateOfferFromQueue(ctx, store.PairParams{
		Subject:    subject,
		Level:      level,
		FreshAfter: now.Add(-n.cfg.QueueTTL),
		Now:        now,
		ExpiresAt:  now.Add(n.cfg.OfferTimeout),
	})
	if err != nil || offer == nil {
		return nil, err
	}
	log.Info().Str("offer_id", offer.ID).Str("p1", offer.P1).Str("p2", offer.P2).Str("subject", subject).Str("level", level).Msg("offer created")
	n.announceOffer(*offer)
	return offer, nil
}

// PairAll drains every bucket that has two or more fresh waiting players.
func (n *Negotiator) PairAll(ctx context.Context) (int, error) {
	buckets, err := n.repo.ListWaitingBuckets(ctx, n.now().Add(-n.cfg.QueueTTL))
	if err != nil {
		return 0, err
	}
	created := 0
	for _, b := range buckets {
		for {
			offer, err := n.TryPair(ctx, b.Subject, b.Level)
			if err != nil {
				return created, err
			}
			if offer == nil {
				break
			}
			created++
		}
	}
	return created, nil
}

// Run polls for pairs until ctx is done.
func (n *Negotiator) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := n.PairAll(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pairing pass failed")
			}
		}
	}
}

// Accept records the caller's acceptance. The acceptance that completes the
// offer creates the match; every other call, including repeats, returns the
// current state.
func (n *Negotiator) Accept(ctx context.Context, offerID, playerID string) (*AcceptResult, error) {
	out, err := n.repo.AcceptOffer(ctx, store.AcceptParams{
		OfferID:  offerID,
		PlayerID: playerID,
		Now:      n.now(),
		Seed: func(o store.MatchOffer) (store.MatchSeed, error) {
			return n.starter.SeedMatch(ctx, o)
		},
	})
	if err != nil {
		return nil, err
	}
	res := &AcceptResult{
		Status:  StatusWaitingForOpponent,
		Offer:   out.Offer,
		Match:   out.Match,
		Round:   out.Round,
		Created: out.Created,
	}
	if out.Offer.State == store.OfferAccepted {
		res.Status = StatusMatched
	}
	if out.Created && out.Match != nil && out.Round != nil {
		log.Info().Str("offer_id", offerID).Str("match_id", out.Match.ID).Str("round_id", out.Round.ID).Msg("match created")
		n.starter.MatchStarted(ctx, *out.Match, *out.Round)
		n.announceMatch(*out.Match, *out.Round)
	}
	return res, nil
}

// StartSelfPlay opens an offer where the caller holds both seats.
func (n *Negotiator) StartSelfPlay(ctx context.Context, playerID, subject, level string) (*store.MatchOffer, error) {
	if !n.cfg.AllowSelfPlay {
		return nil, ErrSelfPlayDisabled
	}
	subject, level = strings.TrimSpace(subject), strings.TrimSpace(level)
	if playerID == "" || subject == "" || level == "" {
		return nil, ErrInvalidBucket
	}
	now := n.now()
	offer, err := n.repo.CreateSelfPlayOffer(ctx, store.SelfPlayParams{
		PlayerID:  playerID,
		Subject:   subject,
		Level:     level,
		Now:       now,
		ExpiresAt: now.Add(n.cfg.OfferTimeout),
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("offer_id", offer.ID).Str("player_id", playerID).Msg("self-play offer created")
	n.announceOffer(*offer)
	return offer, nil
}

// PendingOffer returns the caller's newest live offer.
func (n *Negotiator) PendingOffer(ctx context.Context, playerID string) (*store.MatchOffer, error) {
	return n.repo.GetPendingOfferForPlayer(ctx, playerID, n.now())
}

func (n *Negotiator) announceOffer(o store.MatchOffer) {
	if n.hub == nil {
		return
	}
	ev := realtime.OfferCreated{
		Type:      realtime.EventOfferCreated,
		OfferID:   o.ID,
		P1:        o.P1,
		P2:        o.P2,
		Subject:   o.Subject,
		Level:     o.Level,
		ExpiresAt: o.ExpiresAt,
	}
	for _, id := range distinct(o.P1, o.P2) {
		_, _, _ = n.hub.PublishEvent(realtime.UserTopic(id), realtime.Unordered, ev)
	}
}

func (n *Negotiator) announceMatch(m store.Match, r store.MatchRound) {
	if n.hub == nil {
		return
	}
	ev := realtime.MatchCreated{Type: realtime.EventMatchCreated, MatchID: m.ID, OfferID: m.OfferID, RoundID: r.ID}
	for _, id := range m.Participants() {
		_, _, _ = n.hub.PublishEvent(realtime.UserTopic(id), realtime.Unordered, ev)
	}
}

func distinct(p1, p2 string) []string {
	if p1 == p2 {
		return []string{p1}
	}
	return []string{p1, p2}
}
