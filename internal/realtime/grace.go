package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"quizduel/internal/store"

	"github.com/rs/zerolog/log"
)

const DefaultForfeitGrace = 30 * time.Second

// Forfeiter ends a match on behalf of a player who did not come back.
type Forfeiter interface {
	ForfeitDisconnected(ctx context.Context, matchID, playerID string) error
}

type graceKey struct {
	matchID  string
	playerID string
}

// Grace tracks players whose last connection to a match dropped. A player
// who reconnects before the deadline keeps playing; Sweep forfeits the rest.
type Grace struct {
	mu        sync.Mutex
	period    time.Duration
	deadlines map[graceKey]time.Time
	hub       *Hub
	forfeiter Forfeiter
	now       func() time.Time
}

func NewGrace(period time.Duration, hub *Hub, forfeiter Forfeiter) *Grace {
	if period <= 0 {
		period = DefaultForfeitGrace
	}
	return &Grace{
		period:    period,
		deadlines: map[graceKey]time.Time{},
		hub:       hub,
		forfeiter: forfeiter,
		now:       time.Now,
	}
}

// Begin starts the grace window unless one is already running.
func (g *Grace) Begin(matchID, playerID string) time.Time {
	k := graceKey{matchID: matchID, playerID: playerID}
	g.mu.Lock()
	if d, ok := g.deadlines[k]; ok {
		g.mu.Unlock()
		return d
	}
	deadline := g.now().Add(g.period)
	g.deadlines[k] = deadline
	g.mu.Unlock()

	metricGraceStarted.Add(1)
	log.Info().Str("match_id", matchID).Str("player_id", playerID).Time("deadline", deadline).Msg("reconnect grace started")
	if g.hub != nil {
		_, _, _ = g.hub.PublishEvent(MatchTopic(matchID), Unordered, GraceStarted{
			Type:       EventGraceStarted,
			MatchID:    matchID,
			PlayerID:   playerID,
			GraceMS:    g.period.Milliseconds(),
			DeadlineAt: deadline,
		})
	}
	return deadline
}

func (g *Grace) Cancel(matchID, playerID string) bool {
	k := graceKey{matchID: matchID, playerID: playerID}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.deadlines[k]
	delete(g.deadlines, k)
	return ok
}

func (g *Grace) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.deadlines)
}

// Sweep forfeits every player whose grace window elapsed before now and
// returns how many matches it ended.
func (g *Grace) Sweep(ctx context.Context, now time.Time) int {
	g.mu.Lock()
	expired := []graceKey{}
	for k, d := range g.deadlines {
		if now.After(d) {
			expired = append(expired, k)
			delete(g.deadlines, k)
		}
	}
	g.mu.Unlock()

	n := 0
	for _, k := range expired {
		err := g.forfeiter.ForfeitDisconnected(ctx, k.matchID, k.playerID)
		switch {
		case err == nil:
			n++
			metricGraceForfeits.Add(1)
			log.Info().Str("match_id", k.matchID).Str("player_id", k.playerID).Msg("forfeit after reconnect grace")
		case errors.Is(err, store.ErrMatchEnded), errors.Is(err, store.ErrNotFound):
		default:
			log.Error().Err(err).Str("match_id", k.matchID).Str("player_id", k.playerID).Msg("grace forfeit failed")
		}
	}
	return n
}
