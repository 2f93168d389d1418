package matchmaking

import (
	"context"
	"errors"
	"strings"
	"time"

	"quizduel/internal/store"

	"github.com/rs/zerolog/log"
)

var ErrInvalidBucket = errors.New("invalid_request")

// Queue is the waiting room. Entries are keyed by player and ordered by
// joined_at within a (subject, level) bucket.
type Queue struct {
	repo store.Repository
	now  func() time.Time
}

func NewQueue(repo store.Repository) *Queue {
	return &Queue{repo: repo, now: time.Now}
}

// Join inserts or refreshes the caller's entry. Re-joining the same bucket
// keeps the original position; switching buckets while waiting starts over.
// A player already matched into another bucket gets store.ErrAlreadyQueued.
func (q *Queue) Join(ctx context.Context, playerID, subject, level string) (*store.QueueEntry, error) {
	subject, level = strings.TrimSpace(subject), strings.TrimSpace(level)
	if playerID == "" || subject == "" || level == "" {
		return nil, ErrInvalidBucket
	}
	e, err := q.repo.UpsertQueueEntry(ctx, store.JoinQueueParams{
		PlayerID: playerID,
		Subject:  subject,
		Level:    level,
		Now:      q.now(),
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("player_id", playerID).Str("subject", subject).Str("level", level).Str("status", e.Status).Msg("queue join")
	return e, nil
}

// Heartbeat keeps an entry fresh. It reports false when there is no entry.
func (q *Queue) Heartbeat(ctx context.Context, playerID string) (bool, error) {
	return q.repo.TouchQueueEntry(ctx, playerID, q.now())
}

func (q *Queue) Leave(ctx context.Context, playerID string) (bool, error) {
	ok, err := q.repo.DeleteQueueEntry(ctx, playerID)
	if err == nil && ok {
		log.Debug().Str("player_id", playerID).Msg("queue leave")
	}
	return ok, err
}

func (q *Queue) Status(ctx context.Context, playerID string) (*store.QueueEntry, error) {
	return q.repo.GetQueueEntry(ctx, playerID)
}
