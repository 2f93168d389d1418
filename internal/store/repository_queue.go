package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const queueColumns = `player_id, subject, level, status, offer_id, joined_at, last_heartbeat`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var (
		e       QueueEntry
		offerID pgtype.Text
	)
	if err := row.Scan(&e.PlayerID, &e.Subject, &e.Level, &e.Status, &offerID, &e.JoinedAt, &e.LastHeartbeat); err != nil {
		return nil, err
	}
	e.OfferID = textVal(offerID)
	return &e, nil
}

// UpsertQueueEntry inserts or refreshes the player's entry. A matched entry
// in another bucket is left untouched and reported as ErrAlreadyQueued.
func (s *Store) UpsertQueueEntry(ctx context.Context, p JoinQueueParams) (*QueueEntry, error) {
	e, err := scanQueueEntry(s.Pool.QueryRow(ctx, `
		INSERT INTO queue_entries (player_id, subject, level, status, joined_at, last_heartbeat)
		VALUES ($1, $2, $3, 'waiting', $4, $4)
		ON CONFLICT (player_id) DO UPDATE SET
			joined_at = CASE
				WHEN queue_entries.subject = EXCLUDED.subject AND queue_entries.level = EXCLUDED.level
				THEN queue_entries.joined_at
				ELSE EXCLUDED.joined_at
			END,
			subject = EXCLUDED.subject,
			level = EXCLUDED.level,
			last_heartbeat = EXCLUDED.last_heartbeat
		WHERE queue_entries.status = 'waiting'
			OR (queue_entries.subject = EXCLUDED.subject AND queue_entries.level = EXCLUDED.level)
		RETURNING `+queueColumns, p.PlayerID, p.Subject, p.Level, p.Now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) TouchQueueEntry(ctx context.Context, playerID string, now time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE queue_entries SET last_heartbeat = $2 WHERE player_id = $1`, playerID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteQueueEntry(ctx context.Context, playerID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM queue_entries WHERE player_id = $1`, playerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, playerID string) (*QueueEntry, error) {
	e, err := scanQueueEntry(s.Pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE player_id = $1`, playerID))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return e, nil
}

func (s *Store) ListWaitingBuckets(ctx context.Context, freshAfter time.Time) ([]Bucket, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT subject, level
		FROM queue_entries
		WHERE status = 'waiting' AND last_heartbeat >= $1
		GROUP BY subject, level
		HAVING count(*) >= 2
		ORDER BY subject, level`, freshAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Bucket{}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Subject, &b.Level); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteStaleQueueEntries(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM queue_entries WHERE last_heartbeat < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
