package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const notificationColumns = `id, user_id, match_id, created_at, delivered_at`

func scanNotifications(rows pgx.Rows) ([]MatchNotification, error) {
	defer rows.Close()
	out := []MatchNotification{}
	for rows.Next() {
		var (
			n         MatchNotification
			delivered pgtype.Timestamptz
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.MatchID, &n.CreatedAt, &delivered); err != nil {
			return nil, err
		}
		n.DeliveredAt = timePtrVal(delivered)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]MatchNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM match_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (s *Store) ListUndeliveredNotifications(ctx context.Context, limit int) ([]MatchNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM match_notifications
		WHERE delivered_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (s *Store) MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE match_notifications SET delivered_at = COALESCE(delivered_at, $2)
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountNotificationsByMatch(ctx context.Context, matchID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM match_notifications WHERE match_id = $1`, matchID).Scan(&n)
	return n, err
}
