package store

import (
	"context"
	"time"
)

func getRatings(ctx context.Context, q querier, playerIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(playerIDs))
	for _, id := range playerIDs {
		out[id] = DefaultRating
	}
	if len(playerIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT player_id, rating FROM player_ratings WHERE player_id = ANY($1)`, playerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id     string
			rating int
		)
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, err
		}
		out[id] = rating
	}
	return out, rows.Err()
}

func applyRatingChanges(ctx context.Context, q querier, changes map[string]int, now time.Time) error {
	for id, delta := range changes {
		if _, err := q.Exec(ctx, `
			INSERT INTO player_ratings (player_id, rating, updated_at)
			VALUES ($1, $2 + $3, $4)
			ON CONFLICT (player_id) DO UPDATE SET
				rating = player_ratings.rating + $3,
				updated_at = EXCLUDED.updated_at`, id, DefaultRating, delta, now); err != nil {
			return err
		}
	}
	return nil
}

// endMatch writes the terminal columns onto m and applies rating changes.
func endMatch(ctx context.Context, q querier, m *Match, end MatchEnd, now time.Time) error {
	if _, err := q.Exec(ctx, `
		UPDATE matches SET winner_id = $2, end_reason = $3, ended_at = $4, p1_score = $5, p2_score = $6
		WHERE id = $1 AND ended_at IS NULL`,
		m.ID, textParam(end.WinnerID), textParam(end.Reason), now, m.P1Score, m.P2Score); err != nil {
		return err
	}
	if err := applyRatingChanges(ctx, q, end.RatingChanges, now); err != nil {
		return err
	}
	ended := now
	m.WinnerID = end.WinnerID
	m.EndReason = end.Reason
	m.EndedAt = &ended
	return nil
}
