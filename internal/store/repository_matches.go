package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const matchColumns = `id, offer_id, p1, p2, subject, level, current_round_id, round_count, total_rounds, target_score,
	p1_score, p2_score, winner_id, end_reason, ended_at, created_at`

func scanMatch(row pgx.Row) (*Match, error) {
	var (
		m         Match
		currentID pgtype.Text
		winner    pgtype.Text
		reason    pgtype.Text
		ended     pgtype.Timestamptz
	)
	if err := row.Scan(&m.ID, &m.OfferID, &m.P1, &m.P2, &m.Subject, &m.Level, &currentID, &m.RoundCount,
		&m.TotalRounds, &m.TargetScore, &m.P1Score, &m.P2Score, &winner, &reason, &ended, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CurrentRoundID = textVal(currentID)
	m.WinnerID = textVal(winner)
	m.EndReason = textVal(reason)
	m.EndedAt = timePtrVal(ended)
	return &m, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (*Match, error) {
	m, err := scanMatch(s.Pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return m, nil
}

func (s *Store) ListActiveMatchesForPlayer(ctx context.Context, playerID string) ([]Match, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE ended_at IS NULL AND (p1 = $1 OR p2 = $1)
		ORDER BY created_at DESC`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ForfeitMatch ends an active match on behalf of playerID and closes its
// current round with a bumped phase_seq so in-flight advances lose the fence.
func (s *Store) ForfeitMatch(ctx context.Context, p ForfeitParams, finish FinishFunc) (*ForfeitOutcome, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	m, err := scanMatch(tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, p.MatchID))
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !m.IsParticipant(p.PlayerID) {
		return nil, ErrNotAParticipant
	}
	if m.Ended() {
		return nil, ErrMatchEnded
	}
	ratings, err := getRatings(ctx, tx, m.Participants())
	if err != nil {
		return nil, err
	}
	end := finish(*m, ratings)
	if err := endMatch(ctx, tx, m, end, p.Now); err != nil {
		return nil, err
	}

	out := &ForfeitOutcome{End: end}
	r, err := scanRound(tx.QueryRow(ctx, `
		UPDATE match_rounds SET phase_seq = phase_seq + 1, completed_at = $2
		WHERE id = $1 AND completed_at IS NULL
		RETURNING `+roundColumns, m.CurrentRoundID, p.Now))
	switch {
	case err == nil:
		out.Round = r
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	out.Match = *m
	return out, nil
}
