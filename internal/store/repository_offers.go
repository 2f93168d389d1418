package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const offerColumns = `id, p1, p2, subject, level, state, p1_accepted, p2_accepted, match_id, expires_at, resolved_at, created_at`

func scanOffer(row pgx.Row) (*MatchOffer, error) {
	var (
		o        MatchOffer
		matchID  pgtype.Text
		resolved pgtype.Timestamptz
	)
	if err := row.Scan(&o.ID, &o.P1, &o.P2, &o.Subject, &o.Level, &o.State, &o.P1Accepted, &o.P2Accepted,
		&matchID, &o.ExpiresAt, &resolved, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.MatchID = textVal(matchID)
	o.ResolvedAt = timePtrVal(resolved)
	return &o, nil
}

func insertOffer(ctx context.Context, q querier, o MatchOffer) (*MatchOffer, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO match_offers (id, p1, p2, subject, level, state, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		RETURNING `+offerColumns, o.ID, o.P1, o.P2, o.Subject, o.Level, o.ExpiresAt, o.CreatedAt)
	return scanOffer(row)
}

// CreateOfferFromQueue claims the two oldest fresh waiting entries of a
// bucket and offers them a match. It returns nil when fewer than two
// entries could be claimed.
func (s *Store) CreateOfferFromQueue(ctx context.Context, p PairParams) (*MatchOffer, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT player_id
		FROM queue_entries
		WHERE subject = $1 AND level = $2 AND status = 'waiting' AND last_heartbeat >= $3
		ORDER BY joined_at, player_id
		LIMIT 2
		FOR UPDATE SKIP LOCKED`, p.Subject, p.Level, p.FreshAfter)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if len(ids) < 2 {
		return nil, nil
	}

	offerID := NewID()
	tag, err := tx.Exec(ctx, `
		UPDATE queue_entries SET status = 'matched', offer_id = $2
		WHERE player_id = ANY($1) AND status = 'waiting'`, ids, offerID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 2 {
		return nil, nil
	}

	o, err := insertOffer(ctx, tx, MatchOffer{
		ID:        offerID,
		P1:        ids[0],
		P2:        ids[1],
		Subject:   p.Subject,
		Level:     p.Level,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) CreateSelfPlayOffer(ctx context.Context, p SelfPlayParams) (*MatchOffer, error) {
	return insertOffer(ctx, s.Pool, MatchOffer{
		ID:        NewID(),
		P1:        p.PlayerID,
		P2:        p.PlayerID,
		Subject:   p.Subject,
		Level:     p.Level,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.Now,
	})
}

func (s *Store) GetOffer(ctx context.Context, id string) (*MatchOffer, error) {
	o, err := scanOffer(s.Pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM match_offers WHERE id = $1`, id))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return o, nil
}

func (s *Store) GetPendingOfferForPlayer(ctx context.Context, playerID string, now time.Time) (*MatchOffer, error) {
	o, err := scanOffer(s.Pool.QueryRow(ctx, `
		SELECT `+offerColumns+`
		FROM match_offers
		WHERE state = 'pending' AND expires_at > $2 AND (p1 = $1 OR p2 = $1)
		ORDER BY created_at DESC
		LIMIT 1`, playerID, now))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return o, nil
}

// AcceptOffer records playerID's acceptance. The call that observes both
// seats accepted flips the offer and creates the match, its first round and
// the per-participant notifications in the same transaction.
func (s *Store) AcceptOffer(ctx context.Context, p AcceptParams) (*AcceptOutcome, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOffer(tx.QueryRow(ctx, `
		UPDATE match_offers SET
			p1_accepted = p1_accepted OR p1 = $2,
			p2_accepted = p2_accepted OR p2 = $2
		WHERE id = $1 AND state = 'pending' AND expires_at > $3 AND (p1 = $2 OR p2 = $2)
		RETURNING `+offerColumns, p.OfferID, p.PlayerID, p.Now))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return s.classifyAccept(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	if !o.P1Accepted || !o.P2Accepted {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &AcceptOutcome{Offer: *o}, nil
	}

	seed, err := p.Seed(*o)
	if err != nil {
		return nil, err
	}
	match := Match{
		ID:          NewID(),
		OfferID:     o.ID,
		P1:          o.P1,
		P2:          o.P2,
		Subject:     o.Subject,
		Level:       o.Level,
		RoundCount:  1,
		TotalRounds: seed.TotalRounds,
		TargetScore: seed.TargetScore,
		CreatedAt:   p.Now,
	}
	round := seedRound(match, seed, p.Now)
	match.CurrentRoundID = round.ID

	tag, err := tx.Exec(ctx, `
		UPDATE match_offers SET state = 'accepted', match_id = $2, resolved_at = $3
		WHERE id = $1 AND state = 'pending'`, o.ID, match.ID, p.Now)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrOfferNotPending
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO matches (id, offer_id, p1, p2, subject, level, current_round_id, round_count, total_rounds, target_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		match.ID, match.OfferID, match.P1, match.P2, match.Subject, match.Level, match.CurrentRoundID,
		match.RoundCount, match.TotalRounds, match.TargetScore, match.CreatedAt); err != nil {
		return nil, err
	}
	if err := insertRound(ctx, tx, round); err != nil {
		return nil, err
	}
	for _, uid := range notificationRecipients(match.P1, match.P2) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO match_notifications (id, user_id, match_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, match_id) DO NOTHING`, NewID(), uid, match.ID, p.Now); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE player_id = ANY($1)`, []string{match.P1, match.P2}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	now := p.Now
	o.State = OfferAccepted
	o.MatchID = match.ID
	o.ResolvedAt = &now
	return &AcceptOutcome{Offer: *o, Match: &match, Round: &round, Created: true}, nil
}

// classifyAccept explains why the conditional accept matched no row. A
// participant retrying against an accepted offer gets the current state.
func (s *Store) classifyAccept(ctx context.Context, p AcceptParams) (*AcceptOutcome, error) {
	o, err := s.GetOffer(ctx, p.OfferID)
	if err != nil {
		return nil, err
	}
	if !o.IsParticipant(p.PlayerID) {
		return nil, ErrNotAParticipant
	}
	switch o.State {
	case OfferAccepted:
		out := &AcceptOutcome{Offer: *o}
		if o.MatchID != "" {
			m, err := s.GetMatch(ctx, o.MatchID)
			if err != nil {
				return nil, err
			}
			out.Match = m
			if r, err := s.GetRound(ctx, m.CurrentRoundID); err == nil {
				out.Round = r
			}
		}
		return out, nil
	case OfferPending:
		return nil, ErrOfferExpired
	default:
		return nil, ErrOfferNotPending
	}
}

// ExpireOffers moves pending offers past their deadline to expired and puts
// their still-matched queue entries back to waiting.
func (s *Store) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE match_offers SET state = 'expired', resolved_at = $1
		WHERE state = 'pending' AND expires_at < $1
		RETURNING id`, now)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	// Only entries still held by an expired offer go back to waiting; a player
	// who rejoined since may already be matched into a newer offer.
	if _, err := tx.Exec(ctx, `
		UPDATE queue_entries SET status = 'waiting', offer_id = NULL
		WHERE status = 'matched' AND offer_id = ANY($1)`, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}
