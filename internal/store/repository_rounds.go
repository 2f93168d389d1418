package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const roundColumns = `id, match_id, round_index, phase, phase_seq, ends_at, question_id, question,
	choosing_started_at, results, p1_delta, p2_delta, completed_at, created_at`

func scanRound(row pgx.Row) (*MatchRound, error) {
	var (
		r         MatchRound
		question  []byte
		results   []byte
		choosing  pgtype.Timestamptz
		completed pgtype.Timestamptz
	)
	if err := row.Scan(&r.ID, &r.MatchID, &r.RoundIndex, &r.Phase, &r.PhaseSeq, &r.EndsAt, &r.QuestionID, &question,
		&choosing, &results, &r.P1Delta, &r.P2Delta, &completed, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := jsonVal(question, &r.Question); err != nil {
		return nil, err
	}
	if err := jsonVal(results, &r.Results); err != nil {
		return nil, err
	}
	r.ChoosingStartedAt = timePtrVal(choosing)
	r.CompletedAt = timePtrVal(completed)
	return &r, nil
}

func insertRound(ctx context.Context, q querier, r MatchRound) error {
	question, err := jsonParam(r.Question)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO match_rounds (id, match_id, round_index, phase, phase_seq, ends_at, question_id, question, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.MatchID, r.RoundIndex, r.Phase, r.PhaseSeq, r.EndsAt, r.QuestionID, question, r.CreatedAt)
	return err
}

func (s *Store) GetRound(ctx context.Context, id string) (*MatchRound, error) {
	r, err := scanRound(s.Pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM match_rounds WHERE id = $1`, id))
	if err != nil {
		return nil, mapNotFound(err)
	}
	return r, nil
}

func (s *Store) ListMatchRounds(ctx context.Context, matchID string) ([]MatchRound, error) {
	return listRounds(ctx, s.Pool, `SELECT `+roundColumns+` FROM match_rounds WHERE match_id = $1 ORDER BY round_index`, matchID)
}

func (s *Store) ListOverdueRounds(ctx context.Context, now time.Time, limit int) ([]MatchRound, error) {
	if limit <= 0 {
		limit = 100
	}
	return listRounds(ctx, s.Pool, `
		SELECT `+roundColumns+`
		FROM match_rounds
		WHERE completed_at IS NULL AND ends_at < $1
		ORDER BY ends_at
		LIMIT $2`, now, limit)
}

func listRounds(ctx context.Context, q querier, sql string, args ...any) ([]MatchRound, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MatchRound{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) ListRoundAnswers(ctx context.Context, roundID string) ([]RoundAnswer, error) {
	return listAnswers(ctx, s.Pool, roundID)
}

func listAnswers(ctx context.Context, q querier, roundID string) ([]RoundAnswer, error) {
	rows, err := q.Query(ctx, `
		SELECT round_id, player_id, step_id, option_index, submitted_at
		FROM round_answers
		WHERE round_id = $1
		ORDER BY submitted_at, player_id, step_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RoundAnswer{}
	for rows.Next() {
		var a RoundAnswer
		if err := rows.Scan(&a.RoundID, &a.PlayerID, &a.StepID, &a.OptionIndex, &a.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdvanceRound applies one phase transition. The fencing update is the first
// statement of the transaction: only the caller whose expected phase_seq
// matches the row gets a row back, every other caller is classified and
// handed the current round. plan runs inside the transaction against the
// fenced row.
func (s *Store) AdvanceRound(ctx context.Context, p AdvanceParams, plan PlanFunc) (*AdvanceOutcome, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	fenced, err := scanRound(tx.QueryRow(ctx, `
		UPDATE match_rounds SET phase_seq = phase_seq + 1
		WHERE id = $1 AND match_id = $2 AND phase_seq = $3 AND completed_at IS NULL
		RETURNING `+roundColumns, p.RoundID, p.MatchID, p.ExpectedSeq))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return s.classifyAdvance(ctx, p)
	}
	if err != nil {
		return nil, err
	}

	m, err := scanMatch(tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, p.MatchID))
	if err != nil {
		return nil, mapNotFound(err)
	}
	answers, err := listAnswers(ctx, tx, fenced.ID)
	if err != nil {
		return nil, err
	}
	used, err := usedQuestionIDs(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}
	ratings, err := getRatings(ctx, tx, m.Participants())
	if err != nil {
		return nil, err
	}

	tr, err := plan(RoundSnapshot{Match: *m, Round: *fenced, Answers: answers, UsedQuestionIDs: used, Ratings: ratings})
	if err != nil {
		return nil, err
	}

	fenced.Phase = tr.Phase
	fenced.EndsAt = tr.EndsAt
	if tr.ChoosingStartedAt != nil {
		fenced.ChoosingStartedAt = tr.ChoosingStartedAt
	}
	if tr.Results != nil {
		fenced.Results = tr.Results
		fenced.P1Delta = tr.P1Delta
		fenced.P2Delta = tr.P2Delta
	}
	if tr.Complete {
		now := p.Now
		fenced.CompletedAt = &now
	}
	results, err := jsonParam(fenced.Results)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE match_rounds SET phase = $2, ends_at = $3, choosing_started_at = $4, results = $5,
			p1_delta = $6, p2_delta = $7, completed_at = $8
		WHERE id = $1`,
		fenced.ID, fenced.Phase, fenced.EndsAt, timeParam(fenced.ChoosingStartedAt), results,
		fenced.P1Delta, fenced.P2Delta, timeParam(fenced.CompletedAt)); err != nil {
		return nil, err
	}

	m.P1Score = tr.P1Score
	m.P2Score = tr.P2Score
	out := &AdvanceOutcome{Round: *fenced}
	if tr.NextRound != nil {
		next := *tr.NextRound
		if err := insertRound(ctx, tx, next); err != nil {
			return nil, err
		}
		m.CurrentRoundID = next.ID
		m.RoundCount++
		out.NextRound = &next
	}
	if _, err := tx.Exec(ctx, `
		UPDATE matches SET p1_score = $2, p2_score = $3, current_round_id = $4, round_count = $5
		WHERE id = $1`, m.ID, m.P1Score, m.P2Score, m.CurrentRoundID, m.RoundCount); err != nil {
		return nil, err
	}
	if tr.End != nil {
		if err := endMatch(ctx, tx, m, *tr.End, p.Now); err != nil {
			return nil, err
		}
		end := *tr.End
		out.End = &end
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	out.Match = *m
	return out, nil
}

func (s *Store) classifyAdvance(ctx context.Context, p AdvanceParams) (*AdvanceOutcome, error) {
	r, err := s.GetRound(ctx, p.RoundID)
	if err != nil {
		return nil, err
	}
	if r.MatchID != p.MatchID {
		return nil, ErrNotFound
	}
	m, err := s.GetMatch(ctx, r.MatchID)
	if err != nil {
		return nil, err
	}
	out := &AdvanceOutcome{Match: *m, Round: *r}
	if r.Closed() {
		return out, ErrRoundClosed
	}
	return out, ErrPhaseConflict
}

func usedQuestionIDs(ctx context.Context, q querier, matchID string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT question_id FROM match_rounds WHERE match_id = $1 ORDER BY question_id`, matchID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// InsertRoundAnswer records one answer per (round, player, step). The round
// row is share-locked so the insert cannot interleave with the fencing
// update that leaves the choosing phase.
func (s *Store) InsertRoundAnswer(ctx context.Context, p AnswerParams) (*RoundAnswer, error) {
	var a RoundAnswer
	err := s.Pool.QueryRow(ctx, `
		WITH open_round AS (
			SELECT r.id
			FROM match_rounds r
			JOIN matches m ON m.id = r.match_id
			WHERE r.id = $1 AND r.match_id = $2 AND r.phase = 'choosing' AND r.completed_at IS NULL
				AND (m.p1 = $3 OR m.p2 = $3)
			FOR SHARE OF r
		)
		INSERT INTO round_answers (round_id, player_id, step_id, option_index, submitted_at)
		SELECT id, $3, $4, $5, $6 FROM open_round
		ON CONFLICT (round_id, player_id, step_id) DO NOTHING
		RETURNING round_id, player_id, step_id, option_index, submitted_at`,
		p.RoundID, p.MatchID, p.PlayerID, p.StepID, p.OptionIndex, p.Now).
		Scan(&a.RoundID, &a.PlayerID, &a.StepID, &a.OptionIndex, &a.SubmittedAt)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return s.classifyAnswer(ctx, p)
}

func (s *Store) classifyAnswer(ctx context.Context, p AnswerParams) (*RoundAnswer, error) {
	var a RoundAnswer
	err := s.Pool.QueryRow(ctx, `
		SELECT round_id, player_id, step_id, option_index, submitted_at
		FROM round_answers
		WHERE round_id = $1 AND player_id = $2 AND step_id = $3`, p.RoundID, p.PlayerID, p.StepID).
		Scan(&a.RoundID, &a.PlayerID, &a.StepID, &a.OptionIndex, &a.SubmittedAt)
	if err == nil {
		return &a, ErrDuplicateAnswer
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	r, err := s.GetRound(ctx, p.RoundID)
	if err != nil {
		return nil, err
	}
	if r.MatchID != p.MatchID {
		return nil, ErrNotFound
	}
	m, err := s.GetMatch(ctx, p.MatchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(p.PlayerID) {
		return nil, ErrNotAParticipant
	}
	return nil, ErrNotChoosing
}
