package duel

import (
	"time"

	"quizduel/internal/store"
)

type OfferView struct {
	OfferID    string    `json:"offer_id"`
	P1         string    `json:"p1"`
	P2         string    `json:"p2"`
	Subject    string    `json:"subject"`
	Level      string    `json:"level"`
	State      string    `json:"state"`
	P1Accepted bool      `json:"p1_accepted"`
	P2Accepted bool      `json:"p2_accepted"`
	MatchID    string    `json:"match_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func offerView(o store.MatchOffer) *OfferView {
	return &OfferView{
		OfferID:    o.ID,
		P1:         o.P1,
		P2:         o.P2,
		Subject:    o.Subject,
		Level:      o.Level,
		State:      o.State,
		P1Accepted: o.P1Accepted,
		P2Accepted: o.P2Accepted,
		MatchID:    o.MatchID,
		ExpiresAt:  o.ExpiresAt,
	}
}

type QueueResponse struct {
	PlayerID      string     `json:"player_id"`
	Subject       string     `json:"subject"`
	Level         string     `json:"level"`
	Status        string     `json:"status"`
	JoinedAt      time.Time  `json:"joined_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Offer         *OfferView `json:"offer,omitempty"`
}

type AcceptResponse struct {
	Status  string `json:"status"`
	OfferID string `json:"offer_id"`
	MatchID string `json:"match_id,omitempty"`
	RoundID string `json:"round_id,omitempty"`
}

type AdvanceInput struct {
	MatchID          string     `json:"match_id"`
	RoundID          string     `json:"round_id"`
	ExpectedPhaseSeq int64      `json:"expected_phase_seq"`
	ClientSeenAt     *time.Time `json:"client_seen_at,omitempty"`
}

type NextRoundView struct {
	RoundID    string    `json:"round_id"`
	RoundIndex int       `json:"round_index"`
	Phase      string    `json:"phase"`
	PhaseSeq   int64     `json:"phase_seq"`
	EndsAt     time.Time `json:"ends_at"`
}

type AdvanceResponse struct {
	MatchID    string         `json:"match_id"`
	RoundID    string         `json:"round_id"`
	Phase      string         `json:"phase"`
	PhaseSeq   int64          `json:"phase_seq"`
	EndsAt     time.Time      `json:"ends_at"`
	Completed  bool           `json:"completed"`
	NextRound  *NextRoundView `json:"next_round,omitempty"`
	MatchEnded bool           `json:"match_ended"`
	EndReason  string         `json:"end_reason,omitempty"`
	WinnerID   string         `json:"winner_id,omitempty"`
}

type AnswerInput struct {
	MatchID     string `json:"match_id"`
	RoundID     string `json:"round_id"`
	StepID      string `json:"step_id"`
	OptionIndex *int   `json:"option_index"`
}

type AnswerResponse struct {
	RoundID     string    `json:"round_id"`
	StepID      string    `json:"step_id"`
	OptionIndex int       `json:"option_index"`
	Duplicate   bool      `json:"duplicate"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ForfeitResponse struct {
	MatchID   string `json:"match_id"`
	WinnerID  string `json:"winner_id,omitempty"`
	EndReason string `json:"end_reason"`
}

type NotificationView struct {
	ID          string     `json:"id"`
	MatchID     string     `json:"match_id"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type QueueSweepResponse struct {
	RemovedCount int `json:"removed_count"`
}

type OfferSweepResponse struct {
	ExpiredCount int `json:"expired_count"`
}
