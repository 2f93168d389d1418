package store

import "errors"

var (
	ErrNotFound        = errors.New("not_found")
	ErrPhaseConflict   = errors.New("phase_already_advanced")
	ErrRoundClosed     = errors.New("round_closed")
	ErrNotChoosing     = errors.New("not_choosing")
	ErrAlreadyQueued   = errors.New("already_queued")
	ErrOfferNotPending = errors.New("offer_not_pending")
	ErrOfferExpired    = errors.New("offer_expired")
	ErrNotAParticipant = errors.New("not_a_participant")
	ErrDuplicateAnswer = errors.New("duplicate_answer")
	ErrMatchEnded      = errors.New("match_ended")
	ErrDuplicateAPIKey = errors.New("duplicate_api_key")
)
