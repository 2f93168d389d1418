package duel

import (
	"errors"

	"quizduel/internal/matchround"
)

var ErrInvalidRequest = errors.New("invalid_request")

// ConflictError is returned when a phase advance lost the fencing race. It
// carries the authoritative state so the caller can resync without another
// round trip.
type ConflictError struct {
	Err   error
	State matchround.State
}

func (e *ConflictError) Error() string { return e.Err.Error() }

func (e *ConflictError) Unwrap() error { return e.Err }
