package httptransport

import (
	"errors"
	"net/http"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/matchmaking"
	"quizduel/internal/matchround"
	"quizduel/internal/realtime"
	"quizduel/internal/store"
)

// mapDomainErr is the single place domain errors become HTTP statuses.
func mapDomainErr(err error) (int, string) {
	switch {
	case errors.Is(err, duel.ErrInvalidRequest),
		errors.Is(err, player.ErrInvalidRequest),
		errors.Is(err, matchmaking.ErrInvalidBucket):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, player.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, matchmaking.ErrSelfPlayDisabled):
		return http.StatusForbidden, matchmaking.ErrSelfPlayDisabled.Error()
	case errors.Is(err, store.ErrDuplicateAPIKey):
		return http.StatusConflict, store.ErrDuplicateAPIKey.Error()
	}
	code := realtime.ErrorCode(err)
	switch code {
	case store.ErrNotFound.Error():
		return http.StatusNotFound, code
	case store.ErrNotAParticipant.Error():
		return http.StatusForbidden, code
	case store.ErrPhaseConflict.Error(),
		store.ErrRoundClosed.Error(),
		store.ErrNotChoosing.Error(),
		store.ErrMatchEnded.Error(),
		store.ErrOfferNotPending.Error(),
		store.ErrOfferExpired.Error(),
		store.ErrAlreadyQueued.Error(),
		matchround.ErrNotDue.Error():
		return http.StatusConflict, code
	case "internal_error":
		return http.StatusInternalServerError, code
	}
	return http.StatusBadRequest, code
}

func writeDomainErr(w http.ResponseWriter, err error) {
	var conflict *duel.ConflictError
	if errors.As(err, &conflict) {
		metricFenceConflicts.Add(1)
		WriteJSON(w, http.StatusConflict, map[string]any{
			"error": conflict.Error(),
			"state": conflict.State,
		})
		return
	}
	status, code := mapDomainErr(err)
	WriteHTTPError(w, status, code)
}
