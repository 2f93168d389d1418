package httptransport

import (
	"encoding/json"
	"net/http"

	"quizduel/internal/app/duel"
)

type RPCHandlers struct {
	svc *duel.Service
}

func NewRPCHandlers(svc *duel.Service) *RPCHandlers {
	return &RPCHandlers{svc: svc}
}

// AdvanceRoundPhase serves advance_round_phase_v1. A caller that lost the
// fencing race gets 409 with the authoritative state.
func (h *RPCHandlers) AdvanceRoundPhase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricAdvanceRequests.Add(1)
		p, _ := PlayerFromContext(r.Context())
		var body duel.AdvanceInput
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.svc.AdvancePhase(r.Context(), p.ID, body)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *RPCHandlers) AcceptOffer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricAcceptRequests.Add(1)
		p, _ := PlayerFromContext(r.Context())
		var body struct {
			OfferID string `json:"offer_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.svc.AcceptOffer(r.Context(), p.ID, body.OfferID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *RPCHandlers) SubmitAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricAnswerRequests.Add(1)
		p, _ := PlayerFromContext(r.Context())
		var body duel.AnswerInput
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.svc.SubmitAnswer(r.Context(), p.ID, body)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *RPCHandlers) ReadyForOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		var body struct {
			MatchID string `json:"match_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := h.svc.ReadyForOptions(r.Context(), p.ID, body.MatchID); err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *RPCHandlers) SweepQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.svc.SweepQueue(r.Context())
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *RPCHandlers) SweepOffers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.svc.SweepOffers(r.Context())
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
