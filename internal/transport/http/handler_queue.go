package httptransport

import (
	"encoding/json"
	"net/http"

	"quizduel/internal/app/duel"
)

type QueueHandlers struct {
	svc *duel.Service
}

func NewQueueHandlers(svc *duel.Service) *QueueHandlers {
	return &QueueHandlers{svc: svc}
}

type bucketBody struct {
	Subject string `json:"subject"`
	Level   string `json:"level"`
}

func (h *QueueHandlers) Join() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		var body bucketBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.svc.JoinQueue(r.Context(), p.ID, body.Subject, body.Level)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *QueueHandlers) Heartbeat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		resp, err := h.svc.Heartbeat(r.Context(), p.ID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *QueueHandlers) Leave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		removed, err := h.svc.LeaveQueue(r.Context(), p.ID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
	}
}

func (h *QueueHandlers) PendingOffer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		resp, err := h.svc.PendingOffer(r.Context(), p.ID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *QueueHandlers) SelfPlay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		var body bucketBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.svc.StartSelfPlay(r.Context(), p.ID, body.Subject, body.Level)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
