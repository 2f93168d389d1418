package httptransport

import (
	"encoding/json"
	"net/http"

	"quizduel/internal/app/player"
	"quizduel/internal/store"
)

type PlayerHandlers struct {
	svc  *player.Service
	repo store.Repository
}

func NewPlayerHandlers(svc *player.Service, repo store.Repository) *PlayerHandlers {
	return &PlayerHandlers{svc: svc, repo: repo}
}

func (h *PlayerHandlers) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DisplayName string `json:"display_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		resp, err := h.svc.Register(r.Context(), player.RegisterInput{DisplayName: body.DisplayName})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func (h *PlayerHandlers) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		resp, err := h.svc.Me(r.Context(), p)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *PlayerHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.repo.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}
