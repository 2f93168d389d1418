package httptransport

import (
	"net/http"

	"quizduel/internal/app/duel"

	"github.com/go-chi/chi/v5"
)

type MatchHandlers struct {
	svc *duel.Service
}

func NewMatchHandlers(svc *duel.Service) *MatchHandlers {
	return &MatchHandlers{svc: svc}
}

func (h *MatchHandlers) State() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		st, err := h.svc.MatchState(r.Context(), p.ID, chi.URLParam(r, "match_id"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func (h *MatchHandlers) Forfeit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		resp, err := h.svc.Forfeit(r.Context(), p.ID, chi.URLParam(r, "match_id"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *MatchHandlers) Notifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PlayerFromContext(r.Context())
		items, err := h.svc.Notifications(r.Context(), p.ID, ParseLimit(r, 50, 200))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}
