package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/config"
	"quizduel/internal/realtime"
	"quizduel/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Deps are the wired services the router exposes. MCP and Presence are
// optional.
type Deps struct {
	Config   config.ServerConfig
	Repo     store.Repository
	Players  *player.Service
	Duel     *duel.Service
	Gateway  *realtime.Gateway
	Presence http.Handler
	MCP      http.Handler
}

func NewRouter(d Deps) *chi.Mux {
	rpc := NewRPCHandlers(d.Duel)
	queue := NewQueueHandlers(d.Duel)
	matches := NewMatchHandlers(d.Duel)
	players := NewPlayerHandlers(d.Players, d.Repo)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Group(func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/healthz", players.Health())
		if d.MCP == nil {
			return
		}
		r.Options("/mcp", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
		})
		r.Method(http.MethodPost, "/mcp", d.MCP)
		r.Method(http.MethodGet, "/mcp", d.MCP)
		r.Method(http.MethodDelete, "/mcp", d.MCP)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Post("/players/register", players.Register())
		r.Get("/matches/{match_id}/events", d.Gateway.EventsSSEHandler)

		r.Group(func(r chi.Router) {
			r.Use(PlayerAuthMiddleware(d.Players))
			r.Get("/players/me", players.Me())

			r.Post("/rpc/advance_round_phase_v1", rpc.AdvanceRoundPhase())
			r.Post("/rpc/accept_offer", rpc.AcceptOffer())
			r.Post("/rpc/submit_answer", rpc.SubmitAnswer())
			r.Post("/rpc/ready_for_options", rpc.ReadyForOptions())

			r.Post("/queue/join", queue.Join())
			r.Post("/queue/heartbeat", queue.Heartbeat())
			r.Delete("/queue", queue.Leave())
			r.Get("/offers/pending", queue.PendingOffer())
			r.Post("/selfplay", queue.SelfPlay())

			r.Get("/matches/{match_id}/state", matches.State())
			r.Post("/matches/{match_id}/forfeit", matches.Forfeit())
			r.Get("/notifications", matches.Notifications())
		})

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(d.Config.AdminAPIKey))
			r.Post("/rpc/sweep_queue", rpc.SweepQueue())
			r.Post("/rpc/sweep_offers", rpc.SweepOffers())

			r.Route("/debug", func(r chi.Router) {
				r.Use(BodyCaptureMiddleware(4096))
				r.Get("/vars", expvar.Handler().ServeHTTP)
			})
		})
	})

	r.Get("/ws/matches/{match_id}", d.Gateway.HandleMatchWS)
	r.Get("/ws/lobby", d.Gateway.HandleLobbyWS)
	if d.Presence != nil {
		r.Method(http.MethodGet, "/ws/presence/{channel}", d.Presence)
	}
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 64)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
