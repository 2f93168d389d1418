package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"testing"
	"time"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/config"
	"quizduel/internal/matchmaking"
	"quizduel/internal/matchround"
	"quizduel/internal/questions"
	"quizduel/internal/realtime"
	"quizduel/internal/store"
	"quizduel/internal/sweeper"

	"github.com/go-chi/chi/v5"
)

const testAdminKey = "admin-secret"

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	repo := store.NewMemoryStore()
	bank, err := questions.NewBank(questions.Default())
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	hub := realtime.NewHub(16)
	eng := matchround.NewEngine(repo, bank, matchround.Rules{
		ThinkingDuration: time.Hour,
		ChoosingDuration: time.Hour,
		ResultDuration:   time.Hour,
		TotalRounds:      3,
		PointsPerStep:    10,
	}, hub)
	eng.Start(ctx)
	neg := matchmaking.NewNegotiator(repo, eng, hub, matchmaking.NegotiatorConfig{
		OfferTimeout: time.Minute,
		QueueTTL:     time.Minute,
	})
	sw := sweeper.New(repo, sweeper.Config{QueueTTL: time.Minute})
	players := player.NewService(repo)
	t.Cleanup(func() {
		eng.Stop()
		cancel()
	})
	return Deps{
		Config:  config.ServerConfig{AdminAPIKey: testAdminKey},
		Repo:    repo,
		Players: players,
		Duel:    duel.NewService(repo, matchmaking.NewQueue(repo), neg, eng, sw),
		Gateway: realtime.NewGateway(hub, eng, PlayerIDAuth(players), nil),
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(newTestDeps(t)))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouteSnapshot(t *testing.T) {
	d := newTestDeps(t)
	d.MCP = http.NotFoundHandler()
	d.Presence = http.NotFoundHandler()
	router := NewRouter(d)

	var routes []string
	err := chi.Walk(router, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	if err != nil {
		t.Fatalf("walk routes: %v", err)
	}
	sort.Strings(routes)

	expected := []string{
		"DELETE /api/queue",
		"DELETE /mcp",
		"GET /api/debug/vars",
		"GET /api/matches/{match_id}/events",
		"GET /api/matches/{match_id}/state",
		"GET /api/notifications",
		"GET /api/offers/pending",
		"GET /api/players/me",
		"GET /healthz",
		"GET /mcp",
		"GET /ws/lobby",
		"GET /ws/matches/{match_id}",
		"GET /ws/presence/{channel}",
		"OPTIONS /mcp",
		"POST /api/matches/{match_id}/forfeit",
		"POST /api/players/register",
		"POST /api/queue/heartbeat",
		"POST /api/queue/join",
		"POST /api/rpc/accept_offer",
		"POST /api/rpc/advance_round_phase_v1",
		"POST /api/rpc/ready_for_options",
		"POST /api/rpc/submit_answer",
		"POST /api/rpc/sweep_offers",
		"POST /api/rpc/sweep_queue",
		"POST /api/selfplay",
		"POST /mcp",
	}
	sort.Strings(expected)
	if !reflect.DeepEqual(routes, expected) {
		t.Fatalf("route snapshot mismatch\n got: %v\nwant: %v", routes, expected)
	}
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, key string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func register(t *testing.T, srv *httptest.Server, name string) player.RegisterResponse {
	t.Helper()
	var reg player.RegisterResponse
	if code := doJSON(t, srv, http.MethodPost, "/api/players/register", "", map[string]string{"display_name": name}, &reg); code != http.StatusCreated {
		t.Fatalf("register %s: status %d", name, code)
	}
	if reg.APIKey == "" || reg.PlayerID == "" {
		t.Fatalf("register returned %#v", reg)
	}
	return reg
}

func TestRegisterThenAuthenticate(t *testing.T) {
	srv := newTestServer(t)
	reg := register(t, srv, "alice")

	var me player.MeResponse
	if code := doJSON(t, srv, http.MethodGet, "/api/players/me", reg.APIKey, nil, &me); code != http.StatusOK {
		t.Fatalf("me status = %d", code)
	}
	if me.PlayerID != reg.PlayerID || me.DisplayName != "alice" {
		t.Fatalf("me = %#v", me)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]any
	if code := doJSON(t, srv, http.MethodPost, "/api/queue/join", "", map[string]string{"subject": "math", "level": "A1"}, &body); code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("body = %#v", body)
	}
	if code := doJSON(t, srv, http.MethodGet, "/api/notifications", "qd_bogus", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bogus key status = %d, want 401", code)
	}
}

func TestAdvanceConflictReturnsState(t *testing.T) {
	srv := newTestServer(t)
	a := register(t, srv, "alice")
	b := register(t, srv, "bob")

	bucket := map[string]string{"subject": "math", "level": "A1"}
	var q duel.QueueResponse
	if code := doJSON(t, srv, http.MethodPost, "/api/queue/join", a.APIKey, bucket, &q); code != http.StatusOK {
		t.Fatalf("join a: %d", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/api/queue/join", b.APIKey, bucket, &q); code != http.StatusOK {
		t.Fatalf("join b: %d", code)
	}
	if q.Offer == nil {
		t.Fatalf("second join should carry the offer: %#v", q)
	}
	offer := map[string]string{"offer_id": q.Offer.OfferID}
	var acc duel.AcceptResponse
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/accept_offer", a.APIKey, offer, &acc); code != http.StatusOK {
		t.Fatalf("accept a: %d", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/accept_offer", b.APIKey, offer, &acc); code != http.StatusOK {
		t.Fatalf("accept b: %d", code)
	}
	if acc.MatchID == "" || acc.RoundID == "" {
		t.Fatalf("accept should create the match: %#v", acc)
	}

	type conflictBody struct {
		Error string           `json:"error"`
		State matchround.State `json:"state"`
	}
	in := duel.AdvanceInput{MatchID: acc.MatchID, RoundID: acc.RoundID, ExpectedPhaseSeq: 0}
	var early conflictBody
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/advance_round_phase_v1", a.APIKey, in, &early); code != http.StatusConflict {
		t.Fatalf("early advance status = %d, want 409", code)
	}
	if early.Error != matchround.ErrNotDue.Error() || early.State.Round == nil || early.State.Round.PhaseSeq != 0 {
		t.Fatalf("early advance = %#v", early)
	}

	ready := map[string]string{"match_id": acc.MatchID}
	for _, key := range []string{a.APIKey, b.APIKey} {
		if code := doJSON(t, srv, http.MethodPost, "/api/rpc/ready_for_options", key, ready, nil); code != http.StatusOK {
			t.Fatalf("ready: %d", code)
		}
	}

	var conflict conflictBody
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/advance_round_phase_v1", b.APIKey, in, &conflict); code != http.StatusConflict {
		t.Fatalf("stale advance status = %d, want 409", code)
	}
	if conflict.Error != store.ErrPhaseConflict.Error() {
		t.Fatalf("error = %q", conflict.Error)
	}
	if conflict.State.Round == nil || conflict.State.Round.PhaseSeq != 1 || conflict.State.Round.Phase != store.PhaseChoosing {
		t.Fatalf("state = %#v", conflict.State.Round)
	}

	var st matchround.State
	if code := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/matches/%s/state", acc.MatchID), b.APIKey, nil, &st); code != http.StatusOK {
		t.Fatalf("state: %d", code)
	}
	if st.MatchID != acc.MatchID || st.Round == nil || st.Round.PhaseSeq != 1 {
		t.Fatalf("state = %#v", st)
	}
}

func TestAdminSweepRequiresKey(t *testing.T) {
	srv := newTestServer(t)
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/sweep_queue", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no key status = %d", code)
	}
	var out duel.QueueSweepResponse
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/sweep_queue", testAdminKey, nil, &out); code != http.StatusOK {
		t.Fatalf("admin sweep status = %d", code)
	}
	if out.RemovedCount != 0 {
		t.Fatalf("removed = %d", out.RemovedCount)
	}
	var offers duel.OfferSweepResponse
	if code := doJSON(t, srv, http.MethodPost, "/api/rpc/sweep_offers", testAdminKey, nil, &offers); code != http.StatusOK {
		t.Fatalf("offer sweep status = %d", code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]any
	if code := doJSON(t, srv, http.MethodGet, "/healthz", "", nil, &body); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if body["ok"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestMapDomainErr(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{store.ErrNotAParticipant, http.StatusForbidden, "not_a_participant"},
		{store.ErrPhaseConflict, http.StatusConflict, "phase_already_advanced"},
		{matchround.ErrNotDue, http.StatusConflict, "not_due"},
		{store.ErrOfferExpired, http.StatusConflict, store.ErrOfferExpired.Error()},
		{duel.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{player.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{matchmaking.ErrSelfPlayDisabled, http.StatusForbidden, matchmaking.ErrSelfPlayDisabled.Error()},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code := mapDomainErr(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("mapDomainErr(%v) = %d %q, want %d %q", tc.err, status, code, tc.status, tc.code)
		}
	}
}
