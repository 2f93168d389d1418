package mcpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/matchmaking"
	"quizduel/internal/matchround"
	"quizduel/internal/questions"
	"quizduel/internal/realtime"
	"quizduel/internal/store"
	"quizduel/internal/sweeper"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestServer(t *testing.T) (*Server, *player.Service) {
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
	t.Cleanup(func() {
		eng.Stop()
		cancel()
	})
	neg := matchmaking.NewNegotiator(repo, eng, hub, matchmaking.NegotiatorConfig{
		OfferTimeout: time.Minute,
		QueueTTL:     time.Minute,
	})
	sw := sweeper.New(repo, sweeper.Config{QueueTTL: time.Minute})
	players := player.NewService(repo)
	return New(players, duel.NewService(repo, matchmaking.NewQueue(repo), neg, eng, sw)), players
}

func TestMCPServerToolsAndFlows(t *testing.T) {
	srv, players := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	mcpClient, closeClient := newMCPClient(t, httpSrv.URL+"/mcp")
	defer closeClient()

	tools := mustListTools(t, mcpClient)
	assertToolNames(t, tools,
		"join_queue",
		"leave_queue",
		"pending_offer",
		"accept_offer",
		"match_state",
		"submit_answer",
		"ready_for_options",
		"advance_round_phase",
	)

	a := mustRegister(t, players, "mcp-alice")
	b := mustRegister(t, players, "mcp-bob")

	bucket := func(key string) map[string]any {
		return map[string]any{"api_key": key, "subject": "math", "level": "A1"}
	}
	first := mustCallTool(t, mcpClient, "join_queue", bucket(a))
	if first.IsError {
		t.Fatalf("join_queue a: %v", first.StructuredContent)
	}
	second := mustCallTool(t, mcpClient, "join_queue", bucket(b))
	if second.IsError {
		t.Fatalf("join_queue b: %v", second.StructuredContent)
	}
	offer, _ := mapFromStructured(t, second)["offer"].(map[string]any)
	offerID := asString(offer["offer_id"])
	if offerID == "" {
		t.Fatalf("second join should carry an offer: %v", second.StructuredContent)
	}

	pending := mapFromStructured(t, mustCallTool(t, mcpClient, "pending_offer", map[string]any{"api_key": a}))
	if asString(pending["offer_id"]) != offerID {
		t.Fatalf("pending offer = %v, want %s", pending, offerID)
	}

	mustCallTool(t, mcpClient, "accept_offer", map[string]any{"api_key": a, "offer_id": offerID})
	accepted := mapFromStructured(t, mustCallTool(t, mcpClient, "accept_offer", map[string]any{"api_key": b, "offer_id": offerID}))
	matchID := asString(accepted["match_id"])
	roundID := asString(accepted["round_id"])
	if matchID == "" || roundID == "" {
		t.Fatalf("accept should create the match: %v", accepted)
	}

	advArgs := map[string]any{"api_key": a, "match_id": matchID, "round_id": roundID, "expected_phase_seq": 0}
	early := mustCallTool(t, mcpClient, "advance_round_phase", advArgs)
	assertToolErrorCode(t, early, matchround.ErrNotDue.Error())
	earlyState, _ := mapFromStructured(t, early)["state"].(map[string]any)
	earlyRound, _ := earlyState["round"].(map[string]any)
	if asString(earlyRound["phase"]) != store.PhaseThinking || asFloat64(earlyRound["phase_seq"]) != 0 {
		t.Fatalf("early advance should leave the round in thinking: %v", earlyState)
	}

	for _, key := range []string{a, b} {
		if res := mustCallTool(t, mcpClient, "ready_for_options", map[string]any{"api_key": key, "match_id": matchID}); res.IsError {
			t.Fatalf("ready_for_options: %v", res.StructuredContent)
		}
	}

	advArgs["api_key"] = b
	stale := mustCallTool(t, mcpClient, "advance_round_phase", advArgs)
	assertToolErrorCode(t, stale, store.ErrPhaseConflict.Error())
	state, _ := mapFromStructured(t, stale)["state"].(map[string]any)
	round, _ := state["round"].(map[string]any)
	if asFloat64(round["phase_seq"]) != 1 {
		t.Fatalf("conflict should carry the current round: %v", state)
	}

	st := mapFromStructured(t, mustCallTool(t, mcpClient, "match_state", map[string]any{"api_key": a, "match_id": matchID}))
	round, _ = st["round"].(map[string]any)
	steps, _ := round["steps"].([]any)
	if len(steps) == 0 {
		t.Fatalf("choosing round should expose steps: %v", st)
	}
	step, _ := steps[0].(map[string]any)
	ans := mustCallTool(t, mcpClient, "submit_answer", map[string]any{
		"api_key":      a,
		"match_id":     matchID,
		"round_id":     roundID,
		"step_id":      asString(step["id"]),
		"option_index": 0,
	})
	if ans.IsError {
		t.Fatalf("submit_answer: %v", ans.StructuredContent)
	}
}

func TestMCPServerToolErrors(t *testing.T) {
	srv, players := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	mcpClient, closeClient := newMCPClient(t, httpSrv.URL+"/mcp")
	defer closeClient()

	assertToolErrorCode(t, mustCallTool(t, mcpClient, "leave_queue", map[string]any{"api_key": "qd_nope"}), "unauthorized")
	assertToolErrorCode(t, mustCallTool(t, mcpClient, "pending_offer", map[string]any{}), "invalid_request")

	key := mustRegister(t, players, "mcp-errors")
	assertToolErrorCode(t, mustCallTool(t, mcpClient, "pending_offer", map[string]any{"api_key": key}), "not_found")
	assertToolErrorCode(t, mustCallTool(t, mcpClient, "match_state", map[string]any{"api_key": key, "match_id": "missing"}), "not_found")
	assertToolErrorCode(t, mustCallTool(t, mcpClient, "join_queue", map[string]any{"api_key": key, "subject": " ", "level": "A1"}), "invalid_request")
	assertToolErrorCode(t, mustCallTool(t, mcpClient, "accept_offer", map[string]any{"api_key": key, "offer_id": "missing"}), "not_found")
}

func mustRegister(t *testing.T, players *player.Service, name string) string {
	t.Helper()
	resp, err := players.Register(context.Background(), player.RegisterInput{DisplayName: name})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return resp.APIKey
}

func newMCPClient(t *testing.T, endpoint string) (*client.Client, func()) {
	t.Helper()
	ctx := context.Background()
	trans, err := transport.NewStreamableHTTP(endpoint)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := trans.Start(ctx); err != nil {
		t.Fatalf("transport start: %v", err)
	}
	c := client.NewClient(trans)
	_, err = c.Initialize(ctx, mcp.InitializeRequest{Params: mcp.InitializeParams{ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c, func() { _ = trans.Close() }
}

func mustListTools(t *testing.T, c *client.Client) []mcp.Tool {
	t.Helper()
	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	return res.Tools
}

func assertToolNames(t *testing.T, tools []mcp.Tool, expected ...string) {
	t.Helper()
	got := make([]string, 0, len(tools))
	for _, tool := range tools {
		got = append(got, tool.Name)
	}
	sort.Strings(got)
	sort.Strings(expected)
	if len(got) != len(expected) {
		t.Fatalf("tool count mismatch got=%v expected=%v", got, expected)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Fatalf("tool list mismatch got=%v expected=%v", got, expected)
		}
	}
}

func mustCallTool(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := c.CallTool(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}})
	if err != nil {
		t.Fatalf("call tool %s: %v", name, err)
	}
	return res
}

func assertToolErrorCode(t *testing.T, res *mcp.CallToolResult, want string) {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected tool error %q, got success: %v", want, res.StructuredContent)
	}
	payload := mapFromStructured(t, res)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("error payload missing 'error': %v", payload)
	}
	if got := asString(errObj["code"]); got != want {
		t.Fatalf("error code=%q want=%q payload=%v", got, want, payload)
	}
}

func mapFromStructured(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	b, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat64(v any) float64 {
	f, _ := v.(float64)
	return f
}
