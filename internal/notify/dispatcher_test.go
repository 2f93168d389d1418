package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizduel/internal/notify/platforms"
	"quizduel/internal/store"
)

type fakeRepo struct {
	mu        sync.Mutex
	rows      []store.MatchNotification
	matches   map[string]store.Match
	players   map[string]store.Player
	delivered map[string]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		matches:   map[string]store.Match{},
		players:   map[string]store.Player{},
		delivered: map[string]time.Time{},
	}
}

func (r *fakeRepo) addMatch(m store.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches[m.ID] = m
	for _, uid := range m.Participants() {
		r.rows = append(r.rows, store.MatchNotification{ID: m.ID + ":" + uid, UserID: uid, MatchID: m.ID, CreatedAt: time.Unix(1700000000, 0)})
	}
}

func (r *fakeRepo) ListUndeliveredNotifications(_ context.Context, limit int) ([]store.MatchNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []store.MatchNotification{}
	for _, n := range r.rows {
		if _, ok := r.delivered[n.ID]; ok {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkNotificationDelivered(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[id] = at
	return nil
}

func (r *fakeRepo) GetMatch(_ context.Context, id string) (*store.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (r *fakeRepo) GetPlayer(_ context.Context, id string) (*store.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *fakeRepo) deliveredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func (r *fakeRepo) isDelivered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.delivered[id]
	return ok
}

type fakeAdapter struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	forceFail bool
	messages  []platforms.Message
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(_ context.Context, _ string, _ string, msg platforms.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = append(f.messages, msg)
	if f.forceFail || f.calls <= f.failFirst {
		return errors.New("fail")
	}
	return nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) Messages() []platforms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platforms.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func testConfig(targets ...Target) Config {
	return Config{
		Enabled:      true,
		Targets:      targets,
		Workers:      1,
		RetryMax:     2,
		RetryBase:    5 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
	}
}

func allTarget() Target {
	return Target{Platform: "fake", Endpoint: "https://example.com/hook", ScopeType: ScopeAll, Enabled: true}
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Error("dispatcher did not stop")
		}
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherDeliversAndMarks(t *testing.T) {
	repo := newFakeRepo()
	repo.players["p1"] = store.Player{ID: "p1", DisplayName: "alice"}
	repo.players["p2"] = store.Player{ID: "p2", DisplayName: "bob"}
	repo.addMatch(store.Match{ID: "m1", P1: "p1", P2: "p2", Subject: "math", Level: "easy", TotalRounds: 5})

	d := NewDispatcher(repo, testConfig(allTarget()))
	fake := &fakeAdapter{}
	d.adapters = map[string]platforms.Adapter{"fake": fake}
	startDispatcher(t, d)

	waitUntil(t, func() bool { return repo.deliveredCount() == 2 })
	if fake.Calls() != 2 {
		t.Fatalf("expected 2 sends, got %d", fake.Calls())
	}
	var sawAlice bool
	for _, msg := range fake.Messages() {
		if msg.Data["match_id"] != "m1" {
			t.Fatalf("unexpected payload: %#v", msg.Data)
		}
		if msg.Content == "alice vs bob" {
			sawAlice = true
		}
	}
	if !sawAlice {
		t.Fatalf("expected a message addressed to alice: %#v", fake.Messages())
	}
}

func TestDispatcherRetryThenSuccess(t *testing.T) {
	repo := newFakeRepo()
	repo.addMatch(store.Match{ID: "m1", P1: "p1", P2: "p1"})

	d := NewDispatcher(repo, testConfig(allTarget()))
	fake := &fakeAdapter{failFirst: 1}
	d.adapters = map[string]platforms.Adapter{"fake": fake}
	startDispatcher(t, d)

	waitUntil(t, func() bool { return repo.isDelivered("m1:p1") })
	if fake.Calls() != 2 {
		t.Fatalf("expected 2 attempts, got %d", fake.Calls())
	}
}

func TestDispatcherAbandonsAfterRetryMax(t *testing.T) {
	repo := newFakeRepo()
	repo.addMatch(store.Match{ID: "m1", P1: "p1", P2: "p1"})

	cfg := testConfig(allTarget())
	cfg.RetryMax = 1
	cfg.FailureThreshold = 10
	d := NewDispatcher(repo, cfg)
	fake := &fakeAdapter{forceFail: true}
	d.adapters = map[string]platforms.Adapter{"fake": fake}
	startDispatcher(t, d)

	waitUntil(t, func() bool { return repo.isDelivered("m1:p1") })
	if fake.Calls() != 2 {
		t.Fatalf("expected initial send plus one retry, got %d", fake.Calls())
	}
}

func TestDispatcherUserScope(t *testing.T) {
	repo := newFakeRepo()
	repo.addMatch(store.Match{ID: "m1", P1: "p1", P2: "p2"})

	target := Target{Platform: "fake", Endpoint: "https://example.com/hook", ScopeType: ScopeUser, ScopeValue: "p2", Enabled: true}
	d := NewDispatcher(repo, testConfig(target))
	fake := &fakeAdapter{}
	d.adapters = map[string]platforms.Adapter{"fake": fake}

	n, err := d.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only p2's row to be dispatched, got %d", n)
	}
	if !repo.isDelivered("m1:p1") {
		t.Fatal("row without a matching target should be marked delivered")
	}
	if repo.isDelivered("m1:p2") {
		t.Fatal("dispatched row must wait for its push")
	}
}

func TestPollOnceSkipsInflightRows(t *testing.T) {
	repo := newFakeRepo()
	repo.addMatch(store.Match{ID: "m1", P1: "p1", P2: "p2"})

	d := NewDispatcher(repo, testConfig(allTarget()))
	first, err := d.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	second, err := d.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if first != 2 || second != 0 {
		t.Fatalf("first=%d second=%d, want 2 and 0", first, second)
	}
}

func TestPollOnceMissingMatchIsMarked(t *testing.T) {
	repo := newFakeRepo()
	repo.rows = append(repo.rows, store.MatchNotification{ID: "orphan", UserID: "p1", MatchID: "gone"})

	d := NewDispatcher(repo, testConfig(allTarget()))
	if _, err := d.PollOnce(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !repo.isDelivered("orphan") {
		t.Fatal("notification for a missing match should be marked delivered")
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cfg := testConfig(allTarget())
	cfg.FailureThreshold = 2
	cfg.CircuitOpenDuration = time.Minute
	d := NewDispatcher(newFakeRepo(), cfg)
	key := targetKey(cfg.Targets[0])
	now := time.Unix(1700000000, 0)

	d.afterFailure(key, now)
	if err := d.beforeSend(key, now); err != nil {
		t.Fatalf("breaker open after one failure: %v", err)
	}
	d.afterFailure(key, now)
	if err := d.beforeSend(key, now.Add(time.Second)); !errors.Is(err, errCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if err := d.beforeSend(key, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("breaker should half-open after the window: %v", err)
	}
	d.afterFailure(key, now)
	d.afterSuccess(key)
	d.afterFailure(key, now)
	if err := d.beforeSend(key, now); err != nil {
		t.Fatalf("success should reset the failure count: %v", err)
	}
}

func TestDisabledDispatcherReturns(t *testing.T) {
	d := NewDispatcher(newFakeRepo(), Config{})
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestFormatSelfPlayOpponent(t *testing.T) {
	repo := newFakeRepo()
	repo.players["p1"] = store.Player{ID: "p1", DisplayName: "solo"}
	repo.addMatch(store.Match{ID: "m1", P1: "p1", P2: "p1", Subject: "history", Level: "hard", TotalRounds: 3})

	msg, err := formatMatchCreated(context.Background(), repo, repo.rows[0])
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if msg.Content != "solo vs solo" {
		t.Fatalf("content = %q", msg.Content)
	}
	if msg.Data["self_play"] != true || msg.Data["opponent_id"] != "p1" {
		t.Fatalf("unexpected data: %#v", msg.Data)
	}
}
