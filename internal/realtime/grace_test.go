package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizduel/internal/store"
)

type fakeForfeiter struct {
	mu    sync.Mutex
	calls []graceKey
	err   error
}

func (f *fakeForfeiter) ForfeitDisconnected(ctx context.Context, matchID, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, graceKey{matchID: matchID, playerID: playerID})
	return f.err
}

func (f *fakeForfeiter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestGraceSweepForfeitsAfterDeadline(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	hub := NewHub(8)
	sub := hub.Subscribe(MatchTopic("m1"))
	ff := &fakeForfeiter{}
	g := NewGrace(10*time.Second, hub, ff)
	g.now = func() time.Time { return base }

	deadline := g.Begin("m1", "p1")
	if !deadline.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("unexpected deadline %v", deadline)
	}
	if again := g.Begin("m1", "p1"); !again.Equal(deadline) {
		t.Fatal("expected second Begin to keep the running window")
	}
	m := <-sub
	if m.Type != EventGraceStarted || m.Key != Unordered {
		t.Fatalf("expected unordered grace event, got %s key %d", m.Type, m.Key)
	}

	if n := g.Sweep(context.Background(), base.Add(5*time.Second)); n != 0 {
		t.Fatalf("expected no forfeits before deadline, got %d", n)
	}
	if n := g.Sweep(context.Background(), base.Add(11*time.Second)); n != 1 {
		t.Fatalf("expected one forfeit, got %d", n)
	}
	if ff.count() != 1 || g.Pending() != 0 {
		t.Fatalf("calls=%d pending=%d", ff.count(), g.Pending())
	}
}

func TestGraceCancelPreventsForfeit(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ff := &fakeForfeiter{}
	g := NewGrace(time.Second, nil, ff)
	g.now = func() time.Time { return base }

	g.Begin("m1", "p1")
	if !g.Cancel("m1", "p1") {
		t.Fatal("expected pending grace to be cancelled")
	}
	if g.Cancel("m1", "p1") {
		t.Fatal("expected second cancel to report nothing pending")
	}
	g.Sweep(context.Background(), base.Add(time.Minute))
	if ff.count() != 0 {
		t.Fatal("expected no forfeit after reconnect")
	}
}

func TestGraceSweepIgnoresEndedMatches(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ff := &fakeForfeiter{err: store.ErrMatchEnded}
	g := NewGrace(time.Second, nil, ff)
	g.now = func() time.Time { return base }
	g.Begin("m1", "p1")
	if n := g.Sweep(context.Background(), base.Add(time.Minute)); n != 0 {
		t.Fatalf("expected ended match not to count, got %d", n)
	}
	if g.Pending() != 0 {
		t.Fatal("expected expired entry removed")
	}
}
