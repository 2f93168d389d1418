package presence

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRelay struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeRelay) Publish(ctx context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRelay) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestTracker(node string) (*Tracker, *time.Time) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	t := NewTracker(node, 20*time.Second, 60*time.Second)
	t.now = func() time.Time { return now }
	return t, &now
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no presence event")
		return Event{}
	}
}

func TestTrackAndUntrackCountConnections(t *testing.T) {
	tr, _ := newTestTracker("n1")
	relay := &fakeRelay{}
	tr.SetRelay(relay)
	events, cancel := tr.Subscribe("lobby")
	defer cancel()

	tr.Track("lobby", "u1", "Ann")
	ev := next(t, events)
	if ev.Type != EventJoin || ev.Metas[0].UserID != "u1" || ev.Metas[0].DisplayName != "Ann" {
		t.Fatalf("unexpected join %+v", ev)
	}
	tr.Track("lobby", "u1", "Ann")
	tr.Untrack("lobby", "u1")
	if got := tr.List("lobby"); len(got) != 1 {
		t.Fatalf("expected user to stay while a connection remains, got %v", got)
	}
	tr.Untrack("lobby", "u1")
	if ev := next(t, events); ev.Type != EventLeave {
		t.Fatalf("expected leave, got %s", ev.Type)
	}
	if got := tr.List("lobby"); len(got) != 0 {
		t.Fatalf("expected empty channel, got %v", got)
	}
	if got := relay.types(); len(got) != 2 || got[0] != EventJoin || got[1] != EventLeave {
		t.Fatalf("unexpected relayed events %v", got)
	}
}

func TestSweepMarksAwayThenDrops(t *testing.T) {
	tr, now := newTestTracker("n1")
	events, cancel := tr.Subscribe("lobby")
	defer cancel()
	tr.Track("lobby", "u1", "Ann")
	next(t, events)

	*now = now.Add(25 * time.Second)
	if n := tr.Sweep(*now); n != 0 {
		t.Fatalf("expected no drops yet, got %d", n)
	}
	ev := next(t, events)
	if ev.Type != EventSync || ev.Metas[0].Status != StatusAway {
		t.Fatalf("expected away sync, got %+v", ev)
	}

	if !tr.Heartbeat("lobby", "u1") {
		t.Fatal("expected heartbeat to find the record")
	}
	if ev := next(t, events); ev.Type != EventSync || ev.Metas[0].Status != StatusOnline {
		t.Fatalf("expected online sync, got %+v", ev)
	}

	*now = now.Add(61 * time.Second)
	if n := tr.Sweep(*now); n != 1 {
		t.Fatalf("expected one drop, got %d", n)
	}
	if ev := next(t, events); ev.Type != EventLeave {
		t.Fatalf("expected leave, got %s", ev.Type)
	}
	if tr.Heartbeat("lobby", "u1") {
		t.Fatal("heartbeat after drop should report false")
	}
}

func TestApplyRemoteMergesOtherNodes(t *testing.T) {
	a, _ := newTestTracker("a")
	b, _ := newTestTracker("b")
	relay := &fakeRelay{}
	a.SetRelay(relay)
	events, cancel := b.Subscribe("lobby")
	defer cancel()

	a.Track("lobby", "u1", "Ann")
	b.Track("lobby", "u2", "Ben")
	next(t, events)
	for _, ev := range relay.events {
		b.ApplyRemote(ev)
		a.ApplyRemote(ev)
	}
	if ev := next(t, events); ev.Type != EventJoin || ev.Metas[0].UserID != "u1" {
		t.Fatalf("expected remote join, got %+v", ev)
	}
	if got := b.List("lobby"); len(got) != 2 {
		t.Fatalf("expected both users on node b, got %v", got)
	}
	if got := a.List("lobby"); len(got) != 1 {
		t.Fatalf("node a must ignore its own events, got %v", got)
	}

	// A remote leave cannot remove a user owned by this node.
	b.ApplyRemote(Event{Type: EventLeave, Channel: "lobby", Origin: "a", Metas: []Meta{{UserID: "u2"}}})
	if got := b.List("lobby"); len(got) != 2 {
		t.Fatalf("expected local user kept, got %v", got)
	}
	b.ApplyRemote(Event{Type: EventLeave, Channel: "lobby", Origin: "a", Metas: []Meta{{UserID: "u1"}}})
	if got := b.List("lobby"); len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("expected remote user removed, got %v", got)
	}
	if n := b.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected only the local record to be swept, got %d", n)
	}
}
