package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Presence event types.
const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventSync  = "sync"
)

const (
	StatusOnline = "online"
	StatusAway   = "away"
)

// Meta is the per-user payload carried by every presence event.
type Meta struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	OnlineAt    time.Time `json:"online_at"`
	Status      string    `json:"status"`
}

type Event struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Metas   []Meta `json:"payload"`
	// Origin is the node that produced the event; relays use it to skip
	// their own messages.
	Origin string `json:"origin,omitempty"`
}

// Relay forwards local changes to other nodes.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

type record struct {
	meta     Meta
	lastSeen time.Time
	conns    int
	origin   string
}

// Tracker keeps who is online per channel. Nothing is persisted; a record
// lives as long as its subscriptions and heartbeats do.
type Tracker struct {
	mu        sync.Mutex
	node      string
	awayAfter time.Duration
	dropAfter time.Duration
	channels  map[string]map[string]*record
	watchers  map[string]map[chan Event]struct{}
	relay     Relay
	now       func() time.Time
}

func NewTracker(node string, awayAfter, dropAfter time.Duration) *Tracker {
	if awayAfter <= 0 {
		awayAfter = 20 * time.Second
	}
	if dropAfter <= awayAfter {
		dropAfter = 3 * awayAfter
	}
	return &Tracker{
		node:      node,
		awayAfter: awayAfter,
		dropAfter: dropAfter,
		channels:  map[string]map[string]*record{},
		watchers:  map[string]map[chan Event]struct{}{},
		now:       time.Now,
	}
}

func (t *Tracker) SetRelay(r Relay) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.relay = r
}

func (t *Tracker) Node() string { return t.node }

// Track registers one connection of userID on channel. The first
// connection announces a join.
func (t *Tracker) Track(channel, userID, displayName string) {
	now := t.now()
	t.mu.Lock()
	users := t.channels[channel]
	if users == nil {
		users = map[string]*record{}
		t.channels[channel] = users
	}
	rec := users[userID]
	if rec != nil {
		rec.conns++
		rec.lastSeen = now
		wasAway := rec.meta.Status == StatusAway
		rec.meta.Status = StatusOnline
		t.mu.Unlock()
		if wasAway {
			t.emitSync(channel)
		}
		return
	}
	rec = &record{
		meta:     Meta{UserID: userID, DisplayName: displayName, OnlineAt: now, Status: StatusOnline},
		lastSeen: now,
		conns:    1,
		origin:   t.node,
	}
	users[userID] = rec
	meta := rec.meta
	t.mu.Unlock()

	log.Debug().Str("channel", channel).Str("user_id", userID).Msg("presence join")
	ev := Event{Type: EventJoin, Channel: channel, Metas: []Meta{meta}}
	t.emit(ev, &ev)
}

// Untrack drops one connection. The last one announces a leave.
func (t *Tracker) Untrack(channel, userID string) {
	t.mu.Lock()
	rec := t.channels[channel][userID]
	if rec == nil {
		t.mu.Unlock()
		return
	}
	rec.conns--
	if rec.conns > 0 {
		t.mu.Unlock()
		return
	}
	meta := rec.meta
	t.removeLocked(channel, userID)
	t.mu.Unlock()

	log.Debug().Str("channel", channel).Str("user_id", userID).Msg("presence leave")
	ev := Event{Type: EventLeave, Channel: channel, Metas: []Meta{meta}}
	t.emit(ev, &ev)
}

// Heartbeat refreshes a record and brings an away user back online.
func (t *Tracker) Heartbeat(channel, userID string) bool {
	t.mu.Lock()
	rec := t.channels[channel][userID]
	if rec == nil {
		t.mu.Unlock()
		return false
	}
	rec.lastSeen = t.now()
	wasAway := rec.meta.Status == StatusAway
	rec.meta.Status = StatusOnline
	t.mu.Unlock()
	if wasAway {
		t.emitSync(channel)
	}
	return true
}

// List returns the channel's members ordered by arrival.
func (t *Tracker) List(channel string) []Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Meta, 0, len(t.channels[channel]))
	for _, rec := range t.channels[channel] {
		out = append(out, rec.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OnlineAt.Equal(out[j].OnlineAt) {
			return out[i].OnlineAt.Before(out[j].OnlineAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Subscribe returns a channel of presence events and its cancel func.
func (t *Tracker) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	t.mu.Lock()
	if t.watchers[channel] == nil {
		t.watchers[channel] = map[chan Event]struct{}{}
	}
	t.watchers[channel][ch] = struct{}{}
	t.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers[channel], ch)
			if len(t.watchers[channel]) == 0 {
				delete(t.watchers, channel)
			}
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Sweep marks silent local users away and drops those silent past the drop
// window. Remote records are left to their own node. It returns how many
// records were dropped.
func (t *Tracker) Sweep(now time.Time) int {
	type change struct {
		channel string
		meta    Meta
		leave   bool
	}
	var changes []change
	t.mu.Lock()
	for channel, users := range t.channels {
		for id, rec := range users {
			if rec.origin != t.node {
				continue
			}
			idle := now.Sub(rec.lastSeen)
			switch {
			case idle >= t.dropAfter:
				changes = append(changes, change{channel: channel, meta: rec.meta, leave: true})
				t.removeLocked(channel, id)
			case idle >= t.awayAfter && rec.meta.Status != StatusAway:
				rec.meta.Status = StatusAway
				changes = append(changes, change{channel: channel, meta: rec.meta})
			}
		}
	}
	t.mu.Unlock()

	dropped := 0
	synced := map[string]bool{}
	for _, c := range changes {
		if c.leave {
			dropped++
			ev := Event{Type: EventLeave, Channel: c.channel, Metas: []Meta{c.meta}}
			t.emit(ev, &ev)
			continue
		}
		if !synced[c.channel] {
			synced[c.channel] = true
			t.emitSync(c.channel)
		}
	}
	return dropped
}

// ApplyRemote folds an event from another node into local state and
// delivers it to local watchers without relaying it again.
func (t *Tracker) ApplyRemote(ev Event) {
	if ev.Origin == t.node {
		return
	}
	now := t.now()
	t.mu.Lock()
	switch ev.Type {
	case EventJoin, EventSync:
		users := t.channels[ev.Channel]
		if users == nil {
			users = map[string]*record{}
			t.channels[ev.Channel] = users
		}
		for _, m := range ev.Metas {
			rec := users[m.UserID]
			if rec == nil {
				users[m.UserID] = &record{meta: m, lastSeen: now, origin: ev.Origin}
				continue
			}
			if rec.origin == ev.Origin {
				rec.meta = m
				rec.lastSeen = now
			}
		}
	case EventLeave:
		for _, m := range ev.Metas {
			if rec := t.channels[ev.Channel][m.UserID]; rec != nil && rec.origin == ev.Origin {
				t.removeLocked(ev.Channel, m.UserID)
			}
		}
	}
	t.mu.Unlock()
	if ev.Type == EventSync {
		ev = Event{Type: EventSync, Channel: ev.Channel, Metas: t.List(ev.Channel), Origin: ev.Origin}
	}
	t.deliver(ev)
}

// localList is List restricted to records owned by this node.
func (t *Tracker) localList(channel string) []Meta {
	all := t.List(channel)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := all[:0]
	for _, m := range all {
		if rec := t.channels[channel][m.UserID]; rec != nil && rec.origin == t.node {
			out = append(out, m)
		}
	}
	return out
}

func (t *Tracker) removeLocked(channel, userID string) {
	delete(t.channels[channel], userID)
	if len(t.channels[channel]) == 0 {
		delete(t.channels, channel)
	}
}

// emitSync delivers the full member list locally and relays only the
// members this node owns.
func (t *Tracker) emitSync(channel string) {
	remote := Event{Type: EventSync, Channel: channel, Metas: t.localList(channel)}
	t.emit(Event{Type: EventSync, Channel: channel, Metas: t.List(channel)}, &remote)
}

func (t *Tracker) emit(local Event, remote *Event) {
	local.Origin = t.node
	t.deliver(local)
	t.mu.Lock()
	r := t.relay
	t.mu.Unlock()
	if remote == nil || r == nil {
		return
	}
	ev := *remote
	ev.Origin = t.node
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("channel", ev.Channel).Str("type", ev.Type).Msg("presence relay publish failed")
	}
}

func (t *Tracker) deliver(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.watchers[ev.Channel] {
		select {
		case ch <- ev:
		default:
		}
	}
}
