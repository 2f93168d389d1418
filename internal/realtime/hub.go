package realtime

import (
	"sync"
)

// MatchTopic and UserTopic name the two kinds of hub topics.
func MatchTopic(matchID string) string { return "match:" + matchID }
func UserTopic(userID string) string   { return "user:" + userID }

// Hub fans encoded events out to per-topic subscribers. Each topic keeps a
// short history for SSE replay and drops ordered publications whose key is
// not newer than the last one published, so a late timer or a slow request
// can never push a stale phase after a newer one.
type Hub struct {
	mu      sync.Mutex
	history int
	topics  map[string]*topic
}

type topic struct {
	nextID   int64
	lastKey  int64
	keyed    bool
	recent   []Message
	watchers map[chan Message]struct{}
}

func NewHub(history int) *Hub {
	if history <= 0 {
		history = 64
	}
	return &Hub{history: history, topics: map[string]*topic{}}
}

func (h *Hub) topicLocked(name string) *topic {
	t := h.topics[name]
	if t == nil {
		t = &topic{watchers: map[chan Message]struct{}{}}
		h.topics[name] = t
	}
	return t
}

// Publish assigns msg the next topic sequence id and delivers it without
// blocking. It returns false when an ordered message was stale and dropped.
func (h *Hub) Publish(name string, msg Message) (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topicLocked(name)
	if msg.Key >= 0 {
		if t.keyed && msg.Key <= t.lastKey {
			metricPublishStaleDropped.Add(1)
			return Message{}, false
		}
		t.keyed = true
		t.lastKey = msg.Key
	}
	t.nextID++
	msg.ID = t.nextID
	t.recent = append(t.recent, msg)
	if len(t.recent) > h.history {
		t.recent = t.recent[len(t.recent)-h.history:]
	}
	for ch := range t.watchers {
		select {
		case ch <- msg:
		default:
			metricPublishOverflow.Add(1)
		}
	}
	metricPublishTotal.Add(1)
	return msg, true
}

// PublishEvent encodes ev and publishes it.
func (h *Hub) PublishEvent(name string, key int64, ev Event) (Message, bool, error) {
	msg, err := Encode(key, ev)
	if err != nil {
		return Message{}, false, err
	}
	out, ok := h.Publish(name, msg)
	return out, ok, nil
}

func (h *Hub) Subscribe(name string) chan Message {
	ch := make(chan Message, 32)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topicLocked(name).watchers[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(name string, ch chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[name]
	if t == nil {
		return
	}
	if _, ok := t.watchers[ch]; ok {
		delete(t.watchers, ch)
		close(ch)
	}
}

// ReplayAfter returns the retained messages with an id above lastID.
func (h *Hub) ReplayAfter(name string, lastID int64) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[name]
	if t == nil {
		return nil
	}
	out := make([]Message, 0, len(t.recent))
	for _, m := range t.recent {
		if m.ID > lastID {
			out = append(out, m)
		}
	}
	return out
}

// Close closes every watcher of a topic and forgets it.
func (h *Hub) Close(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[name]
	if t == nil {
		return
	}
	for ch := range t.watchers {
		close(ch)
	}
	delete(h.topics, name)
}

func (h *Hub) Watchers(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t := h.topics[name]; t != nil {
		return len(t.watchers)
	}
	return 0
}
