package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"quizduel/internal/store"

	"github.com/go-chi/chi/v5"
)

var ssePingInterval = 15 * time.Second

// EventsSSEHandler mirrors a match topic as a read-only event stream. The
// stream opens with the caller's rehydrated state, then replays retained
// messages after Last-Event-ID, then follows live publications.
func (g *Gateway) EventsSSEHandler(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "match_id")
	playerID, err := g.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream_not_supported", http.StatusInternalServerError)
		return
	}
	topicName := MatchTopic(matchID)
	ch := g.hub.Subscribe(topicName)
	defer g.hub.Unsubscribe(topicName, ch)

	snapshot, err := g.driver.Resync(r.Context(), matchID, playerID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "not_found", http.StatusNotFound)
		case errors.Is(err, store.ErrNotAParticipant):
			http.Error(w, "not_a_participant", http.StatusForbidden)
		default:
			http.Error(w, "internal_error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastKey := int64(-1)
	emit := func(m Message) error {
		if m.Key >= 0 {
			if m.Key <= lastKey {
				return nil
			}
			lastKey = m.Key
		}
		return WriteSSE(w, m)
	}
	for _, m := range snapshot {
		if err := emit(m); err != nil {
			return
		}
	}
	if lastID, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		for _, m := range g.hub.ReplayAfter(topicName, lastID) {
			if m.Key < 0 {
				if err := WriteSSE(w, m); err != nil {
					return
				}
			}
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if err := emit(m); err != nil {
				return
			}
			flusher.Flush()
		case now := <-ticker.C:
			if _, err := fmt.Fprintf(w, "event: ping\ndata: {\"ts\":%d}\n\n", now.UnixMilli()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func WriteSSE(w http.ResponseWriter, m Message) error {
	if m.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", m.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", m.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", m.Data); err != nil {
		return err
	}
	return nil
}
