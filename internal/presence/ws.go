package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Identity resolves the caller of a presence socket.
type Identity func(r *http.Request) (userID, displayName string, err error)

type Handler struct {
	tracker  *Tracker
	identify Identity
	upgrader websocket.Upgrader
}

func NewHandler(tracker *Tracker, identify Identity) *Handler {
	return &Handler{
		tracker:  tracker,
		identify: identify,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// ServeHTTP serves /ws/presence/{channel}. The socket receives a sync of the
// current members, then join, leave and sync events. Any client frame
// counts as a heartbeat.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	userID, name, err := h.identify(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := h.tracker.Subscribe(channel)
	defer cancel()
	h.tracker.Track(channel, userID, name)
	defer h.tracker.Untrack(channel, userID)

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go h.writeLoop(ctx, conn, channel, events, stop)

	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.tracker.Heartbeat(channel, userID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		h.tracker.Heartbeat(channel, userID)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, channel string, events <-chan Event, stop func()) {
	defer stop()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	write := func(ev Event) bool {
		ev.Origin = ""
		b, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Str("channel", channel).Msg("presence write failed")
			_ = conn.Close()
			return false
		}
		return true
	}
	if !write(Event{Type: EventSync, Channel: channel, Metas: h.tracker.List(channel)}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok || !write(ev) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
