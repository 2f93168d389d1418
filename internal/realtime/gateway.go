package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"quizduel/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8 << 10
)

// MatchDriver is the authoritative side the gateway forwards to. It owns
// every state change; the gateway only moves bytes.
type MatchDriver interface {
	Resync(ctx context.Context, matchID, playerID string) ([]Message, error)
	HandleAnswer(ctx context.Context, matchID, playerID string, msg AnswerSubmit) (Event, error)
	HandleReady(ctx context.Context, matchID, playerID string) error
	MatchActive(ctx context.Context, matchID string) bool
}

// AuthFunc resolves the player behind a request.
type AuthFunc func(r *http.Request) (string, error)

type Gateway struct {
	hub      *Hub
	driver   MatchDriver
	auth     AuthFunc
	grace    *Grace
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[graceKey]int
}

func NewGateway(hub *Hub, driver MatchDriver, auth AuthFunc, grace *Grace) *Gateway {
	return &Gateway{
		hub:      hub,
		driver:   driver,
		auth:     auth,
		grace:    grace,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		conns:    map[graceKey]int{},
	}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, 32), done: make(chan struct{})}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// safeSend queues a frame unless the client is gone or too slow.
func (c *client) safeSend(b []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- b:
		return true
	default:
		c.close()
		return false
	}
}

func (c *client) sendEvent(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.safeSend(b)
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// HandleMatchWS serves /ws/matches/{match_id}. The current state is sent
// first; after that the client receives match topic events newer than what
// it has already seen.
func (g *Gateway) HandleMatchWS(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "match_id")
	playerID, err := g.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	topicName := MatchTopic(matchID)
	sub := g.hub.Subscribe(topicName)
	snapshot, err := g.driver.Resync(r.Context(), matchID, playerID)
	if err != nil {
		g.hub.Unsubscribe(topicName, sub)
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

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.hub.Unsubscribe(topicName, sub)
		return
	}
	c := newClient(conn)
	g.attach(matchID, playerID)
	metricWSConnectionsActive.Add(1)
	defer func() {
		metricWSConnectionsActive.Add(-1)
		g.hub.Unsubscribe(topicName, sub)
		c.close()
		g.detach(matchID, playerID)
	}()

	go c.writeLoop()
	lastKey := int64(-1)
	for _, m := range snapshot {
		if m.Key >= 0 && m.Key > lastKey {
			lastKey = m.Key
		}
		c.safeSend(m.Data)
	}
	go func() {
		for {
			select {
			case <-c.done:
				return
			case m, ok := <-sub:
				if !ok {
					c.close()
					return
				}
				if m.Key >= 0 {
					if m.Key <= lastKey {
						continue
					}
					lastKey = m.Key
				}
				c.safeSend(m.Data)
			}
		}
	}()

	g.readLoop(c, matchID, playerID)
}

func (g *Gateway) readLoop(c *client, matchID, playerID string) {
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			metricClientMsgInvalid.Add(1)
			c.sendEvent(ErrorEvent{Type: EventError, Code: "invalid_request"})
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		switch base.Type {
		case MsgAnswerSubmit:
			var msg AnswerSubmit
			if err := json.Unmarshal(raw, &msg); err != nil {
				metricClientMsgInvalid.Add(1)
				c.sendEvent(ErrorEvent{Type: EventError, Code: "invalid_request"})
				break
			}
			ack, err := g.driver.HandleAnswer(ctx, matchID, playerID, msg)
			if err != nil {
				c.sendEvent(ErrorEvent{Type: EventError, Code: ErrorCode(err), Message: err.Error()})
				break
			}
			c.sendEvent(ack)
		case MsgReadyForOptions:
			if err := g.driver.HandleReady(ctx, matchID, playerID); err != nil {
				c.sendEvent(ErrorEvent{Type: EventError, Code: ErrorCode(err), Message: err.Error()})
			}
		default:
			metricClientMsgInvalid.Add(1)
			c.sendEvent(ErrorEvent{Type: EventError, Code: "unknown_message_type"})
		}
		cancel()
	}
}

func (g *Gateway) attach(matchID, playerID string) {
	k := graceKey{matchID: matchID, playerID: playerID}
	g.mu.Lock()
	g.conns[k]++
	g.mu.Unlock()
	if g.grace != nil && g.grace.Cancel(matchID, playerID) {
		log.Info().Str("match_id", matchID).Str("player_id", playerID).Msg("player reconnected within grace")
	}
}

// detach starts the forfeit grace when the player's last connection to an
// active match goes away.
func (g *Gateway) detach(matchID, playerID string) {
	k := graceKey{matchID: matchID, playerID: playerID}
	g.mu.Lock()
	g.conns[k]--
	last := g.conns[k] <= 0
	if last {
		delete(g.conns, k)
	}
	g.mu.Unlock()
	if !last || g.grace == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if !g.driver.MatchActive(ctx, matchID) {
		return
	}
	g.grace.Begin(matchID, playerID)
}

// Connected reports whether playerID has an open socket on the match.
func (g *Gateway) Connected(matchID, playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[graceKey{matchID: matchID, playerID: playerID}] > 0
}

// HandleLobbyWS streams the caller's user topic (offers, match creation).
func (g *Gateway) HandleLobbyWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := g.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(conn)
	topicName := UserTopic(playerID)
	sub := g.hub.Subscribe(topicName)
	defer func() {
		g.hub.Unsubscribe(topicName, sub)
		c.close()
	}()
	go c.writeLoop()
	go func() {
		for {
			select {
			case <-c.done:
				return
			case m, ok := <-sub:
				if !ok {
					c.close()
					return
				}
				c.safeSend(m.Data)
			}
		}
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ErrorCode maps domain errors onto the wire error codes.
func ErrorCode(err error) string {
	for _, known := range []error{
		store.ErrPhaseConflict,
		store.ErrRoundClosed,
		store.ErrNotChoosing,
		store.ErrNotAParticipant,
		store.ErrNotFound,
		store.ErrDuplicateAnswer,
		store.ErrMatchEnded,
		store.ErrOfferExpired,
		store.ErrOfferNotPending,
		store.ErrAlreadyQueued,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "internal_error"
}
