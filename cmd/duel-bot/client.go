package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"

	"github.com/gorilla/websocket"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	Status int
	Code   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Code)
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func newClient(base, apiKey string) *client {
	return &client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Code: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) register(ctx context.Context, name string) (*player.RegisterResponse, error) {
	var out player.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/api/players/register", map[string]string{"display_name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) joinQueue(ctx context.Context, subject, level string) (*duel.QueueResponse, error) {
	var out duel.QueueResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/join", map[string]string{"subject": subject, "level": level}, &out)
	return &out, err
}

func (c *client) heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/queue/heartbeat", nil, nil)
}

func (c *client) selfPlay(ctx context.Context, subject, level string) (*duel.OfferView, error) {
	var out duel.OfferView
	err := c.do(ctx, http.MethodPost, "/api/selfplay", map[string]string{"subject": subject, "level": level}, &out)
	return &out, err
}

func (c *client) pendingOffer(ctx context.Context) (*duel.OfferView, error) {
	var out duel.OfferView
	err := c.do(ctx, http.MethodGet, "/api/offers/pending", nil, &out)
	return &out, err
}

func (c *client) accept(ctx context.Context, offerID string) (*duel.AcceptResponse, error) {
	var out duel.AcceptResponse
	err := c.do(ctx, http.MethodPost, "/api/rpc/accept_offer", map[string]string{"offer_id": offerID}, &out)
	return &out, err
}

// dial opens a socket on path, passing the key as access_token.
func (c *client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("access_token", c.apiKey)
	u.RawQuery = q.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}
