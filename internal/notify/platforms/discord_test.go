package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestDiscordAdapterPayload(t *testing.T) {
	var got map[string]any
	client := newTestHTTPClient(func(r *http.Request) (*http.Response, error) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
	})

	adapter := NewDiscordAdapter(client)
	err := adapter.Send(context.Background(), "https://discord.example/webhook", "", Message{
		Title:       "Match found",
		Content:     "alert",
		Description: "desc",
		Color:       12345,
		Timestamp:   "2025-01-01T00:00:00Z",
		Footer:      "footer-text",
		Fields: []Field{
			{Name: "subject", Value: "math", Inline: true},
			{Name: "opponent", Value: "bob", Inline: false},
		},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got["content"] != "alert" {
		t.Fatalf("unexpected content: %v", got["content"])
	}
	embeds, ok := got["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("unexpected embeds: %#v", got["embeds"])
	}
	embed, ok := embeds[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected embed type: %#v", embeds[0])
	}
	if embed["title"] != "Match found" || embed["description"] != "desc" {
		t.Fatalf("unexpected embed: %#v", embed)
	}
	footer, ok := embed["footer"].(map[string]any)
	if !ok || footer["text"] != "footer-text" {
		t.Fatalf("unexpected footer: %#v", embed["footer"])
	}
	fields, ok := embed["fields"].([]any)
	if !ok || len(fields) != 2 {
		t.Fatalf("unexpected fields: %#v", embed["fields"])
	}
}

func TestDiscordAdapterNon2xxIsError(t *testing.T) {
	client := newTestHTTPClient(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
	})
	if err := NewDiscordAdapter(client).Send(context.Background(), "https://discord.example/webhook", "", Message{Title: "t"}); err == nil {
		t.Fatal("expected error on 429")
	}
}
