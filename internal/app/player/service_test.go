package player

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quizduel/internal/store"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	resp, err := svc.Register(ctx, RegisterInput{DisplayName: "  alice "})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.DisplayName != "alice" || !strings.HasPrefix(resp.APIKey, "qd_") {
		t.Fatalf("unexpected response: %#v", resp)
	}
	p, err := svc.Authenticate(ctx, resp.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.ID != resp.PlayerID {
		t.Fatalf("player = %s, want %s", p.ID, resp.PlayerID)
	}
	me, err := svc.Me(ctx, p)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.Rating != store.DefaultRating {
		t.Fatalf("rating = %d, want %d", me.Rating, store.DefaultRating)
	}
}

func TestRegisterRejectsBlankName(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	if _, err := svc.Register(context.Background(), RegisterInput{DisplayName: "   "}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Register(context.Background(), RegisterInput{DisplayName: strings.Repeat("x", maxDisplayName+1)}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for long name, got %v", err)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	for _, key := range []string{"", "qd_nope"} {
		if _, err := svc.Authenticate(context.Background(), key); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("key %q: expected ErrUnauthorized, got %v", key, err)
		}
	}
}
