package player

import (
	"context"
	"errors"
	"strings"

	"quizduel/internal/store"
)

const maxDisplayName = 64

type Service struct {
	repo store.Repository
}

func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a player and returns its bearer key. The key is only
// shown here; the store keeps a hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResponse, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" || len(name) > maxDisplayName {
		return nil, ErrInvalidRequest
	}
	apiKey := "qd_" + strings.ToLower(store.NewID()) + strings.ToLower(store.NewID())
	p, err := s.repo.CreatePlayer(ctx, name, apiKey)
	if err != nil {
		return nil, err
	}
	return &RegisterResponse{PlayerID: p.ID, DisplayName: p.DisplayName, APIKey: apiKey}, nil
}

// Authenticate resolves a bearer key to its player.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*store.Player, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnauthorized
	}
	p, err := s.repo.GetPlayerByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) Me(ctx context.Context, p *store.Player) (*MeResponse, error) {
	ratings, err := s.repo.GetRatings(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	rating, ok := ratings[p.ID]
	if !ok {
		rating = store.DefaultRating
	}
	return &MeResponse{PlayerID: p.ID, DisplayName: p.DisplayName, Rating: rating, CreatedAt: p.CreatedAt}, nil
}
