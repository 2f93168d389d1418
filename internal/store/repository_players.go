package store

import "context"

func (s *Store) CreatePlayer(ctx context.Context, displayName, apiKey string) (*Player, error) {
	p := Player{ID: NewID(), DisplayName: displayName, APIKeyHash: HashAPIKey(apiKey)}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO players (id, display_name, api_key_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`, p.ID, p.DisplayName, p.APIKeyHash).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAPIKey
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (*Player, error) {
	return s.scanPlayer(ctx, `SELECT id, display_name, api_key_hash, created_at FROM players WHERE id = $1`, id)
}

func (s *Store) GetPlayerByAPIKey(ctx context.Context, apiKey string) (*Player, error) {
	return s.scanPlayer(ctx, `SELECT id, display_name, api_key_hash, created_at FROM players WHERE api_key_hash = $1`, HashAPIKey(apiKey))
}

func (s *Store) scanPlayer(ctx context.Context, sql string, arg string) (*Player, error) {
	var p Player
	if err := s.Pool.QueryRow(ctx, sql, arg).Scan(&p.ID, &p.DisplayName, &p.APIKeyHash, &p.CreatedAt); err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (s *Store) GetRatings(ctx context.Context, playerIDs []string) (map[string]int, error) {
	return getRatings(ctx, s.Pool, playerIDs)
}
