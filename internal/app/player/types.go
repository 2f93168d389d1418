package player

import "time"

type RegisterInput struct {
	DisplayName string
}

type RegisterResponse struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key"`
}

type MeResponse struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Rating      int       `json:"rating"`
	CreatedAt   time.Time `json:"created_at"`
}
