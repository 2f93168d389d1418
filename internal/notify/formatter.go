package notify

import (
	"context"
	"fmt"
	"time"

	"quizduel/internal/notify/platforms"
	"quizduel/internal/store"
)

const colorMatchFound = 0x2e86de

// formatMatchCreated renders one player's match notification. The opponent of
// a self-play match is the player themselves.
func formatMatchCreated(ctx context.Context, repo Repository, n store.MatchNotification) (platforms.Message, error) {
	m, err := repo.GetMatch(ctx, n.MatchID)
	if err != nil {
		return platforms.Message{}, err
	}
	opponentID := m.P2
	if opponentID == n.UserID {
		opponentID = m.P1
	}
	player := displayName(ctx, repo, n.UserID)
	opponent := displayName(ctx, repo, opponentID)

	return platforms.Message{
		Title:       "Match found",
		Content:     fmt.Sprintf("%s vs %s", player, opponent),
		Description: fmt.Sprintf("%s / %s, %d rounds", m.Subject, m.Level, m.TotalRounds),
		Color:       colorMatchFound,
		Timestamp:   n.CreatedAt.UTC().Format(time.RFC3339),
		Footer:      "match " + m.ID,
		Fields: []platforms.Field{
			{Name: "subject", Value: m.Subject, Inline: true},
			{Name: "level", Value: m.Level, Inline: true},
			{Name: "opponent", Value: opponent, Inline: false},
		},
		Data: map[string]any{
			"event":           "match_created",
			"notification_id": n.ID,
			"user_id":         n.UserID,
			"match_id":        m.ID,
			"opponent_id":     opponentID,
			"subject":         m.Subject,
			"level":           m.Level,
			"total_rounds":    m.TotalRounds,
			"self_play":       m.SelfPlay(),
			"created_at":      n.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func displayName(ctx context.Context, repo Repository, playerID string) string {
	p, err := repo.GetPlayer(ctx, playerID)
	if err != nil || p.DisplayName == "" {
		return playerID
	}
	return p.DisplayName
}
