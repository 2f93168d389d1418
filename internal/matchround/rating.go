package matchround

import (
	"math"

	"quizduel/internal/store"
)

// EloK is the rating step applied per finished match.
const EloK = 32

// EloChanges returns the rating delta for each seat. A drawn match moves
// ratings toward each other; self-play never moves them.
func EloChanges(m store.Match, winnerID string, ratings map[string]int) map[string]int {
	if m.SelfPlay() {
		return nil
	}
	r1 := ratingOf(ratings, m.P1)
	r2 := ratingOf(ratings, m.P2)
	expected1 := 1 / (1 + math.Pow(10, float64(r2-r1)/400))

	score1 := 0.5
	switch winnerID {
	case m.P1:
		score1 = 1
	case m.P2:
		score1 = 0
	}
	d1 := int(math.Round(EloK * (score1 - expected1)))
	return map[string]int{m.P1: d1, m.P2: -d1}
}

func ratingOf(ratings map[string]int, id string) int {
	if r, ok := ratings[id]; ok {
		return r
	}
	return store.DefaultRating
}
