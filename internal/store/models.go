package store

import (
	"time"

	"quizduel/internal/questions"
)

const (
	QueueWaiting = "waiting"
	QueueMatched = "matched"

	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferExpired  = "expired"

	PhaseThinking = "thinking"
	PhaseChoosing = "choosing"
	PhaseResult   = "result"

	DefaultRating = 1200
)

type Player struct {
	ID          string
	DisplayName string
	APIKeyHash  string
	CreatedAt   time.Time
}

type QueueEntry struct {
	PlayerID string
	Subject  string
	Level    string
	Status   string
	// OfferID is the offer holding a matched entry.
	OfferID       string
	JoinedAt      time.Time
	LastHeartbeat time.Time
}

type Bucket struct {
	Subject string
	Level   string
}

type MatchOffer struct {
	ID         string
	P1         string
	P2         string
	Subject    string
	Level      string
	State      string
	P1Accepted bool
	P2Accepted bool
	MatchID    string
	ExpiresAt  time.Time
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

func (o MatchOffer) IsParticipant(playerID string) bool {
	return playerID != "" && (o.P1 == playerID || o.P2 == playerID)
}

// HasAccepted reports whether playerID's seat (or seats, for self-play) is
// already confirmed.
func (o MatchOffer) HasAccepted(playerID string) bool {
	if o.P1 == playerID && !o.P1Accepted {
		return false
	}
	if o.P2 == playerID && !o.P2Accepted {
		return false
	}
	return o.IsParticipant(playerID)
}

type Match struct {
	ID             string
	OfferID        string
	P1             string
	P2             string
	Subject        string
	Level          string
	CurrentRoundID string
	RoundCount     int
	TotalRounds    int
	TargetScore    int
	P1Score        int
	P2Score        int
	WinnerID       string
	EndReason      string
	EndedAt        *time.Time
	CreatedAt      time.Time
}

func (m Match) SelfPlay() bool { return m.P1 == m.P2 }

func (m Match) IsParticipant(playerID string) bool {
	return playerID != "" && (m.P1 == playerID || m.P2 == playerID)
}

func (m Match) Ended() bool { return m.EndedAt != nil }

// Participants returns the distinct player ids of the match.
func (m Match) Participants() []string {
	if m.SelfPlay() {
		return []string{m.P1}
	}
	return []string{m.P1, m.P2}
}

type MatchRound struct {
	ID                string
	MatchID           string
	RoundIndex        int
	Phase             string
	PhaseSeq          int64
	EndsAt            time.Time
	QuestionID        string
	Question          questions.Question
	ChoosingStartedAt *time.Time
	Results           []PlayerResult
	P1Delta           int
	P2Delta           int
	CompletedAt       *time.Time
	CreatedAt         time.Time
}

func (r MatchRound) Closed() bool { return r.CompletedAt != nil }

// PlayerResult is one participant's grading for a round.
type PlayerResult struct {
	PlayerID     string       `json:"player_id"`
	Correct      bool         `json:"correct"`
	CorrectSteps int          `json:"correct_steps"`
	Steps        []StepResult `json:"steps"`
	TimeTakenMS  int64        `json:"time_taken_ms"`
	ScoreDelta   int          `json:"score_delta"`
}

type StepResult struct {
	StepID      string `json:"step_id"`
	OptionIndex *int   `json:"option_index,omitempty"`
	Correct     bool   `json:"correct"`
}

type RoundAnswer struct {
	RoundID     string
	PlayerID    string
	StepID      string
	OptionIndex int
	SubmittedAt time.Time
}

type MatchNotification struct {
	ID          string
	UserID      string
	MatchID     string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}
