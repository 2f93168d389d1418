package store

import (
	"context"
	"time"

	"quizduel/internal/questions"
)

// Repository is the transactional surface used by matchmaking, the round
// engine and the sweeper. *Store (PostgreSQL) and *MemoryStore implement it
// with the same conditional-update semantics.
type Repository interface {
	Ping(ctx context.Context) error

	CreatePlayer(ctx context.Context, displayName, apiKey string) (*Player, error)
	GetPlayer(ctx context.Context, id string) (*Player, error)
	GetPlayerByAPIKey(ctx context.Context, apiKey string) (*Player, error)

	UpsertQueueEntry(ctx context.Context, p JoinQueueParams) (*QueueEntry, error)
	TouchQueueEntry(ctx context.Context, playerID string, now time.Time) (bool, error)
	DeleteQueueEntry(ctx context.Context, playerID string) (bool, error)
	GetQueueEntry(ctx context.Context, playerID string) (*QueueEntry, error)
	ListWaitingBuckets(ctx context.Context, freshAfter time.Time) ([]Bucket, error)
	DeleteStaleQueueEntries(ctx context.Context, cutoff time.Time) (int, error)

	CreateOfferFromQueue(ctx context.Context, p PairParams) (*MatchOffer, error)
	CreateSelfPlayOffer(ctx context.Context, p SelfPlayParams) (*MatchOffer, error)
	GetOffer(ctx context.Context, id string) (*MatchOffer, error)
	GetPendingOfferForPlayer(ctx context.Context, playerID string, now time.Time) (*MatchOffer, error)
	AcceptOffer(ctx context.Context, p AcceptParams) (*AcceptOutcome, error)
	ExpireOffers(ctx context.Context, now time.Time) (int, error)

	GetMatch(ctx context.Context, id string) (*Match, error)
	ListActiveMatchesForPlayer(ctx context.Context, playerID string) ([]Match, error)
	GetRound(ctx context.Context, id string) (*MatchRound, error)
	ListMatchRounds(ctx context.Context, matchID string) ([]MatchRound, error)
	ListRoundAnswers(ctx context.Context, roundID string) ([]RoundAnswer, error)
	ListOverdueRounds(ctx context.Context, now time.Time, limit int) ([]MatchRound, error)
	AdvanceRound(ctx context.Context, p AdvanceParams, plan PlanFunc) (*AdvanceOutcome, error)
	InsertRoundAnswer(ctx context.Context, p AnswerParams) (*RoundAnswer, error)
	ForfeitMatch(ctx context.Context, p ForfeitParams, finish FinishFunc) (*ForfeitOutcome, error)

	GetRatings(ctx context.Context, playerIDs []string) (map[string]int, error)

	ListNotifications(ctx context.Context, userID string, limit int) ([]MatchNotification, error)
	ListUndeliveredNotifications(ctx context.Context, limit int) ([]MatchNotification, error)
	MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error
	CountNotificationsByMatch(ctx context.Context, matchID string) (int, error)
}

type JoinQueueParams struct {
	PlayerID string
	Subject  string
	Level    string
	Now      time.Time
}

type PairParams struct {
	Subject    string
	Level      string
	FreshAfter time.Time
	Now        time.Time
	ExpiresAt  time.Time
}

type SelfPlayParams struct {
	PlayerID  string
	Subject   string
	Level     string
	Now       time.Time
	ExpiresAt time.Time
}

// MatchSeed is what the caller supplies to start a match once both seats
// have accepted.
type MatchSeed struct {
	TotalRounds int
	TargetScore int
	Question    questions.Question
	EndsAt      time.Time
}

type SeedFunc func(offer MatchOffer) (MatchSeed, error)

type AcceptParams struct {
	OfferID  string
	PlayerID string
	Now      time.Time
	Seed     SeedFunc
}

type AcceptOutcome struct {
	Offer MatchOffer
	Match *Match
	Round *MatchRound
	// Created is true only for the call that created the match.
	Created bool
}

type AdvanceParams struct {
	MatchID     string
	RoundID     string
	ExpectedSeq int64
	Now         time.Time
}

// RoundSnapshot is the state a transition is planned from. Round.PhaseSeq
// already carries the incremented token.
type RoundSnapshot struct {
	Match           Match
	Round           MatchRound
	Answers         []RoundAnswer
	UsedQuestionIDs []string
	Ratings         map[string]int
}

// RoundTransition describes the writes applied after a successful fence.
type RoundTransition struct {
	Phase             string
	EndsAt            time.Time
	ChoosingStartedAt *time.Time
	Results           []PlayerResult
	P1Delta           int
	P2Delta           int
	Complete          bool
	P1Score           int
	P2Score           int
	NextRound         *MatchRound
	End               *MatchEnd
}

type MatchEnd struct {
	WinnerID      string
	Reason        string
	RatingChanges map[string]int
}

type PlanFunc func(snap RoundSnapshot) (RoundTransition, error)

type AdvanceOutcome struct {
	Match     Match
	Round     MatchRound
	NextRound *MatchRound
	End       *MatchEnd
}

type AnswerParams struct {
	MatchID     string
	RoundID     string
	PlayerID    string
	StepID      string
	OptionIndex int
	Now         time.Time
}

type ForfeitParams struct {
	MatchID  string
	PlayerID string
	Reason   string
	Now      time.Time
}

type FinishFunc func(m Match, ratings map[string]int) MatchEnd

type ForfeitOutcome struct {
	Match Match
	Round *MatchRound
	End   MatchEnd
}

// notificationRecipients returns one recipient per distinct participant.
func notificationRecipients(p1, p2 string) []string {
	if p1 == p2 {
		return []string{p1}
	}
	return []string{p1, p2}
}

func seedRound(m Match, seed MatchSeed, now time.Time) MatchRound {
	return MatchRound{
		ID:         NewID(),
		MatchID:    m.ID,
		RoundIndex: 0,
		Phase:      PhaseThinking,
		PhaseSeq:   0,
		EndsAt:     seed.EndsAt,
		QuestionID: seed.Question.ID,
		Question:   seed.Question,
		CreatedAt:  now,
	}
}
