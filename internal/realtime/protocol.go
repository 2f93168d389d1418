package realtime

import (
	"encoding/json"
	"time"
)

const ProtocolVersion = "1.0"

// Server to client event types.
const (
	EventRoundStart   = "ROUND_START"
	EventPhaseChange  = "PHASE_CHANGE"
	EventRoundResult  = "ROUND_RESULT"
	EventMatchEnd     = "MATCH_END"
	EventAnswerAck    = "ANSWER_ACK"
	EventError        = "ERROR"
	EventGraceStarted = "RECONNECT_GRACE_STARTED"
	EventOfferCreated = "OFFER_CREATED"
	EventMatchCreated = "MATCH_CREATED"
)

// Client to server message types.
const (
	MsgAnswerSubmit    = "answer_submit"
	MsgReadyForOptions = "ready_for_options"
)

// Event is anything the gateway can put on the wire.
type Event interface {
	EventType() string
}

type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type StepView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []OptionView `json:"options,omitempty"`
}

// QuestionView is the stem-only question shown while thinking.
type QuestionView struct {
	ID    string     `json:"id"`
	Stem  string     `json:"stem"`
	Steps []StepView `json:"steps"`
}

type RoundStart struct {
	Type           string       `json:"type"`
	MatchID        string       `json:"matchId"`
	RoundID        string       `json:"roundId"`
	RoundIndex     int          `json:"roundIndex"`
	TotalRounds    int          `json:"totalRounds"`
	PhaseSeq       int64        `json:"phaseSeq"`
	Question       QuestionView `json:"question"`
	ThinkingEndsAt time.Time    `json:"thinkingEndsAt"`
}

func (RoundStart) EventType() string { return EventRoundStart }

type PhaseChange struct {
	Type             string       `json:"type"`
	MatchID          string       `json:"matchId"`
	RoundID          string       `json:"roundId"`
	RoundIndex       int          `json:"roundIndex"`
	Phase            string       `json:"phase"`
	PhaseSeq         int64        `json:"phaseSeq"`
	ChoosingEndsAt   *time.Time   `json:"choosingEndsAt,omitempty"`
	Options          []OptionView `json:"options,omitempty"`
	Steps            []StepView   `json:"steps,omitempty"`
	CurrentStepIndex *int         `json:"currentStepIndex,omitempty"`
	TotalSteps       *int         `json:"totalSteps,omitempty"`
}

func (PhaseChange) EventType() string { return EventPhaseChange }

type PlayerResult struct {
	PlayerID     string `json:"playerId"`
	Correct      bool   `json:"correct"`
	CorrectSteps int    `json:"correctSteps"`
	TimeTakenMS  int64  `json:"timeTakenMs"`
	ScoreDelta   int    `json:"scoreDelta"`
}

type RoundResult struct {
	Type            string         `json:"type"`
	MatchID         string         `json:"matchId"`
	RoundID         string         `json:"roundId"`
	RoundIndex      int            `json:"roundIndex"`
	PhaseSeq        int64          `json:"phaseSeq"`
	QuestionID      string         `json:"questionId"`
	CorrectOptionID string         `json:"correctOptionId"`
	PlayerResults   []PlayerResult `json:"playerResults"`
	TugOfWar        int            `json:"tugOfWar"`
	P1Score         int            `json:"p1Score"`
	P2Score         int            `json:"p2Score"`
	NextAt          time.Time      `json:"nextAt"`
}

func (RoundResult) EventType() string { return EventRoundResult }

type MatchSummary struct {
	P1           string `json:"p1"`
	P2           string `json:"p2"`
	P1Score      int    `json:"p1Score"`
	P2Score      int    `json:"p2Score"`
	RoundsPlayed int    `json:"roundsPlayed"`
	Reason       string `json:"reason"`
}

type MatchEnd struct {
	Type           string         `json:"type"`
	MatchID        string         `json:"matchId"`
	WinnerPlayerID *string        `json:"winnerPlayerId"`
	Summary        MatchSummary   `json:"summary"`
	MMRChanges     map[string]int `json:"mmrChanges,omitempty"`
}

func (MatchEnd) EventType() string { return EventMatchEnd }

type AnswerAck struct {
	Type      string `json:"type"`
	MatchID   string `json:"matchId"`
	RoundID   string `json:"roundId"`
	StepID    string `json:"stepId"`
	Answer    int    `json:"answer"`
	Duplicate bool   `json:"duplicate"`
}

func (AnswerAck) EventType() string { return EventAnswerAck }

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (ErrorEvent) EventType() string { return EventError }

type GraceStarted struct {
	Type       string    `json:"type"`
	MatchID    string    `json:"matchId"`
	PlayerID   string    `json:"playerId"`
	GraceMS    int64     `json:"graceMs"`
	DeadlineAt time.Time `json:"deadlineAt"`
}

func (GraceStarted) EventType() string { return EventGraceStarted }

type OfferCreated struct {
	Type      string    `json:"type"`
	OfferID   string    `json:"offerId"`
	P1        string    `json:"p1"`
	P2        string    `json:"p2"`
	Subject   string    `json:"subject"`
	Level     string    `json:"level"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (OfferCreated) EventType() string { return EventOfferCreated }

type MatchCreated struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	OfferID string `json:"offerId"`
	RoundID string `json:"roundId"`
}

func (MatchCreated) EventType() string { return EventMatchCreated }

// AnswerSubmit is sent by a player during the choosing phase. Answer is the
// option index within the step.
type AnswerSubmit struct {
	Type       string `json:"type"`
	MatchID    string `json:"matchId,omitempty"`
	QuestionID string `json:"questionId"`
	StepID     string `json:"stepId"`
	Answer     int    `json:"answer"`
}

type ReadyForOptions struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
}

// Message is an encoded event. Key orders publications on a topic; a
// negative key means the message is not ordered.
type Message struct {
	ID   int64
	Type string
	Key  int64
	Data json.RawMessage
}

// Unordered marks a message that bypasses per-topic ordering.
const Unordered int64 = -1

func Encode(key int64, ev Event) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: ev.EventType(), Key: key, Data: data}, nil
}

// OrderKey maps a round position onto a value that grows with every phase
// transition of a match.
func OrderKey(roundIndex int, phaseSeq int64) int64 {
	return int64(roundIndex)<<32 | (phaseSeq & 0xffffffff)
}

// FinalKey orders MATCH_END after every round event.
const FinalKey int64 = 1<<62 - 1
