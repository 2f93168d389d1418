package realtime

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestRealtimeProtocolSchema(t *testing.T) {
	compiler := jsonschema.NewCompiler()
	data, err := os.ReadFile("../../api/schema/realtime_v1.schema.json")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if err := compiler.AddResource("realtime_v1.schema.json", strings.NewReader(string(data))); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	schema, err := compiler.Compile("realtime_v1.schema.json")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	step, total := 0, 1
	winner := "p1"
	events := []Event{
		RoundStart{Type: EventRoundStart, MatchID: "m", RoundID: "r", RoundIndex: 1, TotalRounds: 5,
			Question: QuestionView{ID: "q", Stem: "2+2?", Steps: []StepView{{ID: "s1", Prompt: "sum"}}}, ThinkingEndsAt: now},
		PhaseChange{Type: EventPhaseChange, MatchID: "m", RoundID: "r", RoundIndex: 1, Phase: "choosing", PhaseSeq: 1,
			ChoosingEndsAt: &now, Options: []OptionView{{ID: "a", Text: "4"}, {ID: "b", Text: "5"}},
			CurrentStepIndex: &step, TotalSteps: &total},
		RoundResult{Type: EventRoundResult, MatchID: "m", RoundID: "r", RoundIndex: 1, PhaseSeq: 2, QuestionID: "q",
			CorrectOptionID: "a", PlayerResults: []PlayerResult{{PlayerID: "p1", Correct: true, CorrectSteps: 1, TimeTakenMS: 900, ScoreDelta: 10}},
			TugOfWar: 10, P1Score: 10, NextAt: now},
		MatchEnd{Type: EventMatchEnd, MatchID: "m", WinnerPlayerID: &winner,
			Summary:    MatchSummary{P1: "p1", P2: "p2", P1Score: 30, P2Score: 10, RoundsPlayed: 5, Reason: "rounds_complete"},
			MMRChanges: map[string]int{"p1": 16, "p2": -16}},
		MatchEnd{Type: EventMatchEnd, MatchID: "m", Summary: MatchSummary{P1: "p1", P2: "p1", Reason: "forfeit"}},
		AnswerAck{Type: EventAnswerAck, MatchID: "m", RoundID: "r", StepID: "s1", Answer: 1},
		ErrorEvent{Type: EventError, Code: "phase_already_advanced"},
		GraceStarted{Type: EventGraceStarted, MatchID: "m", PlayerID: "p2", GraceMS: 30000, DeadlineAt: now},
		OfferCreated{Type: EventOfferCreated, OfferID: "o", P1: "p1", P2: "p2", Subject: "math", Level: "A1", ExpiresAt: now},
		MatchCreated{Type: EventMatchCreated, MatchID: "m", OfferID: "o", RoundID: "r"},
	}
	samples := make([]string, 0, len(events)+2)
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %s: %v", ev.EventType(), err)
		}
		samples = append(samples, string(b))
	}
	samples = append(samples,
		`{"type":"answer_submit","questionId":"q","stepId":"s1","answer":2}`,
		`{"type":"ready_for_options","matchId":"m"}`,
	)

	for i, s := range samples {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			t.Fatalf("unmarshal sample %d: %v", i, err)
		}
		if err := schema.Validate(v); err != nil {
			t.Fatalf("schema validate sample %d (%s): %v", i, s, err)
		}
	}

	bad := `{"type":"ROUND_RESULT","matchId":"m"}`
	var v any
	_ = json.Unmarshal([]byte(bad), &v)
	if err := schema.Validate(v); err == nil {
		t.Fatal("expected incomplete round result to fail validation")
	}
}
