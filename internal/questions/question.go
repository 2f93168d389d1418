package questions

import (
	"context"
	"errors"
)

var (
	ErrNoQuestion       = errors.New("question_unavailable")
	ErrUnknownStep      = errors.New("unknown_step")
	ErrOptionOutOfRange = errors.New("option_out_of_range")
)

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Step struct {
	ID              string   `json:"id"`
	Prompt          string   `json:"prompt"`
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"correct_option_id"`
}

// Question is the full snapshot kept on a round, answers included. Clients
// only ever see the trimmed views built from it.
type Question struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Level   string `json:"level"`
	Stem    string `json:"stem"`
	Steps   []Step `json:"steps"`
}

// Source is the narrow interface the round engine uses to pick and grade
// questions.
type Source interface {
	Pick(ctx context.Context, subject, level string, exclude []string) (Question, error)
	Grade(q Question, stepID string, optionIndex int) (bool, error)
}

// HasOptions reports whether every step offers at least two choices and a
// correct option that exists.
func (q Question) HasOptions() bool {
	if len(q.Steps) == 0 {
		return false
	}
	for _, s := range q.Steps {
		if len(s.Options) < 2 || s.correctIndex() < 0 {
			return false
		}
	}
	return true
}

func (q Question) Step(id string) (Step, bool) {
	for _, s := range q.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// CorrectOptionID returns the correct option of the first step.
func (q Question) CorrectOptionID() string {
	if len(q.Steps) == 0 {
		return ""
	}
	return q.Steps[0].CorrectOptionID
}

func (s Step) correctIndex() int {
	for i, o := range s.Options {
		if o.ID == s.CorrectOptionID {
			return i
		}
	}
	return -1
}

// GradeStep checks optionIndex against the step's correct option.
func GradeStep(q Question, stepID string, optionIndex int) (bool, error) {
	s, ok := q.Step(stepID)
	if !ok {
		return false, ErrUnknownStep
	}
	if optionIndex < 0 || optionIndex >= len(s.Options) {
		return false, ErrOptionOutOfRange
	}
	return s.Options[optionIndex].ID == s.CorrectOptionID, nil
}
