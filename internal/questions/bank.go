package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

type bucket struct {
	subject string
	level   string
}

// Bank is an in-memory question set grouped by (subject, level). Pick walks a
// bucket in file order and returns the first question not excluded.
type Bank struct {
	mu      sync.RWMutex
	buckets map[bucket][]Question
}

func NewBank(qs []Question) (*Bank, error) {
	b := &Bank{buckets: map[bucket][]Question{}}
	seen := map[string]struct{}{}
	for _, q := range qs {
		if strings.TrimSpace(q.ID) == "" {
			return nil, fmt.Errorf("question without id in subject %q", q.Subject)
		}
		if _, ok := seen[q.ID]; ok {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		k := bucket{subject: normalize(q.Subject), level: normalize(q.Level)}
		b.buckets[k] = append(b.buckets[k], q)
	}
	return b, nil
}

// LoadBank reads a JSON array of questions. An empty path yields the
// built-in set.
func LoadBank(path string) (*Bank, error) {
	if strings.TrimSpace(path) == "" {
		return NewBank(Default())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var qs []Question
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	return NewBank(qs)
}

func (b *Bank) Pick(ctx context.Context, subject, level string, exclude []string) (Question, error) {
	if err := ctx.Err(); err != nil {
		return Question{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, q := range b.buckets[bucket{subject: normalize(subject), level: normalize(level)}] {
		if slices.Contains(exclude, q.ID) {
			continue
		}
		return q, nil
	}
	return Question{}, ErrNoQuestion
}

func (b *Bank) Grade(q Question, stepID string, optionIndex int) (bool, error) {
	return GradeStep(q, stepID, optionIndex)
}

// Count returns the number of questions in a bucket.
func (b *Bank) Count(subject, level string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buckets[bucket{subject: normalize(subject), level: normalize(level)}])
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
