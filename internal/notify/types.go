package notify

import (
	"context"
	"time"

	"quizduel/internal/notify/platforms"
	"quizduel/internal/store"
)

const (
	ScopeAll  = "all"
	ScopeUser = "user"
)

// Repository is the slice of the store the dispatcher reads from.
type Repository interface {
	ListUndeliveredNotifications(ctx context.Context, limit int) ([]store.MatchNotification, error)
	MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error
	GetMatch(ctx context.Context, id string) (*store.Match, error)
	GetPlayer(ctx context.Context, id string) (*store.Player, error)
}

type Target struct {
	Platform   string `json:"platform"`
	Endpoint   string `json:"endpoint"`
	Secret     string `json:"secret"`
	ScopeType  string `json:"scope_type"`
	ScopeValue string `json:"scope_value"`
	Enabled    bool   `json:"enabled"`
}

type Config struct {
	Enabled             bool
	Targets             []Target
	Workers             int
	RetryMax            int
	RetryBase           time.Duration
	PollInterval        time.Duration
	BatchSize           int
	FailureThreshold    int
	CircuitOpenDuration time.Duration
	RequestTimeout      time.Duration
	DispatchBuffer      int
}

type pushJob struct {
	Target         Target
	NotificationID string
	Message        platforms.Message
	Attempt        int
}

func (j pushJob) key() string {
	return targetKey(j.Target)
}

func targetKey(t Target) string {
	return t.Platform + "|" + t.Endpoint + "|" + t.ScopeType + "|" + t.ScopeValue
}
