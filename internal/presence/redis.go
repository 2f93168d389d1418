package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultRelayChannel = "quizduel:presence"

// RedisRelay shares presence changes between server instances over a Redis
// pub/sub channel. Publishing and subscribing use separate clients because a
// subscribed connection cannot issue other commands.
type RedisRelay struct {
	pub     *redis.Client
	sub     *redis.Client
	channel string
}

func NewRedisRelay(opts *redis.Options, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		pub:     redis.NewClient(opts),
		sub:     redis.NewClient(opts),
		channel: channel,
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.pub.Ping(ctx).Err()
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run feeds remote events into t until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, t *Tracker) error {
	ps := r.sub.Subscribe(ctx, r.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	log.Info().Str("channel", r.channel).Str("node", t.Node()).Msg("presence relay subscribed")
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("drop malformed presence relay message")
				continue
			}
			t.ApplyRemote(ev)
		}
	}
}

func (r *RedisRelay) Close() error {
	err := r.sub.Close()
	if perr := r.pub.Close(); err == nil {
		err = perr
	}
	return err
}
