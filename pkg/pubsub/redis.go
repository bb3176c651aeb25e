package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
}

// RedisPubSub implements PubSub over Redis PUBLISH/SUBSCRIBE.
type RedisPubSub struct {
	client *redis.Client
	logger zerolog.Logger

	mu            sync.Mutex
	subscriptions map[string]*redisSubscription
	closed        bool
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		logger:        pkglog.Component("pubsub").With().Str("driver", "redis").Logger(),
		subscriptions: make(map[string]*redisSubscription),
	}, nil
}

// Publish publishes an event to the channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to a channel. It returns once Redis has confirmed the
// subscription, so events published afterwards are not missed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ps := r.client.Subscribe(subCtx, channel)
	if _, err := ps.Receive(subCtx); err != nil {
		cancel()
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{ps: ps, cancel: cancel}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		ps.Close()
		return nil, ErrClosed
	}
	if existing, ok := r.subscriptions[channel]; ok {
		existing.cancel()
		existing.ps.Close()
	}
	r.subscriptions[channel] = sub
	r.mu.Unlock()

	eventCh := make(chan *Event, subscriptionBuffer)
	go r.processMessages(subCtx, channel, sub, eventCh)

	return eventCh, nil
}

// Unsubscribe ends the subscription for a channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	sub, ok := r.subscriptions[channel]
	delete(r.subscriptions, channel)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	sub.cancel()
	return sub.ps.Close()
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	subs := r.subscriptions
	r.subscriptions = make(map[string]*redisSubscription)
	r.closed = true
	r.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.ps.Close()
	}
	return r.client.Close()
}

// processMessages decodes messages until the subscription ends.
func (r *RedisPubSub) processMessages(ctx context.Context, channel string, sub *redisSubscription, eventCh chan<- *Event) {
	defer close(eventCh)
	defer func() {
		r.mu.Lock()
		if r.subscriptions[channel] == sub {
			delete(r.subscriptions, channel)
			sub.ps.Close()
		}
		r.mu.Unlock()
	}()

	ch := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn().Err(err).Str("channel", channel).Msg("failed to unmarshal event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message
				r.logger.Debug().Str("channel", channel).Str("type", event.Type).Msg("subscriber full, event dropped")
			}
		}
	}
}

var _ PubSub = (*RedisPubSub)(nil)
