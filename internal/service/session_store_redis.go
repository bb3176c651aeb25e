package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/studio-service/internal/config"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// RedisSessionStore is a Redis-backed implementation of SessionStore.
// Records live under {prefix}{sessionID}; each room keeps a sorted index
// {prefix}room:{roomID} scored by start time and a {prefix}live:{roomID}
// pointer while a session is on air.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSessionStore creates a new Redis-backed session store.
func NewRedisSessionStore(cfg config.SessionRedisConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSessionStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       time.Duration(cfg.TTL) * time.Second,
	}, nil
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

func (s *RedisSessionStore) roomKey(roomID string) string {
	return s.keyPrefix + "room:" + roomID
}

func (s *RedisSessionStore) liveKey(roomID string) string {
	return s.keyPrefix + "live:" + roomID
}

// Save stores or updates a session record.
func (s *RedisSessionStore) Save(ctx context.Context, record *domain.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.SessionID), data, s.ttl)
		pipe.ZAdd(ctx, s.roomKey(record.RoomID), redis.Z{
			Score:  float64(record.StartedAt.UnixMilli()),
			Member: record.SessionID,
		})
		if record.IsLive() {
			pipe.Set(ctx, s.liveKey(record.RoomID), record.SessionID, s.ttl)
		} else {
			pipe.Del(ctx, s.liveKey(record.RoomID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}

	return nil
}

// Get retrieves a session by id.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &record, nil
}

// GetLive retrieves the live session for a room.
func (s *RedisSessionStore) GetLive(ctx context.Context, roomID string) (*domain.SessionRecord, error) {
	sessionID, err := s.client.Get(ctx, s.liveKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get live session from redis: %w", err)
	}

	record, err := s.Get(ctx, sessionID)
	if err != nil || record == nil || !record.IsLive() {
		return nil, err
	}
	return record, nil
}

// List returns the sessions of a room, newest first.
func (s *RedisSessionStore) List(ctx context.Context, roomID string, limit int) ([]*domain.SessionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, s.roomKey(roomID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	// Use MGET to fetch all sessions at once
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	result := make([]*domain.SessionRecord, 0, len(values))
	for _, val := range values {
		if val == nil {
			// Expired record still in the room index.
			continue
		}

		data, ok := val.(string)
		if !ok {
			continue
		}

		var record domain.SessionRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		result = append(result, &record)
	}

	return result, nil
}

// Delete removes a session from the store.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	record, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.ZRem(ctx, s.roomKey(record.RoomID), sessionID)
		if record.IsLive() {
			pipe.Del(ctx, s.liveKey(record.RoomID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// Ensure RedisSessionStore implements SessionStore interface
var _ SessionStore = (*RedisSessionStore)(nil)
