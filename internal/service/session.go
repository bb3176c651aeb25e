package service

import (
	"context"
	"sort"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// SessionStore keeps the record of every broadcast session.
// This interface abstracts the storage backend, allowing for different implementations:
// - MemorySessionStore: Single-instance deployment (in-memory map)
// - RedisSessionStore: Multi-instance deployment (Redis, so other services can see the studio state)
type SessionStore interface {
	// Save stores or updates a session record.
	Save(ctx context.Context, record *domain.SessionRecord) error

	// Get retrieves a session by id.
	// Returns nil if the session does not exist.
	Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// GetLive retrieves the live session for a room.
	// Returns nil if the room is not live.
	GetLive(ctx context.Context, roomID string) (*domain.SessionRecord, error)

	// List returns the sessions of a room, newest first, at most limit (0 = all).
	List(ctx context.Context, roomID string, limit int) ([]*domain.SessionRecord, error)

	// Delete removes a session from the store.
	Delete(ctx context.Context, sessionID string) error
}

// sortNewestFirst orders records by start time, newest first, and applies limit.
func sortNewestFirst(records []*domain.SessionRecord, limit int) []*domain.SessionRecord {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
