package service

import (
	"context"
	"sync"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// MemorySessionStore is an in-memory implementation of SessionStore.
// Suitable for single-instance deployments.
type MemorySessionStore struct {
	sessions map[string]*domain.SessionRecord // sessionID -> record
	mu       sync.RWMutex
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*domain.SessionRecord),
	}
}

// Save stores or updates a session record.
func (s *MemorySessionStore) Save(ctx context.Context, record *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Make a copy to prevent external modifications
	recordCopy := *record
	s.sessions[record.SessionID] = &recordCopy
	return nil
}

// Get retrieves a session by id.
func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.sessions[sessionID]
	if !exists {
		return nil, nil
	}

	// Return a copy to prevent external modifications
	recordCopy := *record
	return &recordCopy, nil
}

// GetLive retrieves the live session for a room.
func (s *MemorySessionStore) GetLive(ctx context.Context, roomID string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.sessions {
		if record.RoomID == roomID && record.IsLive() {
			recordCopy := *record
			return &recordCopy, nil
		}
	}
	return nil, nil
}

// List returns the sessions of a room, newest first.
func (s *MemorySessionStore) List(ctx context.Context, roomID string, limit int) ([]*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SessionRecord, 0, len(s.sessions))
	for _, record := range s.sessions {
		if record.RoomID != roomID {
			continue
		}
		recordCopy := *record
		result = append(result, &recordCopy)
	}
	return sortNewestFirst(result, limit), nil
}

// Delete removes a session from the store.
func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Ensure MemorySessionStore implements SessionStore interface
var _ SessionStore = (*MemorySessionStore)(nil)
