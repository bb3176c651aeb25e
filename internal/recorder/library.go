package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/storage"
)

// Recording describes an exported artifact.
type Recording struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Chunks    int       `json:"chunks,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Library serves the recordings a StorageExporter wrote under the same prefix.
type Library struct {
	store  storage.Storage
	prefix string
}

// NewLibrary reads recordings stored under prefix.
func NewLibrary(store storage.Storage, prefix string) *Library {
	return &Library{store: store, prefix: cleanPrefix(prefix)}
}

// List returns recordings newest first. limit <= 0 returns all.
func (l *Library) List(ctx context.Context, limit int) ([]Recording, error) {
	objects, err := l.store.List(ctx, l.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	recs := make([]Recording, 0, len(objects))
	for _, obj := range objects {
		if rec, ok := l.recording(obj); ok {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].EndedAt.After(recs[j].EndedAt) })

	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Open returns the latest recording of a session.
func (l *Library) Open(ctx context.Context, sessionID string) (io.ReadCloser, Recording, error) {
	rec, err := l.find(ctx, sessionID)
	if err != nil {
		return nil, Recording{}, err
	}
	rc, info, err := l.store.Open(ctx, rec.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Recording{}, fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, sessionID)
		}
		return nil, Recording{}, err
	}
	if info.ContentType != "" {
		rec.MimeType = info.ContentType
	}
	if info.Size > 0 {
		rec.Size = info.Size
	}
	return rc, rec, nil
}

// Delete removes every recording of a session.
func (l *Library) Delete(ctx context.Context, sessionID string) error {
	objects, err := l.sessionObjects(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, sessionID)
	}
	for _, obj := range objects {
		if err := l.store.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("failed to delete recording: %w", err)
		}
	}
	return nil
}

func (l *Library) find(ctx context.Context, sessionID string) (Recording, error) {
	objects, err := l.sessionObjects(ctx, sessionID)
	if err != nil {
		return Recording{}, err
	}
	var latest Recording
	found := false
	for _, obj := range objects {
		rec, ok := l.recording(obj)
		if ok && (!found || rec.EndedAt.After(latest.EndedAt)) {
			latest, found = rec, true
		}
	}
	if !found {
		return Recording{}, fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, sessionID)
	}
	return latest, nil
}

func (l *Library) sessionObjects(ctx context.Context, sessionID string) ([]storage.ObjectInfo, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || sessionID == "." || sessionID == ".." {
		return nil, fmt.Errorf("%w: %q", domain.ErrRecordingNotFound, sessionID)
	}
	objects, err := l.store.List(ctx, path.Join(l.prefix, sessionID)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return objects, nil
}

// recording decodes <prefix>/<sessionID>/stream-<ms>.webm plus its metadata.
// Metadata is preferred; the key alone is enough when a backend drops it.
func (l *Library) recording(obj storage.ObjectInfo) (Recording, bool) {
	rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, l.prefix), "/")
	sessionID, name, ok := strings.Cut(rel, "/")
	if !ok || strings.Contains(name, "/") || !strings.HasSuffix(name, ".webm") {
		return Recording{}, false
	}

	rec := Recording{
		SessionID: sessionID,
		Name:      name,
		Key:       obj.Key,
		MimeType:  WebMMimeType,
		Size:      obj.Size,
		EndedAt:   obj.LastModified,
	}
	if ms, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "stream-"), ".webm"), 10, 64); err == nil {
		rec.EndedAt = time.UnixMilli(ms)
	}

	md := obj.Metadata
	if obj.ContentType != "" {
		rec.MimeType = obj.ContentType
	}
	if ms, ok := metaMillis(md, metaStartedAt); ok {
		rec.StartedAt = ms
	}
	if ms, ok := metaMillis(md, metaEndedAt); ok {
		rec.EndedAt = ms
	}
	if n, err := strconv.Atoi(md[metaChunks]); err == nil {
		rec.Chunks = n
	}
	return rec, true
}

func metaMillis(md map[string]string, key string) (time.Time, bool) {
	ms, err := strconv.ParseInt(md[key], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
