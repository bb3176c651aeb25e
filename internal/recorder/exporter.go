package recorder

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/weiawesome/wes-io-live/studio-service/pkg/storage"
)

// Metadata keys stored with every exported recording.
const (
	metaSessionID = "session_id"
	metaStartedAt = "started_at" // unix millis
	metaEndedAt   = "ended_at"   // unix millis
	metaChunks    = "chunks"
)

// Exporter hands a finalized artifact to durable storage and returns where it went.
type Exporter interface {
	Export(ctx context.Context, a *Artifact) (string, error)
}

// StorageExporter writes artifacts through a storage backend.
type StorageExporter struct {
	store  storage.Storage
	prefix string
	urlTTL time.Duration
}

// NewStorageExporter creates an exporter writing under prefix.
func NewStorageExporter(store storage.Storage, prefix string) *StorageExporter {
	return &StorageExporter{
		store:  store,
		prefix: cleanPrefix(prefix),
		urlTTL: 24 * time.Hour,
	}
}

// Export writes the artifact and returns its URL, or its key when no URL can be made.
func (e *StorageExporter) Export(ctx context.Context, a *Artifact) (string, error) {
	key := a.Key(e.prefix)
	err := e.store.Put(ctx, storage.Object{
		Key:         key,
		Body:        bytes.NewReader(a.Data),
		Size:        a.Size,
		ContentType: a.MimeType,
		Metadata: map[string]string{
			metaSessionID: a.SessionID,
			metaStartedAt: strconv.FormatInt(a.StartedAt.UnixMilli(), 10),
			metaEndedAt:   strconv.FormatInt(a.EndedAt.UnixMilli(), 10),
			metaChunks:    strconv.Itoa(a.Chunks),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to export %s: %w", a.Name, err)
	}

	url, err := e.store.URL(ctx, key, e.urlTTL)
	if err != nil {
		return key, nil
	}
	return url, nil
}
