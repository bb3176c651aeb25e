package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// Object is content to store. Metadata keys should be lower-case ASCII;
// backends may normalize them.
type Object struct {
	Key         string
	Body        io.Reader
	Size        int64 // -1 if unknown
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is where finalized recordings are exported to and served from.
type Storage interface {
	// Put stores the object, replacing any object with the same key.
	Put(ctx context.Context, obj Object) error

	// Open returns the content of key; the caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Stat describes key without reading it.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List describes every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a location a client can fetch key from. S3 presigns for ttl;
	// local storage returns a path relative to its base.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Type  string      `mapstructure:"type"` // "local", "s3"
	Local LocalConfig `mapstructure:"local"`
	S3    S3Config    `mapstructure:"s3"`
}

// New builds the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "local", "":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
