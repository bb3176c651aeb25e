package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// metaSuffix marks the sidecar holding an object's content type and metadata.
const metaSuffix = ".meta.json"

type localMeta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// LocalStorage stores objects as files under a base directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "./recordings"
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &LocalStorage{basePath: absPath}, nil
}

// fullPath maps a key into the base directory; keys cannot escape it.
func (s *LocalStorage) fullPath(key string) string {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	return filepath.Join(s.basePath, clean)
}

// Put writes the object and its sidecar, each through a temp file and rename.
func (s *LocalStorage) Put(ctx context.Context, obj Object) error {
	if strings.HasSuffix(obj.Key, metaSuffix) {
		return fmt.Errorf("key %s uses a reserved suffix", obj.Key)
	}
	path := s.fullPath(obj.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(path, obj.Body); err != nil {
		return err
	}

	meta, err := json.Marshal(localMeta{ContentType: obj.ContentType, Metadata: obj.Metadata})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeAtomic(path+metaSuffix, strings.NewReader(string(meta))); err != nil {
		return err
	}
	return nil
}

func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Open opens the object for reading.
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(s.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, ObjectInfo{}, fmt.Errorf("failed to open file: %w", err)
	}
	return f, info, nil
}

// Stat describes the object from the file and its sidecar.
func (s *LocalStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if strings.HasSuffix(key, metaSuffix) {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	path := s.fullPath(key)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if fi.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return s.describe(path, fi), nil
}

func (s *LocalStorage) describe(path string, fi os.FileInfo) ObjectInfo {
	rel, _ := filepath.Rel(s.basePath, path)
	info := ObjectInfo{
		Key:          filepath.ToSlash(rel),
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}
	if data, err := os.ReadFile(path + metaSuffix); err == nil {
		var meta localMeta
		if json.Unmarshal(data, &meta) == nil {
			info.ContentType = meta.ContentType
			info.Metadata = meta.Metadata
		}
	}
	return info
}

// List walks the directory named by prefix, or returns the single object it names.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := s.fullPath(prefix)
	fi, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ObjectInfo{}, nil
		}
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !fi.IsDir() {
		return []ObjectInfo{s.describe(root, fi)}, nil
	}

	objects := []ObjectInfo{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".tmp-") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, s.describe(path, fi))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return objects, nil
}

// Delete removes the object and its sidecar.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	path := s.fullPath(key)
	for _, p := range []string{path, path + metaSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	return nil
}

// URL returns the key as a path relative to the base, for serving over HTTP.
func (s *LocalStorage) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	return "/" + info.Key, nil
}

var _ Storage = (*LocalStorage)(nil)
