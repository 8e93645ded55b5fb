package legacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"otzaria/pkg/storage"
)

// Source yields the documents of one legacy dump.
type Source interface {
	Name() string
	Documents(ctx context.Context) ([]any, error)
}

// FileSource reads a dump from the local filesystem.
type FileSource struct {
	Path string
}

// NewFileSource returns a source for a local dump file.
func NewFileSource(path string) FileSource {
	return FileSource{Path: path}
}

func (s FileSource) Name() string { return s.Path }

// Documents loads the file; a missing file yields no documents.
func (s FileSource) Documents(ctx context.Context) ([]any, error) {
	return LoadFile(s.Path)
}

// ObjectSource reads a dump from object storage.
type ObjectSource struct {
	Store  storage.ObjectStore
	Bucket string
	Key    string
}

func (s ObjectSource) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, strings.TrimPrefix(s.Key, "/"))
}

// Documents downloads and decodes the object; a missing object yields no documents.
func (s ObjectSource) Documents(ctx context.Context) ([]any, error) {
	rc, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("legacy dump not found", "object", s.Name())
			return nil, nil
		}
		return nil, fmt.Errorf("get dump %s: %w", s.Name(), err)
	}
	defer rc.Close()
	docs, err := LoadReader(rc)
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", s.Name(), err)
	}
	return docs, nil
}

// StaticSource serves documents held in memory.
type StaticSource struct {
	Label string
	Docs  []any
}

func (s StaticSource) Name() string { return s.Label }

func (s StaticSource) Documents(ctx context.Context) ([]any, error) {
	return s.Docs, nil
}
