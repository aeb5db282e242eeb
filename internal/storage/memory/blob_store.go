package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// BlobStore keeps uploaded artifacts in memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject stores a copy of the reader's content under name.
func (s *BlobStore) PutObject(_ context.Context, name string, _ string, r io.Reader) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", name, err)
	}
	s.mu.Lock()
	s.data[name] = content
	s.mu.Unlock()
	return "memory://" + name, nil
}

// UploadFiles stores the named files from dir, skipping missing ones.
func (s *BlobStore) UploadFiles(ctx context.Context, dir string, names []string) ([]string, error) {
	var uris []string
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name)) // #nosec G304 -- artifact names are fixed constants.
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return uris, fmt.Errorf("open %s: %w", name, err)
		}
		uri, err := s.PutObject(ctx, name, "", f)
		_ = f.Close()
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// Object returns the stored content of name.
func (s *BlobStore) Object(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.data[name]
	return content, ok
}

// Names lists the stored objects in lexical order.
func (s *BlobStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
