// Package memory keeps mirrored captures in memory for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Object is one mirrored capture.
type Object struct {
	Path        string
	ContentType string
	Data        []byte
}

// BlobStore stores captures in-memory and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	failErr error
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string]Object),
	}
}

// FailWith makes subsequent PutObject calls return err. Pass nil to recover.
func (s *BlobStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// PutObject stores a copy of data under path and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	s.objects[path] = Object{
		Path:        path,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored object.
func (s *BlobStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Paths lists stored paths in sorted order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for p := range s.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
