package client

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MemoryStorage keeps objects in process memory. It backs development
// setups without a bucket and the test suites.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]Image
	baseURL string
}

// NewMemoryStorage creates an in-memory store whose public URLs start with baseURL
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStorage{
		objects: make(map[string]Image),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *MemoryStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read object body: %w", err)
	}

	s.mu.Lock()
	s.objects[key] = Image{Data: data, ContentType: contentType}
	s.mu.Unlock()

	return s.GetPublicURL(key), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("%s?expires=%d", s.GetPublicURL(key), time.Now().Add(expiry).Unix()), nil
}

func (s *MemoryStorage) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}

// Object returns a stored object
func (s *MemoryStorage) Object(key string) (Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Keys lists stored keys
func (s *MemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
