// Package repository provides the local key-value storage backends.
package repository

import (
	"context"
	"sync"
)

// Storage is a durable local key-value store.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a single value.
	Set(ctx context.Context, key, value string) error
	// SetMulti stores all entries atomically: either every key is written or none is.
	SetMulti(ctx context.Context, entries map[string]string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]string)}
}

func (s *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryStorage) SetMulti(_ context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.m[k] = v
	}
	return nil
}

func (s *MemoryStorage) Ping(context.Context) error { return nil }
