package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStorage routes calls to primary and switches to fallback while primary is failing.
// Once marked down, primary is retried after recoveryInterval. Keys written to fallback
// during the outage are copied back to primary before it serves reads again.
type FailoverStorage struct {
	primary  Storage
	fallback Storage
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	dirty     map[string]struct{}
}

// NewFailoverStorage creates a FailoverStorage.
func NewFailoverStorage(primary, fallback Storage, logger *zerolog.Logger) *FailoverStorage {
	return &FailoverStorage{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		dirty:    make(map[string]struct{}),
	}
}

// usePrimary reports whether the next call should try primary. A recovery attempt
// first replays the keys written during the outage; if that fails primary stays down.
func (s *FailoverStorage) usePrimary(ctx context.Context) bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isDown.Load() {
		return true
	}
	if time.Since(s.lastCheck) < recoveryInterval {
		return false
	}
	if len(s.dirty) == 0 {
		return true
	}
	if err := s.resyncLocked(ctx); err != nil {
		s.lastCheck = time.Now()
		s.logger.Warn().Err(err).Int("keys", len(s.dirty)).Msg("primary storage resync failed, staying on fallback")
		return false
	}
	return true
}

// resyncLocked copies the fallback's current value of every dirty key to primary.
func (s *FailoverStorage) resyncLocked(ctx context.Context) error {
	entries := make(map[string]string, len(s.dirty))
	for key := range s.dirty {
		val, ok, err := s.fallback.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			entries[key] = val
		}
	}
	if len(entries) > 0 {
		if err := s.primary.SetMulti(ctx, entries); err != nil {
			return err
		}
	}
	s.logger.Info().Int("keys", len(entries)).Msg("primary storage resynced from fallback")
	s.dirty = make(map[string]struct{})
	s.isDown.Store(false)
	return nil
}

func (s *FailoverStorage) markDown(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markDownLocked(op, err)
}

func (s *FailoverStorage) markDownLocked(op string, err error) {
	s.lastCheck = time.Now()
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("primary storage failed, switching to fallback")
	}
}

func (s *FailoverStorage) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("primary storage recovered")
	}
}

// writeFallback stores entries in fallback and remembers their keys for the resync.
// It holds mu so a write cannot slip between a resync and the switch back to primary.
func (s *FailoverStorage) writeFallback(ctx context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isDown.Load() {
		// Primary recovered while this write was waiting.
		err := s.primary.SetMulti(ctx, entries)
		if err == nil {
			return nil
		}
		s.markDownLocked("set_multi", err)
	}

	if err := s.fallback.SetMulti(ctx, entries); err != nil {
		return err
	}
	for key := range entries {
		s.dirty[key] = struct{}{}
	}
	return nil
}

func (s *FailoverStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if s.usePrimary(ctx) {
		val, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			s.markUp()
			return val, ok, nil
		}
		s.markDown("get", err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FailoverStorage) Set(ctx context.Context, key, value string) error {
	if s.usePrimary(ctx) {
		err := s.primary.Set(ctx, key, value)
		if err == nil {
			s.markUp()
			return nil
		}
		s.markDown("set", err)
	}
	return s.writeFallback(ctx, map[string]string{key: value})
}

func (s *FailoverStorage) SetMulti(ctx context.Context, entries map[string]string) error {
	if s.usePrimary(ctx) {
		err := s.primary.SetMulti(ctx, entries)
		if err == nil {
			s.markUp()
			return nil
		}
		s.markDown("set_multi", err)
	}
	return s.writeFallback(ctx, entries)
}

// Ping succeeds if either backend is reachable.
func (s *FailoverStorage) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err == nil {
		return nil
	}
	return s.fallback.Ping(ctx)
}
