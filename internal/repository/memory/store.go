// Package memory provides single-process implementations of the gateway's
// storage backends. They back tests and development runs where Redis,
// MinIO, Kafka, Scylla, ClickHouse or Elasticsearch are not reachable.
package memory

import (
	"context"
	"errors"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned by every backend after SetHealthy(false).
var ErrUnavailable = errors.New("memory backend unavailable")

type health struct {
	down atomic.Bool
}

// SetHealthy toggles simulated outages.
func (h *health) SetHealthy(v bool) {
	h.down.Store(!v)
}

func (h *health) check() error {
	if h.down.Load() {
		return ErrUnavailable
	}
	return nil
}

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory key/value store with Redis-like expiry semantics.
type Store struct {
	health
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*entry
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, entries: make(map[string]*entry)}
}

// lookupLocked returns the live entry for key, evicting it when expired.
func (s *Store) lookupLocked(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Store) ttlLocked(e *entry) time.Duration {
	if e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(s.now())
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.check()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookupLocked(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) GetWithTTL(ctx context.Context, key string) (string, time.Duration, bool, error) {
	if err := s.check(); err != nil {
		return "", 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookupLocked(key)
	if e == nil {
		return "", 0, false, nil
	}
	return e.value, s.ttlLocked(e), true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupLocked(key) != nil {
		return false, nil
	}
	s.entries[key] = &entry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *Store) incrLocked(key string) (*entry, int64, error) {
	e := s.lookupLocked(key)
	if e == nil {
		e = &entry{value: "0"}
		s.entries[key] = e
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return nil, 0, errors.New("value is not an integer")
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return e, n, nil
}

// IncrWithExpire increments key and refreshes its TTL on every call.
func (s *Store) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, n, err := s.incrLocked(key)
	if err != nil {
		return 0, err
	}
	e.expiresAt = s.expiry(ttl)
	return n, nil
}

// IncrWindow increments a fixed-window counter whose expiry is set by the
// increment that creates it.
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := s.check(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, n, err := s.incrLocked(key)
	if err != nil {
		return 0, 0, err
	}
	if n == 1 || e.expiresAt.IsZero() {
		e.expiresAt = s.expiry(window)
	}
	return n, s.ttlLocked(e), nil
}

func (s *Store) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookupLocked(key)
	if e == nil || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookupLocked(key)
	if e == nil {
		return 0, nil
	}
	return s.ttlLocked(e), nil
}

// ScanKeys returns live keys matching a Redis-style glob, sorted. limit <= 0
// means no limit.
func (s *Store) ScanKeys(ctx context.Context, pattern string, limit int) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	candidates := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if s.lookupLocked(k) != nil && matchGlob(pattern, k) {
			candidates = append(candidates, k)
		}
	}
	s.mu.Unlock()

	sort.Strings(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func matchGlob(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(pattern[:len(pattern)-1], "*?[") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
