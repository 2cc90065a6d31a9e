package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"flowoms/internal/redisclient"
)

const breakerKeyPrefix = "notify:cb:"

// CounterStore holds per-endpoint failure counters shared across workers.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisCounterStore backs the breaker with Redis so the failure count is
// shared by every worker process.
type RedisCounterStore struct {
	client *redisclient.Client
}

// NewRedisCounterStore wraps a Redis client as a CounterStore
func NewRedisCounterStore(client *redisclient.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.client.IncrFailure(ctx, key, ttl)
}

func (s *RedisCounterStore) Count(ctx context.Context, key string) (int64, error) {
	return s.client.FailureCount(ctx, key)
}

func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	return s.client.ResetFailures(ctx, key)
}

// MemoryCounterStore is a process-local CounterStore for tests and
// single-process deployments.
type MemoryCounterStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
}

// NewMemoryCounterStore creates an empty in-memory counter store
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
	}
}

func (s *MemoryCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	s.counts[key]++
	if s.counts[key] == 1 && ttl > 0 {
		s.expires[key] = time.Now().Add(ttl)
	}
	return s.counts[key], nil
}

func (s *MemoryCounterStore) Count(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return s.counts[key], nil
}

func (s *MemoryCounterStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
	delete(s.expires, key)
	return nil
}

func (s *MemoryCounterStore) expireLocked(key string) {
	if exp, ok := s.expires[key]; ok && time.Now().After(exp) {
		delete(s.counts, key)
		delete(s.expires, key)
	}
}

// Breaker is a per-endpoint circuit breaker. Failures accumulate in a shared
// counter keyed by a hash of the endpoint URL; at the threshold, sends
// short-circuit until the cooldown expires or a success resets the counter.
// The counter is best effort shared state, a brief overshoot of the
// threshold across racing workers is acceptable.
type Breaker struct {
	counters  CounterStore
	threshold int64
	cooldown  time.Duration
}

// NewBreaker creates a circuit breaker over the given counter store
func NewBreaker(counters CounterStore, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		counters:  counters,
		threshold: int64(threshold),
		cooldown:  cooldown,
	}
}

// Allow reports whether the endpoint's circuit is closed. Counter read
// errors fail open: a broken counter store must not block notifications.
func (b *Breaker) Allow(ctx context.Context, endpoint string) bool {
	count, err := b.counters.Count(ctx, breakerKey(endpoint))
	if err != nil {
		return true
	}
	return count < b.threshold
}

// RecordFailure counts one failed delivery. The cooldown doubles as the
// counter's TTL, so an idle endpoint heals by itself.
func (b *Breaker) RecordFailure(ctx context.Context, endpoint string) {
	_, _ = b.counters.Increment(ctx, breakerKey(endpoint), b.cooldown)
}

// RecordSuccess resets the endpoint's failure count to zero.
func (b *Breaker) RecordSuccess(ctx context.Context, endpoint string) {
	_ = b.counters.Reset(ctx, breakerKey(endpoint))
}

func breakerKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return breakerKeyPrefix + hex.EncodeToString(sum[:])
}
