package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrStateNotFound is returned by TakeOnce when no login state exists for the
// key: never issued, expired, or already consumed.
var ErrStateNotFound = errors.New("sso: login state not found")

// LoginState is what the callback needs to recover the in-flight attempt: the
// provider it was issued for, the RelayState that must come back unchanged,
// and where to send the browser afterwards.
type LoginState struct {
	Provider   string    `json:"provider"`
	RelayState string    `json:"relay_state"`
	ReturnURL  string    `json:"return_url,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

// RelayStateStore is a TTL-bound, take-once key-value store for in-flight
// login attempts. Keys are browser-session scoped, not global, so the service
// stays stateless across instances when backed by Redis.
type RelayStateStore interface {
	// Put stores state under key for at most ttl.
	Put(ctx context.Context, key string, state *LoginState, ttl time.Duration) error

	// TakeOnce removes and returns the state for key. A second call for the
	// same key returns ErrStateNotFound.
	TakeOnce(ctx context.Context, key string) (*LoginState, error)
}

// MemoryRelayStateStore is the single-instance backend.
type MemoryRelayStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryStateEntry
}

type memoryStateEntry struct {
	state     *LoginState
	expiresAt time.Time
}

// NewMemoryRelayStateStore creates an empty in-memory store.
func NewMemoryRelayStateStore() *MemoryRelayStateStore {
	return &MemoryRelayStateStore{entries: make(map[string]memoryStateEntry)}
}

func (s *MemoryRelayStateStore) Put(ctx context.Context, key string, state *LoginState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryStateEntry{state: state, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryRelayStateStore) TakeOnce(ctx context.Context, key string) (*LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.entries, key)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrStateNotFound
	}
	return entry.state, nil
}

// Purge drops expired entries and returns how many were removed. Run
// periodically; TakeOnce already ignores expired entries.
func (s *MemoryRelayStateStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RedisRelayStateStore is the multi-instance backend. Redis expiry enforces
// the TTL and GETDEL makes consumption atomic.
type RedisRelayStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRelayStateStore creates a store on an existing client.
func NewRedisRelayStateStore(client *redis.Client) *RedisRelayStateStore {
	return &RedisRelayStateStore{client: client, prefix: "samlgate:login:"}
}

func (s *RedisRelayStateStore) Put(ctx context.Context, key string, state *LoginState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal login state: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store login state: %w", err)
	}
	return nil
}

func (s *RedisRelayStateStore) TakeOnce(ctx context.Context, key string) (*LoginState, error) {
	data, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to take login state: %w", err)
	}

	var state LoginState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login state: %w", err)
	}
	return &state, nil
}
