// Package sessionstore keeps supervisory session records outside the
// process so they expire with the session and survive restarts.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pmuci/pointage/internal/domain/model"
)

const keyPrefix = "pointage:session:"

// Redis stores sessions as JSON under a TTL equal to the idle time left.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps a connected client. The client lifecycle stays with the caller.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Dial parses url, connects and pings.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (r *Redis) Save(ctx context.Context, s model.Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.Set(ctx, keyPrefix+s.ID, raw, ttl).Err()
}

// Refresh extends the TTL of a live session.
func (r *Redis) Refresh(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, keyPrefix+id, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, keyPrefix+id).Err()
}

// Load returns a live session and the idle time its key has left.
func (r *Redis) Load(ctx context.Context, id string) (model.Session, time.Duration, error) {
	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, keyPrefix+id)
	ttl := pipe.PTTL(ctx, keyPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return model.Session{}, 0, err
	}
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Session{}, 0, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Session{}, 0, err
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Session{}, 0, fmt.Errorf("unmarshal session: %w", err)
	}
	left := ttl.Val()
	if left <= 0 {
		return model.Session{}, 0, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return s, left, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// Memory is the single-process Store used when no Redis is configured.
type Memory struct {
	mu    sync.Mutex
	clock func() time.Time
	items map[string]memoryItem
}

type memoryItem struct {
	session model.Session
	expires time.Time
}

// NewMemory creates an empty store. A nil clock means time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{clock: clock, items: make(map[string]memoryItem)}
}

func (m *Memory) Save(_ context.Context, s model.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ID] = memoryItem{session: s, expires: m.clock().Add(ttl)}
	return nil
}

func (m *Memory) Refresh(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.liveLocked(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	it.expires = m.clock().Add(ttl)
	m.items[id] = it
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (model.Session, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.liveLocked(id)
	if !ok {
		return model.Session{}, 0, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return it.session, it.expires.Sub(m.clock()), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// liveLocked returns the item of id unless it expired, evicting it then.
func (m *Memory) liveLocked(id string) (memoryItem, bool) {
	it, ok := m.items[id]
	if !ok {
		return memoryItem{}, false
	}
	if !m.clock().Before(it.expires) {
		delete(m.items, id)
		return memoryItem{}, false
	}
	return it, true
}
