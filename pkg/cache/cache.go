package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// ReportKey holds the report of the last completed run
	ReportKey = "csvgraph:report:last"
	// LoadLockKey guards a load so two runs never clear the same backends
	LoadLockKey = "csvgraph:lock:load"
)

var (
	// ErrNotFound is returned when a key is absent or expired
	ErrNotFound = errors.New("key not found")
	// ErrLocked is returned when a lock is held by someone else
	ErrLocked = errors.New("lock is held")
)

// Cache interface defines caching operations
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Locker provides expiring mutual exclusion keyed by name
type Locker interface {
	// Acquire takes the lock and returns the token needed to release it
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Release frees the lock if it is still held with token
	Release(ctx context.Context, key, token string) error
}

// Store is a cache that can also hold locks
type Store interface {
	Cache
	Locker
}

// SetJSON stores value encoded as JSON
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// GetJSON decodes the JSON value stored under key into dst
func GetJSON(ctx context.Context, c Cache, key string, dst interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

type heldLock struct {
	token   string
	expires time.Time
}

// MemoryCache implements an in-memory LRU cache with TTL and process-local locks
type MemoryCache struct {
	cache *lru.LRU[string, []byte]
	locks map[string]heldLock
	mu    sync.Mutex
	now   func() time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: lru.NewLRU[string, []byte](size, nil, ttl),
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

// Set stores a value in the cache. Entries expire with the cache-wide TTL.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Add(key, value)
	return nil
}

// Delete removes a key from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(key)
	return nil
}

// Acquire takes a process-local lock
func (m *MemoryCache) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.locks[key]; ok && now.Before(held.expires) {
		return "", ErrLocked
	}
	token := uuid.NewString()
	m.locks[key] = heldLock{token: token, expires: now.Add(ttl)}
	return token, nil
}

// Release frees a process-local lock held with token
func (m *MemoryCache) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[key]
	if !ok || held.token != token {
		return ErrLocked
	}
	delete(m.locks, key)
	return nil
}

// Close purges the cache
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Purge()
	m.locks = make(map[string]heldLock)
	return nil
}

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements a Redis-backed cache and lock
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(host string, port int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

// Get retrieves a value from Redis
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.ttl
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes a key from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Acquire takes the lock with SET NX and an expiry
func (r *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLocked
	}
	return token, nil
}

// Release deletes the lock if it still carries token
func (r *RedisCache) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
