package identity

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"formhub/api/internal/store"
)

const cacheTTL = 60 * time.Second

// cachedUser is the JSON shape stored per resolved token.
type cachedUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Blocked bool   `json:"blocked"`
}

// Cache is a Redis-backed cache of resolved callers keyed by token hash.
// The short TTL bounds how long a role change or block takes to propagate.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return NewCacheWithClient(client), nil
}

// NewCacheWithClient wraps an existing Redis client.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "caller:"}
}

func (c *Cache) key(tokenHash string) string {
	return c.prefix + tokenHash
}

func (c *Cache) Get(ctx context.Context, tokenHash string) (store.User, bool) {
	raw, err := c.client.Get(ctx, c.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.User{}, false
	}
	if err != nil {
		log.Printf("identity: cache get: %v", err)
		return store.User{}, false
	}

	var cached cachedUser
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		log.Printf("identity: cache decode: %v", err)
		return store.User{}, false
	}
	return store.User{
		ID:      cached.ID,
		Email:   cached.Email,
		Name:    cached.Name,
		Role:    cached.Role,
		Blocked: cached.Blocked,
	}, true
}

// Put stores a resolved caller. Failures are logged and ignored; the cache
// is an optimization, not a source of truth.
func (c *Cache) Put(ctx context.Context, tokenHash string, user store.User) {
	raw, err := json.Marshal(cachedUser{
		ID:      user.ID,
		Email:   user.Email,
		Name:    user.Name,
		Role:    user.Role,
		Blocked: user.Blocked,
	})
	if err != nil {
		log.Printf("identity: cache encode: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.key(tokenHash), raw, cacheTTL).Err(); err != nil {
		log.Printf("identity: cache put: %v", err)
	}
}

// Invalidate drops every cached caller. Admin user operations call this so
// role changes and blocks take effect immediately instead of at TTL expiry.
func (c *Cache) Invalidate(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Printf("identity: cache invalidate: %v", err)
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("identity: cache scan: %v", err)
	}
}
