package impl

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TTLCacheService backs the classification cache. Redis is preferred so all
// gateway processes share refinement results; when Redis is absent or
// failing it degrades to a per-process map. Callers never see an error.
type TTLCacheService struct {
	redis  *redis.Client
	logger *logrus.Logger

	mu  sync.RWMutex
	mem map[string]memCacheEntry
}

type memCacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewTTLCacheService builds the cache. redisClient may be nil.
func NewTTLCacheService(redisClient *redis.Client, logger *logrus.Logger) *TTLCacheService {
	return &TTLCacheService{
		redis:  redisClient,
		logger: logger,
		mem:    make(map[string]memCacheEntry),
	}
}

func (c *TTLCacheService) Get(ctx context.Context, key string) (string, bool) {
	if c.redis != nil {
		value, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			return value, true
		}
		if err == redis.Nil {
			return "", false
		}
		// Redis trouble: fall through to process memory.
	}

	c.mu.RLock()
	entry, ok := c.mem[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.mem, key)
		c.mu.Unlock()
		return "", false
	}
	return entry.value, true
}

func (c *TTLCacheService) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	if c.redis != nil {
		err := c.redis.Set(ctx, key, value, ttl).Err()
		if err == nil {
			return
		}
		c.logger.WithError(err).Debug("cache write falling back to memory")
	}

	c.mu.Lock()
	c.mem[key] = memCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}
