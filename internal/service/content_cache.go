package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aura/api/internal/model"
)

// ContentCache keeps fetched podcast content in Redis. A nil cache or an
// unreachable Redis behaves as a permanent miss.
type ContentCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewContentCache(redisClient *redis.Client, ttl time.Duration) *ContentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ContentCache{
		redis: redisClient,
		ttl:   ttl,
	}
}

func contentKey(jobID string) string {
	return fmt.Sprintf("podcast:content:%s", jobID)
}

// Get returns cached content for jobID
func (c *ContentCache) Get(ctx context.Context, jobID string) (*model.PodcastContent, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, contentKey(jobID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Content Cache] get %s: %v", jobID, err)
		}
		return nil, false
	}

	var content model.PodcastContent
	if err := json.Unmarshal(data, &content); err != nil {
		log.Printf("[Content Cache] corrupt entry for %s: %v", jobID, err)
		return nil, false
	}
	return &content, true
}

// Set stores content for jobID
func (c *ContentCache) Set(ctx context.Context, jobID string, content *model.PodcastContent) {
	if c == nil || c.redis == nil || content == nil {
		return
	}

	data, err := json.Marshal(content)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, contentKey(jobID), data, c.ttl).Err(); err != nil {
		log.Printf("[Content Cache] set %s: %v", jobID, err)
	}
}

// Delete drops the cached content for jobID
func (c *ContentCache) Delete(ctx context.Context, jobID string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, contentKey(jobID)).Err(); err != nil {
		log.Printf("[Content Cache] delete %s: %v", jobID, err)
	}
}
