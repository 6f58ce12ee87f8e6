package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/storage"
)

// DefaultCacheTTL bounds how long a cached vector lives.
const DefaultCacheTTL = 30 * 24 * time.Hour

// CachedEmbedder serves repeated texts from Redis. Only misses reach the
// wrapped embedder, in one batch. Cache failures degrade to misses.
type CachedEmbedder struct {
	inner  Embedder
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewCachedEmbedder wraps inner with a Redis cache.
func NewCachedEmbedder(inner Embedder, client redis.Cmdable, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedEmbedder{
		inner:  inner,
		client: client,
		ttl:    ttl,
		prefix: "agentdock:embedding:",
		logger: logger.Named("embedding-cache"),
	}
}

// DialRedis connects to the Redis server at url (redis://host:port/db).
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *CachedEmbedder) Model() string { return c.inner.Model() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Model() + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache read failed", "error", err)
		cached = nil
	}
	for i, v := range cached {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if vec, err := storage.DecodeEmbedding([]byte(s)); err == nil && len(vec) > 0 {
			out[i] = vec
		}
	}

	var missIdx []int
	var missTexts []string
	for i, vec := range out {
		if vec == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(fresh), len(missTexts))
	}

	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], storage.EncodeEmbedding(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	c.logger.Debug("embedded", "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	return out, nil
}
