// Package redis caches query embeddings in Redis.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

var tracer = otel.Tracer("github.com/kirillkom/grounded-qa/internal/infrastructure/cache/redis")

// Store is the subset of *redis.Client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder memoizes EmbedQuery results. Redis failures degrade to a
// direct call to the wrapped embedder. Batch embedding is not cached.
type CachedEmbedder struct {
	inner  ports.Embedder
	cache  Store
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

type Options struct {
	Addr     string
	Password string
	DB       int
	// Namespace separates caches of different embedding models.
	Namespace string
	TTL       time.Duration
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewCachedEmbedder(inner ports.Embedder, cache Store, opts Options) *CachedEmbedder {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		prefix: "gqa:emb:" + opts.Namespace + ":",
		ttl:    ttl,
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.Embed(ctx, texts)
}

func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	ctx, span := tracer.Start(ctx, "embedding_cache.get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if vector, ok := e.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return vector, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	v, err, _ := e.group.Do(key, func() (any, error) {
		vector, err := e.inner.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		e.save(ctx, key, vector)
		return vector, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v.([]float32), nil
}

func (e *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := e.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("embedding_cache_unavailable", "op", "get", "error", err)
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil || len(vector) == 0 {
		return nil, false
	}
	return vector, true
}

func (e *CachedEmbedder) save(ctx context.Context, key string, vector []float32) {
	payload, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, payload, e.ttl).Err(); err != nil {
		slog.Warn("embedding_cache_unavailable", "op", "set", "error", err)
	}
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.prefix + hex.EncodeToString(sum[:])
}
