package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// CachedEmbedder memoizes embeddings in process and, optionally, in Redis
// so reruns of the map and lexicon-embed stages do not pay twice.
type CachedEmbedder struct {
	next   Embedder
	mem    *lru.Cache[string, []float32]
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// CacheOpts configures a CachedEmbedder.
type CacheOpts struct {
	Size   int
	Redis  redis.UniversalClient // nil disables the shared tier
	Prefix string
	TTL    time.Duration // zero keeps entries forever
}

// NewCachedEmbedder wraps next.
func NewCachedEmbedder(next Embedder, opts CacheOpts, log *slog.Logger) (*CachedEmbedder, error) {
	if opts.Size <= 0 {
		opts.Size = 50_000
	}
	if opts.Prefix == "" {
		opts.Prefix = "lexicon:emb:"
	}
	if log == nil {
		log = slog.Default()
	}
	mem, err := lru.New[string, []float32](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("llm: embed cache: %w", err)
	}
	return &CachedEmbedder{next: next, mem: mem, rdb: opts.Redis, prefix: opts.Prefix, ttl: opts.TTL, log: log}, nil
}

// Embed returns a cached vector or computes and stores one.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.mem.Get(key); ok {
		return v, nil
	}
	if c.rdb != nil {
		b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
		switch {
		case err == nil:
			if v, ok := decodeVector(b); ok {
				c.mem.Add(key, v)
				return v, nil
			}
		case !errors.Is(err, redis.Nil):
			c.log.Warn("embed_cache.get", "error", err)
		}
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mem.Add(key, v)
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.prefix+key, encodeVector(v), c.ttl).Err(); err != nil {
			c.log.Warn("embed_cache.set", "error", err)
		}
	}
	return v, nil
}

// Len is the number of in-process entries.
func (c *CachedEmbedder) Len() int { return c.mem.Len() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// encodeVector packs v as little-endian float32, the layout Redis vector
// fields use.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
