package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

// embedCacheEntry is one cached embedding result plus its expiry.
type embedCacheEntry struct {
	vector    []float64
	expiresAt time.Time
}

// EmbedCache wraps a Client with an LRU cache of Embed/EmbedBatch results
// keyed by content hash and dimensions, so repeated embedding requests for
// the same text (a common pattern when memory recall re-embeds a recently
// seen query) skip the provider round trip.
type EmbedCache struct {
	next  Client
	cache *lru.Cache[string, embedCacheEntry]
	ttl   time.Duration
}

// NewEmbedCache wraps next with an LRU cache of the given size and TTL. A
// size <= 0 disables caching and NewEmbedCache returns next unwrapped; a
// ttl <= 0 disables expiration (entries live until evicted by size).
func NewEmbedCache(next Client, size int, ttl time.Duration) Client {
	if size <= 0 || next == nil {
		return next
	}
	cache, err := lru.New[string, embedCacheEntry](size)
	if err != nil {
		return next
	}
	return &EmbedCache{next: next, cache: cache, ttl: ttl}
}

func (c *EmbedCache) Complete(ctx context.Context, req Request) (message.Message, error) {
	return c.next.Complete(ctx, req)
}

func (c *EmbedCache) Stream(ctx context.Context, req Request, sink *queue.Queue[message.Message]) (message.Message, error) {
	return c.next.Stream(ctx, req, sink)
}

func (c *EmbedCache) Embed(ctx context.Context, content []message.Block, dimensions int) ([]float64, error) {
	key := embedCacheKey(content, dimensions)
	if entry, ok := c.cache.Get(key); ok && c.fresh(entry) {
		return entry.vector, nil
	}
	vec, err := c.next.Embed(ctx, content, dimensions)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, embedCacheEntry{vector: vec, expiresAt: c.expiry()})
	return vec, nil
}

func (c *EmbedCache) EmbedBatch(ctx context.Context, contents [][]message.Block, dimensions int) ([][]float64, error) {
	out := make([][]float64, len(contents))
	missIdx := make([]int, 0, len(contents))
	missContents := make([][]message.Block, 0, len(contents))

	for i, content := range contents {
		key := embedCacheKey(content, dimensions)
		if entry, ok := c.cache.Get(key); ok && c.fresh(entry) {
			out[i] = entry.vector
			continue
		}
		missIdx = append(missIdx, i)
		missContents = append(missContents, content)
	}

	if len(missContents) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missContents, dimensions)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		c.cache.Add(embedCacheKey(contents[idx], dimensions), embedCacheEntry{vector: vecs[j], expiresAt: c.expiry()})
	}
	return out, nil
}

func (c *EmbedCache) fresh(entry embedCacheEntry) bool {
	return c.ttl <= 0 || time.Now().Before(entry.expiresAt)
}

func (c *EmbedCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.ttl)
}

// embedCacheKey hashes each block's kind and content (text for text blocks,
// URL and raw bytes for image and video blocks) plus dimensions into a
// fixed-size cache key.
func embedCacheKey(content []message.Block, dimensions int) string {
	h := sha256.New()
	for _, b := range content {
		switch v := b.(type) {
		case message.TextBlock:
			h.Write([]byte("text:"))
			h.Write([]byte(v.Text))
		case message.ImageBlock:
			h.Write([]byte("image:"))
			h.Write([]byte(v.URL))
			h.Write(v.Data)
		case message.VideoBlock:
			h.Write([]byte("video:"))
			h.Write([]byte(v.URL))
			h.Write(v.Data)
		}
	}
	return fmt.Sprintf("%s:%d", hex.EncodeToString(h.Sum(nil)), dimensions)
}
