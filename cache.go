package rrio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes responses by request fingerprint. Implementations must be safe for
// concurrent use by every worker of a transform. A cache is an optimization only: read
// and write errors are logged and treated as misses.
type Cache[Resp any] interface {
	// Get returns (response, true, nil) on hit and (zero, false, nil) on miss.
	Get(ctx context.Context, key string) (Resp, bool, error)

	// Put stores the response for key.
	Put(ctx context.Context, key string, resp Resp) error
}

// Fingerprinter derives a deterministic cache key from a request. Logically identical
// requests must produce the same key.
type Fingerprinter[Req any] func(req Req) (string, error)

// JSONFingerprint is the default Fingerprinter. It hashes the deterministic JSON encoding
// of the request (map keys sorted) with SHA-256.
func JSONFingerprint[Req any](req Req) (string, error) {
	data, err := json.Marshal(req, json.Deterministic(true))
	if err != nil {
		return "", fmt.Errorf("failed to encode request for fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MemoryCache is an in-memory Cache bounded by entry count and entry age. It outlives the
// runs that use it and may be shared by several transforms.
type MemoryCache[Resp any] struct {
	lru *expirable.LRU[string, Resp]
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries responses, each for at most
// ttl. A maxEntries of 0 means unbounded; a ttl of 0 means entries never expire.
//
// A positive ttl starts a background expiry sweep that cannot be stopped and lives for the
// rest of the process. Create one MemoryCache per process and pass it to every transform
// that needs it rather than building one per run.
//
// Example:
//
//	cache := rrio.NewMemoryCache[Item](10_000, time.Hour)
func NewMemoryCache[Resp any](maxEntries int, ttl time.Duration) *MemoryCache[Resp] {
	return &MemoryCache[Resp]{
		lru: expirable.NewLRU[string, Resp](maxEntries, nil, ttl),
	}
}

// Get implements Cache.
func (c *MemoryCache[Resp]) Get(_ context.Context, key string) (Resp, bool, error) {
	resp, ok := c.lru.Get(key)
	return resp, ok, nil
}

// Put implements Cache.
func (c *MemoryCache[Resp]) Put(_ context.Context, key string, resp Resp) error {
	c.lru.Add(key, resp)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache[Resp]) Len() int {
	return c.lru.Len()
}

// Purge removes every entry.
func (c *MemoryCache[Resp]) Purge() {
	c.lru.Purge()
}
