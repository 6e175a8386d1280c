package github

import (
	"time"

	"github.com/gregjones/httpcache"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Compile-time interface satisfaction check.
var _ httpcache.Cache = (*responseCache)(nil)

// responseCache is a bounded httpcache.Cache whose entries expire after a
// fixed TTL, so cached provider responses cannot outlive the sessions that
// fetched them.
type responseCache struct {
	lru *expirable.LRU[string, []byte]
}

func newResponseCache(size int, ttl time.Duration) *responseCache {
	return &responseCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *responseCache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *responseCache) Set(key string, resp []byte) {
	c.lru.Add(key, resp)
}

func (c *responseCache) Delete(key string) {
	c.lru.Remove(key)
}
