package provider

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// AnswerCache remembers successful provider answers per (provider, question)
// for a bounded time. It is owned by whoever builds it; there is no shared
// package-level cache.
type AnswerCache struct {
	lru *expirable.LRU[string, string]
}

// NewAnswerCache holds up to size answers for ttl. size <= 0 disables the
// cache and returns nil; a nil cache misses on every lookup.
func NewAnswerCache(size int, ttl time.Duration) *AnswerCache {
	if size <= 0 {
		return nil
	}
	return &AnswerCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func cacheKey(provider, question string) string {
	return provider + "\x00" + question
}

// Get returns the cached answer.
func (c *AnswerCache) Get(provider, question string) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.lru.Get(cacheKey(provider, question))
}

// Put stores an answer.
func (c *AnswerCache) Put(provider, question, answer string) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(provider, question), answer)
}

// Len reports the number of cached answers.
func (c *AnswerCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
