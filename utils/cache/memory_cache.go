/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache provides the object stores behind idempotent filters,
// redelivery policies and aggregators: an in-memory store and a Redis backed one.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// ErrNotInteger returned by Incr when the stored value is not an integer.
var ErrNotInteger = errors.New("value is not an integer")

var DefaultCache = NewMemoryCache(time.Minute * 5)

// MemoryCache is an in-memory cache implementation.
// It stores key-value pairs with optional expiration.
type MemoryCache struct {
	items      map[string]item
	mu         sync.RWMutex
	stopGc     chan struct{}
	gcRunning  bool
	gcInterval time.Duration
}

// item expiration is a Unix nano timestamp, 0 never expires.
type item struct {
	value      interface{}
	expiration int64
}

func (i item) expired(now int64) bool {
	return i.expiration > 0 && now > i.expiration
}

// NewMemoryCache creates a MemoryCache. Expired items are removed every gcInterval
// once the first expiring item is stored.
func NewMemoryCache(gcInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]item),
		gcInterval: time.Minute * 5,
	}
	if gcInterval > 0 {
		c.gcInterval = gcInterval
	}
	return c
}

func parseTTL(ttl string) (int64, error) {
	if ttl == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, err
	}
	if dur <= 0 {
		return 0, nil
	}
	return time.Now().Add(dur).UnixNano(), nil
}

func (c *MemoryCache) Set(key string, value interface{}, ttl string) error {
	expiration, err := parseTTL(ttl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[key] = item{value: value, expiration: expiration}
	c.mu.Unlock()
	if expiration > 0 {
		c.startGC()
	}
	return nil
}

func (c *MemoryCache) SetIfAbsent(key string, value interface{}, ttl string) (bool, error) {
	expiration, err := parseTTL(ttl)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	if it, ok := c.items[key]; ok && !it.expired(time.Now().UnixNano()) {
		c.mu.Unlock()
		return false, nil
	}
	c.items[key] = item{value: value, expiration: expiration}
	c.mu.Unlock()
	if expiration > 0 {
		c.startGC()
	}
	return true, nil
}

func (c *MemoryCache) Incr(key string, ttl string) (int64, error) {
	c.mu.Lock()
	it, ok := c.items[key]
	if !ok || it.expired(time.Now().UnixNano()) {
		expiration, err := parseTTL(ttl)
		if err != nil {
			c.mu.Unlock()
			return 0, err
		}
		it = item{value: int64(0), expiration: expiration}
	}
	n, err := toInt64(it.value)
	if err != nil {
		c.mu.Unlock()
		return 0, errors.Wrapf(err, "incr %s", key)
	}
	n++
	it.value = n
	c.items[key] = it
	c.mu.Unlock()
	if it.expiration > 0 {
		c.startGC()
	}
	return n, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, ErrNotInteger
	}
}

func (c *MemoryCache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		return nil
	}
	return it.value
}

func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, found := c.items[key]
	return found && !it.expired(time.Now().UnixNano())
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) DeleteByPrefix(prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

func (c *MemoryCache) GetByPrefix(prefix string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]interface{})
	now := time.Now().UnixNano()
	for k, v := range c.items {
		if strings.HasPrefix(k, prefix) && !v.expired(now) {
			result[k] = v.value
		}
	}
	return result
}

func (c *MemoryCache) startGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gcRunning {
		return
	}
	c.gcRunning = true
	c.stopGc = make(chan struct{})
	stop := c.stopGc
	go func() {
		ticker := time.NewTicker(c.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.deleteExpired() {
					c.mu.Lock()
					c.gcRunning = false
					c.mu.Unlock()
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopGC stops the expiration goroutine.
func (c *MemoryCache) StopGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gcRunning {
		close(c.stopGc)
		c.gcRunning = false
	}
}

// deleteExpired removes expired items and reports whether expiring items remain.
func (c *MemoryCache) deleteExpired() bool {
	now := time.Now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := false
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		} else if v.expiration > 0 {
			remaining = true
		}
	}
	return remaining
}

// NamespaceCache prefixes every key with a namespace.
type NamespaceCache struct {
	Cache     types.Cache
	Namespace string
}

func NewNamespaceCache(cache types.Cache, namespace string) *NamespaceCache {
	return &NamespaceCache{Cache: cache, Namespace: namespace}
}

func (c *NamespaceCache) Set(key string, value interface{}, ttl string) error {
	return c.Cache.Set(c.Namespace+key, value, ttl)
}

func (c *NamespaceCache) SetIfAbsent(key string, value interface{}, ttl string) (bool, error) {
	return c.Cache.SetIfAbsent(c.Namespace+key, value, ttl)
}

func (c *NamespaceCache) Incr(key string, ttl string) (int64, error) {
	return c.Cache.Incr(c.Namespace+key, ttl)
}

func (c *NamespaceCache) Get(key string) interface{} {
	return c.Cache.Get(c.Namespace + key)
}

func (c *NamespaceCache) Delete(key string) error {
	return c.Cache.Delete(c.Namespace + key)
}

func (c *NamespaceCache) Has(key string) bool {
	return c.Cache.Has(c.Namespace + key)
}

func (c *NamespaceCache) DeleteByPrefix(prefix string) error {
	return c.Cache.DeleteByPrefix(c.Namespace + prefix)
}

func (c *NamespaceCache) GetByPrefix(prefix string) map[string]interface{} {
	result := c.Cache.GetByPrefix(c.Namespace + prefix)
	out := make(map[string]interface{}, len(result))
	for k, v := range result {
		out[strings.TrimPrefix(k, c.Namespace)] = v
	}
	return out
}

var _ types.Cache = (*NamespaceCache)(nil)

var _ types.Cache = (*MemoryCache)(nil)
