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

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mulego/mulego/api/types"
)

// RedisCache is an object store shared by several mulego instances.
// Values are stored JSON encoded, counters as Redis integers.
type RedisCache struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisCache creates a store over client. timeout bounds every call, 3s when 0.
func NewRedisCache(client redis.UniversalClient, timeout time.Duration) *RedisCache {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RedisCache{client: client, timeout: timeout}
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func ttlDuration(ttl string) (time.Duration, error) {
	if ttl == "" {
		return 0, nil
	}
	return time.ParseDuration(ttl)
}

func (c *RedisCache) Set(key string, value interface{}, ttl string) error {
	dur, err := ttlDuration(ttl)
	if err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return c.client.Set(ctx, key, b, dur).Err()
}

func (c *RedisCache) SetIfAbsent(key string, value interface{}, ttl string) (bool, error) {
	dur, err := ttlDuration(ttl)
	if err != nil {
		return false, err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return false, errors.Wrapf(err, "encode %s", key)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return c.client.SetNX(ctx, key, b, dur).Result()
}

func (c *RedisCache) Incr(key string, ttl string) (int64, error) {
	dur, err := ttlDuration(ttl)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.ctx()
	defer cancel()
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && dur > 0 {
		if err := c.client.Expire(ctx, key, dur).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func decode(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func (c *RedisCache) Get(key string) interface{} {
	ctx, cancel := c.ctx()
	defer cancel()
	s, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil
	}
	return decode(s)
}

func (c *RedisCache) Has(key string) bool {
	ctx, cancel := c.ctx()
	defer cancel()
	n, err := c.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (c *RedisCache) Delete(key string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (c *RedisCache) DeleteByPrefix(prefix string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	keys, err := c.scan(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return err
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) GetByPrefix(prefix string) map[string]interface{} {
	result := make(map[string]interface{})
	ctx, cancel := c.ctx()
	defer cancel()
	keys, err := c.scan(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return result
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return result
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			result[keys[i]] = decode(s)
		}
	}
	return result
}

var _ types.Cache = (*RedisCache)(nil)
