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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.StopGC()

	t.Run("SetAndGet", func(t *testing.T) {
		assert.Nil(t, c.Set("key1", "value1", "1m"))
		assert.Equal(t, "value1", c.Get("key1"))
		assert.True(t, c.Has("key1"))
		assert.False(t, c.Has("nonexistent"))

		assert.Nil(t, c.Set("key2", "value2", "20ms"))
		time.Sleep(40 * time.Millisecond)
		assert.Nil(t, c.Get("key2"))
		assert.False(t, c.Has("key2"))
	})

	t.Run("InvalidTTL", func(t *testing.T) {
		assert.NotNil(t, c.Set("key3", "v", "abc"))
		assert.Nil(t, c.Get("key3"))
	})

	t.Run("Prefix", func(t *testing.T) {
		_ = c.Set("prefix_key1", "value1", "")
		_ = c.Set("prefix_key2", "value2", "")
		_ = c.Set("other_key", "value3", "")
		assert.Equal(t, 2, len(c.GetByPrefix("prefix_")))
		assert.Nil(t, c.DeleteByPrefix("prefix_"))
		assert.Nil(t, c.Get("prefix_key1"))
		assert.Equal(t, "value3", c.Get("other_key"))
		assert.Nil(t, c.Delete("other_key"))
		assert.False(t, c.Has("other_key"))
	})

	t.Run("Incr", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Incr("counter", "1m")
				assert.Nil(t, err)
			}()
		}
		wg.Wait()
		n, err := c.Incr("counter", "1m")
		assert.Nil(t, err)
		assert.Equal(t, int64(101), n)

		_ = c.Set("text", "abc", "")
		_, err = c.Incr("text", "")
		assert.NotNil(t, err)
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		ok, err := c.SetIfAbsent("once", 1, "1m")
		assert.Nil(t, err)
		assert.True(t, ok)
		ok, err = c.SetIfAbsent("once", 2, "1m")
		assert.Nil(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, c.Get("once"))
	})

	t.Run("GC", func(t *testing.T) {
		gc := NewMemoryCache(10 * time.Millisecond)
		_ = gc.Set("a", 1, "5ms")
		time.Sleep(50 * time.Millisecond)
		gc.mu.RLock()
		defer gc.mu.RUnlock()
		assert.Equal(t, 0, len(gc.items))
	})
}

func TestNamespaceCache(t *testing.T) {
	base := NewMemoryCache(time.Minute)
	ns := NewNamespaceCache(base, "flow1:")
	_ = ns.Set("k", "v", "")
	assert.Equal(t, "v", base.Get("flow1:k"))
	assert.Equal(t, "v", ns.Get("k"))
	assert.True(t, ns.Has("k"))
	assert.Equal(t, map[string]interface{}{"k": "v"}, ns.GetByPrefix(""))
	n, _ := ns.Incr("n", "")
	assert.Equal(t, int64(1), n)
	assert.Nil(t, ns.DeleteByPrefix(""))
	assert.Nil(t, base.Get("flow1:k"))
}
