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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/cache"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "mulego.yaml")
	require.Nil(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.Nil(t, err)
	assert.Equal(t, "./apps", c.Apps)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "console", c.Log.Format)
	assert.False(t, c.Metrics.Enabled)
	assert.Equal(t, CacheMemory, c.Cache.Type)
	assert.Equal(t, 10*time.Second, c.ResponseTimeout)
	assert.Equal(t, cache.DefaultCache, c.NewCache())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
apps: /srv/apps
log:
  level: debug
  format: json
metrics:
  enabled: true
  addr: ":9100"
responseTimeout: 5s
properties:
  greeting: hello
`)
	c, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, "/srv/apps", c.Apps)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, ":9100", c.Metrics.Addr)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.Equal(t, 5*time.Second, c.ResponseTimeout)
	assert.Equal(t, "hello", c.Properties["greeting"])

	config := c.EngineConfig(c.Logger())
	assert.Equal(t, "hello", config.Properties["greeting"])
	assert.Equal(t, 5*time.Second, config.DefaultResponseTimeout)
	assert.NotNil(t, config.Parser)
	assert.NotNil(t, config.Pool)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "log:\n  level: debug\n")
	t.Setenv("MULEGO_LOG_LEVEL", "warn")
	t.Setenv("MULEGO_APPS", "/env/apps")
	c, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "/env/apps", c.Apps)
}

func TestInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "log:\n  level: verbose\n"))
	assert.True(t, errors.Is(err, types.ErrIllegalArgument))

	_, err = Load(writeFile(t, "cache:\n  type: disk\n"))
	assert.True(t, errors.Is(err, types.ErrIllegalArgument))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}

func TestRedisCache(t *testing.T) {
	c, err := Load(writeFile(t, "cache:\n  type: redis\n  redis:\n    addr: localhost:6399\n"))
	require.Nil(t, err)
	assert.IsType(t, &cache.RedisCache{}, c.NewCache())
}
