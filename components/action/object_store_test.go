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

package action

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/test"
	"github.com/mulego/mulego/utils/cache"
)

func objectStoreConfig() types.Config {
	config := types.NewConfig()
	config.Cache = cache.NewMemoryCache(time.Minute)
	return config
}

func TestObjectStore(t *testing.T) {
	config := objectStoreConfig()

	store := test.InitComponent(t, &ObjectStoreStore{}, config, types.Configuration{
		"partition": "orders", "key": "order:${msg.id}",
	})
	event := test.NewEvent(map[string]interface{}{"id": "7", "qty": 2})
	out, err := store.Process(event)
	assert.Nil(t, err)
	assert.Equal(t, event, out)
	assert.Equal(t, map[string]interface{}{"id": "7", "qty": 2}, config.Cache.Get("orders:order:7"))

	store = test.InitComponent(t, &ObjectStoreStore{}, config, types.Configuration{
		"partition": "orders", "key": "order:8", "value": "${msg.qty}",
	})
	_, err = store.Process(event)
	assert.Nil(t, err)
	assert.Equal(t, 2, config.Cache.Get("orders:order:8"))

	retrieve := test.InitComponent(t, &ObjectStoreRetrieve{}, config, types.Configuration{
		"partition": "orders", "key": "order:${vars.id}", "target": "vars.order",
	})
	event = test.NewEvent("x")
	event.SetVariable("id", "8")
	out, err = retrieve.Process(event)
	assert.Nil(t, err)
	v, _ := out.Variable("order")
	assert.Equal(t, 2, v)
	assert.Equal(t, "x", out.Message().Payload())

	all := test.InitComponent(t, &ObjectStoreRetrieve{}, config, types.Configuration{
		"partition": "orders", "key": "order:*",
	})
	out, err = all.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	payload := out.Message().Payload().(map[string]interface{})
	assert.Len(t, payload, 2)
	assert.Equal(t, 2, payload["order:8"])

	remove := test.InitComponent(t, &ObjectStoreRemove{}, config, types.Configuration{
		"partition": "orders", "key": "order:7",
	})
	_, err = remove.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	assert.False(t, config.Cache.Has("orders:order:7"))
	assert.True(t, config.Cache.Has("orders:order:8"))

	remove = test.InitComponent(t, &ObjectStoreRemove{}, config, types.Configuration{
		"partition": "orders", "key": "*",
	})
	_, err = remove.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	assert.False(t, config.Cache.Has("orders:order:8"))
}

func TestObjectStoreMissingKey(t *testing.T) {
	config := objectStoreConfig()

	retrieve := test.InitComponent(t, &ObjectStoreRetrieve{}, config, types.Configuration{"key": "none"})
	_, err := retrieve.Process(test.NewEvent("x"))
	assert.True(t, errors.Is(err, types.ErrNotFound))

	retrieve = test.InitComponent(t, &ObjectStoreRetrieve{}, config, types.Configuration{
		"key": "none", "defaultValue": "fallback",
	})
	out, err := retrieve.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	assert.Equal(t, "fallback", out.Message().Payload())

	assert.NotNil(t, (&ObjectStoreStore{}).New().Init(config, types.Configuration{}))
	assert.NotNil(t, (&ObjectStoreRemove{}).New().Init(config, types.Configuration{"key": " "}))

	empty := test.InitComponent(t, &ObjectStoreRemove{}, config, types.Configuration{"key": "${vars.none}"})
	_, err = empty.Process(test.NewEvent("x"))
	assert.NotNil(t, err)
}

func TestObjectStoreFailIfPresent(t *testing.T) {
	config := objectStoreConfig()
	store := test.InitComponent(t, &ObjectStoreStore{}, config, types.Configuration{
		"key": "lock", "value": "a", "failIfPresent": true, "ttl": "1m",
	})
	_, err := store.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	_, err = store.Process(test.NewEvent("x"))
	assert.NotNil(t, err)
	assert.Equal(t, "a", config.Cache.Get("lock"))
}
