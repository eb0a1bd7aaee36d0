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

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transport/http"
	"github.com/mulego/mulego/transport/vm"
)

func TestRegistry(t *testing.T) {
	assert.ElementsMatch(t, []string{"vm", "http", "schedule", "mqtt", "redis", "sql"}, Registry.Protocols())

	r := new(ConnectorRegistry)
	require.Nil(t, r.Register(&vm.Connector{}))
	assert.ErrorIs(t, r.Register(&vm.Connector{}), types.ErrIllegalArgument)

	c, err := r.New("vm", types.NewConfig(), types.Configuration{"queueSize": 8})
	require.Nil(t, err)
	assert.Equal(t, 8, c.(*vm.Connector).Config.QueueSize)

	c, err = r.New("vm", types.NewConfig(), struct {
		Workers int
	}{Workers: 3})
	require.Nil(t, err)
	assert.Equal(t, 3, c.(*vm.Connector).Config.Workers)

	_, err = r.New("vm", types.NewConfig(), types.Configuration{"queueSize": 0})
	assert.ErrorIs(t, err, types.ErrIllegalArgument)

	_, err = r.New("jms", types.NewConfig(), nil)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, r.Unregister("jms"), types.ErrNotFound)
	require.Nil(t, r.Unregister("vm"))
	_, err = r.New("vm", types.NewConfig(), nil)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestNewFromRegistry(t *testing.T) {
	c, err := Registry.New(http.Type, types.NewConfig(), types.Configuration{"requestTimeout": "5s"})
	require.Nil(t, err)
	_, ok := c.(*http.Connector)
	assert.True(t, ok)
	assert.Equal(t, "http", c.Name())
}
