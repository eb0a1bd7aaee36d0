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

package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
)

// upperCase upper cases string payloads.
type upperCase struct {
	destroyed bool
}

func (x *upperCase) New() types.Component {
	return &upperCase{}
}

func (x *upperCase) Type() string {
	return "test/upperCase"
}

func (x *upperCase) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *upperCase) Process(event *types.Event) (*types.Event, error) {
	if s, ok := event.Message().Payload().(string); ok {
		event.SetMessage(event.Message().WithPayload(strings.ToUpper(s)))
	}
	return event, nil
}

func (x *upperCase) Destroy() {
	x.destroyed = true
}

// outbound uses the reserved type.
type outbound struct {
	upperCase
}

func (x *outbound) Type() string {
	return OutboundType
}

func TestRegistry(t *testing.T) {
	registry := new(ComponentRegistry)
	require.Nil(t, registry.Register(&upperCase{}))
	assert.True(t, errors.Is(registry.Register(&upperCase{}), types.ErrIllegalArgument))
	assert.True(t, errors.Is(registry.Register(&outbound{}), types.ErrIllegalArgument))

	c, err := registry.NewComponent("test/upperCase")
	require.Nil(t, err)
	assert.IsType(t, &upperCase{}, c)
	_, ok := registry.Components()["test/upperCase"]
	assert.True(t, ok)
	assert.Equal(t, []string{"test/upperCase"}, registry.Types())

	require.Nil(t, registry.Unregister("test/upperCase"))
	assert.True(t, errors.Is(registry.Unregister("test/upperCase"), types.ErrNotFound))
	_, err = registry.NewComponent("test/upperCase")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDefaultRegistry(t *testing.T) {
	for _, componentType := range []string{"setPayload", "choice", "flowRef", "transactional", "logger", "expressionFilter", "basicAuth", "untilSuccessful"} {
		_, err := Registry.NewComponent(componentType)
		assert.Nil(t, err, componentType)
	}
}
