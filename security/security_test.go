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

package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/test"
)

func basic(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func withAuthorization(value string) *types.Event {
	event := test.NewEvent("x")
	if value != "" {
		event.SetMessage(event.Message().Builder().InboundProperty(AuthorizationProperty, value).Build())
	}
	return event
}

func TestBasicAuthFilter(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.Nil(t, err)
	f, err := NewBasicAuthFilter("orders", map[string]string{"alice": string(hash), "bob": "plain"})
	require.Nil(t, err)

	event, err := f.Authenticate(withAuthorization(basic("alice", "s3cret")))
	require.Nil(t, err)
	v, _ := event.Session().Get(PrincipalKey)
	assert.Equal(t, "alice", v)

	_, err = f.Process(withAuthorization(basic("bob", "plain")))
	assert.Nil(t, err)

	for _, header := range []string{"", "Bearer abc", "Basic !!!", basic("alice", "wrong"), basic("carol", "x")} {
		_, err = f.Authenticate(withAuthorization(header))
		var unauthorised *types.UnauthorisedError
		require.ErrorAs(t, err, &unauthorised, header)
		assert.Equal(t, "orders", unauthorised.Realm)
	}
}

func TestConfiguration(t *testing.T) {
	f := (&BasicAuthFilter{}).New().(*BasicAuthFilter)
	require.Nil(t, f.Init(types.NewConfig(), types.Configuration{"users": map[string]interface{}{"a": "b"}}))
	assert.Equal(t, DefaultRealm, f.Config.Realm)
	assert.ErrorIs(t, f.New().Init(types.NewConfig(), types.Configuration{}), types.ErrIllegalArgument)
}

func TestParseBasic(t *testing.T) {
	user, password, ok := ParseBasic("basic " + base64.StdEncoding.EncodeToString([]byte("u:p:q")))
	assert.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p:q", password)
	_, _, ok = ParseBasic("Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")))
	assert.False(t, ok)
}
