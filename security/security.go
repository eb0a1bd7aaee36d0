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

// Package security provides the security filters of inbound endpoints.
package security

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/validate"
)

// Registry 默认组件注册器
var Registry = &types.SafeComponentSlice{}

func init() {
	Registry.Add(&BasicAuthFilter{})
}

const (
	// AuthorizationProperty inbound property carrying the credentials
	AuthorizationProperty = "authorization"
	// PrincipalKey session key of the authenticated user name
	PrincipalKey = "MULE_PRINCIPAL"
	// DefaultRealm realm of filters configured without one
	DefaultRealm = "mule-realm"
)

// BasicAuthFilterConfiguration 节点配置
type BasicAuthFilterConfiguration struct {
	Realm string
	// Users user name to password, bcrypt hashes ($2a$, $2b$, $2y$) or plain text
	Users map[string]string `validate:"required,min=1"`
}

// BasicAuthFilter authenticates the HTTP basic credentials of the authorization
// inbound property and stores the user name in the session under PrincipalKey.
type BasicAuthFilter struct {
	Config BasicAuthFilterConfiguration
}

// NewBasicAuthFilter creates a filter for users in realm.
func NewBasicAuthFilter(realm string, users map[string]string) (*BasicAuthFilter, error) {
	f := &BasicAuthFilter{}
	if err := f.Init(types.NewConfig(), types.Configuration{"realm": realm, "users": users}); err != nil {
		return nil, err
	}
	return f, nil
}

func (x *BasicAuthFilter) Type() string {
	return "basicAuth"
}

func (x *BasicAuthFilter) New() types.Component {
	return &BasicAuthFilter{}
}

func (x *BasicAuthFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Realm == "" {
		x.Config.Realm = DefaultRealm
	}
	return validate.Struct(x.Config)
}

func (x *BasicAuthFilter) unauthorised(reason string) error {
	return &types.UnauthorisedError{Realm: x.Config.Realm, Reason: reason}
}

func (x *BasicAuthFilter) Authenticate(event *types.Event) (*types.Event, error) {
	header, _ := event.Message().InboundProperty(AuthorizationProperty).(string)
	if header == "" {
		return nil, x.unauthorised("no credentials")
	}
	user, password, ok := ParseBasic(header)
	if !ok {
		return nil, x.unauthorised("malformed credentials")
	}
	expected, found := x.Config.Users[user]
	if !found || !Verify(expected, password) {
		return nil, x.unauthorised("invalid credentials for " + user)
	}
	event.Session().Set(PrincipalKey, user)
	return event, nil
}

// Process lets the filter run as a processor of a chain.
func (x *BasicAuthFilter) Process(event *types.Event) (*types.Event, error) {
	return x.Authenticate(event)
}

func (x *BasicAuthFilter) Destroy() {
}

// ParseBasic decodes "Basic base64(user:password)".
func ParseBasic(header string) (user, password string, ok bool) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(decoded), ":")
	return user, password, ok
}

// Verify compares password with a bcrypt hash or a plain text password.
func Verify(expected, password string) bool {
	if isBcrypt(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(password)) == nil
	}
	return expected == password
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
