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

// Package transport holds the connector registry and the built-in transports:
// vm, http, schedule, mqtt, redis and sql.
package transport

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transport/http"
	"github.com/mulego/mulego/transport/mqtt"
	"github.com/mulego/mulego/transport/redis"
	"github.com/mulego/mulego/transport/schedule"
	"github.com/mulego/mulego/transport/sql"
	"github.com/mulego/mulego/transport/vm"
	"github.com/mulego/mulego/utils/maps"
)

// init registers the built-in connectors with the Registry.
func init() {
	_ = Registry.Register(&vm.Connector{})
	_ = Registry.Register(&http.Connector{})
	_ = Registry.Register(schedule.New())
	_ = Registry.Register(mqtt.New())
	_ = Registry.Register(redis.New())
	_ = Registry.Register(sql.New())
}

// Registry is the default connector registry.
var Registry = new(ConnectorRegistry)

// ConnectorRegistry holds connector prototypes keyed by protocol.
type ConnectorRegistry struct {
	connectors map[string]endpoint.Connector
	sync.RWMutex
}

// Register adds a connector prototype.
func (r *ConnectorRegistry) Register(connector endpoint.Connector) error {
	r.Lock()
	defer r.Unlock()
	if r.connectors == nil {
		r.connectors = make(map[string]endpoint.Connector)
	}
	if _, ok := r.connectors[connector.Type()]; ok {
		return errors.Wrapf(types.ErrIllegalArgument, "the connector already exists. type=%s", connector.Type())
	}
	r.connectors[connector.Type()] = connector
	return nil
}

// Unregister removes the prototype of protocol.
func (r *ConnectorRegistry) Unregister(protocol string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.connectors[protocol]; !ok {
		return errors.Wrapf(types.ErrNotFound, "connector not found. type=%s", protocol)
	}
	delete(r.connectors, protocol)
	return nil
}

// Protocols the registered protocols.
func (r *ConnectorRegistry) Protocols() []string {
	r.RLock()
	defer r.RUnlock()
	var protocols []string
	for k := range r.connectors {
		protocols = append(protocols, k)
	}
	return protocols
}

// New creates and initialises a connector of protocol. The configuration can be a
// types.Configuration or a struct decoded into one.
func (r *ConnectorRegistry) New(protocol string, config types.Config, configuration interface{}) (endpoint.Connector, error) {
	r.RLock()
	prototype, ok := r.connectors[protocol]
	r.RUnlock()
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "connector not found. type=%s", protocol)
	}
	conf := make(types.Configuration)
	if configuration != nil {
		if c, ok := configuration.(types.Configuration); ok {
			conf = c
		} else if err := maps.Map2Struct(configuration, &conf); err != nil {
			return nil, err
		}
	}
	connector := prototype.New()
	if err := connector.Init(config, conf); err != nil {
		return nil, err
	}
	return connector, nil
}
