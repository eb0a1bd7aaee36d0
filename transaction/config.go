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

package transaction

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// Config is the transaction configuration of an endpoint or scope.
type Config struct {
	action               types.TransactionAction
	factory              types.TransactionFactory
	timeout              time.Duration
	interactWithExternal bool
}

var _ types.TransactionConfig = (*Config)(nil)

// NewConfig creates a configuration.
func NewConfig(action types.TransactionAction, factory types.TransactionFactory) *Config {
	return &Config{action: action, factory: factory}
}

// DefaultConfig is the configuration of endpoints without transaction settings.
func DefaultConfig() *Config {
	return &Config{action: types.ActionIndifferent}
}

// WithTimeout sets the timeout of begun transactions.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

// WithInteractWithExternal enables joining external transactions.
func (c *Config) WithInteractWithExternal(interact bool) *Config {
	c.interactWithExternal = interact
	return c
}

func (c *Config) Action() types.TransactionAction {
	return c.action
}

func (c *Config) Factory() types.TransactionFactory {
	return c.factory
}

func (c *Config) Timeout() time.Duration {
	return c.timeout
}

func (c *Config) InteractWithExternal() bool {
	return c.interactWithExternal
}

// IsTransacted reports whether the action may run inside a transaction begun by the factory.
func (c *Config) IsTransacted() bool {
	switch c.action {
	case types.ActionNone, types.ActionNever, types.ActionNotSupported:
		return false
	}
	return c.factory != nil && c.factory.IsTransacted()
}

func (c *Config) IsConfigured() bool {
	return c.factory != nil
}

// Begin begins a transaction with the configured factory and timeout.
func (c *Config) Begin(ctx context.Context) (types.Transaction, error) {
	if c.factory == nil {
		return nil, errors.Wrapf(types.ErrTransactionNotAvailable, "no transaction factory for action %s", c.action)
	}
	tx, err := c.factory.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		tx.SetTimeout(c.timeout)
	}
	return tx, nil
}

func (c *Config) String() string {
	return "TransactionConfig{action=" + c.action.String() + "}"
}
