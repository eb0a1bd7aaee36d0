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

// Package config loads the runtime configuration of the mulego server from a YAML file
// and MULEGO_ prefixed environment variables. Environment variables take precedence,
// nested keys use underscores: MULEGO_LOG_LEVEL=debug.
//
// Example:
//
//	apps: ./apps
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  enabled: true
//	  addr: ":9090"
//	cache:
//	  type: redis
//	  redis:
//	    addr: localhost:6379
//	properties:
//	  db.url: postgres://localhost/orders
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/engine"
	"github.com/mulego/mulego/utils/cache"
	"github.com/mulego/mulego/utils/logger"
	"github.com/mulego/mulego/utils/validate"
)

// EnvPrefix prefix of the environment variables.
const EnvPrefix = "MULEGO"

// Cache types
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config 服务配置
type Config struct {
	// Apps folder of the application definitions, searched recursively for *.json
	Apps    string  `mapstructure:"apps" validate:"required"`
	Log     Log     `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
	Cache   Cache   `mapstructure:"cache"`
	// Properties global properties, referenced by ${global.key}
	Properties map[string]string `mapstructure:"properties"`
	// ResponseTimeout default timeout of request-response endpoints
	ResponseTimeout time.Duration `mapstructure:"responseTimeout" validate:"gt=0"`
	// TransactionTimeout default transaction timeout, 0 means none
	TransactionTimeout time.Duration `mapstructure:"transactionTimeout" validate:"gte=0"`
	// ScriptMaxExecutionTime limit of JavaScript executions
	ScriptMaxExecutionTime time.Duration `mapstructure:"scriptMaxExecutionTime" validate:"gt=0"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
	// Namespace prefix of the metric names
	Namespace string `mapstructure:"namespace"`
}

// Cache the object store of idempotent filters, redelivery policies and aggregators.
type Cache struct {
	Type  string `mapstructure:"type" validate:"oneof=memory redis"`
	Redis Redis  `mapstructure:"redis"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("apps", "./apps")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatConsole)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("cache.type", CacheMemory)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.timeout", time.Second)
	v.SetDefault("responseTimeout", 10*time.Second)
	v.SetDefault("transactionTimeout", 0)
	v.SetDefault("scriptMaxExecutionTime", 2*time.Second)
}

// Load reads the YAML file at path, when given, then applies the environment and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unable to decode into config struct")
	}
	if err := validate.Struct(c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Logger creates the logger described by the configuration.
func (c *Config) Logger() *logger.ZeroLogger {
	return logger.New(logger.Options{Level: c.Log.Level, Format: c.Log.Format})
}

// NewCache creates the configured object store.
func (c *Config) NewCache() types.Cache {
	if c.Cache.Type == CacheRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
		})
		return cache.NewRedisCache(client, c.Cache.Redis.Timeout)
	}
	return cache.DefaultCache
}

// EngineConfig creates the configuration of Mule contexts, opts are applied last.
func (c *Config) EngineConfig(l types.Logger, opts ...types.Option) types.Config {
	base := []types.Option{
		types.WithLogger(l),
		types.WithCache(c.NewCache()),
		types.WithProperties(c.Properties),
		types.WithDefaultResponseTimeout(c.ResponseTimeout),
		types.WithDefaultTransactionTimeout(c.TransactionTimeout),
		types.WithScriptMaxExecutionTime(c.ScriptMaxExecutionTime),
		types.WithDefaultPool(),
	}
	return engine.NewConfig(append(base, opts...)...)
}
