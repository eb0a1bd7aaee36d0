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

//流程节点配置示例：
// {
//   "id": "s1",
//   "type": "objectStoreStore",
//   "configuration": {
//     "partition": "orders",
//     "key": "order:${msg.id}",
//     "ttl": "10m"
//   }
// }
import (
	"strings"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/utils/cache"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&ObjectStoreStore{})
	Registry.Add(&ObjectStoreRetrieve{})
	Registry.Add(&ObjectStoreRemove{})
}

// KeyMatchAll 通配符，key 以 * 结尾表示按前缀操作
const KeyMatchAll = "*"

// ObjectStoreConfiguration 对象存储公共配置
type ObjectStoreConfiguration struct {
	// Partition 分区，作为 key 前缀隔离不同流程的数据
	Partition string
	// Key 支持 ${msg.x} ${vars.x} 模板
	Key string
}

type objectStore struct {
	store types.Cache
	key   el.Template
	udf   map[string]interface{}
}

func (s *objectStore) init(config types.Config, c ObjectStoreConfiguration) error {
	if strings.TrimSpace(c.Key) == "" {
		return types.NewIllegalArgumentError("object store key is required")
	}
	s.store = config.Cache
	if s.store == nil {
		s.store = cache.DefaultCache
	}
	if c.Partition != "" {
		s.store = cache.NewNamespaceCache(s.store, c.Partition+":")
	}
	key, err := el.NewTemplate(c.Key, config.Udf)
	if err != nil {
		return err
	}
	s.key = key
	s.udf = config.Udf
	return nil
}

func (s *objectStore) render(event *types.Event) (string, error) {
	v, err := el.Render(s.key, event, s.udf)
	if err != nil {
		return "", err
	}
	key := str.ToString(v)
	if key == "" {
		return "", types.NewIllegalArgumentError("object store key evaluated to empty")
	}
	return key, nil
}

// ObjectStoreStoreConfiguration 存储配置
type ObjectStoreStoreConfiguration struct {
	ObjectStoreConfiguration `mapstructure:",squash"`
	// Value 为空时存储消息负荷
	Value interface{}
	// Ttl 过期时间，例如 10m，为空永不过期
	Ttl string
	// FailIfPresent key 已存在时返回错误
	FailIfPresent bool
}

// ObjectStoreStore 将值写入对象存储，消息保持不变
type ObjectStoreStore struct {
	Config ObjectStoreStoreConfiguration
	objectStore
	value el.Template
}

func (x *ObjectStoreStore) Type() string {
	return "objectStoreStore"
}

func (x *ObjectStoreStore) New() types.Component {
	return &ObjectStoreStore{}
}

func (x *ObjectStoreStore) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if err := x.init(config, x.Config.ObjectStoreConfiguration); err != nil {
		return err
	}
	x.value = nil
	if x.Config.Value != nil {
		value, err := el.NewTemplate(x.Config.Value, config.Udf)
		if err != nil {
			return err
		}
		x.value = value
	}
	return nil
}

func (x *ObjectStoreStore) Process(event *types.Event) (*types.Event, error) {
	key, err := x.render(event)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if x.value == nil {
		value = event.Message().Payload()
	} else if value, err = el.Render(x.value, event, x.udf); err != nil {
		return nil, err
	}
	if x.Config.FailIfPresent {
		stored, err := x.store.SetIfAbsent(key, value, x.Config.Ttl)
		if err != nil {
			return nil, err
		}
		if !stored {
			return nil, types.NewIllegalStateError("object store key already present: " + key)
		}
		return event, nil
	}
	if err := x.store.Set(key, value, x.Config.Ttl); err != nil {
		return nil, err
	}
	return event, nil
}

func (x *ObjectStoreStore) Destroy() {
}

// ObjectStoreRetrieveConfiguration 读取配置
type ObjectStoreRetrieveConfiguration struct {
	ObjectStoreConfiguration `mapstructure:",squash"`
	// Target 结果写入位置，例如 vars.order、outbound.x，为空时替换消息负荷
	Target string
	// DefaultValue key 不存在时使用的值，为空时返回 NotFound 错误
	DefaultValue interface{}
}

// ObjectStoreRetrieve 从对象存储读取值
// key 以 * 结尾时返回所有匹配前缀的键值 map
type ObjectStoreRetrieve struct {
	Config ObjectStoreRetrieveConfiguration
	objectStore
}

func (x *ObjectStoreRetrieve) Type() string {
	return "objectStoreRetrieve"
}

func (x *ObjectStoreRetrieve) New() types.Component {
	return &ObjectStoreRetrieve{}
}

func (x *ObjectStoreRetrieve) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	return x.init(config, x.Config.ObjectStoreConfiguration)
}

func (x *ObjectStoreRetrieve) Process(event *types.Event) (*types.Event, error) {
	key, err := x.render(event)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if strings.HasSuffix(key, KeyMatchAll) {
		value = x.store.GetByPrefix(strings.TrimSuffix(key, KeyMatchAll))
	} else if x.store.Has(key) {
		value = x.store.Get(key)
	} else if x.Config.DefaultValue != nil {
		value = x.Config.DefaultValue
	} else {
		return nil, types.NewNotFoundError("object store key not found: " + key)
	}
	target := x.Config.Target
	if target == "" {
		target = "payload"
	}
	base.Assign(event, target, value)
	return event, nil
}

func (x *ObjectStoreRetrieve) Destroy() {
}

// ObjectStoreRemove 删除对象存储中的值，key 以 * 结尾时按前缀删除
type ObjectStoreRemove struct {
	Config ObjectStoreConfiguration
	objectStore
}

func (x *ObjectStoreRemove) Type() string {
	return "objectStoreRemove"
}

func (x *ObjectStoreRemove) New() types.Component {
	return &ObjectStoreRemove{}
}

func (x *ObjectStoreRemove) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	return x.init(config, x.Config)
}

func (x *ObjectStoreRemove) Process(event *types.Event) (*types.Event, error) {
	key, err := x.render(event)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(key, KeyMatchAll) {
		err = x.store.DeleteByPrefix(strings.TrimSuffix(key, KeyMatchAll))
	} else {
		err = x.store.Delete(key)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (x *ObjectStoreRemove) Destroy() {
}
