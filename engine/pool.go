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
	"sync"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/fs"
	"github.com/mulego/mulego/utils/logger"
)

// DefaultPool is the default global instance of the Mule context pool.
// DefaultPool 是 Mule 上下文池的默认全局实例。
var DefaultPool = NewPool()

// Callbacks are notified when contexts are added to or removed from a pool.
type Callbacks struct {
	OnNew     func(id string, dsl []byte)
	OnDeleted func(id string)
}

// Pool is a pool of started Mule contexts, keyed by id.
//
// Pool 是已启动的 Mule 上下文池，按 id 存储。
type Pool struct {
	// entries *MuleContext by id
	entries sync.Map
	// lock serialises creation so an id is built once
	lock      sync.Mutex
	Callbacks Callbacks
	// Logger reports definitions that fail to load
	Logger types.Logger
}

func NewPool() *Pool {
	return &Pool{Logger: types.DefaultLogger()}
}

// Load creates and starts a Mule context for every JSON definition found in folderPath
// and its subfolders. The context id is the id of the definition. Files that fail to load
// are logged and skipped.
//
// Load 从指定文件夹及其子文件夹加载所有应用定义。
func (g *Pool) Load(folderPath string, opts ...Option) error {
	paths, err := fs.Find(fs.Pattern(folderPath))
	if err != nil {
		return err
	}
	for _, path := range paths {
		b, err := fs.ReadFile(path)
		if err == nil {
			_, err = g.New("", b, opts...)
		}
		if err != nil {
			logger.Error(g.Logger, err, "load application %s", path)
		}
	}
	return nil
}

// New creates and starts a Mule context and stores it in the pool. The existing context
// is returned when id is already in use. An empty id takes the id of the definition.
func (g *Pool) New(id string, def []byte, opts ...Option) (*MuleContext, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if v, ok := g.entries.Load(id); ok && id != "" {
		return v.(*MuleContext), nil
	}
	ctx, err := NewMuleContext(id, def, opts...)
	if err != nil {
		return nil, err
	}
	if v, ok := g.entries.Load(ctx.Id()); ok {
		ctx.Dispose()
		return v.(*MuleContext), nil
	}
	if err := ctx.Start(); err != nil {
		ctx.Dispose()
		return nil, err
	}
	if ctx.Id() != "" {
		g.entries.Store(ctx.Id(), ctx)
	}
	if g.Callbacks.OnNew != nil {
		g.Callbacks.OnNew(ctx.Id(), def)
	}
	return ctx, nil
}

// Get retrieves a Mule context by its id.
func (g *Pool) Get(id string) (*MuleContext, bool) {
	v, ok := g.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*MuleContext), true
}

// Del disposes and removes the Mule context id.
func (g *Pool) Del(id string) {
	v, ok := g.entries.LoadAndDelete(id)
	if !ok {
		return
	}
	v.(*MuleContext).Dispose()
	if g.Callbacks.OnDeleted != nil {
		g.Callbacks.OnDeleted(id)
	}
}

// Stop disposes every Mule context of the pool.
func (g *Pool) Stop() {
	g.entries.Range(func(key, value any) bool {
		g.Del(key.(string))
		return true
	})
}

// Range iterates over the Mule contexts of the pool.
func (g *Pool) Range(f func(id string, ctx *MuleContext) bool) {
	g.entries.Range(func(key, value any) bool {
		return f(key.(string), value.(*MuleContext))
	})
}
