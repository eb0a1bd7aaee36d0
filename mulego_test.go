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

package mulego

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/engine"
)

const echo = `{
	"id": "echo",
	"flows": [{
		"name": "main",
		"processors": [{"type": "setPayload", "configuration": {"value": "echo"}}]
	}]
}`

func TestMulego(t *testing.T) {
	config := NewConfig(types.WithProperties(map[string]string{"suffix": "ok"}))
	ctx, err := New("", []byte(`{
		"id": "facade",
		"flows": [{
			"name": "main",
			"processors": [{"type": "setPayload", "configuration": {"value": "${global.suffix}"}}]
		}]
	}`), WithConfig(config))
	require.Nil(t, err)
	assert.True(t, ctx.IsStarted())

	got, ok := Get("facade")
	require.True(t, ok)
	assert.Equal(t, ctx, got)

	// the same id returns the existing context
	again, err := New("facade", []byte(echo))
	require.Nil(t, err)
	assert.Equal(t, ctx, again)

	reply, err := ctx.Send(context.Background(), "main", types.NewMessage("x"))
	require.Nil(t, err)
	assert.Equal(t, "ok", reply.Payload())

	var ids []string
	Range(func(id string, ctx *engine.MuleContext) bool {
		ids = append(ids, id)
		return true
	})
	assert.Contains(t, ids, "facade")

	Del("facade")
	_, ok = Get("facade")
	assert.False(t, ok)
	assert.Equal(t, engine.PhaseDispose, ctx.Phase())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.Nil(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	app := func(id string) []byte {
		return []byte(`{"id": "` + id + `", "flows": [{"name": "main"}]}`)
	}
	require.Nil(t, os.WriteFile(filepath.Join(dir, "a.json"), app("loadA"), 0644))
	require.Nil(t, os.WriteFile(filepath.Join(dir, "sub", "b.json"), app("loadB"), 0644))
	require.Nil(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0644))

	require.Nil(t, Load(dir))
	defer Stop()
	_, ok := Get("loadA")
	assert.True(t, ok)
	_, ok = Get("loadB")
	assert.True(t, ok)

	Stop()
	_, ok = Get("loadA")
	assert.False(t, ok)
}
