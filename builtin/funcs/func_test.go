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

package funcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/test"
	"github.com/mulego/mulego/utils/el"
)

func TestBuiltinFunc(t *testing.T) {
	t.Run("escape", func(t *testing.T) {
		escapeFunc, ok := ScriptFunc.Get("escape")
		require.True(t, ok)
		fn, ok := escapeFunc.(func(string) string)
		require.True(t, ok)

		assert.Equal(t, "hello\\\\world", fn("hello\\world"))
		assert.Equal(t, "hello\\\"world\\\"", fn("hello\"world\""))
		assert.Equal(t, "hello\\nworld", fn("hello\nworld"))
		assert.Equal(t, "complex\\\\\\\"\\n\\r\\tstring", fn("complex\\\"\n\r\tstring"))
	})

	t.Run("expression", func(t *testing.T) {
		expression, err := el.Compile(`base64Decode(base64Encode(msg)) + "-" + toJson({"a": 1})`, ScriptFunc.GetAll())
		require.Nil(t, err)
		v, err := expression.Eval(test.NewEvent("x"))
		require.Nil(t, err)
		assert.Equal(t, `x-{"a":1}`, v)

		expression, err = el.Compile(`len(uuid()) == 36 && now() > 0`, ScriptFunc.GetAll())
		require.Nil(t, err)
		ok, err := expression.EvalBool(test.NewEvent("x"))
		require.Nil(t, err)
		assert.True(t, ok)

		expression, err = el.Compile(`now()`, ScriptFunc.GetAll())
		require.Nil(t, err)
		v, err = expression.Eval(test.NewEvent("x"))
		require.Nil(t, err)
		assert.IsType(t, int64(0), v)
	})

	t.Run("registry", func(t *testing.T) {
		ScriptFunc.RegisterAll(map[string]any{
			"test": func(a int) int {
				return a + 1
			},
		})
		ScriptFunc.Register("test2", func(a int) int {
			return a + 1
		})
		cp := ScriptFunc.GetAll()
		_, ok := cp["test"]
		assert.True(t, ok)
		assert.Equal(t, len(cp), len(ScriptFunc.Names()))

		ScriptFunc.UnRegister("test")
		_, ok = ScriptFunc.Get("test")
		assert.False(t, ok)
		_, ok = ScriptFunc.Get("test2")
		assert.True(t, ok)
		ScriptFunc.UnRegister("test2")
		_, ok = ScriptFunc.Get("test2")
		assert.False(t, ok)
	})

	t.Run("funcMap", func(t *testing.T) {
		var testMap = NewFuncMap[string]()
		testMap.RegisterAll(map[string]string{
			"test1": "test1",
			"test2": "test2",
		})
		for k, v := range testMap.GetAll() {
			assert.Equal(t, k, v)
		}
		assert.Equal(t, 2, len(testMap.Names()))
	})
}
