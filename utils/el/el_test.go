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

package el

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mulego/mulego/api/types"
)

func TestNewTemplate(t *testing.T) {
	data := map[string]any{"name": "lala", "age": 18, "msg": map[string]any{"temperature": 41}}

	tmpl, err := NewTemplate("${age + 2}")
	assert.Nil(t, err)
	assert.False(t, tmpl.IsNotVar())
	v, err := tmpl.Execute(data)
	assert.Nil(t, err)
	assert.Equal(t, 20, v)

	tmpl, err = NewTemplate("user/${name}/${msg.temperature}")
	assert.Nil(t, err)
	v, err = tmpl.Execute(data)
	assert.Nil(t, err)
	assert.Equal(t, "user/lala/41", v)

	tmpl, err = NewTemplate("plain")
	assert.Nil(t, err)
	assert.True(t, tmpl.IsNotVar())
	v, _ = tmpl.Execute(data)
	assert.Equal(t, "plain", v)

	tmpl, err = NewTemplate(5)
	assert.Nil(t, err)
	v, _ = tmpl.Execute(data)
	assert.Equal(t, 5, v)

	_, err = NewTemplate("${a +}")
	assert.NotNil(t, err)
}

func TestExpression(t *testing.T) {
	msg := types.NewMessage(`{"temperature":41}`).Builder().
		DataType(types.JSON).InboundProperty("http.method", "POST").Build()
	event := types.NewEvent(context.Background(), msg, types.OneWay, nil)
	event.SetVariable("limit", 40)

	e, err := Compile("${msg.temperature > vars.limit && inbound['http.method'] == 'POST'}", nil)
	assert.Nil(t, err)
	ok, err := e.EvalBool(event)
	assert.Nil(t, err)
	assert.True(t, ok)

	e, err = Compile("double(variable('limit'))", map[string]interface{}{
		"double": func(v int) int { return v * 2 },
		"Js#x":   "function x(){}",
	})
	assert.Nil(t, err)
	v, err := e.Eval(event)
	assert.Nil(t, err)
	assert.Equal(t, 80, v)

	e, _ = Compile("payload", nil)
	_, err = e.EvalBool(event)
	assert.NotNil(t, err)

	_, err = Compile("  ", nil)
	assert.NotNil(t, err)
}

func TestCausedBy(t *testing.T) {
	msg := types.NewMessage("x")
	event := types.NewEvent(context.Background(), msg, types.OneWay, nil)
	assert.False(t, CausedBy(event, "UnauthorisedError"))

	cause := &types.UnauthorisedError{Reason: "bad"}
	me := types.NewMessagingException(event, cause, nil)
	event.SetMessage(msg.WithExceptionPayload(types.NewExceptionPayload(me)))
	assert.True(t, CausedBy(event, "UnauthorisedError"))
	assert.True(t, CausedBy(event, "MessagingException"))
	assert.False(t, CausedBy(event, "DispatchError"))

	e, _ := Compile("causedBy('UnauthorisedError') && exceptionMessage == 'unauthorised access: bad'", nil)
	ok, err := e.EvalBool(event)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.False(t, CausedBy(types.NewEvent(nil, msg.WithExceptionPayload(types.NewExceptionPayload(errors.New("x"))), "", nil), "UnauthorisedError"))
}

func TestRender(t *testing.T) {
	event := types.NewEvent(context.Background(), types.NewMessage(map[string]interface{}{"name": "lala"}), types.OneWay, nil)
	event.SetVariable("n", 2)
	tmpl, _ := NewTemplate("hello ${msg.name} x${vars.n}")
	v, err := Render(tmpl, event, nil)
	assert.Nil(t, err)
	assert.Equal(t, "hello lala x2", v)

	tmpl, _ = NewTemplate("${vars.n + 1}")
	v, err = Render(tmpl, event, nil)
	assert.Nil(t, err)
	assert.Equal(t, 3, v)

	tmpl, _ = NewTemplate(5)
	v, _ = Render(tmpl, event, nil)
	assert.Equal(t, 5, v)
}

func TestUdfShadowsBuiltin(t *testing.T) {
	udf := map[string]interface{}{"now": func() int64 { return 42 }}
	event := types.NewEvent(context.Background(), types.NewMessage("x"), types.OneWay, nil)

	expression, err := Compile("now()", udf)
	assert.Nil(t, err)
	v, err := expression.Eval(event)
	assert.Nil(t, err)
	assert.Equal(t, int64(42), v)

	tmpl, err := NewTemplate("${now()}", udf)
	assert.Nil(t, err)
	v, err = Render(tmpl, event, udf)
	assert.Nil(t, err)
	assert.Equal(t, int64(42), v)

	tmpl, err = NewTemplate("at ${now()}", udf)
	assert.Nil(t, err)
	v, err = Render(tmpl, event, udf)
	assert.Nil(t, err)
	assert.Equal(t, "at 42", v)

	expression, err = Compile("now()", nil)
	assert.Nil(t, err)
	v, err = expression.Eval(event)
	assert.Nil(t, err)
	assert.IsType(t, time.Time{}, v)
}
