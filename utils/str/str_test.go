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

package str

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecuteTemplate(t *testing.T) {
	dict := map[string]interface{}{
		"name": "Alice",
		"msg":  map[string]interface{}{"id": 5},
	}
	assert.Equal(t, "Hello,Alice! id=5", ExecuteTemplate("Hello,${name}! id=${ msg.id }", dict))
	assert.Equal(t, "keep ${missing}", ExecuteTemplate("keep ${missing}", dict))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "1.5", ToString(1.5))
	assert.Equal(t, "3", ToString(3))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "abc", ToString([]byte("abc")))
	assert.Equal(t, "boom", ToString(errors.New("boom")))
	assert.Equal(t, `{"a":1}`, ToString(map[string]interface{}{"a": 1}))
	assert.Equal(t, "", ToString(nil))
}

func TestConvertDollarPlaceholder(t *testing.T) {
	assert.Equal(t, "select * from t where a=$1 and b=$2", ConvertDollarPlaceholder("select * from t where a=? and b=?", "postgres"))
	assert.Equal(t, "select ?", ConvertDollarPlaceholder("select ?", "mysql"))
	assert.True(t, CheckHasVar("${a}"))
	assert.False(t, CheckHasVar("a"))
}

func TestWildcardRegexp(t *testing.T) {
	re, err := WildcardRegexp("*.xml, report*")
	assert.Nil(t, err)
	assert.True(t, re.MatchString("a.xml"))
	assert.True(t, re.MatchString("report-1"))
	assert.False(t, re.MatchString("a.xmlx"))
	_, err = WildcardRegexp(" , ")
	assert.NotNil(t, err)
}
