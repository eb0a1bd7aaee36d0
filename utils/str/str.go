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

// Package str provides string conversion and ${} template helpers.
package str

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mulego/mulego/utils/json"
	"github.com/mulego/mulego/utils/maps"
)

const (
	VarPrefix = "${"
	VarSuffix = "}"
)

// 正则表达式匹配 ${aa} 或 ${aa.bb}
var tplVarRegex = regexp.MustCompile(`\$\{ *([^}]+) *\}`)

// ExecuteTemplate 替换字符串模板中的${}变量
// original是一个字符串，包含${key}形式的变量占位符。支持多级变量如：${key.subKey}
// 如果没匹配到变量，则保留原样
func ExecuteTemplate(original string, dict map[string]interface{}) string {
	return tplVarRegex.ReplaceAllStringFunc(original, func(s string) string {
		matches := tplVarRegex.FindStringSubmatch(s)
		if len(matches) < 2 {
			return s
		}
		v := maps.Get(dict, strings.TrimSpace(matches[1]))
		if v == nil {
			return s
		}
		return ToString(v)
	})
}

// ToString input的值转成字符串,忽略错误
func ToString(input interface{}) string {
	v, _ := ToStringMaybeErr(input)
	return v
}

// ToStringMaybeErr input的值转成字符串，结构体和集合转成JSON
func ToStringMaybeErr(input interface{}) (string, error) {
	switch v := input.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case error:
		return v.Error(), nil
	case fmt.Stringer:
		return v.String(), nil
	case map[string]interface{}, []interface{}, []map[string]interface{}, map[string]string:
		b, err := json.Marshal(v)
		return string(b), err
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// CheckHasVar 检查字符串是否有占位符
func CheckHasVar(str string) bool {
	return strings.Contains(str, VarPrefix) && strings.Contains(str, VarSuffix)
}

// ConvertDollarPlaceholder 转postgres风格占位符
func ConvertDollarPlaceholder(sql, dbType string) string {
	if dbType != "postgres" {
		return sql
	}
	var sb strings.Builder
	n := 1
	for _, c := range sql {
		if c == '?' {
			sb.WriteString("$" + strconv.Itoa(n))
			n++
		} else {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// WildcardRegexp compiles comma separated wildcard patterns: "*" matches any
// sequence, everything else is literal.
func WildcardRegexp(patterns string) (*regexp.Regexp, error) {
	var parts []string
	for _, p := range strings.Split(patterns, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*"))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty wildcard pattern")
	}
	return regexp.Compile("^(?:" + strings.Join(parts, "|") + ")$")
}
