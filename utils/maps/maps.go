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

// Package maps decodes component configurations and resolves nested keys.
package maps

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mulego/mulego/api/types"
)

// Map2Struct Decode takes an input structure and uses reflection to translate it to
// the output structure. output must be a pointer to a map or struct.
// Strings are weakly converted, durations may be given as "5s".
func Map2Struct(input interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Get returns the value at a dotted path, e.g. "msg.user.name". nil when absent.
func Get(dict map[string]interface{}, path string) interface{} {
	var current interface{} = dict
	for _, key := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]interface{}:
			current = m[key]
		case types.Properties:
			current = m[key]
		case map[string]string:
			current = m[key]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// GlobalPrefix prefix of global property references in configurations.
const GlobalPrefix = "global."

// ReplaceGlobal returns a copy of configuration with ${global.key} references in
// string values replaced by global properties, nested maps and slices included.
func ReplaceGlobal(configuration types.Configuration, properties map[string]string) types.Configuration {
	if len(properties) == 0 {
		return configuration
	}
	out := make(types.Configuration, len(configuration))
	for k, v := range configuration {
		out[k] = replaceValue(v, properties)
	}
	return out
}

func replaceValue(v interface{}, properties map[string]string) interface{} {
	switch value := v.(type) {
	case string:
		for key, prop := range properties {
			value = strings.ReplaceAll(value, "${"+GlobalPrefix+key+"}", prop)
		}
		return value
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[k] = replaceValue(item, properties)
		}
		return out
	case types.Configuration:
		return ReplaceGlobal(value, properties)
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			out[i] = replaceValue(item, properties)
		}
		return out
	default:
		return v
	}
}
