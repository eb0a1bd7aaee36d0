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

// Package json wraps encoding/json with HTML escaping disabled.
package json

import (
	"bytes"
	"encoding/json"
)

// Marshal encodes v without escaping HTML characters.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	// Encode appends a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Unmarshal json data to struct
func Unmarshal(b []byte, m interface{}) error {
	return json.Unmarshal(b, m)
}

// Normalize converts v to its generic JSON form: maps, slices, float64, string, bool.
func Normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, string, bool, float64, map[string]interface{}, []interface{}:
		return v, nil
	}
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(b, &out)
	return out, err
}

// Format indents src with tabs.
func Format(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, src, "", "\t"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
