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

package transform

import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/json"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&JsonToObject{})
	Registry.Add(&ObjectToJson{})
	Registry.Add(&ObjectToString{})
	Registry.Add(&ByteArrayToString{})
}

// JsonToObject decodes a textual JSON payload into maps and slices.
type JsonToObject struct {
}

func (x *JsonToObject) Type() string {
	return "jsonToObject"
}

func (x *JsonToObject) New() types.Component {
	return &JsonToObject{}
}

func (x *JsonToObject) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *JsonToObject) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	var v interface{}
	switch p := msg.Payload().(type) {
	case string:
		if err := json.Unmarshal([]byte(p), &v); err != nil {
			return nil, err
		}
	case []byte:
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, err
		}
	default:
		var err error
		if v, err = json.Normalize(p); err != nil {
			return nil, err
		}
	}
	event.SetMessage(msg.Builder().Payload(v).DataType(types.JSON).Build())
	return event, nil
}

func (x *JsonToObject) Destroy() {
}

// ObjectToJson encodes the payload as a JSON string. Text payloads are kept.
type ObjectToJson struct {
}

func (x *ObjectToJson) Type() string {
	return "objectToJson"
}

func (x *ObjectToJson) New() types.Component {
	return &ObjectToJson{}
}

func (x *ObjectToJson) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *ObjectToJson) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	var s string
	switch p := msg.Payload().(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		s = string(b)
	}
	event.SetMessage(msg.Builder().Payload(s).DataType(types.JSON).Build())
	return event, nil
}

func (x *ObjectToJson) Destroy() {
}

// ObjectToString converts the payload to a string.
type ObjectToString struct {
}

func (x *ObjectToString) Type() string {
	return "objectToString"
}

func (x *ObjectToString) New() types.Component {
	return &ObjectToString{}
}

func (x *ObjectToString) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *ObjectToString) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	s, err := str.ToStringMaybeErr(msg.Payload())
	if err != nil {
		return nil, err
	}
	event.SetMessage(msg.Builder().Payload(s).DataType(types.TEXT).Build())
	return event, nil
}

func (x *ObjectToString) Destroy() {
}

// ByteArrayToString converts a binary payload to a string, other payloads pass through.
type ByteArrayToString struct {
}

func (x *ByteArrayToString) Type() string {
	return "byteArrayToString"
}

func (x *ByteArrayToString) New() types.Component {
	return &ByteArrayToString{}
}

func (x *ByteArrayToString) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *ByteArrayToString) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	if b, ok := msg.Payload().([]byte); ok {
		event.SetMessage(msg.Builder().Payload(string(b)).DataType(types.TEXT).Build())
	}
	return event, nil
}

func (x *ByteArrayToString) Destroy() {
}
