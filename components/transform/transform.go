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
	"github.com/mulego/mulego/utils/maps"
)

// Registry 默认组件注册器
var Registry = &types.SafeComponentSlice{}

// ReturnDataType is the data type setting shared by payload transformers.
type ReturnDataType struct {
	// DataType of the produced payload: JSON, TEXT or BINARY. Inferred when empty
	DataType string
}

func (r ReturnDataType) validate() error {
	switch types.DataType(r.DataType) {
	case "", types.JSON, types.TEXT, types.BINARY:
		return nil
	default:
		return types.NewIllegalArgumentError("unknown data type: " + r.DataType)
	}
}

// setPayload replaces the payload of event, keeping every property.
func (r ReturnDataType) setPayload(event *types.Event, payload interface{}) {
	msg := event.Message().WithPayload(payload)
	if r.DataType != "" {
		msg = msg.Builder().DataType(types.DataType(r.DataType)).Build()
	}
	event.SetMessage(msg)
}

func decode(configuration types.Configuration, out interface{}) error {
	return maps.Map2Struct(configuration, out)
}
