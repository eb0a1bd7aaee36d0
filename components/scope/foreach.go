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

package scope

//{
//  "type": "foreach",
//  "configuration": {
//    "collection": "msg.lines",
//    "batchSize": 10
//  },
//  "routes": [{"processors": [...]}]
//}
import (
	"reflect"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
)

func init() {
	Registry.Add(&Foreach{})
}

// ForeachConfiguration 节点配置
type ForeachConfiguration struct {
	// Collection expression. Default payload
	Collection string
	// CounterVariableName holds the 1 based position of the current element
	CounterVariableName string
	// RootMessageVariableName holds the message the iteration started with
	RootMessageVariableName string
	// BatchSize groups elements, each batch is processed as one collection
	BatchSize int
}

// Foreach 遍历作用域
// Runs the nested processors once per element of a collection. Flow variables
// set by the nested processors are kept; the message returned is the
// original one.
type Foreach struct {
	nested
	Config     ForeachConfiguration
	collection *el.Expression
}

func (x *Foreach) Type() string {
	return "foreach"
}

func (x *Foreach) New() types.Component {
	return &Foreach{Config: ForeachConfiguration{
		Collection:              "payload",
		CounterVariableName:     "counter",
		RootMessageVariableName: "rootMessage",
		BatchSize:               1,
	}}
}

func (x *Foreach) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.BatchSize < 1 {
		return types.NewIllegalArgumentError("foreach batchSize must be positive")
	}
	expression, err := el.Compile(x.Config.Collection, config.Udf)
	if err != nil {
		return err
	}
	x.collection = expression
	return nil
}

func (x *Foreach) SetRoutes(routes []types.Route) error {
	return x.setRoutes(x.Type(), routes)
}

// elements converts v to a slice, a single value is a one element slice.
func elements(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.([]interface{}); ok {
		return s
	}
	if _, ok := v.([]byte); ok {
		return []interface{}{v}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		out := make([]interface{}, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, iter.Value().Interface())
		}
		return out
	default:
		return []interface{}{v}
	}
}

func (x *Foreach) Process(event *types.Event) (*types.Event, error) {
	if err := x.ready(x.Type()); err != nil {
		return nil, err
	}
	v, err := x.collection.Eval(event)
	if err != nil {
		return nil, err
	}
	items := elements(v)
	original := event.Message()
	prevCounter, hadCounter := event.Variable(x.Config.CounterVariableName)
	prevRoot, hadRoot := event.Variable(x.Config.RootMessageVariableName)
	failed := false
	defer func() {
		restore(event, x.Config.CounterVariableName, prevCounter, hadCounter)
		restore(event, x.Config.RootMessageVariableName, prevRoot, hadRoot)
		// a failure keeps the element being processed
		if !failed {
			event.SetMessage(original)
		}
	}()
	event.SetVariable(x.Config.RootMessageVariableName, original)

	counter := 0
	for start := 0; start < len(items); start += x.Config.BatchSize {
		end := start + x.Config.BatchSize
		if end > len(items) {
			end = len(items)
		}
		var payload interface{}
		if x.Config.BatchSize == 1 {
			payload = items[start]
		} else {
			payload = items[start:end]
		}
		counter++
		event.SetVariable(x.Config.CounterVariableName, counter)
		event.SetMessage(original.Builder().Id(types.NewId()).Payload(payload).DataType(types.InferDataType(payload)).Build())
		if _, err := x.processor.Process(event); err != nil {
			failed = true
			return nil, err
		}
	}
	return event, nil
}

func restore(event *types.Event, name string, value interface{}, existed bool) {
	if existed {
		event.SetVariable(name, value)
	} else {
		event.RemoveVariable(name)
	}
}

func (x *Foreach) Destroy() {
}
