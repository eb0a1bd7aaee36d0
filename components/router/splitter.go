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

package router

//{
//  "type": "splitter",
//  "configuration": {
//    "expression": "msg.items",
//    "enableCorrelation": "ifNotSet"
//  }
//}
import (
	"reflect"
	"sort"
	"strings"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/str"
)

// Correlation modes of the splitter
const (
	CorrelationIfNotSet = "ifNotSet"
	CorrelationAlways   = "always"
	CorrelationNever    = "never"
)

// SplitKeyVariable holds the map key of a part split from a map.
const SplitKeyVariable = "splitKey"

func init() {
	Registry.Add(&Splitter{})
}

// SplitterConfiguration 节点配置
type SplitterConfiguration struct {
	// Expression returning the collection to split. Default payload
	Expression string
	// Delimiter splits string results
	Delimiter string
	// EnableCorrelation ifNotSet, always or never
	EnableCorrelation string
}

// Splitter 拆分器
// Splits the result of the expression into parts and sends each part, as a
// message of its own, through the rest of the chain. Parts carry a correlation
// (id, group size, sequence) that an aggregator uses to rebuild the group.
// The result holds the payloads returned by the rest of the chain.
type Splitter struct {
	Config     SplitterConfiguration
	expression *el.Expression
	next       types.Processor
}

func (x *Splitter) Type() string {
	return "splitter"
}

func (x *Splitter) New() types.Component {
	return &Splitter{Config: SplitterConfiguration{Expression: "payload", EnableCorrelation: CorrelationIfNotSet}}
}

func (x *Splitter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	switch x.Config.EnableCorrelation {
	case CorrelationIfNotSet, CorrelationAlways, CorrelationNever:
	default:
		return types.NewIllegalArgumentError("unknown correlation mode: " + x.Config.EnableCorrelation)
	}
	expression, err := el.Compile(x.Config.Expression, config.Udf)
	if err != nil {
		return err
	}
	x.expression = expression
	return nil
}

func (x *Splitter) SetNext(next types.Processor) {
	x.next = next
}

type part struct {
	key   string
	value interface{}
}

// split converts v into parts: slices and arrays by element, maps by entry in
// key order, strings by delimiter. Anything else is a single part.
func (x *Splitter) split(v interface{}) []part {
	if s, ok := v.(string); ok && x.Config.Delimiter != "" {
		var parts []part
		for _, item := range strings.Split(s, x.Config.Delimiter) {
			parts = append(parts, part{value: item})
		}
		return parts
	}
	if _, ok := v.([]byte); ok {
		return []part{{value: v}}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]part, rv.Len())
		for i := range parts {
			parts[i] = part{value: rv.Index(i).Interface()}
		}
		return parts
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return str.ToString(keys[i].Interface()) < str.ToString(keys[j].Interface())
		})
		parts := make([]part, len(keys))
		for i, k := range keys {
			parts[i] = part{key: str.ToString(k.Interface()), value: rv.MapIndex(k).Interface()}
		}
		return parts
	case reflect.Invalid:
		return nil
	default:
		return []part{{value: v}}
	}
}

func (x *Splitter) Process(event *types.Event) (*types.Event, error) {
	v, err := x.expression.Eval(event)
	if err != nil {
		return nil, err
	}
	parts := x.split(v)
	if len(parts) == 0 {
		return nil, nil
	}
	msg := event.Message()
	correlationId := msg.Id()
	if x.Config.EnableCorrelation == CorrelationIfNotSet && msg.Correlation().IsSet() {
		correlationId = msg.Correlation().Id
	}
	var payloads []interface{}
	for i, p := range parts {
		b := msg.Builder().Id(types.NewId()).Payload(p.value).DataType(types.InferDataType(p.value))
		if x.Config.EnableCorrelation != CorrelationNever {
			b.Correlation(types.Correlation{Id: correlationId, GroupSize: len(parts), Sequence: i + 1}).
				OutboundProperty(types.CorrelationIdProperty, correlationId).
				OutboundProperty(types.CorrelationGroupSizeProperty, len(parts)).
				OutboundProperty(types.CorrelationSequenceProperty, i+1)
		}
		partEvent := event.WithMessage(b.Build())
		if p.key != "" {
			partEvent.SetVariable(SplitKeyVariable, p.key)
		}
		result := partEvent
		if x.next != nil {
			if result, err = x.next.Process(partEvent); err != nil {
				return nil, err
			}
		}
		if result != nil {
			payloads = append(payloads, result.Message().Payload())
		}
	}
	if len(payloads) == 0 {
		return nil, nil
	}
	event.SetMessage(msg.Builder().Payload(payloads).DataType(types.JSON).Build())
	return event, nil
}

func (x *Splitter) Destroy() {
}
