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

package action

//{
//  "type": "enricher",
//  "configuration": {
//    "enrich": [
//      {"source": "msg.rate", "target": "vars.rate"},
//      {"source": "payload", "target": "outbound.x-quote"}
//    ]
//  },
//  "routes": [{"processors": [{"type": "flowRef", "configuration": {"name": "quoteFlow"}}]}]
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/maps"
)

func init() {
	Registry.Add(&Enricher{})
}

// Enrichment copies the result of source into target.
type Enrichment struct {
	// Source expression evaluated against the event returned by the nested processors. Default payload
	Source string
	// Target vars.x, outbound.x, session.x or payload
	Target string
}

// EnricherConfiguration 节点配置
type EnricherConfiguration struct {
	// Source and Target a single enrichment, appended to Enrich
	Source string
	Target string
	Enrich []Enrichment
}

type enrichment struct {
	source *el.Expression
	target string
}

// Enricher 消息增强器
// Runs the nested processors on a copy of the event and stores the results
// into the original event. The payload of the original event is kept unless
// the target is payload.
type Enricher struct {
	Config      EnricherConfiguration
	processor   types.Processor
	enrichments []enrichment
}

func (x *Enricher) Type() string {
	return "enricher"
}

func (x *Enricher) New() types.Component {
	return &Enricher{}
}

func (x *Enricher) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	items := x.Config.Enrich
	if x.Config.Target != "" {
		items = append([]Enrichment{{Source: x.Config.Source, Target: x.Config.Target}}, items...)
	}
	if len(items) == 0 {
		return types.NewIllegalArgumentError("enricher requires a target")
	}
	x.enrichments = nil
	for _, item := range items {
		if item.Target == "" {
			return types.NewIllegalArgumentError("enricher requires a target")
		}
		source := item.Source
		if source == "" {
			source = "payload"
		}
		expression, err := el.Compile(source, config.Udf)
		if err != nil {
			return err
		}
		x.enrichments = append(x.enrichments, enrichment{source: expression, target: item.Target})
	}
	return nil
}

func (x *Enricher) SetRoutes(routes []types.Route) error {
	p, err := base.DefaultRoute(x.Type(), routes)
	if err != nil {
		return err
	}
	x.processor = p
	return nil
}

func (x *Enricher) Process(event *types.Event) (*types.Event, error) {
	if x.processor == nil {
		return nil, types.NewIllegalStateError("enricher has no nested processors")
	}
	result, err := x.processor.Process(event.Copy())
	if err != nil {
		return nil, err
	}
	if result == nil {
		return event, nil
	}
	for _, e := range x.enrichments {
		v, err := e.source.Eval(result)
		if err != nil {
			return nil, err
		}
		base.Assign(event, e.target, v)
	}
	return event, nil
}

func (x *Enricher) Destroy() {
}
