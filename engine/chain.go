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

package engine

import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/execution"
)

// Element a processor of a chain.
type Element struct {
	// Id reported to OnDebug
	Id        string
	Processor types.Processor
	// Debug enables OnDebug callbacks around the processor
	Debug bool
}

// Chain 处理器链
// runs its processors in order, each through a ProcessorExecutionTemplate.
// An intercepting processor receives the rest of the chain through SetNext and
// decides itself whether and how often it runs. A processor returning nil
// stops the chain.
type Chain struct {
	name     string
	elements []Element
	head     types.Processor
}

// NewChain links elements. The processors are wired once, a chain cannot be changed.
func NewChain(name string, config types.Config, elements ...Element) *Chain {
	c := &Chain{name: name, elements: elements}
	var next types.Processor
	for i := len(elements) - 1; i >= 0; i-- {
		e := elements[i]
		l := &link{
			processor: e.Processor,
			template:  execution.ProcessorExecutionTemplate{ProcessorId: e.Id, Debug: e.Debug, Config: config},
		}
		if ip, ok := e.Processor.(types.InterceptingProcessor); ok {
			l.intercepting = true
			if next != nil {
				ip.SetNext(next)
			} else {
				ip.SetNext(passThrough)
			}
		} else {
			l.next = next
		}
		next = l
	}
	c.head = next
	return c
}

// passThrough ends the chain of an intercepting processor placed last.
var passThrough = types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
	return event, nil
})

func (c *Chain) Name() string {
	return c.name
}

// Elements the processors of the chain.
func (c *Chain) Elements() []Element {
	return c.elements
}

func (c *Chain) Len() int {
	return len(c.elements)
}

// Process runs event through the chain. An empty chain returns event.
func (c *Chain) Process(event *types.Event) (*types.Event, error) {
	if c.head == nil {
		return event, nil
	}
	return c.head.Process(event)
}

// Start starts the processors that support it, in order.
func (c *Chain) Start() error {
	return types.Start(c.processors()...)
}

// Stop stops the processors that support it, in reverse order.
func (c *Chain) Stop() error {
	ps := c.processors()
	for i, j := 0, len(ps)-1; i < j; i, j = i+1, j-1 {
		ps[i], ps[j] = ps[j], ps[i]
	}
	return types.Stop(ps...)
}

// Dispose disposes the processors and destroys the components.
func (c *Chain) Dispose() {
	for _, p := range c.processors() {
		types.Dispose(p)
		if component, ok := p.(types.Component); ok {
			component.Destroy()
		}
	}
}

func (c *Chain) processors() []interface{} {
	out := make([]interface{}, 0, len(c.elements))
	for _, e := range c.elements {
		out = append(out, e.Processor)
	}
	return out
}

// link runs one element and hands the result to the next one.
type link struct {
	processor    types.Processor
	template     execution.ProcessorExecutionTemplate
	intercepting bool
	next         types.Processor
}

func (l *link) Process(event *types.Event) (*types.Event, error) {
	result, err := l.template.Execute(l.processor, event)
	if err != nil || result == nil || l.intercepting || l.next == nil {
		return result, err
	}
	return l.next.Process(result)
}
