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

package execution

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// ProcessorExecutionTemplate runs a single processor of a chain: errors and panics
// become MessagingExceptions and debug callbacks are fired around the call.
type ProcessorExecutionTemplate struct {
	// ProcessorId id used in debug callbacks
	ProcessorId string
	// Debug enables OnDebug callbacks
	Debug  bool
	Config types.Config
}

// Execute processes event with p.
func (t *ProcessorExecutionTemplate) Execute(p types.Processor, event *types.Event) (*types.Event, error) {
	return t.exceptionToMessagingException(p, event, t.notifying)
}

func (t *ProcessorExecutionTemplate) exceptionToMessagingException(p types.Processor, event *types.Event,
	next func(p types.Processor, event *types.Event) (*types.Event, error)) (result *types.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			if t.Config.Logger != nil {
				t.Config.Logger.Printf("processor %s panic: %v\n%s", types.ProcessorName(p), r, debug.Stack())
			}
			result = nil
			err = ToMessagingException(event, errors.New(fmt.Sprintf("panic: %v", r)), p)
		}
	}()
	result, err = next(p, event)
	if err != nil {
		return nil, ToMessagingException(event, err, p)
	}
	return result, nil
}

func (t *ProcessorExecutionTemplate) notifying(p types.Processor, event *types.Event) (*types.Event, error) {
	if !t.Debug || t.Config.OnDebug == nil {
		return p.Process(event)
	}
	t.Config.OnDebug(event.FlowName(), types.In, t.ProcessorId, event, nil)
	result, err := p.Process(event)
	out := result
	if out == nil {
		out = event
	}
	t.Config.OnDebug(event.FlowName(), types.Out, t.ProcessorId, out, err)
	return result, err
}

// ToMessagingException normalises err into a MessagingException for event and p and
// attaches the exception payload to the event's message.
func ToMessagingException(event *types.Event, err error, p types.Processor) *types.MessagingException {
	me, ok := types.AsMessagingException(err)
	if ok {
		me.SetFailingProcessor(p)
		if me.Event() == nil {
			me.SetEvent(event)
		}
	} else {
		me = types.NewMessagingException(event, err, p)
	}
	if ev := me.Event(); ev != nil {
		if msg := ev.Message(); msg != nil && msg.ExceptionPayload() == nil {
			ev.SetMessage(msg.WithExceptionPayload(types.NewExceptionPayload(err)))
		}
	}
	return me
}
