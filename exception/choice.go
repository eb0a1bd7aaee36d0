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

package exception

import (
	"fmt"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/logger"
)

// ChoiceStrategy delegates to the first strategy accepting the event and to
// the context default strategy when none does.
type ChoiceStrategy struct {
	name       string
	strategies []types.MessagingExceptionHandler
	config     types.Config
}

// NewChoiceStrategy every strategy must be a MessagingExceptionAcceptor and only
// the last one may accept all events.
func NewChoiceStrategy(name string, strategies []types.MessagingExceptionHandler, config types.Config) (*ChoiceStrategy, error) {
	for i, s := range strategies {
		acceptor, ok := s.(types.MessagingExceptionAcceptor)
		if !ok {
			return nil, types.NewIllegalArgumentError(fmt.Sprintf("choice strategy %s: strategy %d cannot be used in a choice", name, i))
		}
		if acceptor.AcceptsAll() && i != len(strategies)-1 {
			return nil, types.NewIllegalArgumentError(fmt.Sprintf("choice strategy %s: only the last strategy may accept all failures", name))
		}
	}
	return &ChoiceStrategy{name: name, strategies: strategies, config: config}, nil
}

func (s *ChoiceStrategy) Name() string {
	return s.name
}

func (s *ChoiceStrategy) HandleException(err error, event *types.Event) *types.Event {
	event = withExceptionPayload(event, toMessagingException(err, event))
	for _, strategy := range s.strategies {
		if strategy.(types.MessagingExceptionAcceptor).Accept(event) {
			return strategy.HandleException(err, event)
		}
	}
	return DefaultFor(s.config).HandleException(err, event)
}

// Accept true when a nested strategy accepts event.
func (s *ChoiceStrategy) Accept(event *types.Event) bool {
	for _, strategy := range s.strategies {
		if strategy.(types.MessagingExceptionAcceptor).Accept(event) {
			return true
		}
	}
	return false
}

func (s *ChoiceStrategy) AcceptsAll() bool {
	return false
}

// ReferenceStrategy resolves a global strategy by name each time a failure is handled.
type ReferenceStrategy struct {
	ref    string
	config types.Config
}

func NewReferenceStrategy(ref string, config types.Config) *ReferenceStrategy {
	return &ReferenceStrategy{ref: ref, config: config}
}

func (s *ReferenceStrategy) Ref() string {
	return s.ref
}

func (s *ReferenceStrategy) resolve() types.MessagingExceptionHandler {
	if s.config.Registry != nil {
		if v, ok := s.config.Registry.Lookup(s.ref); ok {
			if h, ok := v.(types.MessagingExceptionHandler); ok {
				return h
			}
		}
	}
	logger.Warn(s.config.Logger, "exception strategy %s not found, using the default strategy", s.ref)
	return DefaultFor(s.config)
}

func (s *ReferenceStrategy) HandleException(err error, event *types.Event) *types.Event {
	return s.resolve().HandleException(err, event)
}

func (s *ReferenceStrategy) Accept(event *types.Event) bool {
	if a, ok := s.resolve().(types.MessagingExceptionAcceptor); ok {
		return a.Accept(event)
	}
	return true
}

func (s *ReferenceStrategy) AcceptsAll() bool {
	if a, ok := s.resolve().(types.MessagingExceptionAcceptor); ok {
		return a.AcceptsAll()
	}
	return true
}
