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
	"sync"

	"github.com/pkg/errors"
)

// Phase 生命周期阶段
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseInitialise Phase = "initialise"
	PhaseStart      Phase = "start"
	PhaseStop       Phase = "stop"
	PhaseDispose    Phase = "dispose"
)

// ErrIllegalLifecyclePhase is returned for a phase that cannot follow the current one.
var ErrIllegalLifecyclePhase = errors.New("illegal lifecycle phase")

// transitions legal next phases by current phase
var transitions = map[Phase][]Phase{
	PhaseNone:       {PhaseInitialise, PhaseDispose},
	PhaseInitialise: {PhaseStart, PhaseDispose},
	PhaseStart:      {PhaseStop},
	PhaseStop:       {PhaseStart, PhaseDispose},
}

// LifecycleManager tracks the lifecycle phase of an object and rejects illegal transitions.
type LifecycleManager struct {
	name    string
	current Phase
	lock    sync.Mutex
}

func NewLifecycleManager(name string) *LifecycleManager {
	return &LifecycleManager{name: name}
}

// Current the last phase entered successfully.
func (m *LifecycleManager) Current() Phase {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current
}

// IsPhase reports whether phase is the current phase.
func (m *LifecycleManager) IsPhase(phase Phase) bool {
	return m.Current() == phase
}

// CheckPhase returns ErrIllegalLifecyclePhase when phase cannot follow the current phase.
func (m *LifecycleManager) CheckPhase(phase Phase) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.check(phase)
}

func (m *LifecycleManager) check(phase Phase) error {
	for _, p := range transitions[m.current] {
		if p == phase {
			return nil
		}
	}
	current := m.current
	if current == PhaseNone {
		current = "none"
	}
	return errors.Wrapf(ErrIllegalLifecyclePhase, "%s: cannot %s in phase %s", m.name, phase, current)
}

// Fire enters phase and runs callback. The phase is entered only when callback succeeds.
// Concurrent transitions are serialised.
func (m *LifecycleManager) Fire(phase Phase, callback func() error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := m.check(phase); err != nil {
		return err
	}
	if callback != nil {
		if err := callback(); err != nil {
			return err
		}
	}
	m.current = phase
	return nil
}
