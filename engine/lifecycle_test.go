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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager(t *testing.T) {
	m := NewLifecycleManager("test")
	assert.Equal(t, PhaseNone, m.Current())

	assert.True(t, errors.Is(m.CheckPhase(PhaseStart), ErrIllegalLifecyclePhase))
	assert.True(t, errors.Is(m.Fire(PhaseStop, nil), ErrIllegalLifecyclePhase))

	require.Nil(t, m.Fire(PhaseInitialise, nil))
	assert.True(t, m.IsPhase(PhaseInitialise))
	assert.True(t, errors.Is(m.Fire(PhaseInitialise, nil), ErrIllegalLifecyclePhase))

	require.Nil(t, m.Fire(PhaseStart, nil))
	assert.True(t, errors.Is(m.CheckPhase(PhaseDispose), ErrIllegalLifecyclePhase))
	require.Nil(t, m.Fire(PhaseStop, nil))
	require.Nil(t, m.Fire(PhaseStart, nil))
	require.Nil(t, m.Fire(PhaseStop, nil))
	require.Nil(t, m.Fire(PhaseDispose, nil))
	assert.True(t, errors.Is(m.Fire(PhaseStart, nil), ErrIllegalLifecyclePhase))
}

func TestLifecycleCallbackFailure(t *testing.T) {
	m := NewLifecycleManager("test")
	require.Nil(t, m.Fire(PhaseInitialise, nil))

	boom := errors.New("boom")
	err := m.Fire(PhaseStart, func() error {
		return boom
	})
	assert.Equal(t, boom, err)
	// the phase is only entered on success
	assert.Equal(t, PhaseInitialise, m.Current())

	var called bool
	require.Nil(t, m.Fire(PhaseStart, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, PhaseStart, m.Current())
}

func TestDisposeWithoutInitialise(t *testing.T) {
	m := NewLifecycleManager("test")
	require.Nil(t, m.Fire(PhaseDispose, nil))
	assert.True(t, m.IsPhase(PhaseDispose))
}
