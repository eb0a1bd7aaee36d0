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

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mulego/mulego/api/types"
)

type sample struct {
	Name    string `validate:"required"`
	Pattern string `validate:"omitempty,oneof=one-way request-response"`
	Workers int    `validate:"gte=0"`
}

func TestStruct(t *testing.T) {
	assert.Nil(t, Struct(sample{Name: "a", Pattern: "one-way"}))

	err := Struct(sample{Pattern: "sometimes", Workers: -1})
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
	assert.Contains(t, err.Error(), "sample.Name:required")
	assert.Contains(t, err.Error(), "sample.Pattern:oneof=one-way request-response")
	assert.Contains(t, err.Error(), "sample.Workers:gte=0")

	assert.Len(t, Fields(sample{}), 1)
}
