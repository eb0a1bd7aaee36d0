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

// Package validate validates configuration structs with go-playground/validator tags.
package validate

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

var (
	instance *validator.Validate
	once     sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
	})
	return instance
}

// FieldError a failed validation rule.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (e FieldError) String() string {
	if e.Param == "" {
		return e.Field + ":" + e.Tag
	}
	return e.Field + ":" + e.Tag + "=" + e.Param
}

// Fields returns the failed rules of v, nil when v is valid.
func Fields(v interface{}) []FieldError {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{Field: "", Tag: err.Error()}}
	}
	var result []FieldError
	for _, fe := range validationErrors {
		result = append(result, FieldError{Field: fe.StructNamespace(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return result
}

// Struct validates v, the error wraps types.ErrIllegalArgument and names every failed rule.
func Struct(v interface{}) error {
	fields := Fields(v)
	if len(fields) == 0 {
		return nil
	}
	var parts []string
	for _, f := range fields {
		parts = append(parts, f.String())
	}
	return errors.Wrap(types.ErrIllegalArgument, "invalid configuration: "+strings.Join(parts, ", "))
}
