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

// Package filter provides the filters of mulego. A filter accepts or rejects an
// event: an accepted event continues unchanged, a rejected one stops the chain,
// or fails with FilterUnacceptedError when throwOnUnaccepted is set.
//
// Every filter also implements types.Filter so it can be used as the filter
// of an endpoint or nested in and/or/not filters.
//
//	{
//	  "id": "f1",
//	  "type": "expressionFilter",
//	  "configuration": {
//	    "expression": "msg.temperature > 50",
//	    "throwOnUnaccepted": false
//	  }
//	}
package filter
