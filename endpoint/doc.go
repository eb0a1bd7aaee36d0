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

// Package endpoint builds inbound and outbound endpoints on top of the connectors of
// the transport layer.
//
// Package endpoint 基于传输层连接器构建入站和出站端点。
//
// An inbound endpoint receives messages through the receiver its connector creates
// and runs them through the inbound pipeline before handing them to its listener,
// usually a flow:
//
//	origin properties -> security filter -> redelivery policy -> filter
//	  -> transformers -> listener -> response transformers (request-response only)
//
// An outbound endpoint is a processor. It applies its filter and transformers on a
// copy of the event and dispatches the copy inside a transactional execution template,
// so a transactional outbound endpoint joins or begins the transaction bound to the
// context of the event:
//
//	origin property -> filter -> transformers -> dispatch / send -> response transformers
//
// Endpoints are created with a Builder:
//
//	in, err := endpoint.NewBuilder("vm://orders", connector).
//		ExchangePattern(types.RequestResponse).
//		Transformers(toObject).
//		BuildInbound()
package endpoint
