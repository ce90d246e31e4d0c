// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package network declares the cache's external network-engine boundary
// (spec §6 "Network engine interface", the spec's "BMI") and ships an
// in-memory fake for tests and the benchmark harness.
package network

import "context"

// OpID is an opaque network-engine operation handle.
type OpID uint64

// Callback is invoked on completion of a posted send or receive (spec §6
// "Callback carries (user_ptr, actual_size, error_code)").
type Callback func(userPtr interface{}, actualSize int, err error)

// Engine is the network-engine surface the flow pipeline consumes.
type Engine interface {
	// PostSendList posts a scatter/gather send of buffers to peer (spec
	// §6 "post a send-list"). tag and userPtr are opaque to the engine
	// and handed back verbatim to cb.
	PostSendList(ctx context.Context, peer string, buffers [][]byte, tag uint64, userPtr interface{}, cb Callback) (OpID, error)

	// PostRecvList posts a scatter/gather receive into buffers (spec §6
	// "post a recv-list").
	PostRecvList(ctx context.Context, peer string, buffers [][]byte, tag uint64, userPtr interface{}, cb Callback) (OpID, error)
}
