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

package storage

import (
	"context"
	"errors"
	"time"
)

// ErrOpFailed is returned by EngineProber.Probe when the underlying
// operation reports Failed (spec §7 "CACHE_ERR").
var ErrOpFailed = errors.New("ncac/storage: operation reported failure")

// EngineProber adapts an Engine's Test method to the small Probe(ctx,
// handle) (bool, error) shape that internal/ncac/state's Prober interface
// expects, without that package depending on this one (Go interfaces are
// satisfied structurally).
type EngineProber struct {
	Engine  Engine
	Timeout time.Duration
}

// Probe reports whether ioHandle has finished.
func (p EngineProber) Probe(ctx context.Context, ioHandle uint64) (bool, error) {
	status, err := p.Engine.Test(ctx, OpID(ioHandle), p.Timeout)
	if err != nil {
		return false, err
	}
	switch status {
	case Complete:
		return true, nil
	case Pending:
		return false, nil
	default:
		return false, ErrOpFailed
	}
}
